// Package profile implements the profile store (C8): a YAML file holding
// named copies of the six Configuration fields (spec §3) so an operator can
// keep several remote endpoints around without retyping a PSK each time.
// The running proxy engine never reads this store directly — it only ever
// consumes the single active configuration through SECURE_PROXY_CONFIG
// (spec §6); this package's job is to produce that JSON blob and hand it to
// the engine binary.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"secure-proxy-ws/internal/config"
)

// Profile is a named, persisted copy of config.Config's six fields.
type Profile struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	SNIHost      string `yaml:"sni_host"`
	Path         string `yaml:"path"`
	ServerPort   uint16 `yaml:"server_port"`
	SocksPort    uint16 `yaml:"socks_port"`
	HTTPPort     uint16 `yaml:"http_port"`
	PreSharedKey string `yaml:"pre_shared_key"` // hex-encoded, same format config.Config decodes
}

// Store is the on-disk collection of profiles plus which one is active.
type Store struct {
	Profiles []*Profile `yaml:"profiles"`
	ActiveID string     `yaml:"active_id"`

	dir string
}

// DefaultDir returns ~/.config/secure-proxy-ws, the profile store's home
// directory, mirroring the teacher CLI's --config default.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "secure-proxy-ws")
}

func storePath(dir string) string { return filepath.Join(dir, "profiles.yaml") }

// Load reads the profile store from dir, creating an empty one if the file
// doesn't exist yet.
func Load(dir string) (*Store, error) {
	s := &Store{dir: dir}
	b, err := os.ReadFile(storePath(dir))
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("parsing profile store: %w", err)
	}
	s.dir = dir
	return s, nil
}

// Save writes the store back to disk, creating its directory if needed.
func (s *Store) Save() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(storePath(s.dir), b, 0o600)
}

// Find looks up a profile by name or 1-based index (as printed by List).
func (s *Store) Find(nameOrIndex string) *Profile {
	for i, p := range s.Profiles {
		if p.Name == nameOrIndex || fmt.Sprintf("%d", i+1) == nameOrIndex {
			return p
		}
	}
	return nil
}

// Add appends a new profile, validating it the same way config.Parse would
// validate the resulting engine configuration, and returns it.
func (s *Store) Add(p Profile) (*Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	blob, err := p.toConfigJSON()
	if err != nil {
		return nil, err
	}
	if _, err := config.Parse(blob); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	s.Profiles = append(s.Profiles, &p)
	return &p, nil
}

// Remove deletes the named/indexed profile, clearing ActiveID if it pointed
// at the removed profile.
func (s *Store) Remove(nameOrIndex string) error {
	for i, p := range s.Profiles {
		if p.Name == nameOrIndex || fmt.Sprintf("%d", i+1) == nameOrIndex {
			s.Profiles = append(s.Profiles[:i], s.Profiles[i+1:]...)
			if s.ActiveID == p.ID {
				s.ActiveID = ""
			}
			return nil
		}
	}
	return fmt.Errorf("profile not found: %s", nameOrIndex)
}

// ConfigJSON renders p as the SECURE_PROXY_CONFIG JSON blob the engine
// binary expects.
func (p *Profile) ConfigJSON() ([]byte, error) { return p.toConfigJSON() }

func (p *Profile) toConfigJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name         string `json:"name"`
		SNIHost      string `json:"sni_host"`
		Path         string `json:"path"`
		ServerPort   uint16 `json:"server_port"`
		SocksPort    uint16 `json:"socks_port"`
		HTTPPort     uint16 `json:"http_port"`
		PreSharedKey string `json:"pre_shared_key"`
	}{
		Name:         p.Name,
		SNIHost:      p.SNIHost,
		Path:         p.Path,
		ServerPort:   p.ServerPort,
		SocksPort:    p.SocksPort,
		HTTPPort:     p.HTTPPort,
		PreSharedKey: p.PreSharedKey,
	})
}
