// Package config loads and validates the proxy's process configuration.
// Ingestion of the raw JSON blob from the environment is the "external"
// collaborator the design calls out (spec §1); this package's job is to
// turn that blob into a validated, immutable Config record (spec §3).
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"secure-proxy-ws/internal/errs"
)

// EnvVar is the name of the environment variable carrying the JSON config
// blob (spec §6).
const EnvVar = "SECURE_PROXY_CONFIG"

// Config is the immutable, validated configuration record the rest of the
// proxy consumes. It is created once at startup and never mutated.
type Config struct {
	Name         string `json:"name"`
	SNIHost      string `json:"sni_host"`
	Path         string `json:"path"`
	ServerPort   uint16 `json:"server_port"`
	SocksPort    uint16 `json:"socks_port"`
	HTTPPort     uint16 `json:"http_port"`
	PreSharedKey []byte `json:"-"`

	// PreSharedKeyHex carries the raw JSON field; PreSharedKey is the
	// decoded form every other package actually uses.
	PreSharedKeyHex string `json:"pre_shared_key"`
}

// raw mirrors Config's JSON shape before PreSharedKey is decoded. Kept
// separate so encoding/json never attempts to marshal the decoded key bytes
// back out under the wrong field name.
type raw struct {
	Name         string `json:"name"`
	SNIHost      string `json:"sni_host"`
	Path         string `json:"path"`
	ServerPort   uint16 `json:"server_port"`
	SocksPort    uint16 `json:"socks_port"`
	HTTPPort     uint16 `json:"http_port"`
	PreSharedKey string `json:"pre_shared_key"`
}

// Load reads and validates the configuration from the SECURE_PROXY_CONFIG
// environment variable. A missing variable or missing/invalid field is
// fatal at startup (spec §6), reported as a *errs.Error of kind
// ConfigMissing or ConfigInvalid so main can choose the right exit code.
func Load() (*Config, error) {
	blob, ok := os.LookupEnv(EnvVar)
	if !ok || blob == "" {
		return nil, errs.New(errs.KindConfigMissing, EnvVar+" is not set", nil)
	}
	return Parse([]byte(blob))
}

// Parse validates a raw JSON blob into a Config. Exported separately from
// Load so tests and the profile-management CLI (internal/profile) can
// construct a Config without touching the process environment.
func Parse(blob []byte) (*Config, error) {
	var r raw
	if err := json.Unmarshal(blob, &r); err != nil {
		return nil, errs.New(errs.KindConfigInvalid, "malformed JSON", err)
	}

	missing := func(field string) error {
		return errs.New(errs.KindConfigInvalid, "missing field: "+field, nil)
	}
	switch {
	case r.Name == "":
		return nil, missing("name")
	case r.SNIHost == "":
		return nil, missing("sni_host")
	case r.Path == "":
		return nil, missing("path")
	case r.PreSharedKey == "":
		return nil, missing("pre_shared_key")
	}
	if r.Path[0] != '/' {
		return nil, errs.New(errs.KindConfigInvalid, "path must begin with '/'", nil)
	}
	if r.ServerPort == 0 {
		r.ServerPort = 443
	}
	if r.SocksPort == 0 {
		return nil, missing("socks_port")
	}
	if r.HTTPPort == 0 {
		return nil, missing("http_port")
	}

	psk, err := hex.DecodeString(r.PreSharedKey)
	if err != nil {
		return nil, errs.New(errs.KindConfigInvalid, "pre_shared_key is not valid hex", err)
	}
	if len(psk) < 16 {
		return nil, errs.New(errs.KindConfigInvalid, fmt.Sprintf("pre_shared_key decodes to %d bytes, want >= 16", len(psk)), nil)
	}

	return &Config{
		Name:            r.Name,
		SNIHost:         r.SNIHost,
		Path:            r.Path,
		ServerPort:      r.ServerPort,
		SocksPort:       r.SocksPort,
		HTTPPort:        r.HTTPPort,
		PreSharedKey:    psk,
		PreSharedKeyHex: r.PreSharedKey,
	}, nil
}

// ServerAddr returns the "host:port" of the remote tunnel server.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.SNIHost, c.ServerPort)
}

// SocksAddr returns the loopback address the SOCKS5 listener binds.
func (c *Config) SocksAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.SocksPort)
}

// HTTPAddr returns the loopback address the HTTP CONNECT listener binds.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.HTTPPort)
}
