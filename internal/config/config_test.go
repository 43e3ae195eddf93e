package config

import (
	"strings"
	"testing"
)

func validBlob() string {
	return `{
		"name": "home",
		"sni_host": "cdn.example.com",
		"path": "/ws",
		"server_port": 443,
		"socks_port": 1080,
		"http_port": 1081,
		"pre_shared_key": "` + strings.Repeat("ab", 32) + `"
	}`
}

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validBlob()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ServerAddr() != "cdn.example.com:443" {
		t.Fatalf("ServerAddr=%q", cfg.ServerAddr())
	}
	if len(cfg.PreSharedKey) != 32 {
		t.Fatalf("psk len=%d", len(cfg.PreSharedKey))
	}
}

func TestParseDefaultsServerPort(t *testing.T) {
	blob := `{"name":"x","sni_host":"h","path":"/p","socks_port":1,"http_port":2,"pre_shared_key":"` + strings.Repeat("11", 16) + `"}`
	cfg, err := Parse([]byte(blob))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ServerPort != 443 {
		t.Fatalf("ServerPort=%d want 443", cfg.ServerPort)
	}
}

func TestParseRejectsMissingFields(t *testing.T) {
	cases := []string{
		`{}`,
		`{"name":"x"}`,
		`{"name":"x","sni_host":"h"}`,
		`{"name":"x","sni_host":"h","path":"no-slash","socks_port":1,"http_port":2,"pre_shared_key":"` + strings.Repeat("11", 16) + `"}`,
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c)); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}

func TestParseRejectsShortPSK(t *testing.T) {
	blob := `{"name":"x","sni_host":"h","path":"/p","socks_port":1,"http_port":2,"pre_shared_key":"aabb"}`
	if _, err := Parse([]byte(blob)); err == nil {
		t.Fatalf("expected error for short PSK")
	}
}

func TestParseRejectsBadHex(t *testing.T) {
	blob := `{"name":"x","sni_host":"h","path":"/p","socks_port":1,"http_port":2,"pre_shared_key":"zz"}`
	if _, err := Parse([]byte(blob)); err == nil {
		t.Fatalf("expected error for non-hex PSK")
	}
}

func TestLoadMissingEnv(t *testing.T) {
	t.Setenv(EnvVar, "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected ConfigMissing error")
	}
}
