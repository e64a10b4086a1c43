package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/v-suhame/tedious/internal/config"
	"github.com/v-suhame/tedious/internal/protocol"
)

// TestLoad reads a TOML file over the defaults.
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	content := `
[server]
host = "db.internal"
port = 14330
instance = "SQLEXPRESS"
packet_size = 8192

[transport]
kind = "ws"
url = "ws://gateway:8080/sql"
dial_timeout_sec = 30

[tls]
encrypt = true
host_name_in_certificate = "db.example.com"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Host != "db.internal" || cfg.Server.Port != 14330 {
		t.Errorf("server endpoint: got %s", cfg.Addr())
	}
	if cfg.Server.PacketSize != 8192 {
		t.Errorf("packet size: got %d, want 8192", cfg.Server.PacketSize)
	}
	if cfg.Transport.Kind != "ws" || cfg.Transport.URL != "ws://gateway:8080/sql" {
		t.Errorf("transport: got %q %q", cfg.Transport.Kind, cfg.Transport.URL)
	}
	if cfg.DialTimeout() != 30*time.Second {
		t.Errorf("dial timeout: got %v", cfg.DialTimeout())
	}
	if !cfg.TLS.Encrypt {
		t.Error("encrypt flag not loaded")
	}
	if cfg.ExpectedIdentity() != "db.example.com" {
		t.Errorf("expected identity: got %q", cfg.ExpectedIdentity())
	}
}

// TestLoadPartialKeepsDefaults verifies unset keys keep their defaults.
func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	if err := os.WriteFile(path, []byte("[server]\nhost = \"10.0.0.5\"\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 1433 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Server.PacketSize != protocol.DefaultPacketSize {
		t.Errorf("default packet size: got %d", cfg.Server.PacketSize)
	}
	if cfg.Transport.Kind != "tcp" {
		t.Errorf("default transport: got %q", cfg.Transport.Kind)
	}
	if cfg.ExpectedIdentity() != "10.0.0.5" {
		t.Errorf("expected identity falls back to host: got %q", cfg.ExpectedIdentity())
	}
}

// TestLoadMissingFile surfaces the underlying error.
func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for a missing file, got nil")
	}
}

// TestValidate covers the fail-fast rejections.
func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*config.Config)
		ok     bool
	}{
		{"defaults", func(c *config.Config) {}, true},
		{"port zero", func(c *config.Config) { c.Server.Port = 0 }, false},
		{"port too large", func(c *config.Config) { c.Server.Port = 70000 }, false},
		{"packet size at header", func(c *config.Config) { c.Server.PacketSize = protocol.HeaderSize }, false},
		{"packet size over max", func(c *config.Config) { c.Server.PacketSize = protocol.MaxPacketSize + 1 }, false},
		{"packet size at max", func(c *config.Config) { c.Server.PacketSize = protocol.MaxPacketSize }, true},
		{"ws without url", func(c *config.Config) { c.Transport.Kind = "ws" }, false},
		{"ws with url", func(c *config.Config) {
			c.Transport.Kind = "ws"
			c.Transport.URL = "ws://localhost:8080/sql"
		}, true},
		{"unknown transport", func(c *config.Config) { c.Transport.Kind = "quic" }, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// TestAddr joins host and port, IPv6 included.
func TestAddr(t *testing.T) {
	cfg := config.Default()
	if cfg.Addr() != "127.0.0.1:1433" {
		t.Errorf("addr: got %q", cfg.Addr())
	}
	cfg.Server.Host = "::1"
	if cfg.Addr() != "[::1]:1433" {
		t.Errorf("ipv6 addr: got %q", cfg.Addr())
	}
}
