// Package config loads and validates the client connection configuration.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/v-suhame/tedious/internal/protocol"
)

// Config is the full connection configuration, loadable from TOML and
// overridable by CLI flags.
type Config struct {
	Server    Server    `toml:"server"`
	Transport Transport `toml:"transport"`
	TLS       TLS       `toml:"tls"`
}

// Server describes the endpoint and the protocol-level settings.
type Server struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Instance   string `toml:"instance"`
	PacketSize int    `toml:"packet_size"`
}

// Transport selects the raw duplex stream implementation.
type Transport struct {
	Kind           string `toml:"kind"`             // "tcp" or "ws"
	URL            string `toml:"url"`              // ws only: websocket endpoint
	DialTimeoutSec int    `toml:"dial_timeout_sec"` // 0 means 15s
}

// TLS holds the secure-channel bootstrap settings.
type TLS struct {
	Encrypt                bool   `toml:"encrypt"`
	TrustServerCertificate bool   `toml:"trust_server_certificate"`
	HostNameInCertificate  string `toml:"host_name_in_certificate"`
	CAFile                 string `toml:"ca_file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: Server{
			Host:       "127.0.0.1",
			Port:       1433,
			PacketSize: protocol.DefaultPacketSize,
		},
		Transport: Transport{
			Kind:           "tcp",
			DialTimeoutSec: 15,
		},
	}
}

// Load reads a TOML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would produce malformed packets or
// an unusable transport. Misconfiguration fails fast, before any I/O.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Server.PacketSize <= protocol.HeaderSize || c.Server.PacketSize > protocol.MaxPacketSize {
		return fmt.Errorf("config: invalid packet size %d (need %d < n <= %d)",
			c.Server.PacketSize, protocol.HeaderSize, protocol.MaxPacketSize)
	}
	switch c.Transport.Kind {
	case "tcp":
	case "ws":
		if c.Transport.URL == "" {
			return fmt.Errorf("config: transport kind %q requires url", c.Transport.Kind)
		}
	default:
		return fmt.Errorf("config: unknown transport kind %q", c.Transport.Kind)
	}
	return nil
}

// Addr returns the host:port dial address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// DialTimeout returns the transport dial timeout.
func (c *Config) DialTimeout() time.Duration {
	if c.Transport.DialTimeoutSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Transport.DialTimeoutSec) * time.Second
}

// ExpectedIdentity returns the identity the peer certificate must present:
// the explicit override if set, otherwise the server host.
func (c *Config) ExpectedIdentity() string {
	if c.TLS.HostNameInCertificate != "" {
		return c.TLS.HostNameInCertificate
	}
	return c.Server.Host
}
