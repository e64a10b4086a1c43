// Tdsping — CLI entry point.
//
// Probes a TDS endpoint: dials the raw transport (TCP or WebSocket),
// exchanges a PRELOGIN message, and — if encryption is negotiated —
// bootstraps the TLS channel inside the packet protocol, reporting the
// negotiated cipher and server version.
//
// It is driven by CLI flags, optionally layered over a TOML config file
// (-config).
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/v-suhame/tedious/internal/config"
	"github.com/v-suhame/tedious/internal/diag"
	"github.com/v-suhame/tedious/internal/messageio"
	"github.com/v-suhame/tedious/internal/prelogin"
	"github.com/v-suhame/tedious/internal/protocol"
	"github.com/v-suhame/tedious/internal/securechannel"
	"github.com/v-suhame/tedious/internal/transport"
	"github.com/v-suhame/tedious/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "", "Path to TOML config file")
	host := flag.String("host", "", "Server host (overrides config)")
	port := flag.Int("port", 0, "Server port, 1~65535 (overrides config)")
	packetSize := flag.Int("packetSize", 0, "Negotiated packet size (overrides config)")
	encrypt := flag.Bool("encrypt", false, "Request an encrypted session")
	trust := flag.Bool("trust", false, "Trust the server certificate unconditionally")
	hostname := flag.String("hostname", "", "Expected identity in the server certificate")
	caFile := flag.String("ca", "", "PEM file with trust anchors for server verification")
	wsURL := flag.String("wsUrl", "", "Tunnel the connection through a WebSocket endpoint")
	trace := flag.Bool("trace", false, "Emit structured packet traces to stderr")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Tdsping — v%s", version))
	pterm.Println()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	// Flag overrides.
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *packetSize != 0 {
		cfg.Server.PacketSize = *packetSize
	}
	if *encrypt {
		cfg.TLS.Encrypt = true
	}
	if *trust {
		cfg.TLS.TrustServerCertificate = true
	}
	if *hostname != "" {
		cfg.TLS.HostNameInCertificate = *hostname
	}
	if *caFile != "" {
		cfg.TLS.CAFile = *caFile
	}
	if *wsURL != "" {
		cfg.Transport.Kind = "ws"
		cfg.Transport.URL = *wsURL
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, *trace); err != nil {
		util.LogError("probe failed: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads the TOML file when given, defaults otherwise.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// ---------------------------------------------------------------------------
// Probe
// ---------------------------------------------------------------------------

// run executes the full probe: dial, PRELOGIN round trip, optional secure
// bootstrap, report.
func run(ctx context.Context, cfg *config.Config, trace bool) error {
	conn, err := dial(ctx, cfg)
	if err != nil {
		return err
	}

	tracer := diag.Nop()
	if trace {
		tracer = diag.NewTracer(os.Stderr)
	}

	mio, err := messageio.New(conn, cfg.Server.PacketSize, tracer)
	if err != nil {
		conn.Close()
		return err
	}
	defer mio.Close()

	util.StartStatsReporter(ctx)
	util.LogInfo("connected to %s", conn.RemoteAddr())

	// Collect inbound messages. Callbacks run on the connection's single
	// inbound goroutine, so the buffer needs no locking.
	msgCh := make(chan []byte, 1)
	var buf bytes.Buffer
	mio.OnData(func(p []byte) { buf.Write(p) })
	mio.OnMessage(func() {
		msg := make([]byte, buf.Len())
		copy(msg, buf.Bytes())
		buf.Reset()
		select {
		case msgCh <- msg:
		default:
		}
	})

	// PRELOGIN round trip.
	req := prelogin.Encode(&prelogin.Options{
		Version:    prelogin.Version{Major: 0, Minor: 1},
		Encryption: requestedEncryption(cfg),
		Instance:   cfg.Server.Instance,
	})
	if err := mio.SendMessage(protocol.TypePreLogin, req, false); err != nil {
		return fmt.Errorf("failed to send PRELOGIN: %w", err)
	}

	var resp []byte
	select {
	case resp = <-msgCh:
	case <-mio.Done():
		return fmt.Errorf("connection closed before PRELOGIN response: %w", mio.CloseReason())
	case <-ctx.Done():
		return ctx.Err()
	}

	opts, err := prelogin.Decode(resp)
	if err != nil {
		return fmt.Errorf("bad PRELOGIN response: %w", err)
	}
	util.LogInfo("server version %s, encryption %s", opts.Version, prelogin.EncryptionName(opts.Encryption))

	// Secure bootstrap, if negotiated.
	if shouldEncrypt(cfg, opts.Encryption) {
		creds, err := loadCredentials(cfg)
		if err != nil {
			return err
		}
		mio.OnSecure(func(cs tls.ConnectionState) {
			util.LogSuccess("secure channel established — %s", tls.CipherSuiteName(cs.CipherSuite))
		})
		if err := mio.StartTLS(creds, cfg.ExpectedIdentity(), cfg.TLS.TrustServerCertificate, false); err != nil {
			return err
		}
	}

	util.LogSuccess("endpoint %s is reachable", cfg.Addr())
	return nil
}

// dial establishes the raw transport chosen by the config.
func dial(ctx context.Context, cfg *config.Config) (net.Conn, error) {
	if cfg.Transport.Kind == "ws" {
		return transport.DialWS(ctx, cfg.Transport.URL)
	}
	return transport.Dial(cfg.Addr(), cfg.DialTimeout())
}

// requestedEncryption maps the config to the PRELOGIN encryption value the
// client advertises.
func requestedEncryption(cfg *config.Config) uint8 {
	if cfg.TLS.Encrypt {
		return prelogin.EncryptOn
	}
	return prelogin.EncryptNotSupported
}

// shouldEncrypt decides whether the secure bootstrap runs, from the client's
// wish and the server's answer.
func shouldEncrypt(cfg *config.Config, serverValue uint8) bool {
	if serverValue == prelogin.EncryptRequired {
		return true
	}
	return cfg.TLS.Encrypt && serverValue != prelogin.EncryptNotSupported
}

// loadCredentials builds the bootstrap trust material from the config.
func loadCredentials(cfg *config.Config) (securechannel.Credentials, error) {
	creds := securechannel.Credentials{}
	if cfg.TLS.TrustServerCertificate {
		return creds, nil
	}
	if cfg.TLS.CAFile != "" {
		pem, err := os.ReadFile(cfg.TLS.CAFile)
		if err != nil {
			return creds, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return creds, fmt.Errorf("no usable certificates in %s", cfg.TLS.CAFile)
		}
		creds.RootCAs = pool
		return creds, nil
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		return creds, fmt.Errorf("failed to load system trust anchors: %w", err)
	}
	creds.RootCAs = pool
	return creds, nil
}
