// Package securechannel drives the three-phase secure-channel bootstrap:
// the TLS handshake is carried as PRELOGIN packet payload inside the very
// packet protocol it supersedes, and on completion the byte paths are
// rewired so all subsequent traffic flows through the encrypted tunnel.
//
// The TLS ceiling is pinned to 1.2: with 1.3 the server may emit
// post-handshake records (session tickets) that would straddle the
// framed-to-raw boundary on the inbound path.
package securechannel

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/v-suhame/tedious/internal/message"
	"github.com/v-suhame/tedious/internal/transport"
	"github.com/v-suhame/tedious/internal/util"
)

// State is the secure-channel session state. There is no transition out of
// StateSecure, and a failed verification leaves the session stuck in
// StateNegotiating with the transport destroyed.
type State int32

const (
	StatePlaintext State = iota
	StateNegotiating
	StateSecure
)

func (s State) String() string {
	switch s {
	case StatePlaintext:
		return "PLAINTEXT"
	case StateNegotiating:
		return "NEGOTIATING"
	case StateSecure:
		return "SECURE"
	}
	return "INVALID"
}

// ErrVerification marks a fatal peer-identity verification failure.
var ErrVerification = errors.New("securechannel: peer identity verification failed")

var errAlreadyStarted = errors.New("securechannel: bootstrap already started")

// Credentials carries the client-side trust material for the bootstrap.
type Credentials struct {
	RootCAs      *x509.CertPool    // trust anchors for peer verification
	Certificates []tls.Certificate // optional client certificates
	MinVersion   uint16            // zero means TLS 1.2
}

// Session owns the cryptographic engine for one connection and performs the
// one-time pipe rewiring when the handshake completes.
type Session struct {
	state atomic.Int32

	raw    net.Conn
	router *transport.Router
	framer *message.Framer

	handshakeReset bool // reset-connection flag on framed handshake packets

	hs       *handshakeConn
	engine   *tls.Conn
	onSecure func(engine *tls.Conn, cs tls.ConnectionState)

	mu      sync.Mutex
	failure error
}

// NewSession creates a session in StatePlaintext. The framer and router must
// be the connection's own: handshake bytes are framed with the connection's
// negotiated packet size and sent through its sink.
func NewSession(raw net.Conn, router *transport.Router, framer *message.Framer) *Session {
	return &Session{raw: raw, router: router, framer: framer}
}

// State returns the current session state.
func (s *Session) State() State { return State(s.state.Load()) }

// SetHandshakeReset controls whether framed handshake packets assert the
// reset-connection flag. Off unless explicitly enabled.
func (s *Session) SetHandshakeReset(v bool) { s.handshakeReset = v }

// OnSecure registers the callback fired once, inside the completion path,
// after the pipes have been rewired.
func (s *Session) OnSecure(fn func(engine *tls.Conn, cs tls.ConnectionState)) { s.onSecure = fn }

// Failure returns the fatal error recorded when the session destroyed the
// connection, or nil.
func (s *Session) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Feed delivers one demultiplexed handshake-category payload to the engine.
// Only valid while negotiating.
func (s *Session) Feed(payload []byte) { s.hs.feedBytes(payload) }

// FeedRaw delivers raw transport bytes to the engine's encrypted-facing
// input. Only valid once secure.
func (s *Session) FeedRaw(chunk []byte) { s.hs.feedBytes(chunk) }

// Cleartext returns the engine's cleartext-facing stream, valid once secure.
func (s *Session) Cleartext() *tls.Conn { return s.engine }

// Negotiate instantiates the cryptographic engine and runs the handshake to
// completion. The caller's goroutine blocks here while the connection read
// loop feeds inbound handshake payloads via Feed.
//
// On success the byte paths are rewired as a single step with no interleaved
// I/O dispatch: engine writes switch to the raw transport, the sink switches
// to the tunnel, and only then does the state become SECURE. On verification
// failure the engine session and the transport are both destroyed and the
// session stays in NEGOTIATING; the connection is unusable.
func (s *Session) Negotiate(creds Credentials, expectedIdentity string, trustAny bool) error {
	// hs must exist before the state flips: the read loop starts feeding
	// handshake payloads as soon as it observes StateNegotiating.
	hs := newHandshakeConn(s.raw, s.framer, s.handshakeReset)
	s.hs = hs
	if !s.state.CompareAndSwap(int32(StatePlaintext), int32(StateNegotiating)) {
		return errAlreadyStarted
	}

	minVersion := creds.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}
	s.engine = tls.Client(hs, &tls.Config{
		Certificates: creds.Certificates,
		ServerName:   expectedIdentity,
		MinVersion:   minVersion,
		MaxVersion:   tls.VersionTLS12,
		// The engine's own chain verification is disabled; the identity
		// check below runs against the caller's trust anchors instead,
		// so the bypass switch stays in this layer.
		InsecureSkipVerify: true,
	})

	if err := s.engine.Handshake(); err != nil {
		err = fmt.Errorf("securechannel: handshake failed: %w", err)
		s.destroy(err)
		return err
	}

	if !trustAny {
		if err := verifyPeer(s.engine.ConnectionState(), creds.RootCAs, expectedIdentity); err != nil {
			err = fmt.Errorf("%w: %s", ErrVerification, err)
			s.destroy(err)
			return err
		}
	}

	// Rewire. No packet framing or parsing happens between these steps.
	hs.enterPassthrough()
	s.router.UseTunnel(s.engine)
	s.state.Store(int32(StateSecure))

	cs := s.engine.ConnectionState()
	util.LogDebug("secure channel established: %s", tls.CipherSuiteName(cs.CipherSuite))
	if s.onSecure != nil {
		s.onSecure(s.engine, cs)
	}
	return nil
}

// destroy tears down the engine session and the underlying transport,
// recording reason so the caller observes it as a connection-level fault.
// The transport closes first so no stray framed bytes escape.
func (s *Session) destroy(reason error) {
	s.mu.Lock()
	s.failure = reason
	s.mu.Unlock()

	util.LogError("secure channel bootstrap failed: %v", reason)
	s.raw.Close()
	if s.engine != nil {
		s.engine.Close()
	}
	s.hs.Close()
}

// Close unblocks the engine's pending reads during connection teardown.
func (s *Session) Close() {
	if s.hs != nil {
		s.hs.Close()
	}
}

// verifyPeer chain-verifies the peer's leaf certificate against the given
// trust anchors with the expected identity as DNS name.
func verifyPeer(cs tls.ConnectionState, roots *x509.CertPool, expectedIdentity string) error {
	if len(cs.PeerCertificates) == 0 {
		return errors.New("no peer certificate presented")
	}
	leaf := cs.PeerCertificates[0]
	opts := x509.VerifyOptions{
		Roots:         roots,
		DNSName:       expectedIdentity,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range cs.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}
	_, err := leaf.Verify(opts)
	return err
}
