// Package messageio ties the framing, routing, demultiplexing and
// secure-channel layers together for one connection. It owns the single
// reader of the raw transport and the connection's public surface:
// SendMessage, StartTLS, SetPacketSize and the observable events.
package messageio

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/v-suhame/tedious/internal/adapter"
	"github.com/v-suhame/tedious/internal/diag"
	"github.com/v-suhame/tedious/internal/message"
	"github.com/v-suhame/tedious/internal/protocol"
	"github.com/v-suhame/tedious/internal/securechannel"
	"github.com/v-suhame/tedious/internal/transport"
	"github.com/v-suhame/tedious/internal/util"
)

// readBufferSize is the raw transport read chunk size.
const readBufferSize = 32 * 1024

// MessageIO is the transport-framing layer of one connection.
//
// Outbound: SendMessage → framer → router → raw transport, or the secure
// tunnel once the bootstrap has rewired the paths. Inbound: a single read
// loop owns the raw transport for the connection's lifetime; packets and
// message boundaries surface through OnData / OnMessage.
type MessageIO struct {
	conn    net.Conn
	router  *transport.Router
	framer  *message.Framer
	demux   *message.Demux
	adapter *adapter.Adapter
	tracer  diag.Tracer

	mu          sync.RWMutex
	session     *securechannel.Session
	onSecure    func(tls.ConnectionState)
	closeReason error

	closeOnce sync.Once
	done      chan struct{}
}

// New creates the connection layer over an established raw transport and
// starts the read loop. packetSize is the initially negotiated packet size.
func New(conn net.Conn, packetSize int, tracer diag.Tracer) (*MessageIO, error) {
	router := transport.NewRouter(conn, tracer)
	framer, err := message.NewFramer(router, packetSize)
	if err != nil {
		return nil, err
	}

	m := &MessageIO{
		conn:    conn,
		router:  router,
		framer:  framer,
		demux:   message.NewDemux(),
		adapter: adapter.New(tracer),
		tracer:  tracer,
		done:    make(chan struct{}),
	}
	m.demux.OnPacket(m.handlePacket)
	m.demux.OnMessageEnd(m.adapter.HandleMessageEnd)

	go m.readLoop()
	return m, nil
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// OnData registers the callback receiving each inbound packet's payload,
// in strict arrival order, exactly once per packet.
func (m *MessageIO) OnData(fn func([]byte)) { m.adapter.OnData(fn) }

// OnMessage registers the callback fired at each inbound message boundary.
func (m *MessageIO) OnMessage(fn func()) { m.adapter.OnMessageEnd(fn) }

// OnSecure registers the callback fired once when the secure channel is
// established, carrying the negotiated connection state.
func (m *MessageIO) OnSecure(fn func(tls.ConnectionState)) {
	m.mu.Lock()
	m.onSecure = fn
	m.mu.Unlock()
}

// Done returns a channel closed when the connection is torn down.
func (m *MessageIO) Done() <-chan struct{} { return m.done }

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// SendMessage frames data as one message of the given type and writes every
// packet before returning. The reset flag is applied to all fragments of
// this invocation. At most one outbound message may be in flight; issuing
// concurrent sends on one connection is a caller error.
func (m *MessageIO) SendMessage(typ uint8, data []byte, reset bool) error {
	if err := m.framer.Frame(typ, data, reset); err != nil {
		return err
	}
	util.Stats.AddMessageSent()
	return nil
}

// SetPacketSize renegotiates the packet size for subsequently framed
// messages. In-flight messages keep the capacity they started with.
func (m *MessageIO) SetPacketSize(n int) error { return m.framer.SetPacketSize(n) }

// PacketSize returns the current negotiated packet size.
func (m *MessageIO) PacketSize() int { return m.framer.PacketSize() }

// ---------------------------------------------------------------------------
// Secure bootstrap
// ---------------------------------------------------------------------------

// StartTLS bootstraps the secure channel. It blocks until the handshake
// completes; the read loop keeps feeding inbound handshake payloads while
// this call is in progress. handshakeReset controls the reset-connection
// flag on framed handshake packets (off by default upstream).
//
// On verification failure the connection is destroyed; the error is also
// recorded as the close reason. There is no retry and no timeout.
func (m *MessageIO) StartTLS(creds securechannel.Credentials, expectedIdentity string, trustAny, handshakeReset bool) error {
	s := securechannel.NewSession(m.conn, m.router, m.framer)
	s.SetHandshakeReset(handshakeReset)
	s.OnSecure(func(engine *tls.Conn, cs tls.ConnectionState) {
		go m.cleartextLoop(engine)
		m.mu.RLock()
		fn := m.onSecure
		m.mu.RUnlock()
		if fn != nil {
			fn(cs)
		}
	})

	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return errors.New("messageio: secure bootstrap already started")
	}
	m.session = s
	m.mu.Unlock()

	return s.Negotiate(creds, expectedIdentity, trustAny)
}

// SecureState reports the secure-channel state of the connection.
func (m *MessageIO) SecureState() securechannel.State {
	if s := m.currentSession(); s != nil {
		return s.State()
	}
	return securechannel.StatePlaintext
}

func (m *MessageIO) currentSession() *securechannel.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// ---------------------------------------------------------------------------
// Inbound loops
// ---------------------------------------------------------------------------

// readLoop is the raw transport's single reader. Until the secure switch it
// feeds the demultiplexer; afterwards it feeds raw bytes straight into the
// engine's encrypted-facing input. Half-duplex discipline guarantees the
// peer sends no post-handshake bytes before the switch is observed here.
func (m *MessageIO) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := m.conn.Read(buf)
		if n > 0 {
			m.tracer.Bytes(diag.DirRecv, n)
			util.Stats.AddRecv(n)
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			if s := m.currentSession(); s != nil && s.State() == securechannel.StateSecure {
				s.FeedRaw(chunk)
			} else if ferr := m.demux.Feed(chunk); ferr != nil {
				m.closeWithReason(fmt.Errorf("messageio: inbound stream corrupt: %w", ferr))
				return
			}
		}
		if err != nil {
			m.closeWithReason(err)
			return
		}
	}
}

// cleartextLoop reads decrypted post-handshake traffic from the engine's
// cleartext-facing stream into the demultiplexer, resuming normal packet
// and message observation. Started once, at the secure switch.
func (m *MessageIO) cleartextLoop(engine *tls.Conn) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := engine.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if ferr := m.demux.Feed(chunk); ferr != nil {
				m.closeWithReason(fmt.Errorf("messageio: decrypted stream corrupt: %w", ferr))
				return
			}
		}
		if err != nil {
			m.closeWithReason(err)
			return
		}
	}
}

// handlePacket routes one demultiplexed packet. Handshake-category packets
// are diverted into the negotiating engine; everything else is republished.
func (m *MessageIO) handlePacket(pkt *protocol.Packet) {
	if s := m.currentSession(); s != nil &&
		s.State() == securechannel.StateNegotiating &&
		pkt.Type == protocol.TypePreLogin {
		m.tracer.Packet(diag.DirRecv, pkt)
		s.Feed(pkt.Payload)
		return
	}
	m.adapter.HandlePacket(pkt)
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

// Close tears down the connection.
func (m *MessageIO) Close() error {
	m.closeWithReason(nil)
	return nil
}

func (m *MessageIO) closeWithReason(reason error) {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closeReason = reason
		s := m.session
		m.mu.Unlock()

		m.conn.Close()
		if s != nil {
			s.Close()
		}
		if reason != nil && !errors.Is(reason, io.EOF) && !errors.Is(reason, net.ErrClosed) {
			util.LogDebug("connection closed: %v", reason)
		}
		close(m.done)
	})
}

// CloseReason returns the fault that destroyed the connection. A secure
// bootstrap failure takes precedence: it is the reason the transport died.
func (m *MessageIO) CloseReason() error {
	if s := m.currentSession(); s != nil {
		if f := s.Failure(); f != nil {
			return f
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closeReason
}
