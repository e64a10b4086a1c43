package securechannel

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/v-suhame/tedious/internal/message"
	"github.com/v-suhame/tedious/internal/protocol"
)

// feedBacklog bounds the number of undelivered inbound chunks. The producer
// (the connection read loop) blocks when it is full.
const feedBacklog = 16

// handshakeConn is the inner net.Conn handed to the TLS engine.
//
// While the channel is negotiating, Write wraps outgoing handshake bytes as
// PRELOGIN packets through the framer, and Read consumes demultiplexed
// PRELOGIN payloads fed by the connection read loop. After the switch to
// SECURE, Write passes ciphertext straight to the raw transport (the tunnel
// carries its own record framing) and the feed carries raw inbound bytes.
type handshakeConn struct {
	raw    net.Conn
	framer *message.Framer
	reset  bool // reset-connection flag applied to framed handshake packets

	feed    chan []byte
	pending []byte

	passthrough atomic.Bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newHandshakeConn(raw net.Conn, framer *message.Framer, reset bool) *handshakeConn {
	return &handshakeConn{
		raw:    raw,
		framer: framer,
		reset:  reset,
		feed:   make(chan []byte, feedBacklog),
		closed: make(chan struct{}),
	}
}

// feedBytes hands one inbound chunk to the engine. Chunks are consumed in
// feed order; the caller must be the connection's single reader.
func (c *handshakeConn) feedBytes(p []byte) {
	select {
	case c.feed <- p:
	case <-c.closed:
	}
}

// enterPassthrough reroutes writes directly to the raw transport. Called
// exactly once, inside the negotiation-complete path.
func (c *handshakeConn) enterPassthrough() {
	c.passthrough.Store(true)
}

func (c *handshakeConn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		// Drain chunks already fed before surfacing the close: teardown
		// must not swallow bytes the read loop has delivered.
		select {
		case chunk := <-c.feed:
			c.pending = chunk
		default:
			select {
			case chunk := <-c.feed:
				c.pending = chunk
			case <-c.closed:
				return 0, net.ErrClosed
			}
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *handshakeConn) Write(p []byte) (int, error) {
	if c.passthrough.Load() {
		return c.raw.Write(p)
	}
	if err := c.framer.Frame(protocol.TypePreLogin, p, c.reset); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close unblocks pending reads. The raw transport is owned by the caller
// and closed separately.
func (c *handshakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *handshakeConn) LocalAddr() net.Addr  { return c.raw.LocalAddr() }
func (c *handshakeConn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Deadlines are not supported: negotiation has no timeout.
func (c *handshakeConn) SetDeadline(time.Time) error      { return nil }
func (c *handshakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *handshakeConn) SetWriteDeadline(time.Time) error { return nil }
