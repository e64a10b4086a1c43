package message

import (
	"encoding/binary"
	"fmt"

	"github.com/v-suhame/tedious/internal/protocol"
)

// Demux turns a raw inbound byte stream into discrete packets and groups
// consecutive packets into messages. Chunks may split packets at arbitrary
// byte boundaries; the demux buffers the incomplete tail between feeds.
//
// It is owned by a single goroutine at any time and needs no locking.
type Demux struct {
	buf          []byte
	onPacket     func(*protocol.Packet)
	onMessageEnd func()
}

// NewDemux creates a demux with no subscribers.
func NewDemux() *Demux {
	return &Demux{}
}

// OnPacket registers the per-packet callback, invoked in strict arrival order.
func (d *Demux) OnPacket(fn func(*protocol.Packet)) { d.onPacket = fn }

// OnMessageEnd registers the message-boundary callback, invoked after the
// packet event of every last-fragment packet.
func (d *Demux) OnMessageEnd(fn func()) { d.onMessageEnd = fn }

// Pending returns the number of buffered bytes not yet forming a full packet.
func (d *Demux) Pending() int { return len(d.buf) }

// Feed consumes one chunk of the inbound stream, emitting events for every
// packet that is now complete. A malformed length field poisons the stream
// and is returned as an error; the connection cannot recover from it.
func (d *Demux) Feed(chunk []byte) error {
	d.buf = append(d.buf, chunk...)
	for {
		if len(d.buf) < protocol.HeaderSize {
			return nil
		}
		length := int(binary.BigEndian.Uint16(d.buf[2:4]))
		if length < protocol.HeaderSize {
			return fmt.Errorf("message: invalid packet length %d in stream", length)
		}
		if len(d.buf) < length {
			return nil
		}

		pkt, err := protocol.Decode(d.buf[:length])
		if err != nil {
			return err
		}
		d.buf = d.buf[length:]

		if d.onPacket != nil {
			d.onPacket(pkt)
		}
		if pkt.Last() && d.onMessageEnd != nil {
			d.onMessageEnd()
		}
	}
}
