// Package message implements the message layer above raw packets: the
// outbound framer that chunks a message into packets, and the inbound
// demultiplexer that reassembles the raw byte stream into packet and
// message-boundary events.
package message

import (
	"errors"
	"fmt"
	"sync"

	"github.com/v-suhame/tedious/internal/protocol"
)

// ErrNoCapacity is returned when the configured packet size leaves no room
// for payload bytes. This is a configuration error, not a runtime condition.
var ErrNoCapacity = errors.New("message: packet size leaves no payload capacity")

// Sink receives framed packets in generation order. The framer hands each
// packet over synchronously before producing the next one.
type Sink interface {
	Send(pkt *protocol.Packet) error
}

// Framer splits an outbound message into packets sized to the negotiated
// packet size. The size may be renegotiated between Frame calls; a Frame
// call in progress keeps the capacity it captured at its start.
type Framer struct {
	mu         sync.Mutex
	packetSize int
	sink       Sink
}

// NewFramer creates a framer delivering to sink. packetSize is the total
// packet size including the header.
func NewFramer(sink Sink, packetSize int) (*Framer, error) {
	f := &Framer{sink: sink, packetSize: protocol.DefaultPacketSize}
	if err := f.SetPacketSize(packetSize); err != nil {
		return nil, err
	}
	return f, nil
}

// SetPacketSize updates the negotiated packet size. Only messages framed
// after the call are affected.
func (f *Framer) SetPacketSize(n int) error {
	if n <= protocol.HeaderSize || n > protocol.MaxPacketSize {
		return fmt.Errorf("message: invalid packet size %d (need %d < n <= %d)",
			n, protocol.HeaderSize, protocol.MaxPacketSize)
	}
	f.mu.Lock()
	f.packetSize = n
	f.mu.Unlock()
	return nil
}

// PacketSize returns the current negotiated packet size.
func (f *Framer) PacketSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.packetSize
}

// Frame splits data into packets of the given type and pushes each one to
// the sink, in order, before returning. An empty message still produces one
// packet so the last-fragment marker reaches the peer. All packets of the
// burst carry the same reset flag.
func (f *Framer) Frame(typ uint8, data []byte, reset bool) error {
	capacity := f.PacketSize() - protocol.HeaderSize
	if capacity < 1 {
		return ErrNoCapacity
	}

	if len(data) == 0 {
		return f.sink.Send(protocol.New(typ, nil, 1, true, reset))
	}

	count := (len(data) + capacity - 1) / capacity
	for i := 0; i < count; i++ {
		lo := i * capacity
		hi := min(lo+capacity, len(data))
		last := i == count-1
		pkt := protocol.New(typ, data[lo:hi], uint8(i+1), last, reset)
		if err := f.sink.Send(pkt); err != nil {
			return err
		}
	}
	return nil
}
