// Package adapter republishes the demultiplexer's packet and message-boundary
// events as the connection's observable events. It is a thin, order-preserving
// republisher: payloads are handed through exactly once, without buffering.
package adapter

import (
	"github.com/v-suhame/tedious/internal/diag"
	"github.com/v-suhame/tedious/internal/protocol"
	"github.com/v-suhame/tedious/internal/util"
)

// Adapter forwards inbound packet payloads and message boundaries to the
// registered callbacks. Callbacks run on the feeding goroutine, in strict
// arrival order.
type Adapter struct {
	tracer       diag.Tracer
	onData       func([]byte)
	onMessageEnd func()
}

// New creates an adapter with no subscribers; events without a subscriber
// are traced and dropped.
func New(tracer diag.Tracer) *Adapter {
	return &Adapter{tracer: tracer}
}

// OnData registers the per-packet payload callback.
func (a *Adapter) OnData(fn func([]byte)) { a.onData = fn }

// OnMessageEnd registers the message-boundary callback. The boundary event
// carries no payload.
func (a *Adapter) OnMessageEnd(fn func()) { a.onMessageEnd = fn }

// HandlePacket traces one inbound packet and re-emits its payload.
func (a *Adapter) HandlePacket(pkt *protocol.Packet) {
	a.tracer.Packet(diag.DirRecv, pkt)
	if a.onData != nil {
		a.onData(pkt.Payload)
	}
}

// HandleMessageEnd re-emits the message-completion boundary.
func (a *Adapter) HandleMessageEnd() {
	util.Stats.AddMessageRecv()
	if a.onMessageEnd != nil {
		a.onMessageEnd()
	}
}
