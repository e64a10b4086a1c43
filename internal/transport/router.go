// Package transport owns the raw duplex byte stream (TCP or WebSocket) and
// the outbound packet router that selects between framed-plaintext and
// secure-tunnel delivery.
package transport

import (
	"io"
	"sync"

	"github.com/v-suhame/tedious/internal/diag"
	"github.com/v-suhame/tedious/internal/protocol"
	"github.com/v-suhame/tedious/internal/util"
)

// route identifies the active output path.
type route int

const (
	routeFramed route = iota // write packet bytes to the raw transport
	routeTunnel              // write packet bytes to the secure tunnel's cleartext stream
)

// Router is the packet sink. It traces every packet outbound, encodes it,
// and writes the bytes to exactly one destination. Switching the destination
// is the only permitted mutation and happens exactly once, on the secure
// bootstrap's NEGOTIATING→SECURE transition.
type Router struct {
	raw    io.Writer
	tracer diag.Tracer

	mu     sync.RWMutex
	mode   route
	tunnel io.Writer
}

// NewRouter creates a router delivering to the raw transport.
func NewRouter(raw io.Writer, tracer diag.Tracer) *Router {
	return &Router{raw: raw, tracer: tracer}
}

// Send traces and writes one packet's full binary encoding to the active
// destination. Writes are fire-and-forget: failures surface from the
// underlying stream and are not retried here.
func (r *Router) Send(pkt *protocol.Packet) error {
	r.tracer.Packet(diag.DirSend, pkt)
	data := protocol.Encode(pkt)

	r.mu.RLock()
	w := r.raw
	if r.mode == routeTunnel {
		w = r.tunnel
	}
	r.mu.RUnlock()

	n, err := w.Write(data)
	r.tracer.Bytes(diag.DirSend, n)
	util.Stats.AddSent(n)
	return err
}

// UseTunnel atomically reroutes all subsequent sends through the secure
// tunnel's cleartext-facing stream. There is no transition back.
func (r *Router) UseTunnel(w io.Writer) {
	r.mu.Lock()
	r.tunnel = w
	r.mode = routeTunnel
	r.mu.Unlock()
}

// Secure reports whether sends are routed through the secure tunnel.
func (r *Router) Secure() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode == routeTunnel
}
