// Package diag provides the pluggable packet/bytes trace sink. Tracing is
// purely observational: implementations must never influence control flow.
package diag

import (
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/v-suhame/tedious/internal/protocol"
)

// Direction tags a trace record as outbound or inbound.
type Direction string

const (
	DirSend Direction = "send"
	DirRecv Direction = "recv"
)

// Tracer receives one record per packet crossing the connection and raw
// byte counts per transport read/write.
type Tracer interface {
	Packet(dir Direction, pkt *protocol.Packet)
	Bytes(dir Direction, n int)
}

// ──────────────────────────────────────────────────────────────────────────────
// zerolog-backed tracer
// ──────────────────────────────────────────────────────────────────────────────

type logTracer struct {
	log zerolog.Logger
}

// NewTracer creates a structured tracer writing to w. Every record carries a
// per-connection correlation id so interleaved connections can be told apart.
func NewTracer(w io.Writer) Tracer {
	logger := zerolog.New(w).With().
		Timestamp().
		Str("conn", uuid.NewString()).
		Logger()
	return &logTracer{log: logger}
}

func (t *logTracer) Packet(dir Direction, pkt *protocol.Packet) {
	t.log.Debug().
		Str("dir", string(dir)).
		Str("type", protocol.TypeName(pkt.Type)).
		Uint8("seq", pkt.PacketID).
		Int("len", pkt.Length()).
		Bool("last", pkt.Last()).
		Bool("reset", pkt.Reset()).
		Msg("packet")
}

func (t *logTracer) Bytes(dir Direction, n int) {
	t.log.Trace().
		Str("dir", string(dir)).
		Int("n", n).
		Msg("bytes")
}

// ──────────────────────────────────────────────────────────────────────────────
// no-op tracer
// ──────────────────────────────────────────────────────────────────────────────

type nopTracer struct{}

// Nop returns a tracer that discards every record.
func Nop() Tracer { return nopTracer{} }

func (nopTracer) Packet(Direction, *protocol.Packet) {}
func (nopTracer) Bytes(Direction, int)               {}
