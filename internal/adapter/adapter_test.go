package adapter_test

import (
	"bytes"
	"testing"

	"github.com/v-suhame/tedious/internal/adapter"
	"github.com/v-suhame/tedious/internal/diag"
	"github.com/v-suhame/tedious/internal/protocol"
)

// captureTracer records trace records for assertions.
type captureTracer struct {
	packets []*protocol.Packet
	dirs    []diag.Direction
}

func (t *captureTracer) Packet(dir diag.Direction, pkt *protocol.Packet) {
	t.dirs = append(t.dirs, dir)
	t.packets = append(t.packets, pkt)
}

func (t *captureTracer) Bytes(diag.Direction, int) {}

// TestAdapterRepublishesInOrder verifies that each packet's payload is
// re-emitted exactly once, in arrival order, and the boundary event follows.
func TestAdapterRepublishesInOrder(t *testing.T) {
	a := adapter.New(diag.Nop())

	var payloads [][]byte
	var order []string
	a.OnData(func(p []byte) {
		payloads = append(payloads, p)
		order = append(order, "data")
	})
	a.OnMessageEnd(func() { order = append(order, "end") })

	fragments := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	for i, frag := range fragments {
		last := i == len(fragments)-1
		a.HandlePacket(protocol.New(protocol.TypeTabularData, frag, uint8(i+1), last, false))
	}
	a.HandleMessageEnd()

	if len(payloads) != 3 {
		t.Fatalf("data events: got %d, want 3", len(payloads))
	}
	for i, frag := range fragments {
		if !bytes.Equal(payloads[i], frag) {
			t.Errorf("payload %d: got %q, want %q", i, payloads[i], frag)
		}
	}

	want := []string{"data", "data", "data", "end"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("event order: got %v, want %v", order, want)
		}
	}
}

// TestAdapterEmitsEmptyPayloads verifies that an empty fragment still
// produces a data event: exactly one event per packet.
func TestAdapterEmitsEmptyPayloads(t *testing.T) {
	a := adapter.New(diag.Nop())

	events := 0
	a.OnData(func(p []byte) {
		events++
		if len(p) != 0 {
			t.Errorf("payload: got %d bytes, want 0", len(p))
		}
	})

	a.HandlePacket(protocol.New(protocol.TypeTabularData, nil, 1, true, false))
	if events != 1 {
		t.Errorf("data events: got %d, want 1", events)
	}
}

// TestAdapterTracesInboundDirection verifies the diagnostic record is
// emitted for every handled packet, tagged inbound.
func TestAdapterTracesInboundDirection(t *testing.T) {
	tracer := &captureTracer{}
	a := adapter.New(tracer)

	pkt := protocol.New(protocol.TypeTabularData, []byte("x"), 1, true, false)
	a.HandlePacket(pkt)

	if len(tracer.packets) != 1 || tracer.packets[0] != pkt {
		t.Fatalf("trace records: got %d", len(tracer.packets))
	}
	if tracer.dirs[0] != diag.DirRecv {
		t.Errorf("trace direction: got %q, want %q", tracer.dirs[0], diag.DirRecv)
	}
}

// TestAdapterNoSubscribers verifies events without subscribers are dropped
// without panicking.
func TestAdapterNoSubscribers(t *testing.T) {
	a := adapter.New(diag.Nop())
	a.HandlePacket(protocol.New(protocol.TypeTabularData, []byte("x"), 1, true, false))
	a.HandleMessageEnd()
}
