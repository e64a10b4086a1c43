package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic counter.
var Stats = &stats{}

type stats struct {
	MessagesSent atomic.Int64 // cumulative count of outbound messages framed
	MessagesRecv atomic.Int64 // cumulative count of inbound messages completed
	BytesSent    atomic.Int64 // cumulative bytes written to the transport
	BytesRecv    atomic.Int64 // cumulative bytes read  from the transport
}

func (s *stats) AddMessageSent() { s.MessagesSent.Add(1) }
func (s *stats) AddMessageRecv() { s.MessagesRecv.Add(1) }
func (s *stats) AddSent(n int)   { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)   { s.BytesRecv.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevMsgOut, prevMsgIn int64
		for {
			select {
			case <-ticker.C:
				msgOut := Stats.MessagesSent.Load()
				msgIn := Stats.MessagesRecv.Load()
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()

				outS := float64(sent-prevSent) / 10.0
				inS := float64(recv-prevRecv) / 10.0
				outM := msgOut - prevMsgOut
				inM := msgIn - prevMsgIn

				if outM > 0 || inM > 0 || outS > 10 || inS > 10 {
					pterm.DefaultLogger.Info(formatStats(outS, inS, outM, inM))
				}

				prevSent = sent
				prevRecv = recv
				prevMsgOut = msgOut
				prevMsgIn = msgIn

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(outS, inS float64, outM, inM int64) string {
	return fmt.Sprintf("Out: %s/s | In: %s/s | Msg: %2d↑ %2d↓",
		formatBytes(outS),
		formatBytes(inS),
		outM,
		inM,
	)
}
