package transport

import (
	"fmt"
	"net"
	"time"
)

// Dial establishes the raw TCP transport to addr. Nagle's algorithm is
// disabled: the protocol is half-duplex request/response and the framer
// already writes full packets.
func Dial(addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return conn, nil
}
