// Package transport multiplexes a freshly accepted connection between the
// raw RFB wire protocol and the WebSocket adapter, by peeking the first
// bytes the client sends without consuming them.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// Kind identifies which protocol a connection turned out to speak.
type Kind int

const (
	KindRFB Kind = iota
	KindWebSocket
)

// Conn wraps an accepted net.Conn with a buffered reader that has already
// had its protocol-detection bytes peeked back into it, so callers read the
// full byte stream exactly as the client sent it.
type Conn struct {
	net.Conn
	Reader *bufio.Reader
	Kind   Kind
}

// Detect peeks up to 3 bytes with a bounded deadline, classifies the
// connection, and restores the deadline before returning. A connection
// that sends fewer than 3 bytes before the deadline (a raw RFB client
// waits for the server's version string) is classified as raw RFB. The peek is
// non-destructive: bytes are read into a buffered reader and never
// discarded, mirroring the single-byte unread-after-read pattern RDP
// framing uses to sniff FastPath vs X.224 headers.
func Detect(conn net.Conn, detectTimeout time.Duration) (*Conn, error) {
	if err := conn.SetReadDeadline(time.Now().Add(detectTimeout)); err != nil {
		return nil, fmt.Errorf("transport: setting detect deadline: %w", err)
	}

	reader := bufio.NewReader(conn)
	peek, err := reader.Peek(3)
	if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
		return nil, fmt.Errorf("transport: peeking protocol bytes: %w", err)
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("transport: clearing detect deadline: %w", err)
	}

	kind := KindRFB
	if string(peek) == "GET" {
		kind = KindWebSocket
	}

	return &Conn{Conn: conn, Reader: reader, Kind: kind}, nil
}

// Read satisfies io.Reader via the buffered reader, so previously peeked
// bytes are replayed before falling through to the underlying socket.
func (c *Conn) Read(b []byte) (int, error) {
	return c.Reader.Read(b)
}
