package transport

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDetectClassifiesWebSocketHandshake(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		client.Write([]byte("GET / HTTP/1.1\r\n"))
	}()

	conn, err := Detect(server, time.Second)
	require.NoError(t, err)
	require.Equal(t, KindWebSocket, conn.Kind)

	buf := make([]byte, 3)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "GET", string(buf))
}

func TestDetectClassifiesRawRFB(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		client.Write([]byte("RFB 003.008\n"))
	}()

	conn, err := Detect(server, time.Second)
	require.NoError(t, err)
	require.Equal(t, KindRFB, conn.Kind)

	buf := make([]byte, 3)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "RFB", string(buf))
}
