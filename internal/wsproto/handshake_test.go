package wsproto

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptKeyMatchesRFC6455Vector(t *testing.T) {
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestReadHandshakeParsesValidUpgrade(t *testing.T) {
	req := "GET / HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Sec-WebSocket-Protocol: binary\r\n" +
		"\r\n"
	h, err := ReadHandshake(bufio.NewReader(strings.NewReader(req)), 16384)
	require.NoError(t, err)
	assert.Equal(t, "dGhlIHNhbXBsZSBub25jZQ==", h.Key)
	assert.True(t, h.WantsProtocol)
}

func TestReadHandshakeRejectsMissingVersion(t *testing.T) {
	req := "GET / HTTP/1.1\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"\r\n"
	_, err := ReadHandshake(bufio.NewReader(strings.NewReader(req)), 16384)
	assert.Error(t, err)
}

func TestReadHandshakeRejectsOversizedRequest(t *testing.T) {
	req := "GET / HTTP/1.1\r\n" + strings.Repeat("X-Padding: abcdefgh\r\n", 2000) + "\r\n"
	_, err := ReadHandshake(bufio.NewReader(strings.NewReader(req)), 64)
	assert.Error(t, err)
}

func TestWriteResponseIncludesAcceptKey(t *testing.T) {
	var buf strings.Builder
	err := WriteResponse(&buf, &Handshake{Key: "dGhlIHNhbXBsZSBub25jZQ=="})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=")
	assert.Contains(t, buf.String(), "101 Switching Protocols")
}
