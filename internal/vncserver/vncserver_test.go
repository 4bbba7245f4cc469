package vncserver

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rcarmo/go-vnc-server/internal/config"
	"github.com/rcarmo/go-vnc-server/internal/rfb"
	"github.com/rcarmo/go-vnc-server/internal/screen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScreenSource struct {
	w, h int
}

func (f *fakeScreenSource) Capture(region screen.Region) (screen.CaptureResult, error) {
	return screen.CaptureResult{Pixels: make([]byte, f.w*f.h*4), Width: f.w, Height: f.h}, nil
}

func testConfig() *config.Config {
	cfg, _ := config.LoadWithOverrides(config.LoadOptions{})
	cfg.VNC.MaxConnections = 2
	cfg.WebSocket.Enable = true
	cfg.VNC.ClientSocketTimeout = 2 * time.Second
	return cfg
}

func TestAtCapacityReflectsRegisteredSessions(t *testing.T) {
	sup := New(testConfig(), &fakeScreenSource{w: 4, h: 4}, nil)
	assert.False(t, sup.atCapacity())

	sup.mu.Lock()
	sup.sessions[&rfb.ClientSession{}] = &member{}
	sup.sessions[&rfb.ClientSession{}] = &member{}
	sup.mu.Unlock()

	assert.True(t, sup.atCapacity())
}

func TestRejectConnectionClosesWithoutReasonOn33(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sup := New(testConfig(), &fakeScreenSource{w: 4, h: 4}, nil)
	done := make(chan struct{})
	go func() {
		sup.rejectConnection(server)
		close(done)
	}()

	buf := make([]byte, 12)
	_, err := client.Read(buf)
	require.NoError(t, err)
	_, err = client.Write([]byte("RFB 003.003\n"))
	require.NoError(t, err)

	<-done
	_, err = client.Read(make([]byte, 1))
	assert.Error(t, err, "server should close the socket after a 3.3 reject")
}

func TestRejectConnectionSendsReasonOn38(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sup := New(testConfig(), &fakeScreenSource{w: 4, h: 4}, nil)
	go sup.rejectConnection(server)

	buf := make([]byte, 12)
	_, err := client.Read(buf)
	require.NoError(t, err)
	_, err = client.Write([]byte("RFB 003.008\n"))
	require.NoError(t, err)

	countBuf := make([]byte, 1)
	_, err = client.Read(countBuf)
	require.NoError(t, err)
	assert.Equal(t, byte(0), countBuf[0])

	lenBuf := make([]byte, 4)
	_, err = client.Read(lenBuf)
	require.NoError(t, err)
	reasonLen := binary.BigEndian.Uint32(lenBuf)
	assert.Equal(t, uint32(len("too many connections")), reasonLen)

	reason := make([]byte, reasonLen)
	_, err = client.Read(reason)
	require.NoError(t, err)
	assert.Equal(t, "too many connections", string(reason))
}

func TestHandleConnFullHandshakeOn33(t *testing.T) {
	client, server := net.Pipe()

	sup := New(testConfig(), &fakeScreenSource{w: 16, h: 8}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sup.handleConn(ctx, server)

	// Version exchange.
	verBuf := make([]byte, 12)
	_, err := client.Read(verBuf)
	require.NoError(t, err)
	assert.Equal(t, "RFB 003.008\n", string(verBuf))
	_, err = client.Write([]byte("RFB 003.003\n"))
	require.NoError(t, err)

	// 3.3 security: single u32, None since no password configured.
	secBuf := make([]byte, 4)
	_, err = client.Read(secBuf)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(secBuf))

	// ClientInit.
	_, err = client.Write([]byte{1})
	require.NoError(t, err)

	// ServerInit: width, height, 16-byte pixel format, name length + name.
	initBuf := make([]byte, 4+16+4)
	_, err = io.ReadFull(client, initBuf)
	require.NoError(t, err)
	assert.Equal(t, uint16(16), binary.BigEndian.Uint16(initBuf[0:2]))
	assert.Equal(t, uint16(8), binary.BigEndian.Uint16(initBuf[2:4]))
	nameLen := binary.BigEndian.Uint32(initBuf[20:24])
	name := make([]byte, nameLen)
	_, err = io.ReadFull(client, name)
	require.NoError(t, err)
	assert.Equal(t, "go-vnc-server", string(name))

	client.Close()
}
