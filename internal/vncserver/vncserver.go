// Package vncserver implements the server supervisor: listener, connection
// pool with a configurable cap, graceful shutdown, and idle-connection
// eviction. It owns only a weak membership over active sessions for
// enumeration and shutdown signalling; it never mutates session-private
// state.
package vncserver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rcarmo/go-vnc-server/internal/changedetect"
	"github.com/rcarmo/go-vnc-server/internal/config"
	"github.com/rcarmo/go-vnc-server/internal/framebuffer"
	"github.com/rcarmo/go-vnc-server/internal/input"
	"github.com/rcarmo/go-vnc-server/internal/logging"
	"github.com/rcarmo/go-vnc-server/internal/pixelformat"
	"github.com/rcarmo/go-vnc-server/internal/rfb"
	"github.com/rcarmo/go-vnc-server/internal/rfbcodec"
	"github.com/rcarmo/go-vnc-server/internal/rfbcodec/selector"
	"github.com/rcarmo/go-vnc-server/internal/scheduler"
	"github.com/rcarmo/go-vnc-server/internal/screen"
	"github.com/rcarmo/go-vnc-server/internal/transport"
	"github.com/rcarmo/go-vnc-server/internal/wsproto"
)

// member is the supervisor's weak reference to one active connection: just
// enough to cancel it and close its socket, never the session's own state.
type member struct {
	cancel context.CancelFunc
	conn   net.Conn
}

// Supervisor accepts connections, negotiates and serves each one on its
// own goroutine pair (input loop + scheduler), and coordinates cooperative
// shutdown across all of them.
type Supervisor struct {
	cfg       *config.Config
	registry  *selector.Registry
	screenSrc screen.Source
	sink      input.Sink

	listener net.Listener

	mu       sync.Mutex
	sessions map[*rfb.ClientSession]*member
	closed   bool

	wg sync.WaitGroup
}

// New builds a supervisor from configuration and the external collaborators
// (screen capture, input injection) the core never implements itself.
func New(cfg *config.Config, screenSrc screen.Source, sink input.Sink) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		registry:  selector.NewRegistry(cfg.VNC),
		screenSrc: screenSrc,
		sink:      sink,
		sessions:  make(map[*rfb.ClientSession]*member),
	}
}

// ListenAndServe binds the configured address and accepts connections
// until ctx is cancelled, then performs a graceful shutdown.
func (s *Supervisor) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("vncserver: listening on %s: %w", addr, err)
	}
	s.listener = ln
	logging.Info("vncserver: listening on %s", addr)

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		s.acceptLoop(ctx)
	}()

	<-ctx.Done()
	shutdownErr := s.Shutdown()
	<-acceptDone
	return shutdownErr
}

func (s *Supervisor) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			logging.Warn("vncserver: accept failed: %v", err)
			continue
		}

		if s.atCapacity() {
			s.rejectConnection(conn)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Supervisor) atCapacity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions) >= s.cfg.VNC.MaxConnections
}

// rejectConnection negotiates just the version, then tells the client why
// it's being refused: RFC 6143 6.1.2's zero-length security-type list plus
// a reason string on 3.7/3.8 (the only versions with a channel for it), or
// an immediate close on 3.3.
func (s *Supervisor) rejectConnection(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	version, err := rfb.NegotiateVersion(conn)
	if err != nil || version == rfb.Version33 {
		return
	}

	if _, err := conn.Write([]byte{0}); err != nil {
		return
	}
	reason := "too many connections"
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(reason)))
	if _, err := conn.Write(length); err != nil {
		return
	}
	_, _ = conn.Write([]byte(reason))
}

// Shutdown cancels every active connection, waits up to the configured
// grace period for them to close on their own, then force-closes whatever
// remains.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	members := make([]*member, 0, len(s.sessions))
	for _, m := range s.sessions {
		members = append(members, m)
	}
	s.mu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
	}

	for _, m := range members {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.VNC.ShutdownGracePeriod):
		s.mu.Lock()
		for _, m := range s.sessions {
			_ = m.conn.Close()
		}
		s.mu.Unlock()
		<-done
		return nil
	}
}

func (s *Supervisor) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Supervisor) register(session *rfb.ClientSession, conn net.Conn, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session] = &member{cancel: cancel, conn: conn}
}

func (s *Supervisor) unregister(session *rfb.ClientSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session)
}

// handleConn drives one accepted connection end to end: transport
// detection, RFB version/security/init negotiation, then the session's
// input loop and scheduler loop concurrently until either exits.
func (s *Supervisor) handleConn(parent context.Context, conn net.Conn) {
	defer conn.Close()

	detected, err := transport.Detect(conn, s.cfg.WebSocket.DetectTimeout)
	if err != nil {
		logging.Warn("vncserver: protocol detection failed for %s: %v", conn.RemoteAddr(), err)
		return
	}

	var stream io.ReadWriter = detected
	if detected.Kind == transport.KindWebSocket {
		if !s.cfg.WebSocket.Enable {
			logging.Warn("vncserver: rejecting WebSocket connection from %s: disabled", conn.RemoteAddr())
			return
		}
		handshake, err := wsproto.ReadHandshake(detected.Reader, s.cfg.WebSocket.MaxHandshakeBytes)
		if err != nil {
			logging.Warn("vncserver: WebSocket handshake failed for %s: %v", conn.RemoteAddr(), err)
			return
		}
		if err := wsproto.WriteResponse(detected, handshake); err != nil {
			logging.Warn("vncserver: WebSocket handshake response failed for %s: %v", conn.RemoteAddr(), err)
			return
		}
		stream = wsproto.NewStream(wsproto.NewConn(detected, s.cfg.WebSocket.MaxPayloadBytes, s.cfg.WebSocket.MaxBufferBytes))
	}

	stream = &idleTimeoutStream{ReadWriter: stream, conn: conn, timeout: s.cfg.VNC.ClientSocketTimeout}

	version, err := rfb.NegotiateVersion(stream)
	if err != nil {
		logging.Warn("vncserver: version negotiation failed for %s: %v", conn.RemoteAddr(), err)
		return
	}
	if err := rfb.NegotiateSecurity(stream, version, s.cfg.VNC.Password); err != nil {
		logging.Warn("vncserver: security negotiation failed for %s: %v", conn.RemoteAddr(), err)
		return
	}
	if _, err := rfb.ReadClientInit(stream); err != nil {
		logging.Warn("vncserver: reading ClientInit failed for %s: %v", conn.RemoteAddr(), err)
		return
	}

	probe, err := s.screenSrc.Capture(screen.Region{})
	if err != nil {
		logging.Warn("vncserver: initial capture failed for %s: %v", conn.RemoteAddr(), err)
		return
	}

	streams, err := rfbcodec.NewStreams(s.cfg.LAN.ZRLECompressionLevel, s.cfg.LAN.ZlibCompressionLevel, s.cfg.LAN.ZRLECompressionLevel)
	if err != nil {
		logging.Error("vncserver: allocating compression streams for %s: %v", conn.RemoteAddr(), err)
		return
	}
	streams.SetJPEGQualityBounds(s.cfg.LAN.JPEGQualityInitial, s.cfg.LAN.JPEGQualityMin, s.cfg.LAN.JPEGQualityMax)

	detector := changedetect.New(probe.Width, probe.Height)
	session := rfb.NewClientSession(pixelformat.Standard32BitBGRA, streams, detector, s.sink, s.cfg.VNC.EnableRequestCoalescing)
	session.SetVersion(version)
	session.SetState(rfb.Initialized)

	if err := rfb.WriteServerInit(stream, probe.Width, probe.Height, session.Format(), "go-vnc-server"); err != nil {
		logging.Warn("vncserver: writing ServerInit failed for %s: %v", conn.RemoteAddr(), err)
		return
	}

	connCtx, cancel := context.WithCancel(parent)
	defer cancel()
	s.register(session, conn, cancel)
	defer s.unregister(session)

	profile := scheduler.DetermineNetworkProfile(conn.RemoteAddr(), s.cfg.VNC.NetworkProfileOverride)
	fb := framebuffer.New(probe.Width, probe.Height)
	sched := scheduler.New(s.registry, s.cfg.VNC, s.cfg.LAN, profile, fb, s.screenSrc, session, stream)

	session.SetState(rfb.Serving)
	logging.Info("vncserver: serving %s (version=%s, profile=%s)", conn.RemoteAddr(), version, profile)

	errCh := make(chan error, 2)
	go func() { errCh <- sched.Run(connCtx) }()
	go func() { errCh <- session.RunInputLoop(stream, s.cfg.VNC.MaxSetEncodings, s.cfg.VNC.MaxClientCutText) }()

	<-errCh
	session.SetState(rfb.Closing)
	cancel()
	session.SetState(rfb.Closed)
	logging.Info("vncserver: closed %s", conn.RemoteAddr())
}

// idleTimeoutStream resets the underlying socket's read deadline before
// every read, evicting connections that stop sending client messages
// (including FramebufferUpdateRequest keep-alives) for longer than the
// configured client socket timeout.
type idleTimeoutStream struct {
	io.ReadWriter
	conn    net.Conn
	timeout time.Duration
}

func (d *idleTimeoutStream) Read(p []byte) (int, error) {
	if d.timeout > 0 {
		_ = d.conn.SetReadDeadline(time.Now().Add(d.timeout))
	}
	n, err := d.ReadWriter.Read(p)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		err = fmt.Errorf("vncserver: connection idle past client socket timeout: %w", err)
	}
	return n, err
}
