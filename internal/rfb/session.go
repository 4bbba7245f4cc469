package rfb

import (
	"fmt"
	"io"
	"sync"

	"github.com/rcarmo/go-vnc-server/internal/changedetect"
	"github.com/rcarmo/go-vnc-server/internal/input"
	"github.com/rcarmo/go-vnc-server/internal/pixelformat"
	"github.com/rcarmo/go-vnc-server/internal/rfbcodec"
)

// Lifecycle is the state a ClientSession moves through, in order, from
// accept to teardown. States never move backwards.
type Lifecycle int

const (
	Accepted Lifecycle = iota
	VersionNegotiated
	SecurityNegotiated
	Initialized
	Serving
	Closing
	Closed
)

// PendingRequest is the client's most recent outstanding
// FramebufferUpdateRequest, or the zero value if none is outstanding.
type PendingRequest struct {
	Active      bool
	Incremental bool
	Region      changedetect.Rect
}

// Capabilities are the pseudo-encodings a client advertised via
// SetEncodings, each a bare capability declaration rather than pixel data.
type Capabilities struct {
	SupportsCursor              bool
	SupportsDesktopSize         bool
	SupportsExtendedDesktopSize bool
	SupportsContinuousUpdates   bool
	SupportsLastRect            bool
}

// ClientSession is the complete state of one connection, exclusively
// owned and mutated by that connection's two driving goroutines: an input
// loop (ReadClientMessage dispatch) and a scheduler loop (capture, diff,
// encode, send). The mutex below guards only the handful of fields both
// goroutines touch; the framebuffer snapshot, change detector and
// compression streams belong to the scheduler loop alone.
type ClientSession struct {
	mu sync.Mutex

	version         Version
	format          pixelformat.Format
	clientEncodings []int32
	caps            Capabilities
	pending         PendingRequest
	buttonState     uint8
	state           Lifecycle

	Streams  *rfbcodec.Streams
	Detector *changedetect.Detector
	sink     input.Sink
	coalesce bool
}

// NewClientSession creates a session in the Accepted state with the given
// default pixel format and compression streams. sink may be nil, in which
// case key/pointer/clipboard messages are decoded and discarded. When
// coalesce is true, a FramebufferUpdateRequest arriving while one is already
// pending is merged into it (region union, incremental AND) rather than
// replacing it outright.
func NewClientSession(format pixelformat.Format, streams *rfbcodec.Streams, detector *changedetect.Detector, sink input.Sink, coalesce bool) *ClientSession {
	return &ClientSession{
		format:   format,
		state:    Accepted,
		Streams:  streams,
		Detector: detector,
		sink:     sink,
		coalesce: coalesce,
	}
}

// SetState advances the lifecycle state. It does not enforce monotonicity;
// its caller (the supervisor's connection handler) is trusted to call it
// in order.
func (s *ClientSession) SetState(state Lifecycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// State returns the current lifecycle state.
func (s *ClientSession) State() Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetVersion records the negotiated protocol version.
func (s *ClientSession) SetVersion(v Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = v
}

// Version returns the negotiated protocol version.
func (s *ClientSession) Version() Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Format returns the client's current pixel format.
func (s *ClientSession) Format() pixelformat.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// ClientEncodings returns the client's most recently advertised encoding
// preference list.
func (s *ClientSession) ClientEncodings() []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int32, len(s.clientEncodings))
	copy(out, s.clientEncodings)
	return out
}

// Capabilities returns the client's current pseudo-encoding capability
// flags.
func (s *ClientSession) Capabilities() Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// ButtonState returns the 8-bit held-button bitmask most recently reported
// by a PointerEvent.
func (s *ClientSession) ButtonState() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buttonState
}

// PeekPendingRequest returns the outstanding FramebufferUpdateRequest
// without clearing it, so the scheduler can decide whether there's
// anything to send this cycle.
func (s *ClientSession) PeekPendingRequest() PendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// ClearPendingRequest marks the outstanding request fulfilled. The client
// must send a new FramebufferUpdateRequest before the scheduler will send
// another update.
func (s *ClientSession) ClearPendingRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = PendingRequest{}
}

func pseudoEncodingFlags(encodings []int32) Capabilities {
	var c Capabilities
	for _, e := range encodings {
		switch e {
		case rfbcodec.PseudoEncodingCursor:
			c.SupportsCursor = true
		case rfbcodec.PseudoEncodingDesktopSize:
			c.SupportsDesktopSize = true
		case rfbcodec.PseudoEncodingExtendedDesktopSize:
			c.SupportsExtendedDesktopSize = true
		case rfbcodec.PseudoEncodingContinuousUpdates:
			c.SupportsContinuousUpdates = true
		case rfbcodec.PseudoEncodingLastRect:
			c.SupportsLastRect = true
		}
	}
	return c
}

// RunInputLoop reads and dispatches client messages from r until it hits
// an error (including EOF on disconnect). It is meant to run on its own
// goroutine for the lifetime of one connection; the scheduler loop reads
// session state concurrently via the accessor methods above.
func (s *ClientSession) RunInputLoop(r io.Reader, maxSetEncodings, maxClientCutText int) error {
	for {
		msg, err := ReadClientMessage(r, maxSetEncodings, maxClientCutText)
		if err != nil {
			return err
		}
		if err := s.handle(msg); err != nil {
			return err
		}
	}
}

func (s *ClientSession) handle(msg ClientMessage) error {
	switch m := msg.(type) {
	case SetPixelFormatMsg:
		s.mu.Lock()
		s.format = m.Format
		// A format change invalidates any update already queued in the
		// old format; the client must re-request.
		s.pending = PendingRequest{}
		s.mu.Unlock()

	case SetEncodingsMsg:
		s.mu.Lock()
		s.clientEncodings = m.Encodings
		s.caps = pseudoEncodingFlags(m.Encodings)
		s.mu.Unlock()

	case FramebufferUpdateRequestMsg:
		region := changedetect.Rect{X: m.X, Y: m.Y, W: m.W, H: m.H}
		s.mu.Lock()
		if s.coalesce && s.pending.Active {
			// A request is already outstanding: keep the union of both
			// regions and only call the merged request incremental if
			// both requests were.
			s.pending = PendingRequest{
				Active:      true,
				Incremental: s.pending.Incremental && m.Incremental,
				Region:      changedetect.UnionRect(s.pending.Region, region),
			}
		} else {
			s.pending = PendingRequest{
				Active:      true,
				Incremental: m.Incremental,
				Region:      region,
			}
		}
		s.mu.Unlock()

	case KeyEventMsg:
		if s.sink != nil {
			if err := s.sink.InjectKey(m.Down, m.Keysym); err != nil {
				return fmt.Errorf("rfb: injecting key event: %w", err)
			}
		}

	case PointerEventMsg:
		s.mu.Lock()
		s.buttonState = m.ButtonMask
		s.mu.Unlock()
		if s.sink != nil {
			if err := s.sink.InjectPointer(m.ButtonMask, m.X, m.Y); err != nil {
				return fmt.Errorf("rfb: injecting pointer event: %w", err)
			}
		}

	case ClientCutTextMsg:
		if s.sink != nil {
			if err := s.sink.SetClipboard(m.Text); err != nil {
				return fmt.Errorf("rfb: forwarding clipboard text: %w", err)
			}
		}

	default:
		return fmt.Errorf("rfb: unhandled client message type %T", msg)
	}
	return nil
}
