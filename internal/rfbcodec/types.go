// Package rfbcodec implements the RFB rectangle encoder family: pure
// functions from a pixel rectangle (plus client pixel format and, for the
// compressed encodings, persistent per-connection compression streams) to
// wire bytes.
package rfbcodec

import "github.com/rcarmo/go-vnc-server/internal/pixelformat"

// Encoding type identifiers, per RFC 6143.
const (
	EncodingRaw      int32 = 0
	EncodingCopyRect int32 = 1
	EncodingRRE      int32 = 2
	EncodingHextile  int32 = 5
	EncodingZlib     int32 = 6
	EncodingTight    int32 = 7
	EncodingZRLE     int32 = 16
)

// Pseudo-encoding identifiers: capability declarations, never pixel data
//.
const (
	PseudoEncodingCursor              int32 = -239
	PseudoEncodingDesktopSize         int32 = -223
	PseudoEncodingExtendedDesktopSize int32 = -308
	PseudoEncodingContinuousUpdates   int32 = -313
	PseudoEncodingLastRect            int32 = -224
)

// Rect is a pixel rectangle's geometry, independent of any particular
// encoding.
type Rect struct {
	X, Y, W, H int
}

// Input bundles everything an Encoder needs to turn one rectangle of
// server-internal BGRA8888 pixels into wire bytes.
type Input struct {
	Rect   Rect
	Pixels []byte // w*h*4 bytes, BGRA8888, row-major
	Format pixelformat.Format

	// SourceX, SourceY are set by the scheduler from its CopyRect search:
	// the rectangle's previous on-screen location. Only CopyRectEncoder
	// reads them.
	SourceX, SourceY int
}

// Encoder is a pure function from (rectangle pixels, format) to wire bytes.
// Implementations that need compression state take it via Streams, never
// via package-level globals.
type Encoder interface {
	ID() int32
	Encode(in Input, streams *Streams) ([]byte, error)
}
