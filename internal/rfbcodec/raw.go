package rfbcodec

import "github.com/rcarmo/go-vnc-server/internal/pixelformat"

// RawEncoder emits the client-format pixel bytes verbatim. It never fails
// and is the universal fallback.
type RawEncoder struct{}

func (RawEncoder) ID() int32 { return EncodingRaw }

func (RawEncoder) Encode(in Input, _ *Streams) ([]byte, error) {
	return pixelformat.Convert(in.Pixels, in.Rect.W, in.Rect.H, in.Format)
}
