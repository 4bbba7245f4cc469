package rfbcodec

import "github.com/rcarmo/go-vnc-server/internal/pixelformat"

// ZlibEncoder deflates the raw client-format pixel bytes through the
// connection's dedicated persistent zlib stream, independent of the ZRLE
// and Tight streams.
type ZlibEncoder struct{}

func (ZlibEncoder) ID() int32 { return EncodingZlib }

func (ZlibEncoder) Encode(in Input, streams *Streams) ([]byte, error) {
	raw, err := pixelformat.Convert(in.Pixels, in.Rect.W, in.Rect.H, in.Format)
	if err != nil {
		return nil, err
	}
	return streams.zlibCompress(raw)
}
