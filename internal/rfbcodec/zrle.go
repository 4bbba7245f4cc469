package rfbcodec

import (
	"bytes"

	"github.com/rcarmo/go-vnc-server/internal/pixelformat"
)

const zrleTileSize = 64

const (
	zrleSubtypeRaw      = 0
	zrleSubtypeSolid    = 1
	zrleSubtypePlainRLE = 128
)

// ZRLEEncoder tiles the rectangle into 64x64 blocks, converts each pixel to
// a CPIXEL (the padding byte is dropped for 32bpp/24-depth true-colour
// formats), and picks between the solid, plain-RLE and raw subencodings per
// tile. The packed-palette and palette-RLE subtypes are decodable by every
// compliant client but are not required of an encoder, so this
// implementation only emits the three simplest subtypes; a decoder
// consuming this encoder's stream never sees the others. The whole
// rectangle's tile stream is deflated through one persistent, never-reset
// stream shared across the connection's lifetime.
type ZRLEEncoder struct{}

func (ZRLEEncoder) ID() int32 { return EncodingZRLE }

func (ZRLEEncoder) Encode(in Input, streams *Streams) ([]byte, error) {
	bpp := int(in.Format.BitsPerPixel) / 8
	converted, err := pixelformat.Convert(in.Pixels, in.Rect.W, in.Rect.H, in.Format)
	if err != nil {
		return nil, err
	}

	cpixelSize := bpp
	if in.Format.BitsPerPixel == 32 && in.Format.Depth <= 24 {
		cpixelSize = 3
	}

	var plain bytes.Buffer
	for ty := 0; ty < in.Rect.H; ty += zrleTileSize {
		th := zrleTileSize
		if ty+th > in.Rect.H {
			th = in.Rect.H - ty
		}
		for tx := 0; tx < in.Rect.W; tx += zrleTileSize {
			tw := zrleTileSize
			if tx+tw > in.Rect.W {
				tw = in.Rect.W - tx
			}
			tile := extractTile(converted, in.Rect.W, bpp, tx, ty, tw, th)
			cpixels := toCPixels(tile, bpp, cpixelSize)
			encodeZRLETile(&plain, cpixels, tw, th, cpixelSize)
		}
	}

	return streams.zrleCompress(plain.Bytes())
}

// toCPixels drops each pixel's high-order padding byte when cpixelSize is
// smaller than bpp, per the CPIXEL rule for 32bpp/24-depth true-colour.
func toCPixels(pixels []byte, bpp, cpixelSize int) []byte {
	if cpixelSize == bpp {
		return pixels
	}
	out := make([]byte, 0, (len(pixels)/bpp)*cpixelSize)
	for off := 0; off+bpp <= len(pixels); off += bpp {
		out = append(out, pixels[off:off+cpixelSize]...)
	}
	return out
}

func encodeZRLETile(out *bytes.Buffer, cpixels []byte, tw, th, cpixelSize int) {
	solid := true
	first := cpixels[0:cpixelSize]
	for off := cpixelSize; off+cpixelSize <= len(cpixels); off += cpixelSize {
		if !bytes.Equal(cpixels[off:off+cpixelSize], first) {
			solid = false
			break
		}
	}
	if solid {
		out.WriteByte(zrleSubtypeSolid)
		out.Write(first)
		return
	}

	runs := zrleRuns(cpixels, cpixelSize)
	runBytes := 0
	for _, r := range runs {
		runBytes += cpixelSize + (r.length+254)/255
	}
	rawBytes := tw * th * cpixelSize

	if runBytes < rawBytes {
		out.WriteByte(zrleSubtypePlainRLE)
		for _, r := range runs {
			out.Write(cpixels[r.offset : r.offset+cpixelSize])
			remaining := r.length - 1
			for remaining >= 255 {
				out.WriteByte(255)
				remaining -= 255
			}
			out.WriteByte(byte(remaining))
		}
		return
	}

	out.WriteByte(zrleSubtypeRaw)
	out.Write(cpixels)
}

type zrleRun struct {
	offset, length int
}

func zrleRuns(cpixels []byte, cpixelSize int) []zrleRun {
	var runs []zrleRun
	count := len(cpixels) / cpixelSize
	i := 0
	for i < count {
		off := i * cpixelSize
		pixel := cpixels[off : off+cpixelSize]
		j := i + 1
		for j < count {
			nextOff := j * cpixelSize
			if !bytes.Equal(cpixels[nextOff:nextOff+cpixelSize], pixel) {
				break
			}
			j++
		}
		runs = append(runs, zrleRun{offset: off, length: j - i})
		i = j
	}
	return runs
}
