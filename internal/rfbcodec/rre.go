package rfbcodec

import (
	"bytes"
	"encoding/binary"

	"github.com/rcarmo/go-vnc-server/internal/pixelformat"
)

// RREEncoder picks a background colour (the most frequent pixel) and emits
// every maximal horizontal run of non-background pixels as its own
// subrectangle. Per-row runs are axis-aligned and non-overlapping by
// construction and, together with the background, exactly cover the
// rectangle.
type RREEncoder struct{}

func (RREEncoder) ID() int32 { return EncodingRRE }

func (RREEncoder) Encode(in Input, _ *Streams) ([]byte, error) {
	bpp := int(in.Format.BitsPerPixel) / 8
	converted, err := pixelformat.Convert(in.Pixels, in.Rect.W, in.Rect.H, in.Format)
	if err != nil {
		return nil, err
	}

	bg := mostFrequentPixel(converted, bpp)

	var subrects bytes.Buffer
	count := uint32(0)
	w, h := in.Rect.W, in.Rect.H

	for y := 0; y < h; y++ {
		x := 0
		for x < w {
			off := (y*w + x) * bpp
			if bytes.Equal(converted[off:off+bpp], bg) {
				x++
				continue
			}
			runStart := x
			pixel := converted[off : off+bpp]
			x++
			for x < w {
				nextOff := (y*w + x) * bpp
				if bytes.Equal(converted[nextOff:nextOff+bpp], bg) {
					break
				}
				// A new subrect starts whenever the colour changes, since
				// RRE subrects carry one colour each.
				if !bytes.Equal(converted[nextOff:nextOff+bpp], pixel) {
					break
				}
				x++
			}
			runWidth := x - runStart

			subrects.Write(pixel)
			var header [8]byte
			binary.BigEndian.PutUint16(header[0:2], uint16(runStart))
			binary.BigEndian.PutUint16(header[2:4], uint16(y))
			binary.BigEndian.PutUint16(header[4:6], uint16(runWidth))
			binary.BigEndian.PutUint16(header[6:8], 1)
			subrects.Write(header[:])
			count++
		}
	}

	out := make([]byte, 0, 4+bpp+subrects.Len())
	var countBytes [4]byte
	binary.BigEndian.PutUint32(countBytes[:], count)
	out = append(out, countBytes[:]...)
	out = append(out, bg...)
	out = append(out, subrects.Bytes()...)
	return out, nil
}

func mostFrequentPixel(pixels []byte, bpp int) []byte {
	counts := make(map[string]int)
	best := pixels[0:bpp]
	bestCount := 0
	for off := 0; off+bpp <= len(pixels); off += bpp {
		key := string(pixels[off : off+bpp])
		counts[key]++
		if counts[key] > bestCount {
			bestCount = counts[key]
			best = pixels[off : off+bpp]
		}
	}
	out := make([]byte, bpp)
	copy(out, best)
	return out
}
