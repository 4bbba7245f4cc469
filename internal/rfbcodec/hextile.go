package rfbcodec

import (
	"bytes"

	"github.com/rcarmo/go-vnc-server/internal/pixelformat"
)

const hextileTileSize = 16

const (
	hextileRaw               = 0x01
	hextileBackgroundSpecified = 0x02
	hextileForegroundSpecified = 0x04
	hextileAnySubrects         = 0x08
	hextileSubrectsColoured    = 0x10
)

// HextileEncoder splits the rectangle into 16x16 tiles in raster order and
// encodes each with the cheapest applicable subencoding.
// Background/foreground colours are tracked across tiles within one
// Encode call and only resent when they change, per the RFC's "inherit"
// rule; since Encode is otherwise stateless, the very first tile of every
// call always sends them explicitly.
type HextileEncoder struct{}

func (HextileEncoder) ID() int32 { return EncodingHextile }

func (HextileEncoder) Encode(in Input, _ *Streams) ([]byte, error) {
	bpp := int(in.Format.BitsPerPixel) / 8
	converted, err := pixelformat.Convert(in.Pixels, in.Rect.W, in.Rect.H, in.Format)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	var lastBG, lastFG []byte

	for ty := 0; ty < in.Rect.H; ty += hextileTileSize {
		th := hextileTileSize
		if ty+th > in.Rect.H {
			th = in.Rect.H - ty
		}
		for tx := 0; tx < in.Rect.W; tx += hextileTileSize {
			tw := hextileTileSize
			if tx+tw > in.Rect.W {
				tw = in.Rect.W - tx
			}

			tile := extractTile(converted, in.Rect.W, bpp, tx, ty, tw, th)
			encodeHextileTile(&out, tile, tw, th, bpp, &lastBG, &lastFG)
		}
	}

	return out.Bytes(), nil
}

func extractTile(pixels []byte, rectWidth, bpp, tx, ty, tw, th int) []byte {
	out := make([]byte, tw*th*bpp)
	for row := 0; row < th; row++ {
		srcOff := ((ty+row)*rectWidth + tx) * bpp
		dstOff := row * tw * bpp
		copy(out[dstOff:dstOff+tw*bpp], pixels[srcOff:srcOff+tw*bpp])
	}
	return out
}

type hexSubrect struct {
	x, y, w, h int
	pixel      []byte
}

func encodeHextileTile(out *bytes.Buffer, tile []byte, tw, th, bpp int, lastBG, lastFG *[]byte) {
	bg := mostFrequentPixel(tile, bpp)

	var subrects []hexSubrect
	for y := 0; y < th; y++ {
		x := 0
		for x < tw {
			off := (y*tw + x) * bpp
			if bytes.Equal(tile[off:off+bpp], bg) {
				x++
				continue
			}
			pixel := tile[off : off+bpp]
			start := x
			x++
			for x < tw {
				nextOff := (y*tw + x) * bpp
				if !bytes.Equal(tile[nextOff:nextOff+bpp], pixel) {
					break
				}
				x++
			}
			subrects = append(subrects, hexSubrect{x: start, y: y, w: x - start, h: 1, pixel: append([]byte(nil), pixel...)})
		}
	}

	rawSize := tw * th * bpp
	estimatedSize := estimateHextileSubrectSize(subrects, bpp, *lastBG, bg, *lastFG)

	if len(subrects) > 255 || estimatedSize >= rawSize {
		out.WriteByte(hextileRaw)
		out.Write(tile)
		// A Raw tile doesn't change the inherited bg/fg state.
		return
	}

	flags := byte(0)
	bgChanged := *lastBG == nil || !bytes.Equal(*lastBG, bg)
	if bgChanged {
		flags |= hextileBackgroundSpecified
	}

	uniformFG, fg := uniformForeground(subrects)

	if len(subrects) > 0 {
		flags |= hextileAnySubrects
		if !uniformFG {
			flags |= hextileSubrectsColoured
		} else {
			fgChanged := *lastFG == nil || !bytes.Equal(*lastFG, fg)
			if fgChanged {
				flags |= hextileForegroundSpecified
			}
		}
	}

	out.WriteByte(flags)
	if flags&hextileBackgroundSpecified != 0 {
		out.Write(bg)
	}
	if flags&hextileForegroundSpecified != 0 {
		out.Write(fg)
	}
	if flags&hextileAnySubrects != 0 {
		out.WriteByte(byte(len(subrects)))
		for _, s := range subrects {
			if flags&hextileSubrectsColoured != 0 {
				out.Write(s.pixel)
			}
			out.WriteByte(byte((s.x << 4) | s.y))
			out.WriteByte(byte(((s.w - 1) << 4) | (s.h - 1)))
		}
	}

	*lastBG = append([]byte(nil), bg...)
	if len(subrects) > 0 && uniformFG {
		*lastFG = append([]byte(nil), fg...)
	}
}

func uniformForeground(subrects []hexSubrect) (bool, []byte) {
	if len(subrects) == 0 {
		return false, nil
	}
	first := subrects[0].pixel
	for _, s := range subrects[1:] {
		if !bytes.Equal(s.pixel, first) {
			return false, nil
		}
	}
	return true, first
}

func estimateHextileSubrectSize(subrects []hexSubrect, bpp int, lastBG, bg, lastFG []byte) int {
	size := 1 // flags byte
	if lastBG == nil || !bytes.Equal(lastBG, bg) {
		size += bpp
	}
	if len(subrects) > 0 {
		uniform, fg := uniformForeground(subrects)
		if uniform {
			if lastFG == nil || !bytes.Equal(lastFG, fg) {
				size += bpp
			}
			size += 1 + len(subrects)*2
		} else {
			size += 1 + len(subrects)*(bpp+2)
		}
	}
	return size
}
