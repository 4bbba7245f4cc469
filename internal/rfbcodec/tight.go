package rfbcodec

import (
	"bytes"

	"github.com/rcarmo/go-vnc-server/internal/pixelformat"
)

const (
	tightCtrlBasic = 0x00 // basic compression on stream 0, no explicit filter
	tightCtrlFill  = 0x80
	tightCtrlJPEG  = 0x90

	tightJPEGPixelThreshold = 4096
)

// TightEncoder implements the three subencodings this server ever emits:
// fill (solid rectangle), basic (raw TPIXEL bytes through persistent Tight
// stream 0) and, when AllowJPEG is set, JPEG for non-solid rectangles of
// at least tightJPEGPixelThreshold pixels. The palette and gradient
// basic-compression filters are decodable by every Tight-capable client
// but are not required of an encoder, so this implementation never emits
// them and always uses the plain "copy" filter.
type TightEncoder struct {
	// AllowJPEG gates the JPEG subencoding; selector.NewRegistry sets it
	// when JPEG encoding is enabled and TightDisableForUltraVNC is off.
	AllowJPEG bool
}

func (TightEncoder) ID() int32 { return EncodingTight }

func (e TightEncoder) Encode(in Input, streams *Streams) ([]byte, error) {
	bpp := int(in.Format.BitsPerPixel) / 8
	converted, err := pixelformat.Convert(in.Pixels, in.Rect.W, in.Rect.H, in.Format)
	if err != nil {
		return nil, err
	}

	if solid, pixel := isSolid(converted, bpp); solid {
		var out bytes.Buffer
		out.WriteByte(tightCtrlFill)
		out.Write(tpixel(pixel, in.Format))
		return out.Bytes(), nil
	}

	area := in.Rect.W * in.Rect.H
	if e.AllowJPEG && area >= tightJPEGPixelThreshold {
		quality := streams.currentJPEGQuality()
		data, err := encodeJPEGRect(converted, in.Rect.W, in.Rect.H, in.Format, quality)
		if err == nil {
			streams.adjustJPEGQuality(float64(len(data)) / float64(area))
			var out bytes.Buffer
			out.WriteByte(tightCtrlJPEG)
			writeCompactLength(&out, len(data))
			out.Write(data)
			return out.Bytes(), nil
		}
	}

	tpixels := make([]byte, 0, area*3)
	for off := 0; off+bpp <= len(converted); off += bpp {
		tpixels = append(tpixels, tpixel(converted[off:off+bpp], in.Format)...)
	}

	compressed, err := streams.tightCompress(0, tpixels)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.WriteByte(tightCtrlBasic)
	writeCompactLength(&out, len(compressed))
	out.Write(compressed)
	return out.Bytes(), nil
}

// tpixel strips the padding byte for 32bpp/24-depth true-colour formats,
// matching Tight's compact TPIXEL representation.
func tpixel(pixel []byte, f pixelformat.Format) []byte {
	if f.BitsPerPixel == 32 && f.Depth <= 24 {
		return pixel[0:3]
	}
	return pixel
}

func isSolid(pixels []byte, bpp int) (bool, []byte) {
	if len(pixels) < bpp {
		return false, nil
	}
	first := pixels[0:bpp]
	for off := bpp; off+bpp <= len(pixels); off += bpp {
		if !bytes.Equal(pixels[off:off+bpp], first) {
			return false, nil
		}
	}
	return true, first
}

// writeCompactLength encodes n as Tight's variable-length integer: 7 bits
// per byte, high bit set on every byte but the last, little-endian.
func writeCompactLength(out *bytes.Buffer, n int) {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			out.WriteByte(b | 0x80)
		} else {
			out.WriteByte(b)
			return
		}
	}
}
