// Package pixelformat implements the RFB PixelFormat wire structure and the
// conversion of server-internal BGRA pixels into a client's negotiated
// layout.
package pixelformat

import (
	"encoding/binary"
	"fmt"
)

// Size is the wire size of a PixelFormat structure in bytes.
const Size = 16

// Format describes how pixels are packed on the wire for one client.
type Format struct {
	BitsPerPixel uint8
	Depth        uint8
	BigEndian    bool
	TrueColour   bool
	RedMax       uint16
	GreenMax     uint16
	BlueMax      uint16
	RedShift     uint8
	GreenShift   uint8
	BlueShift    uint8
}

// Standard32BitBGRA is the server's internal pixel format and also the
// common default offered to clients: 32bpp, depth 24, little-endian,
// true-colour, 8 bits per channel, B at shift 0 / G at 8 / R at 16.
var Standard32BitBGRA = Format{
	BitsPerPixel: 32,
	Depth:        24,
	BigEndian:    false,
	TrueColour:   true,
	RedMax:       255,
	GreenMax:     255,
	BlueMax:      255,
	RedShift:     16,
	GreenShift:   8,
	BlueShift:    0,
}

// Validate checks that bpp is in {8,16,32}, depth <= bpp, true_colour is 1
// (palette formats unsupported), max fields are 2^n-1, and shifts are
// non-overlapping within the pixel width.
func (f Format) Validate() error {
	switch f.BitsPerPixel {
	case 8, 16, 32:
	default:
		return fmt.Errorf("pixelformat: unsupported bits_per_pixel %d", f.BitsPerPixel)
	}
	if f.Depth > f.BitsPerPixel {
		return fmt.Errorf("pixelformat: depth %d exceeds bits_per_pixel %d", f.Depth, f.BitsPerPixel)
	}
	if !f.TrueColour {
		return fmt.Errorf("pixelformat: palette (colour-map) pixel formats are not supported")
	}
	for _, max := range []uint16{f.RedMax, f.GreenMax, f.BlueMax} {
		if max == 0 || (max & (max + 1)) != 0 {
			return fmt.Errorf("pixelformat: channel max %d is not 2^n-1", max)
		}
	}
	if err := checkNonOverlapping(f); err != nil {
		return err
	}
	return nil
}

func checkNonOverlapping(f Format) error {
	type span struct{ lo, hi uint32 }
	spans := []span{
		{uint32(f.RedShift), uint32(f.RedShift) + bits(f.RedMax)},
		{uint32(f.GreenShift), uint32(f.GreenShift) + bits(f.GreenMax)},
		{uint32(f.BlueShift), uint32(f.BlueShift) + bits(f.BlueMax)},
	}
	for _, s := range spans {
		if s.hi > uint32(f.BitsPerPixel) {
			return fmt.Errorf("pixelformat: channel shift/width exceeds bits_per_pixel")
		}
	}
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].lo < spans[j].hi && spans[j].lo < spans[i].hi {
				return fmt.Errorf("pixelformat: overlapping channel shifts")
			}
		}
	}
	return nil
}

func bits(max uint16) uint32 {
	n := uint32(0)
	for (uint16(1)<<n)-1 < max {
		n++
	}
	return n
}

// Marshal serializes the PixelFormat to its 16-byte wire representation.
func (f Format) Marshal() [Size]byte {
	var out [Size]byte
	out[0] = f.BitsPerPixel
	out[1] = f.Depth
	out[2] = boolByte(f.BigEndian)
	out[3] = boolByte(f.TrueColour)
	binary.BigEndian.PutUint16(out[4:6], f.RedMax)
	binary.BigEndian.PutUint16(out[6:8], f.GreenMax)
	binary.BigEndian.PutUint16(out[8:10], f.BlueMax)
	out[10] = f.RedShift
	out[11] = f.GreenShift
	out[12] = f.BlueShift
	// out[13:16] padding, left zero
	return out
}

// Unmarshal parses a 16-byte wire PixelFormat.
func Unmarshal(b []byte) (Format, error) {
	if len(b) != Size {
		return Format{}, fmt.Errorf("pixelformat: expected %d bytes, got %d", Size, len(b))
	}
	f := Format{
		BitsPerPixel: b[0],
		Depth:        b[1],
		BigEndian:    b[2] != 0,
		TrueColour:   b[3] != 0,
		RedMax:       binary.BigEndian.Uint16(b[4:6]),
		GreenMax:     binary.BigEndian.Uint16(b[6:8]),
		BlueMax:      binary.BigEndian.Uint16(b[8:10]),
		RedShift:     b[10],
		GreenShift:   b[11],
		BlueShift:    b[12],
	}
	return f, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// IsStandardBGRA32LE reports whether f is exactly the server's internal
// format, enabling a memcpy fast path instead of a full conversion.
func IsStandardBGRA32LE(f Format) bool {
	return f.BitsPerPixel == 32 && !f.BigEndian && f.TrueColour &&
		f.RedMax == 255 && f.GreenMax == 255 && f.BlueMax == 255 &&
		f.RedShift == 16 && f.GreenShift == 8 && f.BlueShift == 0
}

// Convert transforms a contiguous BGRA8888 buffer (server-internal format,
// alpha ignored) into dst's pixel layout. len(src) must equal w*h*4.
func Convert(src []byte, w, h int, dst Format) ([]byte, error) {
	if len(src) != w*h*4 {
		return nil, fmt.Errorf("pixelformat: source buffer is %d bytes, want %d", len(src), w*h*4)
	}
	if err := dst.Validate(); err != nil {
		return nil, err
	}

	if IsStandardBGRA32LE(dst) {
		out := make([]byte, len(src))
		copy(out, src)
		return out, nil
	}

	bytesPerPixel := int(dst.BitsPerPixel) / 8
	out := make([]byte, w*h*bytesPerPixel)

	for i := 0; i < w*h; i++ {
		b := src[i*4+0]
		g := src[i*4+1]
		r := src[i*4+2]

		value := packPixel(r, g, b, dst)
		writePixel(out[i*bytesPerPixel:i*bytesPerPixel+bytesPerPixel], value, dst)
	}

	return out, nil
}

// packPixel scales each 8-bit channel down to the client's max and shifts it
// into place: scale each channel from 8-bit to {red,green,blue}_max by
// integer division.
func packPixel(r, g, b uint8, f Format) uint32 {
	red := uint32(r) * uint32(f.RedMax) / 255
	green := uint32(g) * uint32(f.GreenMax) / 255
	blue := uint32(b) * uint32(f.BlueMax) / 255
	return (red << f.RedShift) | (green << f.GreenShift) | (blue << f.BlueShift)
}

func writePixel(dst []byte, value uint32, f Format) {
	switch f.BitsPerPixel {
	case 8:
		dst[0] = byte(value)
	case 16:
		if f.BigEndian {
			binary.BigEndian.PutUint16(dst, uint16(value))
		} else {
			binary.LittleEndian.PutUint16(dst, uint16(value))
		}
	case 32:
		if f.BigEndian {
			binary.BigEndian.PutUint32(dst, value)
		} else {
			binary.LittleEndian.PutUint32(dst, value)
		}
	}
}

// ExtractRGB reads one pixel's R, G, B 8-bit components back out of encoded
// bytes in format f; used by the JPEG path and by round-trip tests. Each
// component is scaled back up to 8 bits rounding up, so re-packing the
// result in the same format reproduces the original component values.
func ExtractRGB(pixel []byte, f Format) (r, g, b uint8) {
	var value uint32
	switch f.BitsPerPixel {
	case 8:
		value = uint32(pixel[0])
	case 16:
		if f.BigEndian {
			value = uint32(binary.BigEndian.Uint16(pixel))
		} else {
			value = uint32(binary.LittleEndian.Uint16(pixel))
		}
	case 32:
		if f.BigEndian {
			value = binary.BigEndian.Uint32(pixel)
		} else {
			value = binary.LittleEndian.Uint32(pixel)
		}
	}

	red := (value >> f.RedShift) & uint32(f.RedMax)
	green := (value >> f.GreenShift) & uint32(f.GreenMax)
	blue := (value >> f.BlueShift) & uint32(f.BlueMax)

	r = uint8((red*255 + uint32(f.RedMax) - 1) / uint32(f.RedMax))
	g = uint8((green*255 + uint32(f.GreenMax) - 1) / uint32(f.GreenMax))
	b = uint8((blue*255 + uint32(f.BlueMax) - 1) / uint32(f.BlueMax))
	return
}
