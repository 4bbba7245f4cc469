package rfbcodec

import (
	"encoding/binary"
	"testing"

	"github.com/rcarmo/go-vnc-server/internal/pixelformat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRRESolidRectHasZeroSubrects(t *testing.T) {
	w, h := 8, 8
	pixels := make([]byte, w*h*4)
	for i := 0; i < len(pixels); i += 4 {
		pixels[i], pixels[i+1], pixels[i+2] = 1, 2, 3
	}
	in := Input{Rect: Rect{W: w, H: h}, Pixels: pixels, Format: pixelformat.Standard32BitBGRA}
	out, err := RREEncoder{}.Encode(in, nil)
	require.NoError(t, err)
	count := binary.BigEndian.Uint32(out[0:4])
	assert.Equal(t, uint32(0), count)
	assert.Len(t, out, 4+4)
}

func TestRREEmitsOneSubrectForSingleForegroundRun(t *testing.T) {
	w, h := 5, 1
	pixels := make([]byte, w*h*4)
	// background everywhere except x=1..2, which carry a distinct colour.
	pixels[1*4+0] = 99
	pixels[2*4+0] = 99
	in := Input{Rect: Rect{W: w, H: h}, Pixels: pixels, Format: pixelformat.Standard32BitBGRA}
	out, err := RREEncoder{}.Encode(in, nil)
	require.NoError(t, err)
	count := binary.BigEndian.Uint32(out[0:4])
	assert.Equal(t, uint32(1), count)
}

// decodeRRE reconstructs the converted pixel buffer a compliant RRE client
// would render from the wire bytes: fill the rectangle with the background
// pixel, then paint each subrectangle over it.
func decodeRRE(data []byte, w, h, bpp int) []byte {
	count := binary.BigEndian.Uint32(data[0:4])
	bg := data[4 : 4+bpp]

	out := make([]byte, w*h*bpp)
	for i := 0; i < w*h; i++ {
		copy(out[i*bpp:i*bpp+bpp], bg)
	}

	off := 4 + bpp
	for i := uint32(0); i < count; i++ {
		pixel := data[off : off+bpp]
		off += bpp
		x := int(binary.BigEndian.Uint16(data[off : off+2]))
		y := int(binary.BigEndian.Uint16(data[off+2 : off+4]))
		rw := int(binary.BigEndian.Uint16(data[off+4 : off+6]))
		rh := int(binary.BigEndian.Uint16(data[off+6 : off+8]))
		off += 8
		for ry := y; ry < y+rh; ry++ {
			for rx := x; rx < x+rw; rx++ {
				di := (ry*w + rx) * bpp
				copy(out[di:di+bpp], pixel)
			}
		}
	}
	return out
}

func TestRRERoundTripMultipleColours(t *testing.T) {
	w, h := 6, 3
	pixels := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := (y*w + x) * 4
			if x == 2 || x == 3 {
				pixels[off], pixels[off+1], pixels[off+2] = 200, 50, 10
			} else if y == 1 && x == 5 {
				pixels[off], pixels[off+1], pixels[off+2] = 1, 2, 3
			}
		}
	}

	in := Input{Rect: Rect{W: w, H: h}, Pixels: pixels, Format: pixelformat.Standard32BitBGRA}
	out, err := RREEncoder{}.Encode(in, nil)
	require.NoError(t, err)

	converted, err := pixelformat.Convert(pixels, w, h, pixelformat.Standard32BitBGRA)
	require.NoError(t, err)

	decoded := decodeRRE(out, w, h, 4)
	assert.Equal(t, converted, decoded)
}
