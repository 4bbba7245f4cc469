package rfbcodec

import (
	"bytes"
	"compress/flate"
	"testing"

	"github.com/rcarmo/go-vnc-server/internal/pixelformat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTightFillModeForSolidRect(t *testing.T) {
	w, h := 8, 8
	pixels := make([]byte, w*h*4)
	for i := 0; i < len(pixels); i += 4 {
		pixels[i], pixels[i+1], pixels[i+2] = 9, 8, 7
	}
	streams, err := NewStreams(flate.DefaultCompression, flate.DefaultCompression, flate.DefaultCompression)
	require.NoError(t, err)

	in := Input{Rect: Rect{W: w, H: h}, Pixels: pixels, Format: pixelformat.Standard32BitBGRA}
	out, err := TightEncoder{}.Encode(in, streams)
	require.NoError(t, err)
	require.Len(t, out, 1+3)
	assert.Equal(t, byte(tightCtrlFill), out[0])
}

func TestTightBasicModeForBusyRect(t *testing.T) {
	w, h := 16, 16
	pixels := make([]byte, w*h*4)
	for i := range pixels {
		pixels[i] = byte(i % 255)
	}
	streams, err := NewStreams(flate.DefaultCompression, flate.DefaultCompression, flate.DefaultCompression)
	require.NoError(t, err)

	in := Input{Rect: Rect{W: w, H: h}, Pixels: pixels, Format: pixelformat.Standard32BitBGRA}
	out, err := TightEncoder{}.Encode(in, streams)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, byte(tightCtrlBasic), out[0])
}

func TestTightJPEGModeAboveThreshold(t *testing.T) {
	w, h := 80, 80
	pixels := make([]byte, w*h*4)
	for i := range pixels {
		pixels[i] = byte(i % 255)
	}
	streams, err := NewStreams(flate.DefaultCompression, flate.DefaultCompression, flate.DefaultCompression)
	require.NoError(t, err)

	in := Input{Rect: Rect{W: w, H: h}, Pixels: pixels, Format: pixelformat.Standard32BitBGRA}
	out, err := TightEncoder{AllowJPEG: true}.Encode(in, streams)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, byte(tightCtrlJPEG), out[0])
}

func TestCompactLengthRoundTrip(t *testing.T) {
	cases := []int{0, 1, 127, 128, 16383, 16384, 2097151}
	for _, n := range cases {
		var buf bytes.Buffer
		writeCompactLength(&buf, n)
		got := readCompactLengthForTest(buf.Bytes())
		assert.Equal(t, n, got)
	}
}

func readCompactLengthForTest(data []byte) int {
	n := 0
	shift := uint(0)
	for _, b := range data {
		n |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return n
}
