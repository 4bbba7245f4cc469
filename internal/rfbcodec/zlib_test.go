package rfbcodec

import (
	"compress/flate"
	"testing"

	"github.com/rcarmo/go-vnc-server/internal/pixelformat"
	"github.com/stretchr/testify/require"
)

func TestZlibEncodeDecompressesToConvertedPixels(t *testing.T) {
	w, h := 4, 4
	pixels := make([]byte, w*h*4)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	streams, err := NewStreams(flate.DefaultCompression, flate.DefaultCompression, flate.DefaultCompression)
	require.NoError(t, err)

	in := Input{Rect: Rect{W: w, H: h}, Pixels: pixels, Format: pixelformat.Standard32BitBGRA}
	compressed, err := ZlibEncoder{}.Encode(in, streams)
	require.NoError(t, err)

	plain := inflate(t, compressed)
	require.Equal(t, pixels, plain)
}
