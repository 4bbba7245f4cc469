package scheduler

import (
	"github.com/rcarmo/go-vnc-server/internal/pixelformat"
	"github.com/rcarmo/go-vnc-server/internal/rfb"
	"github.com/rcarmo/go-vnc-server/internal/rfbcodec"
	"github.com/rcarmo/go-vnc-server/internal/screen"
)

// cursorAlphaVisibleThreshold is the straight-alpha cutoff above which a
// cursor pixel counts as visible in the Cursor pseudo-encoding's bitmask.
const cursorAlphaVisibleThreshold = 128

// encodeCursorRect builds the Cursor (-239) pseudo-encoding rectangle for
// img: x,y carry the hotspot, w,h the cursor's dimensions, and the body is
// the cursor's pixels in the client's negotiated format followed by a
// row-padded, MSB-first visibility bitmask, per RFC 6143 S7.8.1.
func encodeCursorRect(img screen.CursorImage, format pixelformat.Format) rfb.EncodedRect {
	bgra := rgbaToBGRA(img.Pixels, img.Width, img.Height)
	pixelData, err := pixelformat.Convert(bgra, img.Width, img.Height, format)
	if err != nil {
		pixelData = nil
	}

	maskRowBytes := (img.Width + 7) / 8
	mask := make([]byte, maskRowBytes*img.Height)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			alpha := img.Pixels[(y*img.Width+x)*4+3]
			if alpha < cursorAlphaVisibleThreshold {
				continue
			}
			mask[y*maskRowBytes+x/8] |= 0x80 >> uint(x%8)
		}
	}

	data := make([]byte, 0, len(pixelData)+len(mask))
	data = append(data, pixelData...)
	data = append(data, mask...)

	return rfb.EncodedRect{
		X: img.HotX, Y: img.HotY, W: img.Width, H: img.Height,
		Encoding: rfbcodec.PseudoEncodingCursor,
		Data:     data,
	}
}

// rgbaToBGRA reorders straight-alpha RGBA bytes into the BGRA8888 layout
// pixelformat.Convert expects, discarding alpha (the bitmask carries
// visibility separately).
func rgbaToBGRA(rgba []byte, w, h int) []byte {
	out := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		r := rgba[i*4+0]
		g := rgba[i*4+1]
		b := rgba[i*4+2]
		out[i*4+0] = b
		out[i*4+1] = g
		out[i*4+2] = r
		out[i*4+3] = 0xff
	}
	return out
}
