package rfbcodec

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/rcarmo/go-vnc-server/internal/pixelformat"
)

// encodeJPEGRect renders the converted pixel rectangle into an image.NRGBA
// and runs it through the standard library's baseline JPEG encoder. It is
// only used by TightEncoder, and only above a pixel-area threshold on
// profiles where lossy compression is acceptable. quality is clamped to
// image/jpeg's valid [1,100] range by the caller via the connection's
// configured JPEG quality bounds.
func encodeJPEGRect(pixels []byte, w, h int, f pixelformat.Format, quality int) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	bpp := int(f.BitsPerPixel) / 8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := (y*w + x) * bpp
			r, g, b := pixelformat.ExtractRGB(pixels[off:off+bpp], f)
			i := img.PixOffset(x, y)
			img.Pix[i] = r
			img.Pix[i+1] = g
			img.Pix[i+2] = b
			img.Pix[i+3] = 0xff
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
