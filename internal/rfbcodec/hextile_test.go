package rfbcodec

import (
	"testing"

	"github.com/rcarmo/go-vnc-server/internal/pixelformat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHextileSolidTileEmitsBackgroundOnly(t *testing.T) {
	w, h := 16, 16
	pixels := make([]byte, w*h*4)
	for i := 0; i < len(pixels); i += 4 {
		pixels[i], pixels[i+1], pixels[i+2], pixels[i+3] = 10, 20, 30, 0
	}
	in := Input{
		Rect:   Rect{X: 0, Y: 0, W: w, H: h},
		Pixels: pixels,
		Format: pixelformat.Standard32BitBGRA,
	}
	out, err := HextileEncoder{}.Encode(in, nil)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, byte(hextileBackgroundSpecified), out[0])
	assert.Equal(t, 1+4, len(out))
}

func TestHextileMultiTileRectangleSplitsIntoTiles(t *testing.T) {
	w, h := 32, 16
	pixels := make([]byte, w*h*4)
	in := Input{
		Rect:   Rect{X: 0, Y: 0, W: w, H: h},
		Pixels: pixels,
		Format: pixelformat.Standard32BitBGRA,
	}
	out, err := HextileEncoder{}.Encode(in, nil)
	require.NoError(t, err)
	require.NotEmpty(t, out)
}

// decodeHextile reconstructs the converted pixel buffer a compliant
// Hextile client would render from the wire bytes, tracking inherited
// background/foreground state across tiles the same way the encoder does.
func decodeHextile(data []byte, w, h, bpp int) []byte {
	out := make([]byte, w*h*bpp)
	var lastBG, lastFG []byte
	pos := 0

	writeTile := func(tx, ty, tw, th int, tile []byte) {
		for row := 0; row < th; row++ {
			dstOff := ((ty+row)*w + tx) * bpp
			srcOff := row * tw * bpp
			copy(out[dstOff:dstOff+tw*bpp], tile[srcOff:srcOff+tw*bpp])
		}
	}

	for ty := 0; ty < h; ty += hextileTileSize {
		th := hextileTileSize
		if ty+th > h {
			th = h - ty
		}
		for tx := 0; tx < w; tx += hextileTileSize {
			tw := hextileTileSize
			if tx+tw > w {
				tw = w - tx
			}

			flags := data[pos]
			pos++
			if flags&hextileRaw != 0 {
				tile := data[pos : pos+tw*th*bpp]
				pos += tw * th * bpp
				writeTile(tx, ty, tw, th, tile)
				continue
			}

			if flags&hextileBackgroundSpecified != 0 {
				lastBG = append([]byte(nil), data[pos:pos+bpp]...)
				pos += bpp
			}
			if flags&hextileForegroundSpecified != 0 {
				lastFG = append([]byte(nil), data[pos:pos+bpp]...)
				pos += bpp
			}

			tile := make([]byte, tw*th*bpp)
			for i := 0; i < tw*th; i++ {
				copy(tile[i*bpp:i*bpp+bpp], lastBG)
			}

			if flags&hextileAnySubrects != 0 {
				count := int(data[pos])
				pos++
				for i := 0; i < count; i++ {
					var pixel []byte
					if flags&hextileSubrectsColoured != 0 {
						pixel = data[pos : pos+bpp]
						pos += bpp
					} else {
						pixel = lastFG
					}
					xy := data[pos]
					wh := data[pos+1]
					pos += 2
					sx, sy := int(xy>>4), int(xy&0x0f)
					sw, sh := int(wh>>4)+1, int(wh&0x0f)+1
					for ry := sy; ry < sy+sh; ry++ {
						for rx := sx; rx < sx+sw; rx++ {
							di := (ry*tw + rx) * bpp
							copy(tile[di:di+bpp], pixel)
						}
					}
				}
			}
			writeTile(tx, ty, tw, th, tile)
		}
	}
	return out
}

func TestHextileRoundTripAcrossTiles(t *testing.T) {
	w, h := 32, 16
	pixels := make([]byte, w*h*4)
	for i := 0; i < len(pixels); i += 4 {
		pixels[i] = 5 // shared solid background across both tiles
	}
	// A single foreground run inside the second tile.
	for x := 20; x < 23; x++ {
		off := (3*w + x) * 4
		pixels[off], pixels[off+1], pixels[off+2] = 200, 10, 10
	}

	in := Input{Rect: Rect{W: w, H: h}, Pixels: pixels, Format: pixelformat.Standard32BitBGRA}
	out, err := HextileEncoder{}.Encode(in, nil)
	require.NoError(t, err)

	converted, err := pixelformat.Convert(pixels, w, h, pixelformat.Standard32BitBGRA)
	require.NoError(t, err)

	decoded := decodeHextile(out, w, h, 4)
	assert.Equal(t, converted, decoded)
}

func TestHextileRepeatedBackgroundNotResent(t *testing.T) {
	w, h := 32, 16
	pixels := make([]byte, w*h*4)
	for i := 0; i < len(pixels); i += 4 {
		pixels[i] = 5
	}
	in := Input{
		Rect:   Rect{X: 0, Y: 0, W: w, H: h},
		Pixels: pixels,
		Format: pixelformat.Standard32BitBGRA,
	}
	out, err := HextileEncoder{}.Encode(in, nil)
	require.NoError(t, err)
	// Two identical solid tiles: first sends background, second inherits it.
	assert.Equal(t, byte(hextileBackgroundSpecified), out[0])
	assert.Equal(t, byte(0), out[1+4])
}
