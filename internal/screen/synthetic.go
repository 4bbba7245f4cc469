package screen

import "time"

// Synthetic is a Source that paints an animated test pattern instead of
// reading a real display. It exists so the server binary has a concrete
// collaborator to drive without depending on any platform capture API,
// which this module never implements (see package doc).
type Synthetic struct {
	Width, Height int

	frame int
}

// NewSynthetic builds a generator for a width x height BGRA8888 pattern.
func NewSynthetic(width, height int) *Synthetic {
	return &Synthetic{Width: width, Height: height}
}

// Capture ignores region and always returns the full frame; the scheduler
// only ever requests the whole framebuffer area.
func (s *Synthetic) Capture(_ Region) (CaptureResult, error) {
	s.frame++
	pixels := make([]byte, s.Width*s.Height*4)
	shift := byte(s.frame * 2)

	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			i := (y*s.Width + x) * 4
			band := byte((x/32 + y/32) % 2)
			var b, g, r byte
			if band == 0 {
				b, g, r = shift, byte(x), byte(y)
			} else {
				b, g, r = byte(255-int(shift)), byte(255-x), byte(255-y)
			}
			pixels[i+0] = b
			pixels[i+1] = g
			pixels[i+2] = r
			pixels[i+3] = 0xff
		}
	}

	return CaptureResult{
		Pixels:             pixels,
		Width:              s.Width,
		Height:             s.Height,
		MonotonicTimestamp: time.Now(),
	}, nil
}
