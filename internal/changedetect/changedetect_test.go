package changedetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func solidFrame(w, h int, value byte) []byte {
	px := make([]byte, w*h*4)
	for i := range px {
		px[i] = value
	}
	return px
}

func TestFirstDetectReportsEverythingDirty(t *testing.T) {
	d := New(128, 128)
	rects := d.Detect(solidFrame(128, 128, 0), 128, 128)
	requireNonEmpty(t, rects)
}

func TestIdempotenceOnIdenticalFrames(t *testing.T) {
	// Detecting the same frame twice in a row must report nothing dirty.
	d := New(128, 128)
	frame := solidFrame(128, 128, 7)
	d.Detect(frame, 128, 128)
	rects := d.Detect(frame, 128, 128)
	assert.Empty(t, rects)
}

func TestCoverageOfChangedPixel(t *testing.T) {
	// The union of emitted rectangles must contain every pixel that changed.
	d := New(128, 128)
	frame := solidFrame(128, 128, 0)
	d.Detect(frame, 128, 128)

	frame2 := make([]byte, len(frame))
	copy(frame2, frame)
	changedX, changedY := 70, 70
	off := (changedY*128 + changedX) * 4
	frame2[off] = 255

	rects := d.Detect(frame2, 128, 128)
	assert.True(t, pointCovered(rects, changedX, changedY))
}

func TestFullFramebufferWhenMostlyDirty(t *testing.T) {
	d := New(128, 128)
	d.Detect(solidFrame(128, 128, 0), 128, 128)
	rects := d.Detect(solidFrame(128, 128, 1), 128, 128)
	requireNonEmpty(t, rects)
	assert.Len(t, rects, 1)
	assert.Equal(t, Rect{0, 0, 128, 128}, rects[0])
}

func TestRectangleCountIsCapped(t *testing.T) {
	d := New(1024, 1024)
	frame := solidFrame(1024, 1024, 0)
	d.Detect(frame, 1024, 1024)

	// Dirty every third 64x64 tile along the diagonals, (row+col)%3 == 0
	// (kept under the 75% full-update threshold), to force many disjoint
	// components.
	frame2 := make([]byte, len(frame))
	copy(frame2, frame)
	cols := 1024 / TileSize
	rows := 1024 / TileSize
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			if (row+col)%3 != 0 {
				continue
			}
			x, y := col*TileSize, row*TileSize
			off := (y*1024 + x) * 4
			frame2[off] = 255
		}
	}

	rects := d.Detect(frame2, 1024, 1024)
	assert.LessOrEqual(t, len(rects), maxRectangles)
}

func TestConsecutiveCleanFrames(t *testing.T) {
	d := New(64, 64)
	frame := solidFrame(64, 64, 3)
	d.Detect(frame, 64, 64) // first frame always dirty
	assert.Equal(t, 0, d.ConsecutiveCleanFrames())
	d.Detect(frame, 64, 64)
	assert.Equal(t, 1, d.ConsecutiveCleanFrames())
	d.Detect(frame, 64, 64)
	assert.Equal(t, 2, d.ConsecutiveCleanFrames())
}

func pointCovered(rects []Rect, x, y int) bool {
	for _, r := range rects {
		if x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H {
			return true
		}
	}
	return false
}

func requireNonEmpty(t *testing.T, rects []Rect) {
	t.Helper()
	if len(rects) == 0 {
		t.Fatalf("expected at least one dirty rectangle")
	}
}
