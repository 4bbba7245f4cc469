// Package changedetect implements tile-hashed dirty-region tracking that
// drives incremental framebuffer updates.
package changedetect

import (
	"crypto/sha256"
	"sort"
)

// TileSize is the edge length of one change-detection tile.
const TileSize = 64

// maxRectangles caps the number of rectangles emitted per detection pass.
const maxRectangles = 32

// fullUpdateDirtyFraction is the fraction of dirty tiles above which the
// detector gives up on precise regions and reports the whole framebuffer
// dirty.
const fullUpdateDirtyFraction = 0.75

type hash [16]byte

// Detector holds one connection's tile hash state. It is not safe for
// concurrent use; each ClientSession owns exactly one.
type Detector struct {
	width, height int
	cols, rows    int
	hashes        []hash
	seeded        []bool

	consecutiveClean int
}

// New creates a detector for a framebuffer of the given dimensions. Every
// tile starts "unseeded", so the first Detect call reports the whole
// framebuffer dirty.
func New(width, height int) *Detector {
	d := &Detector{width: width, height: height}
	d.resize(width, height)
	return d
}

// Resize reallocates tile state for a new framebuffer size, marking
// everything dirty again (equivalent to "unseeded").
func (d *Detector) Resize(width, height int) {
	d.width, d.height = width, height
	d.resize(width, height)
}

func (d *Detector) resize(width, height int) {
	d.cols = (width + TileSize - 1) / TileSize
	d.rows = (height + TileSize - 1) / TileSize
	n := d.cols * d.rows
	d.hashes = make([]hash, n)
	d.seeded = make([]bool, n)
	d.consecutiveClean = 0
}

// Rect is an axis-aligned framebuffer region.
type Rect struct{ X, Y, W, H int }

// Empty reports whether r covers zero pixels.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// UnionRect returns the smallest rectangle containing both a and b, used to
// merge two FramebufferUpdateRequest regions under request coalescing.
func UnionRect(a, b Rect) Rect {
	if a.Empty() {
		return b
	}
	if b.Empty() {
		return a
	}
	x0, y0 := min(a.X, b.X), min(a.Y, b.Y)
	x1, y1 := max(a.X+a.W, b.X+b.W), max(a.Y+a.H, b.Y+b.H)
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// IntersectRect returns the overlapping region of a and b and whether any
// overlap exists.
func IntersectRect(a, b Rect) (Rect, bool) {
	x0, y0 := max(a.X, b.X), max(a.Y, b.Y)
	x1, y1 := min(a.X+a.W, b.X+b.W), min(a.Y+a.H, b.Y+b.H)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}, false
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}, true
}

// Clamp restricts r to the [0,width) x [0,height) framebuffer bounds.
func Clamp(r Rect, width, height int) Rect {
	x0, y0 := max(r.X, 0), max(r.Y, 0)
	x1, y1 := min(r.X+r.W, width), min(r.Y+r.H, height)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// tileBounds returns the clipped pixel bounds of tile (col,row).
func (d *Detector) tileBounds(col, row int) Rect {
	x := col * TileSize
	y := row * TileSize
	w := TileSize
	if x+w > d.width {
		w = d.width - x
	}
	h := TileSize
	if y+h > d.height {
		h = d.height - y
	}
	return Rect{X: x, Y: y, W: w, H: h}
}

// hashTile computes the content hash of one (clipped) tile. Any
// collision-resistant >=128-bit hash works; sha256 truncated to 16 bytes
// is used here since crypto/sha256 is already in the
// module's standard-library surface.
func hashTile(pixels []byte, width int, r Rect) hash {
	h := sha256.New()
	row := make([]byte, r.W*4)
	for dy := 0; dy < r.H; dy++ {
		off := ((r.Y+dy)*width + r.X) * 4
		copy(row, pixels[off:off+r.W*4])
		h.Write(row)
	}
	sum := h.Sum(nil)
	var out hash
	copy(out[:], sum[:16])
	return out
}

// Detect hashes every tile of the current snapshot, classifies dirty tiles
// against the previously stored hashes, updates the stored hashes, and
// returns a minimal covering set of changed rectangles.
func (d *Detector) Detect(pixels []byte, width, height int) []Rect {
	if width != d.width || height != d.height {
		d.Resize(width, height)
	}

	dirty := make([]bool, len(d.hashes))
	anyDirty := false
	for row := 0; row < d.rows; row++ {
		for col := 0; col < d.cols; col++ {
			idx := row*d.cols + col
			bounds := d.tileBounds(col, row)
			newHash := hashTile(pixels, width, bounds)

			isDirty := !d.seeded[idx] || newHash != d.hashes[idx]
			dirty[idx] = isDirty
			if isDirty {
				anyDirty = true
			}
			d.hashes[idx] = newHash
			d.seeded[idx] = true
		}
	}

	if !anyDirty {
		d.consecutiveClean++
	} else {
		d.consecutiveClean = 0
	}

	dirtyCount := 0
	for _, v := range dirty {
		if v {
			dirtyCount++
		}
	}
	if len(dirty) > 0 && float64(dirtyCount)/float64(len(dirty)) > fullUpdateDirtyFraction {
		return []Rect{{X: 0, Y: 0, W: width, H: height}}
	}

	components := connectedComponents(dirty, d.cols, d.rows)
	rects := make([]Rect, 0, len(components))
	for _, comp := range components {
		rects = append(rects, boundingBox(comp, d))
	}

	rects = mergeOverlapping(rects)
	rects = capRectangles(rects, maxRectangles)

	return rects
}

// ConsecutiveCleanFrames reports how many Detect calls in a row produced no
// dirty tiles, used by the scheduler to decide when ContinuousUpdates
// deferral applies.
func (d *Detector) ConsecutiveCleanFrames() int {
	return d.consecutiveClean
}

type tileCoord struct{ col, row int }

func connectedComponents(dirty []bool, cols, rows int) [][]tileCoord {
	visited := make([]bool, len(dirty))
	var components [][]tileCoord

	idx := func(col, row int) int { return row*cols + col }

	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			i := idx(col, row)
			if !dirty[i] || visited[i] {
				continue
			}
			// BFS over 4-connectivity.
			queue := []tileCoord{{col, row}}
			visited[i] = true
			var comp []tileCoord
			for len(queue) > 0 {
				c := queue[0]
				queue = queue[1:]
				comp = append(comp, c)
				neighbours := []tileCoord{
					{c.col - 1, c.row}, {c.col + 1, c.row},
					{c.col, c.row - 1}, {c.col, c.row + 1},
				}
				for _, n := range neighbours {
					if n.col < 0 || n.col >= cols || n.row < 0 || n.row >= rows {
						continue
					}
					ni := idx(n.col, n.row)
					if !dirty[ni] || visited[ni] {
						continue
					}
					visited[ni] = true
					queue = append(queue, n)
				}
			}
			components = append(components, comp)
		}
	}
	return components
}

func boundingBox(comp []tileCoord, d *Detector) Rect {
	minCol, minRow := comp[0].col, comp[0].row
	maxCol, maxRow := comp[0].col, comp[0].row
	for _, c := range comp {
		if c.col < minCol {
			minCol = c.col
		}
		if c.col > maxCol {
			maxCol = c.col
		}
		if c.row < minRow {
			minRow = c.row
		}
		if c.row > maxRow {
			maxRow = c.row
		}
	}
	topLeft := d.tileBounds(minCol, minRow)
	bottomRight := d.tileBounds(maxCol, maxRow)
	return Rect{
		X: topLeft.X,
		Y: topLeft.Y,
		W: bottomRight.X + bottomRight.W - topLeft.X,
		H: bottomRight.Y + bottomRight.H - topLeft.Y,
	}
}

func overlaps(a, b Rect) bool {
	return a.X < b.X+b.W && b.X < a.X+a.W && a.Y < b.Y+b.H && b.Y < a.Y+a.H
}

func union(a, b Rect) Rect {
	x := min(a.X, b.X)
	y := min(a.Y, b.Y)
	right := max(a.X+a.W, b.X+b.W)
	bottom := max(a.Y+a.H, b.Y+b.H)
	return Rect{X: x, Y: y, W: right - x, H: bottom - y}
}

// mergeOverlapping repeatedly unions any two rectangles whose bounding
// boxes overlap after expansion.
func mergeOverlapping(rects []Rect) []Rect {
	changed := true
	for changed {
		changed = false
		for i := 0; i < len(rects); i++ {
			for j := i + 1; j < len(rects); j++ {
				if overlaps(rects[i], rects[j]) {
					rects[i] = union(rects[i], rects[j])
					rects = append(rects[:j], rects[j+1:]...)
					changed = true
					break
				}
			}
			if changed {
				break
			}
		}
	}
	return rects
}

// capRectangles merges the smallest-gap pairs until the count is within
// limit.
func capRectangles(rects []Rect, limit int) []Rect {
	for len(rects) > limit {
		bi, bj, bestGap := -1, -1, -1
		for i := 0; i < len(rects); i++ {
			for j := i + 1; j < len(rects); j++ {
				gap := gapBetween(rects[i], rects[j])
				if bestGap == -1 || gap < bestGap {
					bestGap, bi, bj = gap, i, j
				}
			}
		}
		rects[bi] = union(rects[bi], rects[bj])
		rects = append(rects[:bj], rects[bj+1:]...)
	}
	sort.Slice(rects, func(i, j int) bool {
		if rects[i].Y != rects[j].Y {
			return rects[i].Y < rects[j].Y
		}
		return rects[i].X < rects[j].X
	})
	return rects
}

func gapBetween(a, b Rect) int {
	dx := 0
	if a.X+a.W < b.X {
		dx = b.X - (a.X + a.W)
	} else if b.X+b.W < a.X {
		dx = a.X - (b.X + b.W)
	}
	dy := 0
	if a.Y+a.H < b.Y {
		dy = b.Y - (a.Y + a.H)
	} else if b.Y+b.H < a.Y {
		dy = a.Y - (b.Y + b.H)
	}
	return dx + dy
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
