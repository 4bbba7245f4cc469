package rfbcodec

import (
	"bytes"
	"compress/flate"
	"fmt"
	"sync"
)

// defaultJPEGQuality is used until SetJPEGQualityBounds configures the
// connection's actual bounds.
const defaultJPEGQuality = 80

// jpegQualityStep is how far adjustJPEGQuality moves the working quality
// per rectangle, based on the compression ratio it just observed.
const jpegQualityStep = 5

// persistentStream wraps one never-reset DEFLATE context. RFB requires the
// compressor and decompressor to share state across updates, so the
// underlying flate.Writer is created once per connection and flushed —
// never closed or recreated — at each update boundary.
type persistentStream struct {
	buf *bytes.Buffer
	w   *flate.Writer
}

func newPersistentStream(level int) (*persistentStream, error) {
	buf := &bytes.Buffer{}
	w, err := flate.NewWriter(buf, level)
	if err != nil {
		return nil, fmt.Errorf("rfbcodec: creating deflate stream: %w", err)
	}
	return &persistentStream{buf: buf, w: w}, nil
}

// compress writes data through the persistent deflate context and returns
// only the compressed bytes produced since the last call, using a
// Z_SYNC_FLUSH-equivalent flush so the peer can frame each update
// independently.
func (s *persistentStream) compress(data []byte) ([]byte, error) {
	if _, err := s.w.Write(data); err != nil {
		return nil, fmt.Errorf("rfbcodec: writing to deflate stream: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return nil, fmt.Errorf("rfbcodec: flushing deflate stream: %w", err)
	}
	out := make([]byte, s.buf.Len())
	copy(out, s.buf.Bytes())
	s.buf.Reset()
	return out, nil
}

// Streams holds the six persistent compression contexts a connection may
// need: one for ZRLE, one for the standalone Zlib encoding, and four
// independent contexts for Tight, addressed by stream id 0-3 (TightEncoder
// always uses stream 0). They are created once at session init and
// destroyed only when the connection closes.
type Streams struct {
	zrle  *persistentStream
	zlib  *persistentStream
	tight [4]*persistentStream

	jpegMu                     sync.Mutex
	jpegQuality                int
	jpegQualityMin, jpegQualityMax int
}

// NewStreams allocates the persistent compression contexts for one
// connection at the given DEFLATE compression levels.
func NewStreams(zrleLevel, zlibLevel, tightLevel int) (*Streams, error) {
	s := &Streams{}
	var err error
	if s.zrle, err = newPersistentStream(zrleLevel); err != nil {
		return nil, err
	}
	if s.zlib, err = newPersistentStream(zlibLevel); err != nil {
		return nil, err
	}
	for i := range s.tight {
		if s.tight[i], err = newPersistentStream(tightLevel); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Streams) zrleCompress(data []byte) ([]byte, error) { return s.zrle.compress(data) }
func (s *Streams) zlibCompress(data []byte) ([]byte, error) { return s.zlib.compress(data) }

func (s *Streams) tightCompress(streamID int, data []byte) ([]byte, error) {
	if streamID < 0 || streamID >= len(s.tight) {
		return nil, fmt.Errorf("rfbcodec: invalid tight stream id %d", streamID)
	}
	return s.tight[streamID].compress(data)
}

// SetJPEGQualityBounds configures the adaptive JPEG quality range TightEncoder
// draws from for this connection. Called once at session setup; a Streams
// that never has this called keeps using defaultJPEGQuality unadjusted.
func (s *Streams) SetJPEGQualityBounds(initial, min, max int) {
	s.jpegMu.Lock()
	defer s.jpegMu.Unlock()
	s.jpegQuality = initial
	s.jpegQualityMin = min
	s.jpegQualityMax = max
}

// currentJPEGQuality returns the quality TightEncoder should use for the
// next JPEG-subencoded rectangle.
func (s *Streams) currentJPEGQuality() int {
	s.jpegMu.Lock()
	defer s.jpegMu.Unlock()
	if s.jpegQuality == 0 {
		return defaultJPEGQuality
	}
	return s.jpegQuality
}

// adjustJPEGQuality nudges the working quality down when a just-encoded
// rectangle compressed poorly (high bytes-per-pixel, meaning the content was
// too detailed for the current quality to shrink well) and up when it
// compressed well, clamped to the configured bounds.
func (s *Streams) adjustJPEGQuality(bytesPerPixel float64) {
	s.jpegMu.Lock()
	defer s.jpegMu.Unlock()

	min, max := s.jpegQualityMin, s.jpegQualityMax
	if min == 0 && max == 0 {
		min, max = defaultJPEGQuality, defaultJPEGQuality
	}
	cur := s.jpegQuality
	if cur == 0 {
		cur = defaultJPEGQuality
	}

	switch {
	case bytesPerPixel > 0.5:
		cur -= jpegQualityStep
	case bytesPerPixel < 0.15:
		cur += jpegQualityStep
	}
	if cur < min {
		cur = min
	}
	if cur > max {
		cur = max
	}
	s.jpegQuality = cur
}
