package rfbcodec

import (
	"compress/flate"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistentStreamFlushProducesIndependentFrames(t *testing.T) {
	s, err := newPersistentStream(flate.DefaultCompression)
	require.NoError(t, err)

	a, err := s.compress([]byte("hello"))
	require.NoError(t, err)
	require.NotEmpty(t, a)

	b, err := s.compress([]byte("hello"))
	require.NoError(t, err)
	require.NotEmpty(t, b)

	// The second call benefits from the first call's dictionary, so it
	// should never be larger, and the two frames are distinct chunks
	// (neither is empty, both delimited by their own flush).
	assert.LessOrEqual(t, len(b), len(a)+1)
}

func TestStreamsTightIndexBounds(t *testing.T) {
	s, err := NewStreams(flate.DefaultCompression, flate.DefaultCompression, flate.DefaultCompression)
	require.NoError(t, err)

	_, err = s.tightCompress(4, []byte("x"))
	assert.Error(t, err)

	_, err = s.tightCompress(0, []byte("x"))
	assert.NoError(t, err)
}
