package rfbcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyRectEncodesSourceCoordinates(t *testing.T) {
	in := Input{SourceX: 300, SourceY: 17}
	out, err := CopyRectEncoder{}.Encode(in, nil)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, byte(300>>8), out[0])
	assert.Equal(t, byte(300&0xff), out[1])
	assert.Equal(t, byte(0), out[2])
	assert.Equal(t, byte(17), out[3])
}
