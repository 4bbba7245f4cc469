package rfbcodec

import "encoding/binary"

// CopyRectEncoder emits a 4-byte source-location reference. The caller
// (the scheduler's CopyRect search) must have already verified that the prior
// framebuffer at (SourceX, SourceY, w, h) equals the current pixels at the
// destination rectangle; this encoder does not re-check that, since it has
// no access to the prior snapshot.
type CopyRectEncoder struct{}

func (CopyRectEncoder) ID() int32 { return EncodingCopyRect }

func (CopyRectEncoder) Encode(in Input, _ *Streams) ([]byte, error) {
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], uint16(in.SourceX))
	binary.BigEndian.PutUint16(out[2:4], uint16(in.SourceY))
	return out, nil
}
