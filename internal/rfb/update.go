package rfb

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	serverMsgFramebufferUpdate  = 0
	serverMsgSetColourMapEntries = 1
	serverMsgBell               = 2
	serverMsgServerCutText      = 3
)

// EncodedRect is one already-encoded rectangle ready to be framed into a
// FramebufferUpdate.
type EncodedRect struct {
	X, Y, W, H int
	Encoding   int32
	Data       []byte
}

// WriteFramebufferUpdate frames zero or more already-encoded rectangles
// into one FramebufferUpdate server message.
func WriteFramebufferUpdate(w io.Writer, rects []EncodedRect) error {
	header := make([]byte, 4)
	header[0] = serverMsgFramebufferUpdate
	binary.BigEndian.PutUint16(header[2:4], uint16(len(rects)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("rfb: writing FramebufferUpdate header: %w", err)
	}

	for _, rect := range rects {
		rectHeader := make([]byte, 12)
		binary.BigEndian.PutUint16(rectHeader[0:2], uint16(rect.X))
		binary.BigEndian.PutUint16(rectHeader[2:4], uint16(rect.Y))
		binary.BigEndian.PutUint16(rectHeader[4:6], uint16(rect.W))
		binary.BigEndian.PutUint16(rectHeader[6:8], uint16(rect.H))
		binary.BigEndian.PutUint32(rectHeader[8:12], uint32(rect.Encoding))
		if _, err := w.Write(rectHeader); err != nil {
			return fmt.Errorf("rfb: writing rectangle header: %w", err)
		}
		if len(rect.Data) > 0 {
			if _, err := w.Write(rect.Data); err != nil {
				return fmt.Errorf("rfb: writing rectangle body: %w", err)
			}
		}
	}
	return nil
}

// WriteBell sends the Bell server message.
func WriteBell(w io.Writer) error {
	_, err := w.Write([]byte{serverMsgBell})
	return err
}

// WriteServerCutText sends a ServerCutText server message.
func WriteServerCutText(w io.Writer, text []byte) error {
	header := make([]byte, 7)
	header[0] = serverMsgServerCutText
	binary.BigEndian.PutUint32(header[3:7], uint32(len(text)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("rfb: writing ServerCutText header: %w", err)
	}
	_, err := w.Write(text)
	return err
}
