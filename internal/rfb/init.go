package rfb

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rcarmo/go-vnc-server/internal/pixelformat"
)

// ReadClientInit reads the one-byte ClientInit message and reports whether
// the client asked to share the desktop with other clients. The server
// always permits sharing regardless of this flag; it's surfaced only for
// logging.
func ReadClientInit(r io.Reader) (shared bool, err error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return false, fmt.Errorf("rfb: reading ClientInit: %w", err)
	}
	return buf[0] != 0, nil
}

// WriteServerInit writes the ServerInit message: framebuffer dimensions,
// the server's current pixel format, and a UTF-8 desktop name.
func WriteServerInit(w io.Writer, width, height int, format pixelformat.Format, name string) error {
	var header [4]byte
	binary.BigEndian.PutUint16(header[0:2], uint16(width))
	binary.BigEndian.PutUint16(header[2:4], uint16(height))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("rfb: writing ServerInit dimensions: %w", err)
	}

	pf := format.Marshal()
	if _, err := w.Write(pf[:]); err != nil {
		return fmt.Errorf("rfb: writing ServerInit pixel format: %w", err)
	}

	return writeString32(w, name)
}
