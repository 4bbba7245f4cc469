package rfb

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rcarmo/go-vnc-server/internal/pixelformat"
)

// Client message type bytes.
const (
	MsgSetPixelFormat           = 0
	MsgSetEncodings             = 2
	MsgFramebufferUpdateRequest = 3
	MsgKeyEvent                 = 4
	MsgPointerEvent             = 5
	MsgClientCutText            = 6
)

// ClientMessage is the decoded form of one client-to-server message.
type ClientMessage interface{ isClientMessage() }

type SetPixelFormatMsg struct{ Format pixelformat.Format }
type SetEncodingsMsg struct{ Encodings []int32 }
type FramebufferUpdateRequestMsg struct {
	Incremental    bool
	X, Y, W, H int
}
type KeyEventMsg struct {
	Down   bool
	Keysym uint32
}
type PointerEventMsg struct {
	ButtonMask uint8
	X, Y       int
}
type ClientCutTextMsg struct{ Text []byte }

func (SetPixelFormatMsg) isClientMessage()           {}
func (SetEncodingsMsg) isClientMessage()             {}
func (FramebufferUpdateRequestMsg) isClientMessage() {}
func (KeyEventMsg) isClientMessage()                 {}
func (PointerEventMsg) isClientMessage()             {}
func (ClientCutTextMsg) isClientMessage()            {}

// ReadClientMessage reads and decodes exactly one client message. An
// unrecognised message type is a protocol error: the byte stream can no
// longer be resynchronised, so the caller must close the connection.
func ReadClientMessage(r io.Reader, maxSetEncodings, maxClientCutText int) (ClientMessage, error) {
	var msgType [1]byte
	if _, err := io.ReadFull(r, msgType[:]); err != nil {
		return nil, err
	}

	switch msgType[0] {
	case MsgSetPixelFormat:
		return readSetPixelFormat(r)
	case MsgSetEncodings:
		return readSetEncodings(r, maxSetEncodings)
	case MsgFramebufferUpdateRequest:
		return readFramebufferUpdateRequest(r)
	case MsgKeyEvent:
		return readKeyEvent(r)
	case MsgPointerEvent:
		return readPointerEvent(r)
	case MsgClientCutText:
		return readClientCutText(r, maxClientCutText)
	default:
		return nil, fmt.Errorf("rfb: unknown client message type %d", msgType[0])
	}
}

func readSetPixelFormat(r io.Reader) (ClientMessage, error) {
	buf := make([]byte, 3+pixelformat.Size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("rfb: reading SetPixelFormat: %w", err)
	}
	format, err := pixelformat.Unmarshal(buf[3:])
	if err != nil {
		return nil, fmt.Errorf("rfb: invalid pixel format: %w", err)
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("rfb: invalid pixel format: %w", err)
	}
	return SetPixelFormatMsg{Format: format}, nil
}

func readSetEncodings(r io.Reader, max int) (ClientMessage, error) {
	var header [3]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("rfb: reading SetEncodings header: %w", err)
	}
	n := int(binary.BigEndian.Uint16(header[1:3]))
	if n > max {
		return nil, fmt.Errorf("rfb: SetEncodings count %d exceeds limit %d", n, max)
	}

	encodings := make([]int32, n)
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("rfb: reading SetEncodings list: %w", err)
	}
	for i := 0; i < n; i++ {
		encodings[i] = int32(binary.BigEndian.Uint32(buf[i*4 : i*4+4]))
	}
	return SetEncodingsMsg{Encodings: encodings}, nil
}

func readFramebufferUpdateRequest(r io.Reader) (ClientMessage, error) {
	buf := make([]byte, 9)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("rfb: reading FramebufferUpdateRequest: %w", err)
	}
	return FramebufferUpdateRequestMsg{
		Incremental: buf[0] != 0,
		X:           int(binary.BigEndian.Uint16(buf[1:3])),
		Y:           int(binary.BigEndian.Uint16(buf[3:5])),
		W:           int(binary.BigEndian.Uint16(buf[5:7])),
		H:           int(binary.BigEndian.Uint16(buf[7:9])),
	}, nil
}

func readKeyEvent(r io.Reader) (ClientMessage, error) {
	buf := make([]byte, 7)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("rfb: reading KeyEvent: %w", err)
	}
	return KeyEventMsg{
		Down:   buf[0] != 0,
		Keysym: binary.BigEndian.Uint32(buf[3:7]),
	}, nil
}

func readPointerEvent(r io.Reader) (ClientMessage, error) {
	buf := make([]byte, 5)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("rfb: reading PointerEvent: %w", err)
	}
	return PointerEventMsg{
		ButtonMask: buf[0],
		X:          int(binary.BigEndian.Uint16(buf[1:3])),
		Y:          int(binary.BigEndian.Uint16(buf[3:5])),
	}, nil
}

func readClientCutText(r io.Reader, maxLen int) (ClientMessage, error) {
	header := make([]byte, 7)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("rfb: reading ClientCutText header: %w", err)
	}
	length := int(binary.BigEndian.Uint32(header[3:7]))
	if length > maxLen {
		return nil, fmt.Errorf("rfb: ClientCutText length %d exceeds limit %d", length, maxLen)
	}
	text := make([]byte, length)
	if _, err := io.ReadFull(r, text); err != nil {
		return nil, fmt.Errorf("rfb: reading ClientCutText body: %w", err)
	}
	return ClientCutTextMsg{Text: text}, nil
}
