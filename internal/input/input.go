// Package input declares the synthetic input injection boundary: keyboard
// and pointer events decoded off the wire, plus the clipboard bridge, are
// handed to this interface rather than any platform API.
package input

// Sink receives decoded client input for injection into the host.
type Sink interface {
	InjectKey(down bool, keysym uint32) error
	InjectPointer(buttonMask uint8, x, y int) error
	SetClipboard(text []byte) error
}
