package input

import "github.com/rcarmo/go-vnc-server/internal/logging"

// DiscardSink accepts client input events and logs them at debug level
// without injecting them anywhere. It exists so the server binary has a
// concrete Sink to run without depending on any platform input-injection
// API, which this module never implements (see package doc).
type DiscardSink struct{}

// NewDiscardSink returns a Sink that discards every event.
func NewDiscardSink() *DiscardSink { return &DiscardSink{} }

func (DiscardSink) InjectKey(down bool, keysym uint32) error {
	logging.Debug("input: key down=%v keysym=%#x (discarded)", down, keysym)
	return nil
}

func (DiscardSink) InjectPointer(buttonMask uint8, x, y int) error {
	logging.Debug("input: pointer mask=%#x x=%d y=%d (discarded)", buttonMask, x, y)
	return nil
}

func (DiscardSink) SetClipboard(text []byte) error {
	logging.Debug("input: clipboard %d bytes (discarded)", len(text))
	return nil
}
