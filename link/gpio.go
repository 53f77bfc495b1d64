package link

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/warthog618/go-gpiocdev"
)

// HangupWatcher observes a GPIO line driven by the modem's hardware
// hangup/ignition signal, the hardware counterpart to the software
// MSC hangup signal (EA|RTR|DV, with FC and RTC clear) sent over the
// control channel. It is entirely optional: a modem
// wired only for the serial TX/RX pair never needs one.
type HangupWatcher struct {
	line *gpiocdev.Line
	log  *log.Logger
}

// WatchHangup requests offset on chip (e.g. "gpiochip0") as an input
// and invokes onHangup on every falling edge, matching an active-low
// hangup signal. The returned watcher must be closed to release the
// line.
func WatchHangup(chip string, offset int, onHangup func(), logger *log.Logger) (*HangupWatcher, error) {
	if logger == nil {
		logger = defaultLogger()
	}
	w := &HangupWatcher{log: logger.With("component", "link-gpio", "chip", chip, "offset", offset)}

	handler := func(evt gpiocdev.LineEvent) {
		if evt.Type != gpiocdev.LineEventFallingEdge {
			return
		}
		w.log.Info("hangup line asserted")
		onHangup()
	}

	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(handler),
	)
	if err != nil {
		return nil, fmt.Errorf("link: request hangup line %s:%d: %w", chip, offset, err)
	}
	w.line = line
	return w, nil
}

// Close releases the GPIO line.
func (w *HangupWatcher) Close() error {
	if w.line == nil {
		return nil
	}
	return w.line.Close()
}
