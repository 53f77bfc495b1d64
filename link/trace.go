package link

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

// FrameTrace appends one line per Record call (direction, DLCI-less
// raw bytes, hex dump) to a file whose path is an strftime pattern.
// The path is resolved once, in OpenFrameTrace; an open FrameTrace
// keeps writing to that same file and does not rotate it.
type FrameTrace struct {
	mu  sync.Mutex
	w   io.WriteCloser
	log *log.Logger
}

// OpenFrameTrace resolves pattern (an strftime format string, e.g.
// "/var/log/gsm0710mux/%Y%m%d.trace") against the current time and
// appends to the resulting file.
func OpenFrameTrace(pattern string, logger *log.Logger) (*FrameTrace, error) {
	if logger == nil {
		logger = defaultLogger()
	}
	path, err := strftime.Format(pattern, time.Now())
	if err != nil {
		return nil, fmt.Errorf("link: format trace path %q: %w", pattern, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("link: open trace file %s: %w", path, err)
	}
	return &FrameTrace{w: f, log: logger.With("component", "link-trace", "path", path)}, nil
}

// Record appends one line describing a frame that was sent or
// received. dir is typically "TX" or "RX".
func (t *FrameTrace) Record(dir string, frame []byte) {
	ts, err := strftime.Format("%Y-%m-%d %H:%M:%S", time.Now())
	if err != nil {
		ts = time.Now().Format("2006-01-02 15:04:05")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintf(t.w, "%s %s %s\n", ts, dir, hex.EncodeToString(frame)); err != nil {
		t.log.Warn("failed to write frame trace", "err", err)
	}
}

// Close closes the underlying trace file.
func (t *FrameTrace) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.Close()
}
