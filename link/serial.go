// Package link provides the upward-facing UART transport that carries
// multiplexer frames between gsm07010.Connection and a real modem.
package link

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/term"
	"golang.org/x/sys/unix"
)

func defaultLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
}

var validBauds = map[int]bool{
	1200: true, 2400: true, 4800: true, 9600: true,
	19200: true, 38400: true, 57600: true, 115200: true,
	230400: true, 460800: true, 921600: true,
}

// Serial is a raw-mode UART connection to a modem. It implements
// gsm07010.Link (WriteLink) and gsm07010.LinkRoom (CharsInBuffer), so a
// Connection can be constructed directly on top of one.
type Serial struct {
	name string
	fd   *term.Term
	log  *log.Logger

	mu     sync.Mutex
	closed bool
}

// Open opens device (e.g. "/dev/ttyUSB0" or "/dev/rfcomm0") in raw mode
// at baud bps. baud of 0 leaves the port's current speed alone, the
// same "leave it alone" convention the original transport used.
func Open(device string, baud int, logger *log.Logger) (*Serial, error) {
	if logger == nil {
		logger = defaultLogger()
	}
	fd, err := term.Open(device, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("link: open %s: %w", device, err)
	}

	switch {
	case baud == 0:
	case validBauds[baud]:
		if err := fd.SetSpeed(baud); err != nil {
			fd.Close()
			return nil, fmt.Errorf("link: set speed %d on %s: %w", baud, device, err)
		}
	default:
		logger.Warn("unsupported baud rate, leaving port speed unchanged", "device", device, "baud", baud)
	}

	return &Serial{
		name: device,
		fd:   fd,
		log:  logger.With("component", "link", "device", device),
	}, nil
}

// WriteLink satisfies gsm07010.Link.
func (s *Serial) WriteLink(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("link: write on closed port %s", s.name)
	}
	n, err := s.fd.Write(p)
	if err != nil {
		return n, fmt.Errorf("link: write to %s: %w", s.name, err)
	}
	return n, nil
}

// CharsInBuffer satisfies gsm07010.LinkRoom by querying the kernel's
// pending output queue length (TIOCOUTQ) for the underlying tty. A
// failed ioctl is reported as zero, assuming there's room, rather
// than blocking the scheduler on a link that doesn't support it.
func (s *Serial) CharsInBuffer() int {
	s.mu.Lock()
	fd := s.fd
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0
	}
	n, err := unix.IoctlGetInt(int(fd.Fd()), unix.TIOCOUTQ)
	if err != nil {
		return 0
	}
	return n
}

// ReadLoop blocks reading bytes from the port and delivers each chunk
// to onBytes, until ctx is cancelled or the port is closed. onBytes is
// expected to be gsm07010.Connection.LinkBytes, or something that
// forwards to it; ReadLoop calls it from its own single goroutine, so
// a Connection's single-caller requirement for LinkBytes is satisfied
// automatically.
func (s *Serial) ReadLoop(ctx context.Context, onBytes func([]byte)) error {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	buf := make([]byte, 4096)
	for {
		n, err := s.fd.Read(buf)
		if n > 0 {
			onBytes(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("link: read from %s: %w", s.name, err)
		}
	}
}

// Close releases the underlying port. It unblocks any goroutine
// blocked in ReadLoop, which then returns.
func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.fd.Close()
}
