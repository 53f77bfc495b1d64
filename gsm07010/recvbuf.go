package gsm07010

import (
	"bytes"

	"github.com/charmbracelet/log"
)

// defaultRecvBufCapacity is the bounded size of the receive buffer,
// matching TS0710MUX_MAX_RECV_BUF_SIZE (2048) in the original driver.
const defaultRecvBufCapacity = 2048

// receiveBuffer accumulates bytes arriving from the external link,
// resynchronises on the flag byte, and extracts complete frames. It
// never blocks: malformed input is logged and discarded, and
// processing always terminates (every branch either advances the
// buffer or returns waiting for more bytes).
type receiveBuffer struct {
	buf      []byte
	capacity int
	log      *log.Logger
}

func newReceiveBuffer(capacity int, logger *log.Logger) *receiveBuffer {
	if capacity <= 0 {
		capacity = defaultRecvBufCapacity
	}
	return &receiveBuffer{capacity: capacity, log: logger}
}

// feed appends newly-arrived link bytes and extracts every complete
// frame it can, calling dispatch for each one in arrival order. Frames
// whose declared length would exceed maxFrameLen are discarded as
// oversized. Residual bytes that do not yet form a complete frame
// remain buffered for the next call.
func (r *receiveBuffer) feed(data []byte, maxFrameLen int, dispatch func(DecodedFrame)) {
	r.buf = append(r.buf, data...)

	for {
		idx := bytes.IndexByte(r.buf, flagByte)
		if idx < 0 {
			if len(r.buf) > r.capacity {
				r.log.Debug("dropping unsynchronised bytes with no flag", "n", len(r.buf))
				r.buf = r.buf[len(r.buf)-r.capacity:]
			}
			return
		}
		if idx > 0 {
			r.log.Debug("discarding bytes preceding flag", "n", idx)
			r.buf = r.buf[idx:]
		}

		// Collapse consecutive flags: some modems reuse frame N's
		// closing flag as frame N+1's opening flag, but others send
		// both distinct flags back to back.
		for len(r.buf) > 1 && r.buf[1] == flagByte {
			r.buf = r.buf[1:]
		}

		if len(r.buf) < 2 {
			return // only the flag itself so far; wait for more
		}

		rest := r.buf[1:]
		totalLen, ok := peekFrameLength(rest)
		if !ok {
			return // not enough header bytes yet to know the length
		}

		if totalLen > maxFrameLen {
			r.log.Warn("discarding oversized frame", "declared_len", totalLen, "limit", maxFrameLen)
			r.buf = r.buf[1:]
			continue
		}

		if len(rest) < totalLen {
			return // header parsed, but payload/fcs/flag not all here yet
		}

		frameBody := rest[:totalLen-1]
		trailing := rest[totalLen-1]
		if trailing != flagByte {
			r.log.Warn("frame missing trailing flag, resyncing")
			r.buf = r.buf[1:]
			continue
		}

		df, _, err := decodeFrame(frameBody)
		if err != nil {
			r.log.Warn("discarding malformed frame", "err", err)
		} else {
			dispatch(df)
		}

		// Leave the trailing flag in the buffer: it may double as the
		// next frame's opening flag (shared-flag modems), and the
		// next loop iteration's flag scan handles either case.
		r.buf = r.buf[totalLen:]
	}
}
