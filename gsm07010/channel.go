package gsm07010

import "context"

// Channel is the application-facing view of one data DLCI: open it,
// read and write bytes, and close it again. A Connection's DLCI 0 is
// reserved for multiplex control and is never exposed as a Channel.
type Channel struct {
	conn *Connection
	dlci int
}

// OpenChannel brings dlci up (negotiating MTU and the SABM/UA
// handshake if it isn't already connected) and returns a Channel bound
// to it. dlci must be in [1, numDLCI).
func (c *Connection) OpenChannel(ctx context.Context, dlci int) (*Channel, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if dlci <= 0 {
		return nil, ErrNoChannel
	}
	if _, err := c.dlci(dlci); err != nil {
		return nil, err
	}
	if err := c.openDataChannel(ctx, dlci); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.openDataChans++
	c.mu.Unlock()

	return &Channel{conn: c, dlci: dlci}, nil
}

// Write sends p on the channel, returning as soon as it has been
// accepted into the send slot, not once it has reached the peer.
// A single Write copies at most the negotiated MTU minus the 6-byte
// short UIH overhead (shortUIHHdrSize) into one frame; callers that
// need more should call Write again with the remainder.
func (ch *Channel) Write(ctx context.Context, p []byte) (int, error) {
	return ch.conn.writeData(ctx, ch.dlci, p)
}

// Read copies queued inbound bytes into p, returning 0 immediately if
// none are queued. Use WaitReadable to block for more.
func (ch *Channel) Read(p []byte) int {
	d, err := ch.conn.dlci(ch.dlci)
	if err != nil {
		return 0
	}
	return ch.conn.drainInbound(d, p)
}

// WaitReadable blocks until at least one byte is queued, ctx is done,
// or the channel disconnects.
func (ch *Channel) WaitReadable(ctx context.Context) error {
	d, err := ch.conn.dlci(ch.dlci)
	if err != nil {
		return err
	}
	for {
		d.inbound.mu.Lock()
		has := d.inbound.total > 0
		ready := d.inbound.readable
		d.inbound.mu.Unlock()
		if has {
			return nil
		}
		if d.getState() != StateConnected && d.getState() != StateFlowStopped {
			return ErrDisconnected
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sendSlotFullChars is the saturating value CharsInBuffer reports
// while the send slot holds an unflushed frame, signalling
// backpressure to a caller without exposing an exact byte count.
const sendSlotFullChars = 65535

// WriteRoom reports mtu-1 while the channel is CONNECTED, 0
// otherwise. It does not look at the send slot, and a single Write
// copies at most mtu-shortUIHHdrSize bytes.
func (ch *Channel) WriteRoom() int {
	d, err := ch.conn.dlci(ch.dlci)
	if err != nil {
		return 0
	}
	if d.getState() != StateConnected {
		return 0
	}
	d.mu.Lock()
	mtu := d.mtu
	d.mu.Unlock()
	return mtu - 1
}

// CharsInBuffer reports 0 when the send slot is empty, or a
// saturating large value while a frame is still waiting to be
// flushed to the link, mirroring the original driver's
// mux_chars_in_buffer backpressure signal.
func (ch *Channel) CharsInBuffer() int {
	d, err := ch.conn.dlci(ch.dlci)
	if err != nil {
		return 0
	}
	d.slot.mu.Lock()
	filled := d.slot.filled
	d.slot.mu.Unlock()
	if filled {
		return sendSlotFullChars
	}
	return 0
}

// State reports the channel's current DLCI lifecycle state.
func (ch *Channel) State() State {
	d, err := ch.conn.dlci(ch.dlci)
	if err != nil {
		return StateDisconnected
	}
	return d.getState()
}

// Throttle asks the peer to stop sending on this channel immediately,
// independent of the automatic high-watermark throttle.
func (ch *Channel) Throttle() error {
	return ch.conn.sendMSC(ch.dlci, true)
}

// Unthrottle asks the peer to resume sending on this channel. If
// inbound data is still queued above the low watermark it defers,
// marking the DLCI so the same postUnthrottle/post-receive-worker
// path drainInbound uses for the automatic case fires the MSC once
// the backlog has actually cleared, rather than telling the peer to
// resume while it hasn't.
func (ch *Channel) Unthrottle() error {
	d, err := ch.conn.dlci(ch.dlci)
	if err != nil {
		return err
	}

	d.inbound.mu.Lock()
	d.inbound.throttled = true
	fireNow := d.inbound.total <= inboundLowWatermark && !d.inbound.postUnthrottle
	if fireNow {
		d.inbound.postUnthrottle = true
	}
	d.inbound.mu.Unlock()

	if fireNow {
		ch.conn.postRecvWorker.schedule()
	}
	return nil
}

// IoctlHangup sends the modem-hangup MSC signal (V.24 EA|RTR|DV only,
// no RTC or FC) for this channel, matching ioctl(MSC_HANGUP) in the
// original driver.
func (ch *Channel) IoctlHangup() error {
	return ch.conn.sendMSCHangup(ch.dlci)
}

// IoctlTest runs a TEST loopback round trip on the connection and
// reports an error unless it completed with zero mismatches, matching
// ioctl(TEST) in the original driver.
func (ch *Channel) IoctlTest(ctx context.Context) error {
	return ch.conn.RunTest(ctx)
}

// Close drives the DISC handshake for this channel and, if it was the
// last open data channel, sends CLD to tell the peer the whole link is
// going away.
func (ch *Channel) Close(ctx context.Context) error {
	if err := ch.conn.closeDataChannel(ctx, ch.dlci); err != nil {
		return err
	}

	ch.conn.mu.Lock()
	if ch.conn.openDataChans > 0 {
		ch.conn.openDataChans--
	}
	remaining := ch.conn.openDataChans
	ch.conn.mu.Unlock()

	if remaining == 0 {
		if err := ch.conn.sendMCC(mccCLD, true, []byte{0}); err != nil {
			ch.conn.log.Warn("failed to send CLD", "err", err)
		}
		_ = ch.conn.closeDataChannel(ctx, 0)
	}
	return nil
}
