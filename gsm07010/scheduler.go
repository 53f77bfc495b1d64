package gsm07010

import (
	"context"
	"time"
)

// writeData places data in dlci's send slot, blocking until the
// previous pending frame (if any) has drained, then kicks the send
// worker. Only one outbound UIH frame may be pending per DLCI at a
// time (spec's single send slot); a second writer must wait its turn.
func (c *Connection) writeData(ctx context.Context, dlci int, data []byte) (int, error) {
	d, err := c.dlci(dlci)
	if err != nil {
		return 0, err
	}

	for {
		state := d.getState()
		if state == StateDisconnected || state == StateRejected || state == StateDisconnecting {
			return 0, ErrDisconnected
		}
		if state == StateFlowStopped {
			return 0, ErrFlowStopped
		}

		d.mu.Lock()
		mtu := d.mtu
		d.mu.Unlock()
		maxPayload := mtu - shortUIHHdrSize
		n := len(data)
		if n > maxPayload {
			n = maxPayload
		}

		d.slot.mu.Lock()
		if !d.slot.filled {
			frame, err := encodeUIH(dlci, c.initiator, data[:n])
			if err != nil {
				d.slot.mu.Unlock()
				return 0, err
			}
			d.slot.frame = frame
			d.slot.filled = true
			d.slot.mu.Unlock()
			c.sendWorker.schedule()
			return n, nil
		}
		drained := d.slot.drained
		d.slot.mu.Unlock()

		select {
		case <-drained:
			continue
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// runSendPass is the send worker body: round-robins over every DLCI's
// send slot, writing whatever is filled to the link. lastBlockedIdx
// remembers where the previous pass stopped so no DLCI is starved when
// one of them keeps its slot full.
func (c *Connection) runSendPass() {
	c.mu.Lock()
	start := c.lastBlockedIdx
	n := len(c.dlcis)
	c.mu.Unlock()
	if n == 0 {
		return
	}

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		d := c.dlcis[idx]
		if !c.flushSlot(d) {
			return
		}
	}
}

// flushSlot writes d's pending frame, if any, to the link. It returns
// false when the link has no room for the frame; d is then recorded
// as the next pass's starting point.
func (c *Connection) flushSlot(d *dlciEntry) bool {
	d.slot.mu.Lock()
	if !d.slot.filled {
		d.slot.mu.Unlock()
		return true
	}
	frame := d.slot.frame
	d.slot.mu.Unlock()

	if room, ok := c.link.(LinkRoom); ok {
		if room.CharsInBuffer()+len(frame) > maxLinkBufferChars {
			c.mu.Lock()
			c.lastBlockedIdx = d.num
			c.mu.Unlock()
			// Retry this DLCI first next pass instead of spinning now;
			// the scheduler will be kicked again once more link room
			// frees up or another send is requested.
			time.AfterFunc(retryInterval/10, c.sendWorker.schedule)
			return false
		}
	}

	if err := c.writeFrame(frame); err != nil {
		c.log.Warn("send failed", "dlci", d.num, "err", err)
	}

	d.slot.mu.Lock()
	d.slot.frame = nil
	d.slot.filled = false
	close(d.slot.drained)
	d.slot.drained = make(chan struct{})
	d.slot.mu.Unlock()
	return true
}
