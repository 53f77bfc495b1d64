package gsm07010

// maxInboundBytes is the per-DLCI inbound buffer watermark: once
// queued bytes exceed it we ask the peer to pause (MSC FC=1); once
// they drain back below the low watermark we ask it to resume.
const (
	maxInboundBytes     = 4096
	inboundLowWatermark = maxInboundBytes / 4

	// maxInboundHardLimit is the hard drop ceiling for a DLCI's total
	// queued inbound bytes (the original's literal 8192), independent of
	// the throttle watermark above: a peer that keeps sending after
	// being asked to pause gets discarded rather than queued forever.
	maxInboundHardLimit = 8192
)

// enqueueInbound appends a UIH payload to d's inbound queue and, if
// doing so crosses the high watermark, marks the DLCI throttled and
// asks the peer to pause (MSC FC=1). Payloads larger
// than the negotiated MTU, and payloads that would push the queue
// past the hard limit, are logged and dropped instead of queued.
func (c *Connection) enqueueInbound(d *dlciEntry, payload []byte) {
	if len(payload) == 0 {
		return
	}

	d.mu.Lock()
	mtu := d.mtu
	d.mu.Unlock()
	if len(payload) > mtu {
		c.log.Warn("uih payload exceeds negotiated mtu, discarding", "dlci", d.num, "len", len(payload), "mtu", mtu)
		return
	}

	buf := append([]byte(nil), payload...)

	d.inbound.mu.Lock()
	if d.inbound.total+len(buf) > maxInboundHardLimit {
		d.inbound.mu.Unlock()
		c.log.Warn("inbound queue over hard limit, discarding", "dlci", d.num, "total", d.inbound.total, "incoming", len(buf))
		return
	}
	d.inbound.overflow = append(d.inbound.overflow, buf)
	d.inbound.total += len(buf)
	crossedHigh := d.inbound.total > maxInboundBytes && !d.inbound.throttled
	if crossedHigh {
		d.inbound.throttled = true
	}
	d.inbound.signal()
	d.inbound.mu.Unlock()

	if crossedHigh {
		if err := c.sendMSC(d.num, true); err != nil {
			c.log.Warn("failed to send throttle MSC", "dlci", d.num, "err", err)
		}
	}
}

// drainInbound removes up to len(out) bytes from d's inbound queue, merging
// the head buffer and the overflow list as needed. It returns the
// number of bytes removed and schedules an unthrottle check.
func (c *Connection) drainInbound(d *dlciEntry, out []byte) int {
	d.inbound.mu.Lock()
	n := 0
	for n < len(out) {
		if len(d.inbound.head) == 0 {
			if len(d.inbound.overflow) == 0 {
				break
			}
			d.inbound.head = d.inbound.overflow[0]
			d.inbound.overflow = d.inbound.overflow[1:]
		}
		copied := copy(out[n:], d.inbound.head)
		d.inbound.head = d.inbound.head[copied:]
		n += copied
	}
	d.inbound.total -= n
	crossedLow := d.inbound.throttled && d.inbound.total <= inboundLowWatermark && !d.inbound.postUnthrottle
	if crossedLow {
		d.inbound.postUnthrottle = true
	}
	d.inbound.mu.Unlock()

	if crossedLow {
		c.postRecvWorker.schedule()
	}
	return n
}

// inboundLen reports how many bytes are currently queued for d.
func (d *dlciEntry) inboundLen() int {
	d.inbound.mu.Lock()
	defer d.inbound.mu.Unlock()
	return d.inbound.total
}

// runPostRecvPass is the post-receive worker body: it looks for data
// DLCIs whose queue has drained below the low watermark since being
// throttled and tells the peer it may resume sending.
func (c *Connection) runPostRecvPass() {
	for _, d := range c.dlcis {
		if d.num == 0 {
			continue
		}
		d.inbound.mu.Lock()
		pending := d.inbound.postUnthrottle
		if pending {
			d.inbound.postUnthrottle = false
			d.inbound.throttled = false
		}
		d.inbound.mu.Unlock()

		if pending {
			if err := c.sendMSC(d.num, false); err != nil {
				c.log.Warn("failed to send unthrottle MSC", "dlci", d.num, "err", err)
			}
		}
	}
}
