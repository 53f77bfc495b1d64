package gsm07010

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Link is the external collaborator's upward-facing byte transport:
// the UART to the modem, in production; anything io.Writer-shaped in
// tests. WriteLink may accept fewer bytes than requested; a short
// write is treated as frame loss, not retried.
type Link interface {
	WriteLink(p []byte) (int, error)
}

// LinkRoom is an optional capability a Link may implement to report
// how much buffer space remains, letting the send scheduler decide
// whether the next candidate frame will fit. A Link
// that doesn't implement it is always assumed to have room; the
// scheduler then relies solely on WriteLink's return value.
type LinkRoom interface {
	CharsInBuffer() int
}

// maxLinkBufferChars bounds how much unsent data the scheduler will
// assume the link can hold when a Link implements LinkRoom, matching
// TS0710MUX_MAX_CHARS_IN_BUF from the original driver.
const maxLinkBufferChars = 65535

// Option configures a Connection at construction time.
type Option func(*Connection)

// WithInitiator sets the local role for SABM/UA C/R bit conventions.
// Default true (we open the link).
func WithInitiator(initiator bool) Option {
	return func(c *Connection) { c.initiator = initiator }
}

// WithChannels sets the number of DLCI table entries, including DLCI
// 0. Default 4, matching the reference Siemens MC55i modem.
func WithChannels(n int) Option {
	return func(c *Connection) { c.numDLCI = n }
}

// WithMTU sets the MTU proposed during PN negotiation. Default 98
// (DEF_TS0710_MTU).
func WithMTU(mtu int) Option {
	return func(c *Connection) { c.proposedMTU = mtu }
}

// WithLogger overrides the default stderr charmbracelet/log logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Connection) { c.log = l }
}

// Connection is the multiplexer engine for one serial link, owning
// the DLCI table and two cooperative workers (send and post-receive
// drain). Inbound frames are not handed to a worker: they are
// dispatched on the goroutine that calls LinkBytes.
type Connection struct {
	initiator   bool
	numDLCI     int
	proposedMTU int
	log         *log.Logger

	link    Link
	writeMu sync.Mutex // serializes all writes onto the link

	recvBuf *receiveBuffer

	mu             sync.Mutex
	dlcis          []*dlciEntry
	lastBlockedIdx int
	openDataChans  int
	closed         bool

	sendWorker     *worker
	postRecvWorker *worker

	testMu       sync.Mutex
	testActive   bool
	testErrs     uint32
	testExpected []byte
	testDone     chan struct{}
}

// NewConnection creates the engine bound to link. DLCI 0 (the control
// channel) and every data DLCI start DISCONNECTED; nothing is written
// to the link until the caller opens a channel.
func NewConnection(link Link, opts ...Option) *Connection {
	c := &Connection{
		initiator:   true,
		numDLCI:     4,
		proposedMTU: defaultMTU,
		log:         newDefaultLogger(),
		link:        link,
		testDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.dlcis = make([]*dlciEntry, c.numDLCI)
	for i := range c.dlcis {
		c.dlcis[i] = newDLCIEntry(i)
	}
	c.recvBuf = newReceiveBuffer(defaultRecvBufCapacity, c.log.With("component", "recvbuf"))

	c.sendWorker = newWorker(c.runSendPass)
	c.postRecvWorker = newWorker(c.runPostRecvPass)
	return c
}

func (c *Connection) dlci(n int) (*dlciEntry, error) {
	if n < 0 || n >= c.numDLCI {
		return nil, fmt.Errorf("%w: %d", ErrNoChannel, n)
	}
	return c.dlcis[n], nil
}

// maxFrameLen bounds how large a declared frame length the receive
// buffer will accept before discarding it as oversized: the
// configured MTU (no negotiated MTU exceeds it) plus
// shortUIHHdrSize+4 bytes of room for the header, FCS and flag octets.
func (c *Connection) maxFrameLen() int {
	return c.proposedMTU + shortUIHHdrSize + 4
}

// LinkBytes delivers bytes received from the external link. It must
// be called from a single goroutine (or externally serialized): the
// receive buffer itself is not safe for concurrent feed() calls.
func (c *Connection) LinkBytes(data []byte) {
	c.recvBuf.feed(data, c.maxFrameLen(), c.dispatchFrame)
}

// writeFrame sends a fully-encoded frame directly to the link,
// serialized against every other writer (scheduler pass or
// synchronous control-channel reply).
func (c *Connection) writeFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	n, err := c.link.WriteLink(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return fmt.Errorf("gsm07010: partial link write (%d of %d bytes), frame lost", n, len(frame))
	}
	return nil
}

func (c *Connection) sendSABM(dlci int) error {
	return c.writeFrame(encodeControlFrame(dlci, c.initiator, FrameSABM))
}

func (c *Connection) sendUA(dlci int) error {
	return c.writeFrame(encodeControlFrame(dlci, !c.initiator, FrameUA))
}

func (c *Connection) sendDM(dlci int) error {
	return c.writeFrame(encodeControlFrame(dlci, !c.initiator, FrameDM))
}

func (c *Connection) sendDISC(dlci int) error {
	return c.writeFrame(encodeControlFrame(dlci, c.initiator, FrameDISC))
}

// dispatchFrame is the receive buffer's callback for one fully
// decoded, CRC-valid frame.
func (c *Connection) dispatchFrame(df DecodedFrame) {
	entry, err := c.dlci(df.DLCI)
	if err != nil {
		c.log.Warn("frame on unknown dlci, sending DM", "dlci", df.DLCI)
		_ = c.sendDM(df.DLCI)
		return
	}

	switch df.Kind {
	case FrameSABM:
		c.handleSABM(entry)
	case FrameUA:
		c.handleUA(entry)
	case FrameDM:
		c.handleDM(entry)
	case FrameDISC:
		c.handleDISC(entry)
	case FrameUIH:
		c.handleUIH(entry, df)
	}
}

func (c *Connection) handleSABM(d *dlciEntry) {
	c.log.Info("SABM received", "dlci", d.num)
	if err := c.sendUA(d.num); err != nil {
		c.log.Warn("failed to send UA", "dlci", d.num, "err", err)
	}
	d.setState(StateConnected)
}

func (c *Connection) handleUA(d *dlciEntry) {
	c.log.Info("UA received", "dlci", d.num)
	state := d.getState()
	switch state {
	case StateConnecting:
		d.setState(StateConnected)
	case StateDisconnecting:
		if d.num == 0 {
			c.teardownAll()
		} else {
			d.reset()
		}
	default:
		c.log.Warn("unexpected UA", "dlci", d.num, "state", state)
	}
}

func (c *Connection) handleDM(d *dlciEntry) {
	c.log.Info("DM received", "dlci", d.num)
	if d.num == 0 {
		wasConnecting := d.getState() == StateConnecting
		c.teardownAll()
		if wasConnecting {
			d.setState(StateRejected)
		}
		return
	}
	if d.getState() == StateConnecting {
		d.setState(StateRejected)
	} else {
		d.reset()
	}
}

func (c *Connection) handleDISC(d *dlciEntry) {
	c.log.Info("DISC received", "dlci", d.num)
	if err := c.sendUA(d.num); err != nil {
		c.log.Warn("failed to send UA for DISC", "dlci", d.num, "err", err)
	}
	if d.num == 0 {
		c.teardownAll()
		return
	}
	d.reset()
}

// teardownAll implements ts0710_upon_disconnect: every DLCI drops to
// DISCONNECTED, every waiter wakes, and the in-flight test (if any) is
// abandoned.
func (c *Connection) teardownAll() {
	for _, d := range c.dlcis {
		d.reset()
	}
	c.testMu.Lock()
	if c.testActive {
		c.testActive = false
		close(c.testDone)
		c.testDone = make(chan struct{})
	}
	c.testMu.Unlock()

	c.mu.Lock()
	c.openDataChans = 0
	c.mu.Unlock()
}

// Close tears the connection down without notifying the peer,
// intended for link loss. For a graceful shutdown use a Channel's
// Close, which sends CLD when the last data channel goes away.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.teardownAll()
	c.sendWorker.stop()
	c.postRecvWorker.stop()
	return nil
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// openDLCI0 brings the control channel up if it is not already, with
// the retry/timeout policy (2.5s per attempt, up to 10 attempts).
func (c *Connection) openDLCI0(ctx context.Context) error {
	d := c.dlcis[0]
	if d.getState() == StateConnected || d.getState() == StateFlowStopped {
		return nil
	}

	d.mu.Lock()
	d.initiator = c.initiator
	d.mu.Unlock()
	d.setState(StateConnecting)

	for attempt := 0; attempt < openRetryDLCI0; attempt++ {
		if err := c.sendSABM(0); err != nil {
			c.log.Warn("SABM write failed", "dlci", 0, "err", err)
		}
		state, ok := d.waitForState(ctx, retryInterval, func(s State) bool {
			return s == StateConnected || s == StateFlowStopped || s == StateRejected
		})
		if ok {
			if state == StateRejected {
				return ErrRejected
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return ErrTimeout
}

// openDataChannel drives DISCONNECTED -> NEGOTIATING -> CONNECTING ->
// CONNECTED for a data DLCI, bringing DLCI 0 up first.
func (c *Connection) openDataChannel(ctx context.Context, dlci int) error {
	if dlci == 0 {
		return c.openDLCI0(ctx)
	}
	d, err := c.dlci(dlci)
	if err != nil {
		return err
	}
	if d.getState() == StateConnected || d.getState() == StateFlowStopped {
		return nil
	}

	if err := c.openDLCI0(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	d.initiator = c.initiator
	d.initiated = true
	d.mtu = c.proposedMTU
	d.mu.Unlock()
	d.setState(StateNegotiating)

	if err := c.sendMCC(mccPN, true, encodePN(pnBody{DLCI: dlci, FrameSize: c.proposedMTU})); err != nil {
		c.log.Warn("PN write failed", "dlci", dlci, "err", err)
	}
	if _, ok := d.waitForState(ctx, retryInterval*time.Duration(openRetryData), func(s State) bool {
		return s == StateConnecting
	}); !ok {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTimeout
	}

	for attempt := 0; attempt < openRetryData; attempt++ {
		if err := c.sendSABM(dlci); err != nil {
			c.log.Warn("SABM write failed", "dlci", dlci, "err", err)
		}
		state, ok := d.waitForState(ctx, retryInterval, func(s State) bool {
			return s == StateConnected || s == StateRejected
		})
		if ok {
			if state == StateRejected {
				return ErrRejected
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return ErrTimeout
}

// closeDataChannel drives CONNECTED -> DISCONNECTING -> DISCONNECTED,
// retrying DISC up to discRetryCount times.
func (c *Connection) closeDataChannel(ctx context.Context, dlci int) error {
	d, err := c.dlci(dlci)
	if err != nil {
		return err
	}
	state := d.getState()
	if state == StateDisconnected || state == StateRejected {
		return nil
	}
	if state == StateDisconnecting {
		return nil // reentrant close already in progress
	}

	d.setState(StateDisconnecting)
	for attempt := 0; attempt < discRetryCount; attempt++ {
		if err := c.sendDISC(dlci); err != nil {
			c.log.Warn("DISC write failed", "dlci", dlci, "err", err)
		}
		_, ok := d.waitForState(ctx, retryInterval, func(s State) bool {
			return s == StateDisconnected
		})
		if ok {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}

	if d.getState() != StateDisconnected {
		if dlci == 0 {
			c.teardownAll()
		} else {
			d.reset()
		}
	}
	return nil
}
