package gsm07010

import (
	"context"
	"sync"
	"time"
)

// State is one of the per-DLCI lifecycle states.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateNegotiating
	StateConnected
	StateDisconnecting
	StateFlowStopped
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateNegotiating:
		return "NEGOTIATING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateFlowStopped:
		return "FLOW_STOPPED"
	case StateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Retry/timeout constants, named rather than left as inline literals
// (original: TS0710MUX_TIME_OUT = 250 deciseconds).
const (
	retryInterval   = 2500 * time.Millisecond
	openRetryDLCI0  = 10
	openRetryData   = 3
	discRetryCount  = 3
	defaultMTU      = 98 // DEF_TS0710_MTU, Siemens default
	shortUIHHdrSize = 6  // [flag dlci ctrl len] data [crc flag] overhead
)

// sendSlot is the single pending outbound UIH frame for one DLCI.
// Only one frame may be pending at a time; a second write must wait
// for the slot to drain.
type sendSlot struct {
	mu      sync.Mutex
	frame   []byte
	filled  bool
	drained chan struct{} // closed and replaced whenever the slot becomes empty
}

func newSendSlot() sendSlot {
	return sendSlot{drained: make(chan struct{})}
}

// inboundQueue holds data delivered from the peer on one data DLCI
// until the consumer reads it.
type inboundQueue struct {
	mu             sync.Mutex
	head           []byte // next bytes to be read
	overflow       [][]byte
	total          int // inline + overflow, bounded by maxInboundHardLimit
	throttled      bool
	postUnthrottle bool
	readable       chan struct{} // closed and replaced whenever data is queued or the DLCI is reset
}

func newInboundQueue() *inboundQueue {
	return &inboundQueue{readable: make(chan struct{})}
}

// signal wakes any reader blocked in WaitReadable. Caller must hold q.mu.
func (q *inboundQueue) signal() {
	close(q.readable)
	q.readable = make(chan struct{})
}

// dlciEntry is one row of the DLCI table.
type dlciEntry struct {
	num int

	mu          sync.Mutex
	state       State
	flowControl bool // we asked the peer to stop (sent MSC FC=1)
	initiated   bool
	initiator   bool
	mtu         int
	notify      chan struct{} // closed+replaced on every state transition

	slot    sendSlot
	inbound inboundQueue
}

func newDLCIEntry(num int) *dlciEntry {
	return &dlciEntry{
		num:     num,
		state:   StateDisconnected,
		mtu:     defaultMTU,
		notify:  make(chan struct{}),
		slot:    newSendSlot(),
		inbound: *newInboundQueue(),
	}
}

// setState transitions the DLCI and wakes anyone waiting on it. The
// original driver keeps separate open_wait/close_wait queues; here a
// single notify channel serves both roles since any waiter simply
// re-checks its own predicate.
func (d *dlciEntry) setState(s State) {
	d.mu.Lock()
	d.state = s
	close(d.notify)
	d.notify = make(chan struct{})
	d.mu.Unlock()
}

func (d *dlciEntry) getState() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *dlciEntry) reset() {
	d.mu.Lock()
	d.state = StateDisconnected
	d.flowControl = false
	d.initiated = false
	d.initiator = false
	d.mtu = defaultMTU
	close(d.notify)
	d.notify = make(chan struct{})
	d.mu.Unlock()

	d.slot.mu.Lock()
	d.slot.frame = nil
	d.slot.filled = false
	close(d.slot.drained)
	d.slot.drained = make(chan struct{})
	d.slot.mu.Unlock()

	d.inbound.mu.Lock()
	d.inbound.head = nil
	d.inbound.overflow = nil
	d.inbound.total = 0
	d.inbound.throttled = false
	d.inbound.postUnthrottle = false
	d.inbound.signal()
	d.inbound.mu.Unlock()
}

// waitForState blocks until pred(current state) is true, the deadline
// elapses, or ctx is done. It returns the terminal state observed and
// whether pred was satisfied.
func (d *dlciEntry) waitForState(ctx context.Context, deadline time.Duration, pred func(State) bool) (State, bool) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		d.mu.Lock()
		state := d.state
		ch := d.notify
		d.mu.Unlock()

		if pred(state) {
			return state, true
		}

		select {
		case <-ch:
			continue
		case <-timer.C:
			return state, false
		case <-ctx.Done():
			return state, false
		}
	}
}
