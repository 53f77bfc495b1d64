package gsm07010

import (
	"context"
	"fmt"
	"time"
)

// Multiplex control command (MCC) type values, carried as UIH payload
// on DLCI 0. These are the 6-bit type values straight out of the
// original driver's command table (PN=0x20 etc.), the same bit
// layout as an address octet, just over a command type instead of a
// DLCI: byte = 1 | (cr<<1) | (type<<2).
const (
	mccPN    byte = 0x20
	mccCLD   byte = 0x30
	mccTEST  byte = 0x08
	mccMSC   byte = 0x38
	mccNSC   byte = 0x04
	mccRPN   byte = 0x24
	mccRLS   byte = 0x14
	mccFCON  byte = 0x28
	mccFCOFF byte = 0x18
)

// testPatternLen is the size of the TEST command loopback payload
// (TS0710MUX_SEND_TEST_MSG_SIZE in the original driver).
const testPatternLen = 250

func mccName(t byte) string {
	switch t {
	case mccPN:
		return "PN"
	case mccCLD:
		return "CLD"
	case mccTEST:
		return "TEST"
	case mccMSC:
		return "MSC"
	case mccNSC:
		return "NSC"
	case mccRPN:
		return "RPN"
	case mccRLS:
		return "RLS"
	case mccFCON:
		return "FCON"
	case mccFCOFF:
		return "FCOFF"
	default:
		return fmt.Sprintf("MCC(0x%02x)", t)
	}
}

// mccHeaderByte builds the type octet of an MCC message, sharing the
// EA/CR/value bit layout of a frame address octet.
func mccHeaderByte(cmdType byte, cr bool) byte {
	b := byte(0x01)
	if cr {
		b |= 0x02
	}
	b |= cmdType << 2
	return b
}

// decodeMCCHeader splits an MCC type octet back into its command type
// and C/R bit. Only EA=1 single-octet type fields are supported, which
// is all the basic-option command set ever uses.
func decodeMCCHeader(b byte) (cmdType byte, cr bool, ea bool) {
	return b >> 2, b&0x02 != 0, b&0x01 != 0
}

// encodeMCC wraps value as one MCC message (type + short length +
// value) and frames it as a UIH payload on DLCI 0.
func encodeMCC(cmdType byte, cr bool, value []byte) ([]byte, error) {
	if len(value) > shortPayloadMax {
		return nil, fmt.Errorf("gsm07010: mcc %s value too long (%d bytes)", mccName(cmdType), len(value))
	}
	payload := make([]byte, 0, 2+len(value))
	payload = append(payload, mccHeaderByte(cmdType, cr))
	payload = append(payload, byte(len(value))<<1|0x01)
	payload = append(payload, value...)
	return encodeUIH(0, cr, payload)
}

// decodedMCC is one parsed multiplex control command extracted from a
// DLCI 0 UIH payload.
type decodedMCC struct {
	Type  byte
	CR    bool
	Value []byte
}

// decodeMCC parses every MCC message packed into a DLCI 0 UIH payload.
// The basic option only ever sends a single command per frame, but
// decoding is written as a loop since nothing in the wire format
// forbids more.
func decodeMCC(payload []byte) ([]decodedMCC, error) {
	var out []decodedMCC
	for len(payload) > 0 {
		if len(payload) < 2 {
			return nil, fmt.Errorf("gsm07010: truncated mcc header")
		}
		cmdType, cr, ea := decodeMCCHeader(payload[0])
		if !ea {
			return nil, fmt.Errorf("gsm07010: multi-octet mcc type field not supported")
		}
		lengthByte := payload[1]
		if lengthByte&0x01 == 0 {
			return nil, fmt.Errorf("gsm07010: multi-octet mcc length field not supported")
		}
		valueLen := int(lengthByte) >> 1
		if len(payload) < 2+valueLen {
			return nil, fmt.Errorf("gsm07010: mcc value truncated (want %d, have %d)", valueLen, len(payload)-2)
		}
		out = append(out, decodedMCC{Type: cmdType, CR: cr, Value: payload[2 : 2+valueLen]})
		payload = payload[2+valueLen:]
	}
	return out, nil
}

// pnBody is the negotiable parameter set carried by a PN command. Only
// DLCI and FrameSize are meaningful here; the remaining fields are
// always sent as their not-negotiable defaults, matching send_pn_msg
// in the original driver.
type pnBody struct {
	DLCI      int
	FrameSize int
}

func encodePN(pn pnBody) []byte {
	v := make([]byte, 8)
	v[0] = byte(pn.DLCI & 0x3F)
	v[1] = 0 // frame_type(4) | credit_flow(4), both 0: basic option, no flow control
	v[2] = 0 // prior(6) | res2(2)
	v[3] = 0 // ack_timer
	v[4] = byte(pn.FrameSize & 0xFF)
	v[5] = byte(pn.FrameSize >> 8)
	v[6] = 0 // max_nbrof_retrans
	v[7] = 0 // credits
	return v
}

func decodePN(v []byte) (pnBody, error) {
	if len(v) < 8 {
		return pnBody{}, fmt.Errorf("gsm07010: pn value too short (%d bytes)", len(v))
	}
	return pnBody{
		DLCI:      int(v[0] & 0x3F),
		FrameSize: int(v[4]) | int(v[5])<<8,
	}, nil
}

// V.24 signal bits carried in an MSC command's single value octet,
// named after the original driver's v24_sigs bitfield.
const (
	msgEA  byte = 1 << 0
	msgFC  byte = 1 << 1 // flow control asserted (peer wants us to stop)
	msgRTC byte = 1 << 2
	msgRTR byte = 1 << 3
	msgIC  byte = 1 << 6 // incoming call indication
	msgDV  byte = 1 << 7 // data valid
)

// encodeMSCValue builds the two-octet MSC value: a DLCI address octet
// (C/R always 1, per the original driver) followed by the V.24
// signals octet.
func encodeMSCValue(dlci int, signals byte) []byte {
	dlciByte := byte(0x01) | 0x02 | byte(dlci&maxDLCI)<<2
	return []byte{dlciByte, msgEA | msgRTC | msgRTR | msgDV | signals}
}

// sendMCC is the synchronous control-channel write path: MCC messages
// are always sent immediately on DLCI 0 rather than queued through a
// DLCI's single-slot scheduler, matching the original driver sending
// them inline from ioctl/open/close context.
func (c *Connection) sendMCC(cmdType byte, cr bool, value []byte) error {
	frame, err := encodeMCC(cmdType, cr, value)
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

func (c *Connection) sendNSC(rejected decodedMCC) error {
	return c.sendMCC(mccNSC, false, []byte{mccHeaderByte(rejected.Type, rejected.CR)})
}

// handleUIH routes a decoded UIH frame: DLCI 0 carries multiplex
// control commands, any other DLCI carries application data destined
// for that channel's inbound queue. A UIH frame is never sent with
// P/F set, and the original driver discards one that is; a DLCI that
// isn't CONNECTED/FLOW_STOPPED yet cannot accept payload either, and
// is told so with a DM.
func (c *Connection) handleUIH(d *dlciEntry, df DecodedFrame) {
	if df.PF {
		c.log.Warn("UIH received with P/F set, discarding", "dlci", d.num)
		return
	}
	if state := d.getState(); state != StateConnected && state != StateFlowStopped {
		c.log.Warn("UIH for dlci not connected, sending DM", "dlci", d.num)
		_ = c.sendDM(d.num)
		return
	}
	if d.num == 0 {
		c.handleControlUIH(df.Payload)
		return
	}
	c.enqueueInbound(d, df.Payload)
}

func (c *Connection) handleControlUIH(payload []byte) {
	cmds, err := decodeMCC(payload)
	if err != nil {
		c.log.Warn("malformed mcc payload", "err", err)
		return
	}
	for _, cmd := range cmds {
		c.dispatchMCC(cmd)
	}
}

func (c *Connection) dispatchMCC(cmd decodedMCC) {
	switch cmd.Type {
	case mccPN:
		c.handlePN(cmd)
	case mccMSC:
		c.handleMSC(cmd)
	case mccFCON:
		c.handleFCON(cmd)
	case mccFCOFF:
		c.handleFCOFF(cmd)
	case mccTEST:
		c.handleTEST(cmd)
	case mccNSC:
		if len(cmd.Value) > 0 {
			c.log.Debug("peer rejected a command we sent", "type", mccName(cmd.Value[0]>>2))
		}
	case mccCLD:
		c.handleCLD()
	default:
		c.log.Debug("unsupported mcc command, replying NSC", "type", mccName(cmd.Type))
		if err := c.sendNSC(cmd); err != nil {
			c.log.Warn("failed to send NSC", "err", err)
		}
	}
}

// handlePN processes both PN commands (a fresh request from the peer,
// answered with our own response carrying the negotiated MTU) and PN
// responses (the peer's answer to a request we sent, which unblocks
// openDataChannel's wait). The MCC-level C/R bit distinguishes
// command from response here; it is unrelated to which station
// initiated the link.
func (c *Connection) handlePN(cmd decodedMCC) {
	pn, err := decodePN(cmd.Value)
	if err != nil {
		c.log.Warn("malformed PN value", "err", err)
		return
	}
	d, err := c.dlci(pn.DLCI)
	if err != nil {
		c.log.Warn("PN for unknown dlci", "dlci", pn.DLCI)
		return
	}

	d.mu.Lock()
	if cmd.CR && d.state == StateDisconnected {
		// First we hear of this DLCI: seed its ceiling from our own
		// configured MTU before clamping against the peer's proposal,
		// the same role openDataChannel's seed plays on the initiator
		// side.
		d.state = StateNegotiating
		d.mtu = c.proposedMTU
		close(d.notify)
		d.notify = make(chan struct{})
	}
	localMTU := d.mtu
	mtu := pn.FrameSize
	if mtu <= 0 || mtu > localMTU {
		mtu = localMTU
	}
	d.mtu = mtu
	d.mu.Unlock()

	if cmd.CR {
		if err := c.sendMCC(mccPN, false, encodePN(pnBody{DLCI: pn.DLCI, FrameSize: mtu})); err != nil {
			c.log.Warn("failed to reply to PN", "err", err)
		}
		return
	}

	if d.getState() == StateNegotiating {
		d.setState(StateConnecting)
	}
}

func (c *Connection) handleMSC(cmd decodedMCC) {
	if len(cmd.Value) < 2 {
		c.log.Warn("malformed MSC value")
		return
	}
	dlci := int(cmd.Value[0] >> 2 & maxDLCI)
	signals := cmd.Value[1]

	d, err := c.dlci(dlci)
	if err != nil {
		c.log.Warn("MSC for unknown dlci", "dlci", dlci)
		return
	}
	if state := d.getState(); state != StateConnected && state != StateFlowStopped {
		c.log.Warn("MSC for dlci not connected, sending DM", "dlci", dlci)
		_ = c.sendDM(dlci)
		return
	}

	stop := signals&msgFC != 0
	d.mu.Lock()
	if stop {
		if d.state == StateConnected {
			d.state = StateFlowStopped
		}
	} else if d.state == StateFlowStopped {
		d.state = StateConnected
	}
	d.mu.Unlock()
	d.setState(d.getState()) // re-broadcast via notify without changing value again

	if cmd.CR {
		if err := c.sendMCC(mccMSC, false, encodeMSCValue(dlci, signals)); err != nil {
			c.log.Warn("failed to ack MSC", "dlci", dlci, "err", err)
		}
	} else if stop {
		c.log.Debug("flow stop accepted by peer", "dlci", dlci)
	}
	if !stop {
		c.sendWorker.schedule()
	}
}

// sendMSC issues an MSC command for dlci with fc set according to
// stop, used both to tell the peer to pause (channel-level flow
// control) and to release it again.
func (c *Connection) sendMSC(dlci int, stop bool) error {
	var signals byte
	if stop {
		signals = msgFC
	}
	return c.sendMCC(mccMSC, true, encodeMSCValue(dlci, signals))
}

// encodeHangupMSCValue builds the two-octet MSC value for a modem
// hangup signal: EA|RTR|DV only, no RTC and no FC, a distinct wire
// value from any flow-control MSC (ioctl(MSC_HANGUP) in the original
// driver).
func encodeHangupMSCValue(dlci int) []byte {
	dlciByte := byte(0x01) | 0x02 | byte(dlci&maxDLCI)<<2
	return []byte{dlciByte, msgEA | msgRTR | msgDV}
}

// sendMSCHangup issues the modem-hangup MSC command for dlci.
func (c *Connection) sendMSCHangup(dlci int) error {
	return c.sendMCC(mccMSC, true, encodeHangupMSCValue(dlci))
}

func (c *Connection) handleFCON(cmd decodedMCC) {
	if !cmd.CR {
		return
	}
	c.log.Info("link-wide flow control released (FCON)")
	c.dlcis[0].setState(StateConnected)
	if err := c.sendMCC(mccFCON, false, nil); err != nil {
		c.log.Warn("failed to ack FCON", "err", err)
	}
	c.sendWorker.schedule()
}

func (c *Connection) handleFCOFF(cmd decodedMCC) {
	if !cmd.CR {
		return
	}
	c.log.Info("link-wide flow control asserted (FCOFF)")
	for _, d := range c.dlcis {
		d.setState(StateFlowStopped)
	}
	if err := c.sendMCC(mccFCOFF, false, nil); err != nil {
		c.log.Warn("failed to ack FCOFF", "err", err)
	}
}

// handleTEST answers a peer-initiated loopback command by echoing the
// pattern straight back as a response, and resolves any loopback we
// ourselves have in flight when a response arrives.
func (c *Connection) handleTEST(cmd decodedMCC) {
	if !cmd.CR {
		c.testMu.Lock()
		if c.testActive {
			c.testActive = false
			if !bytesEqual(cmd.Value, c.testExpected) {
				c.testErrs++
			}
			close(c.testDone)
			c.testDone = make(chan struct{})
		}
		c.testMu.Unlock()
		return
	}
	if err := c.sendMCC(mccTEST, false, cmd.Value); err != nil {
		c.log.Warn("failed to echo TEST", "err", err)
	}
}

// RunTest drives a single TEST loopback round trip on DLCI 0: it sends
// the fixed pattern, waits for the peer's echo, and reports
// ErrTestFailed if the echoed bytes didn't match, or ErrTimeout if the
// peer never replied.
func (c *Connection) RunTest(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}

	pattern := testPattern()

	c.testMu.Lock()
	if c.testActive {
		c.testMu.Unlock()
		return fmt.Errorf("gsm07010: test already in progress")
	}
	c.testActive = true
	c.testExpected = pattern
	startErrs := c.testErrs
	done := c.testDone
	c.testMu.Unlock()

	if err := c.sendMCC(mccTEST, true, pattern); err != nil {
		c.testMu.Lock()
		c.testActive = false
		c.testMu.Unlock()
		return err
	}

	select {
	case <-done:
	case <-ctx.Done():
		c.testMu.Lock()
		c.testActive = false
		c.testMu.Unlock()
		return ctx.Err()
	case <-time.After(retryInterval * openRetryData):
		c.testMu.Lock()
		c.testActive = false
		c.testMu.Unlock()
		return ErrTimeout
	}

	c.testMu.Lock()
	failed := c.testErrs != startErrs
	c.testMu.Unlock()
	if failed {
		return ErrTestFailed
	}
	return nil
}

func (c *Connection) handleCLD() {
	c.log.Info("peer sent CLD, tearing down link")
	c.teardownAll()
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// testPattern builds the fixed loopback payload used by RunTest:
// {0, 1, 2, ..., 249} mod 256, matching the original driver's
// TS0710MUX_SEND_TEST_MSG_SIZE pattern.
func testPattern() []byte {
	p := make([]byte, testPatternLen)
	for i := range p {
		p[i] = byte(i % 256)
	}
	return p
}
