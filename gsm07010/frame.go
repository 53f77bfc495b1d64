package gsm07010

import "fmt"

// Wire-format constants for the TS 27.010 basic option.
const (
	flagByte = 0xF9

	ctrlSABM byte = 0x2F
	ctrlUA   byte = 0x63
	ctrlDM   byte = 0x0F
	ctrlDISC byte = 0x43
	ctrlUIH  byte = 0xEF

	ctrlPF byte = 0x10 // Poll/Final bit

	shortPayloadMax = 127 // payloads at or below this use short length
	maxDLCI         = 63  // 6-bit DLCI field
)

// FrameKind identifies one of the basic-option frame types.
type FrameKind byte

const (
	FrameSABM FrameKind = FrameKind(ctrlSABM)
	FrameUA   FrameKind = FrameKind(ctrlUA)
	FrameDM   FrameKind = FrameKind(ctrlDM)
	FrameDISC FrameKind = FrameKind(ctrlDISC)
	FrameUIH  FrameKind = FrameKind(ctrlUIH)
)

func (k FrameKind) String() string {
	switch byte(k) {
	case ctrlSABM:
		return "SABM"
	case ctrlUA:
		return "UA"
	case ctrlDM:
		return "DM"
	case ctrlDISC:
		return "DISC"
	case ctrlUIH:
		return "UIH"
	default:
		return fmt.Sprintf("FrameKind(0x%02x)", byte(k))
	}
}

// DecodedFrame is the result of parsing one complete basic-option
// frame (header and payload only; the flags are stripped by the
// caller and the FCS is checked by decodeFrame).
type DecodedFrame struct {
	Kind    FrameKind
	DLCI    int
	CR      bool // C/R bit of the address octet
	PF      bool // P/F bit of the control octet
	Payload []byte
}

func addrByte(dlci int, cr bool) byte {
	b := byte(0x01) // EA=1, single-octet address always (§9 design note)
	if cr {
		b |= 0x02
	}
	b |= byte(dlci&maxDLCI) << 2
	return b
}

func frameKindFromControl(ctrl byte) (FrameKind, bool) {
	switch ctrl {
	case ctrlSABM, ctrlUA, ctrlDM, ctrlDISC, ctrlUIH:
		return FrameKind(ctrl), true
	default:
		return 0, false
	}
}

// encodeControlFrame builds a zero-payload SABM/UA/DM/DISC frame,
// always with P/F set, matching send_sabm/send_ua/send_dm/send_disc
// in the original driver.
func encodeControlFrame(dlci int, cr bool, kind FrameKind) []byte {
	addr := addrByte(dlci, cr)
	control := byte(kind) | ctrlPF
	lengthByte := byte(0x01) // EA=1, len=0
	header := [3]byte{addr, control, lengthByte}
	fcs := crcCalc(header[:])

	frame := make([]byte, 0, 6)
	frame = append(frame, flagByte)
	frame = append(frame, header[:]...)
	frame = append(frame, fcs, flagByte)
	return frame
}

// encodeUIH builds a UIH frame (short or long length, chosen by
// payload size) carrying payload, either application data on a data
// DLCI or a multiplex-control message on DLCI 0. P/F is always clear
// for UIH per the original's CLR_PF(UIH). The FCS covers the header
// octets only, never the payload.
func encodeUIH(dlci int, cr bool, payload []byte) ([]byte, error) {
	if dlci < 0 || dlci > maxDLCI {
		return nil, fmt.Errorf("gsm07010: dlci %d out of range", dlci)
	}
	addr := addrByte(dlci, cr)
	control := ctrlUIH

	var header []byte
	if len(payload) <= shortPayloadMax {
		header = []byte{addr, control, byte(len(payload))<<1 | 0x01}
	} else {
		if len(payload) > 0x7FFF {
			return nil, fmt.Errorf("gsm07010: uih payload %d exceeds long length field", len(payload))
		}
		lLen := byte(len(payload)&0x7F) << 1 // EA=0
		hLen := byte(len(payload) >> 7)
		header = []byte{addr, control, lLen, hLen}
	}
	fcs := crcCalc(header)

	frame := make([]byte, 0, 1+len(header)+len(payload)+2)
	frame = append(frame, flagByte)
	frame = append(frame, header...)
	frame = append(frame, payload...)
	frame = append(frame, fcs, flagByte)
	return frame, nil
}

// peekFrameLength inspects the address/control/length octets of buf
// (buf[0] is the address octet, i.e. the byte right after an opening
// flag) and reports how many bytes the complete frame will occupy,
// from the address octet through the trailing flag inclusive. It
// returns ok=false if buf does not yet hold enough bytes to know.
func peekFrameLength(buf []byte) (totalLen int, ok bool) {
	if len(buf) < 3 {
		return 0, false
	}
	if buf[2]&0x01 != 0 {
		payloadLen := int(buf[2]) >> 1
		return 3 + payloadLen + 1 + 1, true
	}
	if len(buf) < 4 {
		return 0, false
	}
	lLen := int(buf[2]) >> 1
	hLen := int(buf[3])
	payloadLen := (hLen << 7) | lLen
	return 4 + payloadLen + 1 + 1, true
}

// decodeFrame parses a complete frame body: buf[0] is the address
// octet and buf[len(buf)-1] is the FCS octet, meaning the flags on
// either side have already been stripped by the caller. It verifies
// the FCS and returns the decoded frame plus the header length (3 or
// 4) actually used.
func decodeFrame(buf []byte) (df DecodedFrame, headerLen int, err error) {
	if len(buf) < 4 {
		return df, 0, fmt.Errorf("gsm07010: frame too short (%d bytes)", len(buf))
	}
	addr := buf[0]
	control := buf[1]
	dlci := int(addr>>2) & maxDLCI
	cr := addr&0x02 != 0
	pf := control&ctrlPF != 0
	base := control &^ ctrlPF

	var payloadLen int
	if buf[2]&0x01 != 0 {
		payloadLen = int(buf[2]) >> 1
		headerLen = 3
	} else {
		if len(buf) < 5 {
			return df, 0, fmt.Errorf("gsm07010: long frame too short (%d bytes)", len(buf))
		}
		lLen := int(buf[2]) >> 1
		hLen := int(buf[3])
		payloadLen = (hLen << 7) | lLen
		headerLen = 4
	}

	if len(buf) != headerLen+payloadLen+1 {
		return df, 0, fmt.Errorf("gsm07010: frame length mismatch: have %d want %d", len(buf), headerLen+payloadLen+1)
	}

	fcs := buf[headerLen+payloadLen]
	if !crcCheck(buf[:headerLen], fcs) {
		return df, 0, fmt.Errorf("gsm07010: crc check failed on dlci %d", dlci)
	}

	kind, ok := frameKindFromControl(base)
	if !ok {
		return df, 0, fmt.Errorf("gsm07010: unrecognized control octet 0x%02x", base)
	}

	df = DecodedFrame{
		Kind:    kind,
		DLCI:    dlci,
		CR:      cr,
		PF:      pf,
		Payload: buf[headerLen : headerLen+payloadLen],
	}
	return df, headerLen, nil
}
