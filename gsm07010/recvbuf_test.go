package gsm07010

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestRecvBuf() *receiveBuffer {
	return newReceiveBuffer(defaultRecvBufCapacity, newDefaultLogger())
}

func Test_receiveBuffer_singleFrame(t *testing.T) {
	r := newTestRecvBuf()
	frame := encodeControlFrame(1, true, FrameSABM)

	var got []DecodedFrame
	r.feed(frame, 256, func(df DecodedFrame) { got = append(got, df) })

	assert.Len(t, got, 1)
	assert.Equal(t, FrameSABM, got[0].Kind)
	assert.Equal(t, 1, got[0].DLCI)
}

func Test_receiveBuffer_sharedFlagBetweenFrames(t *testing.T) {
	r := newTestRecvBuf()
	a := encodeControlFrame(1, true, FrameSABM)
	b := encodeControlFrame(2, true, FrameDISC)

	// Drop b's opening flag: a's closing flag doubles as b's opening one.
	joined := append(append([]byte(nil), a...), b[1:]...)

	var got []DecodedFrame
	r.feed(joined, 256, func(df DecodedFrame) { got = append(got, df) })

	assert.Len(t, got, 2)
	assert.Equal(t, 1, got[0].DLCI)
	assert.Equal(t, 2, got[1].DLCI)
}

func Test_receiveBuffer_distinctFlagsBetweenFrames(t *testing.T) {
	r := newTestRecvBuf()
	a := encodeControlFrame(1, true, FrameSABM)
	b := encodeControlFrame(2, true, FrameDISC)
	joined := append(append([]byte(nil), a...), b...)

	var got []DecodedFrame
	r.feed(joined, 256, func(df DecodedFrame) { got = append(got, df) })

	assert.Len(t, got, 2)
}

func Test_receiveBuffer_partialFrameAcrossTwoFeeds(t *testing.T) {
	r := newTestRecvBuf()
	frame := encodeControlFrame(3, true, FrameUA)

	var got []DecodedFrame
	dispatch := func(df DecodedFrame) { got = append(got, df) }

	r.feed(frame[:2], 256, dispatch)
	assert.Empty(t, got)

	r.feed(frame[2:], 256, dispatch)
	assert.Len(t, got, 1)
	assert.Equal(t, 3, got[0].DLCI)
}

func Test_receiveBuffer_garbageBeforeFlagIsDiscarded(t *testing.T) {
	r := newTestRecvBuf()
	frame := encodeControlFrame(1, true, FrameSABM)
	noisy := append([]byte{0x00, 0xAA, 0x55}, frame...)

	var got []DecodedFrame
	r.feed(noisy, 256, func(df DecodedFrame) { got = append(got, df) })

	assert.Len(t, got, 1)
}

func Test_receiveBuffer_oversizedFrameDiscarded(t *testing.T) {
	r := newTestRecvBuf()
	frame, err := encodeUIH(1, true, make([]byte, 300))
	assert.NoError(t, err)

	var got []DecodedFrame
	r.feed(frame, 50, func(df DecodedFrame) { got = append(got, df) })

	assert.Empty(t, got)
}

func Test_receiveBuffer_corruptFrameIsSkippedNotFatal(t *testing.T) {
	r := newTestRecvBuf()
	bad := encodeControlFrame(1, true, FrameSABM)
	bad[4] ^= 0xFF // corrupt the FCS (flag, addr, control, length, fcs, flag)
	good := encodeControlFrame(2, true, FrameUA)
	joined := append(append([]byte(nil), bad...), good...)

	var got []DecodedFrame
	r.feed(joined, 256, func(df DecodedFrame) { got = append(got, df) })

	assert.Len(t, got, 1)
	assert.Equal(t, 2, got[0].DLCI)
}
