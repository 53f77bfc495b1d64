package gsm07010

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func Test_encodeControlFrame_SABM(t *testing.T) {
	frame := encodeControlFrame(2, true, FrameSABM)
	assert.Equal(t, flagByte, frame[0])
	assert.Equal(t, flagByte, frame[len(frame)-1])

	df, headerLen, err := decodeFrame(frame[1 : len(frame)-1])
	assert.NoError(t, err)
	assert.Equal(t, 3, headerLen)
	assert.Equal(t, FrameSABM, df.Kind)
	assert.Equal(t, 2, df.DLCI)
	assert.True(t, df.CR)
	assert.True(t, df.PF)
	assert.Empty(t, df.Payload)
}

func Test_encodeUIH_shortAndLong(t *testing.T) {
	short := make([]byte, 40)
	frame, err := encodeUIH(3, true, short)
	assert.NoError(t, err)
	df, headerLen, err := decodeFrame(frame[1 : len(frame)-1])
	assert.NoError(t, err)
	assert.Equal(t, 3, headerLen)
	assert.Equal(t, FrameUIH, df.Kind)
	assert.Len(t, df.Payload, len(short))

	long := make([]byte, 200)
	for i := range long {
		long[i] = byte(i)
	}
	frame, err = encodeUIH(3, true, long)
	assert.NoError(t, err)
	df, headerLen, err = decodeFrame(frame[1 : len(frame)-1])
	assert.NoError(t, err)
	assert.Equal(t, 4, headerLen)
	assert.Equal(t, long, df.Payload)
}

func Test_encodeUIH_rejectsOverlongPayload(t *testing.T) {
	_, err := encodeUIH(1, true, make([]byte, 0x8000))
	assert.Error(t, err)
}

func Test_decodeFrame_rejectsBadFCS(t *testing.T) {
	frame := encodeControlFrame(1, true, FrameUA)
	body := frame[1 : len(frame)-1]
	corrupt := append([]byte(nil), body...)
	corrupt[len(corrupt)-1] ^= 0xFF // flip the FCS octet
	_, _, err := decodeFrame(corrupt)
	assert.Error(t, err)
}

func Test_peekFrameLength_matchesActualFrameSize(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dlci := rapid.IntRange(0, maxDLCI).Draw(t, "dlci")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 300).Draw(t, "payload")

		frame, err := encodeUIH(dlci, true, payload)
		assert.NoError(t, err)

		totalLen, ok := peekFrameLength(frame[1:])
		assert.True(t, ok)
		assert.Equal(t, len(frame)-1, totalLen)
	})
}

func Test_addrByte_encodesDLCIAndCR(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dlci := rapid.IntRange(0, maxDLCI).Draw(t, "dlci")
		cr := rapid.Bool().Draw(t, "cr")

		b := addrByte(dlci, cr)
		assert.Equal(t, byte(1), b&0x01, "EA bit must always be set")
		assert.Equal(t, cr, b&0x02 != 0)
		assert.Equal(t, dlci, int(b>>2)&maxDLCI)
	})
}
