package gsm07010

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func Test_crcCheck_roundtrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 1, 32).Draw(t, "data")
		fcs := crcCalc(data)
		assert.True(t, crcCheck(data, fcs), "freshly computed fcs should always check out")
	})
}

func Test_crcCheck_detects_corruption(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 1, 32).Draw(t, "data")
		fcs := crcCalc(data)

		idx := rapid.IntRange(0, len(data)-1).Draw(t, "idx")
		flip := rapid.IntRange(1, 255).Draw(t, "flip")
		corrupt := append([]byte(nil), data...)
		corrupt[idx] ^= byte(flip)

		assert.False(t, crcCheck(corrupt, fcs), "a flipped data byte must not still check out")
	})
}

func Test_crcCalc_knownAddrControlLen(t *testing.T) {
	// SABM on DLCI 0, initiator, P bit set: addr=0x03, control=0x3f, length=0x01
	header := []byte{0x03, 0x3f, 0x01}
	fcs := crcCalc(header)
	assert.True(t, crcCheck(header, fcs))
}
