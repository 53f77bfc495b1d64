package gsm07010

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_dlciEntry_waitForState_satisfiedImmediately(t *testing.T) {
	d := newDLCIEntry(1)
	state, ok := d.waitForState(context.Background(), time.Second, func(s State) bool {
		return s == StateDisconnected
	})
	assert.True(t, ok)
	assert.Equal(t, StateDisconnected, state)
}

func Test_dlciEntry_waitForState_wakesOnTransition(t *testing.T) {
	d := newDLCIEntry(1)
	done := make(chan struct{})
	go func() {
		state, ok := d.waitForState(context.Background(), time.Second, func(s State) bool {
			return s == StateConnected
		})
		assert.True(t, ok)
		assert.Equal(t, StateConnected, state)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	d.setState(StateConnected)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waitForState never woke up")
	}
}

func Test_dlciEntry_waitForState_timesOut(t *testing.T) {
	d := newDLCIEntry(1)
	_, ok := d.waitForState(context.Background(), 10*time.Millisecond, func(s State) bool {
		return s == StateConnected
	})
	assert.False(t, ok)
}

func Test_dlciEntry_waitForState_respectsContext(t *testing.T) {
	d := newDLCIEntry(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := d.waitForState(ctx, time.Second, func(s State) bool {
		return s == StateConnected
	})
	assert.False(t, ok)
}

func Test_dlciEntry_reset_clearsEverything(t *testing.T) {
	d := newDLCIEntry(1)
	d.setState(StateConnected)
	d.mtu = 500
	d.flowControl = true

	d.inbound.mu.Lock()
	d.inbound.overflow = append(d.inbound.overflow, []byte("hello"))
	d.inbound.total = 5
	d.inbound.mu.Unlock()

	d.slot.mu.Lock()
	d.slot.frame = []byte{1, 2, 3}
	d.slot.filled = true
	d.slot.mu.Unlock()

	d.reset()

	assert.Equal(t, StateDisconnected, d.getState())
	assert.Equal(t, defaultMTU, d.mtu)
	assert.False(t, d.flowControl)
	assert.Equal(t, 0, d.inboundLen())
	d.slot.mu.Lock()
	assert.False(t, d.slot.filled)
	d.slot.mu.Unlock()
}
