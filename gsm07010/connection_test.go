package gsm07010

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeLink feeds every WriteLink call to a single-goroutine deliverer,
// honoring LinkBytes' single-caller requirement even though writes can
// come from multiple goroutines (the send worker, a synchronous MCC
// reply, the test body).
type pipeLink struct {
	out chan []byte
}

func newPipeLink() *pipeLink {
	return &pipeLink{out: make(chan []byte, 64)}
}

func (p *pipeLink) WriteLink(b []byte) (int, error) {
	p.out <- append([]byte(nil), b...)
	return len(b), nil
}

// wiredPair builds two Connections and pumps each one's outbound bytes
// into the other's LinkBytes on a dedicated goroutine, simulating a
// loopback serial link.
func wiredPair(t *testing.T, optsA, optsB []Option) (*Connection, *Connection) {
	t.Helper()
	linkA := newPipeLink()
	linkB := newPipeLink()
	a := NewConnection(linkA, optsA...)
	b := NewConnection(linkB, optsB...)

	go func() {
		for p := range linkA.out {
			b.LinkBytes(p)
		}
	}()
	go func() {
		for p := range linkB.out {
			a.LinkBytes(p)
		}
	}()

	return a, b
}

func Test_openDLCI0_bothSidesReachConnected(t *testing.T) {
	a, b := wiredPair(t,
		[]Option{WithInitiator(true)},
		[]Option{WithInitiator(false)},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := a.openDLCI0(ctx)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return b.dlcis[0].getState() == StateConnected
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnected, a.dlcis[0].getState())
}

func Test_openDataChannel_negotiatesAndConnects(t *testing.T) {
	a, b := wiredPair(t,
		[]Option{WithInitiator(true), WithChannels(4)},
		[]Option{WithInitiator(false), WithChannels(4)},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ch, err := a.OpenChannel(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, ch.State())

	assert.Eventually(t, func() bool {
		return b.dlcis[1].getState() == StateConnected
	}, time.Second, 5*time.Millisecond)
}

func Test_channelWriteAndRead_deliversBytes(t *testing.T) {
	a, b := wiredPair(t,
		[]Option{WithInitiator(true), WithChannels(4)},
		[]Option{WithInitiator(false), WithChannels(4)},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	chA, err := a.OpenChannel(ctx, 1)
	require.NoError(t, err)
	chB := &Channel{conn: b, dlci: 1}

	payload := []byte("hello across the link")
	n, err := chA.Write(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	require.NoError(t, chB.WaitReadable(ctx))
	buf := make([]byte, 64)
	got := chB.Read(buf)
	assert.Equal(t, payload, buf[:got])
}

func Test_RunTest_roundTripSucceeds(t *testing.T) {
	a, b := wiredPair(t,
		[]Option{WithInitiator(true)},
		[]Option{WithInitiator(false)},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, a.openDLCI0(ctx))
	assert.Eventually(t, func() bool {
		return b.dlcis[0].getState() == StateConnected
	}, time.Second, 5*time.Millisecond)

	err := a.RunTest(ctx)
	assert.NoError(t, err)
}

func Test_RunTest_timesOutWithoutPeer(t *testing.T) {
	link := newPipeLink() // nobody drains link.out, so nothing ever echoes back
	a := NewConnection(link, WithInitiator(true))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := a.RunTest(ctx)
	assert.Error(t, err)
}

func Test_closeDataChannel_tearsDownCleanly(t *testing.T) {
	a, b := wiredPair(t,
		[]Option{WithInitiator(true), WithChannels(4)},
		[]Option{WithInitiator(false), WithChannels(4)},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ch, err := a.OpenChannel(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, ch.Close(ctx))
	assert.Equal(t, StateDisconnected, ch.State())
	assert.Eventually(t, func() bool {
		return b.dlcis[1].getState() == StateDisconnected
	}, time.Second, 5*time.Millisecond)
}

func Test_dispatchFrame_unknownDLCIRepliesDM(t *testing.T) {
	link := newPipeLink()
	c := NewConnection(link, WithChannels(2))

	c.LinkBytes(encodeControlFrame(5, false, FrameSABM))

	select {
	case p := <-link.out:
		df, _, err := decodeFrame(p[1 : len(p)-1])
		require.NoError(t, err)
		assert.Equal(t, FrameDM, df.Kind)
	case <-time.After(time.Second):
		t.Fatal("never received DM for unknown dlci")
	}
}

func Test_Close_isIdempotent(t *testing.T) {
	link := newPipeLink()
	c := NewConnection(link)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.True(t, c.isClosed())
}
