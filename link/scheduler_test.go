package link

import (
	"context"
	"testing"
	"time"

	"pairlink/hwaddr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerFixture struct {
	radio *fakeRadio
	clock *fakeClock
	obs   *fakeObserver
	dir   *Directory
	sched *Scheduler
}

func newSchedulerFixture() *schedulerFixture {
	f := &schedulerFixture{
		radio: newFakeRadio(localAddr),
		clock: newFakeClock(),
		obs:   &fakeObserver{},
	}
	f.dir = NewDirectory(f.radio, DefaultChannel, false)
	f.dir.SetObserver(f.obs)
	sender := NewSender(f.radio, fastTiming())
	f.radio.OnSendResult(sender.HandleSendResult)
	f.sched = NewScheduler(localAddr, f.dir, sender, f.clock, fastTiming())
	return f
}

func TestSchedulerTimeoutEviction(t *testing.T) {
	f := newSchedulerFixture()
	ctx := context.Background()
	t0 := f.clock.Now()
	require.NoError(t, f.dir.Adopt(peerA, t0))

	f.clock.Advance(DefaultPeerTimeout)
	require.NoError(t, f.sched.Tick(ctx))
	_, ok := f.dir.Current()
	assert.True(t, ok, "age equal to the timeout is not yet expired")

	f.clock.Advance(time.Millisecond)
	require.NoError(t, f.sched.Tick(ctx))
	_, ok = f.dir.Current()
	assert.False(t, ok)
	assert.Equal(t, 1, f.radio.count("deregister "+peerA.String()))

	require.NoError(t, f.sched.Tick(ctx))
	assert.Equal(t, 1, f.radio.count("deregister "+peerA.String()))

	events := f.obs.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, observedEvent{addr: peerA, kind: "evicted", reason: string(ReasonTimeout)}, events[1])

	// the evicted peer is not targeted any more
	assert.Len(t, f.radio.sentTo(peerA), 1)
}

func TestSchedulerEvictsOnRetryExhaustion(t *testing.T) {
	f := newSchedulerFixture()
	f.radio.setScript(func(dst hwaddr.Addr, attempt int) action {
		if dst == peerA {
			return fail
		}
		return deliver
	})
	require.NoError(t, f.dir.Adopt(peerA, f.clock.Now()))

	require.NoError(t, f.sched.Tick(context.Background()))

	assert.Len(t, f.radio.sentTo(peerA), DefaultMaxAttempts)
	_, ok := f.dir.Current()
	assert.False(t, ok)
	assert.Equal(t, 1, f.radio.count("deregister "+peerA.String()))
	assert.Len(t, f.radio.sentTo(hwaddr.Broadcast), 1, "falls back to discovery in the same tick")

	events := f.obs.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, string(ReasonUnreachable), events[1].reason)
}

func TestSchedulerDiscoveryOnly(t *testing.T) {
	f := newSchedulerFixture()
	ctx := context.Background()

	const ticks = 12
	for i := 0; i < ticks; i++ {
		require.NoError(t, f.sched.Tick(ctx))
		f.clock.Advance(DefaultTick)
	}

	f.radio.mu.Lock()
	defer f.radio.mu.Unlock()
	require.Len(t, f.radio.sent, ticks)
	for _, s := range f.radio.sent {
		assert.Equal(t, hwaddr.Broadcast, s.dst)
	}
	assert.Equal(t, "Hello from ABCD_0", f.radio.sent[0].payload)
	assert.Equal(t, "Hello from ABCD_11", f.radio.sent[ticks-1].payload)
}

func TestSchedulerBroadcastCadenceWithPeer(t *testing.T) {
	f := newSchedulerFixture()
	ctx := context.Background()
	require.NoError(t, f.dir.Adopt(peerA, f.clock.Now()))

	for i := 0; i <= 12; i++ {
		f.dir.Touch(peerA, f.clock.Now())
		require.NoError(t, f.sched.Tick(ctx))
		f.clock.Advance(DefaultTick)
	}

	assert.Len(t, f.radio.sentTo(peerA), 13)
	bcasts := f.radio.sentTo(hwaddr.Broadcast)
	require.Len(t, bcasts, 3)
	assert.Equal(t, "Hello from ABCD_0", bcasts[0].payload)
	assert.Equal(t, "Hello from ABCD_6", bcasts[1].payload)
	assert.Equal(t, "Hello from ABCD_12", bcasts[2].payload)
}

func TestSchedulerHeartbeatAndDiscoveryAreIdentical(t *testing.T) {
	f := newSchedulerFixture()
	require.NoError(t, f.dir.Adopt(peerA, f.clock.Now()))
	require.NoError(t, f.sched.Tick(context.Background()))

	hb := f.radio.sentTo(peerA)
	bc := f.radio.sentTo(hwaddr.Broadcast)
	require.Len(t, hb, 1)
	require.Len(t, bc, 1)
	assert.Equal(t, hb[0].payload, bc[0].payload)
	assert.Equal(t, uint64(1), f.sched.Sequence())
}

func TestSchedulerFailedBroadcastIsRetriedNextTick(t *testing.T) {
	f := newSchedulerFixture()
	f.radio.setScript(func(dst hwaddr.Addr, attempt int) action {
		if dst.IsBroadcast() && attempt <= DefaultMaxAttempts {
			return fail
		}
		return deliver
	})
	require.NoError(t, f.dir.Adopt(peerA, f.clock.Now()))

	require.NoError(t, f.sched.Tick(context.Background()))
	assert.True(t, f.sched.LastBroadcast().IsZero())

	f.clock.Advance(DefaultTick)
	f.dir.Touch(peerA, f.clock.Now())
	require.NoError(t, f.sched.Tick(context.Background()))
	assert.Len(t, f.radio.sentTo(hwaddr.Broadcast), DefaultMaxAttempts+1)
	assert.Equal(t, f.clock.Now(), f.sched.LastBroadcast())
}

func TestSchedulerTickCancelled(t *testing.T) {
	f := newSchedulerFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.radio.setScript(func(dst hwaddr.Addr, attempt int) action { return silent })
	require.NoError(t, f.dir.Adopt(peerA, f.clock.Now()))

	assert.ErrorIs(t, f.sched.Tick(ctx), context.Canceled)
	_, ok := f.dir.Current()
	assert.True(t, ok, "cancellation is not a delivery failure")
}
