package flowz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

func TestThrottle_HoldsUpstreamUntilInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockz.NewFakeClock()

	th := NewThrottle[int](100*time.Millisecond, clock)
	require.Equal(t, "throttle", th.Name())

	ch, src := NewChannel[int]()
	out := newRecorder[int]()
	require.NoError(t, th.Apply(src).Attach(ctx, out))

	require.NoError(t, ch.Push(ctx, 1))

	pushed := make(chan error, 1)
	go func() { pushed <- ch.Push(ctx, 2) }()
	select {
	case <-pushed:
		t.Fatal("second element passed before the interval elapsed")
	case <-time.After(20 * time.Millisecond):
	}
	require.Equal(t, []int{1}, out.Items())

	var pushErr error
	require.Eventually(t, func() bool {
		clock.Advance(100 * time.Millisecond)
		select {
		case pushErr = <-pushed:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, pushErr)
	require.Equal(t, []int{1, 2}, out.Items())
}

func TestThrottle_NoWaitAfterIdle(t *testing.T) {
	ctx := context.Background()
	clock := clockz.NewFakeClock()

	ch, src := NewChannel[int]()
	out := newRecorder[int]()
	require.NoError(t, NewThrottle[int](time.Second, clock).WithName("pace").Apply(src).Attach(ctx, out))

	require.NoError(t, ch.Push(ctx, 1))
	clock.Advance(2 * time.Second)
	require.NoError(t, ch.Push(ctx, 2))
	ch.End()
	require.NoError(t, out.waitClosed(t))
	require.Equal(t, []int{1, 2}, out.Items())
}

func TestThrottle_CancelReleasesWaitingProducer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := clockz.NewFakeClock()

	ch, src := NewChannel[int]()
	require.NoError(t, NewThrottle[int](time.Hour, clock).Apply(src).Attach(ctx, newRecorder[int]()))
	require.NoError(t, ch.Push(context.Background(), 1))

	pushed := make(chan error, 1)
	go func() { pushed <- ch.Push(context.Background(), 2) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-pushed:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("producer still held after cancel")
	}
}
