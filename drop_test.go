package flowz

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

func TestDropIfNotReady_PassesWhenConsumerReady(t *testing.T) {
	d := NewDropIfNotReady[int](time.Second, RealClock)
	require.Equal(t, "drop-if-not-ready", d.Name())

	items, err := Collect(context.Background(), d.Apply(FromSlice(1, 2, 3)))
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, items)
}

func TestDropIfNotReady_DropsAfterTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockz.NewFakeClock()

	var (
		mu      sync.Mutex
		dropped []int
	)
	release := make(chan struct{})
	received := make(chan int, 4)
	sink := SinkFunc[int]{OnNext: func(_ context.Context, v int) error {
		received <- v
		if v == 1 {
			<-release
		}
		return nil
	}}

	ch, src := NewChannel[int]()
	stage := NewDropIfNotReady[int](time.Second, clock).OnDrop(func(v int) {
		mu.Lock()
		dropped = append(dropped, v)
		mu.Unlock()
	})
	require.NoError(t, stage.Apply(src).Attach(ctx, sink))

	require.NoError(t, ch.Push(ctx, 1))
	require.Equal(t, 1, <-received)

	// The consumer is stuck on 1, so 2 waits for the timeout and is dropped.
	pushed := make(chan error, 1)
	go func() { pushed <- ch.Push(ctx, 2) }()
	var pushErr error
	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		select {
		case pushErr = <-pushed:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, pushErr)

	close(release)
	require.NoError(t, ch.Push(ctx, 3))
	require.Equal(t, 3, <-received)

	mu.Lock()
	require.Equal(t, []int{2}, dropped)
	mu.Unlock()
	select {
	case v := <-received:
		t.Fatalf("dropped element reached the consumer: %d", v)
	default:
	}
}

func TestDropIfNotReady_ReportsTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockz.NewFakeClock()

	var logs bytes.Buffer
	timeouts := make(chan *StreamError[string], 1)
	release := make(chan struct{})
	defer close(release)
	sink := SinkFunc[string]{OnNext: func(context.Context, string) error {
		<-release
		return nil
	}}

	ch, src := NewChannel[string]()
	stage := NewDropIfNotReady[string](time.Second, clock).
		WithName("cursor").
		WithLogger(zerolog.New(&logs).Level(zerolog.DebugLevel)).
		OnTimeout(func(se *StreamError[string]) { timeouts <- se })
	require.NoError(t, stage.Apply(src).Attach(ctx, sink))
	require.NoError(t, ch.Push(ctx, "held"))

	pushed := make(chan error, 1)
	go func() { pushed <- ch.Push(ctx, "late") }()
	var pushErr error
	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		select {
		case pushErr = <-pushed:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, pushErr)

	se := <-timeouts
	require.ErrorIs(t, se, ErrTimeout)
	require.Equal(t, "late", se.Item)
	require.Equal(t, "cursor", se.ProcessorName)
	require.Contains(t, logs.String(), ErrTimeout.Error())
}

func TestDropIfNotReady_PropagatesCompletion(t *testing.T) {
	boom := context.DeadlineExceeded
	ch, src := NewChannel[int]()
	go func() {
		_ = ch.Push(context.Background(), 1)
		ch.Fail(boom)
	}()

	items, err := Collect(context.Background(), NewDropIfNotReady[int](time.Second, RealClock).Apply(src))
	require.ErrorIs(t, err, boom)
	require.Equal(t, []int{1}, items)
}
