package flowz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromSlice_Collect(t *testing.T) {
	items, err := Collect(context.Background(), FromSlice(1, 2, 3))
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, items)
}

func TestFromChan(t *testing.T) {
	in := make(chan string, 3)
	in <- "a"
	in <- "b"
	close(in)

	items, err := Collect(context.Background(), FromChan(in))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, items)
}

func TestEmpty(t *testing.T) {
	items, err := Collect(context.Background(), Empty[int]())
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestFailed(t *testing.T) {
	boom := errors.New("boom")
	_, err := Collect(context.Background(), Failed[int](boom))
	var up *UpstreamFailure
	require.ErrorAs(t, err, &up)
	require.ErrorIs(t, err, boom)
}

func TestCollect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, src := NewChannel[int]()

	_, err := Collect(ctx, src)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCollect_AttachConflict(t *testing.T) {
	src := FromSlice(1)
	_, err := Collect(context.Background(), src)
	require.NoError(t, err)
	_, err = Collect(context.Background(), src)
	require.ErrorIs(t, err, ErrAttachmentConflict)
}

func TestForEach(t *testing.T) {
	var seen []int
	err := ForEach(context.Background(), FromSlice(1, 2, 3), func(v int) error {
		seen = append(seen, v)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, seen)
}

func TestForEach_StopEndsQuietly(t *testing.T) {
	var seen []int
	err := ForEach(context.Background(), FromSlice(1, 2, 3, 4), func(v int) error {
		seen = append(seen, v)
		if v == 2 {
			return ErrStop
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, seen)
}

func TestForEach_CallbackError(t *testing.T) {
	boom := errors.New("boom")
	err := ForEach(context.Background(), FromSlice(1, 2, 3), func(v int) error {
		if v == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
}

func TestStream(t *testing.T) {
	var values []int
	for r := range Stream(context.Background(), FromSlice(1, 2, 3)) {
		require.True(t, r.IsSuccess())
		values = append(values, r.Value())
	}
	require.Equal(t, []int{1, 2, 3}, values)
}

func TestStream_FailureIsFinalResult(t *testing.T) {
	boom := errors.New("boom")
	ch, src := NewChannel[int]()
	go func() {
		_ = ch.Push(context.Background(), 1)
		ch.Fail(boom)
	}()

	var results []Result[int]
	for r := range Stream(context.Background(), src) {
		results = append(results, r)
	}
	require.Len(t, results, 2)
	require.Equal(t, 1, results[0].Value())
	require.True(t, results[1].IsError())
	require.ErrorIs(t, results[1].Error(), boom)
}

func TestStream_ContextCancelClosesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, src := NewChannel[int]()
	out := Stream(ctx, src)

	go func() { _ = ch.Push(context.Background(), 1) }()
	r := <-out
	require.Equal(t, 1, r.Value())

	cancel()
	for range out {
	}
	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatal("producer was not released")
	}
}

func TestVia(t *testing.T) {
	src := Via(FromSlice(1, 2, 3, 4, 5, 6),
		NewFilter("even", func(n int) bool { return n%2 == 0 }),
		NewMap("double", func(n int) int { return n * 2 }),
		NewTake[int](2),
	)
	items, err := Collect(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, []int{4, 8}, items)
}

func TestSinkFunc_Defaults(t *testing.T) {
	var s SinkFunc[int]
	require.NoError(t, s.Next(context.Background(), 1))
	s.Close(nil)
}
