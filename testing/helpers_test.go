package testing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zoobzio/flowz"
)

func TestCollectWithTimeout(t *testing.T) {
	t.Run("collects until completion", func(t *testing.T) {
		items, err := CollectWithTimeout(t, flowz.FromSlice(1, 2, 3), time.Second)
		require.NoError(t, err)
		require.Equal(t, []int{1, 2, 3}, items)
	})

	t.Run("returns the failure", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := CollectWithTimeout(t, flowz.Failed[int](boom), time.Second)
		require.ErrorIs(t, err, boom)
	})
}

func TestRecorder_Answer(t *testing.T) {
	rec := NewRecorder[int]()
	rec.Answer = func(v int) error {
		if v == 2 {
			return flowz.ErrStop
		}
		return nil
	}

	ch, src := flowz.NewChannel[int]()
	require.NoError(t, src.Attach(context.Background(), rec))
	require.NoError(t, ch.Push(context.Background(), 1))
	require.ErrorIs(t, ch.Push(context.Background(), 2), flowz.ErrClosed)
	require.Equal(t, []int{1, 2}, rec.Items())
}

func TestPushAll(t *testing.T) {
	ch, src := flowz.NewChannel[string]()
	rec := NewRecorder[string]()
	require.NoError(t, src.Attach(context.Background(), rec))

	PushAll(t, ch, "a", "b")
	require.NoError(t, rec.WaitClosed(t, time.Second))
	require.Equal(t, []string{"a", "b"}, rec.Items())
}

func TestCollectResultsWithTimeout(t *testing.T) {
	t.Run("collects all results before channel close", func(t *testing.T) {
		ch := make(chan flowz.Result[int], 3)
		ch <- flowz.NewSuccess(1)
		ch <- flowz.NewError(2, errors.New("bad"), "test")
		ch <- flowz.NewSuccess(3)
		close(ch)

		results := CollectResultsWithTimeout(t, ch, 100*time.Millisecond)
		require.Len(t, results, 3)
		require.Equal(t, []int{1, 3}, CollectValues(results))
		errs := CollectErrors(results)
		require.Len(t, errs, 1)
		require.Equal(t, 2, errs[0].Item)
	})

	t.Run("returns on timeout", func(t *testing.T) {
		ch := make(chan flowz.Result[int])
		require.Empty(t, CollectResultsWithTimeout(t, ch, 20*time.Millisecond))
	})
}

func TestStreamResults(t *testing.T) {
	boom := errors.New("boom")
	ch, src := flowz.NewChannel[int]()
	go func() {
		_ = ch.Push(context.Background(), 1)
		ch.Fail(boom)
	}()

	results := StreamResults(t, src, time.Second)
	require.Len(t, results, 2)
	require.Equal(t, []int{1}, CollectValues(results))
	require.ErrorIs(t, CollectErrors(results)[0], boom)
}

func TestSubsequence(t *testing.T) {
	even := func(v int) bool { return v%2 == 0 }
	require.Equal(t, []int{2, 4}, Subsequence([]int{1, 2, 3, 4}, even))
	require.Nil(t, Subsequence([]int{1, 3}, even))
}
