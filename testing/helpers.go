// Package testing provides test utilities for flowz pipelines.
package testing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/flowz"
)

// Recorder is a Sink that records every element it accepts and the terminal
// signal. Answer, if set, decides the reply to each element.
type Recorder[T any] struct {
	Answer func(T) error

	mu     sync.Mutex
	items  []T
	closed chan error
}

// NewRecorder creates an empty Recorder.
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{closed: make(chan error, 1)}
}

// Next implements flowz.Sink.
func (r *Recorder[T]) Next(_ context.Context, item T) error {
	r.mu.Lock()
	r.items = append(r.items, item)
	answer := r.Answer
	r.mu.Unlock()
	if answer != nil {
		return answer(item)
	}
	return nil
}

// Close implements flowz.Sink.
func (r *Recorder[T]) Close(err error) {
	r.closed <- err
}

// Items returns a copy of the recorded elements.
func (r *Recorder[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.items...)
}

// WaitClosed waits for the terminal signal and returns it. The test fails if
// it does not arrive within timeout.
func (r *Recorder[T]) WaitClosed(t *testing.T, timeout time.Duration) error {
	t.Helper()

	select {
	case err := <-r.closed:
		return err
	case <-time.After(timeout):
		t.Fatalf("sink was not closed within %v", timeout)
		return nil
	}
}

// CollectWithTimeout attaches a Recorder to src and returns what it received
// together with the terminal signal.
func CollectWithTimeout[T any](t *testing.T, src flowz.Source[T], timeout time.Duration) ([]T, error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := NewRecorder[T]()
	if err := src.Attach(ctx, rec); err != nil {
		t.Fatalf("attach %s: %v", src.Name(), err)
	}
	err := rec.WaitClosed(t, timeout)
	return rec.Items(), err
}

// PushAll pushes values in order and then ends the stream. It fails the test
// if any push is refused.
func PushAll[T any](t *testing.T, ch *flowz.Channel[T], values ...T) {
	t.Helper()

	ctx := context.Background()
	for i, v := range values {
		if err := ch.Push(ctx, v); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	ch.End()
}

// CollectResultsWithTimeout collects all results from a channel with a timeout.
func CollectResultsWithTimeout[T any](t *testing.T, ch <-chan flowz.Result[T], timeout time.Duration) []flowz.Result[T] {
	t.Helper()

	var results []flowz.Result[T]
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case result, ok := <-ch:
			if !ok {
				return results
			}
			results = append(results, result)
		case <-timer.C:
			return results
		}
	}
}

// StreamResults drains src through flowz.Stream.
func StreamResults[T any](t *testing.T, src flowz.Source[T], timeout time.Duration) []flowz.Result[T] {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return CollectResultsWithTimeout(t, flowz.Stream(ctx, src), timeout)
}

// CollectValues returns the successful values of results.
func CollectValues[T any](results []flowz.Result[T]) []T {
	values := make([]T, 0, len(results))
	for _, r := range results {
		if r.IsSuccess() {
			values = append(values, r.Value())
		}
	}
	return values
}

// CollectErrors returns the errors of results.
func CollectErrors[T any](results []flowz.Result[T]) []*flowz.StreamError[T] {
	var errs []*flowz.StreamError[T]
	for _, r := range results {
		if r.IsError() {
			errs = append(errs, r.Error())
		}
	}
	return errs
}

// Subsequence returns the elements of items that satisfy keep, in order.
// It is used to check per-branch order in merged streams.
func Subsequence[T any](items []T, keep func(T) bool) []T {
	var out []T
	for _, v := range items {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
