package flowz

import (
	"context"
)

// Skip discards the first n elements of a stream. Skipped elements grant
// demand upstream immediately.
type Skip[T any] struct {
	name  string
	count int
}

// NewSkip creates a stage that skips the first count elements.
// After skipping, every subsequent element is passed through.
//
// When to use:
//   - Skip headers or greeting frames at the start of a session
//   - Ignore warm-up readings
//
// Example:
//
//	// Drop the handshake frame a client sends first
//	payload := flowz.NewSkip[wsconn.Message](1).Apply(inbound)
func NewSkip[T any](count int) *Skip[T] {
	return &Skip[T]{
		count: count,
		name:  "skip",
	}
}

// Apply implements Stage.
func (s *Skip[T]) Apply(upstream Source[T]) Source[T] {
	return newDerived(s.name, func(ctx context.Context, sink Sink[T]) error {
		skipped := 0
		return upstream.Attach(ctx, SinkFunc[T]{
			OnNext: func(ctx context.Context, item T) error {
				if skipped < s.count {
					skipped++
					return nil
				}
				return sink.Next(ctx, item)
			},
			OnClose: sink.Close,
		})
	})
}

// Name returns the stage name.
func (s *Skip[T]) Name() string {
	return s.name
}
