package flowz

import (
	"context"
)

// Take limits the stream to the first n elements. Once n elements have been
// accepted downstream, the downstream completes and the upstream is told to
// stop.
type Take[T any] struct {
	name  string
	count int
}

// NewTake creates a stage that takes only the first count elements.
func NewTake[T any](count int) *Take[T] {
	return &Take[T]{
		count: count,
		name:  "take",
	}
}

// Apply implements Stage.
func (t *Take[T]) Apply(upstream Source[T]) Source[T] {
	return newDerived(t.name, func(ctx context.Context, sink Sink[T]) error {
		if t.count <= 0 {
			sink.Close(nil)
			return nil
		}
		taken := 0
		return upstream.Attach(ctx, SinkFunc[T]{
			OnNext: func(ctx context.Context, item T) error {
				if err := sink.Next(ctx, item); err != nil {
					return err
				}
				taken++
				if taken >= t.count {
					sink.Close(nil)
					return ErrStop
				}
				return nil
			},
			OnClose: sink.Close,
		})
	})
}

// Name returns the stage name.
func (t *Take[T]) Name() string {
	return t.name
}
