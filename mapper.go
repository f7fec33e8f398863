package flowz

import (
	"context"
)

// Map transforms each element with a pure function.
type Map[In, Out any] struct {
	fn   func(In) Out
	name string
}

// NewMap creates a stage that transforms elements from one type to another.
//
// Example:
//
//	lengths := flowz.NewMap("len", func(s string) int { return len(s) }).Apply(words)
//
// Parameters:
//   - name: Descriptive name for debugging and monitoring
//   - fn: Pure transformation function from input to output type
func NewMap[In, Out any](name string, fn func(In) Out) *Map[In, Out] {
	return &Map[In, Out]{
		fn:   fn,
		name: name,
	}
}

// Apply implements Stage.
func (m *Map[In, Out]) Apply(upstream Source[In]) Source[Out] {
	return newDerived(m.name, func(ctx context.Context, sink Sink[Out]) error {
		return upstream.Attach(ctx, SinkFunc[In]{
			OnNext: func(ctx context.Context, item In) error {
				return sink.Next(ctx, m.fn(item))
			},
			OnClose: sink.Close,
		})
	})
}

// Name returns the mapper name.
func (m *Map[In, Out]) Name() string {
	return m.name
}
