package flowz

import (
	"context"
)

// Regroup accumulates a fixed number of upstream elements into one
// downstream slice. Backpressure is exerted only at group boundaries: the
// producer is never blocked mid-group, and the element completing a group is
// held until the downstream has accepted that group.
type Regroup[T any] struct {
	name string
	size int
}

// NewRegroup creates a stage that emits groups of exactly size elements.
// When the upstream completes normally, a trailing partial group is flushed.
//
// When to use:
//   - Batched writes to an external store
//   - Fixed-size frames for a wire protocol
//   - Amortizing per-element overhead of a downstream call
//
// Example:
//
//	// Deliver readings three at a time
//	triples := flowz.NewRegroup[Reading](3).Apply(readings)
//
// Parameters:
//   - size: Number of elements per group (values below 1 mean 1)
func NewRegroup[T any](size int) *Regroup[T] {
	if size < 1 {
		size = 1
	}
	return &Regroup[T]{
		size: size,
		name: "regroup",
	}
}

// WithName sets a custom name for this stage.
// If not set, defaults to "regroup".
func (r *Regroup[T]) WithName(name string) *Regroup[T] {
	r.name = name
	return r
}

// Apply implements Stage.
func (r *Regroup[T]) Apply(upstream Source[T]) Source[[]T] {
	return newDerived(r.name, func(ctx context.Context, sink Sink[[]T]) error {
		return upstream.Attach(ctx, &regroupSink[T]{
			ctx:   ctx,
			down:  sink,
			size:  r.size,
			group: make([]T, 0, r.size),
		})
	})
}

// Name returns the stage name.
func (r *Regroup[T]) Name() string {
	return r.name
}

type regroupSink[T any] struct {
	ctx   context.Context
	down  Sink[[]T]
	group []T
	size  int
}

func (s *regroupSink[T]) Next(ctx context.Context, item T) error {
	s.group = append(s.group, item)
	if len(s.group) < s.size {
		return nil
	}
	group := s.group
	s.group = make([]T, 0, s.size)
	return s.down.Next(ctx, group)
}

func (s *regroupSink[T]) Close(err error) {
	if err == nil && len(s.group) > 0 {
		if nerr := s.down.Next(s.ctx, s.group); nerr != nil {
			return
		}
	}
	s.down.Close(err)
}
