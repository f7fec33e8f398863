package flowz

import (
	"context"
)

// Filter passes through only the elements matching a predicate. Discarded
// elements grant demand upstream immediately.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type Filter[T any] struct {
	name      string
	predicate func(T) bool
}

// NewFilter creates a stage that selectively passes elements.
//
// Example:
//
//	errorsOnly := flowz.NewFilter("errors", func(e LogEntry) bool {
//		return e.Level == "ERROR"
//	}).Apply(entries)
func NewFilter[T any](name string, predicate func(T) bool) *Filter[T] {
	return &Filter[T]{
		name:      name,
		predicate: predicate,
	}
}

// Apply implements Stage.
func (f *Filter[T]) Apply(upstream Source[T]) Source[T] {
	return newDerived(f.name, func(ctx context.Context, sink Sink[T]) error {
		return upstream.Attach(ctx, SinkFunc[T]{
			OnNext: func(ctx context.Context, item T) error {
				if !f.predicate(item) {
					return nil
				}
				return sink.Next(ctx, item)
			},
			OnClose: sink.Close,
		})
	})
}

// Name returns the filter name.
func (f *Filter[T]) Name() string {
	return f.name
}
