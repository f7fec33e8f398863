// Package flowz provides backpressure-aware, unicast message streams built
// on a single-credit demand protocol between a Source and exactly one Sink.
//
// A Source produces an ordered sequence of elements. A Sink consumes them one
// at a time: each call to Next blocks the producer until the Sink has answered,
// so a producer can never run more than one element ahead of its consumer.
// Richer flow control (buffering, timeouts, regrouping, async mapping) is built
// by composing Stages on top of that contract rather than by weakening it.
//
// Basic usage:
//
//	ctx := context.Background()
//
//	src := flowz.Via(flowz.FromSlice(1, 2, 3, 4, 5),
//		flowz.NewFilter("odd", func(n int) bool { return n%2 == 1 }),
//		flowz.NewBuffer[int](16),
//	)
//
//	items, err := flowz.Collect(ctx, src)
//
// On top of the protocol the package provides:
//   - Unicast sources driven by an imperative Channel
//   - An Adapter bridging open/message/close/error callbacks to a Sink/Source pair
//   - Flow stages: Buffer, DropIfNotReady, Regroup, MapAsync, Map, Filter, Take
//   - Pass-through and pacing stages: Tap, Skip, Throttle, Monitor
//   - A PatchPanel for re-wiring the upstream of a stable downstream attachment
//   - Sequential, Replaceable and Mixable sub-stream composition over Interleave
//   - Bounded Broadcast fan-out to independent subscribers
package flowz

import (
	"context"
)

// Sink consumes the elements of exactly one Source.
//
// Next receives one element and answers for it: nil grants demand for
// exactly one more element, ErrStop ends the interaction normally, and any
// other error ends it with a failure. After Next returns non-nil the Source
// must not call Next or Close again.
//
// Close is called at most once by the Source when it terminates on its own:
// with nil on normal completion, or with the failure that ended it.
type Sink[T any] interface {
	Next(ctx context.Context, item T) error
	Close(err error)
}

// Source produces an ordered, possibly infinite sequence of elements for a
// single Sink.
//
// Attach binds the Sink and starts the demand cycle. It may succeed only once
// per Source instance; any further call returns ErrAttachmentConflict and
// leaves the existing attachment untouched. Cancelling ctx terminates the
// attachment from the consumer side.
type Source[T any] interface {
	Attach(ctx context.Context, sink Sink[T]) error
	Name() string
}

// Stage is the core interface for stream transforms. It wraps an upstream
// Source and returns a new Source whose attachment attaches the upstream.
// Stages preserve the one-outstanding-demand contract at both boundaries.
type Stage[In, Out any] interface {
	// Apply returns the transformed Source. The upstream is not attached
	// until the returned Source is.
	Apply(upstream Source[In]) Source[Out]

	// Name returns a descriptive name for the stage, useful for debugging.
	Name() string
}

// Via chains same-typed stages onto a Source in order.
func Via[T any](src Source[T], stages ...Stage[T, T]) Source[T] {
	for _, s := range stages {
		src = s.Apply(src)
	}
	return src
}

// SinkFunc adapts a function to the Sink interface. The optional OnClose
// receives the Source's terminal signal.
type SinkFunc[T any] struct {
	OnNext  func(ctx context.Context, item T) error
	OnClose func(err error)
}

// Next calls OnNext.
func (f SinkFunc[T]) Next(ctx context.Context, item T) error {
	if f.OnNext == nil {
		return nil
	}
	return f.OnNext(ctx, item)
}

// Close calls OnClose if set.
func (f SinkFunc[T]) Close(err error) {
	if f.OnClose != nil {
		f.OnClose(err)
	}
}
