package flowz

import (
	"context"

	"github.com/rs/zerolog"
)

// Tap executes a side effect for each element while passing elements through
// unchanged. It observes without interfering: the side effect runs before the
// element is offered downstream, and the downstream answer is returned to the
// upstream as is.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type Tap[T any] struct {
	name   string
	fn     func(T)
	logger zerolog.Logger
}

// NewTap creates a stage that calls fn for every element.
//
// When to use:
//   - Debug logging and tracing at a specific point of a pipeline
//   - Counting or sampling elements for metrics
//   - Verifying flow in tests
//
// Example:
//
//	logged := flowz.NewTap(func(f wsconn.Message) {
//		log.Debug().Int("bytes", len(f.Data)).Msg("outbound frame")
//	}).WithName("outbound-debug").Apply(frames)
//
// Parameters:
//   - fn: Side effect receiving each element
func NewTap[T any](fn func(T)) *Tap[T] {
	return &Tap[T]{
		name:   "tap",
		fn:     fn,
		logger: zerolog.Nop(),
	}
}

// WithName sets a custom name for this stage.
// If not set, defaults to "tap".
func (t *Tap[T]) WithName(name string) *Tap[T] {
	t.name = name
	return t
}

// WithLogger sets the logger that reports panicking side effects.
func (t *Tap[T]) WithLogger(logger zerolog.Logger) *Tap[T] {
	t.logger = logger
	return t
}

// Apply implements Stage.
func (t *Tap[T]) Apply(upstream Source[T]) Source[T] {
	return newDerived(t.name, func(ctx context.Context, sink Sink[T]) error {
		return upstream.Attach(ctx, SinkFunc[T]{
			OnNext: func(ctx context.Context, item T) error {
				t.observe(item)
				return sink.Next(ctx, item)
			},
			OnClose: sink.Close,
		})
	})
}

// observe runs the side effect. A panic is logged and the element still
// passes.
func (t *Tap[T]) observe(item T) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Str("stage", t.name).Interface("panic", r).Msg("side effect panicked")
		}
	}()
	t.fn(item)
}

// Name returns the tap name.
func (t *Tap[T]) Name() string {
	return t.name
}
