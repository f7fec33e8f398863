package flowz

import (
	"context"
	"time"
)

// Throttle limits the rate of elements passing through the stream to one per
// interval. It never drops: an element arriving early is held, and so is the
// upstream, until the interval since the previous element has elapsed.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type Throttle[T any] struct {
	name     string
	clock    Clock
	interval time.Duration
}

// NewThrottle creates a stage that paces elements.
//
// When to use:
//   - Prevent a fast producer from flooding a slow client
//   - Comply with API rate limits
//   - Smooth out bursts
//
// Example:
//
//	// At most 10 frames per second to each client
//	paced := flowz.NewThrottle[Frame](100*time.Millisecond, flowz.RealClock).Apply(frames)
//
// Parameters:
//   - interval: Minimum time between two elements
//   - clock: Clock used for pacing
func NewThrottle[T any](interval time.Duration, clock Clock) *Throttle[T] {
	return &Throttle[T]{
		name:     "throttle",
		clock:    clock,
		interval: interval,
	}
}

// WithName sets a custom name for this stage.
// If not set, defaults to "throttle".
func (t *Throttle[T]) WithName(name string) *Throttle[T] {
	t.name = name
	return t
}

// Apply implements Stage.
func (t *Throttle[T]) Apply(upstream Source[T]) Source[T] {
	return newDerived(t.name, func(ctx context.Context, sink Sink[T]) error {
		var (
			last    time.Time
			started bool
		)
		return upstream.Attach(ctx, SinkFunc[T]{
			OnNext: func(ctx context.Context, item T) error {
				if started {
					if wait := t.interval - t.clock.Now().Sub(last); wait > 0 {
						select {
						case <-t.clock.After(wait):
						case <-ctx.Done():
							return context.Cause(ctx)
						}
					}
				}
				last, started = t.clock.Now(), true
				return sink.Next(ctx, item)
			},
			OnClose: sink.Close,
		})
	})
}

// Name returns the stage name.
func (t *Throttle[T]) Name() string {
	return t.name
}
