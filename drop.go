package flowz

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DropIfNotReady forwards an element only if the downstream grants demand
// within a timeout of its arrival. Otherwise the element is discarded and the
// upstream is released immediately, so the producer never waits longer than
// the timeout for any single element and is never blocked by a slow consumer
// beyond that.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type DropIfNotReady[T any] struct {
	name      string
	timeout   time.Duration
	clock     Clock
	onDrop    func(T)
	onTimeout func(*StreamError[T])
	logger    zerolog.Logger
}

// NewDropIfNotReady creates a lossy stage for real-time streams where a late
// element is worthless.
//
// When to use:
//   - Live telemetry where only fresh readings matter
//   - Protecting a socket reader from a stalled consumer
//   - Presence or cursor updates that are superseded anyway
//
// Example:
//
//	// Discard positions the client cannot take within 1s
//	live := flowz.NewDropIfNotReady[Position](time.Second, flowz.RealClock).
//		OnDrop(func(p Position) {
//			log.Printf("dropped position %v", p)
//		}).
//		Apply(positions)
//
// Parameters:
//   - timeout: How long an element may wait for downstream demand
//   - clock: Clock interface for time operations
func NewDropIfNotReady[T any](timeout time.Duration, clock Clock) *DropIfNotReady[T] {
	return &DropIfNotReady[T]{
		name:    "drop-if-not-ready",
		timeout: timeout,
		clock:   clock,
		logger:  zerolog.Nop(),
	}
}

// OnDrop sets a callback invoked for each discarded element.
// If not set, dropped elements are silently discarded.
func (d *DropIfNotReady[T]) OnDrop(fn func(T)) *DropIfNotReady[T] {
	d.onDrop = fn
	return d
}

// OnTimeout sets a callback receiving each discarded element wrapped in a
// StreamError whose cause is ErrTimeout.
func (d *DropIfNotReady[T]) OnTimeout(fn func(*StreamError[T])) *DropIfNotReady[T] {
	d.onTimeout = fn
	return d
}

// WithName sets a custom name for this stage.
// If not set, defaults to "drop-if-not-ready".
func (d *DropIfNotReady[T]) WithName(name string) *DropIfNotReady[T] {
	d.name = name
	return d
}

// WithLogger sets the logger used to report drops at debug level.
func (d *DropIfNotReady[T]) WithLogger(logger zerolog.Logger) *DropIfNotReady[T] {
	d.logger = logger
	return d
}

// Apply implements Stage.
func (d *DropIfNotReady[T]) Apply(upstream Source[T]) Source[T] {
	return newDerived(d.name, func(ctx context.Context, sink Sink[T]) error {
		ctx, cancel := context.WithCancel(ctx)
		s := &dropSink[T]{
			stage:   d,
			handoff: make(chan T),
			closed:  make(chan struct{}),
			halt:    newHalt(d.name),
		}
		if err := upstream.Attach(ctx, s); err != nil {
			cancel()
			return err
		}
		go s.drain(ctx, cancel, sink)
		return nil
	})
}

// Name returns the stage name.
func (d *DropIfNotReady[T]) Name() string {
	return d.name
}

type dropSink[T any] struct {
	stage   *DropIfNotReady[T]
	upErr   error
	handoff chan T
	closed  chan struct{}
	halt    *halt
}

func (s *dropSink[T]) Next(ctx context.Context, item T) error {
	timer := s.stage.clock.NewTimer(s.stage.timeout)
	defer timer.Stop()

	select {
	case s.handoff <- item:
		return nil
	case <-timer.C():
		s.drop(item)
		return nil
	case <-s.halt.stopped:
		return s.halt.upstreamAnswer()
	case <-ctx.Done():
		return ErrStop
	}
}

func (s *dropSink[T]) drop(item T) {
	droppedTotal.WithLabelValues(s.stage.name).Inc()
	s.stage.logger.Debug().
		Err(ErrTimeout).
		Str("stage", s.stage.name).
		Dur("timeout", s.stage.timeout).
		Msg("downstream not ready, element dropped")
	if s.stage.onDrop != nil {
		s.stage.onDrop(item)
	}
	if s.stage.onTimeout != nil {
		s.stage.onTimeout(NewStreamError(item, ErrTimeout, s.stage.name))
	}
}

func (s *dropSink[T]) Close(err error) {
	s.upErr = err
	close(s.closed)
}

func (s *dropSink[T]) drain(ctx context.Context, cancel context.CancelFunc, sink Sink[T]) {
	defer cancel()
	for {
		select {
		case item := <-s.handoff:
			if err := sink.Next(ctx, item); err != nil {
				s.halt.stop(err)
				return
			}
		case <-s.closed:
			sink.Close(s.upErr)
			return
		case <-ctx.Done():
			s.halt.stop(context.Cause(ctx))
			return
		}
	}
}
