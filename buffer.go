package flowz

import (
	"context"
)

// Buffer absorbs up to capacity elements from its upstream without
// propagating backpressure. Elements count against the capacity until the
// downstream has accepted them, so with a stalled consumer exactly capacity
// pushes complete and the next one blocks until the consumer drains one.
// Order is preserved.
type Buffer[T any] struct {
	name     string
	capacity int
}

// NewBuffer creates a stage with a bounded FIFO queue between producer and
// consumer.
//
// When to use:
//   - Smoothing out temporary processing speed mismatches
//   - Decoupling a fast socket reader from a slower handler
//   - Handling brief bursts of high throughput
//
// Example:
//
//	// Producer can run up to 20 elements ahead of the consumer
//	buffered := flowz.NewBuffer[Message](20).Apply(messages)
//
// Parameters:
//   - capacity: Maximum number of unconsumed elements (values below 1 mean 1)
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{
		capacity: capacity,
		name:     "buffer",
	}
}

// WithName sets a custom name for this stage.
// If not set, defaults to "buffer".
func (b *Buffer[T]) WithName(name string) *Buffer[T] {
	b.name = name
	return b
}

// Apply implements Stage.
func (b *Buffer[T]) Apply(upstream Source[T]) Source[T] {
	return newDerived(b.name, func(ctx context.Context, sink Sink[T]) error {
		ctx, cancel := context.WithCancel(ctx)
		q := &bufferSink[T]{
			slots: make(chan struct{}, b.capacity),
			queue: make(chan T, b.capacity),
			halt:  newHalt(b.name),
		}
		if err := upstream.Attach(ctx, q); err != nil {
			cancel()
			return err
		}
		go q.drain(ctx, cancel, sink)
		return nil
	})
}

// Name returns the buffer name.
func (b *Buffer[T]) Name() string {
	return b.name
}

type bufferSink[T any] struct {
	upErr error
	slots chan struct{}
	queue chan T
	halt  *halt
}

func (q *bufferSink[T]) Next(ctx context.Context, item T) error {
	select {
	case <-q.halt.stopped:
		return q.halt.upstreamAnswer()
	default:
	}
	select {
	case q.slots <- struct{}{}:
	case <-q.halt.stopped:
		return q.halt.upstreamAnswer()
	case <-ctx.Done():
		return ErrStop
	}
	q.queue <- item
	return nil
}

func (q *bufferSink[T]) Close(err error) {
	q.upErr = err
	close(q.queue)
}

func (q *bufferSink[T]) drain(ctx context.Context, cancel context.CancelFunc, sink Sink[T]) {
	defer cancel()
	for {
		select {
		case item, ok := <-q.queue:
			if !ok {
				sink.Close(q.upErr)
				return
			}
			err := sink.Next(ctx, item)
			<-q.slots
			if err != nil {
				q.halt.stop(err)
				return
			}
		case <-ctx.Done():
			q.halt.stop(context.Cause(ctx))
			return
		}
	}
}
