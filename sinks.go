package flowz

import (
	"context"
	"errors"
	"sync"
)

// Collect attaches to src and gathers every element until the stream ends.
// It returns the elements received so far together with the terminal failure,
// or ctx.Err() if ctx ends first.
func Collect[T any](ctx context.Context, src Source[T]) ([]T, error) {
	var (
		mu    sync.Mutex
		items []T
	)
	done := make(chan error, 1)
	sink := SinkFunc[T]{
		OnNext: func(_ context.Context, item T) error {
			mu.Lock()
			items = append(items, item)
			mu.Unlock()
			return nil
		},
		OnClose: func(err error) {
			done <- err
		},
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := src.Attach(ctx, sink); err != nil {
		return nil, err
	}

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	mu.Lock()
	defer mu.Unlock()
	return items, err
}

// ForEach attaches to src and calls fn for every element. A non-nil error
// from fn stops the stream and is returned; ErrStop stops it quietly.
func ForEach[T any](ctx context.Context, src Source[T], fn func(T) error) error {
	done := make(chan error, 1)
	sink := SinkFunc[T]{
		OnNext: func(_ context.Context, item T) error {
			if err := fn(item); err != nil {
				done <- err
				return err
			}
			return nil
		},
		OnClose: func(err error) {
			done <- err
		},
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := src.Attach(ctx, sink); err != nil {
		return err
	}

	select {
	case err := <-done:
		if isStop(err) {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stream bridges src to a channel. Each element arrives as a successful
// Result; a failure arrives as a final error Result. The channel is closed when
// the stream ends or ctx is cancelled. Demand is granted one element at a time
// as the caller receives from the channel.
func Stream[T any](ctx context.Context, src Source[T]) <-chan Result[T] {
	out := make(chan Result[T])
	b := &chanSink[T]{out: out, ctx: ctx, name: src.Name(), finished: make(chan struct{})}

	if err := src.Attach(ctx, b); err != nil {
		go func() {
			b.emit(NewError(*new(T), err, b.name))
			b.close()
		}()
		return out
	}

	go func() {
		select {
		case <-ctx.Done():
			b.close()
		case <-b.finished:
		}
	}()
	return out
}

type chanSink[T any] struct {
	ctx      context.Context
	out      chan Result[T]
	finished chan struct{}
	name     string
	mu       sync.Mutex
	closed   bool
}

func (b *chanSink[T]) Next(_ context.Context, item T) error {
	if !b.emit(NewSuccess(item)) {
		return ErrStop
	}
	return nil
}

// Close emits a failure as a final error Result. The Result carries the
// element the failure was raised for, if any.
func (b *chanSink[T]) Close(err error) {
	if err != nil {
		var item T
		var se *StreamError[T]
		if errors.As(err, &se) {
			item = se.Item
		}
		b.emit(NewError(item, err, b.name))
	}
	b.close()
}

func (b *chanSink[T]) emit(r Result[T]) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.out <- r:
		return true
	case <-b.ctx.Done():
		return false
	}
}

func (b *chanSink[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.out)
		close(b.finished)
	}
}
