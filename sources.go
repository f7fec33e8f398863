package flowz

import (
	"context"
)

// FromSlice returns a Source emitting items in order, then completing.
func FromSlice[T any](items ...T) Source[T] {
	return NewUnicast(func(ctx context.Context, ch *Channel[T]) {
		go func() {
			for _, item := range items {
				if err := ch.Push(ctx, item); err != nil {
					return
				}
			}
			ch.End()
		}()
	}).WithName("slice")
}

// FromChan returns a Source emitting values received from in. The Source
// completes when in is closed.
func FromChan[T any](in <-chan T) Source[T] {
	return NewUnicast(func(ctx context.Context, ch *Channel[T]) {
		go func() {
			for {
				select {
				case item, ok := <-in:
					if !ok {
						ch.End()
						return
					}
					if err := ch.Push(ctx, item); err != nil {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}).WithName("chan")
}

// Empty returns a Source that completes immediately.
func Empty[T any]() Source[T] {
	return NewUnicast(func(_ context.Context, ch *Channel[T]) {
		ch.End()
	}).WithName("empty")
}

// Failed returns a Source that fails immediately with err.
func Failed[T any](err error) Source[T] {
	return NewUnicast(func(_ context.Context, ch *Channel[T]) {
		ch.Fail(err)
	}).WithName("failed")
}
