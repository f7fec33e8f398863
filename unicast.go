package flowz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Unicast is a Source driven imperatively through a Channel. It is created in
// a pending state: the Channel exists immediately, but pushes wait until a Sink
// attaches. Attachment happens at most once.
type Unicast[T any] struct {
	onStart  func(ctx context.Context, ch *Channel[T])
	ch       *Channel[T]
	name     string
	attached atomic.Bool
}

// NewUnicast creates a pending Source. onStart, if non-nil, runs exactly once
// on the attaching goroutine after the Sink is bound; it receives a context
// that ends with the pairing and the Channel feeding the Sink. onStart should
// not block: hand long-running production to a goroutine.
//
// Example:
//
//	src := flowz.NewUnicast(func(ctx context.Context, ch *flowz.Channel[string]) {
//		go func() {
//			defer ch.End()
//			for _, word := range words {
//				if err := ch.Push(ctx, word); err != nil {
//					return
//				}
//			}
//		}()
//	})
func NewUnicast[T any](onStart func(ctx context.Context, ch *Channel[T])) *Unicast[T] {
	u := &Unicast[T]{
		onStart: onStart,
		name:    "unicast",
	}
	u.ch = newChannel[T](u.name)
	return u
}

// WithName sets a custom name for this source.
// If not set, defaults to "unicast".
func (u *Unicast[T]) WithName(name string) *Unicast[T] {
	u.name = name
	u.ch.stage = name
	return u
}

// Channel returns the push handle bound to this Source.
func (u *Unicast[T]) Channel() *Channel[T] {
	return u.ch
}

// Attach binds sink and runs onStart.
func (u *Unicast[T]) Attach(ctx context.Context, sink Sink[T]) error {
	if sink == nil {
		return errors.New("flowz: nil sink")
	}
	if !u.attached.CompareAndSwap(false, true) {
		return ErrAttachmentConflict
	}
	u.ch.bind(ctx, sink)
	if u.onStart != nil {
		u.onStart(u.ch.Context(), u.ch)
	}
	return nil
}

// Name returns the source name.
func (u *Unicast[T]) Name() string {
	return u.name
}

// Channel is the push handle of a Unicast source. Push, End and Fail are safe
// for concurrent use; the Channel serializes them so the attached Sink never
// sees overlapping calls. Concurrent pushers are served in arrival order.
type Channel[T any] struct {
	sink   Sink[T]
	parent context.Context
	life   context.Context
	kill   context.CancelFunc
	err    error
	reason error
	turn   chan struct{}
	ready  chan struct{}
	done   chan struct{}
	stage  string
	mu     sync.Mutex

	pendingClose bool
}

func newChannel[T any](stage string) *Channel[T] {
	life, kill := context.WithCancel(context.Background())
	return &Channel[T]{
		life:  life,
		kill:  kill,
		turn:  make(chan struct{}, 1),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
		stage: stage,
	}
}

// NewChannel returns a Channel together with the pending Source it feeds.
func NewChannel[T any]() (*Channel[T], *Unicast[T]) {
	u := NewUnicast[T](nil)
	return u.ch, u
}

func (c *Channel[T]) bind(parent context.Context, sink Sink[T]) {
	c.mu.Lock()
	c.sink = sink
	c.parent = parent
	deliver := c.pendingClose
	reason := c.reason
	c.pendingClose = false
	c.mu.Unlock()
	close(c.ready)

	if deliver {
		sink.Close(reason)
		return
	}
	go c.watch(parent)
}

// watch ends the pairing when the consumer's attachment context is cancelled.
func (c *Channel[T]) watch(parent context.Context) {
	select {
	case <-parent.Done():
		c.terminate(&DownstreamFailure{Stage: c.stage, Err: context.Cause(parent)})
	case <-c.done:
	}
}

// terminate records the terminal state once. It reports whether this call
// performed the transition.
func (c *Channel[T]) terminate(err error) bool {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return false
	}
	c.err = err
	close(c.done)
	c.mu.Unlock()
	c.kill()
	return true
}

// Push delivers item to the attached Sink and returns once the Sink has
// answered. It waits for attachment first. A nil return means the Sink
// granted demand for another element. After the Sink signalled done, Push
// returns ErrClosed; after a failure it returns that failure.
func (c *Channel[T]) Push(ctx context.Context, item T) error {
	select {
	case <-c.ready:
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case c.turn <- struct{}{}:
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.turn }()

	if err := c.Err(); err != nil {
		return err
	}
	// A cancellation that lands after this check reaches the Sink through the
	// dead context of the element in flight.
	if c.parent.Err() != nil {
		c.terminate(&DownstreamFailure{Stage: c.stage, Err: context.Cause(c.parent)})
		return c.Err()
	}

	err := c.sink.Next(c.life, item)
	switch {
	case err == nil:
		return nil
	case isStop(err):
		err = ErrClosed
	}
	if !c.terminate(err) {
		return c.Err()
	}
	return err
}

// End completes the stream normally. It waits for an in-flight Push to finish
// and is a no-op once the pairing has terminated.
func (c *Channel[T]) End() {
	c.finish(ErrClosed, nil)
}

// Fail terminates the stream with an upstream failure delivered to the Sink.
func (c *Channel[T]) Fail(err error) {
	if err == nil {
		c.End()
		return
	}
	failure := upstreamFailure(c.stage, err)
	c.finish(failure, failure)
}

func (c *Channel[T]) finish(state, reason error) {
	select {
	case c.turn <- struct{}{}:
	case <-c.done:
		return
	}
	defer func() { <-c.turn }()

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = state
	close(c.done)
	sink := c.sink
	if sink == nil {
		c.pendingClose = true
		c.reason = reason
	}
	c.mu.Unlock()

	if sink != nil {
		sink.Close(reason)
	}
	c.kill()
}

// abort fails the stream without waiting for an in-flight Push. The element
// in flight sees a cancelled context and queued pushers return the failure;
// the Sink is closed once the Push in flight has answered.
func (c *Channel[T]) abort(err error) {
	failure := upstreamFailure(c.stage, err)
	state := failure
	if state == nil {
		state = ErrClosed
	}

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = state
	close(c.done)
	sink := c.sink
	if sink == nil {
		c.pendingClose = true
		c.reason = failure
	}
	c.mu.Unlock()
	c.kill()

	if sink == nil {
		return
	}
	go func() {
		c.turn <- struct{}{}
		defer func() { <-c.turn }()
		sink.Close(failure)
	}()
}

// Done is closed once the pairing has terminated, from either side.
func (c *Channel[T]) Done() <-chan struct{} {
	return c.done
}

// Context returns a context cancelled when the pairing terminates. Handlers
// pass it to asynchronous work whose results are only useful while the
// stream is alive.
func (c *Channel[T]) Context() context.Context {
	return c.life
}

// Err returns nil while the pairing is running, ErrClosed after a normal
// end, or the failure that terminated it.
func (c *Channel[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
