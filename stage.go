package flowz

import (
	"context"
	"errors"
	"sync/atomic"
)

// derived is the Source returned by stages. It enforces single attachment and
// defers the actual wiring to attach.
type derived[T any] struct {
	attach   func(ctx context.Context, sink Sink[T]) error
	name     string
	attached atomic.Bool
}

func newDerived[T any](name string, attach func(ctx context.Context, sink Sink[T]) error) *derived[T] {
	return &derived[T]{attach: attach, name: name}
}

func (d *derived[T]) Attach(ctx context.Context, sink Sink[T]) error {
	if sink == nil {
		return errors.New("flowz: nil sink")
	}
	if !d.attached.CompareAndSwap(false, true) {
		return ErrAttachmentConflict
	}
	return d.attach(ctx, sink)
}

// Name returns the name of the stage that derived this source.
func (d *derived[T]) Name() string {
	return d.name
}

// halt records why a stage's downstream went away and wakes everything
// waiting on it.
type halt struct {
	err     error
	stopped chan struct{}
	stage   string
	flag    atomic.Bool
}

func newHalt(stage string) *halt {
	return &halt{stage: stage, stopped: make(chan struct{})}
}

func (h *halt) stop(err error) {
	if h.flag.CompareAndSwap(false, true) {
		h.err = err
		close(h.stopped)
	}
}

// upstreamAnswer is what a stage returns to its upstream once the downstream
// is gone: ErrStop when the consumer finished normally, a DownstreamFailure
// otherwise.
func (h *halt) upstreamAnswer() error {
	<-h.stopped
	if h.err == nil || isStop(h.err) {
		return ErrStop
	}
	return &DownstreamFailure{Stage: h.stage, Err: h.err}
}

// answerFor maps the terminal state of a pairing to what a stage returns to
// its own upstream.
func answerFor(err error) error {
	if err == nil || isStop(err) {
		return ErrStop
	}
	return err
}
