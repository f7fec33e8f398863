package flowz

import (
	"context"
)

// MapAsync transforms each element with an asynchronous operation while
// preserving input order. By default one operation is in flight at a time and
// the next element is requested only after the current result has been
// accepted downstream, so a stalled operation stalls the upstream instead of
// letting elements pile up in memory.
//
// An operation error fails the stream with a StreamError carrying the
// offending element. When the stream terminates, results of operations still
// in flight are discarded and their contexts are cancelled.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type MapAsync[In, Out any] struct {
	name   string
	fn     func(context.Context, In) (Out, error)
	window int
}

// NewMapAsync creates an order-preserving asynchronous mapping stage.
//
// When to use:
//   - Enriching messages through an external service call
//   - Any I/O-bound transformation whose failures should stop the stream
//
// Example:
//
//	enriched := flowz.NewMapAsync(func(ctx context.Context, id string) (User, error) {
//		return users.Fetch(ctx, id)
//	}).Apply(ids)
//
//	// Up to 8 lookups in flight, output still in input order
//	enriched := flowz.NewMapAsync(fetch).WithWindow(8).Apply(ids)
func NewMapAsync[In, Out any](fn func(context.Context, In) (Out, error)) *MapAsync[In, Out] {
	return &MapAsync[In, Out]{
		name:   "map-async",
		fn:     fn,
		window: 1,
	}
}

// WithWindow allows up to n operations in flight. Results are still emitted
// in input order; n counts elements from the moment they are accepted from
// upstream until their result is accepted downstream.
func (m *MapAsync[In, Out]) WithWindow(n int) *MapAsync[In, Out] {
	if n > 0 {
		m.window = n
	}
	return m
}

// WithName sets a custom name for this stage.
// If not set, defaults to "map-async".
func (m *MapAsync[In, Out]) WithName(name string) *MapAsync[In, Out] {
	m.name = name
	return m
}

// Apply implements Stage.
func (m *MapAsync[In, Out]) Apply(upstream Source[In]) Source[Out] {
	if m.window <= 1 {
		return newDerived(m.name, func(ctx context.Context, sink Sink[Out]) error {
			return upstream.Attach(ctx, &mapAsyncSink[In, Out]{stage: m, down: sink})
		})
	}
	return newDerived(m.name, func(ctx context.Context, sink Sink[Out]) error {
		ctx, cancel := context.WithCancel(ctx)
		w := &windowSink[In, Out]{
			stage:   m,
			runCtx:  ctx,
			slots:   make(chan struct{}, m.window),
			futures: make(chan chan outcome[In, Out], m.window),
			halt:    newHalt(m.name),
		}
		if err := upstream.Attach(ctx, w); err != nil {
			cancel()
			return err
		}
		go w.drain(ctx, cancel, sink)
		return nil
	})
}

// Name returns the stage name.
func (m *MapAsync[In, Out]) Name() string {
	return m.name
}

type outcome[In, Out any] struct {
	item In
	out  Out
	err  error
}

func (m *MapAsync[In, Out]) start(ctx context.Context, item In) chan outcome[In, Out] {
	res := make(chan outcome[In, Out], 1)
	go func() {
		out, err := m.fn(ctx, item)
		res <- outcome[In, Out]{item: item, out: out, err: err}
	}()
	return res
}

func (m *MapAsync[In, Out]) failure(r outcome[In, Out]) *StreamError[In] {
	return NewStreamError(r.item, r.err, m.name)
}

// mapAsyncSink runs one operation at a time on the upstream's goroutine.
type mapAsyncSink[In, Out any] struct {
	stage *MapAsync[In, Out]
	down  Sink[Out]
}

func (s *mapAsyncSink[In, Out]) Next(ctx context.Context, item In) error {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	select {
	case r := <-s.stage.start(callCtx, item):
		if ctx.Err() != nil {
			return ErrStop
		}
		if r.err != nil {
			se := s.stage.failure(r)
			s.down.Close(&UpstreamFailure{Stage: s.stage.name, Err: se})
			return se
		}
		return s.down.Next(ctx, r.out)
	case <-ctx.Done():
		return ErrStop
	}
}

func (s *mapAsyncSink[In, Out]) Close(err error) {
	s.down.Close(err)
}

// windowSink keeps up to window operations in flight and delivers their
// results in order from a separate goroutine.
type windowSink[In, Out any] struct {
	stage   *MapAsync[In, Out]
	runCtx  context.Context
	upErr   error
	slots   chan struct{}
	futures chan chan outcome[In, Out]
	halt    *halt
}

func (w *windowSink[In, Out]) Next(ctx context.Context, item In) error {
	select {
	case w.slots <- struct{}{}:
	case <-w.halt.stopped:
		return w.halt.upstreamAnswer()
	case <-ctx.Done():
		return ErrStop
	}
	w.futures <- w.stage.start(w.runCtx, item)
	return nil
}

func (w *windowSink[In, Out]) Close(err error) {
	w.upErr = err
	close(w.futures)
}

func (w *windowSink[In, Out]) drain(ctx context.Context, cancel context.CancelFunc, sink Sink[Out]) {
	defer cancel()
	for {
		var fut chan outcome[In, Out]
		select {
		case f, ok := <-w.futures:
			if !ok {
				sink.Close(w.upErr)
				return
			}
			fut = f
		case <-ctx.Done():
			w.halt.stop(context.Cause(ctx))
			return
		}

		var r outcome[In, Out]
		select {
		case r = <-fut:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			w.halt.stop(context.Cause(ctx))
			return
		}

		if r.err != nil {
			se := w.stage.failure(r)
			w.halt.stop(se)
			sink.Close(&UpstreamFailure{Stage: w.stage.name, Err: se})
			return
		}
		err := sink.Next(ctx, r.out)
		<-w.slots
		if err != nil {
			w.halt.stop(err)
			return
		}
	}
}
