package flowz

import (
	"context"
)

// Sequential maps every inbound element to a sub-stream and concatenates the
// sub-streams in arrival order. The next inbound element is requested only
// after the current sub-stream completed, so no sub-stream is built before
// its predecessor finished and downstream backpressure reaches the original
// producer through the concatenation.
type Sequential[In, Out any] struct {
	name string
	fn   func(In) Source[Out]
}

// NewSequential creates a concatenating composition stage.
//
// Example:
//
//	// Each query streams its rows; queries run one after another
//	rows := flowz.NewSequential(func(q Query) flowz.Source[Row] {
//		return db.Stream(q)
//	}).Apply(queries)
func NewSequential[In, Out any](fn func(In) Source[Out]) *Sequential[In, Out] {
	return &Sequential[In, Out]{
		name: "sequential",
		fn:   fn,
	}
}

// WithName sets a custom name for this stage.
// If not set, defaults to "sequential".
func (s *Sequential[In, Out]) WithName(name string) *Sequential[In, Out] {
	s.name = name
	return s
}

// Apply implements Stage.
func (s *Sequential[In, Out]) Apply(upstream Source[In]) Source[Out] {
	return newDerived(s.name, func(ctx context.Context, sink Sink[Out]) error {
		out := NewUnicast[Out](nil).WithName(s.name)
		if err := out.Attach(ctx, sink); err != nil {
			return err
		}
		ch := out.Channel()
		return upstream.Attach(ch.Context(), &sequentialSink[In, Out]{stage: s, ch: ch})
	})
}

// Name returns the stage name.
func (s *Sequential[In, Out]) Name() string {
	return s.name
}

type sequentialSink[In, Out any] struct {
	stage *Sequential[In, Out]
	ch    *Channel[Out]
}

func (q *sequentialSink[In, Out]) Next(_ context.Context, chunk In) error {
	sub := q.stage.fn(chunk)
	finished := make(chan error, 1)
	forward := SinkFunc[Out]{
		OnNext: func(ctx context.Context, item Out) error {
			return q.ch.Push(ctx, item)
		},
		OnClose: func(err error) {
			finished <- err
		},
	}

	ctx, cancel := context.WithCancel(q.ch.Context())
	defer cancel()
	if err := sub.Attach(ctx, forward); err != nil {
		q.ch.Fail(err)
		return err
	}

	select {
	case err := <-finished:
		if err != nil {
			q.ch.Fail(err)
			return err
		}
		return nil
	case <-q.ch.Done():
		return answerFor(q.ch.Err())
	}
}

func (q *sequentialSink[In, Out]) Close(err error) {
	q.ch.Fail(err)
}
