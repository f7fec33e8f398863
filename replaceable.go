package flowz

import (
	"context"

	"github.com/rs/zerolog"
)

// Replaceable maps every inbound element to a sub-stream that replaces the
// one currently feeding the downstream. The replaced sub-stream is cancelled
// and its undelivered elements are lost: the most recent element wins.
// Downstream backpressure applies to whichever sub-stream is patched in.
//
// The stage completes after the inbound stream completed and the last
// sub-stream finished.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type Replaceable[In, Out any] struct {
	name   string
	fn     func(In) Source[Out]
	logger zerolog.Logger
}

// NewReplaceable creates a "latest wins" composition stage.
//
// Example:
//
//	// Each new search query cancels the results still streaming for the
//	// previous one
//	results := flowz.NewReplaceable(func(q string) flowz.Source[Hit] {
//		return index.Search(ctx, q)
//	}).Apply(queries)
func NewReplaceable[In, Out any](fn func(In) Source[Out]) *Replaceable[In, Out] {
	return &Replaceable[In, Out]{
		name:   "replaceable",
		fn:     fn,
		logger: zerolog.Nop(),
	}
}

// WithName sets a custom name for this stage.
// If not set, defaults to "replaceable".
func (r *Replaceable[In, Out]) WithName(name string) *Replaceable[In, Out] {
	r.name = name
	return r
}

// WithLogger sets the logger handed to the underlying patch panel.
func (r *Replaceable[In, Out]) WithLogger(logger zerolog.Logger) *Replaceable[In, Out] {
	r.logger = logger
	return r
}

// Apply implements Stage.
func (r *Replaceable[In, Out]) Apply(upstream Source[In]) Source[Out] {
	return newDerived(r.name, func(ctx context.Context, sink Sink[Out]) error {
		panel := NewPatchPanel[Out]().WithName(r.name).WithLogger(r.logger)
		if err := panel.Attach(ctx, sink); err != nil {
			return err
		}
		return upstream.Attach(panelContext(ctx, panel), &replaceSink[In, Out]{fn: r.fn, panel: panel})
	})
}

// Name returns the stage name.
func (r *Replaceable[In, Out]) Name() string {
	return r.name
}

type replaceSink[In, Out any] struct {
	fn    func(In) Source[Out]
	panel *PatchPanel[Out]
}

func (s *replaceSink[In, Out]) Next(_ context.Context, chunk In) error {
	if err := s.panel.PatchIn(s.fn(chunk)); err != nil {
		if perr := s.panel.Err(); perr != nil {
			return answerFor(perr)
		}
		s.panel.Fail(err)
		return err
	}
	return nil
}

func (s *replaceSink[In, Out]) Close(err error) {
	s.panel.Fail(err)
}

// panelContext returns a context cancelled when parent ends or the panel
// terminates, for attaching the stream that drives the panel.
func panelContext[T any](parent context.Context, panel *PatchPanel[T]) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		defer cancel()
		select {
		case <-panel.Done():
		case <-ctx.Done():
		}
	}()
	return ctx
}
