package flowz

import (
	"context"

	"github.com/rs/zerolog"
)

// Mixable maps every inbound element to a sub-stream and merges it with the
// sub-streams already running. Earlier sub-streams are not cancelled; they
// keep emitting, fairly interleaved with newer ones, and each keeps its own
// order.
//
// The running merge is a single Interleave patched into a PatchPanel; each
// new sub-stream is added to it in place. The stage completes after the
// inbound stream completed and every sub-stream finished.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type Mixable[In, Out any] struct {
	name   string
	fn     func(In) Source[Out]
	logger zerolog.Logger
}

// NewMixable creates a merging composition stage.
//
// Example:
//
//	// Every subscription request adds a feed; all feeds stay live
//	updates := flowz.NewMixable(func(topic string) flowz.Source[Update] {
//		return feeds.Follow(ctx, topic)
//	}).Apply(subscriptions)
func NewMixable[In, Out any](fn func(In) Source[Out]) *Mixable[In, Out] {
	return &Mixable[In, Out]{
		name:   "mixable",
		fn:     fn,
		logger: zerolog.Nop(),
	}
}

// WithName sets a custom name for this stage.
// If not set, defaults to "mixable".
func (m *Mixable[In, Out]) WithName(name string) *Mixable[In, Out] {
	m.name = name
	return m
}

// WithLogger sets the logger handed to the underlying patch panel.
func (m *Mixable[In, Out]) WithLogger(logger zerolog.Logger) *Mixable[In, Out] {
	m.logger = logger
	return m
}

// Apply implements Stage.
func (m *Mixable[In, Out]) Apply(upstream Source[In]) Source[Out] {
	return newDerived(m.name, func(ctx context.Context, sink Sink[Out]) error {
		panel := NewPatchPanel[Out]().WithName(m.name).WithLogger(m.logger)
		if err := panel.Attach(ctx, sink); err != nil {
			return err
		}
		merged := NewInterleave[Out]().WithName(m.name + "-merge")
		if err := panel.PatchIn(merged); err != nil {
			return err
		}
		return upstream.Attach(panelContext(ctx, panel), &mixSink[In, Out]{fn: m.fn, panel: panel, merged: merged})
	})
}

// Name returns the stage name.
func (m *Mixable[In, Out]) Name() string {
	return m.name
}

type mixSink[In, Out any] struct {
	fn     func(In) Source[Out]
	panel  *PatchPanel[Out]
	merged *Interleave[Out]
}

func (s *mixSink[In, Out]) Next(_ context.Context, chunk In) error {
	if err := s.merged.Add(s.fn(chunk)); err != nil {
		return answerFor(s.panel.Err())
	}
	return nil
}

func (s *mixSink[In, Out]) Close(err error) {
	if err != nil {
		s.panel.Fail(err)
		return
	}
	s.merged.Seal()
	s.panel.End()
}
