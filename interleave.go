package flowz

import (
	"context"
	"sync"
)

// Interleave merges a growing set of Sources into one. Branches can be added
// while the merged stream runs. Branches offering an element are served in
// the order they offered, so every branch with a pending element is serviced
// while the downstream keeps granting demand. Order within a branch is
// preserved; order across branches is not specified.
//
// The merged stream completes once it is sealed and every branch completed.
// A failing branch fails the merged stream and cancels the other branches.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type Interleave[T any] struct {
	out     *Unicast[T]
	name    string
	mu      sync.Mutex
	ctx     context.Context
	pending []Source[T]
	live    int
	started bool
	sealed  bool
}

// NewInterleave creates an empty merged stream.
//
// Example:
//
//	merged := flowz.NewInterleave[Event]()
//	_ = merged.Add(clicks)
//	_ = merged.Add(keys)
//	merged.Seal() // no more branches; completes after clicks and keys
func NewInterleave[T any]() *Interleave[T] {
	m := &Interleave[T]{name: "interleave"}
	m.out = NewUnicast(func(ctx context.Context, _ *Channel[T]) {
		m.start(ctx)
	}).WithName(m.name)
	return m
}

// WithName sets a custom name for this stream.
// If not set, defaults to "interleave".
func (m *Interleave[T]) WithName(name string) *Interleave[T] {
	m.name = name
	m.out.WithName(name)
	return m
}

// Attach implements Source.
func (m *Interleave[T]) Attach(ctx context.Context, sink Sink[T]) error {
	return m.out.Attach(ctx, sink)
}

// Name returns the stream name.
func (m *Interleave[T]) Name() string {
	return m.name
}

// Add merges src into the stream. Branches added before attachment start when
// the downstream attaches. Add returns ErrClosed after Seal or once the
// merged stream terminated.
func (m *Interleave[T]) Add(src Source[T]) error {
	m.mu.Lock()
	if m.sealed || m.out.ch.Err() != nil {
		m.mu.Unlock()
		return ErrClosed
	}
	m.live++
	if !m.started {
		m.pending = append(m.pending, src)
		m.mu.Unlock()
		return nil
	}
	ctx := m.ctx
	m.mu.Unlock()

	m.branch(ctx, src)
	return nil
}

// Seal declares that no more branches will be added.
func (m *Interleave[T]) Seal() {
	m.mu.Lock()
	m.sealed = true
	end := m.started && m.live == 0
	m.mu.Unlock()
	if end {
		m.out.ch.End()
	}
}

// Branches returns the number of branches that have not completed yet.
func (m *Interleave[T]) Branches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

func (m *Interleave[T]) start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.started = true
	srcs := m.pending
	m.pending = nil
	end := m.sealed && m.live == 0
	m.mu.Unlock()

	for _, src := range srcs {
		m.branch(ctx, src)
	}
	if end {
		m.out.ch.End()
	}
}

func (m *Interleave[T]) branch(ctx context.Context, src Source[T]) {
	if err := src.Attach(ctx, &branchSink[T]{merge: m}); err != nil {
		m.out.ch.Fail(err)
	}
}

func (m *Interleave[T]) branchDone() {
	m.mu.Lock()
	m.live--
	end := m.sealed && m.live == 0
	m.mu.Unlock()
	if end {
		m.out.ch.End()
	}
}

// branchSink forwards one branch into the shared Channel. The Channel queues
// concurrent pushers in arrival order, which makes the merge first come,
// first served.
type branchSink[T any] struct {
	merge *Interleave[T]
}

func (b *branchSink[T]) Next(ctx context.Context, item T) error {
	return b.merge.out.ch.Push(ctx, item)
}

func (b *branchSink[T]) Close(err error) {
	if err != nil {
		b.merge.out.ch.Fail(err)
		return
	}
	b.merge.branchDone()
}
