package flowz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// PatchPanel exposes one stable Source to a single downstream Sink while the
// upstream feeding it can be swapped at any time with PatchIn. The downstream
// never re-attaches; only the feed changes.
//
// Replacing the feed cancels the previous upstream. Elements it had not yet
// delivered are discarded, and once PatchIn returns no element from it
// reaches the downstream. When the patched upstream completes normally the
// panel idles until the next PatchIn, or completes if End was requested. An
// upstream failure fails the panel.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type PatchPanel[T any] struct {
	name     string
	logger   zerolog.Logger
	attached atomic.Bool

	// patchMu serializes PatchIn, End and Fail.
	patchMu sync.Mutex
	// deliver is held while an element is handed to the downstream.
	deliver sync.Mutex

	mu      sync.Mutex
	ctx     context.Context
	down    Sink[T]
	gen     uint64
	cancel  context.CancelFunc
	pending Source[T]
	live    bool
	ending  bool
	err     error
	reason  error
	done    chan struct{}

	pendingClose bool
}

// NewPatchPanel creates an idle panel.
//
// Example:
//
//	panel := flowz.NewPatchPanel[Frame]()
//	_ = panel.Attach(ctx, socketWriter)
//
//	// Later, from whatever owns the panel:
//	_ = panel.PatchIn(renderScene(ctx, "intro"))
//	_ = panel.PatchIn(renderScene(ctx, "main")) // intro is cancelled
//	panel.End()
func NewPatchPanel[T any]() *PatchPanel[T] {
	return &PatchPanel[T]{
		name:   "patch-panel",
		logger: zerolog.Nop(),
		done:   make(chan struct{}),
	}
}

// WithName sets a custom name for this panel.
// If not set, defaults to "patch-panel".
func (p *PatchPanel[T]) WithName(name string) *PatchPanel[T] {
	p.name = name
	return p
}

// WithLogger sets the logger used to report patches.
func (p *PatchPanel[T]) WithLogger(logger zerolog.Logger) *PatchPanel[T] {
	p.logger = logger
	return p
}

// Name returns the panel name.
func (p *PatchPanel[T]) Name() string {
	return p.name
}

// Attach binds the downstream Sink. A feed patched in before attachment
// starts now.
func (p *PatchPanel[T]) Attach(ctx context.Context, sink Sink[T]) error {
	if sink == nil {
		return errors.New("flowz: nil sink")
	}
	if !p.attached.CompareAndSwap(false, true) {
		return ErrAttachmentConflict
	}

	p.mu.Lock()
	p.down = sink
	p.ctx = ctx
	if p.pendingClose {
		p.pendingClose = false
		reason := p.reason
		p.mu.Unlock()
		sink.Close(reason)
		return nil
	}
	src, gen := p.pending, p.gen
	p.pending = nil
	var upCtx context.Context
	if src != nil {
		upCtx, p.cancel = context.WithCancel(ctx)
	}
	p.mu.Unlock()

	go p.watch(ctx)
	if src != nil {
		if err := p.connect(upCtx, src, gen); err != nil {
			p.Fail(err)
		}
	}
	return nil
}

func (p *PatchPanel[T]) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		p.mu.Lock()
		cancel, _ := p.terminateLocked(&DownstreamFailure{Stage: p.name, Err: context.Cause(ctx)})
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	case <-p.done:
	}
}

// PatchIn makes src the sole feed of the downstream, cancelling the current
// one. If an element of the current feed is being delivered, PatchIn waits
// for the downstream to answer it. PatchIn returns ErrClosed once the panel
// has terminated or End was called.
func (p *PatchPanel[T]) PatchIn(src Source[T]) error {
	p.patchMu.Lock()
	defer p.patchMu.Unlock()

	p.deliver.Lock()
	p.mu.Lock()
	if p.err != nil || p.ending {
		p.mu.Unlock()
		p.deliver.Unlock()
		return ErrClosed
	}
	p.gen++
	gen := p.gen
	prev := p.cancel
	p.cancel = nil
	p.live = true
	if p.down == nil {
		p.pending = src
		p.mu.Unlock()
		p.deliver.Unlock()
		patchesTotal.WithLabelValues(p.name).Inc()
		return nil
	}
	upCtx, cancel := context.WithCancel(p.ctx)
	p.cancel = cancel
	p.mu.Unlock()
	p.deliver.Unlock()

	if prev != nil {
		prev()
		p.logger.Debug().Str("panel", p.name).Uint64("generation", gen-1).Msg("upstream cancelled")
	}
	patchesTotal.WithLabelValues(p.name).Inc()
	p.logger.Debug().Str("panel", p.name).Str("source", src.Name()).Uint64("generation", gen).Msg("patched in")
	return p.connect(upCtx, src, gen)
}

func (p *PatchPanel[T]) connect(ctx context.Context, src Source[T], gen uint64) error {
	if err := src.Attach(ctx, &patchSink[T]{panel: p, gen: gen}); err != nil {
		p.mu.Lock()
		if p.gen == gen {
			p.live = false
		}
		p.mu.Unlock()
		return err
	}
	return nil
}

// End completes the panel once the current feed completes. Without a live
// feed the downstream completes immediately.
func (p *PatchPanel[T]) End() {
	p.patchMu.Lock()
	defer p.patchMu.Unlock()

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.ending = true
	if p.live {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.close(0, false, ErrClosed, nil)
}

// Fail cancels the current feed and fails the downstream with err.
func (p *PatchPanel[T]) Fail(err error) {
	if err == nil {
		p.End()
		return
	}
	p.patchMu.Lock()
	defer p.patchMu.Unlock()
	failure := upstreamFailure(p.name, err)
	p.close(0, false, failure, failure)
}

// Done is closed once the panel has terminated.
func (p *PatchPanel[T]) Done() <-chan struct{} {
	return p.done
}

// Err returns nil while the panel is running, ErrClosed after a normal end, or
// the failure that terminated it.
func (p *PatchPanel[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// close terminates the panel and notifies the downstream. With checkGen set it
// only acts while gen is still the current feed.
func (p *PatchPanel[T]) close(gen uint64, checkGen bool, state, reason error) {
	p.deliver.Lock()
	defer p.deliver.Unlock()

	p.mu.Lock()
	if checkGen && p.gen != gen {
		p.mu.Unlock()
		return
	}
	down := p.down
	cancel, ok := p.terminateLocked(state)
	if !ok {
		p.mu.Unlock()
		return
	}
	if down == nil {
		p.pendingClose = true
		p.reason = reason
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if down != nil {
		down.Close(reason)
	}
}

// terminateLocked records the terminal state once and returns the function
// cancelling the current feed, if any. ok is false if the panel had already
// terminated.
func (p *PatchPanel[T]) terminateLocked(state error) (cancel context.CancelFunc, ok bool) {
	if p.err != nil {
		return nil, false
	}
	p.err = state
	close(p.done)
	cancel = p.cancel
	p.cancel = nil
	p.pending = nil
	p.live = false
	return cancel, true
}

type patchSink[T any] struct {
	panel *PatchPanel[T]
	gen   uint64
}

func (s *patchSink[T]) Next(_ context.Context, item T) error {
	p := s.panel
	p.deliver.Lock()
	defer p.deliver.Unlock()

	p.mu.Lock()
	if p.err != nil || p.gen != s.gen {
		p.mu.Unlock()
		return ErrStop
	}
	down, ctx := p.down, p.ctx
	p.mu.Unlock()

	err := down.Next(ctx, item)
	if err == nil {
		return nil
	}
	state := error(ErrClosed)
	if !isStop(err) {
		state = &DownstreamFailure{Stage: p.name, Err: err}
	}
	p.mu.Lock()
	cancel, _ := p.terminateLocked(state)
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return answerFor(state)
}

func (s *patchSink[T]) Close(err error) {
	p := s.panel
	if err != nil {
		failure := upstreamFailure(p.name, err)
		p.close(s.gen, true, failure, failure)
		return
	}

	p.mu.Lock()
	if p.err != nil || p.gen != s.gen {
		p.mu.Unlock()
		return
	}
	p.live = false
	ending := p.ending
	p.mu.Unlock()

	if ending {
		p.close(s.gen, true, ErrClosed, nil)
		return
	}
	p.logger.Debug().Str("panel", p.name).Uint64("generation", s.gen).Msg("upstream completed, idle")
}
