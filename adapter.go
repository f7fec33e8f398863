package flowz

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Handler receives the lifecycle events of one full-duplex exchange. One
// Handler value serves one connection, so per-connection state belongs in the
// Handler itself rather than in closures shared across connections.
//
// Callbacks are never invoked concurrently with each other, but OnMessage
// must not wait for its own asynchronous work: the adapter grants demand for
// the next inbound element as soon as OnMessage returns. Work started from
// OnMessage pushes its results through the Channel whenever it completes, so
// outbound order follows completion order, not request order.
type Handler[In, Out any] interface {
	// OnOpen runs once, when the outbound Source is attached.
	OnOpen(ch *Channel[Out])

	// OnMessage runs for every inbound element.
	OnMessage(msg In, ch *Channel[Out])

	// OnClose runs when the inbound stream completes normally.
	OnClose()

	// OnError runs when the inbound stream fails or the adapter is aborted.
	// pending holds inbound elements that were received but not handled.
	OnError(reason error, pending []In)
}

// HandlerFuncs implements Handler with optional function fields.
type HandlerFuncs[In, Out any] struct {
	Open    func(ch *Channel[Out])
	Message func(msg In, ch *Channel[Out])
	Closed  func()
	Error   func(reason error, pending []In)
}

func (h HandlerFuncs[In, Out]) OnOpen(ch *Channel[Out]) {
	if h.Open != nil {
		h.Open(ch)
	}
}

func (h HandlerFuncs[In, Out]) OnMessage(msg In, ch *Channel[Out]) {
	if h.Message != nil {
		h.Message(msg, ch)
	}
}

func (h HandlerFuncs[In, Out]) OnClose() {
	if h.Closed != nil {
		h.Closed()
	}
}

func (h HandlerFuncs[In, Out]) OnError(reason error, pending []In) {
	if h.Error != nil {
		h.Error(reason, pending)
	}
}

// Adapter couples a Handler to a Sink for inbound elements and a Source for
// outbound ones. It is both: attach the Adapter to the inbound Source as its
// Sink, and attach the outbound consumer to the Adapter as a Source.
type Adapter[In, Out any] struct {
	handler  Handler[In, Out]
	out      *Unicast[Out]
	name     string
	logger   zerolog.Logger
	mu       sync.Mutex
	finished bool
}

// NewAdapter creates an adapter for h.
//
// Example:
//
//	type echo struct{}
//
//	func (echo) OnOpen(ch *flowz.Channel[string]) {}
//	func (echo) OnMessage(msg string, ch *flowz.Channel[string]) {
//		go func() {
//			reply, err := lookup(ch.Context(), msg)
//			if err == nil {
//				_ = ch.Push(ch.Context(), reply)
//			}
//		}()
//	}
//	func (echo) OnClose()                       {}
//	func (echo) OnError(error, []string)        {}
//
//	a := flowz.NewAdapter[string, string](echo{})
//	_ = inbound.Attach(ctx, a)  // transport feeds the handler
//	_ = a.Attach(ctx, writer)   // transport drains the replies
func NewAdapter[In, Out any](h Handler[In, Out]) *Adapter[In, Out] {
	a := &Adapter[In, Out]{
		handler: h,
		name:    "adapter",
		logger:  zerolog.Nop(),
	}
	a.out = NewUnicast(func(_ context.Context, ch *Channel[Out]) {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.logger.Debug().Str("stage", a.name).Msg("outbound attached")
		a.handler.OnOpen(ch)
	}).WithName(a.name)
	return a
}

// WithName sets a custom name for this adapter.
// If not set, defaults to "adapter".
func (a *Adapter[In, Out]) WithName(name string) *Adapter[In, Out] {
	a.name = name
	a.out.WithName(name)
	return a
}

// WithLogger sets the logger used for lifecycle events.
func (a *Adapter[In, Out]) WithLogger(logger zerolog.Logger) *Adapter[In, Out] {
	a.logger = logger
	return a
}

// Channel returns the outbound push handle passed to the handler.
func (a *Adapter[In, Out]) Channel() *Channel[Out] {
	return a.out.Channel()
}

// Attach attaches the outbound consumer and triggers OnOpen.
func (a *Adapter[In, Out]) Attach(ctx context.Context, sink Sink[Out]) error {
	return a.out.Attach(ctx, sink)
}

// Name returns the adapter name.
func (a *Adapter[In, Out]) Name() string {
	return a.name
}

// Next dispatches an inbound element to OnMessage and grants demand for the
// next one as soon as OnMessage returns.
func (a *Adapter[In, Out]) Next(_ context.Context, msg In) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return ErrStop
	}
	a.handler.OnMessage(msg, a.out.Channel())
	return nil
}

// Close receives the inbound terminal signal.
func (a *Adapter[In, Out]) Close(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return
	}
	a.finished = true

	if err == nil {
		a.logger.Debug().Str("stage", a.name).Msg("inbound completed")
		a.handler.OnClose()
		return
	}
	a.logger.Warn().Err(err).Str("stage", a.name).Msg("inbound failed")
	a.handler.OnError(err, pendingInput[In](err))
}

// Abort force-closes the exchange: it waits for an in-flight OnMessage,
// reports reason through OnError, stops accepting inbound elements and fails
// the outbound stream without waiting for a stalled consumer. Later inbound
// elements are refused with ErrStop.
func (a *Adapter[In, Out]) Abort(reason error) {
	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return
	}
	a.finished = true
	a.logger.Debug().Err(reason).Str("stage", a.name).Msg("aborted")
	a.handler.OnError(reason, nil)
	a.mu.Unlock()

	a.out.Channel().abort(reason)
}

// pendingInput extracts the element an inbound failure was carrying.
func pendingInput[In any](err error) []In {
	var se *StreamError[In]
	if errors.As(err, &se) {
		return []In{se.Item}
	}
	return nil
}
