package flowz

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// OverflowPolicy decides what happens when a broadcast subscriber's buffer is
// full and a new element arrives.
type OverflowPolicy int

const (
	// DropOldest discards the oldest buffered element to make room.
	DropOldest OverflowPolicy = iota
	// Disconnect terminates the subscriber with ErrSlowSubscriber.
	Disconnect
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case Disconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Broadcast replicates one stream to any number of subscribers. It is a Sink:
// attach it to the Source to replicate. Each subscriber has its own demand
// cursor and a bounded buffer, and a slow subscriber never stalls the others
// or the producer. When a buffer overflows the OverflowPolicy applies.
//
// Subscribers receive elements published after they subscribed. When the
// replicated stream ends, every subscriber drains its buffer and then ends
// the same way.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type Broadcast[T any] struct {
	name     string
	capacity int
	policy   OverflowPolicy
	onDrop   func(T)
	logger   zerolog.Logger

	mu     sync.Mutex
	subs   map[uint64]*subscriber[T]
	nextID uint64
	closed bool
	reason error
}

// NewBroadcast creates a fan-out point with capacity elements of buffer per
// subscriber.
//
// When to use:
//   - Pushing one live feed to every connected client
//   - Serving dashboards where a stalled viewer must not stall the feed
//
// Example:
//
//	hub := flowz.NewBroadcast[Tick](64).WithPolicy(flowz.Disconnect)
//	_ = ticks.Attach(ctx, hub)
//
//	// Per connection:
//	_ = hub.Subscribe().Attach(connCtx, writer)
//
// Parameters:
//   - capacity: Buffered elements per subscriber (values below 1 mean 1)
func NewBroadcast[T any](capacity int) *Broadcast[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Broadcast[T]{
		name:     "broadcast",
		capacity: capacity,
		policy:   DropOldest,
		logger:   zerolog.Nop(),
		subs:     make(map[uint64]*subscriber[T]),
	}
}

// WithPolicy sets the overflow policy. Defaults to DropOldest.
func (b *Broadcast[T]) WithPolicy(policy OverflowPolicy) *Broadcast[T] {
	b.policy = policy
	return b
}

// OnDrop sets a callback invoked for each element discarded by DropOldest.
func (b *Broadcast[T]) OnDrop(fn func(T)) *Broadcast[T] {
	b.onDrop = fn
	return b
}

// WithName sets a custom name for this broadcast.
// If not set, defaults to "broadcast".
func (b *Broadcast[T]) WithName(name string) *Broadcast[T] {
	b.name = name
	return b
}

// WithLogger sets the logger used to report drops and disconnects.
func (b *Broadcast[T]) WithLogger(logger zerolog.Logger) *Broadcast[T] {
	b.logger = logger
	return b
}

// Subscribe returns a new Source receiving every element published from now
// on. Subscribing after the broadcast ended returns a Source that ends the
// same way.
func (b *Broadcast[T]) Subscribe() Source[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber[T]{
		id:     b.nextID,
		queue:  make([]T, b.capacity),
		signal: make(chan struct{}, 1),
	}
	sub.out = NewUnicast(func(ctx context.Context, ch *Channel[T]) {
		go b.pump(ctx, sub, ch)
	}).WithName(b.name)

	if b.closed {
		sub.finish(b.reason)
	} else {
		b.subs[sub.id] = sub
	}
	return sub.out
}

// Subscribers returns the number of active subscribers.
func (b *Broadcast[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Next publishes item to every subscriber. It never blocks.
func (b *Broadcast[T]) Next(_ context.Context, item T) error {
	var dropped []T

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrStop
	}
	for id, sub := range b.subs {
		old, evicted, disconnected := sub.offer(item, b.policy)
		switch {
		case disconnected:
			delete(b.subs, id)
			disconnectsTotal.WithLabelValues(b.name).Inc()
			b.logger.Warn().Str("stage", b.name).Uint64("subscriber", id).Msg("slow subscriber disconnected")
		case evicted:
			dropped = append(dropped, old)
		}
	}
	b.mu.Unlock()

	for _, old := range dropped {
		droppedTotal.WithLabelValues(b.name).Inc()
		b.logger.Debug().Str("stage", b.name).Msg("dropped oldest element")
		if b.onDrop != nil {
			b.onDrop(old)
		}
	}
	return nil
}

// Close ends every subscriber once it drained its buffer. A nil err completes
// the subscribers, anything else fails them.
func (b *Broadcast[T]) Close(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.reason = err
	for id, sub := range b.subs {
		sub.finish(err)
		delete(b.subs, id)
	}
}

func (b *Broadcast[T]) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

func (b *Broadcast[T]) pump(ctx context.Context, sub *subscriber[T], ch *Channel[T]) {
	for {
		item, ok, done, reason := sub.take()
		if done {
			if reason == nil {
				ch.End()
			} else {
				ch.Fail(reason)
			}
			return
		}
		if !ok {
			select {
			case <-sub.signal:
				continue
			case <-ctx.Done():
				b.remove(sub.id)
				return
			}
		}
		if err := ch.Push(ctx, item); err != nil {
			b.remove(sub.id)
			return
		}
	}
}

// subscriber holds a fixed ring of buffered elements.
type subscriber[T any] struct {
	out    *Unicast[T]
	signal chan struct{}
	id     uint64

	mu       sync.Mutex
	queue    []T
	head     int
	count    int
	finished bool
	reason   error
}

// offer buffers item. On a full ring DropOldest evicts the oldest element in
// the same step, and Disconnect discards the buffer and ends the subscriber
// with ErrSlowSubscriber.
func (s *subscriber[T]) offer(item T, policy OverflowPolicy) (oldest T, evicted, disconnected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return oldest, false, false
	}
	if s.count < len(s.queue) {
		s.queue[(s.head+s.count)%len(s.queue)] = item
		s.count++
		s.wake()
		return oldest, false, false
	}
	if policy == Disconnect {
		s.abortLocked(ErrSlowSubscriber)
		return oldest, false, true
	}
	// A full ring's tail slot is its head.
	oldest = s.queue[s.head]
	s.queue[s.head] = item
	s.head = (s.head + 1) % len(s.queue)
	s.wake()
	return oldest, true, false
}

func (s *subscriber[T]) take() (item T, ok, done bool, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count > 0 {
		item = s.queue[s.head]
		var zero T
		s.queue[s.head] = zero
		s.head = (s.head + 1) % len(s.queue)
		s.count--
		return item, true, false, nil
	}
	if s.finished {
		return item, false, true, s.reason
	}
	return item, false, false, nil
}

// finish ends the subscriber after its buffer drained.
func (s *subscriber[T]) finish(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	s.reason = reason
	s.wake()
}

// abortLocked discards the buffer and ends the subscriber with reason.
func (s *subscriber[T]) abortLocked(reason error) {
	var zero T
	for i := range s.queue {
		s.queue[i] = zero
	}
	s.head, s.count = 0, 0
	s.finished = true
	s.reason = reason
	s.wake()
}

func (s *subscriber[T]) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}
