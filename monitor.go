package flowz

import (
	"context"
	"sync/atomic"
	"time"
)

// StreamStats contains statistics about elements flowing through a monitored
// stream.
type StreamStats struct {
	// LastUpdate is the timestamp of this snapshot.
	LastUpdate time.Time
	// Count is the number of elements accepted downstream since the last report.
	Count int64
	// Rate is the average elements per second since the last report.
	Rate float64
}

// Monitor observes elements passing through a stream and periodically reports
// statistics. It is a pass-through stage: elements and demand are untouched.
// A final report is emitted when the upstream ends. Each attachment keeps its
// own counters.
type Monitor[T any] struct {
	onStats  func(StreamStats)
	clock    Clock
	name     string
	interval time.Duration
}

// NewMonitor creates a stage reporting throughput every interval.
//
// Example:
//
//	feed = flowz.NewMonitor[Tick](10*time.Second, flowz.RealClock, func(s flowz.StreamStats) {
//		log.Info().Float64("rate", s.Rate).Int64("count", s.Count).Msg("feed throughput")
//	}).Apply(feed)
//
// Parameters:
//   - interval: How often to report
//   - clock: Clock driving the report ticker
//   - onStats: Callback invoked with each report
func NewMonitor[T any](interval time.Duration, clock Clock, onStats func(StreamStats)) *Monitor[T] {
	return &Monitor[T]{
		name:     "monitor",
		clock:    clock,
		interval: interval,
		onStats:  onStats,
	}
}

// WithName sets a custom name for this stage.
// If not set, defaults to "monitor".
func (m *Monitor[T]) WithName(name string) *Monitor[T] {
	m.name = name
	return m
}

// Apply implements Stage.
func (m *Monitor[T]) Apply(upstream Source[T]) Source[T] {
	return newDerived(m.name, func(ctx context.Context, sink Sink[T]) error {
		w := &meter{clock: m.clock, onStats: m.onStats}
		w.last.Store(m.clock.Now().UnixNano())
		stop := make(chan struct{})
		stopped := make(chan struct{})
		go w.run(ctx, m.clock.NewTicker(m.interval), stop, stopped)

		return upstream.Attach(ctx, SinkFunc[T]{
			OnNext: func(ctx context.Context, item T) error {
				err := sink.Next(ctx, item)
				if err == nil || isStop(err) {
					w.count.Add(1)
				}
				return err
			},
			OnClose: func(err error) {
				close(stop)
				<-stopped
				w.report()
				sink.Close(err)
			},
		})
	})
}

// Name returns the stage name.
func (m *Monitor[T]) Name() string {
	return m.name
}

// meter holds the counters of one monitored attachment.
type meter struct {
	clock   Clock
	onStats func(StreamStats)
	count   atomic.Int64
	last    atomic.Int64
}

func (w *meter) run(ctx context.Context, ticker Ticker, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			w.report()
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *meter) report() {
	now := w.clock.Now()
	count := w.count.Swap(0)
	elapsed := now.Sub(time.Unix(0, w.last.Swap(now.UnixNano()))).Seconds()

	var rate float64
	if elapsed > 0 {
		rate = float64(count) / elapsed
	}
	if w.onStats != nil {
		w.onStats(StreamStats{
			Count:      count,
			Rate:       rate,
			LastUpdate: now,
		})
	}
}
