package flowz

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStop is returned by a Sink to end the interaction normally ("done").
	ErrStop = errors.New("flowz: stop")

	// ErrAttachmentConflict reports a second attach on a unicast Source.
	ErrAttachmentConflict = errors.New("flowz: source already attached")

	// ErrClosed is returned by a Channel once its pairing has ended normally.
	// It is an ErrAttachmentConflict: the stream is no longer attachable.
	ErrClosed = fmt.Errorf("%w: stream closed", ErrAttachmentConflict)

	// ErrTimeout marks data discarded by a local timeout decision.
	ErrTimeout = errors.New("flowz: timeout")

	// ErrSlowSubscriber terminates a broadcast subscriber that overflowed its
	// buffer under the Disconnect policy.
	ErrSlowSubscriber = errors.New("flowz: slow subscriber disconnected")
)

// UpstreamFailure is a producer-side fault delivered to a Sink through Close.
type UpstreamFailure struct {
	Err   error
	Stage string
}

func (e *UpstreamFailure) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("flowz: upstream failure: %v", e.Err)
	}
	return fmt.Sprintf("flowz: upstream failure in %s: %v", e.Stage, e.Err)
}

func (e *UpstreamFailure) Unwrap() error {
	return e.Err
}

// DownstreamFailure reports that the consumer side of a pairing went away.
// Producers observe it from Channel.Push after the attachment was cancelled.
type DownstreamFailure struct {
	Err   error
	Stage string
}

func (e *DownstreamFailure) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("flowz: downstream failure: %v", e.Err)
	}
	return fmt.Sprintf("flowz: downstream failure in %s: %v", e.Stage, e.Err)
}

func (e *DownstreamFailure) Unwrap() error {
	return e.Err
}

// upstreamFailure wraps err unless it already is a classified failure.
func upstreamFailure(stage string, err error) error {
	if err == nil {
		return nil
	}
	var up *UpstreamFailure
	if errors.As(err, &up) {
		return err
	}
	return &UpstreamFailure{Stage: stage, Err: err}
}

// isStop reports whether a Sink answer means the interaction is over without
// failure.
func isStop(err error) bool {
	return errors.Is(err, ErrStop) || errors.Is(err, ErrClosed)
}

// StreamError represents an error that occurred while processing a single
// element. It captures both the element that caused the error and the error
// itself.
//
//nolint:govet // fieldalignment: struct layout optimized for readability over memory
type StreamError[T any] struct {
	// Item is the original element that caused the processing error.
	Item T

	// Err is the underlying error that occurred during processing.
	Err error

	// ProcessorName identifies which stage generated the error.
	ProcessorName string

	// Timestamp records when the error occurred.
	Timestamp time.Time
}

// NewStreamError creates a new StreamError with the current timestamp.
func NewStreamError[T any](item T, err error, processorName string) *StreamError[T] {
	return &StreamError[T]{
		Item:          item,
		Err:           err,
		ProcessorName: processorName,
		Timestamp:     time.Now(),
	}
}

// String returns a human-readable representation of the error.
func (se *StreamError[T]) String() string {
	return fmt.Sprintf("StreamError[%s]: %v (item: %v, time: %s)",
		se.ProcessorName, se.Err, se.Item, se.Timestamp.Format(time.RFC3339))
}

// Unwrap returns the underlying error, enabling error wrapping chains.
func (se *StreamError[T]) Unwrap() error {
	return se.Err
}

// Error implements the error interface.
func (se *StreamError[T]) Error() string {
	return se.String()
}
