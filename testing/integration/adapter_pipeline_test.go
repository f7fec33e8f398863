package integration

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zoobzio/flowz"
	flowztest "github.com/zoobzio/flowz/testing"
)

// lookupHandler answers each request after the delay encoded in it, like a
// client of a slow backend.
type lookupHandler struct {
	opened atomic.Bool
	closed atomic.Bool
}

func (h *lookupHandler) OnOpen(*flowz.Channel[string]) { h.opened.Store(true) }

func (h *lookupHandler) OnMessage(req string, ch *flowz.Channel[string]) {
	delay, _ := time.ParseDuration(strings.SplitN(req, "@", 2)[1])
	go func() {
		select {
		case <-time.After(delay):
			_ = ch.Push(ch.Context(), "reply:"+req)
		case <-ch.Context().Done():
		}
	}()
}

func (h *lookupHandler) OnClose() { h.closed.Store(true) }

func (h *lookupHandler) OnError(error, []string) {}

// TestAdapterPipeline drives an adapter from an inbound Channel and drains its
// replies through a buffer, the way a transport would.
func TestAdapterPipeline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &lookupHandler{}
	adapter := flowz.NewAdapter[string, string](h).WithName("lookup")

	var outbound atomic.Int32
	replies := flowz.Via(adapter,
		flowz.NewTap(func(string) { outbound.Add(1) }),
		flowz.NewBuffer[string](8),
	)
	rec := flowztest.NewRecorder[string]()
	require.NoError(t, replies.Attach(ctx, rec))
	require.True(t, h.opened.Load())

	inbound, src := flowz.NewChannel[string]()
	require.NoError(t, src.Attach(ctx, adapter))
	flowztest.PushAll(t, inbound, "a@150ms", "b@10ms", "c@80ms")
	require.True(t, h.closed.Load())

	require.Eventually(t, func() bool { return len(rec.Items()) == 3 }, 2*time.Second, time.Millisecond)
	require.Equal(t, []string{"reply:b@10ms", "reply:c@80ms", "reply:a@150ms"}, rec.Items())
	require.Equal(t, int32(3), outbound.Load())

	adapter.Channel().End()
	require.NoError(t, rec.WaitClosed(t, time.Second))
}

// TestAdapterPipeline_AbortCancelsPendingWork checks that aborting the
// exchange ends the outbound stream and the work still in flight.
func TestAdapterPipeline_AbortCancelsPendingWork(t *testing.T) {
	ctx := context.Background()
	adapter := flowz.NewAdapter[string, string](&lookupHandler{})
	rec := flowztest.NewRecorder[string]()
	require.NoError(t, adapter.Attach(ctx, rec))

	require.NoError(t, adapter.Next(ctx, "slow@1h"))
	adapter.Abort(context.Canceled)

	err := rec.WaitClosed(t, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, rec.Items())
	select {
	case <-adapter.Channel().Context().Done():
	case <-time.After(time.Second):
		t.Fatal("pending work context was not cancelled")
	}
}
