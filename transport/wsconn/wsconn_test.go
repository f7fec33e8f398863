package wsconn_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zoobzio/flowz"
	"github.com/zoobzio/flowz/transport/wsconn"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	return string(data)
}

// serveWith runs Serve for every connection and reports its result.
func serveWith(t *testing.T, newPipe func() (flowz.Sink[wsconn.Message], flowz.Source[wsconn.Message])) (*httptest.Server, <-chan error) {
	t.Helper()
	results := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		inbound, outbound := newPipe()
		results <- wsconn.Serve(r.Context(), conn, inbound, outbound,
			wsconn.WithLogger(zerolog.Nop()),
			wsconn.WithCloseTimeout(time.Second),
			wsconn.WithConnID("test"))
	}))
	t.Cleanup(srv.Close)
	return srv, results
}

func echoAdapter() *flowz.Adapter[wsconn.Message, wsconn.Message] {
	return flowz.NewAdapter[wsconn.Message, wsconn.Message](flowz.HandlerFuncs[wsconn.Message, wsconn.Message]{
		Message: func(msg wsconn.Message, ch *flowz.Channel[wsconn.Message]) {
			_ = ch.Push(ch.Context(), wsconn.Text(strings.ToUpper(msg.String())))
		},
	})
}

func TestHandler_EchoRoundTrip(t *testing.T) {
	srv := httptest.NewServer(wsconn.Handler(upgrader, func(*http.Request) (flowz.Sink[wsconn.Message], flowz.Source[wsconn.Message]) {
		a := echoAdapter()
		return a, a
	}, wsconn.WithLogger(zerolog.Nop())))
	defer srv.Close()

	conn := dial(t, srv)
	for _, word := range []string{"alpha", "beta", "gamma"} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(word)))
		require.Equal(t, strings.ToUpper(word), readText(t, conn))
	}
}

func TestServe_OutboundCompletionClosesNormally(t *testing.T) {
	inboundClosed := make(chan error, 1)
	srv, results := serveWith(t, func() (flowz.Sink[wsconn.Message], flowz.Source[wsconn.Message]) {
		inbound := flowz.SinkFunc[wsconn.Message]{OnClose: func(err error) { inboundClosed <- err }}
		return inbound, flowz.FromSlice(wsconn.Text("one"), wsconn.Text("two"))
	})

	conn := dial(t, srv)
	require.Equal(t, "one", readText(t, conn))
	require.Equal(t, "two", readText(t, conn))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	select {
	case err := <-results:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
	select {
	case err := <-inboundClosed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("inbound was not closed")
	}
}

func TestServe_PeerCloseCompletesInboundAndCancelsOutbound(t *testing.T) {
	inboundClosed := make(chan error, 1)
	pushErr := make(chan error, 1)
	srv, results := serveWith(t, func() (flowz.Sink[wsconn.Message], flowz.Source[wsconn.Message]) {
		inbound := flowz.SinkFunc[wsconn.Message]{OnClose: func(err error) { inboundClosed <- err }}
		outbound := flowz.NewUnicast(func(ctx context.Context, ch *flowz.Channel[wsconn.Message]) {
			go func() {
				<-ctx.Done()
				pushErr <- ch.Push(context.Background(), wsconn.Text("late"))
			}()
		})
		return inbound, outbound
	})

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	select {
	case err := <-inboundClosed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound was not closed")
	}
	select {
	case err := <-pushErr:
		var down *flowz.DownstreamFailure
		require.True(t, errors.As(err, &down), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("outbound was not cancelled")
	}
	select {
	case err := <-results:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServe_AbruptDisconnectFailsInbound(t *testing.T) {
	inboundClosed := make(chan error, 1)
	srv, results := serveWith(t, func() (flowz.Sink[wsconn.Message], flowz.Source[wsconn.Message]) {
		inbound := flowz.SinkFunc[wsconn.Message]{OnClose: func(err error) { inboundClosed <- err }}
		_, outbound := flowz.NewChannel[wsconn.Message]()
		return inbound, outbound
	})

	conn := dial(t, srv)
	require.NoError(t, conn.UnderlyingConn().Close())

	select {
	case err := <-inboundClosed:
		var up *flowz.UpstreamFailure
		require.True(t, errors.As(err, &up), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound was not closed")
	}
	select {
	case err := <-results:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServe_InboundBackpressure(t *testing.T) {
	release := make(chan struct{})
	received := make(chan string, 3)
	srv, _ := serveWith(t, func() (flowz.Sink[wsconn.Message], flowz.Source[wsconn.Message]) {
		inbound := flowz.SinkFunc[wsconn.Message]{OnNext: func(_ context.Context, msg wsconn.Message) error {
			received <- msg.String()
			<-release
			return nil
		}}
		_, outbound := flowz.NewChannel[wsconn.Message]()
		return inbound, outbound
	})

	conn := dial(t, srv)
	for _, word := range []string{"a", "b", "c"} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(word)))
	}

	require.Equal(t, "a", <-received)
	select {
	case got := <-received:
		t.Fatalf("frame %q delivered before the sink answered", got)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.Equal(t, "b", <-received)
	require.Equal(t, "c", <-received)
}
