// Package wsconn connects a websocket connection to a flowz Sink and Source.
//
// The connection's incoming frames feed an inbound Sink one frame at a time:
// the next frame is read only after the Sink answered the previous one, so a
// slow handler pushes back on the peer through TCP flow control. An outbound
// Source is attached to a writer that sends one frame per element.
package wsconn

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zoobzio/flowz"
)

const stageName = "wsconn"

// Message is one websocket frame.
type Message struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage.
	Type int
	Data []byte
}

// Text builds a text frame.
func Text(s string) Message {
	return Message{Type: websocket.TextMessage, Data: []byte(s)}
}

// Binary builds a binary frame.
func Binary(b []byte) Message {
	return Message{Type: websocket.BinaryMessage, Data: b}
}

func (m Message) String() string {
	return string(m.Data)
}

type options struct {
	logger       zerolog.Logger
	connID       string
	writeTimeout time.Duration
	closeTimeout time.Duration
}

// Option configures Serve and Handler.
type Option func(*options)

// WithWriteTimeout bounds every frame write. Defaults to 10s.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// WithCloseTimeout bounds how long Serve waits for the peer to answer a close
// frame after the outbound stream ended. Defaults to 5s.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) {
		o.closeTimeout = d
	}
}

// WithLogger sets the logger. Defaults to the global zerolog logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithConnID sets the connection id attached to log lines. Defaults to a
// random UUID.
func WithConnID(id string) Option {
	return func(o *options) {
		o.connID = id
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:       log.Logger,
		writeTimeout: 10 * time.Second,
		closeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.connID == "" {
		o.connID = uuid.NewString()
	}
	return o
}

// Serve runs the connection until both directions have ended and closes it.
//
// A normal close frame from the peer completes inbound; any other read error
// fails it with a flowz.UpstreamFailure. Either way the outbound attachment
// is then cancelled, which the outbound Source observes as a
// flowz.DownstreamFailure. When the outbound Source ends, Serve sends a close
// frame and waits for the peer to answer. Cancelling ctx tears the connection
// down.
//
// Serve returns nil after a clean shutdown and the first transport or stream
// failure otherwise.
func Serve(ctx context.Context, conn *websocket.Conn, inbound flowz.Sink[Message], outbound flowz.Source[Message], opts ...Option) error {
	o := buildOptions(opts)
	logger := o.logger.With().
		Str("component", stageName).
		Str("conn_id", o.connID).
		Logger()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	g, gctx := errgroup.WithContext(ctx)

	w := &writer{conn: conn, timeout: o.writeTimeout, ended: make(chan error, 1)}
	if err := outbound.Attach(gctx, w); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "attach outbound")
	}
	logger.Debug().Str("outbound", outbound.Name()).Msg("ws connected")

	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})

	g.Go(func() error {
		defer cancel(nil)
		return readLoop(gctx, conn, inbound, logger)
	})

	g.Go(func() error {
		select {
		case err := <-w.ended:
			if err != nil {
				logger.Warn().Err(err).Msg("ws outbound failed")
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream failed"),
					time.Now().Add(o.writeTimeout))
				return errors.Wrap(err, "outbound")
			}
			logger.Debug().Msg("ws outbound completed")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(o.writeTimeout))
		case <-gctx.Done():
			return nil
		}

		timer := time.NewTimer(o.closeTimeout)
		defer timer.Stop()
		select {
		case <-gctx.Done():
		case <-timer.C:
			logger.Debug().Msg("ws close handshake timed out")
			cancel(errors.New("close handshake timed out"))
		}
		return nil
	})

	err := g.Wait()
	logger.Info().Err(err).Msg("ws disconnected")
	return err
}

func readLoop(ctx context.Context, conn *websocket.Conn, inbound flowz.Sink[Message], logger zerolog.Logger) error {
	accepting := true
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				logger.Debug().Msg("ws peer closed")
				if accepting {
					inbound.Close(nil)
				}
				return nil
			case ctx.Err() != nil:
				if accepting {
					inbound.Close(&flowz.UpstreamFailure{Stage: stageName, Err: context.Cause(ctx)})
				}
				return nil
			default:
				logger.Debug().Err(err).Msg("ws read loop end")
				if accepting {
					inbound.Close(&flowz.UpstreamFailure{Stage: stageName, Err: err})
				}
				return errors.Wrap(err, "read")
			}
		}
		if !accepting {
			continue
		}

		err = inbound.Next(ctx, Message{Type: msgType, Data: data})
		switch {
		case err == nil:
		case errors.Is(err, flowz.ErrStop) || errors.Is(err, flowz.ErrClosed):
			// Keep reading so control frames are still processed.
			logger.Debug().Msg("ws inbound finished, discarding further frames")
			accepting = false
		default:
			return errors.Wrap(err, "inbound")
		}
	}
}

// writer sends every outbound element as one frame.
type writer struct {
	conn    *websocket.Conn
	ended   chan error
	timeout time.Duration
}

func (w *writer) Next(_ context.Context, msg Message) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		err = errors.Wrap(err, "set write deadline")
		w.end(err)
		return err
	}
	if err := w.conn.WriteMessage(msg.Type, msg.Data); err != nil {
		err = errors.Wrap(err, "write")
		w.end(err)
		return err
	}
	return nil
}

func (w *writer) Close(err error) {
	w.end(err)
}

func (w *writer) end(err error) {
	select {
	case w.ended <- err:
	default:
	}
}

// Handler upgrades requests to websockets and serves each connection with
// the Sink and Source returned by newPipe. newPipe runs once per connection.
func Handler(upgrader websocket.Upgrader, newPipe func(*http.Request) (flowz.Sink[Message], flowz.Source[Message]), opts ...Option) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		inbound, outbound := newPipe(req)
		connOpts := append([]Option{WithLogger(log.With().Str("remote", conn.RemoteAddr().String()).Logger())}, opts...)
		if err := Serve(req.Context(), conn, inbound, outbound, connOpts...); err != nil {
			log.Debug().Err(err).Str("component", stageName).Str("path", req.URL.Path).Msg("ws connection ended with error")
		}
	}
}
