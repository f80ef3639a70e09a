// Package sioserver exposes a controller over socket.io.
//
// A client emits one of the intent events with a Request and an ack
// callback. The server answers through the callback with a Reply, then
// emits an EventMessage for every event of the run the intent started and
// a final StreamEnd carrying the same request ID.
package sioserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/zishang520/socket.io/v2/socket"

	"github.com/vk/cmdgrid/internal/controller"
	"github.com/vk/cmdgrid/internal/ctxlog"
	"github.com/vk/cmdgrid/internal/events"
)

// DefaultAckTimeout bounds how long a request waits for the controller.
const DefaultAckTimeout = 30 * time.Second

// Server serves the client protocol for one controller.
type Server struct {
	ctx        context.Context
	handle     *controller.Handle
	io         *socket.Server
	ackTimeout time.Duration
	pumps      sync.WaitGroup
}

// New returns a server bound to h. Logging goes to the logger in ctx, and
// ending ctx stops every event pump.
func New(ctx context.Context, h *controller.Handle) *Server {
	s := &Server{
		ctx:        ctx,
		handle:     h,
		io:         socket.NewServer(nil, nil),
		ackTimeout: DefaultAckTimeout,
	}
	s.io.On("connection", func(clients ...any) {
		client, ok := clients[0].(*socket.Socket)
		if !ok {
			return
		}
		s.accept(client)
	})
	return s
}

// Handler returns the HTTP handler to mount at /socket.io/.
func (s *Server) Handler() http.Handler {
	return s.io.ServeHandler(nil)
}

// Close disconnects every client and waits for the event pumps to stop.
func (s *Server) Close() {
	done := make(chan struct{})
	s.io.Close(func(error) { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	s.pumps.Wait()
}

// accept wires the request handlers of one connection.
func (s *Server) accept(client *socket.Socket) {
	ctx, logger := ctxlog.With(s.ctx, "sid", string(client.Id()))
	logger.Info("Client connected.")

	ctx, cancel := context.WithCancel(ctx)
	client.On("disconnect", func(reason ...any) {
		logger.Info("Client disconnected.", "reason", reason)
		cancel()
	})

	for _, name := range []string{EventLoadGraph, EventRunAll, EventRunOne, EventRunMany, EventRerun} {
		client.On(name, func(args ...any) {
			s.serveRequest(ctx, client, name, args)
		})
	}
}

// serveRequest answers one request. It runs on the connection's event loop, so
// waiting for the ack and pumping events happen on a separate goroutine.
func (s *Server) serveRequest(ctx context.Context, client *socket.Socket, name string, args []any) {
	logger := ctxlog.FromContext(ctx)

	var ack socket.Ack
	if n := len(args); n > 0 {
		if fn, ok := args[n-1].(socket.Ack); ok {
			ack = fn
			args = args[:n-1]
		}
	}
	reply := func(r Reply) {
		if ack != nil {
			ack([]any{r}, nil)
		}
	}

	if len(args) == 0 {
		reply(Reply{Error: name + ": missing request payload"})
		return
	}
	req, err := DecodeRequest(args[0])
	if err != nil {
		reply(Reply{Error: err.Error()})
		return
	}
	in, err := req.Intent(name)
	if err != nil {
		reply(Reply{ID: req.ID, Error: err.Error()})
		return
	}

	logger.Debug("Request received.", "request_id", req.ID, "intent", in.String())
	b, err := s.handle.Submit(in)
	if err != nil {
		reply(Reply{ID: req.ID, Error: err.Error()})
		return
	}

	s.pumps.Add(1)
	go func() {
		defer s.pumps.Done()

		ackCtx, cancel := context.WithTimeout(ctx, s.ackTimeout)
		err := b.Ack(ackCtx)
		cancel()
		if err != nil {
			reply(Reply{ID: req.ID, Error: err.Error()})
			b.Events.Abandon()
			return
		}
		reply(Reply{ID: req.ID, OK: true})
		s.pump(ctx, client, req.ID, b.Events)
	}()
}

// pump forwards every event of stream to the client, then ends the stream.
// A disconnected client abandons the stream; the run itself carries on.
func (s *Server) pump(ctx context.Context, client *socket.Socket, id string, stream *events.Stream) {
	logger := ctxlog.FromContext(ctx).With("request_id", id)
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, events.ErrStreamClosed) {
			break
		}
		if err != nil {
			logger.Debug("Client gone, abandoning event stream.", "error", err, "dropped", stream.Len())
			stream.Abandon()
			return
		}
		if err := client.Emit(EventEvent, EventMessage{ID: id, Envelope: events.Encode(ev)}); err != nil {
			logger.Warn("Failed to emit event.", "error", err)
			stream.Abandon()
			return
		}
	}
	if err := client.Emit(EventStreamEnd, StreamEnd{ID: id}); err != nil {
		logger.Warn("Failed to emit stream end.", "error", err)
	}
}
