// Package sioclient is the socket.io client of the controller protocol
// served by package sioserver.
package sioclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/cmdgrid/internal/ctxlog"
	"github.com/vk/cmdgrid/internal/events"
	"github.com/vk/cmdgrid/internal/sioserver"
)

// ErrDisconnected is returned for requests made after the connection was lost.
var ErrDisconnected = errors.New("socket.io client disconnected")

// Options tune Dial.
type Options struct {
	Namespace          string
	InsecureSkipVerify bool
	// ConnectTimeout bounds the initial connection. Zero means 15s.
	ConnectTimeout time.Duration
}

// RequestError is an acknowledgement that rejected a request.
type RequestError struct {
	Event string
	Msg   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Event, e.Msg)
}

// Client sends intents and demultiplexes the event streams of their runs.
type Client struct {
	io     *socket.Socket
	logger *slog.Logger

	mu      sync.Mutex
	streams map[string]*events.Stream
	closed  bool
}

// Dial connects to a server at rawURL, e.g. http://127.0.0.1:7373.
func Dial(ctx context.Context, rawURL string, o Options) (*Client, error) {
	logger := ctxlog.FromContext(ctx).With("url", rawURL)

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if o.Namespace == "" {
		o.Namespace = "/"
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		opts.SetPath(parsedURL.Path)
	}
	if o.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(o.Namespace, opts)

	c := &Client{
		io:      io,
		logger:  logger,
		streams: make(map[string]*events.Stream),
	}
	io.On(types.EventName(sioserver.EventEvent), c.onEvent)
	io.On(types.EventName(sioserver.EventStreamEnd), c.onStreamEnd)
	io.On(types.EventName("disconnect"), func(reason ...any) {
		logger.Info("Disconnected from server.", "reason", reason)
		c.closeStreams(false)
	})

	connected := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Successfully connected", "sid", io.Id())
		connected <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err, _ := errs[0].(error)
		if err == nil {
			err = fmt.Errorf("%v", errs[0])
		}
		connected <- err
	})

	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return c, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(o.ConnectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %v waiting for socket.io connection", o.ConnectTimeout)
	}
}

// Close disconnects and closes every open stream.
func (c *Client) Close() {
	c.closeStreams(true)
	c.io.Disconnect()
}

// LoadGraph replaces the server's graph. format may be empty to let the
// server detect it.
func (c *Client) LoadGraph(ctx context.Context, text, format string) error {
	s, err := c.call(ctx, sioserver.EventLoadGraph, sioserver.Request{Text: text, Format: format})
	if err != nil {
		return err
	}
	s.Abandon()
	return nil
}

// RunAll runs every command of targetType.
func (c *Client) RunAll(ctx context.Context, targetType string) (*events.Stream, error) {
	return c.call(ctx, sioserver.EventRunAll, sioserver.Request{TargetType: targetType})
}

// RunOne runs name and its dependencies.
func (c *Client) RunOne(ctx context.Context, name string) (*events.Stream, error) {
	return c.call(ctx, sioserver.EventRunOne, sioserver.Request{Name: name})
}

// RunMany runs names and their dependencies.
func (c *Client) RunMany(ctx context.Context, names ...string) (*events.Stream, error) {
	return c.call(ctx, sioserver.EventRunMany, sioserver.Request{Names: names})
}

// Rerun reruns the failing tests seen by the server.
func (c *Client) Rerun(ctx context.Context) (*events.Stream, error) {
	return c.call(ctx, sioserver.EventRerun, sioserver.Request{})
}

// call emits one request and waits for its acknowledgement. The returned
// stream receives the events of the run and is closed by stream_end.
func (c *Client) call(ctx context.Context, name string, req sioserver.Request) (*events.Stream, error) {
	req.ID = uuid.NewString()
	stream := events.NewStream()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	c.streams[req.ID] = stream
	c.mu.Unlock()

	type ackResult struct {
		reply sioserver.Reply
		err   error
	}
	acked := make(chan ackResult, 1)

	c.logger.Debug("Emitting request", "event", name, "request_id", req.ID)
	err := c.io.Emit(name, req, func(args []any, err error) {
		if err != nil {
			acked <- ackResult{err: err}
			return
		}
		if len(args) == 0 {
			acked <- ackResult{err: errors.New("empty acknowledgement")}
			return
		}
		rep, err := sioserver.DecodeReply(args[0])
		acked <- ackResult{reply: rep, err: err}
	})
	if err != nil {
		c.drop(req.ID)
		return nil, fmt.Errorf("emitting %s: %w", name, err)
	}

	select {
	case res := <-acked:
		if res.err != nil {
			c.drop(req.ID)
			return nil, fmt.Errorf("%s: %w", name, res.err)
		}
		if !res.reply.OK {
			c.drop(req.ID)
			return nil, &RequestError{Event: name, Msg: res.reply.Error}
		}
		return stream, nil
	case <-ctx.Done():
		c.drop(req.ID)
		return nil, ctx.Err()
	}
}

func (c *Client) onEvent(data ...any) {
	if len(data) == 0 {
		return
	}
	m, ok := data[0].(map[string]any)
	if !ok {
		c.logger.Warn("Ignoring malformed event message.", "type", fmt.Sprintf("%T", data[0]))
		return
	}
	id, _ := m["id"].(string)
	delete(m, "id")

	ev, err := events.DecodeMap(m)
	if err != nil {
		c.logger.Warn("Ignoring undecodable event.", "request_id", id, "error", err)
		return
	}

	c.mu.Lock()
	stream := c.streams[id]
	c.mu.Unlock()
	if stream != nil {
		stream.Send(ev)
	}
}

func (c *Client) onStreamEnd(data ...any) {
	if len(data) == 0 {
		return
	}
	m, _ := data[0].(map[string]any)
	id, _ := m["id"].(string)

	c.mu.Lock()
	stream := c.streams[id]
	delete(c.streams, id)
	c.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
}

// drop forgets a request whose stream will never be fed.
func (c *Client) drop(id string) {
	c.mu.Lock()
	stream := c.streams[id]
	delete(c.streams, id)
	c.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
}

func (c *Client) closeStreams(final bool) {
	c.mu.Lock()
	open := c.streams
	c.streams = make(map[string]*events.Stream)
	if final {
		c.closed = true
	}
	c.mu.Unlock()
	for _, s := range open {
		s.Close()
	}
}
