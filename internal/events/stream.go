package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrStreamClosed is returned by Next once the stream is closed and drained.
var ErrStreamClosed = errors.New("event stream closed")

// Status is the result of a non-blocking read.
type Status int

const (
	// StreamEmpty means nothing is queued right now but more may arrive.
	StreamEmpty Status = iota
	// StreamClosed means the stream is closed and fully drained.
	StreamClosed
	// StreamReady means an event was returned.
	StreamReady
)

func (s Status) String() string {
	switch s {
	case StreamEmpty:
		return "empty"
	case StreamClosed:
		return "closed"
	case StreamReady:
		return "ready"
	}
	return "unknown"
}

// Stream is an unbounded multi-producer queue of events. Send never blocks
// and is safe after Close or Abandon, when it drops the event.
type Stream struct {
	mu        sync.Mutex
	queue     []Event
	closed    bool
	abandoned bool
	wake      chan struct{}
	done      atomic.Bool
}

// NewStream returns an open, empty stream.
func NewStream() *Stream {
	return &Stream{wake: make(chan struct{})}
}

// Send appends e to the queue.
func (s *Stream) Send(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.abandoned {
		return
	}
	s.queue = append(s.queue, e)
	if e.IsFinished() {
		s.done.Store(true)
	}
	s.signal()
}

// signal wakes every waiter. Must be called with mu held.
func (s *Stream) signal() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// Close marks the end of the stream. Queued events stay readable.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.signal()
}

// Abandon is called by a consumer that stops reading. Queued events are
// released and later sends are dropped.
func (s *Stream) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = true
	s.closed = true
	s.queue = nil
	s.signal()
}

// Done reports whether any finished event has been sent. It is advisory:
// more events may still follow.
func (s *Stream) Done() bool {
	return s.done.Load()
}

// Len returns the number of queued events.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// TryNext pops the next event without blocking.
func (s *Stream) TryNext() (Event, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		return s.pop(), StreamReady
	}
	if s.closed {
		return Event{}, StreamClosed
	}
	return Event{}, StreamEmpty
}

// Next blocks until an event is available, the stream is closed and drained
// (ErrStreamClosed) or ctx is done.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			e := s.pop()
			s.mu.Unlock()
			return e, nil
		}
		if s.closed {
			s.mu.Unlock()
			return Event{}, ErrStreamClosed
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Drain reads until the stream is closed and returns every event read.
func (s *Stream) Drain(ctx context.Context) ([]Event, error) {
	var out []Event
	for {
		e, err := s.Next(ctx)
		if errors.Is(err, ErrStreamClosed) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}

func (s *Stream) pop() Event {
	e := s.queue[0]
	s.queue[0] = Event{}
	s.queue = s.queue[1:]
	return e
}
