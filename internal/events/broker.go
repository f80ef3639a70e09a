package events

import "sync"

// Broker fans every event out to all current subscribers.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*Stream]struct{}
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[*Stream]struct{})}
}

// Subscribe returns a stream receiving every event sent after the call.
// Subscribing to a closed broker returns an already closed stream.
func (b *Broker) Subscribe() *Stream {
	s := NewStream()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.Close()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Unsubscribe detaches s and abandons it.
func (b *Broker) Unsubscribe(s *Stream) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	s.Abandon()
}

// Send delivers e to every subscriber.
func (b *Broker) Send(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		s.Send(e)
	}
}

// Close closes every subscriber stream.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.Close()
	}
	b.subs = nil
}

// Subscribers returns the number of attached streams.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
