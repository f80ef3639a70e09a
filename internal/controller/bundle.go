package controller

import (
	"context"
	"sync"

	"github.com/vk/cmdgrid/internal/events"
	"github.com/vk/cmdgrid/internal/scheduler"
)

// Bundle pairs a submitted intent with its one-shot acknowledgement and
// its event stream.
type Bundle struct {
	Intent Intent
	// Events carries every event of the run the intent caused. It is closed
	// when the run ends, or right after the ack for intents that run nothing.
	Events *events.Stream

	ackOnce sync.Once
	acked   chan struct{}
	ackErr  error

	mu     sync.Mutex
	result *scheduler.Result
}

func newBundle(in Intent) *Bundle {
	return &Bundle{
		Intent: in,
		Events: events.NewStream(),
		acked:  make(chan struct{}),
	}
}

// Ack waits for the acknowledgement. A nil error means the intent was
// accepted. Ack may be called any number of times.
func (b *Bundle) Ack(ctx context.Context) error {
	select {
	case <-b.acked:
		return b.ackErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result returns the summary of the run once Events is closed, or nil.
func (b *Bundle) Result() *scheduler.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

func (b *Bundle) ack(err error) {
	b.ackOnce.Do(func() {
		b.ackErr = err
		close(b.acked)
	})
}

// reject acknowledges with err and closes the stream.
func (b *Bundle) reject(err error) {
	b.ack(err)
	b.Events.Close()
}

func (b *Bundle) finish(res *scheduler.Result) {
	b.mu.Lock()
	b.result = res
	b.mu.Unlock()
	b.Events.Close()
}
