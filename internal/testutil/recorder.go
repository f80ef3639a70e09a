package testutil

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vk/cmdgrid/internal/events"
)

// ExecutionRecord holds the start and end times observed for one command.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// Recorder is an events.Sink that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send implements events.Sink.
func (r *Recorder) Send(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// For returns the events of one command in arrival order.
func (r *Recorder) For(name string) []events.Event {
	return Filter(r.Events(), name)
}

// Records returns the start and end time of every command that finished.
// Cached results have a zero Start.
func (r *Recorder) Records() map[string]*ExecutionRecord {
	return Records(r.Events())
}

// Filter keeps the events of one command.
func Filter(evs []events.Event, name string) []events.Event {
	var out []events.Event
	for _, e := range evs {
		if e.Command == name {
			out = append(out, e)
		}
	}
	return out
}

// Records indexes started and finished times by command name.
func Records(evs []events.Event) map[string]*ExecutionRecord {
	out := make(map[string]*ExecutionRecord)
	for _, e := range evs {
		rec, ok := out[e.Command]
		if !ok {
			rec = &ExecutionRecord{}
			out[e.Command] = rec
		}
		switch e.Kind {
		case events.KindStarted:
			rec.Start = e.Time
		case events.KindFinished:
			rec.End = e.Time
		}
	}
	return out
}

// Kinds returns the kind sequence of evs.
func Kinds(evs []events.Event) []events.Kind {
	out := make([]events.Kind, len(evs))
	for i, e := range evs {
		out[i] = e.Kind
	}
	return out
}

// RequireOrdered asserts that the events of one executed command start with
// started, end with finished and hold only stdout in between.
func RequireOrdered(t *testing.T, evs []events.Event) {
	t.Helper()
	require.GreaterOrEqual(t, len(evs), 2, "expected at least started and finished")
	require.Equal(t, events.KindStarted, evs[0].Kind)
	require.Equal(t, events.KindFinished, evs[len(evs)-1].Kind)
	for _, e := range evs[1 : len(evs)-1] {
		require.Equal(t, events.KindStdout, e.Kind)
	}
}

// DrainStream reads s until it closes, failing the test after timeout.
func DrainStream(t *testing.T, s *events.Stream, timeout time.Duration) []events.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	evs, err := s.Drain(ctx)
	require.NoError(t, err, "stream did not close in time")
	return evs
}
