// Package events defines the lifecycle events emitted while commands run and
// the queues that carry them from the scheduler to consumers.
package events

import (
	"time"

	"github.com/vk/cmdgrid/internal/command"
)

// Kind tags an Event.
type Kind string

const (
	KindStarted  Kind = "started"
	KindStdout   Kind = "stdout"
	KindFinished Kind = "finished"
)

// Event is one thing that happened to one command. Only the fields that
// belong to Kind are set.
type Event struct {
	Kind    Kind
	Command string
	TraceID string
	Time    time.Time

	// Line is set for KindStdout.
	Line string

	// Output, Cached and Error are set for KindFinished. Cached marks a
	// result taken from disk or from an earlier execution with the same
	// digest. Error is non-empty when the executor itself failed.
	Output command.CommandOutput
	Cached bool
	Error  string
}

func Started(name, traceID string) Event {
	return Event{Kind: KindStarted, Command: name, TraceID: traceID, Time: time.Now()}
}

func Stdout(name, traceID, line string) Event {
	return Event{Kind: KindStdout, Command: name, TraceID: traceID, Line: line, Time: time.Now()}
}

func Finished(name, traceID string, out command.CommandOutput) Event {
	return Event{Kind: KindFinished, Command: name, TraceID: traceID, Output: out, Time: time.Now()}
}

// IsFinished reports whether e is a terminal event for its command.
func (e Event) IsFinished() bool {
	return e.Kind == KindFinished
}

// Sink accepts events. Implementations must be safe for concurrent use and
// must not block the caller on a slow consumer.
type Sink interface {
	Send(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Send(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Tee returns a Sink that forwards each event to every non-nil sink in order.
func Tee(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	if len(live) == 1 {
		return live[0]
	}
	return SinkFunc(func(e Event) {
		for _, s := range live {
			s.Send(e)
		}
	})
}
