package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vk/cmdgrid/internal/command"
)

// WireVersion is the envelope version written by Encode.
const WireVersion = 1

// Envelope is the versioned, transport-neutral form of an Event. It is
// written as JSON to socket.io clients and as msgpack to journals.
type Envelope struct {
	V       int                    `json:"v" msgpack:"v"`
	Kind    Kind                   `json:"kind" msgpack:"kind"`
	Command string                 `json:"command" msgpack:"command"`
	TraceID string                 `json:"trace_id" msgpack:"trace_id"`
	Line    string                 `json:"line,omitempty" msgpack:"line,omitempty"`
	Output  *command.CommandOutput `json:"output,omitempty" msgpack:"output,omitempty"`
	Cached  bool                   `json:"cached,omitempty" msgpack:"cached,omitempty"`
	Error   string                 `json:"error,omitempty" msgpack:"error,omitempty"`
	Time    time.Time              `json:"time" msgpack:"time"`
}

// UnsupportedVersionError is returned when decoding an envelope written by
// an unknown protocol version.
type UnsupportedVersionError struct {
	Version int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported event envelope version %d", e.Version)
}

// Encode wraps e in a current-version envelope.
func Encode(e Event) Envelope {
	env := Envelope{
		V:       WireVersion,
		Kind:    e.Kind,
		Command: e.Command,
		TraceID: e.TraceID,
		Line:    e.Line,
		Cached:  e.Cached,
		Error:   e.Error,
		Time:    e.Time,
	}
	if e.IsFinished() {
		out := e.Output
		env.Output = &out
	}
	return env
}

// Decode validates env and converts it back into an Event.
func Decode(env Envelope) (Event, error) {
	if env.V != WireVersion {
		return Event{}, &UnsupportedVersionError{Version: env.V}
	}
	e := Event{
		Kind:    env.Kind,
		Command: env.Command,
		TraceID: env.TraceID,
		Line:    env.Line,
		Cached:  env.Cached,
		Error:   env.Error,
		Time:    env.Time,
	}
	switch env.Kind {
	case KindStarted, KindStdout:
	case KindFinished:
		if env.Output == nil {
			return Event{}, fmt.Errorf("finished event for %q has no output", env.Command)
		}
		e.Output = *env.Output
	default:
		return Event{}, fmt.Errorf("unknown event kind %q", env.Kind)
	}
	return e, nil
}

// DecodeMap decodes an envelope that arrived as a generic JSON object, as
// socket.io delivers event arguments.
func DecodeMap(m map[string]any) (Event, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return Event{}, fmt.Errorf("re-encoding envelope: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("decoding envelope: %w", err)
	}
	return Decode(env)
}
