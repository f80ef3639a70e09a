package sioserver

import (
	"encoding/json"
	"fmt"

	"github.com/vk/cmdgrid/internal/command"
	"github.com/vk/cmdgrid/internal/controller"
	"github.com/vk/cmdgrid/internal/events"
	"github.com/vk/cmdgrid/internal/graphfile"
)

// Event names of the client protocol. The first five are emitted by
// clients with an acknowledgement callback; the last two by the server.
const (
	EventLoadGraph = "load_graph"
	EventRunAll    = "run_all"
	EventRunOne    = "run_one"
	EventRunMany   = "run_many"
	EventRerun     = "rerun"

	EventEvent     = "event"
	EventStreamEnd = "stream_end"
)

// Request is the payload of every client intent. ID is chosen by the
// client and echoed on every message that belongs to the request.
type Request struct {
	ID         string   `json:"id"`
	Text       string   `json:"text,omitempty"`
	Format     string   `json:"format,omitempty"`
	TargetType string   `json:"target_type,omitempty"`
	Name       string   `json:"name,omitempty"`
	Names      []string `json:"names,omitempty"`
}

// Reply is the acknowledgement of a Request.
type Reply struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// EventMessage carries one event of the run started by request ID.
type EventMessage struct {
	ID string `json:"id"`
	events.Envelope
}

// StreamEnd tells the client no more events follow for request ID.
type StreamEnd struct {
	ID string `json:"id"`
}

// Intent maps a request received as event name to a controller intent.
func (r Request) Intent(name string) (controller.Intent, error) {
	switch name {
	case EventLoadGraph:
		format, err := graphfile.ParseFormat(r.Format)
		if err != nil {
			return nil, err
		}
		return controller.LoadGraph{Text: r.Text, Format: format}, nil
	case EventRunAll:
		tt, err := command.ParseTargetType(r.TargetType)
		if err != nil {
			return nil, err
		}
		return controller.RunType{TargetType: tt}, nil
	case EventRunOne:
		if r.Name == "" {
			return nil, fmt.Errorf("%s: name is required", name)
		}
		return controller.RunOne{Name: r.Name}, nil
	case EventRunMany:
		if len(r.Names) == 0 {
			return nil, fmt.Errorf("%s: names is required", name)
		}
		return controller.RunMany{Names: r.Names}, nil
	case EventRerun:
		return controller.RerunFailed{}, nil
	}
	return nil, fmt.Errorf("unknown request %q", name)
}

// DecodeRequest converts a socket.io argument, normally a decoded JSON
// object, into a Request.
func DecodeRequest(arg any) (Request, error) {
	var req Request
	raw, err := json.Marshal(arg)
	if err != nil {
		return req, fmt.Errorf("encoding request: %w", err)
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("decoding request: %w", err)
	}
	return req, nil
}

// DecodeReply converts an acknowledgement argument into a Reply.
func DecodeReply(arg any) (Reply, error) {
	var rep Reply
	raw, err := json.Marshal(arg)
	if err != nil {
		return rep, fmt.Errorf("encoding reply: %w", err)
	}
	if err := json.Unmarshal(raw, &rep); err != nil {
		return rep, fmt.Errorf("decoding reply: %w", err)
	}
	return rep, nil
}
