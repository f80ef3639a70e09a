// Package executor runs a single command and reports its progress as events.
//
// Two backends satisfy the Executor contract: Local runs the rendered script
// with a shell on this machine, Docker runs it inside a container. Both
// create the command's working directory, write command.sh, capture stdout
// into command.out and stderr into command.err, and persist command.status
// once the process exits.
package executor

import (
	"context"
	"fmt"

	"github.com/vk/cmdgrid/internal/command"
	"github.com/vk/cmdgrid/internal/config"
	"github.com/vk/cmdgrid/internal/events"
)

// RunContext is the per-run state threaded through every execution.
type RunContext struct {
	// TraceID correlates every event emitted during one run.
	TraceID string
	// Root is the output root that working directories live under.
	Root string
}

// Executor runs one command.
//
// Execute emits exactly one started event before any stdout event, one
// stdout event per line in the order the process wrote them, and returns
// the finished event after sending it to sink. A non-zero exit is not an
// error. When the working directory, the script or the process cannot be
// set up, Execute returns an *Error and emits no finished event.
type Executor interface {
	Execute(ctx context.Context, rc RunContext, cmd *command.Command, sink events.Sink) (events.Event, error)
}

// Error is an I/O failure around an execution.
type Error struct {
	Command string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("executor: %s: %s: %v", e.Command, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns the backend selected by cfg.Executor.
func New(cfg config.Engine) (Executor, error) {
	switch cfg.Executor {
	case "", config.ExecutorLocal:
		return NewLocal(cfg.Shell, cfg.DrainGrace), nil
	case config.ExecutorDocker:
		return NewDocker(cfg.Docker, cfg.DrainGrace), nil
	}
	return nil, fmt.Errorf("unknown executor backend %q", cfg.Executor)
}
