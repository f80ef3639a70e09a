package executor

import (
	"context"
	"time"

	"github.com/vk/cmdgrid/internal/command"
	"github.com/vk/cmdgrid/internal/events"
)

// Local runs the rendered script with a shell on this machine.
type Local struct {
	shell string
	grace time.Duration
}

// NewLocal returns a Local backend. An empty shell means bash; a zero grace
// means the default drain period.
func NewLocal(shell string, grace time.Duration) *Local {
	if shell == "" {
		shell = "bash"
	}
	if grace <= 0 {
		grace = defaultDrainGrace
	}
	return &Local{shell: shell, grace: grace}
}

func (l *Local) Execute(ctx context.Context, rc RunContext, cmd *command.Command, sink events.Sink) (events.Event, error) {
	ws, err := prepare(rc, cmd)
	if err != nil {
		return events.Event{}, err
	}
	inv := invocation{
		argv: []string{l.shell, ws.script},
		dir:  ws.runDir,
		env:  commandEnv(rc, cmd),
	}
	return runProcess(ctx, rc, cmd, ws, inv, l.grace, sink)
}
