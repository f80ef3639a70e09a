package executor

import (
	"context"
	"strconv"
	"time"

	"github.com/vk/cmdgrid/internal/command"
	"github.com/vk/cmdgrid/internal/config"
	"github.com/vk/cmdgrid/internal/events"
)

// Docker runs the rendered script inside a throwaway container. The working
// directory is bind-mounted at the same path so command.sh and its outputs
// land where the cache expects them.
type Docker struct {
	cfg   config.Docker
	grace time.Duration
}

func NewDocker(cfg config.Docker, grace time.Duration) *Docker {
	if cfg.Binary == "" {
		cfg.Binary = "docker"
	}
	if grace <= 0 {
		grace = defaultDrainGrace
	}
	return &Docker{cfg: cfg, grace: grace}
}

func (d *Docker) Execute(ctx context.Context, rc RunContext, cmd *command.Command, sink events.Sink) (events.Event, error) {
	ws, err := prepare(rc, cmd)
	if err != nil {
		return events.Event{}, err
	}
	inv := invocation{
		argv: d.argv(rc, cmd, ws),
		dir:  ws.dir,
	}
	return runProcess(ctx, rc, cmd, ws, inv, d.grace, sink)
}

// argv builds the docker run command line for one execution.
func (d *Docker) argv(rc RunContext, cmd *command.Command, ws *workspace) []string {
	argv := []string{d.cfg.Binary, "run", "--rm", "-v", ws.dir + ":" + ws.dir}
	if ws.runDir != ws.dir {
		argv = append(argv, "-v", ws.runDir+":"+ws.runDir)
	}
	argv = append(argv, "-w", ws.runDir)
	if cmd.Runtime.NumCPUs > 0 {
		argv = append(argv, "--cpus", strconv.Itoa(cmd.Runtime.NumCPUs))
	}
	if cmd.Runtime.MaxMemoryMB > 0 {
		argv = append(argv, "--memory", strconv.Itoa(cmd.Runtime.MaxMemoryMB)+"m")
	}
	for _, kv := range commandEnv(rc, cmd) {
		argv = append(argv, "-e", kv)
	}
	argv = append(argv, d.cfg.ExtraArgs...)
	return append(argv, d.cfg.Image, "bash", ws.script)
}
