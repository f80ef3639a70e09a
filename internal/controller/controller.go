package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vk/cmdgrid/internal/command"
	"github.com/vk/cmdgrid/internal/ctxlog"
	"github.com/vk/cmdgrid/internal/dag"
	"github.com/vk/cmdgrid/internal/events"
	"github.com/vk/cmdgrid/internal/executor"
	"github.com/vk/cmdgrid/internal/graphfile"
	"github.com/vk/cmdgrid/internal/scheduler"
)

// RerunSuffix is appended to the name of a rerun copy.
const RerunSuffix = "_rerun"

var (
	// ErrControllerClosed is returned by Submit after the controller stopped.
	ErrControllerClosed = errors.New("controller closed")
	// ErrNoGraph is the ack of a run intent submitted before any graph loaded.
	ErrNoGraph = errors.New("no graph loaded")
)

// Deps wires a controller to the engine.
type Deps struct {
	Runner *scheduler.Runner
	// Root is the directory command working trees are created under.
	Root string
	// Broker, Tracker and Journal receive every event of every run. Tracker
	// is created when nil; the others are optional.
	Broker  *events.Broker
	Tracker *events.RetcodeTracker
	Journal *events.Journal
}

// Handle is the client side of a running controller.
type Handle struct {
	intents chan *Bundle
	stopped chan struct{}
	runs    sync.WaitGroup
	tracker *events.RetcodeTracker

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// controller is the state owned by the serving goroutine.
type controller struct {
	deps  Deps
	h     *Handle
	graph *dag.Graph
}

// Spawn starts the controller goroutine. It stops when ctx ends or Close is
// called; runs in flight are cancelled through ctx.
func Spawn(ctx context.Context, deps Deps) *Handle {
	if deps.Tracker == nil {
		deps.Tracker = events.NewRetcodeTracker()
	}
	if deps.Root == "" {
		deps.Root = "."
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		intents: make(chan *Bundle),
		stopped: make(chan struct{}),
		tracker: deps.Tracker,
		cancel:  cancel,
	}
	c := &controller{deps: deps, h: h}
	go c.loop(ctx)
	return h
}

// Submit hands an intent to the controller and returns its bundle.
func (h *Handle) Submit(in Intent) (*Bundle, error) {
	b := newBundle(in)
	select {
	case h.intents <- b:
		return b, nil
	case <-h.stopped:
		return nil, ErrControllerClosed
	}
}

// Tracker exposes the exit codes observed across every run.
func (h *Handle) Tracker() *events.RetcodeTracker {
	return h.tracker
}

// Close stops the controller and waits for in-flight runs to end.
func (h *Handle) Close() {
	h.closeOnce.Do(h.cancel)
	<-h.stopped
	h.runs.Wait()
}

// Wait blocks until every run started so far has ended.
func (h *Handle) Wait() {
	h.runs.Wait()
}

// SetCommands submits LoadCommands.
func (h *Handle) SetCommands(cmds []*command.Command) (*Bundle, error) {
	return h.Submit(LoadCommands{Commands: cmds})
}

// SetGraph submits LoadGraph.
func (h *Handle) SetGraph(text string, format graphfile.Format) (*Bundle, error) {
	return h.Submit(LoadGraph{Text: text, Format: format})
}

// RunAll submits RunType.
func (h *Handle) RunAll(t command.TargetType) (*Bundle, error) {
	return h.Submit(RunType{TargetType: t})
}

// RunOne submits RunOne.
func (h *Handle) RunOne(name string) (*Bundle, error) {
	return h.Submit(RunOne{Name: name})
}

// RunMany submits RunMany.
func (h *Handle) RunMany(names ...string) (*Bundle, error) {
	return h.Submit(RunMany{Names: names})
}

// Rerun submits RerunFailed.
func (h *Handle) Rerun() (*Bundle, error) {
	return h.Submit(RerunFailed{})
}

func (c *controller) loop(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Controller started.")
	defer func() {
		close(c.h.stopped)
		logger.Debug("Controller stopped.")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case b := <-c.h.intents:
			logger.Debug("Intent received.", "intent", b.Intent.String())
			c.serve(ctx, b)
		}
	}
}

func (c *controller) serve(ctx context.Context, b *Bundle) {
	switch in := b.Intent.(type) {
	case LoadGraph:
		cmds, err := graphfile.Parse([]byte(in.Text), "", in.Format)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Graph rejected.", "error", err)
			b.reject(err)
			return
		}
		c.load(ctx, b, cmds)
	case LoadCommands:
		c.load(ctx, b, in.Commands)
	case RunType:
		if c.graph == nil {
			b.reject(ErrNoGraph)
			return
		}
		c.start(ctx, b, c.graph, c.graph.ByType(in.TargetType))
	case RunOne:
		c.startNamed(ctx, b, []string{in.Name})
	case RunMany:
		c.startNamed(ctx, b, in.Names)
	case RerunFailed:
		c.rerun(ctx, b)
	default:
		b.reject(fmt.Errorf("unsupported intent %T", in))
	}
}

// load replaces the active graph. On any error the previous graph stays.
func (c *controller) load(ctx context.Context, b *Bundle, cmds []*command.Command) {
	logger := ctxlog.FromContext(ctx)

	g, err := dag.Build(cmds)
	if err != nil {
		logger.Warn("Graph rejected.", "error", err)
		b.reject(fmt.Errorf("invalid graph: %w", err))
		return
	}

	c.graph = g
	logger.Info("Graph loaded.", "commands", g.Len())
	b.reject(nil)
}

func (c *controller) startNamed(ctx context.Context, b *Bundle, names []string) {
	if c.graph == nil {
		b.reject(ErrNoGraph)
		return
	}
	for _, name := range names {
		if _, ok := c.graph.Command(name); !ok {
			b.reject(&dag.UnknownCommandError{Name: name})
			return
		}
	}
	c.start(ctx, b, c.graph, names)
}

// rerun clones every failing test command that is not itself a rerun copy
// and runs the copies. Copies that already exist are run again.
func (c *controller) rerun(ctx context.Context, b *Bundle) {
	logger := ctxlog.FromContext(ctx)
	if c.graph == nil {
		b.reject(ErrNoGraph)
		return
	}

	var (
		names []string
		extra []*command.Command
	)
	for _, name := range c.h.tracker.Failing() {
		cmd, ok := c.graph.Command(name)
		if !ok || cmd.TargetType != command.Test || strings.HasSuffix(name, RerunSuffix) {
			continue
		}
		clone := cmd.Clone()
		clone.Name = name + RerunSuffix
		names = append(names, clone.Name)
		if _, exists := c.graph.Command(clone.Name); !exists {
			extra = append(extra, clone)
		}
	}
	if len(names) == 0 {
		logger.Info("No commands need a rerun.")
		b.reject(nil)
		return
	}

	g := c.graph
	if len(extra) > 0 {
		var err error
		if g, err = g.Extend(extra...); err != nil {
			b.reject(fmt.Errorf("adding rerun commands: %w", err))
			return
		}
		c.graph = g
	}
	logger.Info("Rerunning failed tests.", "commands", names)
	c.start(ctx, b, g, names)
}

// start acknowledges b and runs names on g in the background.
func (c *controller) start(ctx context.Context, b *Bundle, g *dag.Graph, names []string) {
	logger := ctxlog.FromContext(ctx)
	if len(names) == 0 {
		logger.Info("Nothing to run.", "intent", b.Intent.String())
		b.reject(nil)
		return
	}

	rc := executor.RunContext{TraceID: uuid.NewString(), Root: c.deps.Root}
	sinks := []events.Sink{b.Events, c.h.tracker}
	if c.deps.Broker != nil {
		sinks = append(sinks, c.deps.Broker)
	}
	if c.deps.Journal != nil {
		sinks = append(sinks, c.deps.Journal)
	}
	sink := events.Tee(sinks...)

	b.ack(nil)
	c.h.runs.Add(1)
	go func() {
		defer c.h.runs.Done()
		res, err := c.deps.Runner.Run(ctx, rc, g, names, sink)
		if err != nil {
			logger.Warn("Run ended early.", "trace_id", rc.TraceID, "error", err)
		}
		b.finish(res)
	}()
}
