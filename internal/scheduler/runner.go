package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/vk/cmdgrid/internal/command"
	"github.com/vk/cmdgrid/internal/ctxlog"
	"github.com/vk/cmdgrid/internal/dag"
	"github.com/vk/cmdgrid/internal/events"
	"github.com/vk/cmdgrid/internal/executor"
	"github.com/vk/cmdgrid/internal/statusstore"
)

// Runner executes command graphs with an injected Executor.
type Runner struct {
	exec  executor.Executor
	pool  *Pool
	group singleflight.Group

	mu sync.Mutex
	// passed holds passing outputs by cache key for reuse across runs.
	passed map[string]command.CommandOutput
}

// New returns a Runner. A nil pool means the default capacity of four
// parallel commands.
func New(exec executor.Executor, pool *Pool) *Runner {
	if pool == nil {
		pool = NewPool(4, 4, 8192)
	}
	return &Runner{
		exec:   exec,
		pool:   pool,
		passed: make(map[string]command.CommandOutput),
	}
}

// completion is what a command goroutine reports back to the run loop.
type completion struct {
	name    string
	output  command.CommandOutput
	cached  bool
	execErr error
	// abort is set when the command never got to run.
	abort error
}

// flight is the value shared by every caller of one singleflight key.
type flight struct {
	output  command.CommandOutput
	execErr error
}

// Run executes names and their transitive dependencies. Events go to sink.
// An empty rc.TraceID is replaced by a fresh one. Run returns an error only
// when names cannot be resolved or ctx ended before the run did; in the
// latter case the partial Result is returned too.
func (r *Runner) Run(ctx context.Context, rc executor.RunContext, g *dag.Graph, names []string, sink events.Sink) (*Result, error) {
	if rc.TraceID == "" {
		rc.TraceID = uuid.NewString()
	}
	if sink == nil {
		sink = events.Discard
	}
	ctx, logger := ctxlog.With(ctx, "trace_id", rc.TraceID)

	scope, err := g.Closure(names)
	if err != nil {
		return nil, fmt.Errorf("resolving commands to run: %w", err)
	}
	res := newResult(rc.TraceID, scope)
	store := statusstore.New(scope)

	inScope := make(map[string]bool, len(scope))
	for _, name := range scope {
		inScope[name] = true
	}
	pending := make(map[string]int, len(scope))
	for _, name := range scope {
		deps, _ := g.Dependencies(name)
		pending[name] = len(deps)
	}

	results := make(chan completion)
	left := len(scope)

	launch := func(name string) {
		cmd, _ := g.Command(name)
		if err := store.Schedule(name, time.Now()); err != nil {
			logger.Error("Refusing to schedule command.", "command", name, "error", err)
			return
		}
		logger.Debug("Command ready, dispatching.", "command", name)
		go func() {
			results <- r.runOne(ctx, rc, cmd, store, sink)
		}()
	}

	var block func(name string)
	block = func(name string) {
		dependents, _ := g.Dependents(name)
		for _, dep := range dependents {
			if !inScope[dep] || store.Get(dep).State != statusstore.Unscheduled {
				continue
			}
			logger.Warn("Blocking dependent command due to upstream failure.", "command", dep, "dependency", name)
			if err := store.Block(dep, name); err == nil {
				res.Blocked[dep] = fmt.Sprintf("dependency %q did not pass", name)
				left--
				block(dep)
			}
		}
	}

	logger.Info("🚀 Starting run.", "commands", len(scope))
	for _, name := range scope {
		if pending[name] == 0 {
			launch(name)
		}
	}

	for left > 0 {
		c := <-results
		left--

		switch {
		case c.abort != nil:
			logger.Warn("Command did not run.", "command", c.name, "reason", c.abort)
			if err := store.Block(c.name, ""); err != nil {
				logger.Error("Status update rejected.", "command", c.name, "error", err)
			}
			res.Blocked[c.name] = c.abort.Error()
			block(c.name)
			continue
		case c.execErr != nil:
			res.Errors[c.name] = c.execErr.Error()
		}

		res.Outputs[c.name] = c.output
		if c.cached {
			res.Cached = append(res.Cached, c.name)
		}

		if !c.output.Passed() {
			logger.Warn("Command failed.", "command", c.name, "exit_code", c.output.ExitCode)
			block(c.name)
			continue
		}

		dependents, _ := g.Dependents(c.name)
		for _, dep := range dependents {
			if !inScope[dep] {
				continue
			}
			pending[dep]--
			if pending[dep] == 0 && store.Get(dep).State == statusstore.Unscheduled {
				launch(dep)
			}
		}
	}

	if !store.Done() {
		logger.Error("Run ended with commands in a non-terminal state.", "states", store.Count())
	}
	res.Statuses = store.Snapshot()
	logger.Info("🏁 Run finished.", "finished", len(res.Outputs), "blocked", len(res.Blocked), "cached", len(res.Cached))

	if err := ctx.Err(); err != nil && len(res.Blocked) > 0 {
		return res, fmt.Errorf("run interrupted: %w", err)
	}
	return res, nil
}

// runOne resolves a single scheduled command: from cache, from a shared
// in-flight execution, or by executing it.
func (r *Runner) runOne(ctx context.Context, rc executor.RunContext, cmd *command.Command, store *statusstore.Store, sink events.Sink) completion {
	logger := ctxlog.FromContext(ctx).With("command", cmd.Name)
	key := cacheKey(rc.Root, cmd)

	if out, ok := r.lookup(rc.Root, cmd, key); ok {
		logger.Debug("Cache hit.")
		return r.finishCached(rc, cmd, store, sink, out)
	}

	ran := false
	v, err, _ := r.group.Do(key, func() (any, error) {
		ran = true
		// Another flight for this key may have finished while we waited.
		if out, ok := r.lookup(rc.Root, cmd, key); ok {
			return nil, errReused{out}
		}

		release, err := r.pool.Acquire(ctx, Request{CPUs: cmd.Runtime.NumCPUs, MemoryMB: cmd.Runtime.MaxMemoryMB})
		if err != nil {
			return nil, err
		}
		defer release()

		if err := store.Start(cmd.Name, time.Now()); err != nil {
			return nil, err
		}
		finished, execErr := r.exec.Execute(ctx, rc, cmd, sink)
		if execErr != nil {
			logger.Error("Executor failed.", "error", execErr)
			ev := events.Finished(cmd.Name, rc.TraceID, command.CommandOutput{ExitCode: command.ExitUnavailable})
			ev.Error = execErr.Error()
			sink.Send(ev)
			finished = ev
		}
		if finished.Output.Passed() {
			r.remember(key, finished.Output)
		}
		return flight{output: finished.Output, execErr: execErr}, nil
	})

	var reused errReused
	switch {
	case errors.As(err, &reused):
		return r.finishCached(rc, cmd, store, sink, reused.out)
	case err != nil && !ran && ctx.Err() == nil && isContextErr(err):
		// The run that owned the flight was cancelled, this one was not.
		return r.runOne(ctx, rc, cmd, store, sink)
	case err != nil:
		return completion{name: cmd.Name, abort: err}
	}

	f := v.(flight)
	if !ran {
		// Joined a flight started by another run.
		return r.finishCached(rc, cmd, store, sink, f.output)
	}
	if err := store.Finish(cmd.Name, time.Now(), f.output); err != nil {
		logger.Error("Status update rejected.", "error", err)
	}
	return completion{name: cmd.Name, output: f.output, execErr: f.execErr}
}

// errReused carries a result found on the second cache check out of the
// singleflight callback.
type errReused struct {
	out command.CommandOutput
}

func (errReused) Error() string { return "result reused" }

func (r *Runner) finishCached(rc executor.RunContext, cmd *command.Command, store *statusstore.Store, sink events.Sink, out command.CommandOutput) completion {
	now := time.Now()
	if err := store.FinishCached(cmd.Name, now, out); err != nil {
		return completion{name: cmd.Name, abort: err}
	}
	ev := events.Finished(cmd.Name, rc.TraceID, out)
	ev.Cached = true
	ev.Time = now
	sink.Send(ev)
	return completion{name: cmd.Name, output: out, cached: true}
}

// lookup returns a passing result for cmd, from an earlier execution in
// this Runner or from disk.
func (r *Runner) lookup(root string, cmd *command.Command, key string) (command.CommandOutput, bool) {
	r.mu.Lock()
	out, ok := r.passed[key]
	r.mu.Unlock()
	if ok {
		return out, true
	}

	disk, err := cmd.StatusFromFS(root)
	if err != nil || !disk.Passed() {
		return command.CommandOutput{}, false
	}
	r.remember(key, disk)
	return disk, true
}

func (r *Runner) remember(key string, out command.CommandOutput) {
	r.mu.Lock()
	r.passed[key] = out
	r.mu.Unlock()
}

// Forget drops every remembered result so the next lookup consults disk.
func (r *Runner) Forget() {
	r.mu.Lock()
	clear(r.passed)
	r.mu.Unlock()
}

func cacheKey(root string, cmd *command.Command) string {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return root + "\x00" + cmd.DefDigest().String()
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
