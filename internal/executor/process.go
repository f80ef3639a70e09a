package executor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/vk/cmdgrid/internal/command"
	"github.com/vk/cmdgrid/internal/ctxlog"
	"github.com/vk/cmdgrid/internal/events"
)

const defaultDrainGrace = 2 * time.Second

// invocation is what a backend wants to run for a prepared command.
type invocation struct {
	argv []string
	dir  string
	env  []string
}

// workspace is a prepared working directory.
type workspace struct {
	dir    string
	runDir string
	script string
}

// prepare creates the working directory and writes the rendered script.
func prepare(rc RunContext, cmd *command.Command) (*workspace, error) {
	root, err := filepath.Abs(rc.Root)
	if err != nil {
		return nil, &Error{Command: cmd.Name, Op: "resolve root", Err: err}
	}
	ws := &workspace{
		dir:    cmd.DefaultTargetRoot(root),
		runDir: cmd.RunDir(root),
	}
	ws.script = filepath.Join(ws.dir, command.ScriptFile)

	if err := os.MkdirAll(ws.dir, 0o755); err != nil {
		return nil, &Error{Command: cmd.Name, Op: "create working directory", Err: err}
	}
	if err := os.MkdirAll(ws.runDir, 0o755); err != nil {
		return nil, &Error{Command: cmd.Name, Op: "create run directory", Err: err}
	}
	if err := command.ClearStatus(ws.dir); err != nil {
		return nil, &Error{Command: cmd.Name, Op: "clear status", Err: err}
	}
	if err := os.WriteFile(ws.script, []byte(cmd.RenderScript()), 0o755); err != nil {
		return nil, &Error{Command: cmd.Name, Op: "write script", Err: err}
	}
	return ws, nil
}

// commandEnv is the environment every backend exports to the script on top
// of the command's own runtime env.
func commandEnv(rc RunContext, cmd *command.Command) []string {
	return []string{
		"CMDGRID_COMMAND=" + cmd.Name,
		"CMDGRID_TRACE_ID=" + rc.TraceID,
	}
}

// runProcess spawns inv, streams its stdout as events and waits for it.
// It is shared by every backend.
func runProcess(ctx context.Context, rc RunContext, cmd *command.Command, ws *workspace, inv invocation, grace time.Duration, sink events.Sink) (events.Event, error) {
	logger := ctxlog.FromContext(ctx).With("command", cmd.Name, "trace_id", rc.TraceID)

	outFile, err := os.Create(filepath.Join(ws.dir, command.StdoutFile))
	if err != nil {
		return events.Event{}, &Error{Command: cmd.Name, Op: "create stdout file", Err: err}
	}
	defer outFile.Close()

	errFile, err := os.Create(filepath.Join(ws.dir, command.StderrFile))
	if err != nil {
		return events.Event{}, &Error{Command: cmd.Name, Op: "create stderr file", Err: err}
	}
	defer errFile.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		return events.Event{}, &Error{Command: cmd.Name, Op: "create stdout pipe", Err: err}
	}
	defer pr.Close()

	runCtx := ctx
	if timeout := cmd.Runtime.TimeoutDuration(); timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	proc := exec.CommandContext(runCtx, inv.argv[0], inv.argv[1:]...)
	proc.Dir = inv.dir
	proc.Env = append(os.Environ(), inv.env...)
	proc.Stdout = pw
	proc.Stderr = errFile
	proc.WaitDelay = grace
	configureProcessGroup(proc)

	logger.Debug("Spawning command.", "argv", shellescape.QuoteCommand(inv.argv), "dir", inv.dir)
	if err := proc.Start(); err != nil {
		pw.Close()
		return events.Event{}, &Error{Command: cmd.Name, Op: "spawn", Err: err}
	}
	// The child holds its own copy of the write end.
	pw.Close()

	sink.Send(events.Started(cmd.Name, rc.TraceID))

	lines := make(chan string, 64)
	go readLines(pr, lines)

	waitErr := make(chan error, 1)
	go func() { waitErr <- proc.Wait() }()

	out := bufio.NewWriter(outFile)
	emit := func(line string) {
		out.WriteString(line)
		out.WriteByte('\n')
		sink.Send(events.Stdout(cmd.Name, rc.TraceID, line))
	}

	var exitErr error
	exited := false
	for !exited {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			emit(line)
		case exitErr = <-waitErr:
			exited = true
		}
	}

	// Drain whatever the process wrote before exiting. A grandchild that
	// inherited stdout can keep the pipe open, so stop after the grace period.
	if lines != nil {
		timer := time.NewTimer(grace)
		defer timer.Stop()
	drain:
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					break drain
				}
				emit(line)
			case <-timer.C:
				logger.Warn("Stdout still open after exit, closing pipe.", "grace", grace)
				pr.Close()
				for line := range lines {
					emit(line)
				}
				break drain
			}
		}
	}

	if err := out.Flush(); err != nil {
		return events.Event{}, &Error{Command: cmd.Name, Op: "write stdout file", Err: err}
	}

	result := command.CommandOutput{ExitCode: exitCode(exitErr)}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		logger.Warn("Command timed out.", "timeout", cmd.Runtime.TimeoutDuration())
		result.ExitCode = command.ExitUnavailable
	}
	if err := command.WriteStatus(ws.dir, result, cmd.DefDigest()); err != nil {
		return events.Event{}, &Error{Command: cmd.Name, Op: "persist status", Err: err}
	}

	logger.Debug("Command finished.", "exit_code", result.ExitCode)
	finished := events.Finished(cmd.Name, rc.TraceID, result)
	sink.Send(finished)
	return finished, nil
}

// readLines sends every line read from r to lines and closes it at EOF or
// on a read error.
func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			lines <- strings.TrimRight(line, "\r\n")
		}
		if err != nil {
			return
		}
	}
}

// exitCode maps the result of Wait to an exit code. Signals and failures
// where no code is available map to command.ExitUnavailable.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if code := ee.ExitCode(); code >= 0 {
			return code
		}
	}
	return command.ExitUnavailable
}
