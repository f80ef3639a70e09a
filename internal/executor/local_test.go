package executor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/cmdgrid/internal/command"
	"github.com/vk/cmdgrid/internal/config"
	"github.com/vk/cmdgrid/internal/events"
	"github.com/vk/cmdgrid/internal/testutil"
)

func newCmd(name string, script ...string) *command.Command {
	c := &command.Command{Name: name, TargetType: command.Build, Script: script}
	c.ApplyDefaults()
	return c
}

func TestLocal_StreamsStdoutInOrder(t *testing.T) {
	testutil.RequireBash(t)

	// --- Arrange ---
	ctx, _ := testutil.Context(t)
	root := t.TempDir()
	rec := testutil.NewRecorder()
	cmd := newCmd("echoes", "echo one", "echo two", "echo three")
	cmd.Runtime.Env = map[string]string{"GREETING": "hello world"}
	cmd.Script = append(cmd.Script, `echo "$GREETING"`, `echo "$CMDGRID_COMMAND"`)

	// --- Act ---
	finished, err := NewLocal("", 0).Execute(ctx, RunContext{TraceID: "t-1", Root: root}, cmd, rec)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, events.KindFinished, finished.Kind)
	assert.Equal(t, 0, finished.Output.ExitCode)

	evs := rec.For("echoes")
	testutil.RequireOrdered(t, evs)
	var lines []string
	for _, e := range evs {
		assert.Equal(t, "t-1", e.TraceID)
		if e.Kind == events.KindStdout {
			lines = append(lines, e.Line)
		}
	}
	assert.Equal(t, []string{"one", "two", "three", "hello world", "echoes"}, lines)

	dir := cmd.DefaultTargetRoot(root)
	out, err := os.ReadFile(filepath.Join(dir, command.StdoutFile))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\nhello world\nechoes\n", string(out))

	script, err := os.ReadFile(filepath.Join(dir, command.ScriptFile))
	require.NoError(t, err)
	assert.Equal(t, cmd.RenderScript(), string(script))

	status, err := cmd.StatusFromFS(root)
	require.NoError(t, err)
	assert.Equal(t, finished.Output, status)
}

func TestLocal_NonZeroExitIsNotAnError(t *testing.T) {
	testutil.RequireBash(t)

	ctx, _ := testutil.Context(t)
	root := t.TempDir()
	cmd := newCmd("fails", "echo oops >&2", "exit 3")

	finished, err := NewLocal("bash", 0).Execute(ctx, RunContext{TraceID: "t", Root: root}, cmd, events.Discard)
	require.NoError(t, err)
	assert.Equal(t, 3, finished.Output.ExitCode)
	assert.False(t, finished.Output.Passed())

	stderr, err := os.ReadFile(filepath.Join(cmd.DefaultTargetRoot(root), command.StderrFile))
	require.NoError(t, err)
	assert.Equal(t, "oops\n", string(stderr))

	status, err := cmd.StatusFromFS(root)
	require.NoError(t, err)
	assert.Equal(t, 3, status.ExitCode)
}

func TestLocal_TimeoutReportsSentinel(t *testing.T) {
	testutil.RequireBash(t)

	ctx, _ := testutil.Context(t)
	root := t.TempDir()
	cmd := newCmd("slow", "echo before", "sleep 30", "echo after")
	cmd.Runtime.Timeout = 1
	rec := testutil.NewRecorder()

	start := time.Now()
	finished, err := NewLocal("", 100*time.Millisecond).Execute(ctx, RunContext{TraceID: "t", Root: root}, cmd, rec)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, command.ExitUnavailable, finished.Output.ExitCode)

	evs := rec.For("slow")
	testutil.RequireOrdered(t, evs)
	assert.Equal(t, "before", evs[1].Line)
}

func TestLocal_BackgroundChildDoesNotHangDrain(t *testing.T) {
	testutil.RequireBash(t)

	ctx, _ := testutil.Context(t)
	root := t.TempDir()
	cmd := newCmd("forks", "sleep 5 &", "echo parent done")

	start := time.Now()
	finished, err := NewLocal("", 200*time.Millisecond).Execute(ctx, RunContext{TraceID: "t", Root: root}, cmd, events.Discard)
	require.NoError(t, err)
	assert.Equal(t, 0, finished.Output.ExitCode)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestLocal_RunDirOverride(t *testing.T) {
	testutil.RequireBash(t)

	ctx, _ := testutil.Context(t)
	root := t.TempDir()
	cmd := newCmd("pwd", "pwd")
	cmd.Runtime.CommandRunDir = "src"
	rec := testutil.NewRecorder()

	_, err := NewLocal("", 0).Execute(ctx, RunContext{TraceID: "t", Root: root}, cmd, rec)
	require.NoError(t, err)
	evs := rec.For("pwd")
	require.Len(t, evs, 3)
	resolved, err := filepath.EvalSymlinks(filepath.Join(root, "src"))
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(evs[1].Line)
	require.NoError(t, err)
	assert.Equal(t, resolved, got)
}

func TestLocal_PrepareFailureIsExecutorError(t *testing.T) {
	ctx, _ := testutil.Context(t)
	root := t.TempDir()
	// A regular file where the output directory should be.
	require.NoError(t, os.WriteFile(filepath.Join(root, command.OutDirName), []byte("x"), 0o644))
	rec := testutil.NewRecorder()

	_, err := NewLocal("", 0).Execute(ctx, RunContext{TraceID: "t", Root: root}, newCmd("a", "true"), rec)

	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "a", execErr.Command)
	assert.Equal(t, "create working directory", execErr.Op)
	assert.Empty(t, rec.Events(), "no events for a command that never started")
}

func TestLocal_SpawnFailureIsExecutorError(t *testing.T) {
	ctx, _ := testutil.Context(t)
	rec := testutil.NewRecorder()

	_, err := NewLocal("/definitely/not/a/shell", 0).Execute(ctx, RunContext{TraceID: "t", Root: t.TempDir()}, newCmd("a", "true"), rec)

	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "spawn", execErr.Op)
	assert.Empty(t, rec.Events())
}

func TestNew(t *testing.T) {
	cfg := config.Default().Engine

	exec, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Local{}, exec)

	cfg.Executor = config.ExecutorDocker
	exec, err = New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Docker{}, exec)

	cfg.Executor = "nomad"
	_, err = New(cfg)
	assert.ErrorContains(t, err, "unknown executor backend")
}
