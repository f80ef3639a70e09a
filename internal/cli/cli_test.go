package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/cmdgrid/internal/testutil"
)

const graph = `
- name: ok
  target_type: test
  script: ["echo fine"]
- name: broken
  target_type: test
  script: ["exit 4"]
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, logs bytes.Buffer
	err := Run(context.Background(), append([]string{AppName}, args...), &out, &logs)
	return out.String(), err
}

func TestRun_Help(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "USAGE:")
	assert.Contains(t, out, "serve")
}

func TestRun_UsageErrors(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		want string
	}{
		{"unknown flag", []string{"--not-a-flag"}, "not-a-flag"},
		{"replay without file", []string{"replay"}, "exactly one journal"},
		{"digest without file", []string{"digest"}, "at least one graph"},
		{"bad log level", []string{"--log-level", "loud", "digest", "x.yaml"}, "log.level"},
		{"bad executor", []string{"--executor", "k8s", "digest", "x.yaml"}, "engine.executor"},
		{"missing config", []string{"--config", "/does/not/exist.toml", "digest", "x.yaml"}, "reading config"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := run(t, tc.args...)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, ExitUsage, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.want)
		})
	}
}

func TestRun_FailedCommandsExitOne(t *testing.T) {
	testutil.RequireBash(t)

	// --- Arrange ---
	dir := testutil.WriteFiles(t, t.TempDir(), map[string]string{"graph.yaml": graph})
	outRoot := t.TempDir()

	// --- Act ---
	out, err := run(t, "--out-root", outRoot, "run", "--type", "test", filepath.Join(dir, "graph.yaml"))

	// --- Assert ---
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitFailed, exitErr.Code)
	assert.Contains(t, out, "✘ broken (exit 4)")
	assert.Contains(t, out, "✔ ok")
}

func TestRun_ConfigFileAndOverrides(t *testing.T) {
	testutil.RequireBash(t)

	outRoot := t.TempDir()
	dir := testutil.WriteFiles(t, t.TempDir(), map[string]string{
		"graph.yaml": graph,
		"cmdgrid.toml": `
[engine]
out_root = "/nonexistent/overridden/by/flag"
max_parallel = 1

[log]
level = "debug"
`,
	})

	out, err := run(t,
		"--config", filepath.Join(dir, "cmdgrid.toml"),
		"--out-root", outRoot,
		"run", "--name", "ok", filepath.Join(dir, "graph.yaml"),
	)

	require.NoError(t, err)
	assert.Contains(t, out, "ok | fine")
	assert.DirExists(t, filepath.Join(outRoot, "cmdgrid-out", "ok"))
}

func TestRun_Digest(t *testing.T) {
	dir := testutil.WriteFiles(t, t.TempDir(), map[string]string{"graph.yaml": graph})

	out, err := run(t, "digest", "-n", "ok", filepath.Join(dir, "graph.yaml"))

	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{40}  ok\n$`, out)
}
