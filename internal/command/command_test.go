package command

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommand() *Command {
	c := &Command{
		Name:         "b",
		TargetType:   Build,
		Script:       []string{"echo hi", "exit 0"},
		Dependencies: []string{"a"},
	}
	c.ApplyDefaults()
	return c
}

func TestParseTargetType(t *testing.T) {
	for in, want := range map[string]TargetType{"test": Test, "Stimulus": Stimulus, " BUILD ": Build} {
		got, err := ParseTargetType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseTargetType("deploy")
	var bad *BadTargetTypeError
	require.True(t, errors.As(err, &bad))
	assert.Equal(t, "deploy", bad.Value)
}

func TestApplyDefaults(t *testing.T) {
	c := &Command{Name: "x", Runtime: Runtime{NumCPUs: 3}}
	c.ApplyDefaults()
	assert.Equal(t, 3, c.Runtime.NumCPUs)
	assert.Equal(t, DefaultMaxMemoryMB, c.Runtime.MaxMemoryMB)
	assert.Equal(t, DefaultTimeoutSecs, c.Runtime.Timeout)
}

func TestDefDigest(t *testing.T) {
	base := newCommand()
	assert.Equal(t, base.DefDigest(), newCommand().DefDigest(), "digest must be deterministic")

	mutations := map[string]func(c *Command){
		"name":        func(c *Command) { c.Name = "c" },
		"target type": func(c *Command) { c.TargetType = Test },
		"script line": func(c *Command) { c.Script[1] = "exit 1" },
		"dependency":  func(c *Command) { c.Dependencies = []string{"z"} },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c := newCommand()
			mutate(c)
			assert.False(t, base.DefDigest().Equal(c.DefDigest()))
		})
	}

	t.Run("field boundaries", func(t *testing.T) {
		split := &Command{Name: "x", TargetType: Test, Script: []string{"echo a", "b"}}
		joined := &Command{Name: "x", TargetType: Test, Script: []string{"echo ab"}}
		assert.NotEqual(t, split.DefDigest().String(), joined.DefDigest().String())

		asScript := &Command{Name: "x", TargetType: Test, Script: []string{"a"}}
		asDep := &Command{Name: "x", TargetType: Test, Dependencies: []string{"a"}}
		assert.NotEqual(t, asScript.DefDigest().String(), asDep.DefDigest().String())
	})

	t.Run("runtime is not part of the digest", func(t *testing.T) {
		c := newCommand()
		c.Runtime.NumCPUs = 8
		assert.True(t, base.DefDigest().Equal(c.DefDigest()))
	})
}

func TestDefaultTargetRoot(t *testing.T) {
	c := newCommand()
	assert.Equal(t, filepath.Join("/out", OutDirName, "b"), c.DefaultTargetRoot("/out"))

	other := newCommand()
	other.Name = "b2"
	assert.NotEqual(t, c.DefaultTargetRoot("/out"), other.DefaultTargetRoot("/out"))
}

func TestRunDir(t *testing.T) {
	c := newCommand()
	assert.Equal(t, c.DefaultTargetRoot("/r"), c.RunDir("/r"))

	c.Runtime.CommandRunDir = "src"
	assert.Equal(t, filepath.Join("/r", "src"), c.RunDir("/r"))

	c.Runtime.CommandRunDir = "/abs"
	assert.Equal(t, "/abs", c.RunDir("/r"))
}

func TestScriptContents(t *testing.T) {
	c := newCommand()
	c.Runtime.Env = map[string]string{"ZED": "last", "ALPHA": "two words"}

	lines := slices.Collect(c.ScriptContents())
	assert.Equal(t, []string{
		"export ALPHA='two words'",
		"export ZED=last",
		"echo hi",
		"exit 0",
	}, lines)
	assert.Equal(t, "export ALPHA='two words'\nexport ZED=last\necho hi\nexit 0\n", c.RenderScript())
}

func TestRenderScript_QuotedEnvSurvivesBash(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}

	// --- Arrange ---
	value := `it's "$HOME" and \n; $(echo no)`
	c := &Command{
		Name:       "quote",
		TargetType: Test,
		Script:     []string{`printf '%s' "$TRICKY"`},
		Runtime:    Runtime{Env: map[string]string{"TRICKY": value}},
	}

	// --- Act ---
	out, err := exec.Command("bash", "-c", c.RenderScript()).Output()

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, value, string(out))
}

func TestClone(t *testing.T) {
	c := newCommand()
	c.Runtime.Env = map[string]string{"A": "1"}
	clone := c.Clone()
	clone.Script[0] = "changed"
	clone.Runtime.Env["A"] = "2"
	assert.Equal(t, "echo hi", c.Script[0])
	assert.Equal(t, "1", c.Runtime.Env["A"])
}

func TestCommandOutput_Passed(t *testing.T) {
	assert.True(t, CommandOutput{ExitCode: 0}.Passed())
	assert.False(t, CommandOutput{ExitCode: 1}.Passed())
	assert.False(t, CommandOutput{ExitCode: ExitUnavailable}.Passed())
}

func TestStatusRoundTrip(t *testing.T) {
	root := t.TempDir()
	c := newCommand()

	_, err := c.StatusFromFS(root)
	require.ErrorIs(t, err, ErrCacheMiss, "missing working directory")

	dir := c.DefaultTargetRoot(root)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	_, err = c.StatusFromFS(root)
	require.ErrorIs(t, err, ErrCacheMiss, "missing status file")

	require.NoError(t, os.WriteFile(filepath.Join(dir, StatusFile), []byte("{not json"), 0o644))
	_, err = c.StatusFromFS(root)
	require.ErrorIs(t, err, ErrCacheMiss, "undecodable status file")

	for _, code := range []int{0, 1} {
		require.NoError(t, WriteStatus(dir, CommandOutput{ExitCode: code}, c.DefDigest()))
		out, err := c.StatusFromFS(root)
		require.NoError(t, err)
		assert.Equal(t, CommandOutput{ExitCode: code}, out)
		assert.Equal(t, code == 0, out.Passed())
	}

	raw, err := os.ReadFile(filepath.Join(dir, StatusFile))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status_code":1,"def_digest":"`+c.DefDigest().String()+`"}`, string(raw))

	changed := c.Clone()
	changed.Script = []string{"echo changed"}
	_, err = changed.StatusFromFS(root)
	require.ErrorIs(t, err, ErrCacheMiss, "record from an older definition")

	require.NoError(t, os.WriteFile(filepath.Join(dir, StatusFile), []byte(`{"status_code":0}`), 0o644))
	out, err := changed.StatusFromFS(root)
	require.NoError(t, err, "records without a digest are accepted")
	assert.True(t, out.Passed())

	require.NoError(t, ClearStatus(dir))
	require.NoError(t, ClearStatus(dir))
	_, err = c.StatusFromFS(root)
	assert.ErrorIs(t, err, ErrCacheMiss)
}
