// Package command holds the declarative unit of work that cmdgrid schedules:
// its definition, its on-disk working directory layout and its result record.
package command

import (
	"iter"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/vk/cmdgrid/internal/digest"
)

// OutDirName is the directory created under the output root that holds one
// working directory per command.
const OutDirName = "cmdgrid-out"

// Fixed file names inside a command's working directory.
const (
	ScriptFile = "command.sh"
	StdoutFile = "command.out"
	StderrFile = "command.err"
	StatusFile = "command.status"
)

// Runtime defaults applied when a graph definition omits a field.
const (
	DefaultNumCPUs     = 1
	DefaultMaxMemoryMB = 1024
	DefaultTimeoutSecs = 600
)

// TargetType classifies a command. It only affects which commands a
// run-all intent selects.
type TargetType string

const (
	Test     TargetType = "test"
	Stimulus TargetType = "stimulus"
	Build    TargetType = "build"
)

// ParseTargetType matches s case-insensitively against the known target types.
func ParseTargetType(s string) (TargetType, error) {
	switch t := TargetType(strings.ToLower(strings.TrimSpace(s))); t {
	case Test, Stimulus, Build:
		return t, nil
	}
	return "", &BadTargetTypeError{Value: s}
}

// UnmarshalText lets YAML and TOML decoders accept any casing.
func (t *TargetType) UnmarshalText(text []byte) error {
	parsed, err := ParseTargetType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Runtime is the resource envelope of a command.
type Runtime struct {
	NumCPUs       int               `yaml:"num_cpus" json:"num_cpus"`
	MaxMemoryMB   int               `yaml:"max_memory_mb" json:"max_memory_mb"`
	Timeout       int               `yaml:"timeout" json:"timeout"`
	Env           map[string]string `yaml:"env" json:"env,omitempty"`
	CommandRunDir string            `yaml:"command_run_dir" json:"command_run_dir,omitempty"`
}

// TimeoutDuration returns the timeout as a duration. Zero means no limit.
func (r Runtime) TimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}

// Command is an immutable definition of one unit of work.
type Command struct {
	Name           string     `yaml:"name" json:"name"`
	TargetType     TargetType `yaml:"target_type" json:"target_type"`
	Script         []string   `yaml:"script" json:"script"`
	DependentFiles []string   `yaml:"dependent_files" json:"dependent_files,omitempty"`
	Dependencies   []string   `yaml:"dependencies" json:"dependencies,omitempty"`
	Outputs        []string   `yaml:"outputs" json:"outputs,omitempty"`
	Runtime        Runtime    `yaml:"runtime" json:"runtime"`
}

// ApplyDefaults fills zero-valued runtime fields with the package defaults.
func (c *Command) ApplyDefaults() {
	if c.Runtime.NumCPUs <= 0 {
		c.Runtime.NumCPUs = DefaultNumCPUs
	}
	if c.Runtime.MaxMemoryMB <= 0 {
		c.Runtime.MaxMemoryMB = DefaultMaxMemoryMB
	}
	if c.Runtime.Timeout <= 0 {
		c.Runtime.Timeout = DefaultTimeoutSecs
	}
}

// Clone returns a deep copy of c.
func (c *Command) Clone() *Command {
	out := *c
	out.Script = slices.Clone(c.Script)
	out.DependentFiles = slices.Clone(c.DependentFiles)
	out.Dependencies = slices.Clone(c.Dependencies)
	out.Outputs = slices.Clone(c.Outputs)
	out.Runtime.Env = maps.Clone(c.Runtime.Env)
	return &out
}

// DefDigest hashes the name, target type, script lines and dependencies,
// in that order. The script line count separates the two lists.
func (c *Command) DefDigest() digest.Digest {
	fields := make([]string, 0, 3+len(c.Script)+len(c.Dependencies))
	fields = append(fields, c.Name, string(c.TargetType), strconv.Itoa(len(c.Script)))
	fields = append(fields, c.Script...)
	fields = append(fields, c.Dependencies...)
	return digest.FromDefinition(fields...)
}

// DefaultTargetRoot is the working directory of c under root.
func (c *Command) DefaultTargetRoot(root string) string {
	return filepath.Join(root, OutDirName, c.Name)
}

// RunDir is the directory the script executes in. It is the working
// directory unless the runtime overrides it; relative overrides resolve
// against root.
func (c *Command) RunDir(root string) string {
	dir := c.Runtime.CommandRunDir
	switch {
	case dir == "":
		return c.DefaultTargetRoot(root)
	case filepath.IsAbs(dir):
		return dir
	default:
		return filepath.Join(root, dir)
	}
}

// ScriptContents yields one export line per environment variable, sorted by
// name, followed by every script line verbatim.
func (c *Command) ScriptContents() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, name := range slices.Sorted(maps.Keys(c.Runtime.Env)) {
			if !yield("export " + name + "=" + shellescape.Quote(c.Runtime.Env[name])) {
				return
			}
		}
		for _, line := range c.Script {
			if !yield(line) {
				return
			}
		}
	}
}

// RenderScript joins ScriptContents into the text written to ScriptFile.
func (c *Command) RenderScript() string {
	var b strings.Builder
	for line := range c.ScriptContents() {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
