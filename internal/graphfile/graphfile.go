// Package graphfile turns human-authored graph definitions into commands.
//
// Two formats are understood. YAML is a list of command records:
//
//	- name: b
//	  target_type: build
//	  script: ["echo hi"]
//	  dependencies: [a]
//	  runtime: {num_cpus: 1, max_memory_mb: 512, timeout: 30, env: {FOO: bar}}
//
// HCL uses one labelled block per command:
//
//	command "b" {
//	  target_type  = "build"
//	  script       = ["echo hi"]
//	  dependencies = ["a"]
//	  runtime {
//	    timeout = 30
//	    env     = { FOO = "bar" }
//	  }
//	}
//
// Omitted runtime fields take the defaults from package command. Graph
// level validation (unique names, resolvable dependencies, no cycles) is
// left to dag.Build.
package graphfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/cmdgrid/internal/command"
	"github.com/vk/cmdgrid/internal/ctxlog"
	"github.com/vk/cmdgrid/internal/fsutil"
)

// Format names a definition syntax.
type Format string

const (
	FormatAuto Format = ""
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// ParseFormat accepts "yaml", "yml", "hcl" or "" (auto), case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "hcl":
		return FormatHCL, nil
	}
	return "", fmt.Errorf("unknown graph format %q", s)
}

// FormatFor guesses the format from a file name.
func FormatFor(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".hcl":
		return FormatHCL
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatAuto
}

// DecodeError is returned when a definition cannot be parsed.
type DecodeError struct {
	File   string
	Format Format
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s graph %s: %v", e.Format, e.File, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Parse decodes text in the given format. FormatAuto picks HCL when the
// text contains a command block and YAML otherwise. filename is used in
// diagnostics only.
func Parse(text []byte, filename string, format Format) ([]*command.Command, error) {
	if format == FormatAuto {
		format = FormatFor(filename)
	}
	if format == FormatAuto {
		format = sniff(text)
	}

	var (
		cmds []*command.Command
		err  error
	)
	switch format {
	case FormatYAML:
		cmds, err = parseYAML(text)
	case FormatHCL:
		cmds, err = parseHCL(text, filename)
	default:
		return nil, fmt.Errorf("unknown graph format %q", format)
	}
	if err != nil {
		return nil, &DecodeError{File: filename, Format: format, Err: err}
	}

	for _, c := range cmds {
		c.ApplyDefaults()
	}
	return cmds, nil
}

// Load reads every graph file found under paths and returns the commands
// in file order. Directories are searched for .yaml, .yml and .hcl files.
func Load(ctx context.Context, paths ...string) ([]*command.Command, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Graph loader started.", "path_count", len(paths))

	files, err := fsutil.CollectFiles(paths, ".yaml", ".yml", ".hcl")
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered graph files.", "count", len(files))

	var all []*command.Command
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading graph file: %w", err)
		}
		cmds, err := Parse(raw, file, FormatAuto)
		if err != nil {
			return nil, err
		}
		logger.Debug("Parsed graph file.", "file", file, "commands", len(cmds))
		all = append(all, cmds...)
	}

	logger.Debug("Graph loading complete.", "commands", len(all))
	return all, nil
}

// sniff looks for a top-level command block.
func sniff(text []byte) Format {
	for _, line := range strings.Split(string(text), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "command ") {
			return FormatHCL
		}
	}
	return FormatYAML
}
