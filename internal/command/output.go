package command

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/cmdgrid/internal/digest"
)

// ExitUnavailable is reported when the process exit code cannot be observed,
// for example when the process was killed by a signal.
const ExitUnavailable = -555

// CommandOutput is the result of one execution and the durable cache record.
type CommandOutput struct {
	ExitCode int `json:"status_code" msgpack:"status_code"`
}

// Passed reports whether the command exited with code zero.
func (o CommandOutput) Passed() bool {
	return o.ExitCode == 0
}

// statusRecord is the on-disk form of CommandOutput. The definition digest
// lets a lookup reject a record left by an older definition of the same
// command name. Records without one are accepted.
type statusRecord struct {
	CommandOutput
	DefDigest string `json:"def_digest,omitempty"`
}

// StatusFromFS reads the status record left by a previous execution of c.
// Any failure is reported as ErrCacheMiss.
func (c *Command) StatusFromFS(root string) (CommandOutput, error) {
	dir := c.DefaultTargetRoot(root)
	if _, err := os.Stat(dir); err != nil {
		return CommandOutput{}, fmt.Errorf("%w: %s: no working directory", ErrCacheMiss, c.Name)
	}
	raw, err := os.ReadFile(filepath.Join(dir, StatusFile))
	if err != nil {
		return CommandOutput{}, fmt.Errorf("%w: %s: %v", ErrCacheMiss, c.Name, err)
	}
	var rec statusRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return CommandOutput{}, fmt.Errorf("%w: %s: decoding status: %v", ErrCacheMiss, c.Name, err)
	}
	if rec.DefDigest != "" && rec.DefDigest != c.DefDigest().String() {
		return CommandOutput{}, fmt.Errorf("%w: %s: definition changed", ErrCacheMiss, c.Name)
	}
	return rec.CommandOutput, nil
}

// WriteStatus persists out into dir, replacing any previous record. A
// non-zero d is stored alongside so later lookups can detect a changed
// definition.
func WriteStatus(dir string, out CommandOutput, d digest.Digest) error {
	rec := statusRecord{CommandOutput: out}
	if !d.IsZero() {
		rec.DefDigest = d.String()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	tmp := filepath.Join(dir, StatusFile+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing status: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, StatusFile)); err != nil {
		return fmt.Errorf("writing status: %w", err)
	}
	return nil
}

// ClearStatus removes the status record so a later lookup misses.
func ClearStatus(dir string) error {
	err := os.Remove(filepath.Join(dir, StatusFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
