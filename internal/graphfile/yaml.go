package graphfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/vk/cmdgrid/internal/command"
)

// parseYAML decodes a YAML list of command records. Keys the record does
// not know are ignored and missing optional fields stay empty.
func parseYAML(text []byte) ([]*command.Command, error) {
	dec := yaml.NewDecoder(bytes.NewReader(text))

	var cmds []*command.Command
	if err := dec.Decode(&cmds); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	for i, c := range cmds {
		if c == nil {
			return nil, fmt.Errorf("entry %d is empty", i)
		}
		if c.TargetType == "" {
			return nil, fmt.Errorf("command %q: %w", c.Name, &command.BadTargetTypeError{})
		}
	}
	return cmds, nil
}
