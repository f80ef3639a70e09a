package command

import (
	"errors"
	"fmt"
)

// ErrCacheMiss means no usable prior result exists on disk. Callers fall
// through to execution.
var ErrCacheMiss = errors.New("command cache miss")

// BadTargetTypeError is returned for an unknown target type string.
type BadTargetTypeError struct {
	Value string
}

func (e *BadTargetTypeError) Error() string {
	return fmt.Sprintf("bad target type %q: expected one of test, stimulus, build", e.Value)
}
