package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateStage indicates a stage name was added more than once.
var ErrDuplicateStage = errors.New("duplicate stage")

// ErrUnknownDependency indicates an edge references a stage that was never added.
var ErrUnknownDependency = errors.New("unknown dependency")

// CycleError reports a dependency cycle detected during Build.
type CycleError struct {
	// Stages lists the stages involved in (or downstream of) the cycle,
	// in declaration order.
	Stages []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving stages: %s", strings.Join(e.Stages, ", "))
}
