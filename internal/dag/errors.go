package dag

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidGraph marks structural validation failures found at build time:
// duplicate output keys, inputs with no producer, self-consumption.
var ErrInvalidGraph = errors.New("invalid pipeline graph")

// CycleError reports a dependency cycle. Stages holds the offending cycle
// path in traversal order, first stage repeated at the end.
type CycleError struct {
	Stages []string
}

func (e *CycleError) Error() string {
	if len(e.Stages) == 0 {
		return "cycle detected"
	}
	return "cycle detected: " + strings.Join(e.Stages, " -> ")
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidGraph, fmt.Sprintf(format, args...))
}
