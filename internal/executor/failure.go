package executor

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a stage terminated for exceeding its wall-clock budget.
// StageFailure wraps it, so errors.Is(err, ErrTimeout) works through the
// scheduler boundary.
var ErrTimeout = errors.New("stage timed out")

// StageFailure reports an execution attempt that ran and did not succeed:
// non-zero exit, timeout, or output evaluation failure. It carries enough
// context for the run summary to point the user at the stage log.
type StageFailure struct {
	Stage    string
	ExitCode int
	LogPath  string
	Cause    error
}

func (e *StageFailure) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stage %q failed: %v (log: %s)", e.Stage, e.Cause, e.LogPath)
	}
	return fmt.Sprintf("stage %q failed with exit code %d (log: %s)", e.Stage, e.ExitCode, e.LogPath)
}

func (e *StageFailure) Unwrap() error { return e.Cause }
