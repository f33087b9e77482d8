package scheduler

import (
	"fmt"
	"time"
)

// StageState is the runtime execution state of one stage within a run.
//
// Transitions, all performed by the scheduler loop:
//
//	pending → ready → running → {done | failed | retry-wait}
//	retry-wait → ready
//	pending → skipped            (pruned by resume, terminal, counts as done)
//	pending|ready → failed       (upstream failure cascade, never executed)
type StageState string

const (
	StatePending   StageState = "pending"
	StateReady     StageState = "ready"
	StateRunning   StageState = "running"
	StateRetryWait StageState = "retry-wait"
	StateDone      StageState = "done"
	StateFailed    StageState = "failed"
	StateSkipped   StageState = "skipped-resumed"
)

// IsTerminal reports whether a stage has finished for this run.
func (s StageState) IsTerminal() bool {
	switch s {
	case StateDone, StateFailed, StateSkipped:
		return true
	default:
		return false
	}
}

// Satisfies reports whether the state satisfies dependents: done and
// skipped-resumed both count.
func (s StageState) Satisfies() bool {
	return s == StateDone || s == StateSkipped
}

// DependencyError marks a stage failed without execution because an
// upstream stage permanently failed.
type DependencyError struct {
	Stage      string
	Dependency string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("stage %q not executed: dependency %q failed", e.Stage, e.Dependency)
}

// stageOutcome is the loop's bookkeeping for one stage.
type stageOutcome struct {
	state    StageState
	attempts int
	duration time.Duration
	logPath  string
	err      error
}
