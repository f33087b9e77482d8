// Package executor wraps one unit of pipeline work with uniform
// success/failure/timeout semantics. Anything exposing Run qualifies as a
// stage executable, whether it shells out to an external tool or computes
// in-process.
package executor

import (
	"context"
	"time"

	"github.com/vk/reconpipe/internal/config"
)

// Invocation is a stage plus its resolved artifact bindings: every declared
// input and output key mapped to an absolute filesystem path.
type Invocation struct {
	Stage      *config.Stage
	Inputs     map[string]string
	Outputs    map[string]string
	SubjectDir string
	LogPath    string
}

// Result describes a finished execution attempt.
type Result struct {
	ExitCode int
	Duration time.Duration
	// ProducedPaths lists the declared output paths present on disk after
	// the run. Completeness validation against the ledger happens in the
	// scheduler, not here.
	ProducedPaths []string
}

// Runnable executes one stage invocation. Implementations must honor ctx
// cancellation, must not write outside the invocation's declared outputs
// and log path, and report execution failure through the returned error
// (a *StageFailure) rather than panicking.
type Runnable interface {
	Run(ctx context.Context, inv *Invocation) (*Result, error)
}

// RunnableFunc adapts a plain function to the Runnable interface. Tests and
// in-process builtins use this.
type RunnableFunc func(ctx context.Context, inv *Invocation) (*Result, error)

// Run implements Runnable.
func (f RunnableFunc) Run(ctx context.Context, inv *Invocation) (*Result, error) {
	return f(ctx, inv)
}
