// Package scheduler walks the dependency graph and drives stages through
// their lifecycle: dispatching ready stages to executors, enforcing the
// worker and resource-class budgets, retrying failures and cascading
// permanent ones to transitive dependents.
//
// All mutable run state is owned by the single Run loop goroutine. Stage
// executors never touch shared state; they report back over the events
// channel, the loop's one coordination point.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/vk/reconpipe/internal/artifact"
	"github.com/vk/reconpipe/internal/config"
	"github.com/vk/reconpipe/internal/ctxlog"
	"github.com/vk/reconpipe/internal/dag"
	"github.com/vk/reconpipe/internal/executor"
	"github.com/vk/reconpipe/internal/registry"
	"github.com/vk/reconpipe/internal/resume"
)

// DefaultWorkers is the global concurrency budget when none is configured.
const DefaultWorkers = 4

const (
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffCap  = 30 * time.Second
)

// Options configures a single pipeline run.
type Options struct {
	// SubjectDir is the per-subject working directory; all relative output
	// paths and the stage logs live under it.
	SubjectDir string
	// Seeds maps externally supplied artifact keys to filesystem paths.
	Seeds map[string]string
	// Workers is the global concurrency budget.
	Workers int
	// Resume consults the ledger before scheduling and skips satisfied
	// stages. When false all prior artifact state is reset.
	Resume bool
	// BackoffBase overrides the first retry delay. Tests shrink it.
	BackoffBase time.Duration
	// BackoffCap bounds the exponential retry delay.
	BackoffCap time.Duration
}

// RunError reports overall pipeline failure, naming the stages whose own
// execution failed (cascaded dependents are in the summary, not here).
type RunError struct {
	Stages []string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("pipeline failed: stage(s) %s", strings.Join(e.Stages, ", "))
}

type eventKind int

const (
	evCompleted eventKind = iota
	evRetryReady
)

type event struct {
	kind   eventKind
	stage  string
	result *executor.Result
	err    error
}

// Scheduler executes one pipeline graph against one subject directory.
// A Scheduler is single-use: create a fresh one per run.
type Scheduler struct {
	graph   *dag.Graph
	store   *artifact.Store
	reg     *registry.Registry
	command executor.Runnable
	opts    Options

	topoIndex map[string]int
	classSems map[config.ResourceClass]*semaphore.Weighted

	outcomes map[string]*stageOutcome
	inflight int
	events   chan event
}

// New creates a scheduler for the given graph, ledger and registry.
func New(graph *dag.Graph, store *artifact.Store, reg *registry.Registry, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = defaultBackoffCap
	}

	topoIndex := make(map[string]int, graph.Len())
	for i, name := range graph.TopoOrder() {
		topoIndex[name] = i
	}

	return &Scheduler{
		graph:   graph,
		store:   store,
		reg:     reg,
		command: executor.NewCommandRunner(),
		opts:    opts,
		// One exclusive slot per constrained class, enforced independently
		// of the global worker budget.
		classSems: map[config.ResourceClass]*semaphore.Weighted{
			config.ClassGPU:        semaphore.NewWeighted(1),
			config.ClassSequential: semaphore.NewWeighted(1),
		},
		topoIndex: topoIndex,
		outcomes:  make(map[string]*stageOutcome, graph.Len()),
		events:    make(chan event, graph.Len()+1),
	}
}

// Run executes the pipeline to completion and returns the run summary.
// The returned error is nil iff every stage ended done or skipped-resumed.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	logger := ctxlog.FromContext(ctx)
	started := time.Now()
	runID := uuid.Must(uuid.NewV7()).String()
	logger = logger.With("run_id", runID)
	ctx = ctxlog.WithLogger(ctx, logger)

	if err := s.prepareLedger(ctx); err != nil {
		return nil, err
	}
	if err := s.initStates(ctx); err != nil {
		return nil, err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	cancelled := false
	ctxDone := ctx.Done()

	logger.Info("Run started.", "stages", s.graph.Len(), "workers", s.opts.Workers, "resume", s.opts.Resume)

	for {
		if !cancelled {
			if err := s.dispatchReady(runCtx); err != nil {
				cancelRun()
				return nil, err
			}
		}

		if s.inflight == 0 {
			if s.allTerminal() {
				break
			}
			if cancelled {
				s.failRemaining(ctx.Err())
				break
			}
		}

		select {
		case ev := <-s.events:
			if err := s.handleEvent(ctx, ev, cancelled); err != nil {
				cancelRun()
				return nil, err
			}
		case <-ctxDone:
			logger.Warn("Cancellation requested, halting dispatch and terminating in-flight stages.")
			cancelled = true
			cancelRun()
			ctxDone = nil
		}
	}

	summary := s.buildSummary(runID, started)
	if err := summary.WriteFile(filepath.Join(s.opts.SubjectDir, SummaryFileName)); err != nil {
		logger.Warn("Could not persist run summary.", "error", err)
	}

	if cancelled {
		logger.Warn("Run cancelled.", "completed_artifacts_kept", true)
		return summary, fmt.Errorf("run cancelled: %w", ctx.Err())
	}
	if failed := summary.Failed(); len(failed) > 0 {
		logger.Error("Run finished with failures.", "stages", failed)
		return summary, &RunError{Stages: failed}
	}
	logger.Info("Run finished successfully.", "elapsed", time.Since(started).Round(time.Millisecond))
	return summary, nil
}

// prepareLedger registers every declared artifact and the seeds, resetting
// prior state for force runs.
func (s *Scheduler) prepareLedger(ctx context.Context) error {
	for _, name := range s.graph.TopoOrder() {
		stage := s.graph.Stage(name)
		for _, key := range stage.Inputs {
			if s.graph.IsSeed(key) {
				if _, ok := s.opts.Seeds[key]; !ok {
					return fmt.Errorf("seed artifact %q required by stage %q was not supplied", key, name)
				}
			}
		}
		for key, rel := range stage.Outputs {
			if err := s.store.Record(ctx, key, s.absPath(rel)); err != nil {
				return err
			}
		}
	}

	if !s.opts.Resume {
		if err := s.store.Reset(ctx); err != nil {
			return err
		}
	}

	for key, path := range s.opts.Seeds {
		if err := s.store.RecordSeed(ctx, key, path); err != nil {
			return err
		}
	}
	return nil
}

// initStates seeds the per-stage outcomes, consulting the resume controller
// when enabled.
func (s *Scheduler) initStates(ctx context.Context) error {
	satisfied := map[string]bool{}
	if s.opts.Resume {
		if _, err := s.store.Reconcile(ctx); err != nil {
			return err
		}
		var err error
		satisfied, err = resume.Prune(ctx, s.graph, s.store)
		if err != nil {
			return err
		}
	}

	for _, name := range s.graph.TopoOrder() {
		state := StatePending
		if satisfied[name] {
			state = StateSkipped
		}
		s.outcomes[name] = &stageOutcome{state: state}
	}
	for _, name := range s.graph.TopoOrder() {
		s.promoteIfReady(name)
	}
	return nil
}

// dispatchReady launches ready stages in deterministic topological order,
// up to the global worker budget.
func (s *Scheduler) dispatchReady(runCtx context.Context) error {
	logger := ctxlog.FromContext(runCtx)

	var ready []string
	for name, out := range s.outcomes {
		if out.state == StateReady {
			ready = append(ready, name)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return s.topoIndex[ready[i]] < s.topoIndex[ready[j]]
	})

	for _, name := range ready {
		if s.inflight >= s.opts.Workers {
			return nil
		}
		stage := s.graph.Stage(name)
		// Claim the class slot before consuming a worker: a stage queued
		// behind its class must stay ready instead of occupying the global
		// budget and starving ready stages of other classes.
		sem := s.classSems[stage.Class]
		if sem != nil && !sem.TryAcquire(1) {
			continue
		}
		out := s.outcomes[name]
		out.state = StateRunning
		out.attempts++

		inv := s.bindInvocation(stage)
		if stage.Run != nil {
			out.logPath = inv.LogPath
		}

		for key := range stage.Outputs {
			if err := s.store.MarkInProgress(runCtx, key); err != nil {
				return err
			}
		}

		logger.Info("Dispatching stage.", "stage", name, "attempt", out.attempts, "class", stage.Class)
		s.inflight++
		go s.execute(runCtx, stage, inv, sem)
	}
	return nil
}

// execute runs one stage attempt in its own goroutine and reports the
// outcome back to the loop. The only shared structures it touches are the
// events channel and the class slot handed to it by dispatch.
func (s *Scheduler) execute(runCtx context.Context, stage *config.Stage, inv *executor.Invocation, sem *semaphore.Weighted) {
	res, err := s.runStage(runCtx, stage, inv)
	if sem != nil {
		// Release before posting: the loop re-dispatches on the event, and
		// a queued stage of this class must find the slot free by then.
		sem.Release(1)
	}
	s.events <- event{kind: evCompleted, stage: stage.Name, result: res, err: err}
}

func (s *Scheduler) runStage(runCtx context.Context, stage *config.Stage, inv *executor.Invocation) (*executor.Result, error) {
	runnable := s.command
	if stage.Uses != "" {
		r, ok := s.reg.Lookup(stage.Uses)
		if !ok {
			// Registry validation happens at startup; reaching this means
			// the registry changed mid-run.
			return nil, fmt.Errorf("runnable %q vanished from registry", stage.Uses)
		}
		runnable = r
	}
	return runnable.Run(ctxlog.With(runCtx, "stage", stage.Name), inv)
}

func (s *Scheduler) handleEvent(ctx context.Context, ev event, cancelled bool) error {
	switch ev.kind {
	case evRetryReady:
		out := s.outcomes[ev.stage]
		if out.state == StateRetryWait {
			out.state = StateReady
		}
		return nil
	case evCompleted:
		s.inflight--
		return s.handleCompletion(ctx, ev, cancelled)
	default:
		return fmt.Errorf("unknown scheduler event kind %d", ev.kind)
	}
}

func (s *Scheduler) handleCompletion(ctx context.Context, ev event, cancelled bool) error {
	logger := ctxlog.FromContext(ctx)
	stage := s.graph.Stage(ev.stage)
	out := s.outcomes[ev.stage]
	if ev.result != nil {
		out.duration += ev.result.Duration
	}

	// Ledger writes must land even when the run context is already
	// cancelled: in-flight stages drain through here after a SIGINT and
	// their artifact state has to be durable for a later resume.
	writeCtx := context.WithoutCancel(ctx)

	execErr := ev.err
	if execErr == nil {
		// Completion is only real once every declared output validates;
		// an executor that exits 0 without producing its files failed.
		for key := range stage.Outputs {
			if err := s.store.MarkComplete(writeCtx, key); err != nil {
				var verr *artifact.ValidationError
				if errors.As(err, &verr) {
					execErr = verr
					break
				}
				return err
			}
		}
	}

	if execErr == nil {
		out.state = StateDone
		out.err = nil
		logger.Info("Stage done.", "stage", ev.stage, "duration", out.duration.Round(time.Millisecond))
		for _, dep := range s.graph.Dependents(ev.stage) {
			s.promoteIfReady(dep)
		}
		return nil
	}

	logger.Error("Stage attempt failed.", "stage", ev.stage, "attempt", out.attempts, "error", execErr)
	for key := range stage.Outputs {
		if err := s.store.MarkInvalid(writeCtx, key, execErr.Error()); err != nil {
			return err
		}
	}
	out.err = execErr

	if !cancelled && out.attempts <= stage.Retries {
		delay := s.retryBackoff(out.attempts)
		out.state = StateRetryWait
		logger.Warn("Retrying stage after backoff.", "stage", ev.stage, "delay", delay, "remaining", stage.Retries-out.attempts+1)
		go func(name string) {
			select {
			case <-time.After(delay):
				s.events <- event{kind: evRetryReady, stage: name}
			case <-ctx.Done():
			}
		}(ev.stage)
		return nil
	}

	out.state = StateFailed
	s.cascadeFailure(ctx, ev.stage)
	return nil
}

// cascadeFailure marks every transitive dependent of a permanently failed
// stage as failed without execution. Independent branches are untouched and
// keep running.
func (s *Scheduler) cascadeFailure(ctx context.Context, name string) {
	logger := ctxlog.FromContext(ctx)
	for _, dep := range s.graph.TransitiveDependents(name) {
		out := s.outcomes[dep]
		switch out.state {
		case StatePending, StateReady, StateRetryWait:
			logger.Warn("Skipping dependent stage due to upstream failure.", "stage", dep, "failed_dependency", name)
			out.state = StateFailed
			out.err = &DependencyError{Stage: dep, Dependency: name}
		}
	}
}

// promoteIfReady moves a pending stage to ready once every dependency
// satisfies it.
func (s *Scheduler) promoteIfReady(name string) {
	out := s.outcomes[name]
	if out.state != StatePending {
		return
	}
	for _, dep := range s.graph.Dependencies(name) {
		if !s.outcomes[dep].state.Satisfies() {
			return
		}
	}
	out.state = StateReady
}

func (s *Scheduler) allTerminal() bool {
	for _, out := range s.outcomes {
		if !out.state.IsTerminal() {
			return false
		}
	}
	return true
}

// failRemaining marks every non-terminal stage failed after cancellation.
func (s *Scheduler) failRemaining(cause error) {
	for _, out := range s.outcomes {
		if !out.state.IsTerminal() {
			out.state = StateFailed
			if out.err == nil {
				out.err = cause
			}
		}
	}
}

func (s *Scheduler) retryBackoff(attempt int) time.Duration {
	d := s.opts.BackoffBase << (attempt - 1)
	if d > s.opts.BackoffCap || d <= 0 {
		return s.opts.BackoffCap
	}
	return d
}

// bindInvocation resolves a stage's declared keys to absolute paths.
func (s *Scheduler) bindInvocation(stage *config.Stage) *executor.Invocation {
	inputs := make(map[string]string, len(stage.Inputs))
	for _, key := range stage.Inputs {
		if s.graph.IsSeed(key) {
			inputs[key] = s.opts.Seeds[key]
			continue
		}
		if rel, ok := s.graph.InputPath(key); ok {
			inputs[key] = s.absPath(rel)
		}
	}
	outputs := make(map[string]string, len(stage.Outputs))
	for key, rel := range stage.Outputs {
		outputs[key] = s.absPath(rel)
	}
	return &executor.Invocation{
		Stage:      stage,
		Inputs:     inputs,
		Outputs:    outputs,
		SubjectDir: s.opts.SubjectDir,
		LogPath:    filepath.Join(s.opts.SubjectDir, "logs", stage.Name+".log"),
	}
}

func (s *Scheduler) absPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.opts.SubjectDir, path)
}

func (s *Scheduler) buildSummary(runID string, started time.Time) *Summary {
	summary := &Summary{
		RunID:    runID,
		Subject:  s.opts.SubjectDir,
		Started:  started,
		Finished: time.Now(),
		Success:  true,
	}
	for _, name := range s.graph.TopoOrder() {
		out := s.outcomes[name]
		report := StageReport{
			Name:     name,
			State:    out.state,
			Attempts: out.attempts,
			Duration: out.duration,
		}
		if out.err != nil {
			report.Error = out.err.Error()
			var depErr *DependencyError
			report.Cascaded = errors.As(out.err, &depErr)
		}
		if out.state == StateFailed {
			summary.Success = false
			report.Log = out.logPath
		}
		summary.Stages = append(summary.Stages, report)
	}
	return summary
}
