package app

import (
	"context"
	"fmt"

	"github.com/vk/reconpipe/internal/artifact"
	"github.com/vk/reconpipe/internal/ctxlog"
	"github.com/vk/reconpipe/internal/dag"
	"github.com/vk/reconpipe/internal/scheduler"
)

// Run executes the pipeline against the subject directory. It builds the
// dependency graph, opens the artifact ledger and drives the scheduler to
// completion, printing the run summary table.
func (a *App) Run(ctx context.Context, cfg *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	graph, err := dag.Build(ctx, a.pipeline, seedKeys(cfg.Seeds))
	if err != nil {
		return fmt.Errorf("failed to build dependency graph: %w", err)
	}
	a.logger.Debug("Dependency graph built.", "stage_count", graph.Len())

	store, err := artifact.Open(cfg.SubjectDir)
	if err != nil {
		return fmt.Errorf("failed to open artifact ledger: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			a.logger.Error("Error closing artifact ledger.", "error", closeErr)
		}
	}()

	sched := scheduler.New(graph, store, a.registry, scheduler.Options{
		SubjectDir: cfg.SubjectDir,
		Seeds:      cfg.Seeds,
		Workers:    cfg.Workers,
		Resume:     cfg.Resume,
	})

	summary, runErr := sched.Run(ctx)
	if summary != nil {
		fmt.Fprint(a.outW, summary.Render())
	}
	return runErr
}

// Plan builds the dependency graph and returns the stage names in execution
// order without running anything. Used by the validate command.
func (a *App) Plan(ctx context.Context, seeds []string) ([]string, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	graph, err := dag.Build(ctx, a.pipeline, seeds)
	if err != nil {
		return nil, err
	}
	return graph.TopoOrder(), nil
}
