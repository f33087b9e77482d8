// Package resume decides which stages of a prior run can be skipped.
//
// The central invariant: satisfaction is transitive, never stage-local. A
// stage whose own outputs still look complete must re-run when anything
// upstream was invalidated, so staleness cascades forward through the graph.
package resume

import (
	"context"
	"fmt"

	"github.com/vk/reconpipe/internal/artifact"
	"github.com/vk/reconpipe/internal/ctxlog"
	"github.com/vk/reconpipe/internal/dag"
)

// StatusReader is the slice of the artifact ledger the controller needs.
type StatusReader interface {
	Status(ctx context.Context, key string) (artifact.Status, error)
}

// Prune walks the graph in topological order and returns the set of stages
// that are already satisfied: every declared output is complete in the
// ledger AND every dependency is itself satisfied. The scheduler marks these
// stages skipped and treats them as done for dependents.
//
// Callers should Reconcile the ledger first so completeness claims reflect
// the filesystem, not a stale database.
func Prune(ctx context.Context, g *dag.Graph, store StatusReader) (map[string]bool, error) {
	logger := ctxlog.FromContext(ctx)
	satisfied := make(map[string]bool, g.Len())

	for _, name := range g.TopoOrder() {
		stage := g.Stage(name)

		ok := true
		for _, dep := range g.Dependencies(name) {
			if !satisfied[dep] {
				ok = false
				break
			}
		}
		if ok {
			for key := range stage.Outputs {
				status, err := store.Status(ctx, key)
				if err != nil {
					return nil, fmt.Errorf("resume: checking output %q of stage %q: %w", key, name, err)
				}
				if status != artifact.StatusComplete {
					ok = false
					break
				}
			}
		}

		if ok {
			satisfied[name] = true
			logger.Debug("Stage satisfied by prior run.", "stage", name)
		}
	}

	logger.Info("Resume pruning complete.", "satisfied", len(satisfied), "total", g.Len())
	return satisfied, nil
}
