// Package dag builds and validates the static stage dependency graph.
//
// Edges are derived from output→input artifact key matching: the stage that
// produces key K is the dependency of every stage that consumes K. The graph
// is immutable after Build; runtime execution state lives in the scheduler.
package dag

import (
	"context"
	"sort"

	"github.com/vk/reconpipe/internal/config"
	"github.com/vk/reconpipe/internal/ctxlog"
)

// Graph is the validated, immutable dependency graph of a pipeline.
type Graph struct {
	stages     map[string]*config.Stage
	producers  map[string]string
	deps       map[string]map[string]struct{}
	dependents map[string]map[string]struct{}
	seeds      map[string]struct{}
	order      []string
}

// Build constructs a complete, validated graph from a pipeline model and the
// set of externally supplied seed artifact keys.
//
// Validation, in order: every output key has exactly one producer; every
// consumed input key is produced by some other stage or is a seed; the graph
// is acyclic (reported as *CycleError naming the cycle path).
func Build(ctx context.Context, pipeline *config.Pipeline, seedKeys []string) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: starting graph construction.", "stages", len(pipeline.Stages))

	g := &Graph{
		stages:     make(map[string]*config.Stage, len(pipeline.Stages)),
		producers:  make(map[string]string),
		deps:       make(map[string]map[string]struct{}),
		dependents: make(map[string]map[string]struct{}),
		seeds:      make(map[string]struct{}, len(seedKeys)),
	}
	for _, key := range seedKeys {
		g.seeds[key] = struct{}{}
	}

	// First pass: register stages and claim output keys.
	for _, stage := range pipeline.Stages {
		if _, dup := g.stages[stage.Name]; dup {
			return nil, invalidf("duplicate stage name %q", stage.Name)
		}
		g.stages[stage.Name] = stage
		g.deps[stage.Name] = make(map[string]struct{})
		g.dependents[stage.Name] = make(map[string]struct{})

		for key := range stage.Outputs {
			if owner, claimed := g.producers[key]; claimed {
				return nil, invalidf("output key %q claimed by both %q and %q", key, owner, stage.Name)
			}
			if _, isSeed := g.seeds[key]; isSeed {
				return nil, invalidf("output key %q of stage %q shadows a seed input", key, stage.Name)
			}
			g.producers[key] = stage.Name
		}
	}

	// Second pass: derive edges from input keys.
	for _, stage := range pipeline.Stages {
		for _, key := range stage.Inputs {
			producer, ok := g.producers[key]
			if !ok {
				if _, isSeed := g.seeds[key]; isSeed {
					continue
				}
				return nil, invalidf("input %q of stage %q has no producer and is not a seed input", key, stage.Name)
			}
			if producer == stage.Name {
				return nil, invalidf("stage %q consumes its own output %q", stage.Name, key)
			}
			g.deps[stage.Name][producer] = struct{}{}
			g.dependents[producer][stage.Name] = struct{}{}
		}
	}
	logger.Debug("Build: edge derivation complete.")

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	g.order = g.topoOrder()
	logger.Debug("Build: graph construction successful.", "order", g.order)
	return g, nil
}

// Stage returns the stage definition for the given name, or nil.
func (g *Graph) Stage(name string) *config.Stage {
	return g.stages[name]
}

// Len returns the number of stages in the graph.
func (g *Graph) Len() int { return len(g.stages) }

// IsSeed reports whether the given artifact key is an externally supplied
// seed input.
func (g *Graph) IsSeed(key string) bool {
	_, ok := g.seeds[key]
	return ok
}

// Producer returns the name of the stage producing the given artifact key.
func (g *Graph) Producer(key string) (string, bool) {
	name, ok := g.producers[key]
	return name, ok
}

// Dependencies returns the sorted direct dependencies of a stage.
func (g *Graph) Dependencies(name string) []string {
	return sortedKeys(g.deps[name])
}

// Dependents returns the sorted direct dependents of a stage: the stages
// that may be newly unblocked once it completes.
func (g *Graph) Dependents(name string) []string {
	return sortedKeys(g.dependents[name])
}

// TransitiveDependents returns every stage downstream of the given one, in
// sorted order. Used for failure cascades and resume invalidation.
func (g *Graph) TransitiveDependents(name string) []string {
	visited := make(map[string]struct{})
	stack := []string{name}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for dep := range g.dependents[n] {
			if _, seen := visited[dep]; seen {
				continue
			}
			visited[dep] = struct{}{}
			stack = append(stack, dep)
		}
	}
	return sortedKeys(visited)
}

// TopoOrder returns a deterministic topological ordering of stage names
// (dependency-first, lexicographic tie-break).
func (g *Graph) TopoOrder() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// InputPath resolves the path bound to an input key: the producing stage's
// declared output path, or "" for seeds (the caller binds seed paths).
func (g *Graph) InputPath(key string) (string, bool) {
	producer, ok := g.producers[key]
	if !ok {
		return "", false
	}
	path, ok := g.stages[producer].Outputs[key]
	return path, ok
}

// topoOrder computes the canonical ordering via Kahn's algorithm with a
// lexicographic ready set. Only valid after detectCycles passed.
func (g *Graph) topoOrder() []string {
	indeg := make(map[string]int, len(g.stages))
	for name, deps := range g.deps {
		indeg[name] = len(deps)
	}

	var ready []string
	for name, d := range indeg {
		if d == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	out := make([]string, 0, len(g.stages))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)

		unblocked := false
		for _, dep := range g.Dependents(n) {
			indeg[dep]--
			if indeg[dep] == 0 {
				ready = append(ready, dep)
				unblocked = true
			}
		}
		if unblocked {
			sort.Strings(ready)
		}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
