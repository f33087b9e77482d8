// Package registry maps runnable names to in-process stage implementations.
// Stages that declare `uses = "<name>"` instead of a `run` command are
// dispatched to the registered Runnable of that name.
package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/reconpipe/internal/config"
	"github.com/vk/reconpipe/internal/ctxlog"
	"github.com/vk/reconpipe/internal/executor"
)

// Module is the interface builtin modules implement to self-register.
type Module interface {
	Register(r *Registry)
}

// Registry holds the named in-process runnables for a single App instance.
type Registry struct {
	runnables map[string]executor.Runnable
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{runnables: make(map[string]executor.Runnable)}
}

// Register binds a name to a runnable. Re-registering a name panics: two
// modules claiming the same name is a programmer error, not a runtime
// condition.
func (r *Registry) Register(name string, runnable executor.Runnable) {
	if _, exists := r.runnables[name]; exists {
		panic(fmt.Sprintf("registry: runnable %q registered twice", name))
	}
	r.runnables[name] = runnable
}

// Lookup returns the runnable registered under the given name.
func (r *Registry) Lookup(name string) (executor.Runnable, bool) {
	runnable, ok := r.runnables[name]
	return runnable, ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.runnables))
	for name := range r.runnables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks that every `uses` reference in the pipeline resolves to a
// registered runnable. Run before scheduling so a typo fails at startup,
// not three hours into a reconstruction.
func (r *Registry) Validate(ctx context.Context, pipeline *config.Pipeline) error {
	logger := ctxlog.FromContext(ctx)
	for _, stage := range pipeline.Stages {
		if stage.Uses == "" {
			continue
		}
		if _, ok := r.runnables[stage.Uses]; !ok {
			return fmt.Errorf("stage %q uses unregistered runnable %q (registered: %v)", stage.Name, stage.Uses, r.Names())
		}
	}
	logger.Debug("Registry validation passed.", "runnables", r.Names())
	return nil
}
