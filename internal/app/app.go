// Package app wires the pipeline components together: it loads the stage
// definitions, populates the runnable registry, opens the per-subject
// artifact ledger and hands the assembled graph to the scheduler.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/vk/reconpipe/internal/builtin"
	"github.com/vk/reconpipe/internal/config"
	"github.com/vk/reconpipe/internal/ctxlog"
	"github.com/vk/reconpipe/internal/registry"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	PipelinePath string // .hcl file or directory
	SubjectDir   string // per-subject working directory

	LogFormat string
	LogLevel  string
	Workers   int
	Resume    bool
	// Seeds maps externally supplied artifact keys to filesystem paths.
	Seeds map[string]string
}

// coreModules are the built-in runnables registered with every App unless
// the caller injects its own set (tests do).
var coreModules = []registry.Module{
	builtin.CopyModule{},
}

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *registry.Registry
	pipeline *config.Pipeline
}

// New is the constructor for the main application. It loads the pipeline
// definition, registers runnables and validates that every stage reference
// resolves. The returned App carries its own isolated logger writing to
// errW; outW receives user-facing output like the run summary.
func New(outW, errW io.Writer, cfg *Config, loader config.Loader, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, errW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	pipeline, err := loader.Load(ctx, cfg.PipelinePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline definition: %w", err)
	}
	logger.Debug("Pipeline definition loaded.", "stages", len(pipeline.Stages))

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("Built-in runnables registered.", "count", len(modules), "names", reg.Names())

	if err := reg.Validate(ctx, pipeline); err != nil {
		return nil, fmt.Errorf("pipeline references unknown runnables: %w", err)
	}
	logger.Debug("Registry validation passed.")

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		pipeline: pipeline,
	}, nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Pipeline returns the loaded stage definitions.
func (a *App) Pipeline() *config.Pipeline {
	return a.pipeline
}

func seedKeys(seeds map[string]string) []string {
	keys := make([]string, 0, len(seeds))
	for key := range seeds {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
