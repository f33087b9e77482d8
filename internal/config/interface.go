package config

import "context"

// Loader is the interface for a format-specific pipeline-definition loader.
// The concrete HCL implementation lives in internal/hcl; keeping the model
// format-agnostic lets tests build pipelines directly in Go.
type Loader interface {
	// Load reads one or more definition files (or directories of files),
	// translates them into the unified model and validates each stage.
	Load(ctx context.Context, paths ...string) (*Pipeline, error)
}
