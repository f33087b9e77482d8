// Package hcl implements the config.Loader interface for HCL pipeline
// definition files.
package hcl

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/reconpipe/internal/config"
	"github.com/vk/reconpipe/internal/ctxlog"
	"github.com/vk/reconpipe/internal/fsutil"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL pipeline-definition loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file reachable from the given paths, merges all
// stage blocks into a single pipeline and validates each stage. Stage names
// must be unique across all loaded files.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Pipeline, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.ResolveFilesByExtension(paths, ".hcl")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl pipeline files found in %v", paths)
	}
	logger.Debug("Discovered pipeline files.", "count", len(files))

	parser := hclparse.NewParser()
	pipeline := &config.Pipeline{}
	seen := make(map[string]string)

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("decoding %s: %w", file, diags)
		}

		for _, raw := range root.Stages {
			if prev, dup := seen[raw.Name]; dup {
				return nil, fmt.Errorf("stage %q defined in both %s and %s", raw.Name, prev, file)
			}
			seen[raw.Name] = file

			stage, err := translateStage(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			pipeline.Stages = append(pipeline.Stages, stage)
		}
	}

	if len(pipeline.Stages) == 0 {
		return nil, errors.New("pipeline defines no stages")
	}

	logger.Debug("HCL loading complete.", "stages", len(pipeline.Stages))
	return pipeline, nil
}
