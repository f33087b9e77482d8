// Package builtin ships the in-process runnables registered with every App
// instance. They cover plumbing stages that would be wasteful to shell out
// for, and give tests cheap stand-ins for heavyweight tools.
package builtin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/reconpipe/internal/executor"
	"github.com/vk/reconpipe/internal/registry"
)

// CopyModule registers the "copy" runnable: it copies the stage's single
// input artifact to every declared output path. Useful for passthrough
// stages and for stubbing out a tool while wiring up a pipeline.
type CopyModule struct{}

// Register implements registry.Module.
func (CopyModule) Register(r *registry.Registry) {
	r.Register("copy", executor.RunnableFunc(runCopy))
}

func runCopy(ctx context.Context, inv *executor.Invocation) (*executor.Result, error) {
	start := time.Now()

	if len(inv.Inputs) != 1 {
		return nil, fmt.Errorf("stage %q: copy requires exactly one input, got %d", inv.Stage.Name, len(inv.Inputs))
	}
	var src string
	for _, path := range inv.Inputs {
		src = path
	}

	var produced []string
	for key, dst := range inv.Outputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("stage %q: copying to output %q: %w", inv.Stage.Name, key, err)
		}
		produced = append(produced, dst)
	}

	return &executor.Result{
		ExitCode:      0,
		Duration:      time.Since(start),
		ProducedPaths: produced,
	}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := out.Name()
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmpName)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	// Atomic rename so a dependent never observes a half-written artifact.
	return os.Rename(tmpName, dst)
}
