package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vk/reconpipe/internal/app"
	"github.com/vk/reconpipe/internal/hcl"
	"github.com/vk/reconpipe/internal/scheduler"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	SubjectDir string
	Seeds      []string
	Workers    int
	Resume     bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <pipeline.hcl|dir>",
		Short: "Execute a pipeline against a subject directory",
		Long: `Execute the pipeline against a subject directory.

Stage outputs and logs are written under the subject directory, and every
artifact's status is tracked in its ledger. With --resume, stages whose
outputs are already complete (and whose entire upstream chain is complete)
are skipped; without it, prior ledger state is reset and everything re-runs.

Example:
  reconpipe run --subject-dir ./subjects/sub-01 --seed t1=./raw/sub-01_T1w.nii.gz examples/recon.hcl
  reconpipe run --subject-dir ./subjects/sub-01 --seed t1=./raw/sub-01_T1w.nii.gz --resume examples/recon.hcl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.SubjectDir, "subject-dir", "", "per-subject working directory (required)")
	cmd.Flags().StringArrayVar(&opts.Seeds, "seed", nil, "seed artifact as key=path (repeatable)")
	cmd.Flags().IntVar(&opts.Workers, "workers", scheduler.DefaultWorkers, "global concurrency budget")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "skip stages already satisfied by a prior run")
	_ = cmd.MarkFlagRequired("subject-dir")

	return cmd
}

func runPipeline(cmd *cobra.Command, opts *RunOptions, pipelinePath string) error {
	seeds, err := parseSeeds(opts.Seeds)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: err.Error()}
	}
	// Seed paths are relative to the caller's cwd, not the subject dir.
	for key, path := range seeds {
		abs, err := filepath.Abs(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "resolving seed path", err)
		}
		seeds[key] = abs
	}

	cfg := &app.Config{
		PipelinePath: pipelinePath,
		SubjectDir:   opts.SubjectDir,
		LogFormat:    opts.LogFormat,
		LogLevel:     opts.LogLevel,
		Workers:      opts.Workers,
		Resume:       opts.Resume,
		Seeds:        seeds,
	}

	a, err := app.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, hcl.NewLoader())
	if err != nil {
		return WrapExitError(ExitCommandError, "startup failed", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := a.Run(ctx, cfg); err != nil {
		var runErr *scheduler.RunError
		if errors.As(err, &runErr) || errors.Is(err, context.Canceled) {
			return WrapExitError(ExitStageFailure, "run failed", err)
		}
		return WrapExitError(ExitCommandError, "run aborted", err)
	}
	return nil
}
