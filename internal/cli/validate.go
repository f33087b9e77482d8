package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vk/reconpipe/internal/app"
	"github.com/vk/reconpipe/internal/hcl"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Seeds []string
}

// NewValidateCommand creates the validate command. It builds the dependency
// graph and prints the execution plan without running anything, so pipeline
// authors catch cycles, duplicate outputs and dangling inputs early.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <pipeline.hcl|dir>",
		Short: "Check a pipeline definition and print its execution plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validatePipeline(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringArrayVar(&opts.Seeds, "seed", nil, "seed artifact key, or key=path (repeatable)")

	return cmd
}

func validatePipeline(cmd *cobra.Command, opts *ValidateOptions, pipelinePath string) error {
	// Validation only needs the keys; tolerate bare keys without paths.
	var seedKeys []string
	seen := map[string]bool{}
	for _, pair := range opts.Seeds {
		key, _, _ := strings.Cut(pair, "=")
		if key == "" {
			return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("invalid --seed %q", pair)}
		}
		if !seen[key] {
			seen[key] = true
			seedKeys = append(seedKeys, key)
		}
	}

	cfg := &app.Config{
		PipelinePath: pipelinePath,
		LogFormat:    opts.LogFormat,
		LogLevel:     opts.LogLevel,
	}
	a, err := app.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, hcl.NewLoader())
	if err != nil {
		return WrapExitError(ExitCommandError, "validation failed", err)
	}

	plan, err := a.Plan(context.Background(), seedKeys)
	if err != nil {
		return WrapExitError(ExitCommandError, "validation failed", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "pipeline valid: %d stage(s)\n", len(plan))
	for i, name := range plan {
		stage := a.Pipeline().Stage(name)
		fmt.Fprintf(cmd.OutOrStdout(), "%3d. %s (class=%s", i+1, name, stage.Class)
		if stage.Hemi != "none" {
			fmt.Fprintf(cmd.OutOrStdout(), ", hemi=%s", stage.Hemi)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ")")
	}
	return nil
}
