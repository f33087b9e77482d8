// Package cli exposes the reconpipe commands: run, validate and status.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	LogLevel  string
	LogFormat string
}

// ValidLogLevels defines the allowed values for --log-level.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// NewRootCommand creates the root command for the reconpipe CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "reconpipe",
		Short: "Dependency-aware pipeline runner for multi-stage subject processing",
		Long: `reconpipe runs multi-stage processing pipelines defined in HCL.

Stages declare their input and output artifacts; reconpipe derives the
dependency graph, runs independent branches concurrently and records every
artifact in a per-subject ledger so interrupted runs resume where they
stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.LogLevel = strings.ToLower(opts.LogLevel)
			if !contains(ValidLogLevels, opts.LogLevel) {
				return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("invalid log-level %q: must be one of %v", opts.LogLevel, ValidLogLevels)}
			}
			opts.LogFormat = strings.ToLower(opts.LogFormat)
			if opts.LogFormat != "text" && opts.LogFormat != "json" {
				return &ExitError{Code: ExitCommandError, Message: "invalid log-format: must be 'text' or 'json'"}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "logging level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log output format (text|json)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// parseSeeds splits repeated key=path flags into a map.
func parseSeeds(pairs []string) (map[string]string, error) {
	seeds := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, path, ok := strings.Cut(pair, "=")
		if !ok || key == "" || path == "" {
			return nil, fmt.Errorf("invalid --seed %q: expected key=path", pair)
		}
		if _, dup := seeds[key]; dup {
			return nil, fmt.Errorf("duplicate --seed key %q", key)
		}
		seeds[key] = path
	}
	return seeds, nil
}
