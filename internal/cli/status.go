package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vk/reconpipe/internal/artifact"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	SubjectDir string
}

// NewStatusCommand creates the status command: it prints every artifact in
// the subject's ledger with its current status. Useful for checking on a
// long run from another terminal, or inspecting what a crashed run left
// behind before resuming.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-artifact ledger status for a subject",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.SubjectDir, "subject-dir", "", "per-subject working directory (required)")
	_ = cmd.MarkFlagRequired("subject-dir")

	return cmd
}

func showStatus(cmd *cobra.Command, opts *StatusOptions) error {
	store, err := artifact.Open(opts.SubjectDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening artifact ledger", err)
	}
	defer store.Close()

	artifacts, err := store.All(context.Background())
	if err != nil {
		return WrapExitError(ExitCommandError, "reading artifact ledger", err)
	}
	if len(artifacts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "ledger is empty")
		return nil
	}

	width := len("ARTIFACT")
	for _, a := range artifacts {
		if len(a.Key) > width {
			width = len(a.Key)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%-*s  %-12s  %s\n", width, "ARTIFACT", "STATUS", "PATH")
	for _, a := range artifacts {
		fmt.Fprintf(cmd.OutOrStdout(), "%-*s  %-12s  %s\n", width, a.Key, a.Status, a.Path)
		if a.Status == artifact.StatusInvalid && a.Reason != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%-*s  reason: %s\n", width, "", a.Reason)
		}
	}
	return nil
}
