package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/vk/reconpipe/internal/cli"
)

// main is the entrypoint for the reconpipe application.
func main() {
	// Minimal logger until a command configures the real one.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
