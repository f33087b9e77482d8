package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/reconpipe/internal/ctxlog"
)

// CommandRunner executes a stage's `run` expression as a shell command.
//
// The expression is evaluated against an EvalContext exposing the bound
// artifact paths (`in.<key>`, `out.<key>`) and the subject directory, then
// handed to `sh -c`. Stdout and stderr are captured to the stage's log
// artifact. The command runs in its own process group so a timeout or
// cancellation kills the whole tool process tree, not just the shell.
type CommandRunner struct{}

// NewCommandRunner creates a runner for external command stages.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{}
}

// Run implements Runnable.
func (r *CommandRunner) Run(ctx context.Context, inv *Invocation) (*Result, error) {
	logger := ctxlog.FromContext(ctx)

	cmdStr, err := renderCommand(inv)
	if err != nil {
		return nil, fmt.Errorf("stage %q: %w", inv.Stage.Name, err)
	}
	logger.Debug("Command rendered.", "command", cmdStr)

	if err := prepareOutputDirs(inv); err != nil {
		return nil, err
	}

	logFile, err := openLog(inv.LogPath)
	if err != nil {
		return nil, fmt.Errorf("stage %q: opening log: %w", inv.Stage.Name, err)
	}
	defer logFile.Close()

	runCtx := ctx
	var cancel context.CancelFunc
	if inv.Stage.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Stage.Timeout)
		defer cancel()
	}

	cmd := exec.Command("sh", "-c", cmdStr)
	cmd.Dir = inv.SubjectDir
	cmd.Env = commandEnv(inv.Stage.Env)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// Own process group: the timeout kill must reach grandchildren spawned
	// by wrapper scripts around the actual tools.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("stage %q: starting command: %w", inv.Stage.Name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case <-runCtx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		duration := time.Since(start)
		cause := runCtx.Err()
		if cause == context.DeadlineExceeded {
			cause = ErrTimeout
		}
		return &Result{ExitCode: -1, Duration: duration}, &StageFailure{
			Stage:    inv.Stage.Name,
			ExitCode: -1,
			LogPath:  inv.LogPath,
			Cause:    cause,
		}
	case waitErr = <-done:
	}
	duration := time.Since(start)

	exitCode := 0
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("stage %q: running command: %w", inv.Stage.Name, waitErr)
		}
		exitCode = exitErr.ExitCode()
	}

	result := &Result{
		ExitCode:      exitCode,
		Duration:      duration,
		ProducedPaths: producedPaths(inv),
	}
	if exitCode != 0 {
		return result, &StageFailure{
			Stage:    inv.Stage.Name,
			ExitCode: exitCode,
			LogPath:  inv.LogPath,
		}
	}
	return result, nil
}

// renderCommand evaluates the stage's run expression with the bound paths.
func renderCommand(inv *Invocation) (string, error) {
	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"in":      pathsObject(inv.Inputs),
			"out":     pathsObject(inv.Outputs),
			"subject": cty.StringVal(inv.SubjectDir),
		},
	}

	val, diags := inv.Stage.Run.Value(evalCtx)
	if diags.HasErrors() {
		return "", fmt.Errorf("evaluating run expression: %w", diags)
	}
	if val.Type() != cty.String || val.IsNull() {
		return "", fmt.Errorf("run expression must produce a string, got %s", val.Type().FriendlyName())
	}
	return val.AsString(), nil
}

func pathsObject(paths map[string]string) cty.Value {
	if len(paths) == 0 {
		return cty.EmptyObjectVal
	}
	vals := make(map[string]cty.Value, len(paths))
	for key, path := range paths {
		vals[key] = cty.StringVal(path)
	}
	return cty.ObjectVal(vals)
}

// commandEnv layers the stage's declared variables over the inherited
// environment. Neuroimaging tools need their toolchain setup (PATH,
// FREESURFER_HOME and the like), so unlike a hermetic build runner we do
// not start from an empty environment.
func commandEnv(declared map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(declared))
	for k := range declared {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+declared[k])
	}
	return env
}

func prepareOutputDirs(inv *Invocation) error {
	for key, path := range inv.Outputs {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("stage %q: creating directory for output %q: %w", inv.Stage.Name, key, err)
		}
	}
	return nil
}

func producedPaths(inv *Invocation) []string {
	var out []string
	for _, path := range inv.Outputs {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}
