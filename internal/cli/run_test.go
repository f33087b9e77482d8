package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// execute runs the root command with the given args and returns stdout and
// the command error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const chainPipeline = `
stage "first" {
  inputs  = ["raw"]
  outputs = { mid = "out/mid.txt" }
  run     = "cat ${in.raw} > ${out.mid}"
}

stage "second" {
  inputs  = ["mid"]
  outputs = { final = "out/final.txt" }
  run     = "printf 'final from %s' \"$(cat ${in.mid})\" > ${out.final}"
}
`

func TestRunCommand_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	pipelinePath := filepath.Join(dir, "pipeline.hcl")
	writeFile(t, pipelinePath, chainPipeline)

	seedPath := filepath.Join(dir, "raw.txt")
	writeFile(t, seedPath, "scan data")
	subjectDir := filepath.Join(dir, "subject")

	out, err := execute(t,
		"run", pipelinePath,
		"--subject-dir", subjectDir,
		"--seed", "raw="+seedPath,
	)
	require.NoError(t, err)

	data, readErr := os.ReadFile(filepath.Join(subjectDir, "out", "final.txt"))
	require.NoError(t, readErr)
	assert.Equal(t, "final from scan data", string(data))

	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")
	assert.Contains(t, out, "done")
}

func TestRunCommand_FailurePropagatesExitCode(t *testing.T) {
	dir := t.TempDir()
	pipelinePath := filepath.Join(dir, "pipeline.hcl")
	writeFile(t, pipelinePath, `
stage "broken" {
  outputs = { x = "out/x.txt" }
  run     = "exit 7"
}
`)

	_, err := execute(t, "run", pipelinePath, "--subject-dir", filepath.Join(dir, "subject"))
	require.Error(t, err)
	assert.Equal(t, ExitStageFailure, GetExitCode(err))
}

func TestRunCommand_BadSeedFlag(t *testing.T) {
	dir := t.TempDir()
	pipelinePath := filepath.Join(dir, "pipeline.hcl")
	writeFile(t, pipelinePath, chainPipeline)

	_, err := execute(t,
		"run", pipelinePath,
		"--subject-dir", filepath.Join(dir, "subject"),
		"--seed", "no-equals-sign",
	)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommand_GraphErrorIsCommandError(t *testing.T) {
	dir := t.TempDir()
	pipelinePath := filepath.Join(dir, "pipeline.hcl")
	// "mid" has no producer and no seed is supplied.
	writeFile(t, pipelinePath, `
stage "second" {
  inputs  = ["mid"]
  outputs = { final = "out/final.txt" }
  run     = "true"
}
`)

	_, err := execute(t, "run", pipelinePath, "--subject-dir", filepath.Join(dir, "subject"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateCommand_PrintsPlan(t *testing.T) {
	dir := t.TempDir()
	pipelinePath := filepath.Join(dir, "pipeline.hcl")
	writeFile(t, pipelinePath, chainPipeline)

	out, err := execute(t, "validate", pipelinePath, "--seed", "raw")
	require.NoError(t, err)
	assert.Contains(t, out, "pipeline valid: 2 stage(s)")
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")
}

func TestValidateCommand_ReportsCycle(t *testing.T) {
	dir := t.TempDir()
	pipelinePath := filepath.Join(dir, "pipeline.hcl")
	writeFile(t, pipelinePath, `
stage "a" {
  inputs  = ["y"]
  outputs = { x = "x.out" }
  run     = "true"
}

stage "b" {
  inputs  = ["x"]
  outputs = { y = "y.out" }
  run     = "true"
}
`)

	_, err := execute(t, "validate", pipelinePath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "cycle")
}

func TestStatusCommand_ShowsLedger(t *testing.T) {
	dir := t.TempDir()
	pipelinePath := filepath.Join(dir, "pipeline.hcl")
	writeFile(t, pipelinePath, chainPipeline)

	seedPath := filepath.Join(dir, "raw.txt")
	writeFile(t, seedPath, "scan data")
	subjectDir := filepath.Join(dir, "subject")

	_, err := execute(t,
		"run", pipelinePath,
		"--subject-dir", subjectDir,
		"--seed", "raw="+seedPath,
	)
	require.NoError(t, err)

	out, err := execute(t, "status", "--subject-dir", subjectDir)
	require.NoError(t, err)
	assert.Contains(t, out, "mid")
	assert.Contains(t, out, "final")
	assert.Contains(t, out, "complete")
}

func TestStatusCommand_EmptyLedger(t *testing.T) {
	out, err := execute(t, "status", "--subject-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "ledger is empty")
}

func TestRootCommand_RejectsBadLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "chatty", "status", "--subject-dir", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitStageFailure, GetExitCode(&ExitError{Code: ExitStageFailure}))
	assert.Equal(t, ExitCommandError, GetExitCode(errors.New("unknown flag")))
}

func TestParseSeeds(t *testing.T) {
	t.Parallel()

	seeds, err := parseSeeds([]string{"t1=/data/t1.nii.gz", "t2=/data/t2.nii.gz"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"t1": "/data/t1.nii.gz", "t2": "/data/t2.nii.gz"}, seeds)

	_, err = parseSeeds([]string{"bare"})
	assert.Error(t, err)

	_, err = parseSeeds([]string{"t1=/a", "t1=/b"})
	assert.ErrorContains(t, err, "duplicate")
}
