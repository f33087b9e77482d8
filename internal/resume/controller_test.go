package resume

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/reconpipe/internal/artifact"
	"github.com/vk/reconpipe/internal/config"
	"github.com/vk/reconpipe/internal/dag"
)

// ledgerStub answers Status from a fixed map; unknown keys are missing.
type ledgerStub map[string]artifact.Status

func (l ledgerStub) Status(_ context.Context, key string) (artifact.Status, error) {
	if s, ok := l[key]; ok {
		return s, nil
	}
	return artifact.StatusMissing, nil
}

func diamondGraph(t *testing.T) *dag.Graph {
	t.Helper()
	stage := func(name string, inputs []string, outputs map[string]string) *config.Stage {
		return &config.Stage{Name: name, Uses: "copy", Inputs: inputs, Outputs: outputs}
	}
	pipeline := &config.Pipeline{Stages: []*config.Stage{
		stage("a", []string{"t1"}, map[string]string{"conformed": "mri/orig.mgz"}),
		stage("b_left", []string{"conformed"}, map[string]string{"surf_lh": "surf/lh.white"}),
		stage("b_right", []string{"conformed"}, map[string]string{"surf_rh": "surf/rh.white"}),
		stage("c", []string{"surf_lh", "surf_rh"}, map[string]string{"stats": "stats/aseg.stats"}),
	}}
	g, err := dag.Build(context.Background(), pipeline, []string{"t1"})
	require.NoError(t, err)
	return g
}

func TestPrune_AllComplete(t *testing.T) {
	t.Parallel()

	g := diamondGraph(t)
	ledger := ledgerStub{
		"conformed": artifact.StatusComplete,
		"surf_lh":   artifact.StatusComplete,
		"surf_rh":   artifact.StatusComplete,
		"stats":     artifact.StatusComplete,
	}

	satisfied, err := Prune(context.Background(), g, ledger)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b_left": true, "b_right": true, "c": true}, satisfied)
}

func TestPrune_InvalidatedBranchCascades(t *testing.T) {
	t.Parallel()

	g := diamondGraph(t)
	ledger := ledgerStub{
		"conformed": artifact.StatusComplete,
		"surf_lh":   artifact.StatusInvalid,
		"surf_rh":   artifact.StatusComplete,
		"stats":     artifact.StatusComplete,
	}

	satisfied, err := Prune(context.Background(), g, ledger)
	require.NoError(t, err)

	// b_left must re-run, and c with it: even though c's own output is still
	// complete on disk, its upstream changed. The untouched sibling stays
	// skipped.
	assert.True(t, satisfied["a"])
	assert.True(t, satisfied["b_right"])
	assert.False(t, satisfied["b_left"])
	assert.False(t, satisfied["c"])
}

func TestPrune_MidChainGapForcesDownstream(t *testing.T) {
	t.Parallel()

	g := diamondGraph(t)
	ledger := ledgerStub{
		"surf_lh": artifact.StatusComplete,
		"surf_rh": artifact.StatusComplete,
		"stats":   artifact.StatusComplete,
	}

	satisfied, err := Prune(context.Background(), g, ledger)
	require.NoError(t, err)
	assert.Empty(t, satisfied, "a missing root output invalidates the whole chain")
}

func TestPrune_NothingComplete(t *testing.T) {
	t.Parallel()

	satisfied, err := Prune(context.Background(), diamondGraph(t), ledgerStub{})
	require.NoError(t, err)
	assert.Empty(t, satisfied)
}
