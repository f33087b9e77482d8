package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/reconpipe/internal/config"
	"github.com/vk/reconpipe/internal/executor"
)

func noopRunnable() executor.Runnable {
	return executor.RunnableFunc(func(ctx context.Context, inv *executor.Invocation) (*executor.Result, error) {
		return &executor.Result{}, nil
	})
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register("copy", noopRunnable())

	got, ok := r.Lookup("copy")
	require.True(t, ok)
	assert.NotNil(t, got)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"copy"}, r.Names())
}

func TestRegistry_DuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register("copy", noopRunnable())
	assert.Panics(t, func() {
		r.Register("copy", noopRunnable())
	})
}

func TestRegistry_Validate(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register("copy", noopRunnable())

	pipeline := &config.Pipeline{Stages: []*config.Stage{
		{Name: "a", Uses: "copy", Outputs: map[string]string{"x": "x.out"}},
		{Name: "b", Outputs: map[string]string{"y": "y.out"}},
	}}
	require.NoError(t, r.Validate(context.Background(), pipeline))

	pipeline.Stages[0].Uses = "typo"
	err := r.Validate(context.Background(), pipeline)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"typo"`)
	assert.Contains(t, err.Error(), `"a"`)
}
