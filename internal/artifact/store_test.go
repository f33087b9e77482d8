package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dir
}

func writeArtifactFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStore_RecordAndLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, dir := openTestStore(t)

	path := filepath.Join(dir, "mri", "orig.mgz")
	require.NoError(t, store.Record(ctx, "conformed", path))

	status, err := store.Status(ctx, "conformed")
	require.NoError(t, err)
	assert.Equal(t, StatusMissing, status)

	require.NoError(t, store.MarkInProgress(ctx, "conformed"))
	status, err = store.Status(ctx, "conformed")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, status)

	writeArtifactFile(t, path, "voxels")
	require.NoError(t, store.MarkComplete(ctx, "conformed"))
	status, err = store.Status(ctx, "conformed")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, status)

	// Completing an already-complete artifact is a no-op, not an error.
	require.NoError(t, store.MarkComplete(ctx, "conformed"))
}

func TestStore_MarkCompleteValidatesFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, dir := openTestStore(t)

	path := filepath.Join(dir, "out.mgz")
	require.NoError(t, store.Record(ctx, "seg", path))

	// No file at all.
	err := store.MarkComplete(ctx, "seg")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "seg", verr.Key)

	// Zero-byte file counts as absent.
	writeArtifactFile(t, path, "")
	err = store.MarkComplete(ctx, "seg")
	require.ErrorAs(t, err, &verr)

	status, serr := store.Status(ctx, "seg")
	require.NoError(t, serr)
	assert.Equal(t, StatusMissing, status, "failed completion must not change status")
}

func TestStore_MarkInvalidKeepsReason(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, dir := openTestStore(t)

	require.NoError(t, store.Record(ctx, "seg", filepath.Join(dir, "out.mgz")))
	require.NoError(t, store.MarkInvalid(ctx, "seg", "exit status 1"))

	a, err := store.Get(ctx, "seg")
	require.NoError(t, err)
	assert.Equal(t, StatusInvalid, a.Status)
	assert.Equal(t, "exit status 1", a.Reason)
}

func TestStore_UnknownKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := openTestStore(t)

	_, err := store.Status(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUnknownArtifact)
	assert.ErrorIs(t, store.MarkInProgress(ctx, "ghost"), ErrUnknownArtifact)
}

func TestStore_RecordSeed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, dir := openTestStore(t)

	seedPath := filepath.Join(dir, "t1.nii.gz")

	// Seed must exist before it can be recorded.
	var verr *ValidationError
	require.ErrorAs(t, store.RecordSeed(ctx, "t1", seedPath), &verr)

	writeArtifactFile(t, seedPath, "raw scan")
	require.NoError(t, store.RecordSeed(ctx, "t1", seedPath))

	status, err := store.Status(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, status)
}

func TestStore_DurableAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)

	path := filepath.Join(dir, "out.mgz")
	writeArtifactFile(t, path, "data")
	require.NoError(t, store.Record(ctx, "seg", path))
	require.NoError(t, store.MarkComplete(ctx, "seg"))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	status, err := reopened.Status(ctx, "seg")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, status)
}

func TestStore_ReconcileDemotesStaleEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, dir := openTestStore(t)

	kept := filepath.Join(dir, "kept.mgz")
	gone := filepath.Join(dir, "gone.mgz")
	writeArtifactFile(t, kept, "data")
	writeArtifactFile(t, gone, "data")

	require.NoError(t, store.Record(ctx, "kept", kept))
	require.NoError(t, store.Record(ctx, "gone", gone))
	require.NoError(t, store.Record(ctx, "half", filepath.Join(dir, "half.mgz")))
	require.NoError(t, store.MarkComplete(ctx, "kept"))
	require.NoError(t, store.MarkComplete(ctx, "gone"))
	require.NoError(t, store.MarkInProgress(ctx, "half"))

	require.NoError(t, os.Remove(gone))

	demoted, err := store.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gone"}, demoted)

	status, _ := store.Status(ctx, "kept")
	assert.Equal(t, StatusComplete, status)
	status, _ = store.Status(ctx, "gone")
	assert.Equal(t, StatusInvalid, status)
	// A crashed producer leaves in-progress behind; reconcile resets it.
	status, _ = store.Status(ctx, "half")
	assert.Equal(t, StatusMissing, status)
}

func TestStore_Reset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, dir := openTestStore(t)

	path := filepath.Join(dir, "out.mgz")
	writeArtifactFile(t, path, "data")
	require.NoError(t, store.Record(ctx, "seg", path))
	require.NoError(t, store.MarkComplete(ctx, "seg"))

	require.NoError(t, store.Reset(ctx))

	status, err := store.Status(ctx, "seg")
	require.NoError(t, err)
	assert.Equal(t, StatusMissing, status)
}

func TestStore_RecordKeepsStatusOnPathUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, dir := openTestStore(t)

	oldPath := filepath.Join(dir, "old.mgz")
	writeArtifactFile(t, oldPath, "data")
	require.NoError(t, store.Record(ctx, "seg", oldPath))
	require.NoError(t, store.MarkComplete(ctx, "seg"))

	newPath := filepath.Join(dir, "new.mgz")
	require.NoError(t, store.Record(ctx, "seg", newPath))

	a, err := store.Get(ctx, "seg")
	require.NoError(t, err)
	assert.Equal(t, newPath, a.Path)
	assert.Equal(t, StatusComplete, a.Status)
}
