package referee_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MontBlanc-69/onitu/internal/fid"
	"github.com/MontBlanc-69/onitu/internal/referee"
	"github.com/MontBlanc-69/onitu/internal/store"
)

func TestLeasesAcquireReleaseRoundTrip(t *testing.T) {
	leases := referee.NewLeases()
	f := fid.New("/a", "b.txt")

	assert.True(t, leases.Acquire(f, "rep1"))
	assert.False(t, leases.Acquire(f, "rep1")) // already held
	assert.True(t, leases.Held(f, "rep1"))

	leases.Release(f, "rep1")
	assert.False(t, leases.Held(f, "rep1"))
	assert.True(t, leases.Acquire(f, "rep1"))
}

func TestRebuildFindsStaleTargets(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	f := fid.New("/a", "b.txt")
	require.NoError(t, db.PutFileRecord(ctx, &store.FileRecord{
		Fid: f, Folder: "/a", Filename: "b.txt", Owners: []string{"rep1", "rep2"},
	}))
	require.NoError(t, db.AddUptodate(ctx, f, "rep1"))

	_, stale, err := referee.Rebuild(ctx, db)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, f, stale[0].Fid)
}
