package plug_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MontBlanc-69/onitu/internal/plug"
	"github.com/MontBlanc-69/onitu/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()

	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestConflictMapResolveUnrecordedNamePassesThrough(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	cm := plug.NewConflictMap(db, "rep1", nil)

	got, err := cm.Resolve(ctx, "report.txt")
	require.NoError(t, err)
	assert.Equal(t, "report.txt", got)
}

func TestConflictMapRecordThenResolve(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	cm := plug.NewConflictMap(db, "rep1", nil)

	require.NoError(t, cm.Record(ctx, "report.txt", "report (1).txt"))

	got, err := cm.Resolve(ctx, "report.txt")
	require.NoError(t, err)
	assert.Equal(t, "report (1).txt", got)

	entries, err := cm.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report.txt", entries[0].LocalName)
	assert.Equal(t, "report (1).txt", entries[0].RemoteName)
}

func TestConflictMapRecordSameNameIsNoop(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	cm := plug.NewConflictMap(db, "rep1", nil)

	require.NoError(t, cm.Record(ctx, "report.txt", "report.txt"))

	entries, err := cm.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConflictMapClear(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	cm := plug.NewConflictMap(db, "rep1", nil)

	require.NoError(t, cm.Record(ctx, "report.txt", "report (1).txt"))
	require.NoError(t, cm.Clear(ctx, "report.txt"))

	got, err := cm.Resolve(ctx, "report.txt")
	require.NoError(t, err)
	assert.Equal(t, "report.txt", got)
}
