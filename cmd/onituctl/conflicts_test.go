package main

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MontBlanc-69/onitu/internal/store"
)

func openTestStore(t *testing.T) *store.DB {
	t.Helper()

	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestConflictDriversExplicitFlag(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)

	flagConflictsDriver = "onedrive"
	t.Cleanup(func() { flagConflictsDriver = "" })

	drivers, err := conflictDrivers(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"onedrive"}, drivers)
}

func TestConflictDriversFromServicesSnapshot(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)

	require.NoError(t, db.PutServices(ctx, map[string]store.ServiceConfig{
		"home":  {Driver: "localfs"},
		"cloud": {Driver: "objectstore"},
	}))

	drivers, err := conflictDrivers(ctx, db)
	require.NoError(t, err)

	sort.Strings(drivers)
	assert.Equal(t, []string{"cloud", "home"}, drivers)
}

func TestConflictsListsEntriesForPublishedService(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)

	require.NoError(t, db.PutServices(ctx, map[string]store.ServiceConfig{
		"home": {Driver: "localfs"},
	}))
	require.NoError(t, db.PutConflict(ctx, "home", "report.txt", "report (1).txt"))

	drivers, err := conflictDrivers(ctx, db)
	require.NoError(t, err)
	require.Equal(t, []string{"home"}, drivers)

	entries, err := db.ListConflicts(ctx, "home")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report (1).txt", entries[0].RemoteName)
}
