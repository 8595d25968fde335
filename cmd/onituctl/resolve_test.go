package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveClearsConflictEntry(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)

	require.NoError(t, db.PutConflict(ctx, "home", "report.txt", "report (1).txt"))

	entry, ok, err := db.GetConflict(ctx, "home", "report.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "report (1).txt", entry.RemoteName)

	require.NoError(t, db.DeleteConflict(ctx, "home", "report.txt"))

	_, ok, err = db.GetConflict(ctx, "home", "report.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveUnknownConflictNotFound(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)

	_, ok, err := db.GetConflict(ctx, "home", "missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}
