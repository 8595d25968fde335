package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MontBlanc-69/onitu/internal/fid"
	"github.com/MontBlanc-69/onitu/internal/onituerr"
	"github.com/MontBlanc-69/onitu/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()

	dir := t.TempDir()

	db, err := store.Open(context.Background(), filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func TestGetPutDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, ok, err := db.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Put(ctx, "a", []byte("1")))

	v, ok, err := db.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, db.Delete(ctx, "a"))

	_, ok, err = db.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is a no-op (idempotence, ).
	require.NoError(t, db.Delete(ctx, "a"))
}

func TestRangeOrderingAndPrefix(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	keys := []string{"a:1", "a:2", "a:3", "b:1"}
	for _, k := range keys {
		require.NoError(t, db.Put(ctx, k, []byte(k)))
	}

	pairs, err := db.Collect(ctx, "a:", true)
	require.NoError(t, err)
	require.Len(t, pairs, 3)

	for i, p := range pairs {
		assert.Equal(t, keys[i], p.Key)
		assert.Equal(t, []byte(keys[i]), p.Value)
	}
}

func TestBatchAtomicity(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	b, err := db.Batch(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Put("x", []byte("1")))
	require.NoError(t, b.Put("y", []byte("2")))
	require.NoError(t, b.Commit())
	b.Rollback() // no-op after commit

	_, ok, err := db.Get(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = db.Get(ctx, "y")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBatchRollbackDiscardsUncommitted(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	b, err := db.Batch(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Put("never-committed", []byte("1")))
	b.Rollback()

	_, ok, err := db.Get(ctx, "never-committed")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreClosedIsCleanSignal(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Close())

	_, _, err := db.Get(ctx, "a")
	assert.True(t, errors.Is(err, onituerr.ErrStoreClosed))
}

func TestFileRecordRoundTripAndUptodate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	f := fid.New("/rep1", "report.txt")
	rec := &store.FileRecord{
		Fid:      f,
		Filename: "report.txt",
		Folder:   "/rep1",
		Size:     1024,
		Owners:   []string{"rep2", "rep1"},
	}

	require.NoError(t, db.PutFileRecord(ctx, rec))

	got, ok, err := db.GetFileRecord(ctx, f)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"rep1", "rep2"}, got.Owners) // sorted
	assert.Empty(t, got.Uptodate)

	require.NoError(t, db.AddUptodate(ctx, f, "rep1"))

	got, _, err = db.GetFileRecord(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, []string{"rep1"}, got.Uptodate)

	drivers, err := db.ListUptodate(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, []string{"rep1"}, drivers)

	require.NoError(t, db.RemoveUptodate(ctx, f, "rep1"))

	drivers, err = db.ListUptodate(ctx, f)
	require.NoError(t, err)
	assert.Empty(t, drivers)
}

func TestPutFileRecordRefusesFidCollision(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	f := fid.New("/rep1", "a.txt")
	require.NoError(t, db.PutFileRecord(ctx, &store.FileRecord{Fid: f, Filename: "a.txt", Folder: "/rep1"}))

	// Simulate a hash collision: same fid, different identity.
	colliding := &store.FileRecord{Fid: f, Filename: "b.txt", Folder: "/rep1"}
	err := db.PutFileRecord(ctx, colliding)
	assert.True(t, errors.Is(err, fid.ErrCollision))
}

func TestExtrasNeverMixedIntoFileListing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	f := fid.New("/rep1", "a.txt")
	require.NoError(t, db.PutFileRecord(ctx, &store.FileRecord{Fid: f, Filename: "a.txt", Folder: "/rep1"}))
	require.NoError(t, db.PutExtras(ctx, f, "rep1", store.Extras{"rev": []byte(`"abc"`)}))
	require.NoError(t, db.AddUptodate(ctx, f, "rep1"))

	recs, err := db.ListFileRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, f, recs[0].Fid)

	ex, err := db.GetExtras(ctx, f, "rep1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`"abc"`), ex["rev"])
}

func TestConflictMapRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.PutConflict(ctx, "dropbox", "Foo.txt", "Foo (1).txt"))

	ce, ok, err := db.GetConflict(ctx, "dropbox", "Foo.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Foo (1).txt", ce.RemoteName)

	list, err := db.ListConflicts(ctx, "dropbox")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Foo.txt", list[0].LocalName)

	require.NoError(t, db.DeleteConflict(ctx, "dropbox", "Foo.txt"))

	_, ok, err = db.GetConflict(ctx, "dropbox", "Foo.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCursorPersistence(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, ok, err := db.GetCursor(ctx, "s3")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.PutCursor(ctx, "s3", []byte("marker-1")))

	cur, ok, err := db.GetCursor(ctx, "s3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("marker-1"), cur)
}

func TestServicesAndRulesSnapshot(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	services := map[string]store.ServiceConfig{
		"rep1": {Driver: "localfs", Options: map[string]string{"root": "/srv/rep1"}},
	}
	require.NoError(t, db.PutServices(ctx, services))

	got, err := db.GetServices(ctx)
	require.NoError(t, err)
	assert.Equal(t, services, got)

	rules := []store.RoutingRule{{Match: "**", Sync: []string{"rep1", "rep2"}, Mode: "mirror"}}
	require.NoError(t, db.PutRules(ctx, rules))

	gotRules, err := db.GetRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, rules, gotRules)
}
