package broker_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MontBlanc-69/onitu/internal/broker"
	"github.com/MontBlanc-69/onitu/internal/fabric"
	"github.com/MontBlanc-69/onitu/internal/fid"
	"github.com/MontBlanc-69/onitu/internal/store"
)

func waitForAddr(t *testing.T, r *fabric.Router) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for r.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("router never bound an address")
		}

		time.Sleep(5 * time.Millisecond)
	}
}

func TestGetFileConcatenatesChunks(t *testing.T) {
	ctx := context.Background()

	content := []byte("the quick brown fox jumps over the lazy dog")

	handler := func(_ context.Context, _ string, offset, size uint64) ([]byte, error) {
		if offset >= uint64(len(content)) {
			return nil, nil
		}

		end := offset + size
		if end > uint64(len(content)) {
			end = uint64(len(content))
		}

		return content[offset:end], nil
	}

	router := fabric.NewRouter(handler, 4, nil)

	rctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go router.Serve(rctx, "127.0.0.1:0") //nolint:errcheck
	waitForAddr(t, router)

	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	f := fid.New("/a", "fox.txt")
	require.NoError(t, db.PutFileRecord(ctx, &store.FileRecord{
		Fid: f, Folder: "/a", Filename: "fox.txt", Owners: []string{"rep1"},
	}))
	require.NoError(t, db.AddUptodate(ctx, f, "rep1"))
	require.NoError(t, db.PutDriverRouter(ctx, "rep1", router.Addr()))

	b := broker.New(db, nil)
	defer b.Close()

	got, err := b.GetFile(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, string(content), string(got))
}

func TestGetFileFailsWithoutHolder(t *testing.T) {
	ctx := context.Background()

	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	f := fid.New("/a", "missing.txt")
	require.NoError(t, db.PutFileRecord(ctx, &store.FileRecord{
		Fid: f, Folder: "/a", Filename: "missing.txt", Owners: []string{"rep1"},
	}))

	b := broker.New(db, nil)

	_, err = b.GetFile(ctx, f)
	require.ErrorIs(t, err, broker.ErrNoHolder)
}
