package localfs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MontBlanc-69/onitu/internal/driver/localfs"
	"github.com/MontBlanc-69/onitu/internal/plug"
	"github.com/MontBlanc-69/onitu/internal/store"
)

func TestUploadLifecycleRoundTrip(t *testing.T) {
	root := t.TempDir()

	d, err := localfs.New(root, nil)
	require.NoError(t, err)

	ctx := context.Background()
	meta := &plug.Meta{Record: &store.FileRecord{Folder: "", Filename: "a.txt"}, Extra: store.Extras{}}

	require.NoError(t, d.StartUpload(ctx, meta))
	require.NoError(t, d.UploadChunk(ctx, meta, 0, []byte("hello ")))
	require.NoError(t, d.UploadChunk(ctx, meta, 6, []byte("world")))

	committed, err := d.EndUpload(ctx, meta)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", committed)

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	chunk, err := d.GetChunk(ctx, meta, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(chunk))
}

func TestAbortUploadRemovesPartial(t *testing.T) {
	root := t.TempDir()

	d, err := localfs.New(root, nil)
	require.NoError(t, err)

	ctx := context.Background()
	meta := &plug.Meta{Record: &store.FileRecord{Filename: "b.txt"}, Extra: store.Extras{}}

	require.NoError(t, d.StartUpload(ctx, meta))
	require.NoError(t, d.AbortUpload(ctx, meta))

	_, ok := meta.Extra["upload_id"]
	assert.False(t, ok)

	_, statErr := os.Stat(filepath.Join(root, "b.txt.partial"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeleteFileIsIdempotent(t *testing.T) {
	root := t.TempDir()

	d, err := localfs.New(root, nil)
	require.NoError(t, err)

	ctx := context.Background()
	meta := &plug.Meta{Record: &store.FileRecord{Filename: "missing.txt"}}

	assert.NoError(t, d.DeleteFile(ctx, meta))
	assert.NoError(t, d.DeleteFile(ctx, meta))
}
