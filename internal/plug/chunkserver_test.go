package plug_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MontBlanc-69/onitu/internal/fid"
	"github.com/MontBlanc-69/onitu/internal/onituerr"
	"github.com/MontBlanc-69/onitu/internal/plug"
	"github.com/MontBlanc-69/onitu/internal/store"
)

// stubHandler implements plug.Handler, answering GetChunk from an
// in-memory byte slice keyed by fid; every other method is unused by
// the chunk server tests.
type stubHandler struct {
	content []byte
}

func (s *stubHandler) NormalizePath(_ context.Context, p string) (string, error) { return p, nil }

func (s *stubHandler) GetChunk(_ context.Context, _ *plug.Meta, offset, size int64) ([]byte, error) {
	if offset >= int64(len(s.content)) {
		return nil, nil
	}

	end := offset + size
	if end > int64(len(s.content)) {
		end = int64(len(s.content))
	}

	return s.content[offset:end], nil
}

func (s *stubHandler) StartUpload(_ context.Context, _ *plug.Meta) error { return nil }
func (s *stubHandler) UploadChunk(_ context.Context, _ *plug.Meta, _ int64, _ []byte) error {
	return nil
}
func (s *stubHandler) EndUpload(_ context.Context, _ *plug.Meta) (string, error) { return "", nil }
func (s *stubHandler) AbortUpload(_ context.Context, _ *plug.Meta) error         { return nil }
func (s *stubHandler) MoveFile(_ context.Context, _, _ string) error             { return nil }
func (s *stubHandler) DeleteFile(_ context.Context, _ *plug.Meta) error          { return nil }

func TestChunkServerHandleByFid(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	f := fid.New("/a", "fox.txt")
	require.NoError(t, db.PutFileRecord(ctx, &store.FileRecord{
		Fid: f, Folder: "/a", Filename: "fox.txt", Size: 9, Owners: []string{"rep1"},
	}))

	cs := plug.NewChunkServer(db, "rep1", &stubHandler{content: []byte("brown fox")}, nil)

	got, err := cs.Handle(ctx, f.String(), 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "brown", string(got))
}

func TestChunkServerHandleByPathFallback(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	f := fid.New("/a", "fox.txt")
	require.NoError(t, db.PutFileRecord(ctx, &store.FileRecord{
		Fid: f, Folder: "/a", Filename: "fox.txt", Size: 9, Owners: []string{"rep1"},
	}))

	cs := plug.NewChunkServer(db, "rep1", &stubHandler{content: []byte("brown fox")}, nil)

	got, err := cs.Handle(ctx, "fox.txt", 6, 3)
	require.NoError(t, err)
	assert.Equal(t, "fox", string(got))
}

// flakyHandler fails with a ServiceError the first N calls, then
// succeeds, exercising ChunkServer.Handle's retry-on-transient-failure
// path.
type flakyHandler struct {
	stubHandler
	failures int
	calls    int
}

func (f *flakyHandler) GetChunk(ctx context.Context, meta *plug.Meta, offset, size int64) ([]byte, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, onituerr.Service("get_chunk", assert.AnError)
	}

	return f.stubHandler.GetChunk(ctx, meta, offset, size)
}

func TestChunkServerHandleRetriesTransientServiceError(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	f := fid.New("/a", "fox.txt")
	require.NoError(t, db.PutFileRecord(ctx, &store.FileRecord{
		Fid: f, Folder: "/a", Filename: "fox.txt", Size: 9, Owners: []string{"rep1"},
	}))

	handler := &flakyHandler{stubHandler: stubHandler{content: []byte("brown fox")}, failures: 2}
	cs := plug.NewChunkServer(db, "rep1", handler, nil)

	got, err := cs.Handle(ctx, f.String(), 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "brown", string(got))
	assert.Equal(t, 3, handler.calls)
}

func TestChunkServerHandleGivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	f := fid.New("/a", "fox.txt")
	require.NoError(t, db.PutFileRecord(ctx, &store.FileRecord{
		Fid: f, Folder: "/a", Filename: "fox.txt", Size: 9, Owners: []string{"rep1"},
	}))

	handler := &flakyHandler{stubHandler: stubHandler{content: []byte("brown fox")}, failures: 99}
	cs := plug.NewChunkServer(db, "rep1", handler, nil)

	_, err := cs.Handle(ctx, f.String(), 0, 5)
	require.Error(t, err)
}

func TestChunkServerHandleUnknownFidFails(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	cs := plug.NewChunkServer(db, "rep1", &stubHandler{}, nil)

	_, err := cs.Handle(ctx, fid.New("/a", "missing.txt").String(), 0, 1)
	require.Error(t, err)
}
