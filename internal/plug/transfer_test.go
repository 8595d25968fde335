package plug_test

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MontBlanc-69/onitu/internal/fabric"
	"github.com/MontBlanc-69/onitu/internal/fid"
	"github.com/MontBlanc-69/onitu/internal/plug"
	"github.com/MontBlanc-69/onitu/internal/store"
)

// uploadingHandler implements plug.Handler as the target side of an
// applied transfer: GetChunk is unused, StartUpload/UploadChunk/
// EndUpload record every call into an in-memory buffer so a test can
// assert exactly which bytes were written and in what order.
type uploadingHandler struct {
	stubHandler

	mu       sync.Mutex
	uploadID string
	writes   []uploadCall
	buf      []byte
}

type uploadCall struct {
	offset int64
	chunk  []byte
}

func (u *uploadingHandler) StartUpload(_ context.Context, meta *plug.Meta) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := meta.Extra["upload_id"]; !ok {
		meta.Extra["upload_id"] = []byte("upload-1")
	}

	u.uploadID = string(meta.Extra["upload_id"])

	return nil
}

func (u *uploadingHandler) UploadChunk(_ context.Context, _ *plug.Meta, offset int64, chunk []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.writes = append(u.writes, uploadCall{offset: offset, chunk: append([]byte(nil), chunk...)})

	if need := offset + int64(len(chunk)); int64(len(u.buf)) < need {
		grown := make([]byte, need)
		copy(grown, u.buf)
		u.buf = grown
	}

	copy(u.buf[offset:], chunk)

	return nil
}

func (u *uploadingHandler) EndUpload(_ context.Context, meta *plug.Meta) (string, error) {
	delete(meta.Extra, "upload_id")
	u.uploadID = ""

	return meta.Record.Folder + "/" + meta.Record.Filename, nil
}

func sizeFrame(n int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))

	return buf
}

func startSourceRouter(t *testing.T, db *store.DB, driver string, content []byte) {
	t.Helper()

	cs := plug.NewChunkServer(db, driver, &stubHandler{content: content}, nil)
	router := cs.Router(4)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go router.Serve(ctx, "127.0.0.1:0") //nolint:errcheck

	deadline := time.Now().Add(2 * time.Second)
	for router.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("source router never bound an address")
		}

		time.Sleep(5 * time.Millisecond)
	}

	require.NoError(t, db.PutDriverRouter(context.Background(), driver, router.Addr()))
}

func TestHandleCommandTransferAppliesFullFile(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	content := []byte("the quick brown fox jumps over the lazy dog")
	f := fid.New("/a", "fox.txt")

	require.NoError(t, db.PutFileRecord(ctx, &store.FileRecord{
		Fid: f, Folder: "/a", Filename: "fox.txt", Size: int64(len(content)), Owners: []string{"rep1", "rep2"},
	}))
	require.NoError(t, db.AddUptodate(ctx, f, "rep1"))

	startSourceRouter(t, db, "rep1", content)

	target := &uploadingHandler{}
	p := plug.New(plug.Config{DB: db, Driver: "rep2", Handler: target})

	_, err := p.HandleCommand(ctx,
		[][]byte{{fabric.CmdTransfer}, f[:], []byte("rep1"), sizeFrame(int64(len(content)))})
	require.NoError(t, err)

	assert.Equal(t, content, target.buf)
	assert.Empty(t, target.uploadID, "upload_id should be cleared once committed in memory")

	extra, err := db.GetExtras(ctx, f, "rep2")
	require.NoError(t, err)
	_, stillOpen := extra["upload_id"]
	assert.False(t, stillOpen, "persisted upload state must be cleared on commit")

	uptodate, err := db.ListUptodate(ctx, f)
	require.NoError(t, err)
	assert.Contains(t, uptodate, "rep2")
}

func TestHandleCommandTransferResumesFromPersistedHighWaterMark(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	content := []byte("the quick brown fox jumps over the lazy dog")
	f := fid.New("/a", "fox.txt")

	require.NoError(t, db.PutFileRecord(ctx, &store.FileRecord{
		Fid: f, Folder: "/a", Filename: "fox.txt", Size: int64(len(content)), Owners: []string{"rep1", "rep2"},
	}))
	require.NoError(t, db.AddUptodate(ctx, f, "rep1"))

	startSourceRouter(t, db, "rep1", content)

	const resumeFrom = 20

	require.NoError(t, db.PutExtras(ctx, f, "rep2", store.Extras{
		"upload_id":  []byte("upload-1"),
		"high_water": []byte(fmt.Sprintf("%d", resumeFrom)),
	}))

	target := &uploadingHandler{}
	p := plug.New(plug.Config{DB: db, Driver: "rep2", Handler: target})

	_, err := p.HandleCommand(ctx,
		[][]byte{{fabric.CmdTransfer}, f[:], []byte("rep1"), sizeFrame(int64(len(content)))})
	require.NoError(t, err)

	require.NotEmpty(t, target.writes)
	assert.Equal(t, int64(resumeFrom), target.writes[0].offset,
		"first upload_chunk call must start at the persisted high water mark, not byte zero")

	assert.Equal(t, content[resumeFrom:], target.buf[resumeFrom:])
}
