// Package objectstore implements a plug.Handler backed by a generic
// poll-with-cursor remote object store, addressed through a small
// RemoteStore interface any key/object backend can satisfy.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/MontBlanc-69/onitu/internal/onituerr"
	"github.com/MontBlanc-69/onitu/internal/plug"
)

// ErrNotFound is returned by a RemoteStore when the named object does
// not exist.
var ErrNotFound = errors.New("objectstore: object not found")

// ObjectMeta is the RemoteStore's view of one object: enough to drive
// change detection without exposing backend-specific fields.
type ObjectMeta struct {
	Name     string
	Size     int64
	Revision string // backend-assigned, opaque; compared for change detection
	ModNanos int64
}

// RemoteStore is the minimal backend contract this adapter needs: list
// (for cursor-paginated change polling), get-range (for chunked reads),
// put (for chunked writes, with an optimistic-concurrency parent
// revision), and delete. A concrete backend (S3-compatible object
// storage, a Dropbox-style API, etc.) implements this directly; the
// in-memory Store below is the reference/test implementation.
type RemoteStore interface {
	// Poll lists objects changed since cursor: poll(cursor) -> (entries, next_cursor, has_more).
	Poll(ctx context.Context, cursor []byte) (entries []PollEntry, next []byte, hasMore bool, err error)

	// GetRange reads up to len(buf) bytes of name's content starting at
	// offset, returning the number of bytes read.
	GetRange(ctx context.Context, name string, offset int64, buf []byte) (int, error)

	// Create idempotently creates an empty object, returning the
	// backend handle to pass to subsequent WriteRange/Commit calls.
	Create(ctx context.Context, name string) (handle string, err error)

	// WriteRange appends/overwrites chunk at offset within the named
	// in-progress object (addressed by handle).
	WriteRange(ctx context.Context, handle string, offset int64, chunk []byte) error

	// Commit finalizes the in-progress object, enforcing
	// parentRev as an optimistic-concurrency precondition (empty means
	// "no precondition"). Returns the committed name (which may differ
	// from the requested one — case folding, forced renaming) and the
	// new revision. Returns ErrRevisionMismatch-wrapping error when
	// parentRev is stale.
	Commit(ctx context.Context, handle, name, parentRev string) (committedName, newRev string, err error)

	// Abort discards an in-progress object.
	Abort(ctx context.Context, handle string) error

	// Move renames an object. Returns ErrUnsupported if the backend has
	// no native rename.
	Move(ctx context.Context, oldName, newName string) error

	// Delete idempotently removes an object.
	Delete(ctx context.Context, name string) error
}

// PollEntry is one change reported by RemoteStore.Poll.
type PollEntry struct {
	Name     string
	Metadata *ObjectMeta // nil means the object was deleted
}

// Driver implements plug.Handler against a RemoteStore.
type Driver struct {
	store  RemoteStore
	logger *slog.Logger
}

// New creates a Driver wrapping store.
func New(store RemoteStore, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{store: store, logger: logger}
}

var _ plug.Handler = (*Driver)(nil)

// NormalizePath requires an absolute path, same contract as every other
// adapter; object stores have no distinct path canonicalization beyond
// that.
func (d *Driver) NormalizePath(_ context.Context, p string) (string, error) {
	if len(p) == 0 || p[0] != '/' {
		return "", onituerr.Driver("objectstore.NormalizePath", fmt.Errorf("path %q is not absolute", p))
	}

	return p, nil
}

func objectName(meta *plug.Meta) string {
	return meta.Record.Folder + "/" + meta.Record.Filename
}

// GetChunk reads up to size bytes at offset. Reentrant: RemoteStore
// implementations must tolerate concurrent GetRange calls.
func (d *Driver) GetChunk(ctx context.Context, meta *plug.Meta, offset, size int64) ([]byte, error) {
	buf := make([]byte, size)

	n, err := d.store.GetRange(ctx, objectName(meta), offset, buf)
	if err != nil {
		return nil, onituerr.Service("objectstore.GetChunk", err)
	}

	return buf[:n], nil
}

// StartUpload idempotently creates the target object, storing the
// backend handle in extra.upload_id.
func (d *Driver) StartUpload(ctx context.Context, meta *plug.Meta) error {
	if h, ok := meta.Extra["upload_id"]; ok && len(h) > 0 {
		return nil // resuming
	}

	handle, err := d.store.Create(ctx, objectName(meta))
	if err != nil {
		return onituerr.Service("objectstore.StartUpload", err)
	}

	setExtra(meta, "upload_id", handle)

	return nil
}

// UploadChunk writes chunk at offset against the in-progress object.
func (d *Driver) UploadChunk(ctx context.Context, meta *plug.Meta, offset int64, chunk []byte) error {
	handle, ok := getExtra(meta, "upload_id")
	if !ok {
		return onituerr.Driver("objectstore.UploadChunk", errors.New("no open upload for this file"))
	}

	if err := d.store.WriteRange(ctx, handle, offset, chunk); err != nil {
		return onituerr.Service("objectstore.UploadChunk", err)
	}

	return nil
}

// EndUpload commits with parent_rev = extra.rev.
// A revision-mismatch rejection is surfaced unwrapped so the caller
// (plug.Upload.Commit) can classify it as plug.ErrRevisionMismatch.
func (d *Driver) EndUpload(ctx context.Context, meta *plug.Meta) (string, error) {
	handle, ok := getExtra(meta, "upload_id")
	if !ok {
		return "", onituerr.Driver("objectstore.EndUpload", errors.New("no open upload for this file"))
	}

	parentRev, _ := getExtra(meta, "rev")

	committed, newRev, err := d.store.Commit(ctx, handle, objectName(meta), parentRev)
	if err != nil {
		if errors.Is(err, plug.ErrRevisionMismatch) {
			return "", err
		}

		return "", onituerr.Service("objectstore.EndUpload", err)
	}

	setExtra(meta, "rev", newRev)
	clearExtra(meta, "upload_id")

	return committed, nil
}

// AbortUpload discards the in-progress object and clears upload_id.
func (d *Driver) AbortUpload(ctx context.Context, meta *plug.Meta) error {
	handle, ok := getExtra(meta, "upload_id")
	if ok {
		if err := d.store.Abort(ctx, handle); err != nil {
			return onituerr.Service("objectstore.AbortUpload", err)
		}
	}

	clearExtra(meta, "upload_id")

	return nil
}

// MoveFile delegates to the backend's native rename, where supported.
func (d *Driver) MoveFile(ctx context.Context, oldName, newName string) error {
	if err := d.store.Move(ctx, oldName, newName); err != nil {
		if errors.Is(err, onituerr.ErrUnsupported) {
			return err
		}

		return onituerr.Service("objectstore.MoveFile", err)
	}

	return nil
}

// DeleteFile idempotently removes meta's object.
func (d *Driver) DeleteFile(ctx context.Context, meta *plug.Meta) error {
	if err := d.store.Delete(ctx, objectName(meta)); err != nil {
		return onituerr.Service("objectstore.DeleteFile", err)
	}

	return nil
}

func setExtra(meta *plug.Meta, key, value string) {
	if meta.Extra == nil {
		meta.Extra = make(map[string][]byte)
	}

	meta.Extra[key] = []byte(value)
}

func getExtra(meta *plug.Meta, key string) (string, bool) {
	v, ok := meta.Extra[key]
	return string(v), ok
}

func clearExtra(meta *plug.Meta, key string) {
	delete(meta.Extra, key)
}

// memObject is the in-memory reference store's internal representation
// of one committed or in-progress object.
type memObject struct {
	data []byte
	rev  int
}

// Store is an in-memory RemoteStore reference implementation, used by
// tests and as a demonstration backend. It is not wired to any network
// transport.
type Store struct {
	mu        sync.Mutex
	objects   map[string]*memObject
	pending   map[string]*bytes.Buffer
	changeLog []PollEntry
}

// NewStore creates an empty in-memory Store.
func NewStore() *Store {
	return &Store{objects: make(map[string]*memObject), pending: make(map[string]*bytes.Buffer)}
}

var _ RemoteStore = (*Store)(nil)

func (s *Store) Poll(_ context.Context, cursor []byte) ([]PollEntry, []byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if len(cursor) > 0 {
		start = int(cursor[0])
	}

	if start >= len(s.changeLog) {
		return nil, cursor, false, nil
	}

	entries := s.changeLog[start:]
	next := []byte{byte(len(s.changeLog))}

	return entries, next, false, nil
}

func (s *Store) Create(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[name] = &bytes.Buffer{}

	return name, nil
}

func (s *Store) WriteRange(_ context.Context, handle string, offset int64, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.pending[handle]
	if !ok {
		return fmt.Errorf("objectstore: no pending upload %q", handle)
	}

	if int64(buf.Len()) < offset {
		buf.Write(make([]byte, offset-int64(buf.Len())))
	}

	data := buf.Bytes()
	if int64(len(data)) < offset+int64(len(chunk)) {
		data = append(data, make([]byte, offset+int64(len(chunk))-int64(len(data)))...)
	}

	copy(data[offset:], chunk)
	s.pending[handle] = bytes.NewBuffer(data)

	return nil
}

func (s *Store) Commit(_ context.Context, handle, name, parentRev string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.pending[handle]
	if !ok {
		return "", "", fmt.Errorf("objectstore: no pending upload %q", handle)
	}

	existing, hasExisting := s.objects[name]
	if hasExisting && parentRev != "" && parentRev != revString(existing.rev) {
		return "", "", fmt.Errorf("%w: have %s, want %s", plug.ErrRevisionMismatch, revString(existing.rev), parentRev)
	}

	rev := 1
	if hasExisting {
		rev = existing.rev + 1
	}

	s.objects[name] = &memObject{data: buf.Bytes(), rev: rev}
	delete(s.pending, handle)

	s.changeLog = append(s.changeLog, PollEntry{
		Name:     name,
		Metadata: &ObjectMeta{Name: name, Size: int64(len(buf.Bytes())), Revision: revString(rev)},
	})

	return name, revString(rev), nil
}

func (s *Store) Abort(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, handle)

	return nil
}

func (s *Store) Move(_ context.Context, oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[oldName]
	if !ok {
		return ErrNotFound
	}

	delete(s.objects, oldName)
	s.objects[newName] = obj
	s.changeLog = append(s.changeLog, PollEntry{Name: oldName, Metadata: nil})
	s.changeLog = append(s.changeLog, PollEntry{
		Name:     newName,
		Metadata: &ObjectMeta{Name: newName, Size: int64(len(obj.data)), Revision: revString(obj.rev)},
	})

	return nil
}

func (s *Store) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[name]; !ok {
		return nil
	}

	delete(s.objects, name)
	s.changeLog = append(s.changeLog, PollEntry{Name: name, Metadata: nil})

	return nil
}

func (s *Store) GetRange(_ context.Context, name string, offset int64, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[name]
	if !ok {
		return 0, ErrNotFound
	}

	r := bytes.NewReader(obj.data)
	n, err := r.ReadAt(buf, offset)

	if err != nil && errors.Is(err, io.EOF) {
		return n, nil
	}

	return n, err
}

func revString(rev int) string {
	return fmt.Sprintf("rev-%d", rev)
}
