// Package plug implements each driver's local state machine: change
// intake, per-fid serialized handler invocation, and chunk serving,
// all driven through the backend-agnostic Handler contract.
package plug

import (
	"context"

	"github.com/MontBlanc-69/onitu/internal/fid"
	"github.com/MontBlanc-69/onitu/internal/store"
)

// Meta is the handler-facing view of a file: its record plus this
// driver's private extras, merged lazily on load.
type Meta struct {
	Fid    fid.ID
	Record *store.FileRecord
	Extra  store.Extras
}

// Handler is the backend-provided contract: the full set of operations
// a driver adapter must implement. Every adapter under internal/driver
// implements this interface; the plug never talks to a backend any
// other way.
type Handler interface {
	// NormalizePath returns the canonical absolute path for p, failing
	// with a onituerr.Driver error if p is not absolute.
	NormalizePath(ctx context.Context, p string) (string, error)

	// GetChunk returns up to size bytes of meta's content starting at
	// offset. Must be reentrant: the chunk server dispatches concurrent
	// calls from a worker pool. Transient I/O
	// failures are reported as onituerr.Service and retried by the
	// caller.
	GetChunk(ctx context.Context, meta *Meta, offset, size int64) ([]byte, error)

	// StartUpload idempotently creates the target container for meta
	// and stores any backend handle in meta.Extra["upload_id"].
	StartUpload(ctx context.Context, meta *Meta) error

	// UploadChunk writes chunk at offset. offset is authoritative;
	// replay at a previously acknowledged offset must be idempotent.
	UploadChunk(ctx context.Context, meta *Meta, offset int64, chunk []byte) error

	// EndUpload commits the upload, updates meta.Extra with the
	// backend's new revision, and clears upload_id. A backend-assigned
	// committed path differing from the requested one must be recorded
	// as a conflict by the caller, not silently accepted.
	EndUpload(ctx context.Context, meta *Meta) (committedName string, err error)

	// AbortUpload idempotently clears upload_id, leaving any partial
	// remote state to backend garbage collection.
	AbortUpload(ctx context.Context, meta *Meta) error

	// MoveFile renames a file server-side where the backend supports
	// it. Backends without native rename return onituerr.ErrUnsupported
	// so the referee falls back to copy+delete.
	MoveFile(ctx context.Context, oldName, newName string) error

	// DeleteFile idempotently removes meta's backend content.
	DeleteFile(ctx context.Context, meta *Meta) error
}
