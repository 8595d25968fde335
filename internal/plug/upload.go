package plug

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/MontBlanc-69/onitu/internal/onituerr"
)

// UploadState is a stage of the chunked upload state machine: a
// generic upload_id extra plus a persisted high water mark, resumable
// across process restarts.
type UploadState int

const (
	StateIdle UploadState = iota
	StateOpening
	StateWriting
	StateCommitting
	StateCommitted
	StateAborted
)

func (s UploadState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateWriting:
		return "writing"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// extra keys persisted alongside the file record for resumability across
// process restarts.
const (
	extraUploadID    = "upload_id"
	extraHighWater   = "high_water"
	extraRev         = "rev"
	extraConflictKey = "conflict_name"
)

// ErrRevisionMismatch signals that end_upload's parent_rev disagreed
// with the backend's current revision: a newer remote version exists.
// Reported as a ServiceError without retry — the referee observes the
// newer revision on its next intake and reschedules.
var ErrRevisionMismatch = errors.New("plug: upload commit rejected: revision mismatch")

// Upload drives one file through the chunked upload state machine
// against a Handler, persisting progress into the file's Extras so a
// crash mid-transfer can resume instead of restarting from byte zero.
type Upload struct {
	handler Handler
	logger  *slog.Logger

	meta  *Meta
	state UploadState
}

// NewUpload resumes or begins an upload for meta. If meta.Extra already
// carries an upload_id, the machine starts in Writing at the persisted
// high water mark rather than Idle — this is the sole resume path.
func NewUpload(handler Handler, meta *Meta, logger *slog.Logger) *Upload {
	if logger == nil {
		logger = slog.Default()
	}

	u := &Upload{handler: handler, logger: logger, meta: meta, state: StateIdle}

	if meta.Extra != nil {
		if _, ok := meta.Extra[extraUploadID]; ok {
			u.state = StateWriting
		}
	}

	return u
}

// State returns the upload's current stage.
func (u *Upload) State() UploadState { return u.state }

// HighWaterMark returns the last acknowledged offset, or 0 if none.
func (u *Upload) HighWaterMark() int64 {
	raw, ok := u.meta.Extra[extraHighWater]
	if !ok {
		return 0
	}

	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}

	return n
}

// Open transitions Idle -> Opening -> Writing, invoking start_upload.
// Idempotent: calling Open on an already-Writing upload (the resume
// case) is a no-op.
func (u *Upload) Open(ctx context.Context) error {
	if u.state == StateWriting {
		return nil
	}

	if u.state != StateIdle {
		return fmt.Errorf("plug: upload: Open called in state %s", u.state)
	}

	u.state = StateOpening

	if err := u.handler.StartUpload(ctx, u.meta); err != nil {
		return fmt.Errorf("plug: upload: start_upload: %w", err)
	}

	u.state = StateWriting

	return nil
}

// WriteChunk advances the high-water mark by invoking upload_chunk.
// offset is authoritative; a replay below the
// current high-water mark is tolerated and treated as already-written.
func (u *Upload) WriteChunk(ctx context.Context, offset int64, chunk []byte) error {
	if u.state != StateWriting {
		return fmt.Errorf("plug: upload: WriteChunk called in state %s", u.state)
	}

	if offset < u.HighWaterMark() {
		u.logger.Debug("plug: upload: tolerating replay below high water mark",
			slog.Int64("offset", offset), slog.Int64("high_water", u.HighWaterMark()))

		return nil
	}

	if err := u.handler.UploadChunk(ctx, u.meta, offset, chunk); err != nil {
		return fmt.Errorf("plug: upload: upload_chunk at offset %d: %w", offset, err)
	}

	u.setExtra(extraHighWater, strconv.FormatInt(offset+int64(len(chunk)), 10))

	return nil
}

// Commit transitions Writing -> Committing -> Committed, invoking
// end_upload. A revision-mismatch rejection surfaces ErrRevisionMismatch
// wrapped as a ServiceError — the caller must not retry it itself.
func (u *Upload) Commit(ctx context.Context) (committedName string, err error) {
	if u.state != StateWriting {
		return "", fmt.Errorf("plug: upload: Commit called in state %s", u.state)
	}

	u.state = StateCommitting

	name, err := u.handler.EndUpload(ctx, u.meta)
	if err != nil {
		if errors.Is(err, ErrRevisionMismatch) {
			return "", onituerr.Service("plug.Upload.Commit", err)
		}

		return "", fmt.Errorf("plug: upload: end_upload: %w", err)
	}

	u.clearExtra(extraUploadID)
	u.clearExtra(extraHighWater)
	u.state = StateCommitted

	return name, nil
}

// Abort clears upload_id and transitions to Aborted, leaving partial
// remote state to backend garbage collection. Idempotent.
func (u *Upload) Abort(ctx context.Context) error {
	if u.state == StateAborted || u.state == StateCommitted {
		return nil
	}

	if err := u.handler.AbortUpload(ctx, u.meta); err != nil {
		return fmt.Errorf("plug: upload: abort_upload: %w", err)
	}

	u.clearExtra(extraUploadID)
	u.clearExtra(extraHighWater)
	u.state = StateAborted

	return nil
}

func (u *Upload) setExtra(key, value string) {
	if u.meta.Extra == nil {
		u.meta.Extra = make(map[string][]byte)
	}

	u.meta.Extra[key] = []byte(value)
}

func (u *Upload) clearExtra(key string) {
	delete(u.meta.Extra, key)
}
