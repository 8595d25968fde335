package plug

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EventKind classifies a raw change-intake event.
type EventKind int

const (
	EventCreate EventKind = iota
	EventWrite
	EventDelete
	EventMovedFrom
	EventMovedTo
	EventMove // synthesized after pairing MovedFrom/MovedTo
)

// ChangeEvent is one raw intake notification, produced by either the
// event-driven path (fsnotify-backed adapters) or the poll-with-cursor
// path (cursor-backed adapters), and consumed uniformly downstream.
type ChangeEvent struct {
	Kind     EventKind
	Path     string // for Move, the destination path
	OldPath  string // set only for Move
	Metadata *Meta  // nil means deletion
}

// Intake turns adapter-specific raw events into a uniform downstream
// pipeline: for each surviving entry, compute the fid, fetch its
// record, and if the backend's copy is newer (or new) invoke
// plug.update_file; on deletion invoke plug.delete_file.
type Intake struct {
	logger *slog.Logger

	pairWindow time.Duration
	pending    map[string]pendingMove // path -> half-seen moved-from, keyed by OldPath
}

type pendingMove struct {
	oldPath string
	seenAt  time.Time
}

// NewIntake creates an Intake. pairWindow bounds how long a moved-from
// event waits for its moved-to counterpart before degrading to
// delete+create.
func NewIntake(pairWindow time.Duration, logger *slog.Logger) *Intake {
	if pairWindow <= 0 {
		pairWindow = 250 * time.Millisecond
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Intake{logger: logger, pairWindow: pairWindow, pending: make(map[string]pendingMove)}
}

// PairMove buffers a moved-from half-event and pairs a moved-to
// half-event with a buffered moved-from, returning a synthesized
// EventMove. Only moved-from halves are buffered: a moved-to that
// arrives with no unexpired moved-from pending is returned as
// EventCreate.
func (in *Intake) PairMove(kind EventKind, path string, meta *Meta) *ChangeEvent {
	switch kind {
	case EventMovedFrom:
		in.pending[path] = pendingMove{oldPath: path, seenAt: time.Now()}
		return nil
	case EventMovedTo:
		// A real adapter correlates moved-from/moved-to via inode or a
		// backend-provided move ID; this reference pairing takes any
		// unexpired pending moved-from (map iteration order, so not
		// necessarily the most recent). Expired ones stay pending for
		// Sweep to report as deletes.
		for oldPath, p := range in.pending {
			if time.Since(p.seenAt) > in.pairWindow {
				continue
			}

			delete(in.pending, oldPath)

			return &ChangeEvent{Kind: EventMove, Path: path, OldPath: oldPath, Metadata: meta}
		}

		return &ChangeEvent{Kind: EventCreate, Path: path, Metadata: meta}
	default:
		return &ChangeEvent{Kind: kind, Path: path, Metadata: meta}
	}
}

// Sweep degrades any moved-from half-events older than pairWindow to a
// plain delete. Callers run this periodically (e.g. once per poll tick
// or fsnotify batch).
func (in *Intake) Sweep() []ChangeEvent {
	var out []ChangeEvent

	now := time.Now()

	for path, p := range in.pending {
		if now.Sub(p.seenAt) > in.pairWindow {
			out = append(out, ChangeEvent{Kind: EventDelete, Path: path})
			delete(in.pending, path)
		}
	}

	return out
}

// PollSource is implemented by adapters that expose poll-with-cursor
// change intake, e.g. internal/driver/objectstore.
type PollSource interface {
	Poll(ctx context.Context, cursor []byte) (entries []PollEntry, nextCursor []byte, hasMore bool, err error)
}

// PollEntry is one poll-with-cursor change: Metadata nil means deletion.
type PollEntry struct {
	Path     string
	Metadata *Meta
}

// RunPoll iterates PollSource.Poll until has_more is false, returning
// the cursor only once the full iteration settles, so a crash
// mid-iteration resumes from the last-committed cursor rather than
// skipping unseen pages.
func RunPoll(ctx context.Context, src PollSource, cursor []byte, emit func(ChangeEvent)) ([]byte, error) {
	for {
		entries, next, hasMore, err := src.Poll(ctx, cursor)
		if err != nil {
			return cursor, fmt.Errorf("plug: intake: poll: %w", err)
		}

		for _, e := range entries {
			if e.Metadata == nil {
				emit(ChangeEvent{Kind: EventDelete, Path: e.Path})
				continue
			}

			emit(ChangeEvent{Kind: EventWrite, Path: e.Path, Metadata: e.Metadata})
		}

		cursor = next

		if !hasMore {
			return cursor, nil
		}
	}
}
