package referee

import (
	"context"
	"fmt"
	stdsync "sync"

	"github.com/MontBlanc-69/onitu/internal/fid"
	"github.com/MontBlanc-69/onitu/internal/store"
)

// leaseKey identifies one outstanding transfer: a (fid, target) pair
// may have at most one in-flight TRANSFER at a time.
type leaseKey struct {
	fid    fid.ID
	target string
}

// Leases tracks outstanding (fid, target) transfers in memory: the set
// of transfers the referee has already ordered but not yet seen
// TRANSFER_COMPLETE for. A Leases set is stateless across restart:
// Rebuild reconstructs it by scanning the store rather than persisting
// leases themselves.
type Leases struct {
	mu    stdsync.Mutex
	inUse map[leaseKey]struct{}
}

// NewLeases creates an empty lease table.
func NewLeases() *Leases {
	return &Leases{inUse: make(map[leaseKey]struct{})}
}

// Acquire reports whether a lease for (f, target) was newly taken. A
// false return means a transfer is already outstanding and the caller
// must not issue a duplicate TRANSFER.
func (l *Leases) Acquire(f fid.ID, target string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := leaseKey{fid: f, target: target}
	if _, ok := l.inUse[key]; ok {
		return false
	}

	l.inUse[key] = struct{}{}

	return true
}

// Release clears a lease, called on TRANSFER_COMPLETE or when a
// transfer is abandoned (e.g. the target driver disconnects).
func (l *Leases) Release(f fid.ID, target string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.inUse, leaseKey{fid: f, target: target})
}

// Held reports whether a lease is currently outstanding.
func (l *Leases) Held(f fid.ID, target string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.inUse[leaseKey{fid: f, target: target}]

	return ok
}

// Rebuild reconstructs the lease set on referee startup by scanning
// every file record for owners not yet uptodate: those are exactly the
// targets targetsFor would compute, and since the referee keeps no
// durable lease state, any of them might have had an in-flight
// TRANSFER when the process died. Re-deriving targets = owners \
// uptodate on startup and re-publishing is simpler and safer than
// trying to recover which ones were actually in flight — a spurious
// duplicate TRANSFER is harmless (upload_chunk replay is idempotent).
func Rebuild(ctx context.Context, db *store.DB) (*Leases, []store.FileRecord, error) {
	leases := NewLeases()

	recs, err := db.ListFileRecords(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("referee: rebuilding leases: listing file records: %w", err)
	}

	var stale []store.FileRecord

	for _, rec := range recs {
		targets := targetsFor(rec)
		if len(targets) > 0 {
			stale = append(stale, *rec)
		}
	}

	return leases, stale, nil
}

// targetsFor computes owners \ uptodate for one record: the set of
// drivers that still need the latest revision.
func targetsFor(rec *store.FileRecord) []string {
	uptodate := make(map[string]struct{}, len(rec.Uptodate))
	for _, d := range rec.Uptodate {
		uptodate[d] = struct{}{}
	}

	var targets []string

	for _, owner := range rec.Owners {
		if _, ok := uptodate[owner]; !ok {
			targets = append(targets, owner)
		}
	}

	return targets
}
