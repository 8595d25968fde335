package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/MontBlanc-69/onitu/internal/fid"
)

// FileRecord is the "file:{fid}" record. owners and
// uptodate are kept sorted so equality comparisons and serialization are
// deterministic.
type FileRecord struct {
	Fid      fid.ID   `json:"-"`
	Filename string   `json:"filename"`
	Folder   string   `json:"folder"`
	Size     int64    `json:"size"`
	Mimetype string   `json:"mimetype"`
	Owners   []string `json:"owners"`
	Uptodate []string `json:"uptodate"`
}

// Extras is the opaque per-driver entry: "never read by
// other drivers". Values are themselves self-describing (JSON-encoded by
// the driver that owns them); the store treats them as raw bytes.
type Extras map[string][]byte

// RoutingRule is one ordered entry of the config's routing table. The
// first rule whose Match glob matches a path determines Owners at
// file-creation time.
type RoutingRule struct {
	Match string   `json:"match"`
	Sync  []string `json:"sync"`
	Mode  string   `json:"mode"`
}

// GetFileRecord loads the file record for fid, or ok=false if absent.
func (db *DB) GetFileRecord(ctx context.Context, f fid.ID) (*FileRecord, bool, error) {
	raw, ok, err := db.Get(ctx, KeyFile(f))
	if err != nil || !ok {
		return nil, false, err
	}

	var rec FileRecord

	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("store: decoding file record %s: %w", f, err)
	}

	rec.Fid = f
	sort.Strings(rec.Owners)
	sort.Strings(rec.Uptodate)

	return &rec, true, nil
}

// PutFileRecord writes rec atomically, refusing to overwrite a fid whose
// stored (folder, filename) differs from rec's — the fid collision
// open question (section 9): refuse with an error rather than silently
// clobber.
func (db *DB) PutFileRecord(ctx context.Context, rec *FileRecord) error {
	existing, ok, err := db.GetFileRecord(ctx, rec.Fid)
	if err != nil {
		return err
	}

	if ok && (existing.Folder != rec.Folder || existing.Filename != rec.Filename) {
		return fmt.Errorf("%w: fid %s stored as (%s, %s), incoming (%s, %s)",
			fid.ErrCollision, rec.Fid, existing.Folder, existing.Filename, rec.Folder, rec.Filename)
	}

	sort.Strings(rec.Owners)
	sort.Strings(rec.Uptodate)

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encoding file record %s: %w", rec.Fid, err)
	}

	return db.Put(ctx, KeyFile(rec.Fid), raw)
}

// DeleteFileRecord removes the file record and every per-driver entry and
// uptodate-index entry for fid, in one batch. Idempotent.
func (db *DB) DeleteFileRecord(ctx context.Context, f fid.ID, drivers []string) error {
	b, err := db.Batch(ctx)
	if err != nil {
		return err
	}
	defer b.Rollback()

	if err := b.Delete(KeyFile(f)); err != nil {
		return err
	}

	for _, d := range drivers {
		if err := b.Delete(KeyEntry(f, d)); err != nil {
			return err
		}

		if err := b.Delete(KeyUptodateIndex(f, d)); err != nil {
			return err
		}
	}

	return b.Commit()
}

// ListFileRecords scans every file record. Used by the referee at startup
// to reconstruct outstanding leases and by onituctl for
// inspection.
func (db *DB) ListFileRecords(ctx context.Context) ([]*FileRecord, error) {
	it, err := db.Range(ctx, PrefixFiles, true)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []*FileRecord

	for it.Next() {
		key := it.Key()
		if strings.Contains(key[len(prefixFile):], ":") {
			continue // "file:{fid}:entry:*" or "file:{fid}:uptodate:*" — not a bare record.
		}

		var rec FileRecord

		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			return nil, fmt.Errorf("store: decoding file record at %q: %w", key, err)
		}

		parsed, err := fid.Parse(key[len(prefixFile):])
		if err != nil {
			return nil, fmt.Errorf("store: parsing fid from key %q: %w", key, err)
		}

		rec.Fid = parsed
		sort.Strings(rec.Owners)
		sort.Strings(rec.Uptodate)
		out = append(out, &rec)
	}

	return out, it.Err()
}

// GetExtras loads the opaque per-driver entry for (fid, driver). Returns an
// empty, non-nil Extras if absent (matching driveops
// lazily-created-state idiom).
func (db *DB) GetExtras(ctx context.Context, f fid.ID, driver string) (Extras, error) {
	raw, ok, err := db.Get(ctx, KeyEntry(f, driver))
	if err != nil {
		return nil, err
	}

	if !ok {
		return Extras{}, nil
	}

	var ex Extras

	if err := json.Unmarshal(raw, &ex); err != nil {
		return nil, fmt.Errorf("store: decoding extras for %s/%s: %w", f, driver, err)
	}

	return ex, nil
}

// PutExtras writes the opaque per-driver entry.
func (db *DB) PutExtras(ctx context.Context, f fid.ID, driver string, ex Extras) error {
	raw, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("store: encoding extras for %s/%s: %w", f, driver, err)
	}

	return db.Put(ctx, KeyEntry(f, driver), raw)
}

// AddUptodate adds driver to fid's uptodate set, updating both the file
// record's uptodate field and its redundant index entry atomically.
func (db *DB) AddUptodate(ctx context.Context, f fid.ID, driver string) error {
	rec, ok, err := db.GetFileRecord(ctx, f)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("store: AddUptodate: no file record for %s", f)
	}

	if !contains(rec.Uptodate, driver) {
		rec.Uptodate = append(rec.Uptodate, driver)
		sort.Strings(rec.Uptodate)
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encoding file record %s: %w", f, err)
	}

	b, err := db.Batch(ctx)
	if err != nil {
		return err
	}
	defer b.Rollback()

	if err := b.Put(KeyFile(f), raw); err != nil {
		return err
	}

	if err := b.Put(KeyUptodateIndex(f, driver), []byte{1}); err != nil {
		return err
	}

	return b.Commit()
}

// RemoveUptodate removes driver from fid's uptodate set.
func (db *DB) RemoveUptodate(ctx context.Context, f fid.ID, driver string) error {
	rec, ok, err := db.GetFileRecord(ctx, f)
	if err != nil {
		return err
	}

	if !ok {
		return nil
	}

	rec.Uptodate = removeString(rec.Uptodate, driver)

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encoding file record %s: %w", f, err)
	}

	b, err := db.Batch(ctx)
	if err != nil {
		return err
	}
	defer b.Rollback()

	if err := b.Put(KeyFile(f), raw); err != nil {
		return err
	}

	if err := b.Delete(KeyUptodateIndex(f, driver)); err != nil {
		return err
	}

	return b.Commit()
}

// ListUptodate scans the redundant uptodate index for fid, rather than
// loading the full file record — the stated reason for the index's
// existence (section 3).
func (db *DB) ListUptodate(ctx context.Context, f fid.ID) ([]string, error) {
	pairs, err := db.Collect(ctx, PrefixUptodateIndex(f), false)
	if err != nil {
		return nil, err
	}

	drivers := make([]string, 0, len(pairs))
	prefix := PrefixUptodateIndex(f)

	for _, p := range pairs {
		drivers = append(drivers, p.Key[len(prefix):])
	}

	return drivers, nil
}

// GetCursor loads driver's opaque change-intake cursor, or ok=false if the
// driver has never started.
func (db *DB) GetCursor(ctx context.Context, driver string) ([]byte, bool, error) {
	return db.Get(ctx, KeyCursor(driver))
}

// PutCursor persists driver's cursor.
func (db *DB) PutCursor(ctx context.Context, driver string, cursor []byte) error {
	return db.Put(ctx, KeyCursor(driver), cursor)
}

// ConflictEntry is one entry of a driver's conflict map:
// the backend-assigned name Onitu must use in place of the requested one.
type ConflictEntry struct {
	LocalName  string `json:"-"`
	RemoteName string `json:"remote_name"`
}

// GetConflict resolves localName through driver's conflict map.
func (db *DB) GetConflict(ctx context.Context, driver, localName string) (*ConflictEntry, bool, error) {
	raw, ok, err := db.Get(ctx, KeyConflict(driver, localName))
	if err != nil || !ok {
		return nil, false, err
	}

	var ce ConflictEntry

	if err := json.Unmarshal(raw, &ce); err != nil {
		return nil, false, fmt.Errorf("store: decoding conflict %s/%s: %w", driver, localName, err)
	}

	ce.LocalName = localName

	return &ce, true, nil
}

// PutConflict records that driver's backend assigned remoteName in place of
// localName. Persists until a successful delete or explicit user rename.
func (db *DB) PutConflict(ctx context.Context, driver, localName, remoteName string) error {
	raw, err := json.Marshal(ConflictEntry{RemoteName: remoteName})
	if err != nil {
		return fmt.Errorf("store: encoding conflict %s/%s: %w", driver, localName, err)
	}

	return db.Put(ctx, KeyConflict(driver, localName), raw)
}

// DeleteConflict clears a resolved conflict entry.
func (db *DB) DeleteConflict(ctx context.Context, driver, localName string) error {
	return db.Delete(ctx, KeyConflict(driver, localName))
}

// ListConflicts returns every conflict entry recorded for driver.
func (db *DB) ListConflicts(ctx context.Context, driver string) ([]ConflictEntry, error) {
	pairs, err := db.Collect(ctx, PrefixConflict(driver), true)
	if err != nil {
		return nil, err
	}

	prefix := PrefixConflict(driver)
	out := make([]ConflictEntry, 0, len(pairs))

	for _, p := range pairs {
		var ce ConflictEntry

		if err := json.Unmarshal(p.Value, &ce); err != nil {
			return nil, fmt.Errorf("store: decoding conflict at %q: %w", p.Key, err)
		}

		ce.LocalName = p.Key[len(prefix):]
		out = append(out, ce)
	}

	return out, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}

	return false
}

func removeString(ss []string, s string) []string {
	out := ss[:0]

	for _, v := range ss {
		if v != s {
			out = append(out, v)
		}
	}

	return out
}
