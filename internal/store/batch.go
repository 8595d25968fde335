package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Batch is a scoped write transaction: all mutations apply atomically on
// Commit, or not at all. Callers must defer Rollback() immediately after
// acquiring the batch so every exit path releases it; Rollback after a
// successful Commit is a documented no-op (sql.Tx itself returns
// sql.ErrTxDone, which Batch.Rollback swallows).
type Batch struct {
	tx        *sql.Tx
	committed bool
}

// Batch begins a new write batch.
func (db *DB) Batch(ctx context.Context) (*Batch, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: beginning batch: %w", err)
	}

	return &Batch{tx: tx}, nil
}

// Put stages a key=value write.
func (b *Batch) Put(key string, value []byte) error {
	_, err := b.tx.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: batch put %q: %w", key, err)
	}

	return nil
}

// Delete stages a key removal.
func (b *Batch) Delete(key string) error {
	if _, err := b.tx.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("store: batch delete %q: %w", key, err)
	}

	return nil
}

// Commit applies every staged mutation atomically.
func (b *Batch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("store: committing batch: %w", err)
	}

	b.committed = true

	return nil
}

// Rollback discards the batch. Safe to call after a successful Commit (a
// no-op) and safe to call multiple times — guarantees release on every exit
// path.
func (b *Batch) Rollback() {
	if b.committed {
		return
	}

	_ = b.tx.Rollback()
}

// rangeSuccessor returns the lexicographically smallest string greater than
// every string with the given prefix, for use as an exclusive upper bound in
// a prefix range scan. Mirrors bbolt's seek-to-prefix idiom over a B-tree,
// realized here as a half-open SQL range.
func rangeSuccessor(prefix string) string {
	b := []byte(prefix)

	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}

	// All 0xff bytes (or empty prefix): no finite successor: the caller
	// should treat this as "no upper bound" instead.
	return ""
}

// Range returns every key with the given prefix in ascending lexicographic
// order. includeValue controls whether Value() is populated (skipping value
// decoding when only keys are needed, same as a bbolt cursor.Seek loop that
// only inspects cursor keys).
func (db *DB) Range(ctx context.Context, prefix string, includeValue bool) (*Iterator, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	upper := rangeSuccessor(prefix)

	var (
		rows *sql.Rows
		err  error
	)

	switch {
	case upper == "":
		rows, err = db.sql.QueryContext(ctx, `SELECT key, value FROM kv WHERE key >= ? ORDER BY key`, prefix)
	default:
		rows, err = db.sql.QueryContext(ctx,
			`SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key`, prefix, upper)
	}

	if err != nil {
		return nil, fmt.Errorf("store: range %q: %w", prefix, err)
	}

	return &Iterator{rows: rows, includeValue: includeValue}, nil
}

// Iterator is a lazy, closeable sequence of (key, value) pairs in
// lexicographic key order.
type Iterator struct {
	rows         *sql.Rows
	includeValue bool
	key          string
	value        []byte
	err          error
}

// Next advances to the next pair, returning false at end-of-sequence or on
// error (check Err() to distinguish the two).
func (it *Iterator) Next() bool {
	if !it.rows.Next() {
		return false
	}

	var value []byte

	if err := it.rows.Scan(&it.key, &value); err != nil {
		it.err = fmt.Errorf("store: scanning range row: %w", err)
		return false
	}

	if it.includeValue {
		it.value = value
	}

	return true
}

// Key returns the current pair's key.
func (it *Iterator) Key() string { return it.key }

// Value returns the current pair's value (nil if includeValue was false).
func (it *Iterator) Value() []byte { return it.value }

// Err returns any error encountered during iteration.
func (it *Iterator) Err() error {
	if it.err != nil {
		return it.err
	}

	return it.rows.Err()
}

// Close releases the underlying rows. Safe to call after Next returns false.
func (it *Iterator) Close() error {
	return it.rows.Close()
}

// Collect drains the iterator into a slice of Pairs. Convenience for callers
// that don't need streaming (e.g. small scans in the referee and CLI).
func (db *DB) Collect(ctx context.Context, prefix string, includeValue bool) ([]Pair, error) {
	it, err := db.Range(ctx, prefix, includeValue)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var pairs []Pair

	for it.Next() {
		pairs = append(pairs, Pair{Key: it.Key(), Value: it.Value()})
	}

	if err := it.Err(); err != nil {
		return nil, err
	}

	return pairs, nil
}

// Pair is a materialized (key, value) result from Collect.
type Pair struct {
	Key   string
	Value []byte
}
