// Package fid computes the deterministic file identifier that addresses
// every record in the metadata store. A fid is a pure function of
// (folder, filename): a 128-bit, collision-resistant value derived from the
// canonicalized tuple. Canonicalization NFC-normalizes the filename and
// strips trailing slashes from the folder; case is preserved, since
// case-insensitive backends are handled by the plug's conflict map, not
// here.
package fid

import (
	"crypto/sha256"
	"database/sql"
	"database/sql/driver"
	"encoding"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Size is the length of a fid in bytes (128 bits).
const Size = 16

// ID is a 128-bit file identifier. The zero value represents "no fid" and
// is never returned by New for non-empty input.
type ID [Size]byte

// New derives the fid for (folder, filename): NFC-normalize filename,
// strip trailing slashes on folder, preserve case.
func New(folder, filename string) ID {
	canonFolder := strings.TrimRight(folder, "/")
	canonName := norm.NFC.String(filename)

	sum := sha256.Sum256([]byte(canonFolder + "\x00" + canonName))

	var id ID

	copy(id[:], sum[:Size])

	return id
}

// String returns the lowercase hex representation.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether this is the zero-value ID.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Equal reports whether two IDs are identical.
func (id ID) Equal(other ID) bool {
	return id == other
}

// Parse decodes a hex string produced by String back into an ID.
func Parse(s string) (ID, error) {
	var id ID

	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("fid: parsing %q: %w", s, err)
	}

	if len(b) != Size {
		return id, fmt.Errorf("fid: %q decodes to %d bytes, want %d", s, len(b), Size)
	}

	copy(id[:], b)

	return id, nil
}

// FromBytes constructs an ID directly from a raw Size-byte slice, for
// callers that receive a fid as a binary frame (e.g. over the transfer
// fabric) rather than as a hex string.
func FromBytes(b []byte) (ID, error) {
	var id ID

	if len(b) != Size {
		return id, fmt.Errorf("fid: %d bytes, want %d", len(b), Size)
	}

	copy(id[:], b)

	return id, nil
}

// MustParse is like Parse but panics on invalid input. Use only in tests
// and initialization code where the value is known-good.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return id
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*id = parsed

	return nil
}

// Scan implements sql.Scanner for reading fids back from the store's
// SQLite-backed KV table.
func (id *ID) Scan(src any) error {
	if src == nil {
		*id = ID{}
		return nil
	}

	switch v := src.(type) {
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}

		*id = parsed

		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}

		*id = parsed

		return nil
	default:
		return fmt.Errorf("fid.ID.Scan: unsupported type %T", src)
	}
}

// Value implements driver.Valuer.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}

	return id.String(), nil
}

// ErrCollision is returned when a fid already present in the store was
// derived from a different (folder, filename) than the one being written:
// refuse to reuse a fid whose stored identity differs from the incoming
// one.
var ErrCollision = errors.New("fid: collision with existing record under different name")

// Compile-time interface assertions.
var (
	_ encoding.TextMarshaler   = ID{}
	_ encoding.TextUnmarshaler = (*ID)(nil)
	_ fmt.Stringer             = ID{}
	_ driver.Valuer            = ID{}
	_ sql.Scanner              = (*ID)(nil)
)
