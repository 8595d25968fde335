package fid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MontBlanc-69/onitu/internal/fid"
)

func TestNewDeterministic(t *testing.T) {
	a := fid.New("/rep1/docs", "report.txt")
	b := fid.New("/rep1/docs", "report.txt")

	assert.Equal(t, a, b)
	assert.False(t, a.IsZero())
}

func TestNewDiffersOnRename(t *testing.T) {
	before := fid.New("/rep1/docs", "report.txt")
	after := fid.New("/rep1/docs", "report-final.txt")

	assert.NotEqual(t, before, after)
}

func TestNewStripsTrailingSlashOnFolder(t *testing.T) {
	a := fid.New("/rep1/docs", "report.txt")
	b := fid.New("/rep1/docs/", "report.txt")

	assert.Equal(t, a, b)
}

func TestNewPreservesCase(t *testing.T) {
	lower := fid.New("/rep1", "foo.txt")
	upper := fid.New("/rep1", "Foo.txt")

	assert.NotEqual(t, lower, upper, "case-insensitive collisions are resolved by the plug's conflict map, not fid")
}

func TestNewNormalizesUnicode(t *testing.T) {
	// "café" as a single composed é (NFC) vs. e + combining acute (NFD).
	nfc := fid.New("/rep1", "café")
	nfd := fid.New("/rep1", "café")

	assert.Equal(t, nfc, nfd, "NFC normalization should make these equivalent")
}

func TestStringParseRoundTrip(t *testing.T) {
	id := fid.New("/rep1", "file.bin")

	parsed, err := fid.Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseInvalid(t *testing.T) {
	_, err := fid.Parse("not-hex")
	assert.Error(t, err)

	_, err = fid.Parse("aabb")
	assert.Error(t, err, "too short should be rejected")
}

func TestMarshalUnmarshalText(t *testing.T) {
	id := fid.New("/a", "b.txt")

	text, err := id.MarshalText()
	require.NoError(t, err)

	var out fid.ID

	require.NoError(t, out.UnmarshalText(text))
	assert.Equal(t, id, out)
}

func TestEqualAndIsZero(t *testing.T) {
	var zero fid.ID

	assert.True(t, zero.IsZero())

	id := fid.New("/a", "b.txt")
	assert.True(t, id.Equal(id))
	assert.False(t, id.Equal(zero))
}
