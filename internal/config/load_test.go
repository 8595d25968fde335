package config_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MontBlanc-69/onitu/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const validConfig = `
[services.rep1]
driver = "localfs"
folders = ["/"]
[services.rep1.options]
root = "/srv/onitu/rep1"

[services.rep2]
driver = "localfs"
folders = ["/"]
[services.rep2.options]
root = "/srv/onitu/rep2"

[[rules]]
match = "**"
sync = ["rep1", "rep2"]
mode = "mirror"
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	cfg, err := config.Load(path, discardLogger())
	require.NoError(t, err)

	assert.Len(t, cfg.Services, 2)
	assert.Equal(t, "localfs", cfg.Services["rep1"].Driver)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, []string{"rep1", "rep2"}, cfg.Rules[0].Sync)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeTempConfig(t, `
[services.rep1]
driver = "localfs"
folders = ["/"]
bogus_key = "oops"
`)

	_, err := config.Load(path, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus_key")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeTempConfig(t, `
[services.rep1]
driver = "nosuchdriver"
folders = ["/"]
`)

	_, err := config.Load(path, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := config.LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"), discardLogger())
	require.NoError(t, err)
	assert.Empty(t, cfg.Services)
}
