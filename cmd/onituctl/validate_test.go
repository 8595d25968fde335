package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunValidateAcceptsWellFormedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "onitu.toml")
	toml := `
[services.local]
driver = "localfs"
folders = ["/tmp/onitu-local"]
options = { root = "/tmp/onitu-local" }

[services.remote]
driver = "objectstore"
folders = ["/tmp/onitu-remote"]
options = { access_key = "k", access_secret = "s" }

[[rules]]
match = "**"
sync = ["local", "remote"]
mode = "mirror"
`
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o600))

	flagConfigPath = path
	t.Cleanup(func() { flagConfigPath = "" })

	assert.NoError(t, runValidate(nil, nil))
}

func TestRunValidateRejectsUnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "onitu.toml")
	toml := `
[services.local]
driver = "nope"
folders = ["/tmp/onitu-local"]
`
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o600))

	flagConfigPath = path
	t.Cleanup(func() { flagConfigPath = "" })

	err := runValidate(nil, nil)
	assert.Error(t, err)
}
