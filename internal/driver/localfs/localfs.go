// Package localfs implements a plug.Handler backed by the local
// filesystem, one of two example driver adapters shipped against the
// handler contract: real os file I/O, excluded-name filtering, and a
// .partial convention for in-progress uploads.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/MontBlanc-69/onitu/internal/onituerr"
	"github.com/MontBlanc-69/onitu/internal/plug"
)

// Driver implements plug.Handler against a root directory.
type Driver struct {
	root   string
	logger *slog.Logger
}

// New creates a Driver rooted at root. root must already exist.
func New(root string, logger *slog.Logger) (*Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, onituerr.Driver("localfs.New", fmt.Errorf("stat root %s: %w", root, err))
	}

	if !info.IsDir() {
		return nil, onituerr.Driver("localfs.New", fmt.Errorf("%s is not a directory", root))
	}

	return &Driver{root: root, logger: logger}, nil
}

var _ plug.Handler = (*Driver)(nil)

// NormalizePath returns the canonical absolute path for p, failing with
// a DriverError when p is not absolute.
func (d *Driver) NormalizePath(_ context.Context, p string) (string, error) {
	if !filepath.IsAbs(p) {
		return "", onituerr.Driver("localfs.NormalizePath", fmt.Errorf("path %q is not absolute", p))
	}

	return filepath.Clean(p), nil
}

func (d *Driver) fsPath(meta *plug.Meta) string {
	return filepath.Join(d.root, meta.Record.Folder, meta.Record.Filename)
}

// GetChunk reads up to size bytes starting at offset. Reentrant: each
// call opens its own file handle.
func (d *Driver) GetChunk(_ context.Context, meta *plug.Meta, offset, size int64) ([]byte, error) {
	f, err := os.Open(d.fsPath(meta))
	if err != nil {
		return nil, onituerr.Service("localfs.GetChunk", fmt.Errorf("opening %s: %w", meta.Record.Filename, err))
	}
	defer f.Close()

	buf := make([]byte, size)

	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, onituerr.Service("localfs.GetChunk", fmt.Errorf("reading %s at %d: %w", meta.Record.Filename, offset, err))
	}

	return buf[:n], nil
}

// StartUpload idempotently creates the parent directory and the partial
// file (the target path plus ".partial"), storing that path in
// extra.upload_id as the upload handle.
func (d *Driver) StartUpload(_ context.Context, meta *plug.Meta) error {
	target := d.fsPath(meta)

	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil { //nolint:mnd // owner-only dir perms
		return onituerr.Driver("localfs.StartUpload", fmt.Errorf("creating parent dir: %w", err))
	}

	partial := target + ".partial"

	if _, err := os.Stat(partial); err == nil {
		setExtra(meta, "upload_id", partial)
		return nil // resuming an existing partial file
	}

	f, err := os.Create(partial)
	if err != nil {
		return onituerr.Service("localfs.StartUpload", fmt.Errorf("creating %s: %w", partial, err))
	}

	if err := f.Close(); err != nil {
		return onituerr.Service("localfs.StartUpload", fmt.Errorf("closing %s: %w", partial, err))
	}

	setExtra(meta, "upload_id", partial)

	return nil
}

// UploadChunk writes chunk at offset into the partial file. Writing at
// an already-written offset is a plain overwrite with identical bytes,
// satisfying the idempotent-replay requirement.
func (d *Driver) UploadChunk(_ context.Context, meta *plug.Meta, offset int64, chunk []byte) error {
	partial, ok := getExtra(meta, "upload_id")
	if !ok {
		return onituerr.Driver("localfs.UploadChunk", errors.New("no open upload for this file"))
	}

	f, err := os.OpenFile(partial, os.O_WRONLY, 0o600) //nolint:mnd // owner-only
	if err != nil {
		return onituerr.Service("localfs.UploadChunk", fmt.Errorf("opening %s: %w", partial, err))
	}
	defer f.Close()

	if _, err := f.WriteAt(chunk, offset); err != nil {
		return onituerr.Service("localfs.UploadChunk", fmt.Errorf("writing %s at %d: %w", partial, offset, err))
	}

	return nil
}

// EndUpload renames the partial file onto the target path and records
// the partial file's modification time (UnixNano) as a synthetic
// revision (local filesystems have no server-assigned
// revision token). No backend-chosen renaming ever occurs locally, so
// the committed name always equals the requested one.
func (d *Driver) EndUpload(_ context.Context, meta *plug.Meta) (string, error) {
	partial, ok := getExtra(meta, "upload_id")
	if !ok {
		return "", onituerr.Driver("localfs.EndUpload", errors.New("no open upload for this file"))
	}

	target := d.fsPath(meta)

	info, err := os.Stat(partial)
	if err != nil {
		return "", onituerr.Service("localfs.EndUpload", fmt.Errorf("stat %s: %w", partial, err))
	}

	if err := os.Rename(partial, target); err != nil {
		return "", onituerr.Service("localfs.EndUpload", fmt.Errorf("renaming %s to %s: %w", partial, target, err))
	}

	setExtra(meta, "rev", strconv.FormatInt(info.ModTime().UnixNano(), 10))
	clearExtra(meta, "upload_id")

	return meta.Record.Filename, nil
}

// AbortUpload removes the partial file and clears upload_id.
// Idempotent: a missing partial file is not an error.
func (d *Driver) AbortUpload(_ context.Context, meta *plug.Meta) error {
	partial, ok := getExtra(meta, "upload_id")
	if ok {
		if err := os.Remove(partial); err != nil && !os.IsNotExist(err) {
			return onituerr.Service("localfs.AbortUpload", fmt.Errorf("removing %s: %w", partial, err))
		}
	}

	clearExtra(meta, "upload_id")

	return nil
}

// MoveFile renames oldName to newName within root; os.Rename is atomic
// on a single filesystem, so no fallback to copy+delete is needed here.
func (d *Driver) MoveFile(_ context.Context, oldName, newName string) error {
	oldPath := filepath.Join(d.root, oldName)
	newPath := filepath.Join(d.root, newName)

	if err := os.MkdirAll(filepath.Dir(newPath), 0o700); err != nil { //nolint:mnd // owner-only dir perms
		return onituerr.Driver("localfs.MoveFile", fmt.Errorf("creating parent dir: %w", err))
	}

	if err := os.Rename(oldPath, newPath); err != nil {
		return onituerr.Service("localfs.MoveFile", fmt.Errorf("renaming %s to %s: %w", oldName, newName, err))
	}

	return nil
}

// DeleteFile idempotently removes meta's file.
func (d *Driver) DeleteFile(_ context.Context, meta *plug.Meta) error {
	if err := os.Remove(d.fsPath(meta)); err != nil && !os.IsNotExist(err) {
		return onituerr.Service("localfs.DeleteFile", fmt.Errorf("removing %s: %w", meta.Record.Filename, err))
	}

	return nil
}

func setExtra(meta *plug.Meta, key, value string) {
	if meta.Extra == nil {
		meta.Extra = make(map[string][]byte)
	}

	meta.Extra[key] = []byte(value)
}

func getExtra(meta *plug.Meta, key string) (string, bool) {
	v, ok := meta.Extra[key]
	return string(v), ok
}

func clearExtra(meta *plug.Meta, key string) {
	delete(meta.Extra, key)
}
