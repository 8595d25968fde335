package localfs

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/MontBlanc-69/onitu/internal/plug"
)

// alwaysExcludedSuffixes lists file extensions unsafe to surface as
// change events: partial transfers (.partial, .crdownload) and
// temporary or editor swap files (.tmp, .swp).
var alwaysExcludedSuffixes = []string{".partial", ".tmp", ".swp", ".crdownload"}

func isExcluded(name string) bool {
	lower := strings.ToLower(name)

	for _, ext := range alwaysExcludedSuffixes {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	return strings.HasPrefix(name, "~") || strings.HasPrefix(name, ".~")
}

// Watch implements the event-driven change-intake path, translating
// fsnotify events into plug.ChangeEvents and feeding them to emit.
// Directories are watched recursively. Blocks until ctx is canceled.
func (d *Driver) Watch(ctx context.Context, emit func(plug.ChangeEvent)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("localfs: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := d.addWatchesRecursive(watcher); err != nil {
		return fmt.Errorf("localfs: adding initial watches: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			d.handleEvent(watcher, ev, emit)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			d.logger.Warn("localfs: watcher error", slog.String("error", err.Error()))
		}
	}
}

func (d *Driver) addWatchesRecursive(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			d.logger.Warn("localfs: walk error", slog.String("path", path), slog.String("error", walkErr.Error()))
			return nil
		}

		if !entry.IsDir() {
			return nil
		}

		if path != d.root && isExcluded(entry.Name()) {
			return filepath.SkipDir
		}

		if err := watcher.Add(path); err != nil {
			d.logger.Warn("localfs: failed to add watch", slog.String("path", path), slog.String("error", err.Error()))
		}

		return nil
	})
}

func (d *Driver) handleEvent(watcher *fsnotify.Watcher, ev fsnotify.Event, emit func(plug.ChangeEvent)) {
	name := filepath.Base(ev.Name)
	if isExcluded(name) {
		// Own .partial write activity.
		return
	}

	rel, err := filepath.Rel(d.root, ev.Name)
	if err != nil {
		return
	}

	rel = filepath.ToSlash(rel)

	switch {
	case ev.Has(fsnotify.Create):
		if info, statErr := statIsDir(ev.Name); statErr == nil && info {
			_ = watcher.Add(ev.Name)
		}

		emit(plug.ChangeEvent{Kind: plug.EventCreate, Path: rel})
	case ev.Has(fsnotify.Write):
		emit(plug.ChangeEvent{Kind: plug.EventWrite, Path: rel})
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		emit(plug.ChangeEvent{Kind: plug.EventDelete, Path: rel})
	}
}

func statIsDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}

	return info.IsDir(), nil
}
