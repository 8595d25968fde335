package plug

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MontBlanc-69/onitu/internal/store"
)

// ConflictMap resolves onitu_name -> backend_name through the metadata
// store's conflict table: a backend may commit a file under a name it
// chose itself (case folding, forced auto-rename), and the plug must
// remember that mapping rather than attempt a local rename, since the
// shared name is used by every driver syncing the fid.
type ConflictMap struct {
	db     *store.DB
	driver string
	logger *slog.Logger
}

// NewConflictMap creates a ConflictMap scoped to one driver's conflict
// entries.
func NewConflictMap(db *store.DB, driver string, logger *slog.Logger) *ConflictMap {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConflictMap{db: db, driver: driver, logger: logger}
}

// Resolve returns the backend name to use for onituName: the recorded
// alias if one exists, otherwise onituName unchanged.
func (c *ConflictMap) Resolve(ctx context.Context, onituName string) (string, error) {
	entry, ok, err := c.db.GetConflict(ctx, c.driver, onituName)
	if err != nil {
		return "", fmt.Errorf("plug: conflict map: resolving %q: %w", onituName, err)
	}

	if !ok {
		return onituName, nil
	}

	return entry.RemoteName, nil
}

// Record stores a backend-assigned name that differs from the
// requested one, logging a user-actionable warning. The entry persists
// until a successful delete or explicit user rename clears it.
func (c *ConflictMap) Record(ctx context.Context, onituName, backendName string) error {
	if onituName == backendName {
		return nil
	}

	c.logger.Warn("plug: backend assigned a different name than requested",
		slog.String("driver", c.driver),
		slog.String("requested", onituName),
		slog.String("backend_name", backendName),
	)

	if err := c.db.PutConflict(ctx, c.driver, onituName, backendName); err != nil {
		return fmt.Errorf("plug: conflict map: recording %q -> %q: %w", onituName, backendName, err)
	}

	return nil
}

// Clear removes a conflict entry after a successful delete or an
// explicit user rename resolves it.
func (c *ConflictMap) Clear(ctx context.Context, onituName string) error {
	if err := c.db.DeleteConflict(ctx, c.driver, onituName); err != nil {
		return fmt.Errorf("plug: conflict map: clearing %q: %w", onituName, err)
	}

	return nil
}

// List returns every outstanding conflict entry for this driver, used
// by onituctl's conflict-listing subcommand.
func (c *ConflictMap) List(ctx context.Context) ([]store.ConflictEntry, error) {
	entries, err := c.db.ListConflicts(ctx, c.driver)
	if err != nil {
		return nil, fmt.Errorf("plug: conflict map: listing: %w", err)
	}

	return entries, nil
}
