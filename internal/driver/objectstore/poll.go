package objectstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/MontBlanc-69/onitu/internal/plug"
	"github.com/MontBlanc-69/onitu/internal/store"
)

var _ plug.PollSource = (*Driver)(nil)

// Poll implements plug.PollSource, translating the backend's
// ObjectMeta change entries into plug.Meta-bearing plug.PollEntry
// values the intake can turn into ChangeEvents.
func (d *Driver) Poll(ctx context.Context, cursor []byte) ([]plug.PollEntry, []byte, bool, error) {
	entries, next, hasMore, err := d.store.Poll(ctx, cursor)
	if err != nil {
		return nil, cursor, false, fmt.Errorf("objectstore: poll: %w", err)
	}

	out := make([]plug.PollEntry, 0, len(entries))

	for _, e := range entries {
		if e.Metadata == nil {
			out = append(out, plug.PollEntry{Path: e.Name})
			continue
		}

		folder, filename := splitName(e.Name)

		out = append(out, plug.PollEntry{
			Path: e.Name,
			Metadata: &plug.Meta{
				Record: &store.FileRecord{
					Folder:   folder,
					Filename: filename,
					Size:     e.Metadata.Size,
				},
				Extra: store.Extras{"rev": []byte(e.Metadata.Revision)},
			},
		})
	}

	return out, next, hasMore, nil
}

func splitName(name string) (folder, filename string) {
	idx := strings.LastIndexByte(name, '/')
	if idx < 0 {
		return "", name
	}

	return name[:idx], name[idx+1:]
}
