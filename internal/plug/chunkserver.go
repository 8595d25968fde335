package plug

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/MontBlanc-69/onitu/internal/fabric"
	"github.com/MontBlanc-69/onitu/internal/fid"
	"github.com/MontBlanc-69/onitu/internal/onituerr"
	"github.com/MontBlanc-69/onitu/internal/store"
)

// These constants bound how long a transient get_chunk ServiceError is
// retried before the chunk server gives up and reports it upstream.
const (
	getChunkBaseDelay  = 100 * time.Millisecond
	getChunkMaxRetries = 5
	getChunkJitterPct  = 10
)

// ChunkServer binds a fabric router endpoint and answers (fid_or_name,
// offset, size) by calling the handler's GetChunk. Concurrency bounding
// (the worker pool) lives in fabric.Router; this type only resolves the
// incoming name and loads the Meta the handler needs.
type ChunkServer struct {
	db      *store.DB
	driver  string
	handler Handler
	logger  *slog.Logger
}

// NewChunkServer creates a ChunkServer for one driver instance.
func NewChunkServer(db *store.DB, driver string, handler Handler, logger *slog.Logger) *ChunkServer {
	if logger == nil {
		logger = slog.Default()
	}

	return &ChunkServer{db: db, driver: driver, handler: handler, logger: logger}
}

// Handle implements fabric.ChunkHandler.
func (cs *ChunkServer) Handle(ctx context.Context, nameOrFid string, offset, size uint64) ([]byte, error) {
	meta, err := cs.resolve(ctx, nameOrFid)
	if err != nil {
		return nil, err
	}

	var chunk []byte

	b, err := retry.NewExponential(getChunkBaseDelay)
	if err != nil {
		return nil, fmt.Errorf("plug: chunk server: building retry backoff: %w", err)
	}

	b = retry.WithMaxRetries(getChunkMaxRetries, b)
	b = retry.WithJitterPercent(getChunkJitterPct, b)

	err = retry.Do(ctx, b, func(ctx context.Context) error {
		c, err := cs.handler.GetChunk(ctx, meta, int64(offset), int64(size))
		if err != nil {
			if onituerr.IsService(err) {
				return retry.RetryableError(err)
			}

			return err
		}

		chunk = c

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("plug: chunk server: get_chunk %q: %w", nameOrFid, err)
	}

	return chunk, nil
}

// Router wires Handle into a fabric.Router with maxInFlight concurrent
// requests.
func (cs *ChunkServer) Router(maxInFlight int) *fabric.Router {
	return fabric.NewRouter(cs.Handle, maxInFlight, cs.logger)
}

func (cs *ChunkServer) resolve(ctx context.Context, nameOrFid string) (*Meta, error) {
	f, parseErr := fid.Parse(nameOrFid)
	if parseErr != nil {
		// Not a fid string — treat nameOrFid as a backend path and derive
		// the fid from the file record that owns it. Callers typically
		// pass the fid directly; this fallback serves adapters that
		// address by path.
		recs, err := cs.db.ListFileRecords(ctx)
		if err != nil {
			return nil, fmt.Errorf("plug: chunk server: resolving %q: %w", nameOrFid, err)
		}

		for _, rec := range recs {
			if rec.Folder+"/"+rec.Filename == nameOrFid || rec.Filename == nameOrFid {
				f = rec.Fid
				break
			}
		}

		if f.IsZero() {
			return nil, fmt.Errorf("plug: chunk server: no file record matches %q", nameOrFid)
		}
	}

	rec, ok, err := cs.db.GetFileRecord(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("plug: chunk server: loading record for %s: %w", f, err)
	}

	if !ok {
		return nil, fmt.Errorf("plug: chunk server: no file record for %s", f)
	}

	extra, err := cs.db.GetExtras(ctx, f, cs.driver)
	if err != nil {
		return nil, fmt.Errorf("plug: chunk server: loading extras for %s: %w", f, err)
	}

	return &Meta{Fid: f, Record: rec, Extra: extra}, nil
}
