package plug

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"

	"golang.org/x/sync/errgroup"

	"github.com/MontBlanc-69/onitu/internal/fabric"
	"github.com/MontBlanc-69/onitu/internal/fid"
	"github.com/MontBlanc-69/onitu/internal/store"
)

// Plug orchestrates one backend's local state machine: the chunk
// server, change intake, transfer application, and per-fid serialized
// handler invocations.
type Plug struct {
	db        *store.DB
	driver    string
	handler   Handler
	services  *Services
	chunks    *ChunkServer
	router    *fabric.Router
	cmdServer *fabric.CommandServer
	conflicts *ConflictMap
	logger    *slog.Logger

	// fidLocks serializes operations on the same fid so concurrent
	// intake entries, and transfer applications, for one file never
	// race each other.
	fidLocksMu stdsync.Mutex
	fidLocks   map[fid.ID]*stdsync.Mutex

	// sourceDealers caches Dealers dialed against peer drivers' chunk
	// routers, keyed by driver name, for pulling chunks while applying
	// an inbound TRANSFER.
	sourceDealersMu stdsync.Mutex
	sourceDealers   map[string]*fabric.Dealer
}

// Config bundles the dependencies a Plug needs to run.
type Config struct {
	DB          *store.DB
	Driver      string
	Handler     Handler
	RefereeURL  string // ws:// URL of the referee's command endpoint; empty disables notification
	MaxInFlight int    // chunk server worker pool size
	Logger      *slog.Logger
}

// New creates a Plug from cfg.
func New(cfg Config) *Plug {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var dealer *fabric.Dealer
	if cfg.RefereeURL != "" {
		dealer = fabric.NewDealer(cfg.RefereeURL, logger)
	}

	services := NewServices(cfg.DB, cfg.Driver, dealer, logger)
	chunks := NewChunkServer(cfg.DB, cfg.Driver, cfg.Handler, logger)

	maxInFlight := cfg.MaxInFlight
	if maxInFlight < 1 {
		maxInFlight = 8
	}

	p := &Plug{
		db:            cfg.DB,
		driver:        cfg.Driver,
		handler:       cfg.Handler,
		services:      services,
		chunks:        chunks,
		router:        chunks.Router(maxInFlight),
		conflicts:     NewConflictMap(cfg.DB, cfg.Driver, logger),
		logger:        logger,
		fidLocks:      make(map[fid.ID]*stdsync.Mutex),
		sourceDealers: make(map[string]*fabric.Dealer),
	}

	p.cmdServer = fabric.NewCommandServer(p.HandleCommand, logger)

	return p
}

// Serve binds the chunk server's router endpoint and blocks until ctx
// is canceled. Returns the bound address via addrCh once listening
// starts, so callers can publish the router's port without a second
// round-trip through the store.
func (p *Plug) Serve(ctx context.Context, addr string, addrCh chan<- string) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.router.Serve(ctx, addr)
	})

	if addrCh != nil {
		g.Go(func() error {
			for p.router.Addr() == "" {
				select {
				case <-ctx.Done():
					return nil
				default:
				}
			}

			select {
			case addrCh <- p.router.Addr():
			case <-ctx.Done():
			}

			return nil
		})
	}

	return g.Wait()
}

// TransferServer returns the CommandServer bound to this plug's
// HandleCommand, the driver's inbound endpoint for orders the referee
// schedules.
func (p *Plug) TransferServer() *fabric.CommandServer {
	return p.cmdServer
}

// ServeTransfers binds the driver's transfer command endpoint and
// blocks until ctx is canceled, publishing the bound address via
// addrCh the same way Serve does for the chunk router.
func (p *Plug) ServeTransfers(ctx context.Context, addr string, addrCh chan<- string) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.cmdServer.Serve(ctx, addr)
	})

	if addrCh != nil {
		g.Go(func() error {
			for p.cmdServer.Addr() == "" {
				select {
				case <-ctx.Done():
					return nil
				default:
				}
			}

			select {
			case addrCh <- p.cmdServer.Addr():
			case <-ctx.Done():
			}

			return nil
		})
	}

	return g.Wait()
}

// lockFid returns the mutex guarding f, creating it on first use.
func (p *Plug) lockFid(f fid.ID) *stdsync.Mutex {
	p.fidLocksMu.Lock()
	defer p.fidLocksMu.Unlock()

	m, ok := p.fidLocks[f]
	if !ok {
		m = &stdsync.Mutex{}
		p.fidLocks[f] = m
	}

	return m
}

// ApplyEvent processes one ChangeEvent end to end: normalize the path,
// compute the fid, and either update or delete the owning record. Both
// event-driven and poll-driven intake converge on this one path.
// Serialized per fid so a rapid write-then-delete on the same file
// can't interleave.
func (p *Plug) ApplyEvent(ctx context.Context, ev ChangeEvent) error {
	path, err := p.handler.NormalizePath(ctx, ev.Path)
	if err != nil {
		return fmt.Errorf("plug: apply event: normalize_path %q: %w", ev.Path, err)
	}

	folder, filename := splitPath(path)
	f := fid.New(folder, filename)

	mu := p.lockFid(f)
	mu.Lock()
	defer mu.Unlock()

	if ev.Kind == EventDelete {
		return p.services.DeleteFile(ctx, f)
	}

	existing, ok, err := p.db.GetFileRecord(ctx, f)
	if err != nil {
		return fmt.Errorf("plug: apply event: loading existing record for %s: %w", f, err)
	}

	rec := &store.FileRecord{Fid: f, Folder: folder, Filename: filename}
	if ev.Metadata != nil && ev.Metadata.Record != nil {
		rec.Size = ev.Metadata.Record.Size
		rec.Mimetype = ev.Metadata.Record.Mimetype
	}

	if ok {
		rec.Owners = existing.Owners
		rec.Uptodate = existing.Uptodate
	}

	return p.services.UpdateFile(ctx, rec)
}

func splitPath(p string) (folder, filename string) {
	i := lastSlash(p)
	if i < 0 {
		return "", p
	}

	return p[:i], p[i+1:]
}

func lastSlash(p string) int {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return i
		}
	}

	return -1
}
