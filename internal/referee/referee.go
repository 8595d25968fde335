package referee

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/MontBlanc-69/onitu/internal/fabric"
	"github.com/MontBlanc-69/onitu/internal/fid"
	"github.com/MontBlanc-69/onitu/internal/onituerr"
	"github.com/MontBlanc-69/onitu/internal/store"
)

// pollInterval bounds how often the referee re-scans the file: prefix
// for changes it wasn't notified of directly, a backstop against
// missed or out-of-order fabric notifications. The store has no native
// pub/sub, so notification delivery plus this poll
// together stand in for a change feed, the same "belt and suspenders"
// shape as delta-polling plus local fsnotify watch.
const pollInterval = 2 * time.Second

// Referee implements the scheduling algorithm of : for
// each file whose owners aren't all uptodate, pick a source from
// uptodate and publish a TRANSFER to each lagging target, tracking
// outstanding transfers with an in-memory Leases table that is
// reconstructed (never persisted) on startup.
type Referee struct {
	db     *store.DB
	leases *Leases
	logger *slog.Logger

	dealersMu stdsync.Mutex
	dealers   map[string]*fabric.Dealer

	cmdDealersMu stdsync.Mutex
	cmdDealers   map[string]*fabric.Dealer
}

// New creates a Referee backed by db. Call Rebuild before Run to seed
// the lease table and re-issue any transfers that might have been
// in-flight at the previous process's exit.
func New(db *store.DB, logger *slog.Logger) *Referee {
	if logger == nil {
		logger = slog.Default()
	}

	return &Referee{
		db:         db,
		leases:     NewLeases(),
		logger:     logger,
		dealers:    make(map[string]*fabric.Dealer),
		cmdDealers: make(map[string]*fabric.Dealer),
	}
}

// Run drives the referee's poll loop until ctx is canceled: on startup
// it rebuilds leases and immediately re-evaluates every file record,
// then re-evaluates every pollInterval thereafter. Commands arriving on
// the referee's CommandServer (TRANSFER_COMPLETE, DELETE) are applied
// as they're received, independent of this loop — see HandleCommand.
func (r *Referee) Run(ctx context.Context) error {
	leases, stale, err := Rebuild(ctx, r.db)
	if err != nil {
		return fmt.Errorf("referee: starting: %w", err)
	}

	r.leases = leases

	for _, rec := range stale {
		if evalErr := r.evaluate(ctx, &rec); evalErr != nil {
			r.logger.Warn("referee: startup re-evaluation failed",
				slog.String("fid", rec.Fid.String()), slog.String("error", evalErr.Error()))
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.sweep(ctx); err != nil {
				r.logger.Warn("referee: sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// sweep re-evaluates every file record, the poll-based backstop.
func (r *Referee) sweep(ctx context.Context) error {
	recs, err := r.db.ListFileRecords(ctx)
	if err != nil {
		return fmt.Errorf("referee: sweep: %w", err)
	}

	for _, rec := range recs {
		if err := r.evaluate(ctx, rec); err != nil {
			r.logger.Warn("referee: evaluating record failed",
				slog.String("fid", rec.Fid.String()), slog.String("error", err.Error()))
		}
	}

	return nil
}

// EvaluateFid re-evaluates a single fid immediately, called by
// HandleCommand after an UpdateFile/DeleteFile notification so new
// changes don't wait for the next poll tick.
func (r *Referee) EvaluateFid(ctx context.Context, f fid.ID) error {
	rec, ok, err := r.db.GetFileRecord(ctx, f)
	if err != nil {
		return fmt.Errorf("referee: loading %s: %w", f, err)
	}

	if !ok {
		return nil
	}

	return r.evaluate(ctx, rec)
}

// evaluate implements per-event algorithm steps
// 1-3: derive owners from the routing rules when the record has none,
// compute targets = owners \ uptodate, and for each un-leased
// target publish a TRANSFER from a deterministically chosen source.
func (r *Referee) evaluate(ctx context.Context, rec *store.FileRecord) error {
	if len(rec.Owners) == 0 {
		rules, err := r.db.GetRules(ctx)
		if err != nil {
			return fmt.Errorf("referee: loading routing rules: %w", err)
		}

		rec.Owners = NewRules(rules).Owners(rec.Folder + "/" + rec.Filename)
		if len(rec.Owners) > 0 {
			if err := r.db.PutFileRecord(ctx, rec); err != nil {
				return fmt.Errorf("referee: recording owners for %s: %w", rec.Fid, err)
			}
		}
	}

	if len(rec.Uptodate) == 0 {
		// No driver holds a current copy yet; nothing to transfer from.
		return nil
	}

	source := chooseSource(rec.Uptodate)
	targets := targetsFor(rec)

	for _, target := range targets {
		if !r.leases.Acquire(rec.Fid, target) {
			continue
		}

		if err := r.publishTransfer(ctx, rec.Fid, source, target, rec.Size); err != nil {
			r.leases.Release(rec.Fid, target)
			return fmt.Errorf("referee: publishing transfer for %s -> %s: %w", rec.Fid, target, err)
		}
	}

	return nil
}

// chooseSource tie-breaks deterministically: lexicographically first
// driver name.
func chooseSource(uptodate []string) string {
	best := uptodate[0]
	for _, d := range uptodate[1:] {
		if d < best {
			best = d
		}
	}

	return best
}

// publishTransfer dials (or reuses a cached dealer for) target's
// transfer command endpoint and sends a TRANSFER command. This is a
// distinct endpoint from target's chunk router: the router only
// understands the fixed (name_or_fid, offset, size) get_chunk shape
// and would silently drop a 4-frame TRANSFER.
func (r *Referee) publishTransfer(ctx context.Context, f fid.ID, source, target string, size int64) error {
	dealer, err := r.commandDealerFor(ctx, target)
	if err != nil {
		return err
	}

	sizeFrame := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		sizeFrame[i] = byte(size)
		size >>= 8
	}

	_, err = dealer.Send(ctx, [][]byte{{fabric.CmdTransfer}, f[:], []byte(source), sizeFrame})
	if err != nil {
		return onituerr.Service("referee.publishTransfer", err)
	}

	return nil
}

// dealerFor returns a cached Dealer for driver's router endpoint,
// dialing lazily and looking up the address from the registry on first
// use.
func (r *Referee) dealerFor(ctx context.Context, driver string) (*fabric.Dealer, error) {
	r.dealersMu.Lock()
	defer r.dealersMu.Unlock()

	if d, ok := r.dealers[driver]; ok {
		return d, nil
	}

	addr, ok, err := r.db.GetDriverRouter(ctx, driver)
	if err != nil {
		return nil, fmt.Errorf("looking up router address for %q: %w", driver, err)
	}

	if !ok {
		return nil, fmt.Errorf("no published router endpoint for driver %q", driver)
	}

	d := fabric.NewDealer("ws://"+addr+"/fabric", r.logger)
	r.dealers[driver] = d

	return d, nil
}

// commandDealerFor returns a cached Dealer targeting driver's transfer
// command endpoint, dialing lazily and looking up the address from
// the registry on first use. Kept separate from dealerFor/dealers,
// which address the chunk router endpoint used for delete propagation.
func (r *Referee) commandDealerFor(ctx context.Context, driver string) (*fabric.Dealer, error) {
	r.cmdDealersMu.Lock()
	defer r.cmdDealersMu.Unlock()

	if d, ok := r.cmdDealers[driver]; ok {
		return d, nil
	}

	addr, ok, err := r.db.GetDriverCommandAddr(ctx, driver)
	if err != nil {
		return nil, fmt.Errorf("looking up command address for %q: %w", driver, err)
	}

	if !ok {
		return nil, fmt.Errorf("no published command endpoint for driver %q", driver)
	}

	d := fabric.NewDealer("ws://"+addr+"/fabric", r.logger)
	r.cmdDealers[driver] = d

	return d, nil
}

// HandleCommand implements fabric.CommandHandler for the referee's
// inbound endpoint: plugs notify TRANSFER_COMPLETE (add target to
// uptodate) and DELETE (remove target from uptodate, propagate
// deletion) here.
func (r *Referee) HandleCommand(ctx context.Context, frames [][]byte) ([][]byte, error) {
	if len(frames) < 3 { //nolint:mnd // (cmd, fid, driver)
		return nil, fmt.Errorf("referee: malformed command: %d frames", len(frames))
	}

	cmd := frames[0][0]

	f, err := fid.FromBytes(frames[1])
	if err != nil {
		return nil, fmt.Errorf("referee: decoding fid: %w", err)
	}

	driver := string(frames[2])

	switch cmd {
	case fabric.CmdTransferComplete:
		if err := r.db.AddUptodate(ctx, f, driver); err != nil {
			return nil, fmt.Errorf("referee: recording transfer complete: %w", err)
		}

		r.leases.Release(f, driver)

		if err := r.EvaluateFid(ctx, f); err != nil {
			return nil, err
		}
	case fabric.CmdDelete:
		if err := r.db.RemoveUptodate(ctx, f, driver); err != nil {
			return nil, fmt.Errorf("referee: recording delete: %w", err)
		}

		r.leases.Release(f, driver)

		if err := r.propagateDelete(ctx, f, driver); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("referee: unknown command tag 0x%02x", cmd)
	}

	return nil, nil
}

// propagateDelete publishes DELETE to every other owner still holding
// a copy, since one driver deleting its copy means the file should be
// removed everywhere it's synced.
func (r *Referee) propagateDelete(ctx context.Context, f fid.ID, deletedBy string) error {
	rec, ok, err := r.db.GetFileRecord(ctx, f)
	if err != nil || !ok {
		return err
	}

	for _, owner := range rec.Owners {
		if owner == deletedBy {
			continue
		}

		dealer, err := r.dealerFor(ctx, owner)
		if err != nil {
			r.logger.Warn("referee: cannot propagate delete, no route to driver",
				slog.String("driver", owner), slog.String("error", err.Error()))

			continue
		}

		if _, err := dealer.Send(ctx, [][]byte{{fabric.CmdDelete}, f[:], []byte(deletedBy)}); err != nil {
			r.logger.Warn("referee: propagating delete failed",
				slog.String("driver", owner), slog.String("error", err.Error()))
		}
	}

	return nil
}
