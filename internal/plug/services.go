package plug

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MontBlanc-69/onitu/internal/fabric"
	"github.com/MontBlanc-69/onitu/internal/fid"
	"github.com/MontBlanc-69/onitu/internal/store"
)

// Services is the plug-provided half of the driver contract:
// UpdateFile and DeleteFile record the new metadata state and notify
// the referee over the fabric so it can schedule transfers to other
// drivers.
type Services struct {
	db     *store.DB
	driver string
	dealer *fabric.Dealer
	logger *slog.Logger
}

// NewServices creates the plug-services facade a Handler calls back
// into after observing a local change. dealer addresses the referee's
// router endpoint; nil is accepted for handlers under test that don't
// exercise fabric delivery.
func NewServices(db *store.DB, driver string, dealer *fabric.Dealer, logger *slog.Logger) *Services {
	if logger == nil {
		logger = slog.Default()
	}

	return &Services{db: db, driver: driver, dealer: dealer, logger: logger}
}

// UpdateFile records that this driver now holds a new or changed
// revision of f and notifies the referee. Invoked for every surviving
// intake entry whose remote side is newer than (or absent from) the
// stored record.
func (s *Services) UpdateFile(ctx context.Context, rec *store.FileRecord) error {
	if err := s.db.PutFileRecord(ctx, rec); err != nil {
		return fmt.Errorf("plug: services: update_file: storing record: %w", err)
	}

	if err := s.db.AddUptodate(ctx, rec.Fid, s.driver); err != nil {
		return fmt.Errorf("plug: services: update_file: marking uptodate: %w", err)
	}

	s.logger.Info("plug: update_file",
		slog.String("driver", s.driver),
		slog.String("fid", rec.Fid.String()),
		slog.String("path", rec.Folder+"/"+rec.Filename),
	)

	return s.notify(ctx, fabric.CmdTransferComplete, rec.Fid)
}

// DeleteFile removes this driver from f's uptodate set and notifies the
// referee so it can propagate the deletion to other owners. The file
// record itself is only removed once every owning driver has deleted
// its copy — that bookkeeping lives in the referee, not here.
func (s *Services) DeleteFile(ctx context.Context, f fid.ID) error {
	if err := s.db.RemoveUptodate(ctx, f, s.driver); err != nil {
		return fmt.Errorf("plug: services: delete_file: clearing uptodate: %w", err)
	}

	s.logger.Info("plug: delete_file", slog.String("driver", s.driver), slog.String("fid", f.String()))

	return s.notify(ctx, fabric.CmdDelete, f)
}

func (s *Services) notify(ctx context.Context, cmd byte, f fid.ID) error {
	if s.dealer == nil {
		return nil
	}

	if _, err := s.dealer.Send(ctx, [][]byte{{cmd}, f[:], []byte(s.driver)}); err != nil {
		return fmt.Errorf("plug: services: notifying referee: %w", err)
	}

	return nil
}
