// Package broker implements a lightweight request router exposing
// "fetch file bytes" to external consumers: it resolves a fid to its
// up-to-date holder and proxies a chunked read, buffering the result
// in memory rather than writing to local disk.
package broker

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MontBlanc-69/onitu/internal/fabric"
	"github.com/MontBlanc-69/onitu/internal/fid"
	"github.com/MontBlanc-69/onitu/internal/onituerr"
	"github.com/MontBlanc-69/onitu/internal/store"
)

// defaultChunkSize is the read size per fabric round trip.
const defaultChunkSize = 1 << 20 // 1 MiB

// ErrNoHolder is returned by GetFile when a record's uptodate set is
// empty.
var ErrNoHolder = errors.New("broker: no up-to-date holder for file")

// Broker resolves a fid to its up-to-date holder and proxies a chunked
// read from that driver's router.
type Broker struct {
	db        *store.DB
	chunkSize int64
	logger    *slog.Logger

	dealersMu sync.Mutex
	dealers   map[string]*fabric.Dealer
}

// New creates a Broker reading driver router addresses from db.
func New(db *store.DB, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Broker{
		db:        db,
		chunkSize: defaultChunkSize,
		logger:    logger,
		dealers:   make(map[string]*fabric.Dealer),
	}
}

// GetFile implements GET_FILE(fid) -> bytes | ERROR:
// picks any holder from the record's uptodate set and reads it to
// completion, chunk by chunk.
func (b *Broker) GetFile(ctx context.Context, f fid.ID) ([]byte, error) {
	rec, found, err := b.db.GetFileRecord(ctx, f)
	if err != nil {
		return nil, onituerr.Service("broker.GetFile", fmt.Errorf("loading record: %w", err))
	}

	if !found || len(rec.Uptodate) == 0 {
		return nil, ErrNoHolder
	}

	holder := rec.Uptodate[0]

	dealer, err := b.dealerFor(ctx, holder)
	if err != nil {
		return nil, onituerr.Service("broker.GetFile", err)
	}

	var buf bytes.Buffer

	for offset := int64(0); ; offset += b.chunkSize {
		chunk, err := dealer.GetChunk(ctx, f.String(), uint64(offset), uint64(b.chunkSize))
		if err != nil {
			return nil, onituerr.Service("broker.GetFile", fmt.Errorf("reading chunk at %d from %s: %w", offset, holder, err))
		}

		buf.Write(chunk)

		if int64(len(chunk)) < b.chunkSize {
			break
		}
	}

	return buf.Bytes(), nil
}

// HandleCommand implements fabric.CommandHandler, exposing GetFile over
// the fabric's command endpoint: the only request it
// understands is CmdGetFile(fid), answered with either the file's full
// bytes or the command server's error reply (an empty frame followed by
// the error message).
func (b *Broker) HandleCommand(ctx context.Context, frames [][]byte) ([][]byte, error) {
	if len(frames) < 2 { //nolint:mnd // (cmd, fid)
		return nil, fmt.Errorf("broker: malformed command: %d frames", len(frames))
	}

	if frames[0][0] != fabric.CmdGetFile {
		return nil, fmt.Errorf("broker: unknown command tag 0x%02x", frames[0][0])
	}

	f, err := fid.Parse(hex.EncodeToString(frames[1]))
	if err != nil {
		return nil, fmt.Errorf("broker: decoding fid: %w", err)
	}

	data, err := b.GetFile(ctx, f)
	if err != nil {
		return nil, err
	}

	return [][]byte{data}, nil
}

func (b *Broker) dealerFor(ctx context.Context, driver string) (*fabric.Dealer, error) {
	b.dealersMu.Lock()
	defer b.dealersMu.Unlock()

	if d, ok := b.dealers[driver]; ok {
		return d, nil
	}

	addr, ok, err := b.db.GetDriverRouter(ctx, driver)
	if err != nil {
		return nil, fmt.Errorf("looking up router for %s: %w", driver, err)
	}

	if !ok {
		return nil, fmt.Errorf("no router address published for driver %s", driver)
	}

	d := fabric.NewDealer("ws://"+addr+"/fabric", b.logger)
	b.dealers[driver] = d

	return d, nil
}

// Close releases every cached dealer connection.
func (b *Broker) Close() error {
	b.dealersMu.Lock()
	defer b.dealersMu.Unlock()

	var errs []error

	for _, d := range b.dealers {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
