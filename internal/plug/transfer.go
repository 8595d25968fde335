package plug

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/MontBlanc-69/onitu/internal/fabric"
	"github.com/MontBlanc-69/onitu/internal/fid"
)

// transferChunkSize bounds how much is pulled from the source driver
// per get_chunk round trip while applying a TRANSFER order.
const transferChunkSize = 1 << 20

// HandleCommand implements fabric.CommandHandler for the driver's
// transfer command endpoint.
func (p *Plug) HandleCommand(ctx context.Context, frames [][]byte) ([][]byte, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("plug: malformed command: no frames")
	}

	switch frames[0][0] {
	case fabric.CmdTransfer:
		return nil, p.handleTransfer(ctx, frames)
	default:
		return nil, fmt.Errorf("plug: unknown command tag 0x%02x", frames[0][0])
	}
}

func (p *Plug) handleTransfer(ctx context.Context, frames [][]byte) error {
	if len(frames) != 4 { //nolint:mnd // (cmd, fid, source, size)
		return fmt.Errorf("plug: transfer: malformed command: %d frames", len(frames))
	}

	f, err := fid.FromBytes(frames[1])
	if err != nil {
		return fmt.Errorf("plug: transfer: decoding fid: %w", err)
	}

	if len(frames[3]) != 8 { //nolint:mnd // fixed-width big-endian uint64
		return fmt.Errorf("plug: transfer: malformed size frame: %d bytes", len(frames[3]))
	}

	source := string(frames[2])
	size := int64(binary.BigEndian.Uint64(frames[3]))

	mu := p.lockFid(f)
	mu.Lock()
	defer mu.Unlock()

	return p.applyTransfer(ctx, f, source, size)
}

// applyTransfer pulls f's content from source over the transfer fabric
// and drives it through the chunked-upload state machine, resuming
// from any high water mark a prior, interrupted attempt persisted
// rather than restarting at offset zero.
func (p *Plug) applyTransfer(ctx context.Context, f fid.ID, source string, size int64) error {
	rec, ok, err := p.db.GetFileRecord(ctx, f)
	if err != nil {
		return fmt.Errorf("plug: transfer: loading record for %s: %w", f, err)
	}

	if !ok {
		return fmt.Errorf("plug: transfer: no file record for %s", f)
	}

	extra, err := p.db.GetExtras(ctx, f, p.driver)
	if err != nil {
		return fmt.Errorf("plug: transfer: loading extras for %s: %w", f, err)
	}

	meta := &Meta{Fid: f, Record: rec, Extra: extra}
	upload := NewUpload(p.handler, meta, p.logger)

	dealer, err := p.sourceDealer(ctx, source)
	if err != nil {
		return fmt.Errorf("plug: transfer: resolving source %q: %w", source, err)
	}

	if err := upload.Open(ctx); err != nil {
		return fmt.Errorf("plug: transfer: opening upload for %s: %w", f, err)
	}

	if err := p.db.PutExtras(ctx, f, p.driver, meta.Extra); err != nil {
		return fmt.Errorf("plug: transfer: persisting upload state for %s: %w", f, err)
	}

	for offset := upload.HighWaterMark(); offset < size; {
		want := int64(transferChunkSize)
		if remaining := size - offset; remaining < want {
			want = remaining
		}

		chunk, err := dealer.GetChunk(ctx, f.String(), uint64(offset), uint64(want))
		if err != nil {
			return fmt.Errorf("plug: transfer: pulling chunk at offset %d from %q: %w", offset, source, err)
		}

		if len(chunk) == 0 {
			return fmt.Errorf("plug: transfer: source %q returned empty chunk at offset %d", source, offset)
		}

		if err := upload.WriteChunk(ctx, offset, chunk); err != nil {
			return fmt.Errorf("plug: transfer: writing chunk at offset %d: %w", offset, err)
		}

		// Persist the advanced high water mark after every chunk so a
		// crash mid-transfer resumes here on restart instead of
		// re-pulling from byte zero.
		if err := p.db.PutExtras(ctx, f, p.driver, meta.Extra); err != nil {
			return fmt.Errorf("plug: transfer: persisting upload state for %s: %w", f, err)
		}

		offset += int64(len(chunk))
	}

	committedName, err := upload.Commit(ctx)
	if err != nil {
		return fmt.Errorf("plug: transfer: committing %s: %w", f, err)
	}

	if err := p.db.PutExtras(ctx, f, p.driver, meta.Extra); err != nil {
		return fmt.Errorf("plug: transfer: clearing upload state for %s: %w", f, err)
	}

	requestedName := rec.Folder + "/" + rec.Filename
	if err := p.conflicts.Record(ctx, requestedName, committedName); err != nil {
		return fmt.Errorf("plug: transfer: recording conflict for %s: %w", f, err)
	}

	if err := p.services.UpdateFile(ctx, rec); err != nil {
		return fmt.Errorf("plug: transfer: notifying completion for %s: %w", f, err)
	}

	return nil
}

// sourceDealer returns a cached Dealer targeting source's chunk
// router, dialing lazily and looking up the address from the registry
// on first use. Distinct from this plug's own router/chunk server:
// this is the client side used only to pull bytes while applying a
// transfer.
func (p *Plug) sourceDealer(ctx context.Context, source string) (*fabric.Dealer, error) {
	p.sourceDealersMu.Lock()
	defer p.sourceDealersMu.Unlock()

	if d, ok := p.sourceDealers[source]; ok {
		return d, nil
	}

	addr, ok, err := p.db.GetDriverRouter(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("looking up router address for %q: %w", source, err)
	}

	if !ok {
		return nil, fmt.Errorf("no published router endpoint for driver %q", source)
	}

	d := fabric.NewDealer("ws://"+addr+"/fabric", p.logger)
	p.sourceDealers[source] = d

	return d, nil
}
