package fabric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/MontBlanc-69/onitu/internal/onituerr"
)

// Dealer is the client side of a Router endpoint: it dials in, sends a
// (name_or_fid, offset, size) request, and returns the reply chunk. One
// Dealer serializes all requests over its single connection rather than
// opening a connection per request.
type Dealer struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewDealer creates a Dealer targeting a router's websocket URL (as
// returned by Router.Addr, prefixed with "ws://" and the "/fabric" path).
func NewDealer(url string, logger *slog.Logger) *Dealer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dealer{url: url, logger: logger}
}

// GetChunk requests one chunk from the router, dialing lazily on first use
// and redialing once if the existing connection was dropped. Transient
// failures are reported as onituerr.Service so callers know to retry
// rather than treat it as fatal.
func (d *Dealer) GetChunk(ctx context.Context, nameOrFid string, offset, size uint64) ([]byte, error) {
	reply, err := d.Send(ctx, [][]byte{[]byte(nameOrFid), encodeUint64(offset), encodeUint64(size)})
	if err != nil {
		return nil, onituerr.Service("fabric.Dealer.GetChunk", err)
	}

	return reply, nil
}

// Send delivers an arbitrary multipart request to the router and
// returns its reply frame, dialing lazily on first use and redialing
// once if the existing connection was dropped. Used both for chunk
// requests (GetChunk) and for the referee/broker command multicast of
// (GET_FILE, TRANSFER, TRANSFER_COMPLETE, DELETE).
func (d *Dealer) Send(ctx context.Context, frames [][]byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	req, err := Encode(frames)
	if err != nil {
		return nil, fmt.Errorf("fabric: dealer: encoding request: %w", err)
	}

	reply, err := d.roundTrip(ctx, req)
	if err == nil {
		return reply, nil
	}

	d.logger.Debug("fabric: dealer: retrying after connection error", slog.String("error", err.Error()))
	d.closeLocked()

	reply, err = d.roundTrip(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fabric: dealer: %w", err)
	}

	return reply, nil
}

func (d *Dealer) roundTrip(ctx context.Context, req []byte) ([]byte, error) {
	conn, err := d.dialLocked(ctx)
	if err != nil {
		return nil, err
	}

	if err := conn.Write(ctx, websocket.MessageBinary, req); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading reply: %w", err)
	}

	frames, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding reply: %w", err)
	}

	if len(frames) == 2 { //nolint:mnd // (empty chunk, error message) marks a router-side error
		return nil, errors.New(string(frames[1]))
	}

	if len(frames) != 1 {
		return nil, fmt.Errorf("unexpected reply frame count %d", len(frames))
	}

	return frames[0], nil
}

func (d *Dealer) dialLocked(ctx context.Context) (*websocket.Conn, error) {
	if d.conn != nil {
		return d.conn, nil
	}

	conn, _, err := websocket.Dial(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", d.url, err)
	}

	d.conn = conn

	return conn, nil
}

func (d *Dealer) closeLocked() {
	if d.conn == nil {
		return
	}

	d.conn.CloseNow()
	d.conn = nil
}

// Close tears down the dealer's connection, if any.
func (d *Dealer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}

	err := d.conn.Close(websocket.StatusNormalClosure, "")
	d.conn = nil

	return err
}
