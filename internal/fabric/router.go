package fabric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MontBlanc-69/onitu/internal/onituerr"
)

// ChunkHandler answers a chunk request. Implementations must be
// reentrant: get_chunk must tolerate concurrent calls.
type ChunkHandler func(ctx context.Context, nameOrFid string, offset, size uint64) ([]byte, error)

// Router binds a driver's router endpoint: peers dial in
// over websocket and send (name_or_fid, offset, size); the router replies
// with exactly the requested chunk or an error frame. A bounded worker pool
// serves requests; on overflow the router replies Busy rather than
// blocking indefinitely.
type Router struct {
	handler ChunkHandler
	logger  *slog.Logger
	sem     chan struct{}

	server   *http.Server
	listener net.Listener
}

// NewRouter creates a Router. maxInFlight bounds concurrent requests per
// process as an explicit queue depth, not unbounded goroutine fan-out.
func NewRouter(handler ChunkHandler, maxInFlight int, logger *slog.Logger) *Router {
	if maxInFlight < 1 {
		maxInFlight = 1
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		handler: handler,
		logger:  logger,
		sem:     make(chan struct{}, maxInFlight),
	}
}

// Serve binds a listener (passing "" lets the OS choose a port — mirrors
// the original Onitu router binding "tcp://*" to a random port and
// publishing it) and serves until ctx is canceled. Addr() is valid once
// Serve has started accepting.
func (r *Router) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return onituerr.Driver("fabric.Router.Serve", fmt.Errorf("listening on %s: %w", addr, err))
	}

	r.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/fabric", r.handleConn)

	r.server = &http.Server{Handler: mux}

	errCh := make(chan error, 1)

	go func() {
		errCh <- r.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		_ = r.server.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return onituerr.Service("fabric.Router.Serve", err)
	}
}

// Addr returns the bound listener address. Valid only after Serve has been
// called and started listening.
func (r *Router) Addr() string {
	if r.listener == nil {
		return ""
	}

	return r.listener.Addr().String()
}

func (r *Router) handleConn(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		r.logger.Warn("fabric: router accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	ctx := req.Context()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return // peer disconnected or context canceled; reconnection is transparent.
		}

		r.handleRequest(ctx, conn, data)
	}
}

func (r *Router) handleRequest(ctx context.Context, conn *websocket.Conn, data []byte) {
	frames, err := Decode(data)
	if err != nil {
		r.logger.Warn("fabric: router: malformed request", slog.String("error", err.Error()))
		return
	}

	if len(frames) != 3 { //nolint:mnd // (name_or_fid, offset, size)
		r.logger.Warn("fabric: router: expected 3 frames", slog.Int("got", len(frames)))
		return
	}

	name := string(frames[0])
	offset := decodeUint64(frames[1])
	size := decodeUint64(frames[2])

	select {
	case r.sem <- struct{}{}:
	default:
		r.reply(ctx, conn, nil, onituerr.ErrBusy)
		return
	}

	defer func() { <-r.sem }()

	chunk, err := r.handler(ctx, name, offset, size)
	r.reply(ctx, conn, chunk, err)
}

func (r *Router) reply(ctx context.Context, conn *websocket.Conn, chunk []byte, err error) {
	var msg []byte

	if err != nil {
		encoded, encErr := Encode([][]byte{{}, []byte(err.Error())})
		if encErr != nil {
			return
		}

		msg = encoded
	} else {
		encoded, encErr := Encode([][]byte{chunk})
		if encErr != nil {
			return
		}

		msg = encoded
	}

	if writeErr := conn.Write(ctx, websocket.MessageBinary, msg); writeErr != nil {
		r.logger.Warn("fabric: router: reply write failed", slog.String("error", writeErr.Error()))
	}
}

// Close shuts down the router's listener.
func (r *Router) Close() error {
	if r.server == nil {
		return nil
	}

	return r.server.Close()
}
