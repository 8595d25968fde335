package fabric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/coder/websocket"
)

// CommandHandler answers an arbitrary multipart command frame (the
// dealer/publisher pattern: GET_FILE, TRANSFER, TRANSFER_COMPLETE,
// DELETE) and returns a reply frame set, which may be empty for
// fire-and-forget notifications.
type CommandHandler func(ctx context.Context, frames [][]byte) ([][]byte, error)

// CommandServer is the referee's and broker's inbound endpoint: unlike
// Router (which is specialized to the fixed (name, offset, size)
// get_chunk shape), CommandServer dispatches whatever multipart frames
// a dealer sends, keyed by the first frame's command tag. Grounded on
// the same websocket-framing approach as Router.
type CommandServer struct {
	handler CommandHandler
	logger  *slog.Logger

	server   *http.Server
	listener net.Listener
}

// NewCommandServer creates a CommandServer.
func NewCommandServer(handler CommandHandler, logger *slog.Logger) *CommandServer {
	if logger == nil {
		logger = slog.Default()
	}

	return &CommandServer{handler: handler, logger: logger}
}

// Serve binds addr and serves until ctx is canceled.
func (s *CommandServer) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("fabric: command server: listening on %s: %w", addr, err)
	}

	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/fabric", s.handleConn)

	s.server = &http.Server{Handler: mux}

	errCh := make(chan error, 1)

	go func() { errCh <- s.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		_ = s.server.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("fabric: command server: %w", err)
	}
}

// Addr returns the bound listener address.
func (s *CommandServer) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

func (s *CommandServer) handleConn(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		s.logger.Warn("fabric: command server accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	ctx := req.Context()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		frames, decErr := Decode(data)
		if decErr != nil {
			s.logger.Warn("fabric: command server: malformed message", slog.String("error", decErr.Error()))
			continue
		}

		reply, handleErr := s.handler(ctx, frames)
		if handleErr != nil {
			s.logger.Warn("fabric: command server: handler error", slog.String("error", handleErr.Error()))
			reply = [][]byte{{}, []byte(handleErr.Error())}
		}

		if len(reply) == 0 {
			reply = [][]byte{{}}
		}

		msg, encErr := Encode(reply)
		if encErr != nil {
			continue
		}

		if writeErr := conn.Write(ctx, websocket.MessageBinary, msg); writeErr != nil {
			s.logger.Warn("fabric: command server: reply write failed", slog.String("error", writeErr.Error()))
		}
	}
}

// Close shuts down the command server's listener.
func (s *CommandServer) Close() error {
	if s.server == nil {
		return nil
	}

	return s.server.Close()
}
