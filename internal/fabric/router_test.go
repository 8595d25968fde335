package fabric_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MontBlanc-69/onitu/internal/fabric"
	"github.com/MontBlanc-69/onitu/internal/onituerr"
)

func TestRouterDealerRoundTrip(t *testing.T) {
	handler := func(_ context.Context, nameOrFid string, offset, size uint64) ([]byte, error) {
		return []byte(fmt.Sprintf("%s:%d:%d", nameOrFid, offset, size)), nil
	}

	router := fabric.NewRouter(handler, 4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- router.Serve(ctx, "127.0.0.1:0") }()

	waitForAddr(t, router)

	dealer := fabric.NewDealer(fmt.Sprintf("ws://%s/fabric", router.Addr()), nil)
	defer dealer.Close()

	chunk, err := dealer.GetChunk(context.Background(), "report.txt", 10, 20)
	require.NoError(t, err)
	assert.Equal(t, "report.txt:10:20", string(chunk))

	cancel()
	<-serveErr
}

func TestRouterRejectsOverCapacity(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 2)

	handler := func(ctx context.Context, _ string, _, _ uint64) ([]byte, error) {
		started <- struct{}{}
		select {
		case <-block:
		case <-ctx.Done():
		}

		return []byte("ok"), nil
	}

	router := fabric.NewRouter(handler, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go router.Serve(ctx, "127.0.0.1:0")
	waitForAddr(t, router)

	url := fmt.Sprintf("ws://%s/fabric", router.Addr())

	busy := fabric.NewDealer(url, nil)
	defer busy.Close()

	occupied := fabric.NewDealer(url, nil)
	defer occupied.Close()

	go occupied.GetChunk(context.Background(), "f", 0, 1) //nolint:errcheck

	<-started

	_, err := busy.GetChunk(context.Background(), "f", 0, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), onituerr.ErrBusy.Error())

	close(block)
}

func waitForAddr(t *testing.T, r *fabric.Router) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for r.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("router never bound an address")
		}

		time.Sleep(5 * time.Millisecond)
	}
}
