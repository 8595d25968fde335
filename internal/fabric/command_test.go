package fabric_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MontBlanc-69/onitu/internal/fabric"
)

func TestCommandServerDispatchesByTag(t *testing.T) {
	var gotCmd byte

	handler := func(_ context.Context, frames [][]byte) ([][]byte, error) {
		gotCmd = frames[0][0]
		return nil, nil
	}

	srv := fabric.NewCommandServer(handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx, "127.0.0.1:0")
	waitForCommandAddr(t, srv)

	dealer := fabric.NewDealer(fmt.Sprintf("ws://%s/fabric", srv.Addr()), nil)
	defer dealer.Close()

	_, err := dealer.Send(context.Background(), [][]byte{{fabric.CmdDelete}, {1, 2, 3, 4}, []byte("rep1")})
	require.NoError(t, err)
	assert.Equal(t, fabric.CmdDelete, gotCmd)
}

func waitForCommandAddr(t *testing.T, s *fabric.CommandServer) {
	t.Helper()

	for range 400 {
		if s.Addr() != "" {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("command server never bound an address")
}
