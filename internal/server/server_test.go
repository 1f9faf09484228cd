package server

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cpape/butler/internal/dispatcher"
	"github.com/cpape/butler/internal/inventory"
	"github.com/cpape/butler/internal/wire"
)

func newTestServer(t *testing.T, blocks []inventory.Block, numRetries int) (*Server, *dispatcher.Dispatcher) {
	t.Helper()

	var srv *Server
	onQuiesce := func() { srv.Quiesce() }

	disp := dispatcher.New(blocks, dispatcher.Config{
		TimeLimit:     50 * time.Millisecond,
		CheckInterval: 5 * time.Millisecond,
		NumRetries:    numRetries,
	}, zerolog.Nop(), dispatcher.NewMetrics(), nil, nil, onQuiesce)

	var err error
	srv, err = New("127.0.0.1:0", disp, 3, zerolog.Nop())
	require.NoError(t, err)

	stop := make(chan struct{})
	go disp.RunSweeper(stop)
	t.Cleanup(func() { close(stop) })

	return srv, disp
}

func TestServeRoundTripsRequestAndConfirm(t *testing.T) {
	blocks := []inventory.Block{{0, 0, 0}, {0, 0, 100}}
	srv, _ := newTestServer(t, blocks, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = srv.Serve()
	}()

	client := &wire.Client{Addr: srv.Addr(), Timeout: time.Second}

	first, err := client.RequestBlock()
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := client.RequestBlock()
	require.NoError(t, err)
	require.NotNil(t, second)

	accepted, err := client.ConfirmBlock(first)
	require.NoError(t, err)
	require.True(t, accepted)

	accepted, err = client.ConfirmBlock(second)
	require.NoError(t, err)
	require.True(t, accepted)

	third, err := client.RequestBlock()
	require.NoError(t, err)
	require.Nil(t, third)

	wg.Wait()
}

func TestServeRejectsMalformedRequestWithoutMutatingInventory(t *testing.T) {
	blocks := []inventory.Block{{0, 0, 0}}
	srv, disp := newTestServer(t, blocks, 0)

	go func() { _ = srv.Serve() }()
	defer srv.Quiesce()

	client := &wire.Client{Addr: srv.Addr(), Timeout: time.Second}

	_, err := client.ConfirmBlock(inventory.Block{1, 2})
	require.Error(t, err)

	pending, inFlight, _, _ := disp.Inventory().Len()
	require.Equal(t, 1, pending)
	require.Equal(t, 0, inFlight)

	require.Equal(t, float64(1), testutil.ToFloat64(disp.Metrics().ProtocolErrors))
}

func TestServeExhaustionQuiescesListener(t *testing.T) {
	blocks := []inventory.Block{{0, 0, 0}}
	srv, _ := newTestServer(t, blocks, 0)

	done := make(chan struct{})
	go func() { _ = srv.Serve(); close(done) }()

	client := &wire.Client{Addr: srv.Addr(), Timeout: time.Second}

	block, err := client.RequestBlock()
	require.NoError(t, err)
	require.NotNil(t, block)

	accepted, err := client.ConfirmBlock(block)
	require.NoError(t, err)
	require.True(t, accepted)

	stop, err := client.RequestBlock()
	require.NoError(t, err)
	require.Nil(t, stop)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not quiesce after queue exhaustion")
	}

	_, err = client.RequestBlock()
	require.Error(t, err)
}
