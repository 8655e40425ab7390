package server

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/ringkv/internal/cache"
	"github.com/devrev/ringkv/internal/client"
	"github.com/devrev/ringkv/internal/handler"
	"github.com/devrev/ringkv/internal/metrics"
	"github.com/devrev/ringkv/internal/model"
	"github.com/devrev/ringkv/internal/protocol"
	"github.com/devrev/ringkv/internal/service"
	"github.com/devrev/ringkv/internal/storage/filestore"
)

type testNode struct {
	node     *service.StorageService
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

func newTestNode(t *testing.T, name string, port int) *testNode {
	t.Helper()
	store, err := filestore.Open(filepath.Join(t.TempDir(), name), nil, zap.NewNop())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(name, reg)
	node, err := service.NewStorageService(store, service.CacheConfig{Strategy: cache.LRU, Size: 8},
		model.NewNodeDescriptor(name, "127.0.0.1", port), m, zap.NewNop())
	require.NoError(t, err)
	return &testNode{node: node, metrics: m, registry: reg}
}

// startKVServer serves n on a loopback port and returns the server
func startKVServer(t *testing.T, n *testNode, cfg KVServerConfig) *KVServer {
	t.Helper()
	cfg.Host = "127.0.0.1"
	srv := NewKVServer(cfg, handler.NewConnectionHandler(n.node, n.metrics, zap.NewNop()), n.metrics, zap.NewNop())
	require.NoError(t, srv.Listen())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, srv.Serve(context.Background()))
	}()
	t.Cleanup(func() {
		srv.Shutdown()
		wg.Wait()
	})
	return srv
}

func connect(t *testing.T, addr string) *client.KVClient {
	t.Helper()
	c := client.NewKVClient(addr, client.Options{DialTimeout: time.Second, ReadTimeout: 2 * time.Second}, zap.NewNop())
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestKVServerServesClients(t *testing.T) {
	n := newTestNode(t, "node1", 0)
	srv := startKVServer(t, n, KVServerConfig{MaxConnections: 4, Backlog: 4})
	ctx := context.Background()

	clients := []*client.KVClient{connect(t, srv.Addr().String()), connect(t, srv.Addr().String())}

	resp, err := clients[0].Put(ctx, "k", "v")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPutSuccess, resp.Status)

	resp, err = clients[1].Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, model.StatusGetSuccess, resp.Status)
	assert.Equal(t, "v", resp.Value)

	assert.Equal(t, 2, srv.ActiveConnections())
}

func TestKVServerRefusesConnectionsOverCapacity(t *testing.T) {
	n := newTestNode(t, "node1", 0)
	srv := startKVServer(t, n, KVServerConfig{MaxConnections: 1, Backlog: 0})
	ctx := context.Background()

	// the single worker may not be waiting yet when the first client arrives
	var first *client.KVClient
	require.Eventually(t, func() bool {
		c := client.NewKVClient(srv.Addr().String(), client.Options{DialTimeout: time.Second, ReadTimeout: time.Second}, zap.NewNop())
		if err := c.Connect(ctx); err != nil {
			return false
		}
		if _, err := c.Get(ctx, "k"); err != nil {
			c.Close()
			return false
		}
		first = c
		return true
	}, 5*time.Second, 10*time.Millisecond)
	defer first.Close()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	protocol.WriteFrame(conn, []byte(`{"operation":"GET","key":"k","value":""}`))
	_, err = protocol.NewFrameReader(conn).ReadFrame()
	assert.Error(t, err)

	// the admitted client is unaffected
	resp, err := first.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, model.StatusGetError, resp.Status)
}

func TestKVServerShutdownClosesConnections(t *testing.T) {
	n := newTestNode(t, "node1", 0)
	srv := startKVServer(t, n, KVServerConfig{MaxConnections: 2, Backlog: 2})
	ctx := context.Background()

	c := connect(t, srv.Addr().String())
	_, err := c.Put(ctx, "k", "v")
	require.NoError(t, err)

	require.NoError(t, srv.Shutdown())
	require.NoError(t, srv.Shutdown())
	assert.Equal(t, 0, srv.ActiveConnections())

	_, err = c.Get(ctx, "k")
	assert.Error(t, err)

	_, err = net.DialTimeout("tcp", srv.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestKVServerStopsWithContext(t *testing.T) {
	n := newTestNode(t, "node1", 0)
	srv := NewKVServer(KVServerConfig{Host: "127.0.0.1", MaxConnections: 1}, handler.NewConnectionHandler(n.node, n.metrics, zap.NewNop()), n.metrics, zap.NewNop())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestKVServerBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	n := newTestNode(t, "node1", 0)
	srv := NewKVServer(KVServerConfig{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port},
		handler.NewConnectionHandler(n.node, n.metrics, zap.NewNop()), n.metrics, zap.NewNop())
	assert.Error(t, srv.Listen())

	assert.Error(t, srv.Serve(context.Background()))
	srv.Shutdown()
}

// flakyListener fails the first Accept with err
type flakyListener struct {
	net.Listener
	once sync.Once
	err  error
}

func (l *flakyListener) Accept() (net.Conn, error) {
	var failed bool
	l.once.Do(func() { failed = true })
	if failed {
		return nil, l.err
	}
	return l.Listener.Accept()
}

func TestKVServerKeepsAcceptingAfterAcceptError(t *testing.T) {
	n := newTestNode(t, "node1", 0)
	srv := NewKVServer(KVServerConfig{Host: "127.0.0.1"},
		handler.NewConnectionHandler(n.node, n.metrics, zap.NewNop()), n.metrics, zap.NewNop())
	require.NoError(t, srv.Listen())
	srv.listener = &flakyListener{
		Listener: srv.listener,
		err:      &net.OpError{Op: "accept", Net: "tcp", Err: syscall.EMFILE},
	}

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	c := connect(t, srv.Addr().String())
	resp, err := c.Put(context.Background(), "k", "v")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPutSuccess, resp.Status)

	require.NoError(t, srv.Shutdown())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}
