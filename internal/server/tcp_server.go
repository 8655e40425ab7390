package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/ringkv/internal/metrics"
	"github.com/devrev/ringkv/internal/util/workerpool"
)

// ConnHandler serves one client connection until it ends. Implementations
// must close conn before returning.
type ConnHandler interface {
	Serve(ctx context.Context, conn net.Conn)
}

// KVServerConfig holds configuration for the client-facing listener
type KVServerConfig struct {
	Host string
	Port int
	// MaxConnections bounds concurrently served connections
	MaxConnections int
	// Backlog is the number of accepted connections allowed to wait for a
	// free slot before new ones are refused
	Backlog         int
	ShutdownTimeout time.Duration
}

// KVServer accepts client connections and serves each on the worker pool
type KVServer struct {
	cfg      KVServerConfig
	handler  ConnHandler
	pool     *workerpool.WorkerPool
	metrics  *metrics.Metrics
	logger   *zap.Logger
	listener net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// NewKVServer creates a server; call Listen then Serve
func NewKVServer(cfg KVServerConfig, h ConnHandler, m *metrics.Metrics, logger *zap.Logger) *KVServer {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1000
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	return &KVServer{
		cfg:     cfg,
		handler: h,
		pool: workerpool.NewWorkerPool(&workerpool.Config{
			Name:       "connections",
			MaxWorkers: cfg.MaxConnections,
			QueueSize:  cfg.Backlog,
			Logger:     logger,
		}),
		metrics: m,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the listening socket
func (s *KVServer) Listen() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	s.listener = ln
	s.logger.Info("Listening for clients", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *KVServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown is called or ctx is done
func (s *KVServer) Serve(ctx context.Context) error {
	if s.listener == nil {
		return fmt.Errorf("server is not listening")
	}

	stop := context.AfterFunc(ctx, func() {
		if err := s.Shutdown(); err != nil {
			s.logger.Warn("Shutdown incomplete", zap.Error(err))
		}
	})
	defer stop()

	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() || stderrors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = nextBackoff(backoff)
			s.logger.Error("Accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		s.dispatch(conn)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (s *KVServer) dispatch(conn net.Conn) {
	if !s.track(conn) {
		conn.Close()
		return
	}

	ok := s.pool.TrySubmit(workerpool.Task{
		ID: conn.RemoteAddr().String(),
		Fn: func(ctx context.Context) error {
			defer s.untrack(conn)
			s.metrics.RecordConnectionOpened()
			defer s.metrics.RecordConnectionClosed()

			s.handler.Serve(ctx, conn)
			return nil
		},
	})
	if !ok {
		s.untrack(conn)
		conn.Close()
		s.metrics.RecordConnectionRejected()
		s.logger.Warn("Connection refused, server at capacity",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Int("max_connections", s.cfg.MaxConnections))
	}
}

func (s *KVServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *KVServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *KVServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ActiveConnections returns the number of accepted connections not yet
// closed, including those waiting for a slot
func (s *KVServer) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown stops accepting, closes every open connection and waits for
// their handlers to return. It is safe to call more than once.
func (s *KVServer) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.logger.Info("Shutting down client listener", zap.Int("open_connections", len(conns)))

	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	return s.pool.Stop(s.cfg.ShutdownTimeout)
}
