package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/ringkv/internal/model"
	"github.com/devrev/ringkv/internal/protocol"
)

// Options holds transport timeouts for a KVClient
type Options struct {
	DialTimeout time.Duration
	// ReadTimeout bounds one request/response round trip
	ReadTimeout time.Duration
}

// DefaultOptions returns the timeouts used when none are configured
func DefaultOptions() Options {
	return Options{
		DialTimeout: 3 * time.Second,
		ReadTimeout: 5 * time.Second,
	}
}

// KVClient speaks the node wire protocol over one TCP connection. Requests
// are serialized; a response always answers the most recent request.
type KVClient struct {
	addr   string
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	conn   net.Conn
	frames *protocol.FrameReader
}

// NewKVClient creates a client for the node at addr. Connect must be called
// before issuing requests.
func NewKVClient(addr string, opts Options, logger *zap.Logger) *KVClient {
	return &KVClient{
		addr:   addr,
		opts:   opts,
		logger: logger,
	}
}

// Addr returns the remote address
func (c *KVClient) Addr() string {
	return c.addr
}

// Connect dials the node
func (c *KVClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.addr, err)
	}

	c.conn = conn
	c.frames = protocol.NewFrameReader(conn)
	c.logger.Debug("Connected to node", zap.String("addr", c.addr))
	return nil
}

// Put stores value under key
func (c *KVClient) Put(ctx context.Context, key, value string) (*protocol.Response, error) {
	return c.do(ctx, &protocol.Request{Operation: model.OperationPut, Key: key, Value: value})
}

// Get fetches the value of key
func (c *KVClient) Get(ctx context.Context, key string) (*protocol.Response, error) {
	return c.do(ctx, &protocol.Request{Operation: model.OperationGet, Key: key})
}

// Delete removes key
func (c *KVClient) Delete(ctx context.Context, key string) (*protocol.Response, error) {
	return c.do(ctx, &protocol.Request{Operation: model.OperationDelete, Key: key})
}

// Close closes the connection. It is safe to call more than once.
func (c *KVClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.frames = nil
	return err
}

// do sends one request and waits for its response. Status codes are
// returned as data; only transport failures are errors.
func (c *KVClient) do(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected to %s", c.addr)
	}

	deadline := time.Time{}
	if c.opts.ReadTimeout > 0 {
		deadline = time.Now().Add(c.opts.ReadTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	payload, err := req.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	if err := protocol.WriteFrame(c.conn, payload); err != nil {
		return nil, fmt.Errorf("failed to send %s to %s: %w", req.Operation, c.addr, err)
	}

	for {
		frame, err := c.frames.ReadFrame()
		if err != nil {
			return nil, fmt.Errorf("failed to read response from %s: %w", c.addr, err)
		}
		// blank frames carry no response
		if protocol.IsBlank(frame) {
			continue
		}
		return protocol.DecodeResponse(frame)
	}
}
