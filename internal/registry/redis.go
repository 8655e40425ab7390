package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisPrefix namespaces registry keys in a shared Redis
const DefaultRedisPrefix = "ringkv:registry"

// RedisOptions configures a RedisRegistry
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisRegistry stores each record as a string key and the children of a
// path as a Redis set
type RedisRegistry struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisRegistry connects to Redis and verifies the connection
func NewRedisRegistry(opts RedisOptions, logger *zap.Logger) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Connected to Redis registry",
		zap.String("addr", opts.Addr),
		zap.String("prefix", prefix))

	return &RedisRegistry{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

func (r *RedisRegistry) recordKey(p string) string {
	return r.prefix + ":record:" + Clean(p)
}

func (r *RedisRegistry) childrenKey(p string) string {
	return r.prefix + ":children:" + Clean(p)
}

// Children returns the sorted members of the set holding the children of p
func (r *RedisRegistry) Children(ctx context.Context, p string) ([]string, error) {
	names, err := r.client.SMembers(ctx, r.childrenKey(p)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Get returns the record at p, or ErrNotFound
func (r *RedisRegistry) Get(ctx context.Context, p string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.recordKey(p)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set writes the record and links it under its parent in one transaction
func (r *RedisRegistry) Set(ctx context.Context, p string, data []byte) error {
	parent, name := split(p)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.recordKey(p), data, 0)
		pipe.SAdd(ctx, r.childrenKey(parent), name)
		return nil
	})
	return err
}

// Delete removes the record and its link from the parent in one
// transaction. Deleting an absent record succeeds.
func (r *RedisRegistry) Delete(ctx context.Context, p string) error {
	parent, name := split(p)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.recordKey(p))
		pipe.SRem(ctx, r.childrenKey(parent), name)
		return nil
	})
	return err
}

// Ping checks the Redis connection
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

// Open returns the registry selected by backend: "memory", "redis", or
// "none", which yields a nil Registry
func Open(backend string, opts RedisOptions, logger *zap.Logger) (Registry, error) {
	switch backend {
	case "none", "":
		return nil, nil
	case "memory":
		return NewMemoryRegistry(), nil
	case "redis":
		reg, err := NewRedisRegistry(opts, logger)
		if err != nil {
			return nil, err
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q", backend)
	}
}
