package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/devrev/ringkv/internal/client"
	"github.com/devrev/ringkv/internal/errors"
	"github.com/devrev/ringkv/internal/metrics"
	"github.com/devrev/ringkv/internal/model"
	"github.com/devrev/ringkv/internal/protocol"
)

// Sender is the part of a node client used to forward keys
type Sender interface {
	Put(ctx context.Context, key, value string) (*protocol.Response, error)
	Close() error
}

// DialFunc opens a connection to the node at addr
type DialFunc func(ctx context.Context, addr string) (Sender, error)

// MigrationConfig holds migration configuration
type MigrationConfig struct {
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	// RateLimit caps forwarded keys per second; zero disables the limit
	RateLimit float64
	Burst     int
}

// MigrationResult describes one run of MoveData
type MigrationResult struct {
	ID          string          `json:"id"`
	Target      string          `json:"target"`
	Range       model.HashRange `json:"range"`
	KeysScanned int             `json:"keys_scanned"`
	KeysMatched int             `json:"keys_matched"`
	KeysSent    int             `json:"keys_sent"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
}

// MigrationService forwards hash ranges of a node's keys to other nodes
type MigrationService struct {
	cfg     MigrationConfig
	dial    DialFunc
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewMigrationService creates a migration service that dials targets with
// the wire protocol client
func NewMigrationService(cfg MigrationConfig, m *metrics.Metrics, logger *zap.Logger) *MigrationService {
	opts := client.Options{DialTimeout: cfg.DialTimeout, ReadTimeout: cfg.RequestTimeout}
	dial := func(ctx context.Context, addr string) (Sender, error) {
		c := client.NewKVClient(addr, opts, logger)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
	return NewMigrationServiceWithDialer(cfg, dial, m, logger)
}

// NewMigrationServiceWithDialer creates a migration service with a custom
// connection factory
func NewMigrationServiceWithDialer(cfg MigrationConfig, dial DialFunc, m *metrics.Metrics, logger *zap.Logger) *MigrationService {
	return &MigrationService{
		cfg:     cfg,
		dial:    dial,
		metrics: m,
		logger:  logger,
	}
}

func (ms *MigrationService) limiter() *rate.Limiter {
	if ms.cfg.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := ms.cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(ms.cfg.RateLimit), burst)
}

// Migrate copies the keys of node inside r to target. Enumeration and
// reads happen under the node lock; sending does not. The first failed
// send aborts the run and keys already sent stay on the target.
func (ms *MigrationService) Migrate(ctx context.Context, node *StorageService, r model.HashRange, target string) (*MigrationResult, error) {
	result := &MigrationResult{
		ID:        uuid.New().String(),
		Target:    target,
		Range:     r,
		StartedAt: time.Now(),
	}
	logger := ms.logger.With(
		zap.String("migration_id", result.ID),
		zap.String("target", target),
		zap.String("range", r.String()))

	finish := func(err error) (*MigrationResult, error) {
		result.Duration = time.Since(result.StartedAt)
		outcome := "success"
		if err != nil {
			outcome = "failed"
			logger.Error("Migration failed",
				zap.Int("keys_sent", result.KeysSent),
				zap.Int("keys_matched", result.KeysMatched),
				zap.Error(err))
		} else {
			logger.Info("Migration completed",
				zap.Int("keys_sent", result.KeysSent),
				zap.Int("keys_scanned", result.KeysScanned),
				zap.Duration("duration", result.Duration))
		}
		ms.metrics.RecordMigration(outcome, result.KeysSent, result.Duration.Seconds())
		return result, err
	}

	if target == node.Metadata().Name {
		return finish(errors.InvalidArgument("cannot migrate a range to the source node", nil))
	}
	dest, err := node.resolve(target)
	if err != nil {
		return finish(err)
	}

	pairs, scanned, err := node.snapshotRange(r)
	result.KeysScanned = scanned
	if err != nil {
		return finish(errors.MigrationFailed(target, 0, fmt.Errorf("failed to read local keys: %w", err)))
	}
	result.KeysMatched = len(pairs)

	logger.Info("Starting migration",
		zap.String("addr", dest.Addr()),
		zap.Int("keys", len(pairs)))

	sender, err := ms.dial(ctx, dest.Addr())
	if err != nil {
		return finish(errors.MigrationFailed(target, 0, err))
	}
	defer sender.Close()

	limiter := ms.limiter()
	for _, p := range pairs {
		if err := limiter.Wait(ctx); err != nil {
			return finish(errors.MigrationFailed(target, result.KeysSent, err))
		}
		resp, err := sender.Put(ctx, p.key, p.value)
		if err != nil {
			return finish(errors.MigrationFailed(target, result.KeysSent, err))
		}
		if resp.Status.IsError() {
			return finish(errors.MigrationFailed(target, result.KeysSent,
				fmt.Errorf("target rejected key %s with %s", p.key, resp.Status)))
		}
		result.KeysSent++
	}

	return finish(nil)
}
