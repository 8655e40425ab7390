package service

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devrev/ringkv/internal/client"
	"github.com/devrev/ringkv/internal/errors"
	"github.com/devrev/ringkv/internal/metrics"
	"github.com/devrev/ringkv/internal/model"
	"github.com/devrev/ringkv/internal/registry"
)

// ProbeKey is the sentinel key requested from every node
const ProbeKey = "test"

// FailureDetectorConfig holds failure detector configuration
type FailureDetectorConfig struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	// Concurrency bounds the number of nodes probed at once
	Concurrency int
}

// DefaultFailureDetectorConfig returns the default detector configuration
func DefaultFailureDetectorConfig() FailureDetectorConfig {
	return FailureDetectorConfig{
		Interval:     30 * time.Second,
		ProbeTimeout: 3 * time.Second,
		Concurrency:  16,
	}
}

// ProbeFunc checks that the node at addr answers a request
type ProbeFunc func(ctx context.Context, addr string) error

// FailureDetector periodically probes every node registered in the
// registry and writes the names of unresponsive ones back to it
type FailureDetector struct {
	reg     registry.Registry
	cfg     FailureDetectorConfig
	probe   ProbeFunc
	metrics *metrics.DetectorMetrics
	logger  *zap.Logger
}

// NewFailureDetector creates a detector probing nodes over the wire
// protocol. It fails if the registry cannot be reached.
func NewFailureDetector(
	ctx context.Context,
	reg registry.Registry,
	cfg FailureDetectorConfig,
	m *metrics.DetectorMetrics,
	logger *zap.Logger,
) (*FailureDetector, error) {
	opts := client.Options{DialTimeout: cfg.ProbeTimeout, ReadTimeout: cfg.ProbeTimeout}
	probe := func(ctx context.Context, addr string) error {
		c := client.NewKVClient(addr, opts, logger)
		if err := c.Connect(ctx); err != nil {
			return err
		}
		defer c.Close()
		_, err := c.Get(ctx, ProbeKey)
		return err
	}
	return NewFailureDetectorWithProbe(ctx, reg, cfg, probe, m, logger)
}

// NewFailureDetectorWithProbe creates a detector with a custom probe
func NewFailureDetectorWithProbe(
	ctx context.Context,
	reg registry.Registry,
	cfg FailureDetectorConfig,
	probe ProbeFunc,
	m *metrics.DetectorMetrics,
	logger *zap.Logger,
) (*FailureDetector, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("detection interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if err := reg.Ping(ctx); err != nil {
		return nil, errors.RegistryFailed("registry unreachable", err)
	}

	return &FailureDetector{
		reg:     reg,
		cfg:     cfg,
		probe:   probe,
		metrics: m,
		logger:  logger,
	}, nil
}

// Run detects failures every interval until ctx is done
func (fd *FailureDetector) Run(ctx context.Context) error {
	fd.logger.Info("Failure detector started",
		zap.Duration("interval", fd.cfg.Interval),
		zap.Duration("probe_timeout", fd.cfg.ProbeTimeout))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			fd.logger.Info("Failure detector stopped")
			return ctx.Err()
		case <-timer.C:
		}

		fd.DetectOnce(ctx)
		timer.Reset(fd.cfg.Interval)
	}
}

// DetectOnce runs one cycle: list nodes, probe each, report the
// unresponsive ones. Registry errors are logged and end the cycle early. A
// cycle interrupted by ctx writes no report.
func (fd *FailureDetector) DetectOnce(ctx context.Context) []model.ProbeResult {
	start := time.Now()

	nodes, err := registry.ListNodes(ctx, fd.reg)
	if err != nil {
		if nodes == nil {
			fd.logger.Error("Failed to list nodes", zap.Error(err))
			return nil
		}
		fd.logger.Warn("Skipped unreadable node records", zap.Error(err))
	}

	results := fd.probeAll(ctx, nodes)
	if ctx.Err() != nil {
		// probes cut short by shutdown say nothing about the nodes
		fd.logger.Info("Detection cycle abandoned", zap.Error(ctx.Err()))
		return nil
	}

	var failed []string
	for _, r := range results {
		fd.metrics.RecordProbe(string(r.Status))
		if r.Status == model.NodeStatusUnresponsive {
			failed = append(failed, r.NodeName)
			fd.logger.Warn("Node unresponsive",
				zap.String("node", r.NodeName),
				zap.String("addr", r.Addr),
				zap.Error(r.Err))
		}
	}
	sort.Strings(failed)

	if err := registry.WriteFailureReport(ctx, fd.reg, failed, len(results)); err != nil {
		fd.metrics.RecordReportFailure()
		fd.logger.Error("Failed to write failure report", zap.Error(err))
	}

	fd.metrics.RecordCycle(time.Since(start).Seconds(), len(failed))
	fd.logger.Info("Detection cycle completed",
		zap.Int("probed", len(results)),
		zap.Int("unresponsive", len(failed)),
		zap.Duration("duration", time.Since(start)))

	return results
}

func (fd *FailureDetector) probeAll(ctx context.Context, nodes []model.RegistryRecord) []model.ProbeResult {
	results := make([]model.ProbeResult, len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fd.cfg.Concurrency)

	for i, node := range nodes {
		i, node := i, node
		g.Go(func() error {
			addr := net.JoinHostPort(node.NodeHost, strconv.Itoa(node.NodePort))
			pctx, cancel := context.WithTimeout(gctx, fd.cfg.ProbeTimeout)
			defer cancel()

			result := model.ProbeResult{NodeName: node.NodeName, Addr: addr, Status: model.NodeStatusHealthy}
			if err := fd.probe(pctx, addr); err != nil {
				result.Status = model.NodeStatusUnresponsive
				result.Err = err
			}
			results[i] = result
			return nil
		})
	}
	g.Wait()

	return results
}
