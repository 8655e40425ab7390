package diskmanager

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/ringkv/internal/errors"
)

// Usage is a point-in-time view of the filesystem holding the data directory
type Usage struct {
	UsagePercent   float64
	AvailableBytes uint64
	TotalBytes     uint64
}

// StatFunc reports filesystem usage for a directory
type StatFunc func(dir string) (Usage, error)

// DiskManager caches filesystem usage for the data directory and refuses
// writes once usage crosses the circuit breaker threshold
type DiskManager struct {
	dataDir       string
	logger        *zap.Logger
	stat          StatFunc
	checkInterval time.Duration

	warningThreshold        float64
	circuitBreakerThreshold float64

	mu           sync.Mutex
	lastCheck    time.Time
	usage        Usage
	circuitBroke bool
}

// Config holds configuration for the disk manager
type Config struct {
	DataDir                 string
	CheckInterval           time.Duration
	WarningThreshold        float64
	CircuitBreakerThreshold float64
}

// DefaultConfig returns default disk manager configuration
func DefaultConfig(dataDir string) *Config {
	return &Config{
		DataDir:                 dataDir,
		CheckInterval:           10 * time.Second,
		WarningThreshold:        85.0,
		CircuitBreakerThreshold: 95.0,
	}
}

// New creates a disk manager that reads usage with statfs
func New(cfg *Config, logger *zap.Logger) (*DiskManager, error) {
	return NewWithStat(cfg, StatFS, logger)
}

// NewWithStat creates a disk manager with a custom usage source
func NewWithStat(cfg *Config, stat StatFunc, logger *zap.Logger) (*DiskManager, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if cfg.CircuitBreakerThreshold <= 0 || cfg.CircuitBreakerThreshold > 100 {
		return nil, fmt.Errorf("circuit breaker threshold must be in (0, 100], got %.2f", cfg.CircuitBreakerThreshold)
	}

	dm := &DiskManager{
		dataDir:                 cfg.DataDir,
		logger:                  logger,
		stat:                    stat,
		checkInterval:           cfg.CheckInterval,
		warningThreshold:        cfg.WarningThreshold,
		circuitBreakerThreshold: cfg.CircuitBreakerThreshold,
	}

	dm.mu.Lock()
	if err := dm.refreshLocked(); err != nil {
		logger.Warn("Initial disk space check failed", zap.Error(err))
	}
	dm.mu.Unlock()

	return dm, nil
}

// CheckBeforeWrite returns a DiskFull error when a write of the given size
// should be rejected. A nil manager never rejects.
func (dm *DiskManager) CheckBeforeWrite(estimatedBytes uint64) error {
	if dm == nil {
		return nil
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if time.Since(dm.lastCheck) > dm.checkInterval {
		if err := dm.refreshLocked(); err != nil {
			dm.logger.Warn("Disk space check failed", zap.Error(err))
		}
	}

	if dm.circuitBroke || estimatedBytes > dm.usage.AvailableBytes {
		return errors.DiskFull(dm.usage.UsagePercent, dm.usage.AvailableBytes)
	}
	return nil
}

// Usage returns the cached usage, refreshing it when stale
func (dm *DiskManager) Usage() Usage {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if time.Since(dm.lastCheck) > dm.checkInterval {
		if err := dm.refreshLocked(); err != nil {
			dm.logger.Warn("Disk space check failed", zap.Error(err))
		}
	}
	return dm.usage
}

// ForceCheck refreshes usage immediately
func (dm *DiskManager) ForceCheck() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.refreshLocked()
}

// refreshLocked must be called with mu held
func (dm *DiskManager) refreshLocked() error {
	usage, err := dm.stat(dm.dataDir)
	if err != nil {
		return err
	}

	dm.usage = usage
	dm.lastCheck = time.Now()

	previouslyBroken := dm.circuitBroke
	dm.circuitBroke = usage.UsagePercent >= dm.circuitBreakerThreshold

	if dm.circuitBroke && !previouslyBroken {
		dm.logger.Error("Disk circuit breaker ENGAGED",
			zap.Float64("usage_percent", usage.UsagePercent),
			zap.Uint64("available_bytes", usage.AvailableBytes),
			zap.Float64("threshold", dm.circuitBreakerThreshold))
	} else if !dm.circuitBroke && previouslyBroken {
		dm.logger.Info("Disk circuit breaker DISENGAGED",
			zap.Float64("usage_percent", usage.UsagePercent),
			zap.Uint64("available_bytes", usage.AvailableBytes))
	} else if !dm.circuitBroke && usage.UsagePercent >= dm.warningThreshold {
		dm.logger.Warn("Disk usage warning",
			zap.Float64("usage_percent", usage.UsagePercent),
			zap.Float64("warning_threshold", dm.warningThreshold))
	}

	return nil
}

// StatFS reads usage of the filesystem containing dir
func StatFS(dir string) (Usage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return Usage{}, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	total := stat.Blocks * uint64(stat.Bsize)
	available := stat.Bavail * uint64(stat.Bsize)
	var pct float64
	if total > 0 {
		pct = float64(total-available) / float64(total) * 100.0
	}
	return Usage{UsagePercent: pct, AvailableBytes: available, TotalBytes: total}, nil
}
