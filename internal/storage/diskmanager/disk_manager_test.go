package diskmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/ringkv/internal/errors"
)

func fixedStat(u *Usage) StatFunc {
	return func(string) (Usage, error) { return *u, nil }
}

func TestCheckBeforeWrite(t *testing.T) {
	usage := &Usage{UsagePercent: 40, AvailableBytes: 1 << 20, TotalBytes: 2 << 20}
	cfg := DefaultConfig(t.TempDir())
	cfg.CheckInterval = 0

	dm, err := NewWithStat(cfg, fixedStat(usage), zap.NewNop())
	require.NoError(t, err)

	assert.NoError(t, dm.CheckBeforeWrite(1024))

	err = dm.CheckBeforeWrite(2 << 20)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDiskFull, errors.GetCode(err))

	usage.UsagePercent = 97
	err = dm.CheckBeforeWrite(1)
	assert.Equal(t, errors.ErrCodeDiskFull, errors.GetCode(err))

	usage.UsagePercent = 50
	assert.NoError(t, dm.CheckBeforeWrite(1))
}

func TestCachedUsage(t *testing.T) {
	usage := &Usage{UsagePercent: 10, AvailableBytes: 100}
	cfg := DefaultConfig(t.TempDir())
	cfg.CheckInterval = time.Hour

	dm, err := NewWithStat(cfg, fixedStat(usage), zap.NewNop())
	require.NoError(t, err)

	usage.UsagePercent = 99
	assert.Equal(t, 10.0, dm.Usage().UsagePercent)

	require.NoError(t, dm.ForceCheck())
	assert.Equal(t, 99.0, dm.Usage().UsagePercent)
}

func TestNilManagerAllowsWrites(t *testing.T) {
	var dm *DiskManager
	assert.NoError(t, dm.CheckBeforeWrite(1<<40))
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(&Config{}, zap.NewNop())
	assert.Error(t, err)

	_, err = New(&Config{DataDir: t.TempDir(), CircuitBreakerThreshold: 120}, zap.NewNop())
	assert.Error(t, err)
}

func TestStatFS(t *testing.T) {
	u, err := StatFS(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, u.TotalBytes, uint64(0))
	assert.GreaterOrEqual(t, u.UsagePercent, 0.0)
	assert.LessOrEqual(t, u.UsagePercent, 100.0)
}
