package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/ringkv/internal/cache"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  node_name: node1
  host: 127.0.0.1
storage:
  data_dir: /tmp/ringkv
`))
	require.NoError(t, err)

	assert.Equal(t, 50052, cfg.Server.Port)
	assert.Equal(t, 9091, cfg.Server.AdminPort)
	assert.Equal(t, "127.0.0.1", cfg.Server.AdvertiseHost)
	assert.Equal(t, 1000, cfg.Server.MaxConnections)
	assert.Equal(t, cache.LRU, cfg.CacheStrategy())
	assert.Equal(t, 1024, cfg.Cache.Size)
	assert.Equal(t, "none", cfg.Registry.Backend)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, filepath.Join("/tmp/ringkv", "node1"), cfg.NodeDataDir())
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  node_name: node2
  host: 0.0.0.0
  advertise_host: kv2.internal
  port: 6002
  admin_port: 7002
  health_port: 8002
  max_connections: 16
cache:
  strategy: lfu
  size: 3
registry:
  backend: redis
  addr: redis:6379
migration:
  rate_limit: 500
  burst: 50
  dial_timeout: 2s
gossip:
  enabled: true
  seed_nodes: [kv1.internal:7946]
`))
	require.NoError(t, err)

	assert.Equal(t, "kv2.internal", cfg.Server.AdvertiseHost)
	assert.Equal(t, 6002, cfg.Server.Port)
	assert.Equal(t, 8002, cfg.Server.HealthPort)
	assert.Equal(t, cache.LFU, cfg.CacheStrategy())
	assert.Equal(t, 3, cfg.Cache.Size)
	assert.Equal(t, "redis:6379", cfg.Registry.Addr)
	assert.Equal(t, 500.0, cfg.Migration.RateLimit)
	assert.Equal(t, 2*time.Second, cfg.Migration.DialTimeout)
	assert.True(t, cfg.Gossip.Enabled)
	assert.Equal(t, []string{"kv1.internal:7946"}, cfg.Gossip.SeedNodes)
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing node name", `server: {port: 5000}`},
		{"port out of range", `server: {node_name: n, port: 70000}`},
		{"unknown strategy", `{server: {node_name: n}, cache: {strategy: ARC}}`},
		{"negative cache size", `{server: {node_name: n}, cache: {size: -1}}`},
		{"redis without addr", `{server: {node_name: n}, registry: {backend: redis}}`},
		{"unknown backend", `{server: {node_name: n}, registry: {backend: etcd}}`},
		{"inverted disk thresholds", `{server: {node_name: n}, storage: {disk_warning_percent: 99, disk_critical_percent: 90}}`},
		{"not yaml", `server: [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("RINGKV_NODE_NAME", "from-env")
	t.Setenv("RINGKV_PORT", "6100")

	cfg, err := Parse([]byte(`server: {node_name: from-file, port: 5000}`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.NodeName)
	assert.Equal(t, 6100, cfg.Server.Port)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  node_name: node1\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "node1", cfg.Server.NodeName)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBuildLogger(t *testing.T) {
	logger, err := LoggingConfig{Level: "debug", Format: "console"}.BuildLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	logger, err = LoggingConfig{}.BuildLogger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	_, err = LoggingConfig{Level: "loud"}.BuildLogger()
	assert.Error(t, err)
}
