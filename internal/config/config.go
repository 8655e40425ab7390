package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devrev/ringkv/internal/cache"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	NodeName string `yaml:"node_name"`
	Host     string `yaml:"host"`
	// AdvertiseHost is the host other nodes and the registry see; defaults
	// to Host, or the machine hostname when Host is a wildcard
	AdvertiseHost   string        `yaml:"advertise_host"`
	Port            int           `yaml:"port"`
	AdminPort       int           `yaml:"admin_port"`
	HealthPort      int           `yaml:"health_port"`
	MaxConnections  int           `yaml:"max_connections"`
	Backlog         int           `yaml:"backlog"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Config represents the complete configuration for a storage node
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Registry  RegistryConfig  `yaml:"registry"`
	Migration MigrationConfig `yaml:"migration"`
	Gossip    GossipConfig    `yaml:"gossip"`
	Health    HealthConfig    `yaml:"health"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig holds storage configuration. Records live in a
// subdirectory of DataDir named after the node.
type StorageConfig struct {
	DataDir             string        `yaml:"data_dir"`
	DiskCheckInterval   time.Duration `yaml:"disk_check_interval"`
	DiskWarningPercent  float64       `yaml:"disk_warning_percent"`
	DiskCriticalPercent float64       `yaml:"disk_critical_percent"`
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	Strategy string `yaml:"strategy"`
	Size     int    `yaml:"size"`
}

// RegistryConfig selects the coordination registry backend
type RegistryConfig struct {
	// Backend is one of "none", "memory" or "redis"
	Backend  string `yaml:"backend" mapstructure:"backend"`
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// MigrationConfig holds range migration configuration
type MigrationConfig struct {
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// RateLimit is in keys per second; zero means unlimited
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled           bool          `yaml:"enabled"`
	DiskStatsInterval time.Duration `yaml:"disk_stats_interval"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and environment
// overrides, and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvironmentOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyEnvironmentOverrides(cfg *Config) {
	if name := os.Getenv("RINGKV_NODE_NAME"); name != "" {
		cfg.Server.NodeName = name
	}
	if port := os.Getenv("RINGKV_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if dir := os.Getenv("RINGKV_DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if addr := os.Getenv("RINGKV_REGISTRY_ADDR"); addr != "" {
		cfg.Registry.Addr = addr
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.AdvertiseHost == "" {
		cfg.Server.AdvertiseHost = cfg.Server.Host
		if cfg.Server.Host == "0.0.0.0" || cfg.Server.Host == "::" {
			if hostname, err := os.Hostname(); err == nil {
				cfg.Server.AdvertiseHost = hostname
			}
		}
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 50052
	}
	if cfg.Server.AdminPort == 0 {
		cfg.Server.AdminPort = 9091
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = 1000
	}
	if cfg.Server.Backlog == 0 {
		cfg.Server.Backlog = 128
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/var/lib/ringkv"
	}
	if cfg.Storage.DiskCheckInterval == 0 {
		cfg.Storage.DiskCheckInterval = 10 * time.Second
	}
	if cfg.Storage.DiskWarningPercent == 0 {
		cfg.Storage.DiskWarningPercent = 85
	}
	if cfg.Storage.DiskCriticalPercent == 0 {
		cfg.Storage.DiskCriticalPercent = 95
	}

	if cfg.Cache.Strategy == "" {
		cfg.Cache.Strategy = string(cache.LRU)
	}
	if cfg.Cache.Size == 0 {
		cfg.Cache.Size = 1024
	}

	if cfg.Registry.Backend == "" {
		cfg.Registry.Backend = "none"
	}

	if cfg.Migration.DialTimeout == 0 {
		cfg.Migration.DialTimeout = 5 * time.Second
	}
	if cfg.Migration.RequestTimeout == 0 {
		cfg.Migration.RequestTimeout = 10 * time.Second
	}

	if cfg.Gossip.BindPort == 0 {
		cfg.Gossip.BindPort = 7946
	}
	if cfg.Gossip.GossipInterval == 0 {
		cfg.Gossip.GossipInterval = 200 * time.Millisecond
	}
	if cfg.Gossip.ProbeTimeout == 0 {
		cfg.Gossip.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.Gossip.ProbeInterval == 0 {
		cfg.Gossip.ProbeInterval = time.Second
	}

	if cfg.Health.CheckInterval == 0 {
		cfg.Health.CheckInterval = 10 * time.Second
	}
	if cfg.Metrics.DiskStatsInterval == 0 {
		cfg.Metrics.DiskStatsInterval = 15 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeName == "" {
		return fmt.Errorf("server.node_name is required")
	}
	for name, port := range map[string]int{"server.port": c.Server.Port, "server.admin_port": c.Server.AdminPort} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535", name)
		}
	}
	if c.Server.HealthPort < 0 || c.Server.HealthPort > 65535 {
		return fmt.Errorf("server.health_port must be between 0 and 65535")
	}
	if c.Server.MaxConnections < 1 {
		return fmt.Errorf("server.max_connections must be positive")
	}
	if c.Server.Backlog < 0 {
		return fmt.Errorf("server.backlog must not be negative")
	}
	if _, err := cache.ParseStrategy(c.Cache.Strategy); err != nil {
		return fmt.Errorf("cache.strategy: %w", err)
	}
	if c.Cache.Size < 1 {
		return fmt.Errorf("cache.size must be positive")
	}
	if c.Storage.DiskWarningPercent > c.Storage.DiskCriticalPercent || c.Storage.DiskCriticalPercent > 100 {
		return fmt.Errorf("storage disk thresholds must satisfy warning <= critical <= 100")
	}
	if err := c.Registry.Validate(); err != nil {
		return err
	}
	if c.Migration.RateLimit < 0 {
		return fmt.Errorf("migration.rate_limit must not be negative")
	}
	return nil
}

// Validate validates the registry selection
func (r *RegistryConfig) Validate() error {
	switch r.Backend {
	case "none", "memory":
		return nil
	case "redis":
		if r.Addr == "" {
			return fmt.Errorf("registry.addr is required for the redis backend")
		}
		return nil
	default:
		return fmt.Errorf("registry.backend must be one of: none, memory, redis")
	}
}

// NodeDataDir is the directory holding this node's records
func (c *Config) NodeDataDir() string {
	return filepath.Join(c.Storage.DataDir, c.Server.NodeName)
}

// CacheStrategy returns the parsed cache strategy
func (c *Config) CacheStrategy() cache.Strategy {
	s, _ := cache.ParseStrategy(c.Cache.Strategy)
	return s
}
