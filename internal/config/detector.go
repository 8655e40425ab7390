package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DetectorConfig represents the failure detector configuration
type DetectorConfig struct {
	Interval     time.Duration  `mapstructure:"interval"`
	ProbeTimeout time.Duration  `mapstructure:"probe_timeout"`
	Concurrency  int            `mapstructure:"concurrency"`
	MetricsPort  int            `mapstructure:"metrics_port"`
	Registry     RegistryConfig `mapstructure:"registry"`
	Logging      LoggingConfig  `mapstructure:"logging"`
}

func setDetectorDefaults(v *viper.Viper) {
	v.SetDefault("interval", 30*time.Second)
	v.SetDefault("probe_timeout", 3*time.Second)
	v.SetDefault("concurrency", 16)
	v.SetDefault("metrics_port", 9092)
	v.SetDefault("registry.backend", "redis")
	v.SetDefault("registry.addr", "localhost:6379")
	v.SetDefault("registry.password", "")
	v.SetDefault("registry.db", 0)
	v.SetDefault("registry.prefix", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// LoadDetectorConfig reads the detector configuration from configPath, if
// given, with FD_ prefixed environment variables taking precedence
// (FD_INTERVAL, FD_REGISTRY_ADDR, ...)
func LoadDetectorConfig(configPath string) (*DetectorConfig, error) {
	v := viper.New()
	setDetectorDefaults(v)

	v.SetEnvPrefix("FD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg DetectorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration
func (c *DetectorConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port must be between 0 and 65535")
	}
	if c.Registry.Backend == "none" {
		return fmt.Errorf("the failure detector needs a registry")
	}
	return c.Registry.Validate()
}
