package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	poolx "github.com/seasbee/go-poolx"
	"gopkg.in/yaml.v3"
)

// Config holds the complete configuration of a pool-backed service
type Config struct {
	Pool     poolx.PoolConfig `yaml:"pool" toml:"pool"`
	Reporter ReporterConfig   `yaml:"reporter" toml:"reporter"`
	Metrics  MetricsConfig    `yaml:"metrics" toml:"metrics"`
	Tracing  TracingConfig    `yaml:"tracing" toml:"tracing"`
}

// ReporterConfig holds snapshot publishing settings
type ReporterConfig struct {
	Enabled   bool          `yaml:"enabled" toml:"enabled"`
	Interval  time.Duration `yaml:"interval" toml:"interval"`
	RedisAddr string        `yaml:"redis_addr" toml:"redis_addr"`
	KeyPrefix string        `yaml:"key_prefix" toml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl" toml:"ttl"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Addr      string `yaml:"addr" toml:"addr"`
	Path      string `yaml:"path" toml:"path"`
	Namespace string `yaml:"namespace" toml:"namespace"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	ServiceName string `yaml:"service_name" toml:"service_name"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Pool: *poolx.DefaultPoolConfig(),
		Reporter: ReporterConfig{
			Enabled:   false,
			Interval:  10 * time.Second,
			RedisAddr: "localhost:6379",
			KeyPrefix: "poolx:metrics",
			TTL:       time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Addr:      ":9090",
			Path:      "/metrics",
			Namespace: "poolx",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "poolx",
		},
	}
}

// LoadFromFile loads configuration from a YAML (.yaml, .yml) or TOML (.toml)
// file, then applies environment overrides. TOML durations are integer
// nanoseconds; YAML accepts Go duration strings such as "30s".
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".toml":
		err = toml.Unmarshal(data, config)
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	// Override with environment variables
	LoadFromEnvironment(config)

	return config, nil
}

// Load reads filename if given, falling back to defaults plus environment
// overrides, and validates the result
func Load(filename string) (*Config, error) {
	var config *Config
	if filename != "" {
		var err error
		if config, err = LoadFromFile(filename); err != nil {
			return nil, err
		}
	} else {
		config = DefaultConfig()
		LoadFromEnvironment(config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromEnvironment applies POOLX_* environment variables. Values that do
// not parse are ignored.
func LoadFromEnvironment(config *Config) {
	// Pool configuration
	if name := os.Getenv("POOLX_NAME"); name != "" {
		config.Pool.Name = name
	}
	if minSize := os.Getenv("POOLX_MIN_SIZE"); minSize != "" {
		if size, err := strconv.Atoi(minSize); err == nil {
			config.Pool.MinSize = size
		}
	}
	if maxSize := os.Getenv("POOLX_MAX_SIZE"); maxSize != "" {
		if size, err := strconv.Atoi(maxSize); err == nil {
			config.Pool.MaxSize = size
		}
	}
	if mode := os.Getenv("POOLX_PREFILL_MODE"); mode != "" {
		if m, err := poolx.ParsePreFillMode(mode); err == nil {
			config.Pool.PreFillMode = m
		}
	}
	if timeout := os.Getenv("POOLX_ACQUISITION_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Pool.AcquisitionTimeout = d
		}
	}
	if metrics := os.Getenv("POOLX_METRICS_ENABLED"); metrics != "" {
		config.Pool.MetricsEnabled = metrics == "true"
	}

	// Factory configuration
	if uri := os.Getenv("POOLX_FACTORY_URI"); uri != "" {
		config.Pool.Factory.URI = uri
	}
	if username := os.Getenv("POOLX_FACTORY_USERNAME"); username != "" {
		config.Pool.Factory.Username = username
	}
	if password := os.Getenv("POOLX_FACTORY_PASSWORD"); password != "" {
		config.Pool.Factory.Password = password
	}

	// Reporter configuration
	if enabled := os.Getenv("POOLX_REPORTER_ENABLED"); enabled != "" {
		config.Reporter.Enabled = enabled == "true"
	}
	if addr := os.Getenv("POOLX_REPORTER_REDIS_ADDR"); addr != "" {
		config.Reporter.RedisAddr = addr
	}

	// Observability configuration
	if addr := os.Getenv("POOLX_METRICS_ADDR"); addr != "" {
		config.Metrics.Addr = addr
	}
	if tracing := os.Getenv("POOLX_TRACING_ENABLED"); tracing != "" {
		config.Tracing.Enabled = tracing == "true"
	}
}

// Validate validates the configuration, filling pool defaults
func (c *Config) Validate() error {
	if err := c.Pool.Validate(); err != nil {
		return err
	}

	if c.Reporter.Enabled {
		if c.Reporter.Interval <= 0 {
			return fmt.Errorf("reporter.interval must be positive")
		}
		if c.Reporter.RedisAddr == "" {
			return fmt.Errorf("reporter.redis_addr must be specified")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be specified")
	}

	return nil
}
