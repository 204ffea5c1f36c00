package poolx

import (
	"fmt"
	"strings"
	"time"

	"github.com/seasbee/go-validatorx"
)

// PreFillMode selects how many connections the pool opens ahead of demand
type PreFillMode string

const (
	// PreFillNone opens connections only when callers need them
	PreFillNone PreFillMode = "none"
	// PreFillMin keeps at least MinSize connections open
	PreFillMin PreFillMode = "min"
)

// ParsePreFillMode parses a pre-fill mode name, case-insensitively
func ParsePreFillMode(s string) (PreFillMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PreFillNone):
		return PreFillNone, nil
	case string(PreFillMin):
		return PreFillMin, nil
	default:
		return "", fmt.Errorf("%w: unknown pre-fill mode %q", ErrInvalidConfig, s)
	}
}

// PoolConfig holds the connection pool configuration.
// The pool copies it on construction; changing the original afterwards has no effect.
type PoolConfig struct {
	Name string `yaml:"name" json:"name" toml:"name"`

	// Sizing
	MinSize     int         `yaml:"min_size" json:"min_size" toml:"min_size" validate:"gte:0"`
	MaxSize     int         `yaml:"max_size" json:"max_size" toml:"max_size" validate:"min:1,max:10000"`
	PreFillMode PreFillMode `yaml:"pre_fill_mode" json:"pre_fill_mode" toml:"pre_fill_mode"`

	// Acquisition
	AcquisitionTimeout time.Duration `yaml:"acquisition_timeout" json:"acquisition_timeout" toml:"acquisition_timeout" validate:"gte:0,lte:86400000000000"`

	// Observability
	MetricsEnabled     bool          `yaml:"metrics_enabled" json:"metrics_enabled" toml:"metrics_enabled"`
	MonitoringInterval time.Duration `yaml:"monitoring_interval" json:"monitoring_interval" toml:"monitoring_interval" validate:"gte:0,lte:86400000000000"`

	// Maintenance
	Validation         ValidationConfig `yaml:"validation" json:"validation" toml:"validation"`
	Reaper             ReaperConfig     `yaml:"reaper" json:"reaper" toml:"reaper"`
	Retry              RetryConfig      `yaml:"retry" json:"retry" toml:"retry"`
	MaintenanceWorkers int              `yaml:"maintenance_workers" json:"maintenance_workers" toml:"maintenance_workers" validate:"gte:0,lte:1000"`

	// Creation throttling; a zero rate disables the limiter
	CreationRateLimit float64 `yaml:"creation_rate_limit" json:"creation_rate_limit" toml:"creation_rate_limit"`
	CreationBurst     int     `yaml:"creation_burst" json:"creation_burst" toml:"creation_burst" validate:"gte:0"`

	// Opaque to the pool, read by concrete factories
	Factory FactoryConfig `yaml:"factory" json:"factory" toml:"factory"`
}

// ValidationConfig controls connection validation
type ValidationConfig struct {
	OnAcquire bool          `yaml:"on_acquire" json:"on_acquire" toml:"on_acquire"`
	OnRelease bool          `yaml:"on_release" json:"on_release" toml:"on_release"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" toml:"timeout"`
	// Slots validated more recently than Interval skip on-acquire validation
	Interval time.Duration `yaml:"interval" json:"interval" toml:"interval"`
}

// ReaperConfig controls background eviction of idle connections
type ReaperConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled" toml:"enabled"`
	Interval    time.Duration `yaml:"interval" json:"interval" toml:"interval"`
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime" json:"max_lifetime" toml:"max_lifetime"`
}

// RetryConfig controls the backoff used when pre-filling fails
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay" toml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay" toml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier" toml:"multiplier"`
	Jitter       bool          `yaml:"jitter" json:"jitter" toml:"jitter"`
}

// FactoryConfig describes the backing service. The pool never reads it.
type FactoryConfig struct {
	Driver     string            `yaml:"driver" json:"driver" toml:"driver"`
	URI        string            `yaml:"uri" json:"uri" toml:"uri"`
	Username   string            `yaml:"username" json:"username" toml:"username"`
	Password   string            `yaml:"password" json:"-" toml:"password"`
	Properties map[string]string `yaml:"properties" json:"properties" toml:"properties"`
}

// DefaultPoolConfig returns the default configuration
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Name:               "default",
		MinSize:            0,
		MaxSize:            10,
		PreFillMode:        PreFillNone,
		AcquisitionTimeout: 30 * time.Second,
		MetricsEnabled:     true,
		MonitoringInterval: 0,
		Validation: ValidationConfig{
			OnAcquire: true,
			Timeout:   5 * time.Second,
			Interval:  500 * time.Millisecond,
		},
		Reaper: ReaperConfig{
			Enabled:     true,
			Interval:    30 * time.Second,
			IdleTimeout: 10 * time.Minute,
			MaxLifetime: 30 * time.Minute,
		},
		Retry: RetryConfig{
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		MaintenanceWorkers: 4,
	}
}

// HighThroughputPoolConfig returns a configuration for busy services that keep a warm pool
func HighThroughputPoolConfig() *PoolConfig {
	cfg := DefaultPoolConfig()
	cfg.Name = "high-throughput"
	cfg.MinSize = 20
	cfg.MaxSize = 100
	cfg.PreFillMode = PreFillMin
	cfg.AcquisitionTimeout = 5 * time.Second
	cfg.Validation.Interval = 2 * time.Second
	cfg.Reaper.Interval = 15 * time.Second
	cfg.Reaper.IdleTimeout = 5 * time.Minute
	cfg.MaintenanceWorkers = 8
	cfg.MonitoringInterval = 30 * time.Second
	return cfg
}

// ConstrainedPoolConfig returns a configuration for backing services with few connection slots
func ConstrainedPoolConfig() *PoolConfig {
	cfg := DefaultPoolConfig()
	cfg.Name = "constrained"
	cfg.MinSize = 1
	cfg.MaxSize = 4
	cfg.PreFillMode = PreFillMin
	cfg.AcquisitionTimeout = 60 * time.Second
	cfg.Reaper.IdleTimeout = 2 * time.Minute
	cfg.MaintenanceWorkers = 1
	cfg.CreationRateLimit = 2
	cfg.CreationBurst = 1
	return cfg
}

// Validate checks the configuration, filling defaults for optional zero values
func (c *PoolConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: configuration cannot be nil", ErrInvalidConfig)
	}

	if c.MinSize < 0 {
		return fmt.Errorf("%w: min size cannot be negative", ErrInvalidConfig)
	}
	if c.MaxSize < 1 {
		return fmt.Errorf("%w: max size must be at least 1", ErrInvalidConfig)
	}
	if c.MinSize > c.MaxSize {
		return fmt.Errorf("%w: min size cannot exceed max size", ErrInvalidConfig)
	}
	if c.AcquisitionTimeout < 0 {
		return fmt.Errorf("%w: acquisition timeout cannot be negative", ErrInvalidConfig)
	}
	if c.CreationRateLimit < 0 {
		return fmt.Errorf("%w: creation rate limit cannot be negative", ErrInvalidConfig)
	}

	mode, err := ParsePreFillMode(string(c.PreFillMode))
	if err != nil {
		return err
	}
	c.PreFillMode = mode

	// Tag rules; cross-field rules above cannot be expressed as tags
	if result := validatorx.ValidateStruct(c); result != nil && !result.Valid {
		var errs []string
		for _, e := range result.Errors {
			errs = append(errs, fmt.Sprintf("%s: %s", e.Field, e.Message))
		}
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	if c.Name == "" {
		c.Name = "default"
	}
	if c.Validation.Timeout <= 0 {
		c.Validation.Timeout = 5 * time.Second
	}
	if c.Validation.Interval < 0 {
		c.Validation.Interval = 0
	}
	if c.Reaper.Enabled && c.Reaper.Interval <= 0 {
		c.Reaper.Interval = 30 * time.Second
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = 100 * time.Millisecond
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		c.Retry.MaxDelay = c.Retry.InitialDelay
	}
	if c.Retry.Multiplier < 1 {
		c.Retry.Multiplier = 2.0
	}
	if c.MaintenanceWorkers <= 0 {
		c.MaintenanceWorkers = 4
	}
	if c.CreationRateLimit > 0 && c.CreationBurst <= 0 {
		c.CreationBurst = 1
	}

	return nil
}

func (c *PoolConfig) clone() *PoolConfig {
	cp := *c
	if c.Factory.Properties != nil {
		cp.Factory.Properties = make(map[string]string, len(c.Factory.Properties))
		for k, v := range c.Factory.Properties {
			cp.Factory.Properties[k] = v
		}
	}
	return &cp
}
