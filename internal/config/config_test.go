package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	poolx "github.com/seasbee/go-poolx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 10, config.Pool.MaxSize)
	assert.Equal(t, poolx.PreFillNone, config.Pool.PreFillMode)
	assert.False(t, config.Reporter.Enabled)
	assert.Equal(t, "/metrics", config.Metrics.Path)
	require.NoError(t, config.Validate())
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := writeFile(t, "pool.yaml", `
pool:
  name: orders
  min_size: 5
  max_size: 10
  pre_fill_mode: min
  acquisition_timeout: 2s
  validation:
    on_acquire: true
    interval: 250ms
  reaper:
    enabled: true
    interval: 1m
    idle_timeout: 5m
  factory:
    driver: postgres
    uri: postgres://localhost/orders
    properties:
      sslmode: disable
reporter:
  enabled: true
  interval: 15s
  redis_addr: redis:6379
`)

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "orders", config.Pool.Name)
	assert.Equal(t, 5, config.Pool.MinSize)
	assert.Equal(t, 10, config.Pool.MaxSize)
	assert.Equal(t, poolx.PreFillMin, config.Pool.PreFillMode)
	assert.Equal(t, 2*time.Second, config.Pool.AcquisitionTimeout)
	assert.Equal(t, 250*time.Millisecond, config.Pool.Validation.Interval)
	assert.Equal(t, time.Minute, config.Pool.Reaper.Interval)
	assert.Equal(t, "postgres", config.Pool.Factory.Driver)
	assert.Equal(t, "disable", config.Pool.Factory.Properties["sslmode"])
	assert.True(t, config.Reporter.Enabled)
	assert.Equal(t, 15*time.Second, config.Reporter.Interval)
	assert.Equal(t, "redis:6379", config.Reporter.RedisAddr)

	// Unset fields keep their defaults
	assert.True(t, config.Pool.MetricsEnabled)
	assert.Equal(t, "poolx:metrics", config.Reporter.KeyPrefix)
}

func TestLoadFromFile_TOML(t *testing.T) {
	path := writeFile(t, "pool.toml", `
[pool]
name = "inventory"
min_size = 2
max_size = 8
pre_fill_mode = "min"
metrics_enabled = false

[pool.factory]
driver = "mysql"
uri = "tcp(localhost:3306)/inventory"

[metrics]
addr = ":9100"
`)

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "inventory", config.Pool.Name)
	assert.Equal(t, 2, config.Pool.MinSize)
	assert.Equal(t, 8, config.Pool.MaxSize)
	assert.Equal(t, poolx.PreFillMin, config.Pool.PreFillMode)
	assert.False(t, config.Pool.MetricsEnabled)
	assert.Equal(t, "mysql", config.Pool.Factory.Driver)
	assert.Equal(t, ":9100", config.Metrics.Addr)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeFile(t, "pool.json", `{}`))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config file extension")

	_, err = LoadFromFile(writeFile(t, "pool.yaml", "pool: [unclosed"))
	assert.Error(t, err)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("POOLX_NAME", "env-pool")
	t.Setenv("POOLX_MIN_SIZE", "3")
	t.Setenv("POOLX_MAX_SIZE", "12")
	t.Setenv("POOLX_PREFILL_MODE", "MIN")
	t.Setenv("POOLX_ACQUISITION_TIMEOUT", "750ms")
	t.Setenv("POOLX_METRICS_ENABLED", "false")
	t.Setenv("POOLX_FACTORY_PASSWORD", "secret")
	t.Setenv("POOLX_REPORTER_ENABLED", "true")

	config := DefaultConfig()
	LoadFromEnvironment(config)

	assert.Equal(t, "env-pool", config.Pool.Name)
	assert.Equal(t, 3, config.Pool.MinSize)
	assert.Equal(t, 12, config.Pool.MaxSize)
	assert.Equal(t, poolx.PreFillMin, config.Pool.PreFillMode)
	assert.Equal(t, 750*time.Millisecond, config.Pool.AcquisitionTimeout)
	assert.False(t, config.Pool.MetricsEnabled)
	assert.Equal(t, "secret", config.Pool.Factory.Password)
	assert.True(t, config.Reporter.Enabled)
}

func TestLoadFromEnvironment_IgnoresInvalidValues(t *testing.T) {
	t.Setenv("POOLX_MAX_SIZE", "many")
	t.Setenv("POOLX_PREFILL_MODE", "all")
	t.Setenv("POOLX_ACQUISITION_TIMEOUT", "soon")

	config := DefaultConfig()
	LoadFromEnvironment(config)

	assert.Equal(t, 10, config.Pool.MaxSize)
	assert.Equal(t, poolx.PreFillNone, config.Pool.PreFillMode)
	assert.Equal(t, 30*time.Second, config.Pool.AcquisitionTimeout)
}

func TestLoad_Validates(t *testing.T) {
	path := writeFile(t, "pool.yaml", `
pool:
  min_size: 20
  max_size: 10
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, poolx.IsInvalidConfig(err))

	path = writeFile(t, "reporter.yaml", `
reporter:
  enabled: true
  interval: 0s
`)
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reporter.interval")
}

func TestLoad_Defaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "default", config.Pool.Name)
}
