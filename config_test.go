package poolx_test

import (
	"testing"
	"time"

	poolx "github.com/seasbee/go-poolx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresets_AreValid(t *testing.T) {
	presets := map[string]*poolx.PoolConfig{
		"default":         poolx.DefaultPoolConfig(),
		"high-throughput": poolx.HighThroughputPoolConfig(),
		"constrained":     poolx.ConstrainedPoolConfig(),
	}

	for name, config := range presets {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, config.Validate())
			assert.Equal(t, name, config.Name)
			assert.LessOrEqual(t, config.MinSize, config.MaxSize)
		})
	}
}

func TestDefaultPoolConfig(t *testing.T) {
	config := poolx.DefaultPoolConfig()
	assert.Equal(t, 0, config.MinSize)
	assert.Equal(t, 10, config.MaxSize)
	assert.Equal(t, poolx.PreFillNone, config.PreFillMode)
	assert.Equal(t, 30*time.Second, config.AcquisitionTimeout)
	assert.True(t, config.MetricsEnabled)
	assert.True(t, config.Validation.OnAcquire)
	assert.True(t, config.Reaper.Enabled)
}

func TestPoolConfig_ValidateFillsDefaults(t *testing.T) {
	config := &poolx.PoolConfig{MaxSize: 3, CreationRateLimit: 5}
	require.NoError(t, config.Validate())

	assert.Equal(t, "default", config.Name)
	assert.Equal(t, poolx.PreFillNone, config.PreFillMode)
	assert.Equal(t, 5*time.Second, config.Validation.Timeout)
	assert.Equal(t, 100*time.Millisecond, config.Retry.InitialDelay)
	assert.Equal(t, 2.0, config.Retry.Multiplier)
	assert.Equal(t, 4, config.MaintenanceWorkers)
	assert.Equal(t, 1, config.CreationBurst)
}

func TestPoolConfig_ValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *poolx.PoolConfig)
		message string
	}{
		{"negative min", func(c *poolx.PoolConfig) { c.MinSize = -1 }, "min size cannot be negative"},
		{"zero max", func(c *poolx.PoolConfig) { c.MaxSize = 0 }, "max size must be at least 1"},
		{"min above max", func(c *poolx.PoolConfig) { c.MinSize = 11 }, "min size cannot exceed max size"},
		{"negative timeout", func(c *poolx.PoolConfig) { c.AcquisitionTimeout = -time.Second }, "acquisition timeout cannot be negative"},
		{"negative rate", func(c *poolx.PoolConfig) { c.CreationRateLimit = -1 }, "creation rate limit cannot be negative"},
		{"unknown mode", func(c *poolx.PoolConfig) { c.PreFillMode = "all" }, "unknown pre-fill mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := poolx.DefaultPoolConfig()
			tt.mutate(config)

			err := config.Validate()
			require.Error(t, err)
			assert.True(t, poolx.IsInvalidConfig(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	var nilConfig *poolx.PoolConfig
	assert.True(t, poolx.IsInvalidConfig(nilConfig.Validate()))
}

func TestPoolConfig_MinEqualsMax(t *testing.T) {
	config := poolx.DefaultPoolConfig()
	config.MinSize = 10
	config.MaxSize = 10
	assert.NoError(t, config.Validate())
}

func TestParsePreFillMode(t *testing.T) {
	tests := []struct {
		in       string
		expected poolx.PreFillMode
		wantErr  bool
	}{
		{"", poolx.PreFillNone, false},
		{"none", poolx.PreFillNone, false},
		{"NONE", poolx.PreFillNone, false},
		{" min ", poolx.PreFillMin, false},
		{"MIN", poolx.PreFillMin, false},
		{"max", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			mode, err := poolx.ParsePreFillMode(tt.in)
			if tt.wantErr {
				assert.True(t, poolx.IsInvalidConfig(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, mode)
		})
	}
}

func TestPoolConfig_CopyIsDeep(t *testing.T) {
	config := testConfig(0, 2)
	config.Factory.Properties = map[string]string{"sslmode": "disable"}
	pool := newTestPool(t, config, &testFactory{})

	config.Factory.Properties["sslmode"] = "require"
	got := pool.Config()
	assert.Equal(t, "disable", got.Factory.Properties["sslmode"])

	got.Factory.Properties["sslmode"] = "verify-full"
	assert.Equal(t, "disable", pool.Config().Factory.Properties["sslmode"])
}
