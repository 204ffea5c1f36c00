package poolx_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	poolx "github.com/seasbee/go-poolx"
	"github.com/stretchr/testify/require"
)

// testConn is the raw connection handed out by testFactory
type testConn struct {
	id     int64
	valid  atomic.Bool
	closed atomic.Bool
}

// testFactory records every lifecycle call and tracks concurrently live connections
type testFactory struct {
	created   atomic.Int64
	destroyed atomic.Int64
	validated atomic.Int64
	live      atomic.Int64
	maxLive   atomic.Int64

	// failures makes the next n Create calls fail
	failures    atomic.Int64
	createDelay time.Duration
}

var errConnRefused = errors.New("connection refused")

func (f *testFactory) Create(ctx context.Context) (*testConn, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errConnRefused
	}
	f.failures.Store(0)

	if f.createDelay > 0 {
		select {
		case <-time.After(f.createDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c := &testConn{id: f.created.Add(1)}
	c.valid.Store(true)

	live := f.live.Add(1)
	for {
		peak := f.maxLive.Load()
		if live <= peak || f.maxLive.CompareAndSwap(peak, live) {
			break
		}
	}
	return c, nil
}

func (f *testFactory) Validate(_ context.Context, c *testConn) bool {
	f.validated.Add(1)
	return c.valid.Load() && !c.closed.Load()
}

func (f *testFactory) Destroy(c *testConn) error {
	if !c.closed.CompareAndSwap(false, true) {
		return errors.New("connection destroyed twice")
	}
	f.live.Add(-1)
	f.destroyed.Add(1)
	return nil
}

// testConfig returns a small, quiet configuration for tests
func testConfig(minSize, maxSize int) *poolx.PoolConfig {
	config := poolx.DefaultPoolConfig()
	config.Name = "test"
	config.MinSize = minSize
	config.MaxSize = maxSize
	config.AcquisitionTimeout = 5 * time.Second
	config.Reaper.Enabled = false
	config.Validation.Interval = 0
	config.Retry.InitialDelay = 5 * time.Millisecond
	config.Retry.MaxDelay = 20 * time.Millisecond
	return config
}

func newTestPool(t *testing.T, config *poolx.PoolConfig, factory *testFactory) *poolx.Pool[*testConn] {
	t.Helper()
	pool, err := poolx.New[*testConn](config, factory)
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)
	return pool
}

// requireConsistent checks the lifecycle counters against the state gauges
func requireConsistent(t *testing.T, s poolx.MetricsSnapshot) {
	t.Helper()
	require.Equal(t,
		s.IdleCount+s.ActiveCount+s.ValidatingCount+s.DestroyingCount,
		s.ConnectionsCreated-s.ConnectionsDestroyed,
		"created - destroyed must equal the connections in a live state: %+v", s)
}
