package poolx

import (
	"sync"
	"time"
)

// MetricsSnapshot is an immutable point-in-time view of pool counters.
// When metrics are disabled every counter is zero and Enabled is false.
type MetricsSnapshot struct {
	Enabled   bool      `json:"enabled" msgpack:"enabled"`
	Pool      string    `json:"pool" msgpack:"pool"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`

	// Lifecycle counters
	ConnectionsCreated   int64 `json:"connections_created" msgpack:"connections_created"`
	ConnectionsDestroyed int64 `json:"connections_destroyed" msgpack:"connections_destroyed"`

	// Slot gauges
	CreatingCount   int64 `json:"creating_count" msgpack:"creating_count"`
	IdleCount       int64 `json:"idle_count" msgpack:"idle_count"`
	ActiveCount     int64 `json:"active_count" msgpack:"active_count"`
	ValidatingCount int64 `json:"validating_count" msgpack:"validating_count"`
	DestroyingCount int64 `json:"destroying_count" msgpack:"destroying_count"`
	AwaitingCount   int64 `json:"awaiting_count" msgpack:"awaiting_count"`

	// Acquisition counters
	AcquireCount        int64         `json:"acquire_count" msgpack:"acquire_count"`
	AcquireTimeoutCount int64         `json:"acquire_timeout_count" msgpack:"acquire_timeout_count"`
	AcquireFailureCount int64         `json:"acquire_failure_count" msgpack:"acquire_failure_count"`
	TotalWaitTime       time.Duration `json:"total_wait_time" msgpack:"total_wait_time"`
	AverageWaitTime     time.Duration `json:"average_wait_time" msgpack:"average_wait_time"`
	MaxWaitTime         time.Duration `json:"max_wait_time" msgpack:"max_wait_time"`

	// Failure counters
	CreationFailureCount   int64 `json:"creation_failure_count" msgpack:"creation_failure_count"`
	ValidationFailureCount int64 `json:"validation_failure_count" msgpack:"validation_failure_count"`
	DestroyFailureCount    int64 `json:"destroy_failure_count" msgpack:"destroy_failure_count"`
}

// LiveCount returns the number of created and not yet destroyed connections
func (s MetricsSnapshot) LiveCount() int64 {
	return s.ConnectionsCreated - s.ConnectionsDestroyed
}

// delta is one pool transition's effect on the counters
type delta struct {
	created    int64
	destroyed  int64
	creating   int64
	idle       int64
	active     int64
	validating int64
	destroying int64
	awaiting   int64

	acquires        int64
	timeouts        int64
	acquireFailures int64
	wait            time.Duration

	creationFailures   int64
	validationFailures int64
	destroyFailures    int64
}

// stateDelta moves one slot from one state gauge to another
func stateDelta(from, to slotState) delta {
	var d delta
	d.add(from, -1)
	d.add(to, 1)
	return d
}

func (d *delta) add(s slotState, n int64) {
	switch s {
	case stateCreating:
		d.creating += n
	case stateIdle:
		d.idle += n
	case stateActive:
		d.active += n
	case stateValidating:
		d.validating += n
	case stateDestroying:
		d.destroying += n
	}
}

// collector accumulates pool counters. Every transition is applied as one delta
// under mu, so snapshots never observe half of a transition.
type collector struct {
	enabled bool
	pool    string

	mu sync.Mutex
	s  MetricsSnapshot
}

func newCollector(pool string, enabled bool) *collector {
	return &collector{enabled: enabled, pool: pool}
}

func (c *collector) record(ds ...delta) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range ds {
		c.s.ConnectionsCreated += d.created
		c.s.ConnectionsDestroyed += d.destroyed
		c.s.CreatingCount += d.creating
		c.s.IdleCount += d.idle
		c.s.ActiveCount += d.active
		c.s.ValidatingCount += d.validating
		c.s.DestroyingCount += d.destroying
		c.s.AwaitingCount += d.awaiting
		c.s.AcquireCount += d.acquires
		c.s.AcquireTimeoutCount += d.timeouts
		c.s.AcquireFailureCount += d.acquireFailures
		c.s.CreationFailureCount += d.creationFailures
		c.s.ValidationFailureCount += d.validationFailures
		c.s.DestroyFailureCount += d.destroyFailures
		if d.acquires > 0 {
			c.s.TotalWaitTime += d.wait
			if d.wait > c.s.MaxWaitTime {
				c.s.MaxWaitTime = d.wait
			}
		}
	}
}

func (c *collector) snapshot() MetricsSnapshot {
	if !c.enabled {
		return MetricsSnapshot{Pool: c.pool, Timestamp: time.Now()}
	}

	c.mu.Lock()
	s := c.s
	c.mu.Unlock()

	s.Enabled = true
	s.Pool = c.pool
	s.Timestamp = time.Now()
	if s.AcquireCount > 0 {
		s.AverageWaitTime = s.TotalWaitTime / time.Duration(s.AcquireCount)
	}
	return s
}
