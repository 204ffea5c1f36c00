package poolx

import "time"

// slotState is the lifecycle position of a pooled connection
type slotState int32

const (
	stateCreating slotState = iota
	stateIdle
	stateActive
	stateValidating
	stateDestroying
)

func (s slotState) String() string {
	switch s {
	case stateCreating:
		return "creating"
	case stateIdle:
		return "idle"
	case stateActive:
		return "active"
	case stateValidating:
		return "validating"
	case stateDestroying:
		return "destroying"
	default:
		return "unknown"
	}
}

// slot wraps one raw connection. All fields except conn are guarded by Pool.mu;
// conn is written once before the slot leaves stateCreating.
type slot[C any] struct {
	id    uint64
	conn  C
	state slotState

	createdAt     time.Time
	lastUsed      time.Time
	lastValidated time.Time
}

// expiry reports why an idle slot should be evicted, or "" if it should stay
func (s *slot[C]) expiry(now time.Time, idleTimeout, maxLifetime time.Duration, aboveMin bool) string {
	if maxLifetime > 0 && now.Sub(s.createdAt) >= maxLifetime {
		return "max_lifetime"
	}
	if aboveMin && idleTimeout > 0 && now.Sub(s.lastUsed) >= idleTimeout {
		return "idle_timeout"
	}
	return ""
}
