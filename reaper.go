package poolx

import (
	"time"

	"github.com/seasbee/go-logx"
)

// startReaper runs reap every Reaper.Interval until the pool shuts down
func (p *Pool[C]) startReaper() {
	ticker := time.NewTicker(p.config.Reaper.Interval)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		defer func() {
			if r := recover(); r != nil {
				logx.Error("Connection reaper goroutine panicked",
					logx.String("pool", p.config.Name),
					logx.Any("panic", r))
			}
		}()

		for {
			select {
			case now := <-ticker.C:
				p.reap(now)
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

// reap checks the idle connections one at a time. Expired connections are
// destroyed, the rest are validated and returned. Idle expiry only applies
// while the pool holds more than MinSize connections. Returns the number of
// connections destroyed.
func (p *Pool[C]) reap(now time.Time) int {
	p.mu.Lock()
	candidates := make([]*slot[C], len(p.idle))
	copy(candidates, p.idle)
	p.mu.Unlock()

	cfg := p.config.Reaper
	evicted := 0
	for _, s := range candidates {
		p.mu.Lock()
		// Acquired or destroyed since the scan began
		if p.closed || !p.removeIdleLocked(s) {
			p.mu.Unlock()
			continue
		}

		if reason := s.expiry(now, cfg.IdleTimeout, cfg.MaxLifetime, p.live > p.config.MinSize); reason != "" {
			p.metrics.record(p.moveLocked(s, stateDestroying))
			p.mu.Unlock()
			p.destroySlot(s, reason)
			evicted++
			continue
		}

		p.metrics.record(p.moveLocked(s, stateValidating))
		p.mu.Unlock()

		ok := p.validate(s)

		p.mu.Lock()
		switch {
		case !ok:
			d := p.moveLocked(s, stateDestroying)
			d.validationFailures = 1
			p.metrics.record(d)
			p.mu.Unlock()
			p.destroySlot(s, "validation_failed")
			evicted++
		case p.closed:
			p.metrics.record(p.moveLocked(s, stateDestroying))
			p.mu.Unlock()
			p.destroySlot(s, "pool_closed")
		default:
			s.lastValidated = time.Now()
			p.offerLocked(s, false)
			p.mu.Unlock()
		}
	}

	if evicted > 0 {
		logx.Info("Connection reaper evicted connections",
			logx.String("pool", p.config.Name),
			logx.Int("evicted", evicted),
			logx.Int("checked", len(candidates)))
	}
	return evicted
}
