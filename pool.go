package poolx

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/seasbee/go-logx"
	"golang.org/x/time/rate"
)

// Pool is a bounded pool of connections of type C.
// It is safe for concurrent use by multiple goroutines.
type Pool[C any] struct {
	config  *PoolConfig
	factory ConnectionFactory[C]
	metrics *collector
	limiter *rate.Limiter
	filler  *preFiller[C]

	// Maintenance tasks (pre-fill, asynchronous destruction)
	workers *ants.Pool

	// Pool state, guarded by mu
	mu       sync.Mutex
	idle     []*slot[C]
	waiters  list.List
	live     int
	creating int
	closed   bool
	nextID   uint64

	// Lifecycle of background goroutines
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a connection pool. A nil config uses DefaultPoolConfig.
// With PreFillMode min, New opens MinSize connections before returning;
// factory failures during that phase are retried in the background.
func New[C any](config *PoolConfig, factory ConnectionFactory[C]) (*Pool[C], error) {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if factory == nil {
		return nil, NewPoolError("new", config.Name, "connection factory cannot be nil", ErrInvalidConfig)
	}

	// Copy so the caller cannot change a running pool
	cfg := config.clone()
	if err := cfg.Validate(); err != nil {
		return nil, NewPoolError("new", cfg.Name, "invalid connection pool configuration", err)
	}

	workers, err := ants.NewPool(cfg.MaintenanceWorkers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(r any) {
			logx.Error("Connection pool maintenance task panicked",
				logx.String("pool", cfg.Name),
				logx.Any("panic", r))
		}))
	if err != nil {
		return nil, NewPoolError("new", cfg.Name, "failed to start maintenance workers", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool[C]{
		config:  cfg,
		factory: factory,
		metrics: newCollector(cfg.Name, cfg.MetricsEnabled),
		workers: workers,
		idle:    make([]*slot[C], 0, cfg.MaxSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	if cfg.CreationRateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.CreationRateLimit), cfg.CreationBurst)
	}
	p.filler = newPreFiller(p)

	p.filler.start()

	if cfg.Reaper.Enabled {
		p.startReaper()
	}
	if cfg.MonitoringInterval > 0 {
		p.startMonitoring()
	}

	logx.Info("Connection pool created",
		logx.String("pool", cfg.Name),
		logx.Int("minSize", cfg.MinSize),
		logx.Int("maxSize", cfg.MaxSize),
		logx.String("preFillMode", string(cfg.PreFillMode)),
		logx.Bool("metricsEnabled", cfg.MetricsEnabled),
		logx.Bool("validateOnAcquire", cfg.Validation.OnAcquire),
		logx.Bool("reaperEnabled", cfg.Reaper.Enabled))

	return p, nil
}

// Name returns the pool name used in logs and metrics
func (p *Pool[C]) Name() string {
	return p.config.Name
}

// Config returns a copy of the pool configuration
func (p *Pool[C]) Config() PoolConfig {
	return *p.config.clone()
}

// Metrics returns a point-in-time snapshot of the pool counters
func (p *Pool[C]) Metrics() MetricsSnapshot {
	return p.metrics.snapshot()
}

// IsClosed reports whether Shutdown has been called
func (p *Pool[C]) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Shutdown closes the pool. Waiting acquirers fail with ErrPoolClosed, idle
// connections are destroyed, and connections still held by callers are
// destroyed when released. Calling Shutdown more than once is a no-op.
func (p *Pool[C]) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	idle := p.idle
	p.idle = nil
	for _, s := range idle {
		p.metrics.record(p.moveLocked(s, stateDestroying))
	}

	waiting := 0
	for w := p.popWaiterLocked(); w != nil; w = p.popWaiterLocked() {
		w.ch <- grant[C]{err: ErrPoolClosed}
		waiting++
	}
	p.mu.Unlock()

	// Stop reaper, monitor and pre-fill backoff
	p.cancel()

	for _, s := range idle {
		p.destroySlot(s, "pool_closed")
	}

	p.wg.Wait()
	p.workers.Release()

	logx.Info("Connection pool shut down",
		logx.String("pool", p.config.Name),
		logx.Int("destroyedIdle", len(idle)),
		logx.Int("rejectedWaiters", waiting))
}

// Close shuts the pool down; it implements io.Closer
func (p *Pool[C]) Close() error {
	if p == nil {
		return nil
	}
	p.Shutdown()
	return nil
}

// moveLocked changes a slot's state and returns the matching gauge delta
func (p *Pool[C]) moveLocked(s *slot[C], to slotState) delta {
	d := stateDelta(s.state, to)
	s.state = to
	return d
}

// popIdleLocked removes the most recently returned idle slot
func (p *Pool[C]) popIdleLocked() *slot[C] {
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	s := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]
	return s
}

// removeIdleLocked removes s from the idle list, reporting whether it was there
func (p *Pool[C]) removeIdleLocked(s *slot[C]) bool {
	for i, is := range p.idle {
		if is == s {
			copy(p.idle[i:], p.idle[i+1:])
			p.idle[len(p.idle)-1] = nil
			p.idle = p.idle[:len(p.idle)-1]
			return true
		}
	}
	return false
}

// reserveLocked claims capacity for one new connection. The count check and
// the reservation happen under the same lock, so MaxSize can never be exceeded.
func (p *Pool[C]) reserveLocked() *slot[C] {
	if p.closed || p.live+p.creating >= p.config.MaxSize {
		return nil
	}
	p.creating++
	p.nextID++
	p.metrics.record(delta{creating: 1})
	return &slot[C]{id: p.nextID, state: stateCreating}
}

// releaseReservationLocked gives back capacity claimed by reserveLocked
func (p *Pool[C]) releaseReservationLocked(failed bool) {
	p.creating--
	d := delta{creating: -1}
	if failed {
		d.creationFailures = 1
	}
	p.metrics.record(d)
	p.grantCapacityLocked()
}

// open asks the factory for a raw connection, honoring the creation rate limit
func (p *Pool[C]) open(ctx context.Context) (C, error) {
	var zero C
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}
			return zero, fmt.Errorf("%w: creation rate limit: %w", ErrAcquisitionTimeout, err)
		}
	}

	conn, err := p.factory.Create(ctx)
	if err != nil {
		// The caller's deadline or cancellation ended the attempt
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, fmt.Errorf("%w: connection creation interrupted: %v", ctxErr, err)
		}
		return zero, fmt.Errorf("%w: %w", ErrFactoryCreation, err)
	}
	return conn, nil
}

// materialize opens the raw connection for a reserved slot. On failure the
// reservation is released. On success the slot goes to the calling acquirer
// (forCaller) or is offered to waiters and the idle list.
func (p *Pool[C]) materialize(ctx context.Context, s *slot[C], forCaller bool) error {
	conn, err := p.open(ctx)

	p.mu.Lock()
	if err != nil {
		p.releaseReservationLocked(errors.Is(err, ErrFactoryCreation))
		p.mu.Unlock()
		logx.Warn("Failed to create connection",
			logx.String("pool", p.config.Name),
			logx.Int64("slot", int64(s.id)),
			logx.ErrorField(err))
		return err
	}

	now := time.Now()
	s.conn = conn
	s.createdAt = now
	s.lastUsed = now
	s.lastValidated = now
	p.creating--
	p.live++

	if p.closed {
		// Shutdown began while the factory was working
		p.metrics.record(p.moveLocked(s, stateDestroying), delta{created: 1})
		p.mu.Unlock()
		p.destroySlot(s, "pool_closed")
		return ErrPoolClosed
	}

	if forCaller {
		p.metrics.record(p.moveLocked(s, stateActive), delta{created: 1})
	} else {
		p.offerLocked(s, false, delta{created: 1})
	}
	p.mu.Unlock()

	logx.Debug("Connection created",
		logx.String("pool", p.config.Name),
		logx.Int64("slot", int64(s.id)))
	return nil
}

// offerLocked hands s to the longest waiting acquirer, or parks it as idle.
// With check set, a waiter receiving a slot that is due for validation
// validates it itself before use.
func (p *Pool[C]) offerLocked(s *slot[C], check bool, extra ...delta) {
	if w := p.popWaiterLocked(); w != nil {
		if check && p.needsValidationLocked(s) {
			p.metrics.record(append(extra, p.moveLocked(s, stateValidating))...)
			w.ch <- grant[C]{slot: s, check: true}
			return
		}
		p.metrics.record(append(extra, p.moveLocked(s, stateActive))...)
		w.ch <- grant[C]{slot: s}
		return
	}
	p.metrics.record(append(extra, p.moveLocked(s, stateIdle))...)
	p.idle = append(p.idle, s)
}

// grantCapacityLocked reserves capacity on behalf of queued waiters, oldest first
func (p *Pool[C]) grantCapacityLocked() {
	for !p.closed && p.waiters.Len() > 0 {
		s := p.reserveLocked()
		if s == nil {
			return
		}
		w := p.popWaiterLocked()
		w.ch <- grant[C]{slot: s, reserved: true}
	}
}

// release returns an active slot to the pool, or destroys it when the pool is
// closed, the caller invalidated it, or on-release validation fails
func (p *Pool[C]) release(s *slot[C], invalidate bool) {
	reason := "invalidated"
	validated := false
	var failures int64
	if !invalidate && p.config.Validation.OnRelease {
		if p.validate(s) {
			validated = true
		} else {
			invalidate = true
			reason = "validation_failed"
			failures = 1
		}
	}

	p.mu.Lock()
	now := time.Now()
	s.lastUsed = now
	if validated {
		s.lastValidated = now
	}

	if invalidate || p.closed {
		d := p.moveLocked(s, stateDestroying)
		d.validationFailures = failures
		p.metrics.record(d)
		closed := p.closed
		p.mu.Unlock()

		if closed {
			p.destroySlot(s, "pool_closed")
		} else {
			p.retire(s, reason)
		}
		return
	}

	p.offerLocked(s, true)
	p.mu.Unlock()
}

// retire destroys a slot already marked destroying, off the caller's goroutine when possible
func (p *Pool[C]) retire(s *slot[C], reason string) {
	if !p.dispatch(func() { p.destroySlot(s, reason) }) {
		p.destroySlot(s, reason)
	}
}

// destroySlot closes the raw connection of a slot in stateDestroying and frees
// its capacity. Factory errors are logged and counted, never returned.
func (p *Pool[C]) destroySlot(s *slot[C], reason string) {
	d := p.closeConn(s, reason)

	p.mu.Lock()
	p.live--
	p.metrics.record(d)
	p.grantCapacityLocked()
	p.mu.Unlock()

	p.filler.replenish()
}

// replace closes the raw connection of a slot in stateDestroying and turns its
// capacity into a reservation for the caller. Returns nil once the pool is closed.
func (p *Pool[C]) replace(s *slot[C], reason string) *slot[C] {
	d := p.closeConn(s, reason)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.live--
	p.metrics.record(d)
	if p.closed {
		return nil
	}
	return p.reserveLocked()
}

// closeConn asks the factory to close a slot's connection and returns the
// matching counter delta
func (p *Pool[C]) closeConn(s *slot[C], reason string) delta {
	d := delta{destroying: -1, destroyed: 1}
	if err := p.factory.Destroy(s.conn); err != nil {
		d.destroyFailures = 1
		logx.Warn("Failed to destroy connection",
			logx.String("pool", p.config.Name),
			logx.Int64("slot", int64(s.id)),
			logx.String("reason", reason),
			logx.ErrorField(fmt.Errorf("%w: %w", ErrDestroy, err)))
	}

	logx.Debug("Connection destroyed",
		logx.String("pool", p.config.Name),
		logx.Int64("slot", int64(s.id)),
		logx.String("reason", reason))
	return d
}

// validate asks the factory whether the slot's connection is still usable
func (p *Pool[C]) validate(s *slot[C]) bool {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.Validation.Timeout)
	defer cancel()
	return p.factory.Validate(ctx, s.conn)
}

// deficit returns how many connections the pool needs to reach MinSize
func (p *Pool[C]) deficit() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}
	if d := p.config.MinSize - (p.live + p.creating); d > 0 {
		return d
	}
	return 0
}

// fillOne opens one idle connection if the pool is below MinSize
func (p *Pool[C]) fillOne(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if p.closed || p.live+p.creating >= p.config.MinSize {
		p.mu.Unlock()
		return false, nil
	}
	s := p.reserveLocked()
	p.mu.Unlock()
	if s == nil {
		return false, nil
	}

	if err := p.materialize(ctx, s, false); err != nil {
		return false, err
	}
	return true, nil
}

// dispatch runs task on the maintenance workers. It reports false, without
// running task, once the pool is closed.
func (p *Pool[C]) dispatch(task func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	run := func() {
		defer p.wg.Done()
		task()
	}
	if err := p.workers.Submit(run); err != nil {
		// Workers saturated; never block the caller
		go run()
	}
	return true
}
