package poolx

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"time"
)

// grant is what a queued acquirer is woken with: a ready slot, a slot the
// acquirer must validate itself, a capacity reservation to materialize itself,
// or an error
type grant[C any] struct {
	slot     *slot[C]
	reserved bool
	check    bool
	err      error
}

// waiter is one queued acquirer. ch has room for exactly one grant, so granting
// under the pool lock never blocks.
type waiter[C any] struct {
	ch   chan grant[C]
	elem *list.Element
}

// Acquire returns a handle to a pooled connection, waiting if the pool is
// exhausted. Waiters are served in arrival order. If ctx carries no deadline the
// configured AcquisitionTimeout applies.
//
// Failures wrap ErrAcquisitionTimeout, ErrPoolClosed, ErrFactoryCreation or the
// context error when ctx is cancelled.
func (p *Pool[C]) Acquire(ctx context.Context) (*Handle[C], error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := p.startSpan(ctx, "acquire")
	defer span.End()

	if _, ok := ctx.Deadline(); !ok && p.config.AcquisitionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.AcquisitionTimeout)
		defer cancel()
	}

	start := time.Now()
	s, err := p.acquire(ctx)
	wait := time.Since(start)

	if err != nil {
		perr := p.acquireError(err)
		d := delta{acquireFailures: 1}
		if IsTimeout(perr) {
			d.timeouts = 1
		}
		p.metrics.record(d)
		endSpan(span, perr)
		return nil, perr
	}

	p.metrics.record(delta{acquires: 1, wait: wait})
	endSpan(span, nil)
	return newHandle(p, s), nil
}

// AcquireTimeout is Acquire bounded by timeout instead of a context
func (p *Pool[C]) AcquireTimeout(timeout time.Duration) (*Handle[C], error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.Acquire(ctx)
}

// With acquires a connection, runs fn with it and releases it on every exit
// path out of fn, panics included
func (p *Pool[C]) With(ctx context.Context, fn func(conn C) error) error {
	return p.WithHandle(ctx, func(h *Handle[C]) error {
		return fn(h.Conn())
	})
}

// WithHandle is like With but gives fn the handle, so fn may Invalidate it
func (p *Pool[C]) WithHandle(ctx context.Context, fn func(h *Handle[C]) error) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()

	return fn(h)
}

// acquire runs the fast paths and falls back to the wait queue
func (p *Pool[C]) acquire(ctx context.Context) (*slot[C], error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		// Arrivals queue behind existing waiters
		if p.waiters.Len() == 0 {
			if s := p.popIdleLocked(); s != nil {
				if !p.needsValidationLocked(s) {
					p.metrics.record(p.moveLocked(s, stateActive))
					p.mu.Unlock()
					return s, nil
				}

				p.metrics.record(p.moveLocked(s, stateValidating))
				p.mu.Unlock()

				err := p.checkOut(s)
				if err == nil {
					return s, nil
				}
				if errors.Is(err, ErrPoolClosed) {
					return nil, err
				}
				// Invalid connection discarded; try again from the top
				continue
			}

			if s := p.reserveLocked(); s != nil {
				p.mu.Unlock()
				if err := p.materialize(ctx, s, true); err != nil {
					return nil, err
				}
				return s, nil
			}
		}

		w := p.enqueueLocked()
		p.mu.Unlock()

		g, err := p.await(ctx, w)
		if err != nil {
			return nil, err
		}
		switch {
		case g.reserved:
			if err := p.materialize(ctx, g.slot, true); err != nil {
				return nil, err
			}
		case g.check:
			return p.claimHandoff(ctx, g.slot)
		}
		return g.slot, nil
	}
}

// needsValidationLocked reports whether an idle slot must be validated before use
func (p *Pool[C]) needsValidationLocked(s *slot[C]) bool {
	v := p.config.Validation
	return v.OnAcquire && time.Since(s.lastValidated) >= v.Interval
}

// checkOut validates a slot taken from the idle list and activates it.
// An invalid slot is destroyed and ErrValidation returned.
func (p *Pool[C]) checkOut(s *slot[C]) error {
	ok := p.validate(s)

	p.mu.Lock()
	if !ok {
		d := p.moveLocked(s, stateDestroying)
		d.validationFailures = 1
		p.metrics.record(d)
		p.mu.Unlock()

		p.retire(s, "validation_failed")
		return ErrValidation
	}

	if p.closed {
		p.metrics.record(p.moveLocked(s, stateDestroying))
		p.mu.Unlock()

		p.destroySlot(s, "pool_closed")
		return ErrPoolClosed
	}

	s.lastValidated = time.Now()
	p.metrics.record(p.moveLocked(s, stateActive))
	p.mu.Unlock()
	return nil
}

// claimHandoff validates a slot a waiter was handed by release. A connection
// that fails validation is destroyed and its capacity goes straight to a new
// connection for the same waiter, so the waiter keeps its turn.
func (p *Pool[C]) claimHandoff(ctx context.Context, s *slot[C]) (*slot[C], error) {
	ok := p.validate(s)

	p.mu.Lock()
	if ok && !p.closed {
		s.lastValidated = time.Now()
		p.metrics.record(p.moveLocked(s, stateActive))
		p.mu.Unlock()
		return s, nil
	}

	d := p.moveLocked(s, stateDestroying)
	if !ok {
		d.validationFailures = 1
	}
	p.metrics.record(d)
	closed := p.closed
	p.mu.Unlock()

	if closed {
		p.destroySlot(s, "pool_closed")
		return nil, ErrPoolClosed
	}

	next := p.replace(s, "validation_failed")
	if next == nil {
		return nil, ErrPoolClosed
	}
	if err := p.materialize(ctx, next, true); err != nil {
		return nil, err
	}
	return next, nil
}

// enqueueLocked appends a new waiter to the back of the queue
func (p *Pool[C]) enqueueLocked() *waiter[C] {
	w := &waiter[C]{ch: make(chan grant[C], 1)}
	w.elem = p.waiters.PushBack(w)
	p.metrics.record(delta{awaiting: 1})
	return w
}

// popWaiterLocked removes the longest waiting acquirer, or returns nil
func (p *Pool[C]) popWaiterLocked() *waiter[C] {
	e := p.waiters.Front()
	if e == nil {
		return nil
	}
	w := p.waiters.Remove(e).(*waiter[C])
	w.elem = nil
	p.metrics.record(delta{awaiting: -1})
	return w
}

// removeWaiterLocked drops a waiter that gave up before being granted
func (p *Pool[C]) removeWaiterLocked(w *waiter[C]) {
	p.waiters.Remove(w.elem)
	w.elem = nil
	p.metrics.record(delta{awaiting: -1})
}

// await blocks until w is granted something or ctx ends. A grant that races
// with cancellation is given back to the pool, so nothing leaks.
func (p *Pool[C]) await(ctx context.Context, w *waiter[C]) (grant[C], error) {
	select {
	case g := <-w.ch:
		return g, g.err
	case <-ctx.Done():
	}

	p.mu.Lock()
	if w.elem != nil {
		p.removeWaiterLocked(w)
		p.mu.Unlock()
		return grant[C]{}, ctx.Err()
	}
	p.mu.Unlock()

	// Already granted; the grant is in the buffer
	p.giveBack(<-w.ch)
	return grant[C]{}, ctx.Err()
}

// giveBack returns an unclaimed grant to the pool
func (p *Pool[C]) giveBack(g grant[C]) {
	switch {
	case g.err != nil:
	case g.reserved:
		p.mu.Lock()
		p.releaseReservationLocked(false)
		p.mu.Unlock()
	case g.slot != nil:
		p.release(g.slot, false)
	}
}

// acquireError converts an internal acquisition failure into a PoolError
func (p *Pool[C]) acquireError(err error) error {
	name := p.config.Name
	switch {
	case errors.Is(err, ErrPoolClosed):
		return NewPoolError("acquire", name, "pool is shut down", err)
	case errors.Is(err, ErrAcquisitionTimeout):
		return NewPoolError("acquire", name, "no connection available within timeout", err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewPoolError("acquire", name, "no connection available within timeout",
			fmt.Errorf("%w: %w", ErrAcquisitionTimeout, err))
	case errors.Is(err, ErrFactoryCreation):
		return NewPoolError("acquire", name, "could not open connection", err)
	default:
		return NewPoolError("acquire", name, "acquisition cancelled", err)
	}
}
