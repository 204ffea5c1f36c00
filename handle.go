package poolx

import (
	"sync/atomic"
	"time"
)

// Handle grants exclusive use of one pooled connection until it is released.
// Release (or Invalidate) must be called exactly once; With and WithHandle do
// it automatically.
type Handle[C any] struct {
	pool     *Pool[C]
	slot     *slot[C]
	acquired time.Time
	released atomic.Bool
}

func newHandle[C any](p *Pool[C], s *slot[C]) *Handle[C] {
	return &Handle[C]{pool: p, slot: s, acquired: time.Now()}
}

// Conn returns the raw connection, or the zero value once the handle is released
func (h *Handle[C]) Conn() C {
	if h.released.Load() {
		var zero C
		return zero
	}
	return h.slot.conn
}

// ID identifies the underlying pooled connection
func (h *Handle[C]) ID() uint64 {
	return h.slot.id
}

// AcquiredAt returns when the handle was handed out
func (h *Handle[C]) AcquiredAt() time.Time {
	return h.acquired
}

// Released reports whether Release or Invalidate has been called
func (h *Handle[C]) Released() bool {
	return h.released.Load()
}

// Release returns the connection to the pool. A second call returns an error
// wrapping ErrHandleReleased and has no other effect.
func (h *Handle[C]) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return NewPoolError("release", h.pool.config.Name, "handle released twice", ErrHandleReleased)
	}
	h.pool.release(h.slot, false)
	return nil
}

// Invalidate destroys the connection instead of returning it, for callers that
// found it broken. The pool opens a replacement if it falls below MinSize.
func (h *Handle[C]) Invalidate() error {
	if !h.released.CompareAndSwap(false, true) {
		return NewPoolError("invalidate", h.pool.config.Name, "handle already released", ErrHandleReleased)
	}
	h.pool.release(h.slot, true)
	return nil
}

// Close releases the handle; it implements io.Closer
func (h *Handle[C]) Close() error {
	return h.Release()
}
