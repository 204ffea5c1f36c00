package poolx

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/seasbee/go-logx"
	"github.com/seasbee/go-poolx/internal/backoff"
)

// preFiller keeps the pool at MinSize. It creates the initial connections when
// PreFillMode is min and replaces destroyed ones in the background.
type preFiller[C any] struct {
	pool    *Pool[C]
	policy  backoff.Policy
	running atomic.Bool
}

func newPreFiller[C any](p *Pool[C]) *preFiller[C] {
	r := p.config.Retry
	f := &preFiller[C]{pool: p}
	f.policy = backoff.Policy{
		InitialDelay: r.InitialDelay,
		MaxDelay:     r.MaxDelay,
		Multiplier:   r.Multiplier,
		Jitter:       r.Jitter,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logx.Warn("Retrying connection pre-fill",
				logx.String("pool", p.config.Name),
				logx.Int("attempt", attempt),
				logx.String("delay", delay.String()),
				logx.ErrorField(err))
		},
	}
	return f
}

// enabled reports whether the pool maintains a floor of MinSize connections
func (f *preFiller[C]) enabled() bool {
	return f.pool.config.PreFillMode == PreFillMin && f.pool.config.MinSize > 0
}

// start opens MinSize connections on the calling goroutine. The first factory
// failure hands the remaining deficit to the background task.
func (f *preFiller[C]) start() {
	if !f.enabled() {
		return
	}

	p := f.pool
	start := time.Now()
	created := 0
	for {
		ok, err := p.fillOne(p.ctx)
		if err != nil {
			if !errors.Is(err, ErrPoolClosed) {
				logx.Warn("Connection pre-fill incomplete, continuing in background",
					logx.String("pool", p.config.Name),
					logx.Int("created", created),
					logx.Int("minSize", p.config.MinSize),
					logx.ErrorField(err))
				f.replenish()
			}
			break
		}
		if !ok {
			break
		}
		created++
	}

	logx.Info("Connection pool pre-filled",
		logx.String("pool", p.config.Name),
		logx.Int("created", created),
		logx.String("duration", time.Since(start).String()))
}

// replenish schedules a background fill when the pool is below MinSize.
// At most one fill task runs at a time.
func (f *preFiller[C]) replenish() {
	if !f.enabled() || f.pool.deficit() == 0 {
		return
	}
	if !f.running.CompareAndSwap(false, true) {
		return
	}
	if !f.pool.dispatch(f.run) {
		f.running.Store(false)
	}
}

// run fills the deficit, backing off between factory failures until the pool
// shuts down
func (f *preFiller[C]) run() {
	p := f.pool
	defer func() {
		f.running.Store(false)
		// A destroy may have raced with the end of this run
		if p.deficit() > 0 {
			f.replenish()
		}
	}()

	created := 0
	err := backoff.Retry(p.ctx, f.policy, func() error {
		for {
			ok, err := p.fillOne(p.ctx)
			if err != nil {
				if errors.Is(err, ErrPoolClosed) {
					return backoff.Permanent{Err: err}
				}
				return err
			}
			if !ok {
				return nil
			}
			created++
		}
	})

	if err != nil && !errors.Is(err, ErrPoolClosed) && p.ctx.Err() == nil {
		logx.Error("Connection pre-fill failed",
			logx.String("pool", p.config.Name),
			logx.ErrorField(err))
	}
	if created > 0 {
		logx.Debug("Connection pool replenished",
			logx.String("pool", p.config.Name),
			logx.Int("created", created))
	}
}
