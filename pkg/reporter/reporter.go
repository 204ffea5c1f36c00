// Package reporter publishes pool metrics snapshots on an interval
package reporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seasbee/go-logx"
	poolx "github.com/seasbee/go-poolx"
)

// Sink receives published snapshots
type Sink interface {
	Publish(ctx context.Context, s poolx.MetricsSnapshot) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, s poolx.MetricsSnapshot) error

// Publish implements Sink
func (f SinkFunc) Publish(ctx context.Context, s poolx.MetricsSnapshot) error {
	return f(ctx, s)
}

// Config holds reporter settings
type Config struct {
	Interval       time.Duration `yaml:"interval" json:"interval"`
	PublishTimeout time.Duration `yaml:"publish_timeout" json:"publish_timeout"`
}

// DefaultConfig returns the default reporter configuration
func DefaultConfig() *Config {
	return &Config{
		Interval:       10 * time.Second,
		PublishTimeout: 2 * time.Second,
	}
}

// Stats holds publishing counters
type Stats struct {
	Published int64
	Failed    int64
	LastError error
}

// Reporter takes a snapshot of every source each interval and hands it to the sink
type Reporter struct {
	config  *Config
	sources []poolx.MetricsSource
	sink    Sink

	published atomic.Int64
	failed    atomic.Int64
	lastErr   atomic.Value // errHolder

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type errHolder struct{ err error }

// New creates a reporter. A nil config uses DefaultConfig.
func New(config *Config, sink Sink, sources ...poolx.MetricsSource) (*Reporter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if sink == nil {
		return nil, errors.New("reporter sink cannot be nil")
	}
	if len(sources) == 0 {
		return nil, errors.New("reporter needs at least one metrics source")
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("reporter interval must be positive, got %s", config.Interval)
	}

	// Copy so defaults never leak into the caller's config
	cfg := *config
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = cfg.Interval
	}

	return &Reporter{
		config:  &cfg,
		sources: sources,
		sink:    sink,
	}, nil
}

// Start begins periodic publishing. It is a no-op if already running.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				logx.Error("Metrics reporter goroutine panicked", logx.Any("panic", rec))
			}
		}()

		ticker := time.NewTicker(r.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = r.PublishNow(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	logx.Info("Metrics reporter started",
		logx.Int("sources", len(r.sources)),
		logx.String("interval", r.config.Interval.String()))
}

// Stop halts publishing and waits for an in-flight publish to finish
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()
	logx.Info("Metrics reporter stopped",
		logx.Int64("published", r.published.Load()),
		logx.Int64("failed", r.failed.Load()))
}

// PublishNow publishes one snapshot per source immediately. Sources with
// metrics disabled are skipped. Returns the joined sink errors.
func (r *Reporter) PublishNow(ctx context.Context) error {
	var errs []error
	for _, src := range r.sources {
		s := src.Metrics()
		if !s.Enabled {
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, r.config.PublishTimeout)
		err := r.sink.Publish(pctx, s)
		cancel()

		if err != nil {
			r.failed.Add(1)
			r.lastErr.Store(errHolder{err})
			logx.Warn("Failed to publish pool metrics",
				logx.String("pool", s.Pool),
				logx.ErrorField(err))
			errs = append(errs, fmt.Errorf("pool %s: %w", s.Pool, err))
			continue
		}
		r.published.Add(1)
	}
	return errors.Join(errs...)
}

// Stats returns publishing counters
func (r *Reporter) Stats() Stats {
	s := Stats{
		Published: r.published.Load(),
		Failed:    r.failed.Load(),
	}
	if h, ok := r.lastErr.Load().(errHolder); ok {
		s.LastError = h.err
	}
	return s
}

// LogSink writes snapshots to the structured log
type LogSink struct{}

// Publish implements Sink
func (LogSink) Publish(_ context.Context, s poolx.MetricsSnapshot) error {
	logx.Info("Connection pool metrics",
		logx.String("pool", s.Pool),
		logx.Int64("created", s.ConnectionsCreated),
		logx.Int64("destroyed", s.ConnectionsDestroyed),
		logx.Int64("active", s.ActiveCount),
		logx.Int64("idle", s.IdleCount),
		logx.Int64("awaiting", s.AwaitingCount),
		logx.Int64("acquires", s.AcquireCount),
		logx.Int64("timeouts", s.AcquireTimeoutCount),
		logx.String("averageWait", s.AverageWaitTime.String()))
	return nil
}
