package poolx

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/seasbee/go-logx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the OpenTelemetry tracer for pool operations
var tracer = otel.Tracer("github.com/seasbee/go-poolx")

// startSpan opens a span for a pool operation
func (p *Pool[C]) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pool."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pool.name", p.config.Name),
			attribute.String("pool.operation", operation),
			attribute.Int("pool.max_size", p.config.MaxSize),
		))
}

// endSpan records the outcome of an operation on its span
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// startMonitoring logs a metrics snapshot every MonitoringInterval
func (p *Pool[C]) startMonitoring() {
	ticker := time.NewTicker(p.config.MonitoringInterval)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		defer func() {
			if r := recover(); r != nil {
				logx.Error("Pool monitoring goroutine panicked",
					logx.String("pool", p.config.Name),
					logx.Any("panic", r))
			}
		}()

		for {
			select {
			case <-ticker.C:
				p.monitorPoolHealth()
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

func (p *Pool[C]) monitorPoolHealth() {
	if p.IsClosed() {
		return
	}

	stats := p.Metrics()
	if !stats.Enabled {
		return
	}

	logx.Info("Connection pool health check",
		logx.String("pool", stats.Pool),
		logx.Int64("liveConnections", stats.LiveCount()),
		logx.Int64("activeConnections", stats.ActiveCount),
		logx.Int64("idleConnections", stats.IdleCount),
		logx.Int64("awaiting", stats.AwaitingCount),
		logx.Int64("acquires", stats.AcquireCount),
		logx.Int64("timeouts", stats.AcquireTimeoutCount),
		logx.String("averageWait", stats.AverageWaitTime.String()))

	// Alert if pool is under pressure
	if stats.AwaitingCount > 0 {
		logx.Warn("Connection pool under pressure",
			logx.String("pool", stats.Pool),
			logx.Int64("awaiting", stats.AwaitingCount),
			logx.Int64("activeConnections", stats.ActiveCount))
	}

	if stats.CreationFailureCount > 0 || stats.DestroyFailureCount > 0 {
		logx.Error("Connection pool experiencing errors",
			logx.String("pool", stats.Pool),
			logx.Int64("creationFailures", stats.CreationFailureCount),
			logx.Int64("validationFailures", stats.ValidationFailureCount),
			logx.Int64("destroyFailures", stats.DestroyFailureCount))
	}
}

// MetricsSource is anything that produces pool snapshots, such as *Pool[C]
type MetricsSource interface {
	Metrics() MetricsSnapshot
}

// PrometheusCollector exports pool snapshots as Prometheus metrics. Every
// scrape takes one snapshot, so the exported values are mutually consistent.
type PrometheusCollector struct {
	sources []MetricsSource

	connectionsCreated   *prometheus.Desc
	connectionsDestroyed *prometheus.Desc
	connections          *prometheus.Desc
	awaiting             *prometheus.Desc
	acquires             *prometheus.Desc
	acquireTimeouts      *prometheus.Desc
	acquireFailures      *prometheus.Desc
	waitSeconds          *prometheus.Desc
	maxWaitSeconds       *prometheus.Desc
	failures             *prometheus.Desc
}

// NewPrometheusCollector creates a collector for the given pools. Register it
// with a prometheus.Registerer; metric names are prefixed with namespace.
func NewPrometheusCollector(namespace string, sources ...MetricsSource) *PrometheusCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help,
			append([]string{"pool"}, labels...), nil)
	}

	return &PrometheusCollector{
		sources:              sources,
		connectionsCreated:   desc("connections_created_total", "Total number of connections created"),
		connectionsDestroyed: desc("connections_destroyed_total", "Total number of connections destroyed"),
		connections:          desc("connections", "Current number of connections by state", "state"),
		awaiting:             desc("awaiting", "Current number of acquirers waiting for a connection"),
		acquires:             desc("acquires_total", "Total number of successful acquisitions"),
		acquireTimeouts:      desc("acquire_timeouts_total", "Total number of acquisitions that timed out"),
		acquireFailures:      desc("acquire_failures_total", "Total number of failed acquisitions"),
		waitSeconds:          desc("acquire_wait_seconds_total", "Total time spent waiting by successful acquisitions"),
		maxWaitSeconds:       desc("acquire_wait_max_seconds", "Longest wait of a successful acquisition"),
		failures:             desc("failures_total", "Total number of connection lifecycle failures", "kind"),
	}
}

// Describe implements prometheus.Collector
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connectionsCreated
	ch <- c.connectionsDestroyed
	ch <- c.connections
	ch <- c.awaiting
	ch <- c.acquires
	ch <- c.acquireTimeouts
	ch <- c.acquireFailures
	ch <- c.waitSeconds
	ch <- c.maxWaitSeconds
	ch <- c.failures
}

// Collect implements prometheus.Collector. Pools with metrics disabled are skipped.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, src := range c.sources {
		s := src.Metrics()
		if !s.Enabled {
			continue
		}

		counter := func(d *prometheus.Desc, v int64, labels ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), append([]string{s.Pool}, labels...)...)
		}
		gauge := func(d *prometheus.Desc, v float64, labels ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, append([]string{s.Pool}, labels...)...)
		}

		counter(c.connectionsCreated, s.ConnectionsCreated)
		counter(c.connectionsDestroyed, s.ConnectionsDestroyed)
		gauge(c.connections, float64(s.CreatingCount), "creating")
		gauge(c.connections, float64(s.IdleCount), "idle")
		gauge(c.connections, float64(s.ActiveCount), "active")
		gauge(c.connections, float64(s.ValidatingCount), "validating")
		gauge(c.connections, float64(s.DestroyingCount), "destroying")
		gauge(c.awaiting, float64(s.AwaitingCount))
		counter(c.acquires, s.AcquireCount)
		counter(c.acquireTimeouts, s.AcquireTimeoutCount)
		counter(c.acquireFailures, s.AcquireFailureCount)
		ch <- prometheus.MustNewConstMetric(c.waitSeconds, prometheus.CounterValue, s.TotalWaitTime.Seconds(), s.Pool)
		gauge(c.maxWaitSeconds, s.MaxWaitTime.Seconds())
		counter(c.failures, s.CreationFailureCount, "creation")
		counter(c.failures, s.ValidationFailureCount, "validation")
		counter(c.failures, s.DestroyFailureCount, "destroy")
	}
}
