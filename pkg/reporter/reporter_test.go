package reporter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	poolx "github.com/seasbee/go-poolx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	snapshot poolx.MetricsSnapshot
}

func (s staticSource) Metrics() poolx.MetricsSnapshot {
	return s.snapshot
}

type memorySink struct {
	mu        sync.Mutex
	snapshots []poolx.MetricsSnapshot
	err       error
}

func (m *memorySink) Publish(_ context.Context, s poolx.MetricsSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.snapshots = append(m.snapshots, s)
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

func testSnapshot(pool string) poolx.MetricsSnapshot {
	return poolx.MetricsSnapshot{
		Enabled:            true,
		Pool:               pool,
		Timestamp:          time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		ConnectionsCreated: 7,
		IdleCount:          5,
		ActiveCount:        2,
		AcquireCount:       40,
		TotalWaitTime:      80 * time.Millisecond,
		AverageWaitTime:    2 * time.Millisecond,
	}
}

func TestNew_Errors(t *testing.T) {
	src := staticSource{testSnapshot("a")}

	_, err := New(nil, nil, src)
	assert.Error(t, err)

	_, err = New(nil, &memorySink{})
	assert.Error(t, err)

	_, err = New(&Config{Interval: 0}, &memorySink{}, src)
	assert.Error(t, err)
}

func TestNew_CopiesConfig(t *testing.T) {
	config := &Config{Interval: time.Second}

	r, err := New(config, &memorySink{}, staticSource{testSnapshot("a")})
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), config.PublishTimeout)
	assert.Equal(t, time.Second, r.config.PublishTimeout)

	config.Interval = time.Hour
	assert.Equal(t, time.Second, r.config.Interval)
}

func TestPublishNow(t *testing.T) {
	sink := &memorySink{}
	disabled := staticSource{poolx.MetricsSnapshot{Pool: "off"}}

	r, err := New(nil, sink, staticSource{testSnapshot("a")}, disabled, staticSource{testSnapshot("b")})
	require.NoError(t, err)

	require.NoError(t, r.PublishNow(context.Background()))
	require.Equal(t, 2, sink.count())
	assert.Equal(t, "a", sink.snapshots[0].Pool)
	assert.Equal(t, "b", sink.snapshots[1].Pool)
	assert.Equal(t, int64(2), r.Stats().Published)
}

func TestPublishNow_SinkError(t *testing.T) {
	boom := errors.New("sink unavailable")
	sink := &memorySink{err: boom}

	r, err := New(nil, sink, staticSource{testSnapshot("a")})
	require.NoError(t, err)

	err = r.PublishNow(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	stats := r.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, boom, stats.LastError)
}

func TestReporter_StartStop(t *testing.T) {
	sink := &memorySink{}
	r, err := New(&Config{Interval: 10 * time.Millisecond}, sink, staticSource{testSnapshot("a")})
	require.NoError(t, err)

	r.Start()
	r.Start() // no-op

	assert.Eventually(t, func() bool { return sink.count() >= 3 }, time.Second, 5*time.Millisecond)

	r.Stop()
	n := sink.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sink.count())

	r.Stop() // no-op
}

func TestReporter_PublishesLivePool(t *testing.T) {
	config := poolx.DefaultPoolConfig()
	config.Name = "live"
	config.MaxSize = 2
	config.Reaper.Enabled = false

	pool, err := poolx.New[int](config, poolx.FactoryFuncs[int]{
		CreateFunc: func(ctx context.Context) (int, error) { return 1, nil },
	})
	require.NoError(t, err)
	defer pool.Shutdown()

	require.NoError(t, pool.With(context.Background(), func(int) error { return nil }))

	sink := &memorySink{}
	r, err := New(nil, sink, pool)
	require.NoError(t, err)
	require.NoError(t, r.PublishNow(context.Background()))

	require.Equal(t, 1, sink.count())
	assert.Equal(t, "live", sink.snapshots[0].Pool)
	assert.Equal(t, int64(1), sink.snapshots[0].AcquireCount)
	assert.Equal(t, int64(1), sink.snapshots[0].IdleCount)
}

func TestCodecs(t *testing.T) {
	for _, codec := range []Codec{NewMessagePackCodec(), NewJSONCodec()} {
		t.Run(codec.Name(), func(t *testing.T) {
			in := testSnapshot("orders")
			data, err := codec.Encode(in)
			require.NoError(t, err)

			out, err := codec.Decode(data)
			require.NoError(t, err)
			assert.True(t, in.Timestamp.Equal(out.Timestamp))
			out.Timestamp = in.Timestamp
			assert.Equal(t, in, out)

			_, err = codec.Decode(nil)
			assert.Error(t, err)
		})
	}
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, LogSink{}.Publish(context.Background(), testSnapshot("a")))
}

func TestRedisSink(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DialTimeout: 200 * time.Millisecond})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	sink := NewRedisSink(client, "poolx:test", time.Minute, nil)
	assert.Equal(t, "poolx:test:orders", sink.Key("orders"))
	defer client.Del(context.Background(), sink.Key("orders"), sink.Key("missing"))

	in := testSnapshot("orders")
	require.NoError(t, sink.Publish(ctx, in))

	out, err := sink.Load(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, in.AcquireCount, out.AcquireCount)
	assert.Equal(t, in.AverageWaitTime, out.AverageWaitTime)

	ttl, err := client.TTL(ctx, sink.Key("orders")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	_, err = sink.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}
