package reporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	poolx "github.com/seasbee/go-poolx"
)

// ErrNoSnapshot is returned by RedisSink.Load when no snapshot is stored
var ErrNoSnapshot = errors.New("reporter: no snapshot stored")

// RedisSink stores the latest snapshot of each pool under prefix:<pool>.
// Entries expire after ttl, so a pool that stops reporting disappears.
type RedisSink struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	codec  Codec
}

// NewRedisSink creates a sink. A nil codec uses MessagePack.
func NewRedisSink(client redis.Cmdable, prefix string, ttl time.Duration, codec Codec) *RedisSink {
	if codec == nil {
		codec = NewMessagePackCodec()
	}
	if prefix == "" {
		prefix = "poolx:metrics"
	}
	return &RedisSink{client: client, prefix: prefix, ttl: ttl, codec: codec}
}

// Key returns the Redis key holding a pool's snapshot
func (s *RedisSink) Key(pool string) string {
	return s.prefix + ":" + pool
}

// Publish implements Sink
func (s *RedisSink) Publish(ctx context.Context, snapshot poolx.MetricsSnapshot) error {
	data, err := s.codec.Encode(snapshot)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.Key(snapshot.Pool), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// Load reads back the latest snapshot stored for pool
func (s *RedisSink) Load(ctx context.Context, pool string) (poolx.MetricsSnapshot, error) {
	data, err := s.client.Get(ctx, s.Key(pool)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return poolx.MetricsSnapshot{}, ErrNoSnapshot
		}
		return poolx.MetricsSnapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return s.codec.Decode(data)
}
