// Package redisfactory opens single-connection Redis clients for the pool
package redisfactory

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/seasbee/go-logx"
	poolx "github.com/seasbee/go-poolx"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	TLSConfig    *TLSConfig
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
}

// Factory implements poolx.ConnectionFactory[*redis.Client]. Each client owns
// exactly one network connection, so the pool alone decides how many exist.
type Factory struct {
	opts *redis.Options
}

var _ poolx.ConnectionFactory[*redis.Client] = (*Factory)(nil)

// New creates a factory from config, applying default timeouts
func New(config *Config) (*Factory, error) {
	if config == nil {
		config = &Config{Addr: "localhost:6379"}
	}
	if config.Addr == "" {
		return nil, fmt.Errorf("%w: redis address cannot be empty", poolx.ErrInvalidConfig)
	}

	opts := &redis.Options{
		Addr:         config.Addr,
		Username:     config.Username,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	if config.TLSConfig != nil && config.TLSConfig.Enabled {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: config.TLSConfig.InsecureSkipVerify,
		}
	}

	return newFactory(opts), nil
}

// FromConfig creates a factory from the pool's factory settings. The URI is
// either a redis:// or rediss:// URL or a host:port address; the "db"
// property selects the database for plain addresses.
func FromConfig(fc poolx.FactoryConfig) (*Factory, error) {
	if strings.HasPrefix(fc.URI, "redis://") || strings.HasPrefix(fc.URI, "rediss://") {
		opts, err := redis.ParseURL(fc.URI)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", poolx.ErrInvalidConfig, err)
		}
		if fc.Username != "" {
			opts.Username = fc.Username
		}
		if fc.Password != "" {
			opts.Password = fc.Password
		}
		return newFactory(opts), nil
	}

	config := &Config{
		Addr:     fc.URI,
		Username: fc.Username,
		Password: fc.Password,
	}
	if db, ok := fc.Properties["db"]; ok {
		n, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid db property %q", poolx.ErrInvalidConfig, db)
		}
		config.DB = n
	}
	return New(config)
}

func newFactory(opts *redis.Options) *Factory {
	// Set default timeouts if not provided
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 3 * time.Second
	}

	// One connection per client; go-redis must not pool underneath us
	opts.PoolSize = 1
	opts.MinIdleConns = 0
	opts.MaxIdleConns = 1
	opts.MaxRetries = -1

	return &Factory{opts: opts}
}

// Options returns a copy of the client options used for new connections
func (f *Factory) Options() redis.Options {
	return *f.opts
}

// Create implements poolx.ConnectionFactory. The client is pinged so the
// connection is established before it enters the pool.
func (f *Factory) Create(ctx context.Context) (*redis.Client, error) {
	opts := *f.opts
	client := redis.NewClient(&opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", f.opts.Addr, err)
	}
	return client, nil
}

// Validate implements poolx.ConnectionFactory
func (f *Factory) Validate(ctx context.Context, client *redis.Client) bool {
	if err := client.Ping(ctx).Err(); err != nil {
		logx.Debug("Redis connection ping failed",
			logx.String("addr", f.opts.Addr),
			logx.ErrorField(err))
		return false
	}
	return true
}

// Destroy implements poolx.ConnectionFactory
func (f *Factory) Destroy(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
