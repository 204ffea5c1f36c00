// Package sqlfactory opens raw database/sql/driver connections for the pool,
// for any driver registered with database/sql.
package sqlfactory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/seasbee/go-logx"
	poolx "github.com/seasbee/go-poolx"
)

// Factory implements poolx.ConnectionFactory[driver.Conn]
type Factory struct {
	driverName string
	connector  driver.Connector
}

var _ poolx.ConnectionFactory[driver.Conn] = (*Factory)(nil)

// New creates a factory for a registered driver and a driver-specific DSN
func New(driverName, dsn string) (*Factory, error) {
	if driverName == "" {
		return nil, fmt.Errorf("%w: driver name cannot be empty", poolx.ErrInvalidConfig)
	}

	// database/sql only exposes registered drivers through a DB handle
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", poolx.ErrInvalidConfig, err)
	}
	drv := db.Driver()
	_ = db.Close()

	var connector driver.Connector
	if dc, ok := drv.(driver.DriverContext); ok {
		if connector, err = dc.OpenConnector(dsn); err != nil {
			return nil, fmt.Errorf("%w: %w", poolx.ErrInvalidConfig, err)
		}
	} else {
		connector = dsnConnector{dsn: dsn, driver: drv}
	}

	return &Factory{driverName: driverName, connector: connector}, nil
}

// FromConfig creates a factory from the pool's factory settings. URL-style
// URIs get the credentials and properties merged in; other URIs are used
// as the DSN unchanged.
func FromConfig(fc poolx.FactoryConfig) (*Factory, error) {
	return New(fc.Driver, BuildDSN(fc))
}

// BuildDSN merges credentials and properties into a URL-style URI
func BuildDSN(fc poolx.FactoryConfig) string {
	u, err := url.Parse(fc.URI)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fc.URI
	}

	if fc.Username != "" {
		if fc.Password != "" {
			u.User = url.UserPassword(fc.Username, fc.Password)
		} else {
			u.User = url.User(fc.Username)
		}
	}

	if len(fc.Properties) > 0 {
		q := u.Query()
		keys := make([]string, 0, len(fc.Properties))
		for k := range fc.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			q.Set(k, fc.Properties[k])
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Create implements poolx.ConnectionFactory
func (f *Factory) Create(ctx context.Context) (driver.Conn, error) {
	conn, err := f.connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect with driver %s: %w", f.driverName, err)
	}
	return conn, nil
}

// Validate implements poolx.ConnectionFactory. It prefers driver.Validator,
// then driver.Pinger; connections supporting neither are assumed valid.
func (f *Factory) Validate(ctx context.Context, conn driver.Conn) bool {
	if v, ok := conn.(driver.Validator); ok && !v.IsValid() {
		return false
	}

	if p, ok := conn.(driver.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				logx.Debug("Connection ping failed",
					logx.String("driver", f.driverName),
					logx.ErrorField(err))
			}
			return false
		}
	}
	return true
}

// Destroy implements poolx.ConnectionFactory
func (f *Factory) Destroy(conn driver.Conn) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// dsnConnector adapts drivers without driver.DriverContext
type dsnConnector struct {
	dsn    string
	driver driver.Driver
}

func (c dsnConnector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.driver.Open(c.dsn)
}

func (c dsnConnector) Driver() driver.Driver {
	return c.driver
}
