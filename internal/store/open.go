package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OpenOptions controls how a database handle is opened.
type OpenOptions struct {
	Driver       string
	DSN          string
	Tracing      bool
	Metrics      bool
	SQLCommenter bool
}

// DB is a database handle plus its instrumentation registration.
type DB struct {
	*sql.DB
	stats interface{ Unregister() error }
}

// Close unregisters DB stats metrics and closes the handle.
func (db *DB) Close() error {
	var errs []error
	if db.stats != nil {
		errs = append(errs, db.stats.Unregister())
	}
	errs = append(errs, db.DB.Close())
	return errors.Join(errs...)
}

func dbSystem(driver string) attribute.KeyValue {
	switch driver {
	case "postgres":
		return semconv.DBSystemPostgreSQL
	case "sqlite":
		return semconv.DBSystemSqlite
	default:
		return semconv.DBSystemMySQL
	}
}

// Open opens a handle, wrapping the driver with otelsql when tracing or
// metrics are enabled. The driver must already be registered.
func Open(opts OpenOptions) (*DB, error) {
	if !opts.Tracing && !opts.Metrics {
		db, err := sql.Open(opts.Driver, opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", opts.Driver, err)
		}
		return &DB{DB: db}, nil
	}

	system := dbSystem(opts.Driver)
	otelOpts := []otelsql.Option{otelsql.WithAttributes(system)}
	if opts.Tracing {
		otelOpts = append(otelOpts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
		if opts.SQLCommenter {
			otelOpts = append(otelOpts, otelsql.WithSQLCommenter(true))
		}
	}

	db, err := otelsql.Open(opts.Driver, opts.DSN, otelOpts...)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Driver, err)
	}
	out := &DB{DB: db}
	if opts.Metrics {
		reg, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(system))
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("register db stats metrics: %w", err)
		}
		out.stats = reg
	}
	return out, nil
}
