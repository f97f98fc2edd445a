// Package app wires configuration, observability, the database handle, the
// store and the loader into one lifecycle for the navload command.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"navload/internal/config"
	"navload/internal/dbexec"
	"navload/internal/logging"
	"navload/internal/navload"
	"navload/internal/observability"
	"navload/internal/schema"
	"navload/internal/store"
)

// App owns runtime resources for one navload process.
type App struct {
	cfg     *config.Config
	logger  *logging.Logger
	catalog *schema.Catalog
	seed    SeedFunc

	loggerProvider *observability.LoggerProvider

	effectiveDatabase string
	databaseSource    string

	meterProvider  *observability.MeterProvider
	loaderMetrics  *observability.LoaderMetrics
	tracerProvider *observability.TracerProvider

	db       *store.DB
	executor *dbexec.CountingExecutor
	store    *store.SQLStore
	loader   *navload.Loader

	metricsSrv *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
}

// SeedFunc populates a freshly opened database.
type SeedFunc func(ctx context.Context, db *store.DB) error

// Option configures an App.
type Option func(*App)

// WithSeed runs fn after the database is reachable, before introspection.
func WithSeed(fn SeedFunc) Option {
	return func(a *App) { a.seed = fn }
}

// New creates an App lifecycle wrapper serving the types in catalog.
func New(cfg *config.Config, logger *logging.Logger, catalog *schema.Catalog, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}

	effectiveDatabase, databaseSource, err := cfg.Database.EffectiveDatabaseName()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve effective database configuration: %w", err)
	}

	a := &App{
		cfg:               cfg,
		logger:            logger,
		catalog:           catalog,
		effectiveDatabase: effectiveDatabase,
		databaseSource:    databaseSource,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Loader returns the loader. It is nil until Init succeeds.
func (a *App) Loader() *navload.Loader {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.loader
}

// Store returns the store. It is nil until Init succeeds.
func (a *App) Store() *store.SQLStore {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.store
}

// Statements returns the number of SQL statements run so far.
func (a *App) Statements() int {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.executor == nil {
		return 0
	}
	return a.executor.Count()
}

// Context attaches the app logger to ctx.
func (a *App) Context(ctx context.Context) context.Context {
	return logging.WithLogger(ctx, a.logger)
}
