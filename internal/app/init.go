package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"navload/internal/dbexec"
	"navload/internal/navload"
	"navload/internal/store"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx = a.Context(ctx)

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			_ = cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, loaderMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	a.logger.Info("connecting to database",
		slog.String("driver", a.cfg.Database.Driver),
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.Port),
		slog.String("database_effective", a.effectiveDatabase),
		slog.String("database_source", a.databaseSource),
	)

	db, err := connectDB(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.push("database", func(_ context.Context) error {
		return db.Close()
	})

	if err := configureDatabase(ctx, a.cfg, a.logger, db, a.effectiveDatabase); err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}

	if a.seed != nil {
		if err := a.seed(ctx, db); err != nil {
			return fmt.Errorf("failed to seed database: %w", err)
		}
	}

	if err := introspectCatalog(ctx, a.cfg, a.logger, a.catalog, db, a.effectiveDatabase); err != nil {
		return fmt.Errorf("failed to introspect schema: %w", err)
	}

	dialect, err := store.DialectFor(a.cfg.Database.Driver)
	if err != nil {
		return err
	}
	executor := dbexec.NewCountingExecutor(dbexec.NewStandardExecutor(db))
	sqlStore := store.New(executor, dialect, a.catalog,
		store.WithDefaultTracking(a.cfg.Loader.TrackingEnabled()),
		store.WithMetrics(loaderMetrics),
	)

	loaderOpts := []navload.Option{
		navload.WithMaxInClause(a.cfg.Loader.MaxInClause),
		navload.WithMetrics(loaderMetrics),
	}
	if !a.cfg.Loader.CombineJoins {
		loaderOpts = append(loaderOpts, navload.WithoutJoinCombination())
	}
	loader := navload.New(sqlStore, loaderOpts...)

	var metricsSrv *http.Server
	if addr := a.cfg.Observability.MetricsListen; addr != "" && a.cfg.Observability.MetricsEnabled {
		metricsSrv = buildMetricsServer(addr, db)
		cleanup.push("metrics server", func(shutdownCtx context.Context) error {
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.loaderMetrics = loaderMetrics
	a.tracerProvider = tracerProvider
	a.db = db
	a.executor = executor
	a.store = sqlStore
	a.loader = loader
	a.metricsSrv = metricsSrv
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	a.logger.Info("loader ready",
		slog.Int("max_in_clause", a.cfg.Loader.MaxInClause),
		slog.Bool("combine_joins", a.cfg.Loader.CombineJoins),
		slog.String("tracking", a.cfg.Loader.Tracking),
	)

	success = true
	return nil
}
