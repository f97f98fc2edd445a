package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"navload/internal/config"
	"navload/internal/logging"
	"navload/internal/observability"
	"navload/internal/schema"
	"navload/internal/store"
)

func exporterConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
		},
	}
}

// InitLogger builds the process logger. With log exports enabled it also
// returns the OTLP logger provider the caller must shut down.
func InitLogger(ctx context.Context, cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(ctx, exporterConfig(cfg, logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.LoaderMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("environment", cfg.Observability.Environment),
	)

	meterProvider, err := observability.InitMeterProvider(exporterConfig(cfg, config.OTLPConfig{}))
	if err != nil {
		return nil, nil, err
	}

	loaderMetrics, err := observability.InitLoaderMetrics()
	if err != nil {
		return nil, nil, err
	}
	return meterProvider, loaderMetrics, nil
}

func initTracing(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	return observability.InitTracerProvider(ctx, exporterConfig(cfg, tracesConfig))
}

func connectDB(cfg *config.Config, logger *logging.Logger) (*store.DB, error) {
	// Register custom TLS configuration if needed (for verify-ca/verify-full modes)
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	dsn, err := cfg.Database.DSN()
	if err != nil {
		return nil, err
	}

	obs := cfg.Observability
	if obs.SQLCommenterEnabled && !obs.TracingEnabled {
		logger.Debug("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
	}
	db, err := store.Open(store.OpenOptions{
		Driver:       cfg.Database.Driver,
		DSN:          dsn,
		Tracing:      obs.TracingEnabled,
		Metrics:      obs.MetricsEnabled,
		SQLCommenter: obs.SQLCommenterEnabled && obs.TracingEnabled,
	})
	if err != nil {
		return nil, err
	}

	if obs.MetricsEnabled || obs.TracingEnabled {
		logger.Info("database instrumentation enabled",
			slog.Bool("metrics", obs.MetricsEnabled),
			slog.Bool("tracing", obs.TracingEnabled),
			slog.Bool("sqlcommenter", obs.SQLCommenterEnabled && obs.TracingEnabled),
		)
	}
	return db, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *store.DB, effectiveDatabase string) error {
	maxOpen, maxIdle := cfg.Database.Pool.MaxOpen, cfg.Database.Pool.MaxIdle
	if cfg.Database.IsMemory() {
		// Each connection to an in-memory SQLite database sees its own database.
		maxOpen, maxIdle = 1, 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)
	if cfg.Database.IsMemory() {
		db.SetConnMaxLifetime(0)
	}

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("driver", cfg.Database.Driver),
		slog.String("database_effective", effectiveDatabase),
		slog.Int("pool_max_open", maxOpen),
		slog.Int("pool_max_idle", maxIdle),
	)
	return nil
}

func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *store.DB) error {
	timeout := cfg.Database.ConnectionTimeout
	interval := cfg.Database.ConnectionRetryInterval

	// If timeout is 0, try once and fail immediately
	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		// Exponential backoff, capped at 30s
		interval = min(interval*2, 30*time.Second)
	}
}

// introspectCatalog overlays live key metadata on the catalogue. Only
// MySQL-compatible INFORMATION_SCHEMA layouts are supported.
func introspectCatalog(ctx context.Context, cfg *config.Config, logger *logging.Logger, catalog *schema.Catalog, db *store.DB, effectiveDatabase string) error {
	if !cfg.Loader.IntrospectSchema {
		return nil
	}
	if cfg.Database.Driver != config.DriverMySQL {
		logger.Warn("schema introspection is only supported for mysql; using declared keys",
			slog.String("driver", cfg.Database.Driver),
		)
		return nil
	}

	start := time.Now()
	if err := schema.IntrospectCatalog(ctx, catalog, db, effectiveDatabase); err != nil {
		return err
	}
	logger.Info("schema introspected",
		slog.Int("tables", len(catalog.TableNames())),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func buildMetricsServer(addr string, db *store.DB) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func startServer(logger *logging.Logger, srv *http.Server) (chan error, error) {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}
	logger.Info("serving metrics", slog.String("address", ln.Addr().String()))

	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
		close(serverErrors)
	}()
	return serverErrors, nil
}
