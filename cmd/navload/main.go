package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/spf13/pflag"
	_ "modernc.org/sqlite"

	"navload/internal/app"
	"navload/internal/config"
	"navload/internal/fixtures"
	"navload/internal/planfile"
	"navload/internal/store"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("navload error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	pflag.Bool("version", false, "Print version and exit")
	pflag.String("plan", "", "Path to the load plan YAML file (or pass it as the first argument)")
	pflag.StringP("output", "o", "", "Write the JSON result to this file instead of stdout")
	pflag.Bool("demo", false, "Run against an in-memory SQLite database seeded with the blog fixtures")
	pflag.Bool("serve", false, "Keep running after the plan executes until interrupted (serves metrics)")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if showVersion, _ := pflag.CommandLine.GetBool("version"); showVersion {
		fmt.Printf("navload %s (%s)\n", Version, Commit)
		return nil
	}

	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	demo, _ := pflag.CommandLine.GetBool("demo")
	if demo {
		applyDemo(cfg)
	}

	planFlag, _ := pflag.CommandLine.GetString("plan")
	planPath, err := resolvePlanPath(planFlag, pflag.Args())
	if err != nil {
		return err
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	plan, err := planfile.Load(planPath)
	if err != nil {
		return err
	}

	logger, loggerProvider, err := app.InitLogger(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	var opts []app.Option
	if demo {
		opts = append(opts, app.WithSeed(func(ctx context.Context, db *store.DB) error {
			return fixtures.Seed(ctx, db)
		}))
	}

	a, err := app.New(cfg, logger, fixtures.Catalog(), opts...)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	a.AttachLoggerProvider(loggerProvider)

	shutdown := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Shutdown(ctx)
	}

	if err := a.Init(context.Background()); err != nil {
		_ = shutdown()
		return err
	}

	serverErrors, err := a.Start()
	if err != nil {
		_ = shutdown()
		return err
	}

	outputPath, _ := pflag.CommandLine.GetString("output")
	if err := execute(a, plan, outputPath); err != nil {
		_ = shutdown()
		return err
	}

	var waitErr error
	if serve, _ := pflag.CommandLine.GetBool("serve"); serve {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(stop)

		logger.Info("plan complete, waiting for shutdown signal")
		_, waitErr = a.WaitForStop(stop, serverErrors)
	}

	shutdownErr := shutdown()
	if waitErr != nil {
		return waitErr
	}
	return shutdownErr
}

func execute(a *app.App, plan *planfile.File, outputPath string) error {
	var w io.Writer = os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		w = f
	}
	_, err := a.Execute(context.Background(), plan, w)
	return err
}

// applyDemo points the configuration at a private in-memory SQLite database.
func applyDemo(cfg *config.Config) {
	cfg.Database = config.DatabaseConfig{
		Driver:                  config.DriverSQLite,
		Pool:                    cfg.Database.Pool,
		ConnectionTimeout:       cfg.Database.ConnectionTimeout,
		ConnectionRetryInterval: cfg.Database.ConnectionRetryInterval,
	}
	cfg.Loader.IntrospectSchema = false
}

func resolvePlanPath(flagValue string, args []string) (string, error) {
	switch {
	case flagValue != "" && len(args) > 0:
		return "", fmt.Errorf("plan given both as --plan and as an argument")
	case flagValue != "":
		return flagValue, nil
	case len(args) == 1:
		return args[0], nil
	case len(args) > 1:
		return "", fmt.Errorf("expected one plan file, got %d", len(args))
	default:
		return "", fmt.Errorf("a plan file is required (--plan or first argument)")
	}
}
