package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"navload/internal/navload"
	"navload/internal/planfile"
)

// Start launches the metrics server, when one is configured. It requires
// Init to have completed. The returned channel is nil without a server.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if !a.initialized {
		return nil, fmt.Errorf("app is not initialized")
	}
	if a.started || a.metricsSrv == nil {
		a.started = true
		return a.serverErrors, nil
	}

	serverErrors, err := startServer(a.logger, a.metricsSrv)
	if err != nil {
		return nil, err
	}
	a.serverErrors = serverErrors
	a.started = true
	return a.serverErrors, nil
}

// Execute runs a plan file and writes the loaded graph and its report to w.
func (a *App) Execute(ctx context.Context, f *planfile.File, w io.Writer) (*navload.Report, error) {
	loader := a.Loader()
	if loader == nil {
		return nil, fmt.Errorf("app is not initialized")
	}
	ctx = a.Context(ctx)

	before := a.Statements()
	start := time.Now()
	records, report, err := f.Run(ctx, loader)
	if err != nil {
		return nil, err
	}
	a.logger.Info("plan executed",
		slog.String("root", f.Root),
		slog.Int("records", len(records)),
		slog.Int("fetches", report.Fetches),
		slog.Int("statements", a.Statements()-before),
		slog.Int("tracked", a.Store().Session().TrackedCount()),
		slog.Duration("duration", time.Since(start)),
	)

	if err := planfile.WriteJSON(w, loader.Store().Catalog(), records, report); err != nil {
		return nil, fmt.Errorf("failed to write output: %w", err)
	}
	return report, nil
}

// WaitForStop waits for either an OS signal or a server error.
func (a *App) WaitForStop(stop <-chan os.Signal, serverErrors <-chan error) (reason string, err error) {
	if serverErrors == nil {
		a.stateMu.Lock()
		serverErrors = a.serverErrors
		a.stateMu.Unlock()
	}

	if stop == nil && serverErrors == nil {
		return "", fmt.Errorf("both stop and serverErrors channels are nil")
	}
	if stop == nil {
		err := <-serverErrors
		if err == nil {
			return "server_error", fmt.Errorf("server stopped unexpectedly")
		}
		return "server_error", fmt.Errorf("server failed: %w", err)
	}
	if serverErrors == nil {
		sig := <-stop
		a.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		return "signal", nil
	}

	select {
	case err := <-serverErrors:
		if err == nil {
			return "server_error", fmt.Errorf("server stopped unexpectedly")
		}
		return "server_error", fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		a.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		return "signal", nil
	}
}
