package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"navload/internal/logging"
)

// release frees one runtime resource acquired by Init.
type release struct {
	component string
	fn        func(context.Context) error
}

// cleanupStack releases resources in reverse order of acquisition.
type cleanupStack []release

func (s *cleanupStack) push(component string, fn func(context.Context) error) {
	*s = append(*s, release{component: component, fn: fn})
}

// run releases every resource, even after a failure, and returns the joined
// errors tagged with their component.
func (s cleanupStack) run(ctx context.Context, logger *logging.Logger) error {
	var errs []error
	for i := len(s) - 1; i >= 0; i-- {
		r := s[i]
		start := time.Now()
		err := r.fn(ctx)
		if logger != nil {
			logger.Debug("released",
				slog.String("component", r.component),
				slog.Duration("duration", time.Since(start)),
				slog.Bool("ok", err == nil),
			)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.component, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown releases the loader, database, metrics server and telemetry
// providers. Only the first call does any work.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		cleanup := a.cleanup
		a.cleanup = nil
		a.loader = nil
		a.started = false
		a.stateMu.Unlock()

		if err = cleanup.run(ctx, a.logger); err != nil {
			a.logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
		}
	})
	return err
}
