package dbexec

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"navload/internal/logging"
)

// Statement is one query forwarded by a CountingExecutor.
type Statement struct {
	SQL      string
	Args     []any
	Duration time.Duration
	Err      error
}

// CountingExecutor wraps another executor, logging each statement at debug
// level and keeping a log of the statements it ran.
type CountingExecutor struct {
	next QueryExecutor

	mu         sync.Mutex
	statements []Statement
}

// NewCountingExecutor wraps next.
func NewCountingExecutor(next QueryExecutor) *CountingExecutor {
	return &CountingExecutor{next: next}
}

func (e *CountingExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	start := time.Now()
	rows, err := e.next.QueryContext(ctx, query, args...)
	e.record(ctx, query, args, time.Since(start), err)
	return rows, err
}

func (e *CountingExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := e.next.ExecContext(ctx, query, args...)
	e.record(ctx, query, args, time.Since(start), err)
	return res, err
}

func (e *CountingExecutor) record(ctx context.Context, query string, args []any, d time.Duration, err error) {
	logger := logging.FromContext(ctx)
	if err != nil {
		logger.Debug("sql statement failed", "sql", query, "args", len(args), "duration_ms", d.Milliseconds(), "error", err)
	} else {
		logger.Debug("sql statement", "sql", query, "args", len(args), "duration_ms", d.Milliseconds())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.statements = append(e.statements, Statement{SQL: query, Args: append([]any(nil), args...), Duration: d, Err: err})
}

// Count returns the number of statements forwarded so far.
func (e *CountingExecutor) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.statements)
}

// Statements returns a copy of the statement log.
func (e *CountingExecutor) Statements() []Statement {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Statement(nil), e.statements...)
}

// Reset clears the statement log.
func (e *CountingExecutor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statements = nil
}
