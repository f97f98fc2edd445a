package store

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"navload/internal/dbexec"
	"navload/internal/entity"
	"navload/internal/observability"
	"navload/internal/schema"
)

// Row is one fetched row: Row[0] is the base record and Row[i] the record of
// join scope i, nil when the LEFT JOIN found nothing.
type Row []any

// SQLStore fetches queries through a QueryExecutor.
type SQLStore struct {
	exec           dbexec.QueryExecutor
	dialect        Dialect
	catalog        *schema.Catalog
	session        *Session
	trackByDefault bool
	metrics        *observability.LoaderMetrics
}

// Option configures an SQLStore.
type Option func(*SQLStore)

// WithDefaultTracking sets the tracking mode of queries that do not choose one.
func WithDefaultTracking(enabled bool) Option {
	return func(s *SQLStore) { s.trackByDefault = enabled }
}

// WithSession shares an identity-map session between stores.
func WithSession(session *Session) Option {
	return func(s *SQLStore) { s.session = session }
}

// WithMetrics records fetch metrics.
func WithMetrics(m *observability.LoaderMetrics) Option {
	return func(s *SQLStore) { s.metrics = m }
}

// New creates a store. Tracking is off by default.
func New(exec dbexec.QueryExecutor, dialect Dialect, catalog *schema.Catalog, opts ...Option) *SQLStore {
	s := &SQLStore{
		exec:    exec,
		dialect: dialect,
		catalog: catalog,
		session: NewSession(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the metadata catalogue.
func (s *SQLStore) Catalog() *schema.Catalog { return s.catalog }

// Session returns the identity-map session.
func (s *SQLStore) Session() *Session { return s.session }

// Dialect returns the SQL dialect.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// Source returns an unfiltered query over t.
func (s *SQLStore) Source(t *entity.Type) Query { return From(t) }

// IsTrackingEnabled resolves the tracking mode of q.
func (s *SQLStore) IsTrackingEnabled(q Query) bool {
	switch q.TrackingMode() {
	case TrackingOn:
		return true
	case TrackingOff:
		return false
	default:
		return s.trackByDefault
	}
}

// Fetch runs q and materialises its rows.
func (s *SQLStore) Fetch(ctx context.Context, q Query) ([]Row, error) {
	ctx, span := startSpan(ctx, "store.fetch",
		attribute.String("navload.entity", q.Type().Name()),
		attribute.Int("navload.joins", len(q.Joins())),
	)
	defer span.End()

	if q.Projection() != "" {
		err := fmt.Errorf("store: projected query over %s can only be used as a subquery", q.Type().Name())
		recordSpanError(span, err)
		return nil, err
	}
	built, err := s.dialect.Build(q)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	start := time.Now()
	rows, err := s.fetchRows(ctx, q, built)
	s.metrics.RecordFetch(ctx, q.Type().Name(), len(rows), time.Since(start), err)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("navload.rows", len(rows)))

	if s.IsTrackingEnabled(q) {
		added := s.attach(q, rows)
		s.metrics.RecordTracked(ctx, int64(added))
	}
	return rows, nil
}

func (s *SQLStore) fetchRows(ctx context.Context, q Query, built SQLQuery) ([]Row, error) {
	rows, err := s.exec.QueryContext(ctx, built.SQL, built.Args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q.Type().Name(), err)
	}
	defer func() {
		_ = rows.Close()
	}()

	scopes := make([]*entity.Type, len(q.Joins())+1)
	width := 0
	for i := range scopes {
		scopes[i] = q.ScopeType(i)
		width += len(scopes[i].Columns())
	}

	var out []Row
	for rows.Next() {
		row, err := scanRow(rows, scopes, width)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Type().Name(), err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q.Type().Name(), err)
	}
	return out, nil
}

// scanRow scans once into untyped holders to find joined scopes whose key is
// NULL, then scans again into typed record fields for the present scopes.
func scanRow(rows dbexec.Rows, scopes []*entity.Type, width int) (Row, error) {
	raw := make([]any, width)
	holders := make([]any, width)
	for i := range raw {
		holders[i] = &raw[i]
	}
	if len(scopes) > 1 {
		if err := rows.Scan(holders...); err != nil {
			return nil, err
		}
	}

	row := make(Row, len(scopes))
	dest := make([]any, 0, width)
	offset := 0
	for i, t := range scopes {
		columns := t.Columns()
		present := true
		if i > 0 {
			for c, name := range columns {
				if name == t.PrimaryKey() {
					present = raw[offset+c] != nil
					break
				}
			}
		}
		if present {
			rec := t.New()
			row[i] = rec
			dest = append(dest, t.ScanDest(rec)...)
		} else {
			dest = append(dest, holders[offset:offset+len(columns)]...)
		}
		offset += len(columns)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *SQLStore) attach(q Query, rows []Row) int {
	added := 0
	for _, row := range rows {
		for i, rec := range row {
			if rec == nil {
				continue
			}
			tracked, isNew := s.session.Attach(q.ScopeType(i), rec)
			row[i] = tracked
			if isNew {
				added++
			}
		}
	}
	return added
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("navload/store")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
