package navload

import (
	"context"
	"fmt"
	"reflect"

	"navload/internal/entity"
	"navload/internal/store"
)

// Query is the typed, fluent entry point over records of type T. Like
// store.Query it is an immutable value: every builder returns a copy. The
// first error raised by a builder is kept and returned by every terminal.
type Query[T any] struct {
	loader *Loader
	typ    *entity.Type
	q      store.Query
	plan   Plan
	report *Report
	err    error
}

// From starts a query over the mapped type of T.
func From[T any](l *Loader) Query[T] {
	goType := reflect.TypeFor[T]()
	t, ok := l.store.Catalog().TypeOf(goType)
	if !ok {
		return Query[T]{loader: l, err: fmt.Errorf("navload: %s is not a mapped type", goType)}
	}
	return Query[T]{
		loader: l,
		typ:    t,
		q:      l.store.Source(t),
		plan:   NewPlan(l.store.Catalog(), t),
	}
}

// Type returns the mapped root type.
func (q Query[T]) Type() *entity.Type { return q.typ }

// Plan returns the include plan built so far.
func (q Query[T]) Plan() Plan { return q.plan }

// Err returns the first builder error, if any.
func (q Query[T]) Err() error { return q.err }

func (q Query[T]) with(fn func(store.Query) store.Query) Query[T] {
	if q.err != nil {
		return q
	}
	q.q = fn(q.q)
	return q
}

// Where adds filters on the root type.
func (q Query[T]) Where(filters ...store.FilterSpec) Query[T] {
	return q.with(func(s store.Query) store.Query { return s.Where(filters...) })
}

func (q Query[T]) OrderBy(column string) Query[T] {
	return q.with(func(s store.Query) store.Query { return s.OrderBy(column) })
}

func (q Query[T]) OrderByDesc(column string) Query[T] {
	return q.with(func(s store.Query) store.Query { return s.OrderByDesc(column) })
}

func (q Query[T]) Limit(n uint64) Query[T] {
	return q.with(func(s store.Query) store.Query { return s.Limit(n) })
}

func (q Query[T]) Offset(n uint64) Query[T] {
	return q.with(func(s store.Query) store.Query { return s.Offset(n) })
}

// AsNoTracking loads the whole graph without attaching records to the
// session.
func (q Query[T]) AsNoTracking() Query[T] {
	return q.with(store.Query.AsNoTracking)
}

// AsTracking attaches every loaded record to the session.
func (q Query[T]) AsTracking() Query[T] {
	return q.with(store.Query.AsTracking)
}

// Include starts a chain at the root. A dotted path includes several levels.
func (q Query[T]) Include(path string, opts ...IncludeOption) Query[T] {
	if q.err != nil {
		return q
	}
	p, err := q.plan.Include(path, opts...)
	if err != nil {
		q.err = err
		return q
	}
	q.plan = p
	return q
}

// ThenInclude extends the chain started by the last Include.
func (q Query[T]) ThenInclude(path string, opts ...IncludeOption) Query[T] {
	if q.err != nil {
		return q
	}
	p, err := q.plan.ThenInclude(path, opts...)
	if err != nil {
		q.err = err
		return q
	}
	q.plan = p
	return q
}

// CollectReport makes every terminal copy its execution report into r.
func (q Query[T]) CollectReport(r *Report) Query[T] {
	q.report = r
	return q
}

// Store returns the root store query.
func (q Query[T]) Store() store.Query { return q.q }

func (q Query[T]) load(ctx context.Context, terminal Terminal) ([]*T, error) {
	if q.err != nil {
		return nil, q.err
	}
	records, report, err := q.loader.Load(ctx, q.q, q.plan, terminal)
	if q.report != nil && report != nil {
		*q.report = *report
	}
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(records))
	for _, r := range records {
		rec, ok := r.(*T)
		if !ok {
			return nil, fmt.Errorf("navload: loaded %T, want %T", r, rec)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ToList loads every root record and its included graph.
func (q Query[T]) ToList(ctx context.Context) ([]*T, error) {
	return q.load(ctx, TerminalList)
}

// ToArray is ToList returning a slice with no spare capacity.
func (q Query[T]) ToArray(ctx context.Context) ([]*T, error) {
	list, err := q.load(ctx, TerminalList)
	if err != nil {
		return nil, err
	}
	return append(make([]*T, 0, len(list)), list...), nil
}

func (q Query[T]) one(ctx context.Context, terminal Terminal) (*T, error) {
	list, err := q.load(ctx, terminal)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

// First returns the first root record or ErrNotFound.
func (q Query[T]) First(ctx context.Context) (*T, error) {
	return q.one(ctx, TerminalFirst)
}

// FirstOrDefault returns the first root record or nil.
func (q Query[T]) FirstOrDefault(ctx context.Context) (*T, error) {
	return q.one(ctx, TerminalFirstOrDefault)
}

// Last returns the last root record or ErrNotFound. Without an ordering the
// last record is the one with the greatest primary key.
func (q Query[T]) Last(ctx context.Context) (*T, error) {
	return q.one(ctx, TerminalLast)
}

// LastOrDefault returns the last root record or nil.
func (q Query[T]) LastOrDefault(ctx context.Context) (*T, error) {
	return q.one(ctx, TerminalLastOrDefault)
}

// Single returns the only root record, ErrNotFound when there is none and
// ErrNotSingular when there are several.
func (q Query[T]) Single(ctx context.Context) (*T, error) {
	return q.one(ctx, TerminalSingle)
}

// SingleOrDefault returns the only root record or nil, and ErrNotSingular
// when there are several.
func (q Query[T]) SingleOrDefault(ctx context.Context) (*T, error) {
	return q.one(ctx, TerminalSingleOrDefault)
}
