// Package store is the relational collaborator of the loader: lazy, immutable
// query values over mapped types, SQL generation per dialect, execution and an
// optional identity-map session.
package store

import (
	"fmt"
	"strings"

	"navload/internal/entity"
	"navload/internal/schema"
)

// Tracking selects whether fetched records are attached to the session.
type Tracking int

const (
	// TrackingDefault defers to the store's configured default.
	TrackingDefault Tracking = iota
	TrackingOn
	TrackingOff
)

// Order is one ORDER BY term on the query's base type.
type Order struct {
	Column string
	Desc   bool
}

// Join attaches a single-valued relationship to an earlier scope of the query.
// Scope 0 is the base type; join i is scope i+1.
type Join struct {
	Parent int
	Rel    schema.Relationship
}

// Query is a lazily composed fetch over one mapped type. Every builder method
// returns a copy; nothing runs until the query is handed to a store.
type Query struct {
	typ      *entity.Type
	filters  []FilterSpec
	orders   []Order
	limit    uint64
	hasLimit bool
	offset   uint64
	distinct bool
	project  string
	joins    []Join
	tracking Tracking
}

// From starts a query over t.
func From(t *entity.Type) Query {
	return Query{typ: t}
}

func (q Query) clone() Query {
	c := q
	c.filters = append([]FilterSpec(nil), q.filters...)
	c.orders = append([]Order(nil), q.orders...)
	c.joins = append([]Join(nil), q.joins...)
	return c
}

// Type returns the queried type.
func (q Query) Type() *entity.Type { return q.typ }

// Where adds filters, combined with AND.
func (q Query) Where(filters ...FilterSpec) Query {
	c := q.clone()
	c.filters = append(c.filters, filters...)
	return c
}

// OrderBy appends an ascending ORDER BY term.
func (q Query) OrderBy(column string) Query {
	c := q.clone()
	c.orders = append(c.orders, Order{Column: column})
	return c
}

// OrderByDesc appends a descending ORDER BY term.
func (q Query) OrderByDesc(column string) Query {
	c := q.clone()
	c.orders = append(c.orders, Order{Column: column, Desc: true})
	return c
}

// Reversed flips every ORDER BY term, ordering by primary key descending when
// the query has no ordering.
func (q Query) Reversed() Query {
	c := q.clone()
	if len(c.orders) == 0 {
		c.orders = []Order{{Column: q.typ.PrimaryKey(), Desc: true}}
		return c
	}
	for i := range c.orders {
		c.orders[i].Desc = !c.orders[i].Desc
	}
	return c
}

// Limit caps the number of rows.
func (q Query) Limit(n uint64) Query {
	c := q.clone()
	c.limit = n
	c.hasLimit = true
	return c
}

// Offset skips rows.
func (q Query) Offset(n uint64) Query {
	c := q.clone()
	c.offset = n
	return c
}

// Distinct makes the query SELECT DISTINCT.
func (q Query) Distinct() Query {
	c := q.clone()
	c.distinct = true
	return c
}

// Project selects a single column of the base type; used for subqueries.
func (q Query) Project(column string) Query {
	c := q.clone()
	c.project = column
	return c
}

// Join attaches rel to scope parent and returns the new query and the scope
// index of the joined type.
func (q Query) Join(parent int, rel schema.Relationship) (Query, int) {
	c := q.clone()
	c.joins = append(c.joins, Join{Parent: parent, Rel: rel})
	return c, len(c.joins)
}

// WithoutJoins drops every join.
func (q Query) WithoutJoins() Query {
	c := q.clone()
	c.joins = nil
	return c
}

// WithoutCaps drops LIMIT, OFFSET and ORDER BY.
func (q Query) WithoutCaps() Query {
	c := q.clone()
	c.limit, c.hasLimit, c.offset = 0, false, 0
	c.orders = nil
	return c
}

// AsNoTracking disables session tracking for the query.
func (q Query) AsNoTracking() Query {
	c := q.clone()
	c.tracking = TrackingOff
	return c
}

// AsTracking enables session tracking for the query.
func (q Query) AsTracking() Query {
	c := q.clone()
	c.tracking = TrackingOn
	return c
}

// WithTracking copies the tracking mode of another query.
func (q Query) WithTracking(mode Tracking) Query {
	c := q.clone()
	c.tracking = mode
	return c
}

func (q Query) Filters() []FilterSpec { return append([]FilterSpec(nil), q.filters...) }
func (q Query) Orders() []Order        { return append([]Order(nil), q.orders...) }
func (q Query) Joins() []Join          { return append([]Join(nil), q.joins...) }
func (q Query) Projection() string     { return q.project }
func (q Query) IsDistinct() bool       { return q.distinct }
func (q Query) TrackingMode() Tracking { return q.tracking }

// LimitValue returns the row cap, if any.
func (q Query) LimitValue() (uint64, bool) { return q.limit, q.hasLimit }

// OffsetValue returns the number of skipped rows.
func (q Query) OffsetValue() uint64 { return q.offset }

// HasCap reports whether a LIMIT or OFFSET applies.
func (q Query) HasCap() bool { return q.hasLimit || q.offset > 0 }

// ScopeType returns the type bound to a scope index.
func (q Query) ScopeType(scope int) *entity.Type {
	if scope == 0 {
		return q.typ
	}
	return q.joins[scope-1].Rel.Related
}

// Validate checks that joins hang off the right scopes and that referenced
// columns are mapped.
func (q Query) Validate() error {
	if q.typ == nil {
		return fmt.Errorf("store: query has no type")
	}
	for i, j := range q.joins {
		if j.Parent < 0 || j.Parent > i {
			return fmt.Errorf("store: join %d references unknown scope %d", i+1, j.Parent)
		}
		if parent := q.ScopeType(j.Parent); parent != j.Rel.Owner {
			return fmt.Errorf("store: join %s hangs off %s", j.Rel, parent.Name())
		}
		if !j.Rel.IsSingleValued() {
			return fmt.Errorf("store: join %s is not single-valued", j.Rel)
		}
	}
	for _, o := range q.orders {
		if !q.typ.HasColumn(o.Column) {
			return fmt.Errorf("store: %s has no column %q to order by", q.typ.Name(), o.Column)
		}
	}
	if q.project != "" && !q.typ.HasColumn(q.project) {
		return fmt.Errorf("store: %s has no column %q to project", q.typ.Name(), q.project)
	}
	for _, f := range q.filters {
		if err := f.validate(q.typ); err != nil {
			return err
		}
	}
	return nil
}

// String renders a compact description for logs.
func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.typ.Name())
	for _, f := range q.filters {
		b.WriteString(" where ")
		b.WriteString(f.String())
	}
	for _, j := range q.joins {
		fmt.Fprintf(&b, " join %s.%s", j.Rel.Owner.Name(), j.Rel.Navigation.Name())
	}
	if q.hasLimit {
		fmt.Fprintf(&b, " limit %d", q.limit)
	}
	if q.offset > 0 {
		fmt.Fprintf(&b, " offset %d", q.offset)
	}
	return b.String()
}
