package store

import (
	"fmt"

	"navload/internal/entity"
)

// FilterKind enumerates the predicates the store understands.
type FilterKind int

const (
	FilterEq FilterKind = iota + 1
	FilterIn
	FilterInSubquery
	FilterNotNull
	FilterCompare
)

// FilterSpec is one predicate on a column of the query's base type.
type FilterSpec struct {
	Kind   FilterKind
	Column string
	Op     string // FilterCompare only: <, <=, >, >=, <>, LIKE
	Value  any
	Values []any
	Sub    *Query
}

// Eq matches column = value.
func Eq(column string, value any) FilterSpec {
	return FilterSpec{Kind: FilterEq, Column: column, Value: value}
}

// In matches column IN (values). An empty value set matches nothing.
func In(column string, values []any) FilterSpec {
	return FilterSpec{Kind: FilterIn, Column: column, Values: append([]any(nil), values...)}
}

// InQuery matches column IN (SELECT <projection> FROM sub). sub must project
// exactly one column.
func InQuery(column string, sub Query) FilterSpec {
	return FilterSpec{Kind: FilterInSubquery, Column: column, Sub: &sub}
}

// NotNull matches column IS NOT NULL.
func NotNull(column string) FilterSpec {
	return FilterSpec{Kind: FilterNotNull, Column: column}
}

// Compare matches column <op> value.
func Compare(column, op string, value any) FilterSpec {
	return FilterSpec{Kind: FilterCompare, Column: column, Op: op, Value: value}
}

var compareOps = map[string]bool{"<": true, "<=": true, ">": true, ">=": true, "<>": true, "LIKE": true}

func (f FilterSpec) validate(t *entity.Type) error {
	if !t.HasColumn(f.Column) {
		return fmt.Errorf("store: %s has no column %q to filter on", t.Name(), f.Column)
	}
	switch f.Kind {
	case FilterEq, FilterIn, FilterNotNull:
		return nil
	case FilterCompare:
		if !compareOps[f.Op] {
			return fmt.Errorf("store: unsupported comparison %q", f.Op)
		}
		return nil
	case FilterInSubquery:
		if f.Sub == nil || f.Sub.Projection() == "" {
			return fmt.Errorf("store: subquery filter on %q must project one column", f.Column)
		}
		return f.Sub.Validate()
	default:
		return fmt.Errorf("store: unknown filter kind %d", f.Kind)
	}
}

func (f FilterSpec) String() string {
	switch f.Kind {
	case FilterEq:
		return fmt.Sprintf("%s = %v", f.Column, f.Value)
	case FilterIn:
		return fmt.Sprintf("%s in %d keys", f.Column, len(f.Values))
	case FilterInSubquery:
		return fmt.Sprintf("%s in (%s.%s of %s)", f.Column, f.Sub.Type().Name(), f.Sub.Projection(), f.Sub)
	case FilterNotNull:
		return f.Column + " is not null"
	case FilterCompare:
		return fmt.Sprintf("%s %s %v", f.Column, f.Op, f.Value)
	default:
		return "?"
	}
}
