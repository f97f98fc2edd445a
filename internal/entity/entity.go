// Package entity describes mapped record types for the navigation loader.
// A Type knows its table, its ordered columns, its single primary key column and
// its navigation properties. All field access goes through typed selectors that
// are captured once at definition time, so no per-record reflection is needed.
package entity

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/jinzhu/inflection"
)

var (
	// ErrCompositeKey is returned when a type declares more than one key column.
	ErrCompositeKey = errors.New("entity: composite primary keys are not supported")
	// ErrNoKey is returned when a type declares no key column.
	ErrNoKey = errors.New("entity: type has no primary key")
)

// Type is the runtime descriptor of a mapped record type.
type Type struct {
	name        string
	table       string
	goType      reflect.Type
	columns     []*column
	byColumn    map[string]*column
	key         *column
	navigations []*Navigation
	byNav       map[string]*Navigation
	newRecord   func() any
}

type column struct {
	name      string
	nullable  bool
	isKey     bool
	refTable  string
	refColumn string
	scan      func(rec any) any
	get       func(rec any) any
}

// ForeignKeyDecl is a single-column foreign key declared on a type.
type ForeignKeyDecl struct {
	Constraint       string
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}

// Def is one piece of a type definition: a column or a navigation.
// The type parameter ties the definition to the record type it selects from.
type Def[T any] struct {
	col *column
	nav *Navigation
}

// Define builds a Type for records of type T. When table is empty it defaults to
// the pluralised snake_case form of name.
func Define[T any](name, table string, defs ...Def[T]) (*Type, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("entity: type name is required")
	}
	if table == "" {
		table = DefaultTableName(name)
	}
	t := &Type{
		name:      name,
		table:     table,
		goType:    reflect.TypeFor[T](),
		byColumn:  make(map[string]*column),
		byNav:     make(map[string]*Navigation),
		newRecord: func() any { return new(T) },
	}
	for _, d := range defs {
		switch {
		case d.col != nil:
			if _, dup := t.byColumn[d.col.name]; dup {
				return nil, fmt.Errorf("entity: %s declares column %q twice", name, d.col.name)
			}
			if d.col.isKey {
				if t.key != nil {
					return nil, fmt.Errorf("%w: %s declares %q and %q", ErrCompositeKey, name, t.key.name, d.col.name)
				}
				t.key = d.col
			}
			t.columns = append(t.columns, d.col)
			t.byColumn[d.col.name] = d.col
		case d.nav != nil:
			if _, dup := t.byNav[d.nav.name]; dup {
				return nil, fmt.Errorf("entity: %s declares navigation %q twice", name, d.nav.name)
			}
			nav := *d.nav
			nav.owner = t
			t.navigations = append(t.navigations, &nav)
			t.byNav[nav.name] = &nav
		}
	}
	if t.key == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoKey, name)
	}
	return t, nil
}

// MustDefine is Define that panics on error, for package-level type tables.
func MustDefine[T any](name, table string, defs ...Def[T]) *Type {
	t, err := Define[T](name, table, defs...)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultTableName converts a type name such as "AuthorProfile" to "author_profiles".
func DefaultTableName(name string) string {
	return inflection.Plural(SnakeCase(name))
}

// SnakeCase converts CamelCase identifiers to snake_case.
func SnakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper {
			if i > 0 {
				prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
				nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
				if prevLower || (nextLower && runes[i-1] >= 'A' && runes[i-1] <= 'Z') {
					b.WriteByte('_')
				}
			}
			r = r - 'A' + 'a'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Name returns the type name.
func (t *Type) Name() string { return t.name }

// Table returns the backing table name.
func (t *Type) Table() string { return t.table }

// GoType returns the struct type records of this Type point to.
func (t *Type) GoType() reflect.Type { return t.goType }

// PrimaryKey returns the key column name.
func (t *Type) PrimaryKey() string { return t.key.name }

// New allocates a zero record (a *T).
func (t *Type) New() any { return t.newRecord() }

// Columns returns column names in declaration order.
func (t *Type) Columns() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
	}
	return names
}

// HasColumn reports whether the type maps the named column.
func (t *Type) HasColumn(name string) bool {
	_, ok := t.byColumn[name]
	return ok
}

// IsNullable reports whether the named column accepts NULL.
func (t *Type) IsNullable(name string) bool {
	c, ok := t.byColumn[name]
	return ok && c.nullable
}

// ForeignKeys returns the foreign keys declared through References.
func (t *Type) ForeignKeys() []ForeignKeyDecl {
	var fks []ForeignKeyDecl
	for _, c := range t.columns {
		if c.refTable == "" {
			continue
		}
		fks = append(fks, ForeignKeyDecl{
			Constraint:       fmt.Sprintf("fk_%s_%s", t.table, c.name),
			Column:           c.name,
			ReferencedTable:  c.refTable,
			ReferencedColumn: c.refColumn,
		})
	}
	return fks
}

// ScanDest returns pointers to rec's fields in column order.
func (t *Type) ScanDest(rec any) []any {
	dest := make([]any, len(t.columns))
	for i, c := range t.columns {
		dest[i] = c.scan(rec)
	}
	return dest
}

// Value returns the raw value of a column on rec.
func (t *Type) Value(rec any, name string) (any, error) {
	c, ok := t.byColumn[name]
	if !ok {
		return nil, fmt.Errorf("entity: %s has no column %q", t.name, name)
	}
	return c.get(rec), nil
}

// KeyValue returns the normalised value of a column, with ok=false for NULL.
// Normalised values are comparable and safe to use as map keys.
func (t *Type) KeyValue(rec any, name string) (any, bool) {
	c, found := t.byColumn[name]
	if !found || rec == nil {
		return nil, false
	}
	return NormalizeKey(c.get(rec))
}

// KeyOf returns the normalised primary key of rec.
func (t *Type) KeyOf(rec any) (any, bool) {
	if rec == nil {
		return nil, false
	}
	return NormalizeKey(t.key.get(rec))
}

// Navigation looks up a navigation property by name.
func (t *Type) Navigation(name string) (*Navigation, bool) {
	n, ok := t.byNav[name]
	return n, ok
}

// Navigations returns all navigation properties in declaration order.
func (t *Type) Navigations() []*Navigation {
	return append([]*Navigation(nil), t.navigations...)
}

// Values returns a column -> value map for rec, used for rendering.
func (t *Type) Values(rec any) map[string]any {
	out := make(map[string]any, len(t.columns))
	for _, c := range t.columns {
		v := c.get(rec)
		if k, ok := NormalizeKey(v); ok {
			out[c.name] = k
		} else if isNull(v) {
			out[c.name] = nil
		} else {
			out[c.name] = v
		}
	}
	return out
}

func (t *Type) String() string { return t.name }
