package entity

import (
	"database/sql/driver"
	"reflect"
)

// Column maps a table column onto the field selected by sel. Pointer fields and
// driver.Valuer fields (sql.NullInt64 and friends) are treated as nullable.
func Column[T any, V any](name string, sel func(*T) *V) Def[T] {
	return Def[T]{col: &column{
		name:     name,
		nullable: nullableType(reflect.TypeFor[V]()),
		scan:     func(rec any) any { return sel(rec.(*T)) },
		get:      func(rec any) any { return *sel(rec.(*T)) },
	}}
}

// Key maps the primary key column. A type must declare exactly one.
func Key[T any, V any](name string, sel func(*T) *V) Def[T] {
	d := Column[T, V](name, sel)
	d.col.isKey = true
	d.col.nullable = false
	return d
}

// References marks a column definition as a single-column foreign key.
func (d Def[T]) References(table, column string) Def[T] {
	if d.col == nil {
		return d
	}
	c := *d.col
	c.refTable = table
	c.refColumn = column
	return Def[T]{col: &c}
}

func nullableType(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		return true
	}
	return t.Implements(reflect.TypeFor[driver.Valuer]())
}
