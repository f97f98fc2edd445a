package schema

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"navload/internal/entity"
)

// Catalog is the set of mapped types and their table metadata. Relationship
// classification results are memoised per (owner type, navigation).
type Catalog struct {
	mu     sync.RWMutex
	types  map[string]*entity.Type
	byGo   map[reflect.Type]*entity.Type
	tables map[string]*Table
	rels   map[string]Relationship
}

// NewCatalog creates a catalogue for the given types.
func NewCatalog(types ...*entity.Type) (*Catalog, error) {
	c := &Catalog{
		types:  make(map[string]*entity.Type),
		byGo:   make(map[reflect.Type]*entity.Type),
		tables: make(map[string]*Table),
		rels:   make(map[string]Relationship),
	}
	if err := c.Register(types...); err != nil {
		return nil, err
	}
	return c, nil
}

// Register adds types and derives their table metadata from the declared
// columns and foreign keys.
func (c *Catalog) Register(types ...*entity.Type) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range types {
		if t == nil {
			return fmt.Errorf("schema: nil type")
		}
		if existing, ok := c.types[t.Name()]; ok && existing != t {
			return fmt.Errorf("schema: type %q registered twice", t.Name())
		}
		if existing, ok := c.byGo[t.GoType()]; ok && existing != t {
			return fmt.Errorf("schema: Go type %s already mapped by %q", t.GoType(), existing.Name())
		}
		c.types[t.Name()] = t
		c.byGo[t.GoType()] = t
		c.tables[t.Table()] = tableFromType(t)
	}
	c.rels = make(map[string]Relationship)
	return nil
}

func tableFromType(t *entity.Type) *Table {
	table := &Table{Name: t.Table()}
	for _, name := range t.Columns() {
		table.Columns = append(table.Columns, Column{
			Name:         name,
			IsNullable:   t.IsNullable(name),
			IsPrimaryKey: name == t.PrimaryKey(),
		})
	}
	for _, fk := range t.ForeignKeys() {
		table.ForeignKeys = append(table.ForeignKeys, ForeignKey{
			ColumnName:       fk.Column,
			ReferencedTable:  fk.ReferencedTable,
			ReferencedColumn: fk.ReferencedColumn,
			ConstraintName:   fk.Constraint,
			OrdinalPosition:  1,
		})
	}
	return table
}

// ApplySchema replaces declared key metadata with introspected metadata for
// every registered table found in s. Mapped key columns must agree with the
// database primary key; columns the database does not report are rejected.
func (c *Catalog) ApplySchema(s *Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.types {
		dbTable, ok := s.FindTable(t.Table())
		if !ok {
			slog.Default().Warn("mapped table not found in database schema", slog.String("table", t.Table()))
			continue
		}
		pks := PrimaryKeyColumns(dbTable)
		if len(pks) != 1 {
			return fmt.Errorf("%w: table %s has %d primary key columns", entity.ErrCompositeKey, dbTable.Name, len(pks))
		}
		if pks[0].Name != t.PrimaryKey() {
			return fmt.Errorf("schema: %s maps key %q but table %s has primary key %q", t.Name(), t.PrimaryKey(), dbTable.Name, pks[0].Name)
		}
		known := make(map[string]Column, len(dbTable.Columns))
		for _, col := range dbTable.Columns {
			known[col.Name] = col
		}
		table := &Table{Name: dbTable.Name, ForeignKeys: append([]ForeignKey(nil), dbTable.ForeignKeys...)}
		for _, name := range t.Columns() {
			col, ok := known[name]
			if !ok {
				return fmt.Errorf("schema: %s maps column %q missing from table %s", t.Name(), name, dbTable.Name)
			}
			table.Columns = append(table.Columns, col)
		}
		c.tables[t.Table()] = table
	}
	c.rels = make(map[string]Relationship)
	return nil
}

// Type looks up a type by name.
func (c *Catalog) Type(name string) (*entity.Type, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[name]
	return t, ok
}

// TypeOf looks up the type mapped to a Go struct type.
func (c *Catalog) TypeOf(goType reflect.Type) (*entity.Type, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byGo[goType]
	return t, ok
}

// Table returns table metadata for a registered table.
func (c *Catalog) Table(name string) (Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	if !ok {
		return Table{}, false
	}
	return *t, true
}
