// Package schema holds the relational metadata catalogue consumed by the loader:
// tables, key columns and foreign keys, either declared by mapped types or
// introspected from INFORMATION_SCHEMA, plus the relationship classifier.
package schema

import (
	"fmt"
	"sort"
)

// Column is a column of a mapped table.
type Column struct {
	Name         string
	IsNullable   bool
	IsPrimaryKey bool
}

// ForeignKey is one column row of a foreign key constraint.
type ForeignKey struct {
	ColumnName       string // e.g., "blog_id"
	ReferencedTable  string // e.g., "blogs"
	ReferencedColumn string // e.g., "id"
	ConstraintName   string // e.g., "fk_posts_blog_id"
	OrdinalPosition  int    // Column position within the FK constraint
}

// Table is a mapped table.
type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
}

// Schema is a set of tables, as produced by introspection.
type Schema struct {
	Tables []Table
}

// FindTable returns the named table, if present.
func (s *Schema) FindTable(name string) (Table, bool) {
	if s == nil {
		return Table{}, false
	}
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// PrimaryKeyColumns returns all primary key columns for a table in column order.
func PrimaryKeyColumns(table Table) []Column {
	var cols []Column
	for _, col := range table.Columns {
		if col.IsPrimaryKey {
			cols = append(cols, col)
		}
	}
	return cols
}

// ForeignKeyConstraint groups per-column rows into an ordered FK constraint mapping.
type ForeignKeyConstraint struct {
	ConstraintName    string
	ReferencedTable   string
	ColumnNames       []string
	ReferencedColumns []string
}

// IsComposite reports whether the constraint spans more than one column.
func (c ForeignKeyConstraint) IsComposite() bool {
	return len(c.ColumnNames) != 1 || len(c.ReferencedColumns) != 1
}

// ForeignKeyConstraints returns FK constraints for a table with deterministic ordering.
func ForeignKeyConstraints(table Table) []ForeignKeyConstraint {
	if len(table.ForeignKeys) == 0 {
		return nil
	}

	type row struct {
		key   string
		fk    ForeignKey
		index int
	}
	rows := make([]row, 0, len(table.ForeignKeys))
	for i, fk := range table.ForeignKeys {
		key := fk.ConstraintName
		if key == "" {
			// Unnamed rows never merge with each other.
			key = fmt.Sprintf("__unnamed_%d", i)
		}
		rows = append(rows, row{key: key, fk: fk, index: i})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].key != rows[j].key {
			return rows[i].key < rows[j].key
		}
		if rows[i].fk.OrdinalPosition != rows[j].fk.OrdinalPosition {
			return rows[i].fk.OrdinalPosition < rows[j].fk.OrdinalPosition
		}
		return rows[i].index < rows[j].index
	})

	var ordered []string
	grouped := make(map[string]*ForeignKeyConstraint)
	for _, item := range rows {
		group, ok := grouped[item.key]
		if !ok {
			group = &ForeignKeyConstraint{
				ConstraintName:  item.fk.ConstraintName,
				ReferencedTable: item.fk.ReferencedTable,
			}
			grouped[item.key] = group
			ordered = append(ordered, item.key)
		}
		group.ColumnNames = append(group.ColumnNames, item.fk.ColumnName)
		group.ReferencedColumns = append(group.ReferencedColumns, item.fk.ReferencedColumn)
	}

	result := make([]ForeignKeyConstraint, 0, len(ordered))
	for _, key := range ordered {
		result = append(result, *grouped[key])
	}
	return result
}
