package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForeignKeyConstraints_GroupsCompositeByOrdinal(t *testing.T) {
	table := Table{
		Name: "order_lines",
		ForeignKeys: []ForeignKey{
			{ColumnName: "product_id", ReferencedTable: "products", ReferencedColumn: "id", ConstraintName: "fk_product", OrdinalPosition: 1},
			{ColumnName: "order_line", ReferencedTable: "orders", ReferencedColumn: "line", ConstraintName: "fk_order", OrdinalPosition: 2},
			{ColumnName: "order_id", ReferencedTable: "orders", ReferencedColumn: "id", ConstraintName: "fk_order", OrdinalPosition: 1},
		},
	}

	constraints := ForeignKeyConstraints(table)
	require.Len(t, constraints, 2)

	assert.Equal(t, "fk_order", constraints[0].ConstraintName)
	assert.Equal(t, []string{"order_id", "order_line"}, constraints[0].ColumnNames)
	assert.Equal(t, []string{"id", "line"}, constraints[0].ReferencedColumns)
	assert.True(t, constraints[0].IsComposite())

	assert.Equal(t, "fk_product", constraints[1].ConstraintName)
	assert.False(t, constraints[1].IsComposite())
}

func TestForeignKeyConstraints_UnnamedRowsStaySeparate(t *testing.T) {
	table := Table{
		ForeignKeys: []ForeignKey{
			{ColumnName: "a_id", ReferencedTable: "a", ReferencedColumn: "id"},
			{ColumnName: "b_id", ReferencedTable: "b", ReferencedColumn: "id"},
		},
	}
	constraints := ForeignKeyConstraints(table)
	require.Len(t, constraints, 2)
	assert.False(t, constraints[0].IsComposite())
	assert.False(t, constraints[1].IsComposite())
	assert.Nil(t, ForeignKeyConstraints(Table{}))
}

func TestPrimaryKeyColumns(t *testing.T) {
	table := Table{Columns: []Column{
		{Name: "id", IsPrimaryKey: true},
		{Name: "name"},
	}}
	pks := PrimaryKeyColumns(table)
	require.Len(t, pks, 1)
	assert.Equal(t, "id", pks[0].Name)
}

func TestSchemaFindTable(t *testing.T) {
	s := &Schema{Tables: []Table{{Name: "blogs"}}}
	_, ok := s.FindTable("blogs")
	assert.True(t, ok)
	_, ok = s.FindTable("posts")
	assert.False(t, ok)

	var nilSchema *Schema
	_, ok = nilSchema.FindTable("blogs")
	assert.False(t, ok)
}
