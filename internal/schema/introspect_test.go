package schema_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navload/internal/entity"
	"navload/internal/fixtures"
	"navload/internal/schema"
)

// introspectedBlogSchema mirrors what INFORMATION_SCHEMA reports for the
// fixture DDL.
func introspectedBlogSchema() *schema.Schema {
	col := func(name string, pk, nullable bool) schema.Column {
		return schema.Column{Name: name, IsPrimaryKey: pk, IsNullable: nullable}
	}
	fk := func(column, table, constraint string) schema.ForeignKey {
		return schema.ForeignKey{ColumnName: column, ReferencedTable: table, ReferencedColumn: "id", ConstraintName: constraint, OrdinalPosition: 1}
	}
	return &schema.Schema{Tables: []schema.Table{
		{Name: "blogs", Columns: []schema.Column{col("id", true, false), col("name", false, false)}},
		{Name: "authors", Columns: []schema.Column{col("id", true, false), col("name", false, false)}},
		{
			Name:        "author_profiles",
			Columns:     []schema.Column{col("author_id", true, false), col("bio", false, false)},
			ForeignKeys: []schema.ForeignKey{fk("author_id", "authors", "fk_author_profiles_author_id")},
		},
		{
			Name:    "posts",
			Columns: []schema.Column{col("id", true, false), col("blog_id", false, false), col("author_id", false, true), col("title", false, false)},
			ForeignKeys: []schema.ForeignKey{
				fk("author_id", "authors", "fk_posts_author_id"),
				fk("blog_id", "blogs", "fk_posts_blog_id"),
			},
		},
		{
			Name:    "comments",
			Columns: []schema.Column{col("id", true, false), col("post_id", false, false), col("parent_id", false, true), col("body", false, false)},
			ForeignKeys: []schema.ForeignKey{
				fk("parent_id", "comments", "fk_comments_parent_id"),
				fk("post_id", "posts", "fk_comments_post_id"),
			},
		},
		{Name: "tags", Columns: []schema.Column{col("id", true, false), col("name", false, false)}},
		{
			Name:    "post_tags",
			Columns: []schema.Column{col("id", true, false), col("post_id", false, false), col("tag_id", false, false)},
			ForeignKeys: []schema.ForeignKey{
				fk("post_id", "posts", "fk_post_tags_post_id"),
				fk("tag_id", "tags", "fk_post_tags_tag_id"),
			},
		},
	}}
}

func expectTable(mock sqlmock.Sqlmock, db, table string, columns [][2]string, pks []string, fks [][4]any) {
	colRows := sqlmock.NewRows([]string{"COLUMN_NAME", "IS_NULLABLE"})
	for _, c := range columns {
		colRows.AddRow(c[0], c[1])
	}
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").WithArgs(db, table).WillReturnRows(colRows)
	if len(columns) == 0 {
		return
	}

	pkRows := sqlmock.NewRows([]string{"COLUMN_NAME"})
	for _, pk := range pks {
		pkRows.AddRow(pk)
	}
	mock.ExpectQuery("CONSTRAINT_NAME = 'PRIMARY'").WithArgs(db, table).WillReturnRows(pkRows)

	fkRows := sqlmock.NewRows([]string{"COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "CONSTRAINT_NAME", "ORDINAL_POSITION"})
	for _, f := range fks {
		fkRows.AddRow(f[0], f[1], f[2], f[3], 1)
	}
	mock.ExpectQuery("REFERENCED_TABLE_NAME IS NOT NULL").WithArgs(db, table).WillReturnRows(fkRows)
}

func TestIntrospect(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectTable(mock, "blogdb", "blogs",
		[][2]string{{"id", "NO"}, {"name", "NO"}},
		[]string{"id"}, nil)
	expectTable(mock, "blogdb", "posts",
		[][2]string{{"id", "NO"}, {"blog_id", "NO"}, {"author_id", "YES"}, {"title", "NO"}},
		[]string{"id"},
		[][4]any{{"author_id", "authors", "id", "fk_posts_author_id"}, {"blog_id", "blogs", "id", "fk_posts_blog_id"}})
	expectTable(mock, "blogdb", "missing", nil, nil, nil)

	s, err := schema.Introspect(context.Background(), db, "blogdb", []string{"blogs", "posts", "missing"})
	require.NoError(t, err)
	require.Len(t, s.Tables, 2)

	posts, ok := s.FindTable("posts")
	require.True(t, ok)
	require.Len(t, posts.Columns, 4)
	assert.True(t, posts.Columns[0].IsPrimaryKey)
	assert.True(t, posts.Columns[2].IsNullable)
	assert.False(t, posts.Columns[1].IsNullable)
	require.Len(t, posts.ForeignKeys, 2)
	assert.Equal(t, "fk_posts_blog_id", posts.ForeignKeys[1].ConstraintName)

	_, ok = s.FindTable("missing")
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIntrospect_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").WithArgs("blogdb", "blogs").WillReturnError(sql.ErrConnDone)

	_, err = schema.Introspect(context.Background(), db, "blogdb", []string{"blogs"})
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Contains(t, err.Error(), "failed to get columns for blogs")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIntrospectCatalog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	type widget struct {
		ID     int64
		BlogID *int64
		Blog   *fixtures.Blog
	}
	widgetType := entity.MustDefine[widget]("Widget", "",
		entity.Key("id", func(w *widget) *int64 { return &w.ID }),
		entity.Column("blog_id", func(w *widget) **int64 { return &w.BlogID }),
		entity.One("Blog", func(w *widget) **fixtures.Blog { return &w.Blog }),
	)
	catalog, err := schema.NewCatalog(fixtures.BlogType, widgetType)
	require.NoError(t, err)

	// The widget type declares no foreign key; the database does.
	_, err = catalog.RelationshipOf("Widget", "Blog", "Blog")
	require.ErrorIs(t, err, schema.ErrUnsupportedRelationship)

	assert.Equal(t, []string{"blogs", "widgets"}, catalog.TableNames())
	expectTable(mock, "app", "blogs",
		[][2]string{{"id", "NO"}, {"name", "NO"}}, []string{"id"}, nil)
	expectTable(mock, "app", "widgets",
		[][2]string{{"id", "NO"}, {"blog_id", "YES"}}, []string{"id"},
		[][4]any{{"blog_id", "blogs", "id", "fk_widgets_blog"}})

	require.NoError(t, schema.IntrospectCatalog(context.Background(), catalog, db, "app"))

	rel, err := catalog.RelationshipOf("Widget", "Blog", "Blog")
	require.NoError(t, err)
	assert.Equal(t, schema.ToOne, rel.Kind)
	assert.Equal(t, "fk_widgets_blog", rel.Constraint)
	assert.True(t, rel.ForeignKeyNullable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplySchema(t *testing.T) {
	t.Run("introspected schema matches fixtures", func(t *testing.T) {
		catalog := fixtures.Catalog()
		require.NoError(t, catalog.ApplySchema(introspectedBlogSchema()))

		rel, err := catalog.RelationshipOf("Author", "AuthorProfile", "Profile")
		require.NoError(t, err)
		assert.Equal(t, schema.ToOneUnique, rel.Kind)
	})

	t.Run("composite primary key rejected", func(t *testing.T) {
		catalog := fixtures.Catalog()
		s := introspectedBlogSchema()
		s.Tables[0].Columns[1].IsPrimaryKey = true

		err := catalog.ApplySchema(s)
		require.Error(t, err)
		assert.ErrorIs(t, err, entity.ErrCompositeKey)
	})

	t.Run("key mismatch rejected", func(t *testing.T) {
		catalog := fixtures.Catalog()
		s := introspectedBlogSchema()
		s.Tables[0].Columns[0].IsPrimaryKey = false
		s.Tables[0].Columns[1].IsPrimaryKey = true

		err := catalog.ApplySchema(s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary key")
	})

	t.Run("unknown mapped column rejected", func(t *testing.T) {
		catalog := fixtures.Catalog()
		s := introspectedBlogSchema()
		s.Tables[0].Columns = s.Tables[0].Columns[:1]

		err := catalog.ApplySchema(s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"name" missing`)
	})

	t.Run("missing table keeps declared metadata", func(t *testing.T) {
		catalog := fixtures.Catalog()
		s := introspectedBlogSchema()
		s.Tables = s.Tables[1:]

		require.NoError(t, catalog.ApplySchema(s))
		table, ok := catalog.Table("blogs")
		require.True(t, ok)
		assert.Len(t, table.Columns, 2)
	})
}
