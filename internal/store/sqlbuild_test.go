package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navload/internal/fixtures"
	"navload/internal/store"
)

const postColumns = "`t`.`id`, `t`.`blog_id`, `t`.`author_id`, `t`.`title`"

func TestBuild_FilterOrderLimit(t *testing.T) {
	q := store.From(fixtures.PostType).
		Where(store.Eq("blog_id", 1), store.Compare("title", "LIKE", "G%")).
		OrderBy("id").
		Limit(2).
		Offset(1)

	built, err := store.MySQL.Build(q)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT "+postColumns+" FROM `posts` AS `t` WHERE `t`.`blog_id` = ? AND `t`.`title` LIKE ? ORDER BY `t`.`id` ASC LIMIT 2 OFFSET 1",
		built.SQL)
	assert.Equal(t, []any{1, "G%"}, built.Args)
}

func TestBuild_InAndNotNull(t *testing.T) {
	q := store.From(fixtures.PostType).
		Where(store.In("id", []any{int64(1), int64(2)}), store.NotNull("author_id"))

	built, err := store.SQLite.Build(q)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT "+postColumns+" FROM `posts` AS `t` WHERE `t`.`id` IN (?,?) AND `t`.`author_id` IS NOT NULL",
		built.SQL)
	assert.Equal(t, []any{int64(1), int64(2)}, built.Args)
}

func TestBuild_EmptyInMatchesNothing(t *testing.T) {
	built, err := store.MySQL.Build(store.From(fixtures.BlogType).Where(store.In("id", nil)))
	require.NoError(t, err)
	assert.Equal(t, "SELECT `t`.`id`, `t`.`name` FROM `blogs` AS `t` WHERE (1=0)", built.SQL)
	assert.Empty(t, built.Args)
}

func TestBuild_LeftJoins(t *testing.T) {
	catalog := fixtures.Catalog()
	commentPost, err := catalog.RelationshipOf("Comment", "Post", "Post")
	require.NoError(t, err)
	postAuthor, err := catalog.RelationshipOf("Post", "Author", "Author")
	require.NoError(t, err)

	q := store.From(fixtures.CommentType)
	q, postScope := q.Join(0, commentPost)
	q, authorScope := q.Join(postScope, postAuthor)
	assert.Equal(t, 1, postScope)
	assert.Equal(t, 2, authorScope)
	assert.Same(t, fixtures.AuthorType, q.ScopeType(authorScope))

	built, err := store.MySQL.Build(q.Where(store.Eq("id", 3)))
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT `t`.`id`, `t`.`post_id`, `t`.`parent_id`, `t`.`body`, "+
			"`t_j1`.`id`, `t_j1`.`blog_id`, `t_j1`.`author_id`, `t_j1`.`title`, "+
			"`t_j2`.`id`, `t_j2`.`name` "+
			"FROM `comments` AS `t` "+
			"LEFT JOIN `posts` AS `t_j1` ON `t_j1`.`id` = `t`.`post_id` "+
			"LEFT JOIN `authors` AS `t_j2` ON `t_j2`.`id` = `t_j1`.`author_id` "+
			"WHERE `t`.`id` = ?",
		built.SQL)
}

func TestBuild_OneToOneUniqueJoin(t *testing.T) {
	catalog := fixtures.Catalog()
	profile, err := catalog.RelationshipOf("Author", "AuthorProfile", "Profile")
	require.NoError(t, err)

	q, _ := store.From(fixtures.AuthorType).Join(0, profile)
	built, err := store.MySQL.Build(q)
	require.NoError(t, err)
	assert.Contains(t, built.SQL, "LEFT JOIN `author_profiles` AS `t_j1` ON `t_j1`.`author_id` = `t`.`id`")
}

func TestBuild_SubqueryPostgres(t *testing.T) {
	blogs := store.From(fixtures.BlogType).Where(store.Eq("name", "Go")).Project("id")
	q := store.From(fixtures.PostType).
		Where(store.InQuery("blog_id", blogs), store.Eq("title", "Channels"))

	built, err := store.Postgres.Build(q)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "t"."id", "t"."blog_id", "t"."author_id", "t"."title" FROM "posts" AS "t" `+
			`WHERE "t"."blog_id" IN (SELECT "s1"."id" FROM "blogs" AS "s1" WHERE "s1"."name" = $1) AND "t"."title" = $2`,
		built.SQL)
	assert.Equal(t, []any{"Go", "Channels"}, built.Args)
}

func TestBuild_NestedSubqueriesDropJoins(t *testing.T) {
	catalog := fixtures.Catalog()
	postBlog, err := catalog.RelationshipOf("Post", "Blog", "Blog")
	require.NoError(t, err)

	blogs := store.From(fixtures.BlogType).Where(store.Eq("id", 1)).Project("id")
	posts, _ := store.From(fixtures.PostType).Where(store.InQuery("blog_id", blogs)).Join(0, postBlog)
	comments := store.From(fixtures.CommentType).Where(store.InQuery("post_id", posts.Project("id")))

	built, err := store.SQLite.Build(comments)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT `t`.`id`, `t`.`post_id`, `t`.`parent_id`, `t`.`body` FROM `comments` AS `t` "+
			"WHERE `t`.`post_id` IN (SELECT `s1`.`id` FROM `posts` AS `s1` "+
			"WHERE `s1`.`blog_id` IN (SELECT `s2`.`id` FROM `blogs` AS `s2` WHERE `s2`.`id` = ?))",
		built.SQL)
	assert.Equal(t, []any{1}, built.Args)
}

func TestBuild_MySQLCappedSubqueryUsesDerivedTable(t *testing.T) {
	blogs := store.From(fixtures.BlogType).OrderBy("id").Limit(1).Project("id")
	q := store.From(fixtures.PostType).Where(store.InQuery("blog_id", blogs))

	built, err := store.MySQL.Build(q)
	require.NoError(t, err)
	assert.Contains(t, built.SQL,
		"IN (SELECT * FROM (SELECT `s1`.`id` FROM `blogs` AS `s1` ORDER BY `s1`.`id` ASC LIMIT 1) AS `s1_capped`)")
}

func TestBuild_OffsetWithoutLimit(t *testing.T) {
	q := store.From(fixtures.BlogType).Offset(2)

	built, err := store.SQLite.Build(q)
	require.NoError(t, err)
	assert.Contains(t, built.SQL, "LIMIT 9223372036854775807 OFFSET 2")

	built, err = store.Postgres.Build(q)
	require.NoError(t, err)
	assert.NotContains(t, built.SQL, "LIMIT")
	assert.Contains(t, built.SQL, "OFFSET 2")
}

func TestBuild_DistinctProjection(t *testing.T) {
	q := store.From(fixtures.PostType).Distinct().Project("author_id").Where(store.NotNull("author_id"))
	sub := store.From(fixtures.AuthorType).Where(store.InQuery("id", q))

	built, err := store.MySQL.Build(sub)
	require.NoError(t, err)
	assert.Contains(t, built.SQL, "IN (SELECT DISTINCT `s1`.`author_id` FROM `posts` AS `s1` WHERE `s1`.`author_id` IS NOT NULL)")
}

func TestBuild_Validation(t *testing.T) {
	catalog := fixtures.Catalog()
	blogPosts, err := catalog.RelationshipOf("Blog", "Post", "Posts")
	require.NoError(t, err)
	postBlog, err := catalog.RelationshipOf("Post", "Blog", "Blog")
	require.NoError(t, err)

	tests := []struct {
		name string
		q    store.Query
	}{
		{"unknown filter column", store.From(fixtures.BlogType).Where(store.Eq("title", "x"))},
		{"unknown order column", store.From(fixtures.BlogType).OrderBy("created_at")},
		{"bad comparison", store.From(fixtures.BlogType).Where(store.Compare("id", "~", 1))},
		{"subquery without projection", store.From(fixtures.PostType).Where(store.InQuery("blog_id", store.From(fixtures.BlogType)))},
		{"collection join", func() store.Query { q, _ := store.From(fixtures.BlogType).Join(0, blogPosts); return q }()},
		{"join off wrong scope", func() store.Query { q, _ := store.From(fixtures.BlogType).Join(0, postBlog); return q }()},
		{"join off unknown scope", func() store.Query { q, _ := store.From(fixtures.PostType).Join(3, postBlog); return q }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.MySQL.Build(tt.q)
			assert.Error(t, err)
		})
	}
}

func TestDialectFor(t *testing.T) {
	for driver, want := range map[string]string{"mysql": "mysql", "tidb": "mysql", "postgres": "postgres", "sqlite": "sqlite", "sqlite3": "sqlite"} {
		d, err := store.DialectFor(driver)
		require.NoError(t, err)
		assert.Equal(t, want, d.Name)
	}
	_, err := store.DialectFor("oracle")
	assert.Error(t, err)
}

func TestQueryIsImmutable(t *testing.T) {
	base := store.From(fixtures.PostType).Where(store.Eq("blog_id", 1))
	limited := base.Limit(5).OrderByDesc("id")
	_ = base.Where(store.Eq("title", "x"))

	assert.Len(t, base.Filters(), 1)
	assert.False(t, base.HasCap())
	assert.True(t, limited.HasCap())
	n, ok := limited.LimitValue()
	assert.True(t, ok)
	assert.Equal(t, uint64(5), n)

	reversed := limited.Reversed()
	assert.False(t, reversed.Orders()[0].Desc)
	assert.True(t, limited.Orders()[0].Desc)

	byKey := base.Reversed()
	assert.Equal(t, []store.Order{{Column: "id", Desc: true}}, byKey.Orders())

	uncapped := limited.WithoutCaps()
	assert.False(t, uncapped.HasCap())
	assert.Empty(t, uncapped.Orders())

	assert.Equal(t, store.TrackingDefault, base.TrackingMode())
	assert.Equal(t, store.TrackingOff, base.AsNoTracking().TrackingMode())
	assert.Equal(t, store.TrackingOn, base.AsTracking().TrackingMode())
	assert.Contains(t, limited.String(), "limit 5")
}
