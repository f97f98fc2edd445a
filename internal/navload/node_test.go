package navload

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navload/internal/fixtures"
	"navload/internal/store"
)

func nodeFor(t *testing.T, root string, path string) node {
	t.Helper()
	cat := fixtures.Catalog()
	rootType, ok := cat.Type(root)
	require.True(t, ok)
	p, err := NewPlan(cat, rootType).Include(path)
	require.NoError(t, err)
	return p.nodes[p.current]
}

func TestToManyStitch(t *testing.T) {
	n := nodeFor(t, "Blog", "Posts")
	nv := newNavigator(n)

	b1 := &fixtures.Blog{ID: 1}
	b2 := &fixtures.Blog{ID: 2}
	p1 := &fixtures.Post{ID: 1, BlogID: 1}
	p2 := &fixtures.Post{ID: 2, BlogID: 1}

	states, err := nv.stitch([]any{b1, b2}, []any{p1, p2})
	require.NoError(t, err)
	assert.Nil(t, states)

	assert.Equal(t, []*fixtures.Post{p1, p2}, b1.Posts)
	assert.NotNil(t, b2.Posts)
	assert.Empty(t, b2.Posts)
	assert.Same(t, b1, p1.Blog)
	assert.Same(t, b1, p2.Blog)

	assert.Empty(t, nv.pending([]any{b1, b2}, newRegistry()))
	assert.Equal(t, loadUnknown, nv.fullyLoaded([]any{b1, b2}, newRegistry()))
	assert.Len(t, nv.alreadyLoaded([]any{b1, b2}), 2)
}

func TestToOneUniqueStitch(t *testing.T) {
	n := nodeFor(t, "Author", "Profile")
	nv := newNavigator(n)
	reg := newRegistry()

	ann := &fixtures.Author{ID: 1}
	cid := &fixtures.Author{ID: 3}
	profile := &fixtures.AuthorProfile{AuthorID: 1, Bio: "gopher"}

	states, err := nv.stitch([]any{ann, cid}, []any{profile})
	require.NoError(t, err)
	reg.setStates(n.rel, states)

	assert.Same(t, profile, ann.Profile)
	assert.Same(t, ann, profile.Author)
	assert.Nil(t, cid.Profile)
	assert.Equal(t, loadCheckedPresent, reg.state(n.rel, int64(1)))
	assert.Equal(t, loadCheckedAbsent, reg.state(n.rel, int64(3)))

	assert.Empty(t, nv.pending([]any{ann, cid}, reg))
	assert.Equal(t, loadCheckedPresent, nv.fullyLoaded([]any{ann, cid}, reg))
	assert.Equal(t, loadCheckedAbsent, nv.fullyLoaded([]any{cid}, reg))

	fresh := &fixtures.Author{ID: 3}
	assert.Equal(t, loadCheckedAbsent, nv.fullyLoaded([]any{fresh}, reg), "state follows the key, not the instance")
	assert.Equal(t, loadUnknown, nv.fullyLoaded([]any{&fixtures.Author{ID: 2}}, reg))

	t.Run("duplicate match", func(t *testing.T) {
		bob := &fixtures.Author{ID: 2}
		_, err := nv.stitch([]any{bob}, []any{
			&fixtures.AuthorProfile{AuthorID: 2},
			&fixtures.AuthorProfile{AuthorID: 2, Bio: "again"},
		})
		require.ErrorIs(t, err, ErrIntegrityViolation)
		var ive *IntegrityViolationError
		require.ErrorAs(t, err, &ive)
		assert.Equal(t, "Author", ive.Type)
		assert.Equal(t, "Profile", ive.Navigation)
		assert.Equal(t, int64(2), ive.Key)
	})
}

func TestToOneStitch(t *testing.T) {
	n := nodeFor(t, "Post", "Author")
	nv := newNavigator(n)

	ann := &fixtures.Author{ID: 1}
	p1 := &fixtures.Post{ID: 1, AuthorID: sql.NullInt64{Int64: 1, Valid: true}}
	p3 := &fixtures.Post{ID: 3, AuthorID: sql.NullInt64{Int64: 1, Valid: true}}
	p4 := &fixtures.Post{ID: 4}

	assert.Equal(t, []any{int64(1)}, nv.fetchKeys([]any{p1, p3, p4}))
	assert.Equal(t, []any{p1, p3}, nv.pending([]any{p1, p3, p4}, newRegistry()))

	states, err := nv.stitch([]any{p1, p3, p4}, []any{ann})
	require.NoError(t, err)
	assert.Same(t, ann, p1.Author)
	assert.Same(t, ann, p3.Author)
	assert.Nil(t, p4.Author)
	assert.Equal(t, loadCheckedAbsent, states[int64(4)])
	// Author.Posts is a collection and is not touched.
	assert.Nil(t, ann.Posts)

	assert.Equal(t, loadCheckedAbsent, nv.fullyLoaded([]any{p4}, newRegistry()))
	assert.Equal(t, loadCheckedPresent, nv.fullyLoaded([]any{p1, p4}, newRegistry()))

	t.Run("dangling key", func(t *testing.T) {
		orphan := &fixtures.Post{ID: 6, AuthorID: sql.NullInt64{Int64: 99, Valid: true}}
		_, err := nv.stitch([]any{orphan}, []any{ann})
		assert.ErrorIs(t, err, ErrIntegrityViolation)
	})

	t.Run("one-to-one keeps duplicate keys", func(t *testing.T) {
		n := n
		n.oneToOne = true
		assert.Equal(t, []any{int64(1), int64(1)}, newNavigator(n).fetchKeys([]any{p1, p3}))
	})
}

func TestNodeQueries(t *testing.T) {
	source := store.From(fixtures.PostType).Where(store.Eq("blog_id", 1)).OrderBy("id")

	t.Run("to one subquery skips null keys and drops ordering", func(t *testing.T) {
		q := newNavigator(nodeFor(t, "Post", "Author")).buildQuery(source)
		built, err := store.MySQL.Build(q)
		require.NoError(t, err)
		assert.Equal(t,
			"SELECT `t`.`id`, `t`.`name` FROM `authors` AS `t` WHERE `t`.`id` IN "+
				"(SELECT DISTINCT `s1`.`author_id` FROM `posts` AS `s1` WHERE `s1`.`blog_id` = ? AND `s1`.`author_id` IS NOT NULL)",
			built.SQL)
		assert.Equal(t, []any{1}, built.Args)
	})

	t.Run("to many subquery projects the owner key", func(t *testing.T) {
		q := newNavigator(nodeFor(t, "Post", "Comments")).buildQuery(source)
		built, err := store.Postgres.Build(q)
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT "t"."id", "t"."post_id", "t"."parent_id", "t"."body" FROM "comments" AS "t" `+
				`WHERE "t"."post_id" IN (SELECT "s1"."id" FROM "posts" AS "s1" WHERE "s1"."blog_id" = $1)`,
			built.SQL)
	})

	t.Run("keyed", func(t *testing.T) {
		q := newNavigator(nodeFor(t, "Post", "Comments")).keyedQuery([]any{int64(1), int64(2)})
		assert.Equal(t, []store.FilterSpec{store.In("post_id", []any{int64(1), int64(2)})}, q.Filters())
	})
}

func TestRegistry(t *testing.T) {
	n := nodeFor(t, "Blog", "Posts")
	reg := newRegistry()
	key := n.registryKey()

	_, hit := reg.lookup(key)
	assert.False(t, hit)

	b1 := &fixtures.Blog{ID: 1}
	b2 := &fixtures.Blog{ID: 2}
	p1 := &fixtures.Post{ID: 1, BlogID: 1}
	p3 := &fixtures.Post{ID: 3, BlogID: 2}

	sub := store.From(fixtures.PostType).Where(store.Eq("blog_id", 1))
	entry := reg.add(key, n.rel, []any{b1}, []any{p1}, sub, false)
	assert.True(t, entry.source().subqueryable())
	assert.Equal(t, []any{b2}, entry.missing([]any{b1, b2}))

	entry = reg.add(key, n.rel, []any{b2}, []any{p3, p1}, store.Query{}, true)
	assert.Empty(t, entry.missing([]any{b1, b2}))
	assert.Equal(t, []any{p1, p3}, entry.related)
	assert.False(t, entry.source().subqueryable())
	assert.Equal(t, []store.FilterSpec{store.In("id", []any{int64(1), int64(3)})}, entry.query.Filters())

	got, hit := reg.lookup(key)
	assert.True(t, hit)
	assert.Same(t, entry, got)
	assert.Equal(t, 1, reg.hits)
	assert.Equal(t, 1, reg.misses)
	assert.Equal(t, []string{key}, reg.keys())
}

func TestChunkValues(t *testing.T) {
	values := []any{1, 2, 3, 4, 5}
	assert.Nil(t, chunkValues(nil, 2))
	assert.Equal(t, [][]any{values}, chunkValues(values, 0))
	assert.Equal(t, [][]any{values}, chunkValues(values, 5))
	assert.Equal(t, [][]any{{1, 2}, {3, 4}, {5}}, chunkValues(values, 2))

	assert.Equal(t, int64(2), listBatchQueriesSaved(5, 3))
	assert.Equal(t, int64(0), listBatchQueriesSaved(1, 1))
	assert.Equal(t, int64(0), listBatchQueriesSaved(0, 0))
}

func TestDistinct(t *testing.T) {
	p1 := &fixtures.Post{ID: 1}
	dup := &fixtures.Post{ID: 1}
	p2 := &fixtures.Post{ID: 2}
	assert.Equal(t, []any{p1, p2}, distinct(fixtures.PostType, []any{p1, nil, dup, p2}))
}
