package navload_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navload/internal/dbexec"
	"navload/internal/fixtures"
	"navload/internal/navload"
	"navload/internal/store"
)

// spyStore counts the fetches the loader issues.
type spyStore struct {
	*store.SQLStore
	fetches int
	queries []store.Query
}

func (s *spyStore) Fetch(ctx context.Context, q store.Query) ([]store.Row, error) {
	s.fetches++
	s.queries = append(s.queries, q)
	return s.SQLStore.Fetch(ctx, q)
}

func openFixtureDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := fixtures.OpenSQLite(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newSpy(t *testing.T, db *sql.DB, opts ...store.Option) *spyStore {
	t.Helper()
	return &spyStore{SQLStore: store.New(dbexec.NewStandardExecutor(db), store.SQLite, fixtures.Catalog(), opts...)}
}

func newLoader(t *testing.T, opts ...navload.Option) (*navload.Loader, *spyStore) {
	t.Helper()
	spy := newSpy(t, openFixtureDB(t))
	return navload.New(spy, opts...), spy
}

func postIDs(posts []*fixtures.Post) []int64 {
	ids := make([]int64, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return ids
}

func commentIDs(comments []*fixtures.Comment) []int64 {
	ids := make([]int64, 0, len(comments))
	for _, c := range comments {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestLoad_BlogPostsInTwoFetches(t *testing.T) {
	l, spy := newLoader(t)
	var rep navload.Report

	blogs, err := navload.From[fixtures.Blog](l).
		Where(store.Eq("id", 1)).
		Include("Posts").
		CollectReport(&rep).
		ToList(context.Background())
	require.NoError(t, err)
	require.Len(t, blogs, 1)

	blog := blogs[0]
	assert.Equal(t, "Go", blog.Name)
	assert.Equal(t, []int64{1, 2, 5}, postIDs(blog.Posts))
	for _, p := range blog.Posts {
		assert.Same(t, blog, p.Blog)
		assert.Nil(t, p.Comments)
		assert.Nil(t, p.Author)
	}

	assert.Equal(t, 2, spy.fetches)
	assert.Equal(t, 2, rep.Fetches)
	assert.Equal(t, 1, rep.Records)
	assert.Equal(t, "Blog", rep.Root)
	assert.Equal(t, "to_list", rep.Terminal)
	assert.NotEmpty(t, rep.ExecutionID)
	level, ok := rep.Level("Posts")
	require.True(t, ok)
	assert.Equal(t, navload.StrategySubquery, level.Strategy)
	assert.Equal(t, 1, level.Owners)
	assert.Equal(t, 3, level.Related)
}

func TestLoad_ToOneRunIsOneJoinedFetch(t *testing.T) {
	t.Run("joined", func(t *testing.T) {
		l, spy := newLoader(t)
		var rep navload.Report

		comments, err := navload.From[fixtures.Comment](l).
			OrderBy("id").
			Include("Post.Author.Profile").
			CollectReport(&rep).
			ToList(context.Background())
		require.NoError(t, err)
		require.Len(t, comments, 6)
		assert.Equal(t, 1, spy.fetches)

		first := comments[0]
		require.NotNil(t, first.Post)
		require.NotNil(t, first.Post.Author)
		require.NotNil(t, first.Post.Author.Profile)
		assert.Equal(t, "gopher", first.Post.Author.Profile.Bio)
		assert.Same(t, first.Post.Author, first.Post.Author.Profile.Author)
		assert.Same(t, first.Post, comments[1].Post)
		// Collection inverses are not filled from a partial view.
		assert.Nil(t, first.Post.Comments)

		orphan := comments[5]
		require.NotNil(t, orphan.Post)
		assert.Equal(t, int64(4), orphan.Post.ID)
		assert.Nil(t, orphan.Post.Author)

		for _, path := range []string{"Post", "Post.Author", "Post.Author.Profile"} {
			level, ok := rep.Level(path)
			require.True(t, ok, path)
			assert.Equal(t, navload.StrategyJoin, level.Strategy, path)
			assert.Zero(t, level.Fetches, path)
		}
	})

	t.Run("without join combination", func(t *testing.T) {
		l, spy := newLoader(t, navload.WithoutJoinCombination())

		comments, err := navload.From[fixtures.Comment](l).
			OrderBy("id").
			Include("Post.Author.Profile").
			ToList(context.Background())
		require.NoError(t, err)
		require.Len(t, comments, 6)
		assert.Equal(t, 4, spy.fetches)
		assert.Equal(t, "gopher", comments[0].Post.Author.Profile.Bio)
		assert.Nil(t, comments[5].Post.Author)
	})
}

func TestLoad_SubqueryOverOrderedSourceHasNoOrderBy(t *testing.T) {
	l, spy := newLoader(t, navload.WithoutJoinCombination())

	posts, err := navload.From[fixtures.Post](l).
		OrderBy("title").
		Include("Author").
		Include("Comments").
		ToList(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 5)
	assert.Equal(t, []int64{1, 5, 2, 3, 4}, postIDs(posts))
	assert.Equal(t, "Cid", posts[1].Author.Name)
	assert.Nil(t, posts[4].Author)

	require.Len(t, spy.queries, 3)
	for _, dialect := range []store.Dialect{store.MySQL, store.Postgres} {
		root, err := dialect.Build(spy.queries[0])
		require.NoError(t, err)
		assert.Contains(t, root.SQL, "ORDER BY")

		for _, q := range spy.queries[1:] {
			built, err := dialect.Build(q)
			require.NoError(t, err)
			// Only the level's own ordering, after the subquery closes.
			assert.Contains(t, built.SQL, "IN (SELECT")
			assert.Equal(t, 1, strings.Count(built.SQL, "ORDER BY"), built.SQL)
			assert.Greater(t, strings.Index(built.SQL, "ORDER BY"), strings.LastIndex(built.SQL, ")"), built.SQL)
		}
	}
}

func TestLoad_SharedPrefixIsFetchedOnce(t *testing.T) {
	l, spy := newLoader(t)
	var rep navload.Report

	blogs, err := navload.From[fixtures.Blog](l).
		OrderBy("id").
		Include("Posts.Comments").
		Include("Posts.Author").
		CollectReport(&rep).
		ToList(context.Background())
	require.NoError(t, err)
	require.Len(t, blogs, 3)

	// Root, Posts with Author joined, Comments.
	assert.Equal(t, 3, spy.fetches)
	assert.Equal(t, 1, rep.RegistryHits)

	var strategies []navload.Strategy
	for _, level := range rep.Levels {
		if level.Path == "Posts" {
			strategies = append(strategies, level.Strategy)
		}
	}
	assert.Equal(t, []navload.Strategy{navload.StrategySubquery, navload.StrategyCached}, strategies)

	first := blogs[0].Posts[0]
	assert.Equal(t, []int64{1, 2, 3}, commentIDs(first.Comments))
	require.NotNil(t, first.Author)
	assert.Equal(t, "Ann", first.Author.Name)
	assert.Equal(t, []int64{3, 4}, postIDs(blogs[1].Posts))
	assert.Nil(t, blogs[1].Posts[1].Author)
	assert.NotNil(t, blogs[2].Posts)
	assert.Empty(t, blogs[2].Posts)
}

func TestLoad_SameIncludeTwiceIsIdempotent(t *testing.T) {
	l, spy := newLoader(t)
	var rep navload.Report

	blogs, err := navload.From[fixtures.Blog](l).
		Where(store.Eq("id", 1)).
		Include("Posts").
		Include("Posts").
		CollectReport(&rep).
		ToList(context.Background())
	require.NoError(t, err)
	require.Len(t, blogs, 1)

	assert.Equal(t, 2, spy.fetches)
	require.Len(t, rep.Levels, 2)
	assert.Equal(t, navload.StrategyCached, rep.Levels[1].Strategy)
	assert.Equal(t, []int64{1, 2, 5}, postIDs(blogs[0].Posts))
}

func TestLoad_Tracking(t *testing.T) {
	ctx := context.Background()

	t.Run("no tracking attaches nothing", func(t *testing.T) {
		spy := newSpy(t, openFixtureDB(t), store.WithDefaultTracking(true))
		l := navload.New(spy)
		var rep navload.Report

		_, err := navload.From[fixtures.Blog](l).
			AsNoTracking().
			Include("Posts.Comments").
			Include("Posts.Author.Profile").
			CollectReport(&rep).
			ToList(ctx)
		require.NoError(t, err)
		assert.False(t, rep.Tracking)
		assert.Equal(t, 0, spy.Session().TrackedCount())
	})

	t.Run("default off", func(t *testing.T) {
		l, spy := newLoader(t)
		_, err := navload.From[fixtures.Blog](l).Include("Posts").ToList(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, spy.Session().TrackedCount())
	})

	t.Run("tracking attaches the whole graph", func(t *testing.T) {
		l, spy := newLoader(t)
		var rep navload.Report
		_, err := navload.From[fixtures.Blog](l).
			Where(store.Eq("id", 1)).
			AsTracking().
			Include("Posts.Comments").
			CollectReport(&rep).
			ToList(ctx)
		require.NoError(t, err)
		assert.True(t, rep.Tracking)
		// One blog, three posts, four comments.
		assert.Equal(t, 8, spy.Session().TrackedCount())
	})
}

func TestLoad_PartialLoadFetchesComplement(t *testing.T) {
	ctx := context.Background()
	spy := newSpy(t, openFixtureDB(t), store.WithDefaultTracking(true))
	l := navload.New(spy)

	first, err := navload.From[fixtures.Blog](l).Where(store.Eq("id", 1)).Include("Posts").ToList(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	var rep navload.Report
	blogs, err := navload.From[fixtures.Blog](l).
		OrderBy("id").
		Include("Posts").
		CollectReport(&rep).
		ToList(ctx)
	require.NoError(t, err)
	require.Len(t, blogs, 3)

	assert.Same(t, first[0], blogs[0])
	level, ok := rep.Level("Posts")
	require.True(t, ok)
	assert.Equal(t, navload.StrategyKeyed, level.Strategy)
	assert.Equal(t, 2, rep.Fetches)

	assert.Equal(t, []int64{1, 2, 5}, postIDs(blogs[0].Posts))
	assert.Equal(t, []int64{3, 4}, postIDs(blogs[1].Posts))
	assert.NotNil(t, blogs[2].Posts)
	assert.Empty(t, blogs[2].Posts)
}

func TestLoad_PaginationIndependence(t *testing.T) {
	ctx := context.Background()
	l, _ := newLoader(t)

	all, err := navload.From[fixtures.Post](l).OrderBy("id").Include("Comments").ToList(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.NotNil(t, all[4].Comments)
	assert.Empty(t, all[4].Comments)

	var rep navload.Report
	page, err := navload.From[fixtures.Post](l).
		OrderBy("id").
		Offset(1).
		Limit(2).
		Include("Comments").
		CollectReport(&rep).
		ToList(ctx)
	require.NoError(t, err)
	require.Len(t, page, 2)

	assert.Equal(t, postIDs(all[1:3]), postIDs(page))
	for i, p := range page {
		assert.Equal(t, commentIDs(all[1+i].Comments), commentIDs(p.Comments))
		for _, c := range p.Comments {
			assert.Same(t, p, c.Post)
		}
	}
	level, ok := rep.Level("Comments")
	require.True(t, ok)
	assert.Equal(t, navload.StrategyKeyed, level.Strategy)
}

func TestLoad_CheckedAbsentNavigationsAreNotRefetched(t *testing.T) {
	l, spy := newLoader(t, navload.WithoutJoinCombination())
	var rep navload.Report

	authors, err := navload.From[fixtures.Author](l).
		OrderBy("id").
		Include("Profile").
		Include("Posts.Author.Profile").
		CollectReport(&rep).
		ToList(context.Background())
	require.NoError(t, err)
	require.Len(t, authors, 3)

	// Root, Profile, Posts. Posts.Author is held through the inverse of
	// Posts, and Cid's missing profile was already checked.
	assert.Equal(t, 3, spy.fetches)
	for _, path := range []string{"Posts.Author", "Posts.Author.Profile"} {
		level, ok := rep.Level(path)
		require.True(t, ok, path)
		assert.Equal(t, navload.StrategyPreloaded, level.Strategy, path)
	}

	assert.Equal(t, "gopher", authors[0].Profile.Bio)
	assert.Equal(t, "dba", authors[1].Profile.Bio)
	assert.Nil(t, authors[2].Profile)
	assert.Equal(t, []int64{1, 3}, postIDs(authors[0].Posts))
	assert.Equal(t, []int64{5}, postIDs(authors[2].Posts))
	assert.Same(t, authors[2], authors[2].Posts[0].Author)
}

func TestLoad_SelfReference(t *testing.T) {
	l, spy := newLoader(t)

	root, err := navload.From[fixtures.Comment](l).
		Where(store.Eq("id", 1)).
		Include("Replies.Replies").
		Single(context.Background())
	require.NoError(t, err)
	require.NotNil(t, root)

	require.Len(t, root.Replies, 1)
	reply := root.Replies[0]
	assert.Equal(t, int64(2), reply.ID)
	assert.Same(t, root, reply.Parent)
	require.Len(t, reply.Replies, 1)
	assert.Equal(t, "reply to reply", reply.Replies[0].Body)
	assert.Same(t, reply, reply.Replies[0].Parent)
	assert.Nil(t, reply.Replies[0].Replies)
	assert.Equal(t, 3, spy.fetches)
}

func TestLoad_BridgeEntity(t *testing.T) {
	l, spy := newLoader(t)
	var rep navload.Report

	posts, err := navload.From[fixtures.Post](l).
		OrderBy("id").
		Include("PostTags.Tag").
		CollectReport(&rep).
		ToList(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 5)

	// Tag is joined onto the PostTags fetch.
	assert.Equal(t, 2, spy.fetches)
	level, ok := rep.Level("PostTags.Tag")
	require.True(t, ok)
	assert.Equal(t, navload.StrategyJoin, level.Strategy)

	var names []string
	for _, pt := range posts[2].PostTags {
		names = append(names, pt.Tag.Name)
	}
	assert.Equal(t, []string{"sql", "perf"}, names)
	assert.Same(t, posts[0].PostTags[0].Tag, posts[1].PostTags[0].Tag)
	assert.Empty(t, posts[4].PostTags)
}

func TestLoad_ChunkedKeys(t *testing.T) {
	l, spy := newLoader(t, navload.WithMaxInClause(2))
	var rep navload.Report

	posts, err := navload.From[fixtures.Post](l).
		OrderBy("id").
		Limit(4).
		Include("Comments").
		CollectReport(&rep).
		ToList(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 4)

	level, ok := rep.Level("Comments")
	require.True(t, ok)
	assert.Equal(t, navload.StrategyKeyed, level.Strategy)
	assert.Equal(t, 2, level.Fetches)
	assert.Equal(t, 3, spy.fetches)

	assert.Equal(t, []int64{1, 2, 3}, commentIDs(posts[0].Comments))
	assert.Equal(t, []int64{4}, commentIDs(posts[1].Comments))
	assert.Equal(t, []int64{5}, commentIDs(posts[2].Comments))
	assert.Equal(t, []int64{6}, commentIDs(posts[3].Comments))
}

func TestLoad_RegenerateByKey(t *testing.T) {
	l, spy := newLoader(t)
	var rep navload.Report

	blogs, err := navload.From[fixtures.Blog](l).
		Where(store.Eq("id", 2)).
		Include("Posts", navload.RegenerateByKey()).
		CollectReport(&rep).
		ToList(context.Background())
	require.NoError(t, err)
	require.Len(t, blogs, 1)

	level, ok := rep.Level("Posts")
	require.True(t, ok)
	assert.Equal(t, navload.StrategyKeyed, level.Strategy)
	assert.Equal(t, 2, spy.fetches)
	assert.Equal(t, []int64{3, 4}, postIDs(blogs[0].Posts))
}

func TestLoad_TakeOne(t *testing.T) {
	ctx := context.Background()

	t.Run("first rebuilds the root as a key match", func(t *testing.T) {
		l, spy := newLoader(t)
		var rep navload.Report
		post, err := navload.From[fixtures.Post](l).
			OrderBy("id").
			Include("Comments").
			CollectReport(&rep).
			First(ctx)
		require.NoError(t, err)
		require.NotNil(t, post)
		assert.Equal(t, int64(1), post.ID)
		assert.Equal(t, []int64{1, 2, 3}, commentIDs(post.Comments))
		assert.Equal(t, 2, spy.fetches)
		level, ok := rep.Level("Comments")
		require.True(t, ok)
		assert.Equal(t, navload.StrategySubquery, level.Strategy)
		assert.Equal(t, 1, rep.Records)
	})

	t.Run("last without ordering takes the greatest key", func(t *testing.T) {
		l, _ := newLoader(t)
		post, err := navload.From[fixtures.Post](l).Include("Author").Last(ctx)
		require.NoError(t, err)
		require.NotNil(t, post)
		assert.Equal(t, int64(5), post.ID)
		require.NotNil(t, post.Author)
		assert.Equal(t, "Cid", post.Author.Name)
	})

	t.Run("last of a capped window", func(t *testing.T) {
		l, _ := newLoader(t)
		post, err := navload.From[fixtures.Post](l).OrderBy("id").Limit(2).Last(ctx)
		require.NoError(t, err)
		require.NotNil(t, post)
		assert.Equal(t, int64(2), post.ID)
	})

	t.Run("single with an empty collection", func(t *testing.T) {
		l, _ := newLoader(t)
		blog, err := navload.From[fixtures.Blog](l).Where(store.Eq("id", 3)).Include("Posts").Single(ctx)
		require.NoError(t, err)
		require.NotNil(t, blog)
		assert.NotNil(t, blog.Posts)
		assert.Empty(t, blog.Posts)
	})

	t.Run("single with several records", func(t *testing.T) {
		l, _ := newLoader(t)
		blog, err := navload.From[fixtures.Blog](l).Single(ctx)
		require.ErrorIs(t, err, navload.ErrNotSingular)
		assert.Nil(t, blog)
		var nse *navload.NotSingularError
		require.True(t, errors.As(err, &nse))
		assert.Equal(t, "Blog", nse.Type)

		_, err = navload.From[fixtures.Blog](l).SingleOrDefault(ctx)
		assert.ErrorIs(t, err, navload.ErrNotSingular)
	})

	t.Run("not found", func(t *testing.T) {
		l, _ := newLoader(t)
		missing := navload.From[fixtures.Blog](l).Where(store.Eq("id", 99)).Include("Posts")

		_, err := missing.First(ctx)
		assert.ErrorIs(t, err, navload.ErrNotFound)
		_, err = missing.Last(ctx)
		assert.ErrorIs(t, err, navload.ErrNotFound)
		_, err = missing.Single(ctx)
		assert.ErrorIs(t, err, navload.ErrNotFound)

		for name, fn := range map[string]func(context.Context) (*fixtures.Blog, error){
			"first":  missing.FirstOrDefault,
			"last":   missing.LastOrDefault,
			"single": missing.SingleOrDefault,
		} {
			blog, err := fn(ctx)
			assert.NoError(t, err, name)
			assert.Nil(t, blog, name)
		}
	})
}

func TestLoad_ToArray(t *testing.T) {
	l, _ := newLoader(t)
	tags, err := navload.From[fixtures.Tag](l).OrderByDesc("id").ToArray(context.Background())
	require.NoError(t, err)
	require.Len(t, tags, 3)
	assert.Equal(t, 3, cap(tags))
	assert.Equal(t, "perf", tags[0].Name)
}

func TestLoad_IntegrityViolation(t *testing.T) {
	ctx := context.Background()
	db := openFixtureDB(t)
	_, err := db.ExecContext(ctx, "PRAGMA foreign_keys = OFF")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO posts (id, blog_id, author_id, title) VALUES (6, 1, 99, 'Orphan')")
	require.NoError(t, err)

	for name, opts := range map[string][]navload.Option{
		"joined":   nil,
		"separate": {navload.WithoutJoinCombination()},
	} {
		t.Run(name, func(t *testing.T) {
			l := navload.New(newSpy(t, db), opts...)
			var rep navload.Report
			posts, err := navload.From[fixtures.Post](l).
				Where(store.Eq("id", 6)).
				Include("Author").
				CollectReport(&rep).
				ToList(ctx)
			require.ErrorIs(t, err, navload.ErrIntegrityViolation)
			assert.Nil(t, posts)

			var ive *navload.IntegrityViolationError
			require.True(t, errors.As(err, &ive))
			assert.Equal(t, "Post", ive.Type)
			assert.Equal(t, "Author", ive.Navigation)
			assert.Equal(t, int64(6), ive.Key)
			assert.NotEmpty(t, rep.ExecutionID)
		})
	}
}

func TestLoad_PlanErrors(t *testing.T) {
	ctx := context.Background()
	l, spy := newLoader(t)

	_, err := navload.From[fixtures.Blog](l).Include("Nope").ToList(ctx)
	assert.ErrorIs(t, err, navload.ErrUnsupportedRelationship)

	q := navload.From[fixtures.Blog](l).ThenInclude("Posts")
	assert.ErrorIs(t, q.Err(), navload.ErrInvalidChainState)
	_, err = q.Include("Posts").First(ctx)
	assert.ErrorIs(t, err, navload.ErrInvalidChainState, "the first error sticks")

	_, err = navload.From[struct{ ID int64 }](l).ToList(ctx)
	assert.Error(t, err)

	assert.Zero(t, spy.fetches)
}

func TestLoad_PlanRootMismatch(t *testing.T) {
	l, spy := newLoader(t)
	plan, err := l.NewPlan(fixtures.PostType).Include("Comments")
	require.NoError(t, err)

	_, rep, err := l.Load(context.Background(), store.From(fixtures.BlogType), plan, navload.TerminalList)
	require.Error(t, err)
	require.NotNil(t, rep)
	assert.Zero(t, spy.fetches)
}

func TestLoad_StoreErrorPropagates(t *testing.T) {
	db := openFixtureDB(t)
	l := navload.New(newSpy(t, db))
	require.NoError(t, db.Close())

	_, err := navload.From[fixtures.Blog](l).Include("Posts").ToList(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch Blog")
}

func TestParseTerminal(t *testing.T) {
	tests := []struct {
		in   string
		want navload.Terminal
		ok   bool
	}{
		{"", navload.TerminalList, true},
		{"to_array", navload.TerminalList, true},
		{"to_list", navload.TerminalList, true},
		{"first_or_default", navload.TerminalFirstOrDefault, true},
		{"single", navload.TerminalSingle, true},
		{"last", navload.TerminalLast, true},
		{"middle", navload.TerminalList, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := navload.ParseTerminal(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.in != "" && tt.in != "to_array" {
				assert.Equal(t, tt.in, got.String())
			}
		})
	}
}
