// Package fixtures provides a small blog model used by the CLI demo mode and
// by loader tests: mapped types, DDL and deterministic seed rows.
package fixtures

import (
	"database/sql"

	"navload/internal/entity"
	"navload/internal/schema"
)

type Blog struct {
	ID    int64
	Name  string
	Posts []*Post
}

type Author struct {
	ID      int64
	Name    string
	Profile *AuthorProfile
	Posts   []*Post
}

// AuthorProfile shares its primary key with the author it belongs to.
type AuthorProfile struct {
	AuthorID int64
	Bio      string
	Author   *Author
}

type Post struct {
	ID       int64
	BlogID   int64
	AuthorID sql.NullInt64
	Title    string
	Blog     *Blog
	Author   *Author
	Comments []*Comment
	PostTags []*PostTag
}

type Comment struct {
	ID       int64
	PostID   int64
	ParentID *int64
	Body     string
	Post     *Post
	Parent   *Comment
	Replies  []*Comment
}

type Tag struct {
	ID       int64
	Name     string
	PostTags []*PostTag
}

// PostTag is the explicit bridge between posts and tags.
type PostTag struct {
	ID     int64
	PostID int64
	TagID  int64
	Post   *Post
	Tag    *Tag
}

var (
	BlogType = entity.MustDefine[Blog]("Blog", "",
		entity.Key("id", func(b *Blog) *int64 { return &b.ID }),
		entity.Column("name", func(b *Blog) *string { return &b.Name }),
		entity.Many("Posts", func(b *Blog) *[]*Post { return &b.Posts }),
	)

	AuthorType = entity.MustDefine[Author]("Author", "",
		entity.Key("id", func(a *Author) *int64 { return &a.ID }),
		entity.Column("name", func(a *Author) *string { return &a.Name }),
		entity.One("Profile", func(a *Author) **AuthorProfile { return &a.Profile }),
		entity.Many("Posts", func(a *Author) *[]*Post { return &a.Posts }),
	)

	AuthorProfileType = entity.MustDefine[AuthorProfile]("AuthorProfile", "",
		entity.Key("author_id", func(p *AuthorProfile) *int64 { return &p.AuthorID }).References("authors", "id"),
		entity.Column("bio", func(p *AuthorProfile) *string { return &p.Bio }),
		entity.One("Author", func(p *AuthorProfile) **Author { return &p.Author }),
	)

	PostType = entity.MustDefine[Post]("Post", "",
		entity.Key("id", func(p *Post) *int64 { return &p.ID }),
		entity.Column("blog_id", func(p *Post) *int64 { return &p.BlogID }).References("blogs", "id"),
		entity.Column("author_id", func(p *Post) *sql.NullInt64 { return &p.AuthorID }).References("authors", "id"),
		entity.Column("title", func(p *Post) *string { return &p.Title }),
		entity.One("Blog", func(p *Post) **Blog { return &p.Blog }),
		entity.One("Author", func(p *Post) **Author { return &p.Author }),
		entity.Many("Comments", func(p *Post) *[]*Comment { return &p.Comments }),
		entity.Many("PostTags", func(p *Post) *[]*PostTag { return &p.PostTags }),
	)

	CommentType = entity.MustDefine[Comment]("Comment", "",
		entity.Key("id", func(c *Comment) *int64 { return &c.ID }),
		entity.Column("post_id", func(c *Comment) *int64 { return &c.PostID }).References("posts", "id"),
		entity.Column("parent_id", func(c *Comment) **int64 { return &c.ParentID }).References("comments", "id"),
		entity.Column("body", func(c *Comment) *string { return &c.Body }),
		entity.One("Post", func(c *Comment) **Post { return &c.Post }),
		entity.One("Parent", func(c *Comment) **Comment { return &c.Parent }),
		entity.Many("Replies", func(c *Comment) *[]*Comment { return &c.Replies }),
	)

	TagType = entity.MustDefine[Tag]("Tag", "",
		entity.Key("id", func(t *Tag) *int64 { return &t.ID }),
		entity.Column("name", func(t *Tag) *string { return &t.Name }),
		entity.Many("PostTags", func(t *Tag) *[]*PostTag { return &t.PostTags }),
	)

	PostTagType = entity.MustDefine[PostTag]("PostTag", "",
		entity.Key("id", func(pt *PostTag) *int64 { return &pt.ID }),
		entity.Column("post_id", func(pt *PostTag) *int64 { return &pt.PostID }).References("posts", "id"),
		entity.Column("tag_id", func(pt *PostTag) *int64 { return &pt.TagID }).References("tags", "id"),
		entity.One("Post", func(pt *PostTag) **Post { return &pt.Post }),
		entity.One("Tag", func(pt *PostTag) **Tag { return &pt.Tag }),
	)
)

// Types returns every fixture type.
func Types() []*entity.Type {
	return []*entity.Type{BlogType, AuthorType, AuthorProfileType, PostType, CommentType, TagType, PostTagType}
}

// Catalog returns a fresh catalogue over the fixture types.
func Catalog() *schema.Catalog {
	c, err := schema.NewCatalog(Types()...)
	if err != nil {
		panic(err)
	}
	return c
}
