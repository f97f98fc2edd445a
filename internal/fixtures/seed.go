package fixtures

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DDL creates the blog tables. It is valid for SQLite and MySQL.
var DDL = []string{
	`CREATE TABLE blogs (
		id INTEGER NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE authors (
		id INTEGER NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE author_profiles (
		author_id INTEGER NOT NULL PRIMARY KEY,
		bio VARCHAR(1024) NOT NULL,
		CONSTRAINT fk_author_profiles_author_id FOREIGN KEY (author_id) REFERENCES authors (id)
	)`,
	`CREATE TABLE posts (
		id INTEGER NOT NULL PRIMARY KEY,
		blog_id INTEGER NOT NULL,
		author_id INTEGER NULL,
		title VARCHAR(255) NOT NULL,
		CONSTRAINT fk_posts_blog_id FOREIGN KEY (blog_id) REFERENCES blogs (id),
		CONSTRAINT fk_posts_author_id FOREIGN KEY (author_id) REFERENCES authors (id)
	)`,
	`CREATE TABLE comments (
		id INTEGER NOT NULL PRIMARY KEY,
		post_id INTEGER NOT NULL,
		parent_id INTEGER NULL,
		body VARCHAR(1024) NOT NULL,
		CONSTRAINT fk_comments_post_id FOREIGN KEY (post_id) REFERENCES posts (id),
		CONSTRAINT fk_comments_parent_id FOREIGN KEY (parent_id) REFERENCES comments (id)
	)`,
	`CREATE TABLE tags (
		id INTEGER NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE post_tags (
		id INTEGER NOT NULL PRIMARY KEY,
		post_id INTEGER NOT NULL,
		tag_id INTEGER NOT NULL,
		CONSTRAINT fk_post_tags_post_id FOREIGN KEY (post_id) REFERENCES posts (id),
		CONSTRAINT fk_post_tags_tag_id FOREIGN KEY (tag_id) REFERENCES tags (id)
	)`,
}

type seedTable struct {
	insert string
	rows   [][]any
}

// Seed rows. Blog 3 has no posts, author 3 has no profile, post 4 has no
// author and post 5 has no comments.
var seed = []seedTable{
	{`INSERT INTO blogs (id, name) VALUES (?, ?)`, [][]any{
		{1, "Go"}, {2, "Databases"}, {3, "Empty"},
	}},
	{`INSERT INTO authors (id, name) VALUES (?, ?)`, [][]any{
		{1, "Ann"}, {2, "Bob"}, {3, "Cid"},
	}},
	{`INSERT INTO author_profiles (author_id, bio) VALUES (?, ?)`, [][]any{
		{1, "gopher"}, {2, "dba"},
	}},
	{`INSERT INTO posts (id, blog_id, author_id, title) VALUES (?, ?, ?, ?)`, [][]any{
		{1, 1, 1, "Channels"},
		{2, 1, 2, "Generics"},
		{3, 2, 1, "Indexes"},
		{4, 2, nil, "Vacuum"},
		{5, 1, 3, "Errors"},
	}},
	{`INSERT INTO comments (id, post_id, parent_id, body) VALUES (?, ?, ?, ?)`, [][]any{
		{1, 1, nil, "first"},
		{2, 1, 1, "reply"},
		{3, 1, 2, "reply to reply"},
		{4, 2, nil, "nice"},
		{5, 3, nil, "useful"},
		{6, 4, nil, "hmm"},
	}},
	{`INSERT INTO tags (id, name) VALUES (?, ?)`, [][]any{
		{1, "go"}, {2, "sql"}, {3, "perf"},
	}},
	{`INSERT INTO post_tags (id, post_id, tag_id) VALUES (?, ?, ?)`, [][]any{
		{1, 1, 1}, {2, 2, 1}, {3, 3, 2}, {4, 3, 3}, {5, 4, 2},
	}},
}

// Execer is the subset of *sql.DB used for seeding.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Seed creates the tables and inserts the demo rows.
func Seed(ctx context.Context, db Execer) error {
	for _, stmt := range DDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create fixture table: %w", err)
		}
	}
	for _, table := range seed {
		for _, row := range table.rows {
			if _, err := db.ExecContext(ctx, table.insert, row...); err != nil {
				return fmt.Errorf("seed fixture row: %w", err)
			}
		}
	}
	return nil
}

// OpenSQLite opens an in-memory SQLite database seeded with the demo rows.
// The pool is pinned to one connection so every query sees the same database.
func OpenSQLite(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := Seed(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
