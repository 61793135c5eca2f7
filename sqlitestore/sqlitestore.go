package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/hypergopher/blogcore"
)

const DefaultTimeout = 3 * time.Second

// NewDB opens a SQLite database with the pragmas the store relies on, foreign keys in particular.
func NewDB(dbPath string) (*sqlx.DB, error) {
	// Note: the busy_timeout pragma must be first because
	// the connection needs to be set to block on busy before WAL mode
	// is set in case it hasn't been already set by another connection.
	pragmas := "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=journal_size_limit(200000000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=temp_store(MEMORY)&_pragma=cache_size(-16000)"

	db, err := sqlx.Open("sqlite", dbPath+pragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// SQLiteStore implements blogcore.Store on a SQLite database
type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Open opens the database at dbPath and initializes the schema.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := NewDB(dbPath)
	if err != nil {
		return nil, err
	}

	s := NewSQLiteStore(db)
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Init initializes the SQLiteStore, creating the necessary tables or indexes if they do not exist.
func (s *SQLiteStore) Init() error {
	query := `
		-- Table for holding posts
		CREATE TABLE IF NOT EXISTS post (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			author_id INTEGER NOT NULL,
			created TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			body_html TEXT NOT NULL
		);

		-- Tag catalog, never pruned
		CREATE TABLE IF NOT EXISTS tag (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		);

		CREATE TABLE IF NOT EXISTS post_tag (
			post_id INTEGER NOT NULL,
			tag_id INTEGER NOT NULL,
			PRIMARY KEY(post_id, tag_id),
			FOREIGN KEY(post_id) REFERENCES post(id) ON DELETE CASCADE,
			FOREIGN KEY(tag_id) REFERENCES tag(id)
		);

		CREATE INDEX IF NOT EXISTS post_tag_tag_id_idx ON post_tag(tag_id);

		-- At most one image per post
		CREATE TABLE IF NOT EXISTS post_image (
			post_id INTEGER PRIMARY KEY,
			filename TEXT NOT NULL,
			FOREIGN KEY(post_id) REFERENCES post(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS comment (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			post_id INTEGER NOT NULL,
			author_id INTEGER NOT NULL,
			body TEXT NOT NULL,
			created TEXT NOT NULL,
			FOREIGN KEY(post_id) REFERENCES post(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS comment_post_id_idx ON comment(post_id);

		CREATE TABLE IF NOT EXISTS post_like (
			post_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			PRIMARY KEY(post_id, user_id),
			FOREIGN KEY(post_id) REFERENCES post(id) ON DELETE CASCADE
		);
	`
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Update runs fn in a transaction and commits it if fn succeeds.
func (s *SQLiteStore) Update(ctx context.Context, fn func(tx blogcore.Tx) error) (err error) {
	xtx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	t := &sqliteTx{tx: xtx}

	defer func() {
		if p := recover(); p != nil {
			_ = xtx.Rollback()
			panic(p)
		}
	}()

	if err := fn(t); err != nil {
		_ = xtx.Rollback()
		return err
	}

	if err := xtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, hook := range t.hooks {
		hook()
	}

	return nil
}

// View runs fn in a read-only transaction that is always rolled back. Writes fail with
// blogcore.ErrReadOnlyTx.
func (s *SQLiteStore) View(ctx context.Context, fn func(tx blogcore.Tx) error) error {
	xtx, err := s.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func(tx *sqlx.Tx) {
		_ = tx.Rollback()
	}(xtx)

	return fn(&sqliteTx{tx: xtx, readOnly: true})
}

type sqliteTx struct {
	tx       *sqlx.Tx
	hooks    []func()
	readOnly bool
}

type postRow struct {
	ID       int64  `db:"id"`
	AuthorID int64  `db:"author_id"`
	Created  string `db:"created"`
	Title    string `db:"title"`
	Body     string `db:"body"`
	BodyHTML string `db:"body_html"`
}

func (r postRow) toPost() (*blogcore.Post, error) {
	created, err := time.Parse(time.RFC3339Nano, r.Created)
	if err != nil {
		return nil, fmt.Errorf("invalid created time for post %d: %w", r.ID, err)
	}

	return &blogcore.Post{
		ID:       r.ID,
		Title:    r.Title,
		Body:     r.Body,
		BodyHTML: r.BodyHTML,
		AuthorID: r.AuthorID,
		Created:  created,
	}, nil
}

type commentRow struct {
	ID       int64  `db:"id"`
	PostID   int64  `db:"post_id"`
	AuthorID int64  `db:"author_id"`
	Body     string `db:"body"`
	Created  string `db:"created"`
}

var postColumns = []string{"id", "author_id", "created", "title", "body", "body_html"}

func (t *sqliteTx) OnCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

// exec runs a write statement. Every write goes through it.
func (t *sqliteTx) exec(ctx context.Context, builder sq.Sqlizer) (sql.Result, error) {
	if t.readOnly {
		return nil, blogcore.ErrReadOnlyTx
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *sqliteTx) get(ctx context.Context, dest any, builder sq.Sqlizer) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}
	return t.tx.GetContext(ctx, dest, query, args...)
}

func (t *sqliteTx) selectRows(ctx context.Context, dest any, builder sq.Sqlizer) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}
	return t.tx.SelectContext(ctx, dest, query, args...)
}

func (t *sqliteTx) CreatePost(ctx context.Context, post *blogcore.Post) (int64, error) {
	result, err := t.exec(ctx, sq.Insert("post").
		Columns("author_id", "created", "title", "body", "body_html").
		Values(post.AuthorID, formatTime(post.Created), post.Title, post.Body, post.BodyHTML))
	if err != nil {
		return 0, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	post.ID = id
	return id, nil
}

func (t *sqliteTx) GetPost(ctx context.Context, id int64) (*blogcore.Post, error) {
	var row postRow
	err := t.get(ctx, &row, sq.Select(postColumns...).From("post").Where(sq.Eq{"id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", blogcore.ErrPostNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return row.toPost()
}

func (t *sqliteTx) UpdatePost(ctx context.Context, post *blogcore.Post) error {
	result, err := t.exec(ctx, sq.Update("post").
		SetMap(map[string]any{
			"title":     post.Title,
			"body":      post.Body,
			"body_html": post.BodyHTML,
		}).
		Where(sq.Eq{"id": post.ID}))
	if err != nil {
		return err
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", blogcore.ErrPostNotFound, post.ID)
	}
	return nil
}

func (t *sqliteTx) DeletePost(ctx context.Context, id int64) error {
	_, err := t.exec(ctx, sq.Delete("post").Where(sq.Eq{"id": id}))
	return err
}

// filterPosts applies the filter to a select on the post table
func filterPosts(builder sq.SelectBuilder, filter blogcore.PostFilter) sq.SelectBuilder {
	if filter.TitleContains != "" {
		builder = builder.Where(sq.Expr(`title LIKE ? ESCAPE '\'`, "%"+escapeLike(filter.TitleContains)+"%"))
	}

	if filter.Tag != "" {
		builder = builder.Where(sq.Expr(
			"id IN (SELECT pt.post_id FROM post_tag pt JOIN tag t ON t.id = pt.tag_id WHERE t.name = ?)",
			filter.Tag))
	}

	return builder
}

// escapeLike escapes the LIKE wildcards so the pattern matches them literally
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (t *sqliteTx) CountPosts(ctx context.Context, filter blogcore.PostFilter) (int, error) {
	var n int
	if err := t.get(ctx, &n, filterPosts(sq.Select("COUNT(*)").From("post"), filter)); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *sqliteTx) ListPosts(ctx context.Context, filter blogcore.PostFilter, limit, offset int) ([]*blogcore.Post, error) {
	if limit <= 0 || offset < 0 {
		return []*blogcore.Post{}, nil
	}

	var rows []postRow
	err := t.selectRows(ctx, &rows, filterPosts(sq.Select(postColumns...).From("post"), filter).
		OrderBy("id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)))
	if err != nil {
		return nil, err
	}

	posts := make([]*blogcore.Post, 0, len(rows))
	for _, row := range rows {
		post, err := row.toPost()
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, nil
}

func (t *sqliteTx) EnsureTag(ctx context.Context, name string) (int64, error) {
	if _, err := t.exec(ctx, sq.Insert("tag").Options("OR IGNORE").Columns("name").Values(name)); err != nil {
		return 0, err
	}
	return t.TagID(ctx, name)
}

func (t *sqliteTx) TagID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := t.get(ctx, &id, sq.Select("id").From("tag").Where(sq.Eq{"name": name}))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", blogcore.ErrTagNotFound, name)
	}
	return id, err
}

func (t *sqliteTx) ListTags(ctx context.Context) ([]blogcore.Tag, error) {
	var rows []struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}
	if err := t.selectRows(ctx, &rows, sq.Select("id", "name").From("tag").OrderBy("name")); err != nil {
		return nil, err
	}

	tags := make([]blogcore.Tag, 0, len(rows))
	for _, row := range rows {
		tags = append(tags, blogcore.Tag{ID: row.ID, Name: row.Name})
	}
	return tags, nil
}

func (t *sqliteTx) PostTagNames(ctx context.Context, postID int64) ([]string, error) {
	names := []string{}
	err := t.selectRows(ctx, &names, sq.Select("t.name").
		From("tag t").
		Join("post_tag pt ON pt.tag_id = t.id").
		Where(sq.Eq{"pt.post_id": postID}).
		OrderBy("t.name"))
	return names, err
}

func (t *sqliteTx) AddPostTag(ctx context.Context, postID, tagID int64) error {
	_, err := t.exec(ctx, sq.Insert("post_tag").Options("OR IGNORE").
		Columns("post_id", "tag_id").
		Values(postID, tagID))
	return err
}

func (t *sqliteTx) RemovePostTag(ctx context.Context, postID, tagID int64) error {
	_, err := t.exec(ctx, sq.Delete("post_tag").Where(sq.Eq{"post_id": postID, "tag_id": tagID}))
	return err
}

func (t *sqliteTx) RemovePostTags(ctx context.Context, postID int64) error {
	_, err := t.exec(ctx, sq.Delete("post_tag").Where(sq.Eq{"post_id": postID}))
	return err
}

func (t *sqliteTx) CreatePostImage(ctx context.Context, postID int64, filename string) error {
	result, err := t.exec(ctx, sq.Insert("post_image").Options("OR IGNORE").
		Columns("post_id", "filename").
		Values(postID, filename))
	if err != nil {
		return err
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: post %d already has an image", blogcore.ErrConflict, postID)
	}
	return nil
}

func (t *sqliteTx) PostImage(ctx context.Context, postID int64) (string, error) {
	var filename string
	err := t.get(ctx, &filename, sq.Select("filename").From("post_image").Where(sq.Eq{"post_id": postID}))
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: post %d", blogcore.ErrImageNotFound, postID)
	}
	return filename, err
}

func (t *sqliteTx) DeletePostImage(ctx context.Context, postID int64) error {
	_, err := t.exec(ctx, sq.Delete("post_image").Where(sq.Eq{"post_id": postID}))
	return err
}

func (t *sqliteTx) CreateComment(ctx context.Context, comment *blogcore.Comment) (int64, error) {
	result, err := t.exec(ctx, sq.Insert("comment").
		Columns("post_id", "author_id", "body", "created").
		Values(comment.PostID, comment.AuthorID, comment.Body, formatTime(comment.Created)))
	if err != nil {
		return 0, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	comment.ID = id
	return id, nil
}

func (t *sqliteTx) PostComments(ctx context.Context, postID int64) ([]*blogcore.Comment, error) {
	var rows []commentRow
	err := t.selectRows(ctx, &rows, sq.Select("id", "post_id", "author_id", "body", "created").
		From("comment").
		Where(sq.Eq{"post_id": postID}).
		OrderBy("id"))
	if err != nil {
		return nil, err
	}

	comments := make([]*blogcore.Comment, 0, len(rows))
	for _, row := range rows {
		created, err := time.Parse(time.RFC3339Nano, row.Created)
		if err != nil {
			return nil, fmt.Errorf("invalid created time for comment %d: %w", row.ID, err)
		}
		comments = append(comments, &blogcore.Comment{
			ID:       row.ID,
			PostID:   row.PostID,
			AuthorID: row.AuthorID,
			Body:     row.Body,
			Created:  created,
		})
	}
	return comments, nil
}

func (t *sqliteTx) DeletePostComments(ctx context.Context, postID int64) error {
	_, err := t.exec(ctx, sq.Delete("comment").Where(sq.Eq{"post_id": postID}))
	return err
}

func (t *sqliteTx) CreateLike(ctx context.Context, postID, userID int64) error {
	result, err := t.exec(ctx, sq.Insert("post_like").Options("OR IGNORE").
		Columns("post_id", "user_id").
		Values(postID, userID))
	if err != nil {
		return err
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: user %d already likes post %d", blogcore.ErrConflict, userID, postID)
	}
	return nil
}

func (t *sqliteTx) DeleteLike(ctx context.Context, postID, userID int64) error {
	_, err := t.exec(ctx, sq.Delete("post_like").Where(sq.Eq{"post_id": postID, "user_id": userID}))
	return err
}

func (t *sqliteTx) PostLikers(ctx context.Context, postID int64) ([]int64, error) {
	likers := []int64{}
	err := t.selectRows(ctx, &likers, sq.Select("user_id").
		From("post_like").
		Where(sq.Eq{"post_id": postID}).
		OrderBy("user_id"))
	return likers, err
}

func (t *sqliteTx) DeletePostLikes(ctx context.Context, postID int64) error {
	_, err := t.exec(ctx, sq.Delete("post_like").Where(sq.Eq{"post_id": postID}))
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
