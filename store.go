package blogcore

import "context"

// PostFilter narrows a post listing. Zero values mean no filtering.
type PostFilter struct {
	TitleContains string // case-insensitive substring of the title
	Tag           string // exact tag name
}

// Store is the record store behind the blog. All reads and writes happen inside a unit of work.
type Store interface {
	// Init initializes the store, such as creating the necessary tables, buckets, or indexes.
	Init() error
	// Close closes the store.
	Close() error
	// Update runs fn in a read-write transaction. If fn returns an error nothing it wrote is kept.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is a unit of work on the record store.
type Tx interface {
	// OnCommit registers fn to run after the transaction commits. It never runs on rollback.
	OnCommit(fn func())

	// CreatePost inserts the post and returns its new id.
	CreatePost(ctx context.Context, post *Post) (int64, error)
	// GetPost returns the post or ErrPostNotFound.
	GetPost(ctx context.Context, id int64) (*Post, error)
	// UpdatePost updates title, body, and body HTML of an existing post.
	UpdatePost(ctx context.Context, post *Post) error
	// DeletePost deletes the post row. It is a no-op if the post does not exist.
	DeletePost(ctx context.Context, id int64) error
	// CountPosts counts the posts matching the filter.
	CountPosts(ctx context.Context, filter PostFilter) (int, error)
	// ListPosts returns matching posts newest first by id.
	ListPosts(ctx context.Context, filter PostFilter, limit, offset int) ([]*Post, error)

	// EnsureTag inserts the tag if it does not exist and returns its id.
	EnsureTag(ctx context.Context, name string) (int64, error)
	// TagID returns the id of the named tag or ErrTagNotFound.
	TagID(ctx context.Context, name string) (int64, error)
	// ListTags returns the whole tag catalog ordered by name.
	ListTags(ctx context.Context) ([]Tag, error)
	// PostTagNames returns the names of the tags associated with the post.
	PostTagNames(ctx context.Context, postID int64) ([]string, error)
	// AddPostTag associates a tag with a post. Existing pairs are left alone.
	AddPostTag(ctx context.Context, postID, tagID int64) error
	// RemovePostTag removes a single association if it exists.
	RemovePostTag(ctx context.Context, postID, tagID int64) error
	// RemovePostTags removes every tag association of the post.
	RemovePostTags(ctx context.Context, postID int64) error

	// CreatePostImage associates a stored blob with a post. A second image for the same post is ErrConflict.
	CreatePostImage(ctx context.Context, postID int64, filename string) error
	// PostImage returns the blob name associated with the post or ErrImageNotFound.
	PostImage(ctx context.Context, postID int64) (string, error)
	// DeletePostImage removes the association if it exists.
	DeletePostImage(ctx context.Context, postID int64) error

	// CreateComment inserts the comment and returns its new id.
	CreateComment(ctx context.Context, comment *Comment) (int64, error)
	// PostComments returns the comments on a post oldest first.
	PostComments(ctx context.Context, postID int64) ([]*Comment, error)
	// DeletePostComments removes every comment on the post.
	DeletePostComments(ctx context.Context, postID int64) error

	// CreateLike records that the user likes the post. A duplicate pair is ErrConflict.
	CreateLike(ctx context.Context, postID, userID int64) error
	// DeleteLike removes the pair if it exists.
	DeleteLike(ctx context.Context, postID, userID int64) error
	// PostLikers returns the ids of the users liking the post in ascending order.
	PostLikers(ctx context.Context, postID int64) ([]int64, error)
	// DeletePostLikes removes every like on the post.
	DeletePostLikes(ctx context.Context, postID int64) error
}
