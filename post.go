package blogcore

import (
	"strings"
	"time"
)

// Post represents a blog post
type Post struct {
	ID       int64     `json:"id"`       // ID is assigned by the store on creation
	Title    string    `json:"title"`    // Title is the post title
	Body     string    `json:"body"`     // Body is the raw markdown body
	BodyHTML string    `json:"bodyHTML"` // BodyHTML is the sanitized HTML rendering of Body
	AuthorID int64     `json:"authorID"` // AuthorID is the user that wrote the post
	Created  time.Time `json:"created"`  // Created is the creation timestamp
	Tags     []string  `json:"tags"`     // Tags is filled in by listings and is not persisted with the row
	Image    string    `json:"image"`    // Image is the stored blob name, filled in by listings
}

// HasTags returns true if the post has been annotated with at least one tag
func (p *Post) HasTags() bool {
	return len(p.Tags) > 0
}

// HasImage returns true if the post has been annotated with an image
func (p *Post) HasImage() bool {
	return p.Image != ""
}

// TagString returns the tags joined by a single space, the same shape the tag input takes
func (p *Post) TagString() string {
	return strings.Join(p.Tags, " ")
}

// CreatedDate returns the creation date in the format Jan 2, 2006
func (p *Post) CreatedDate() string {
	if p.Created.IsZero() {
		return ""
	}
	return p.Created.Format("Jan 2, 2006")
}

// Tag is a named label that can be attached to many posts.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Comment is a comment left by a user on a post.
type Comment struct {
	ID       int64     `json:"id"`
	PostID   int64     `json:"postID"`
	AuthorID int64     `json:"authorID"`
	Body     string    `json:"body"`
	Created  time.Time `json:"created"`
}

// Identity is the authenticated caller. The core trusts it as given.
type Identity struct {
	UserID int64
}

// ImageUpload is an uploaded image. Name is only used for its extension.
type ImageUpload struct {
	Name string
	Data []byte
}

// PostInput is the raw form input for creating or updating a post.
type PostInput struct {
	Title string       `validate:"required"`
	Body  string       // Body is the raw markdown
	Tags  string       // Tags is a whitespace separated list of tag names
	Image *ImageUpload // Image is optional; when set it replaces any existing image
}

// CommentInput is the raw form input for a comment.
type CommentInput struct {
	Body string `validate:"required"`
}

// PostDetail is a post with everything the detail view shows.
type PostDetail struct {
	Post     *Post
	Comments []*Comment
	Likers   []int64
}

// LikeCount returns the number of users liking the post
func (pd *PostDetail) LikeCount() int {
	return len(pd.Likers)
}

// LikedBy returns true if the given user likes the post
func (pd *PostDetail) LikedBy(userID int64) bool {
	for _, id := range pd.Likers {
		if id == userID {
			return true
		}
	}
	return false
}
