package blogcore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

var ErrTagRequired = fmt.Errorf("%w: tag is required", ErrValidation)

// Create validates the input and stores a new post written by who, together with its tags and
// optional image, in a single transaction. It returns the id of the new post.
func (b *Blog) Create(ctx context.Context, who Identity, in PostInput) (int64, error) {
	return b.create(ctx, "create", who, in, b.now())
}

// create is Create with an explicit creation time
func (b *Blog) create(ctx context.Context, operation string, who Identity, in PostInput, created time.Time) (id int64, err error) {
	ctx, span := b.startSpan(ctx, operation, attribute.Int64("author_id", who.UserID))
	defer func() { b.endSpan(ctx, span, operation, err) }()

	in, err = b.validatePost(in)
	if err != nil {
		return 0, err
	}

	bodyHTML, err := b.render(in.Body)
	if err != nil {
		return 0, err
	}

	err = b.store.Update(ctx, func(tx Tx) error {
		post := &Post{
			Title:    in.Title,
			Body:     in.Body,
			BodyHTML: bodyHTML,
			AuthorID: who.UserID,
			Created:  created,
		}

		newID, err := tx.CreatePost(ctx, post)
		if err != nil {
			return fmt.Errorf("failed to create post: %w", err)
		}

		if err := b.tags.Reconcile(ctx, tx, in.Tags, newID); err != nil {
			return err
		}

		if hasImage(in) {
			if _, err := b.images.SaveAndAssociate(ctx, tx, in.Image.Data, in.Image.Name, newID); err != nil {
				return err
			}
		}

		id = newID
		return nil
	})
	if err != nil {
		return 0, err
	}

	b.metrics.PostsCreated.Add(ctx, 1)
	b.logger.Info("created post", slog.Int64("post_id", id), slog.Int64("author_id", who.UserID))

	return id, nil
}

// Update replaces the title, body, and tags of a post and, if the input carries one, its image.
// Only the author may update a post.
func (b *Blog) Update(ctx context.Context, who Identity, id int64, in PostInput) (err error) {
	ctx, span := b.startSpan(ctx, "update", attribute.Int64("post_id", id))
	defer func() { b.endSpan(ctx, span, "update", err) }()

	err = b.store.Update(ctx, func(tx Tx) error {
		post, err := b.ownedPost(ctx, tx, who, id)
		if err != nil {
			return err
		}

		in, err := b.validatePost(in)
		if err != nil {
			return err
		}

		bodyHTML, err := b.render(in.Body)
		if err != nil {
			return err
		}

		post.Title = in.Title
		post.Body = in.Body
		post.BodyHTML = bodyHTML

		if err := tx.UpdatePost(ctx, post); err != nil {
			return fmt.Errorf("failed to update post %d: %w", id, err)
		}

		if err := b.tags.Reconcile(ctx, tx, in.Tags, id); err != nil {
			return err
		}

		if hasImage(in) {
			if _, err := b.images.SaveAndAssociate(ctx, tx, in.Image.Data, in.Image.Name, id); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	b.metrics.PostsUpdated.Add(ctx, 1)
	b.logger.Info("updated post", slog.Int64("post_id", id))

	return nil
}

// Delete removes a post together with its tag links, image, comments, and likes. Only the author
// may delete a post. The image blob is removed after the transaction commits.
func (b *Blog) Delete(ctx context.Context, who Identity, id int64) (err error) {
	ctx, span := b.startSpan(ctx, "delete", attribute.Int64("post_id", id))
	defer func() { b.endSpan(ctx, span, "delete", err) }()

	err = b.store.Update(ctx, func(tx Tx) error {
		if _, err := b.ownedPost(ctx, tx, who, id); err != nil {
			return err
		}

		if err := b.tags.RemoveAll(ctx, tx, id); err != nil {
			return err
		}

		if err := b.images.RemoveAssociation(ctx, tx, id); err != nil {
			return err
		}

		if err := tx.DeletePostComments(ctx, id); err != nil {
			return fmt.Errorf("failed to delete comments of post %d: %w", id, err)
		}

		if err := tx.DeletePostLikes(ctx, id); err != nil {
			return fmt.Errorf("failed to delete likes of post %d: %w", id, err)
		}

		if err := tx.DeletePost(ctx, id); err != nil {
			return fmt.Errorf("failed to delete post %d: %w", id, err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	b.metrics.PostsDeleted.Add(ctx, 1)
	b.logger.Info("deleted post", slog.Int64("post_id", id))

	return nil
}

// Get returns the post with its tags, image, comments, and the users liking it.
func (b *Blog) Get(ctx context.Context, id int64) (*PostDetail, error) {
	var detail *PostDetail

	err := b.store.View(ctx, func(tx Tx) error {
		post, err := tx.GetPost(ctx, id)
		if err != nil {
			return err
		}

		if err := b.annotate(ctx, tx, post); err != nil {
			return err
		}

		comments, err := tx.PostComments(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get comments of post %d: %w", id, err)
		}

		likers, err := tx.PostLikers(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get likes of post %d: %w", id, err)
		}

		detail = &PostDetail{Post: post, Comments: comments, Likers: likers}
		return nil
	})

	return detail, err
}

// List returns a page of posts, newest first, each annotated with its tags and image.
func (b *Blog) List(ctx context.Context, page, pageSize int) ([]*Post, Pagination, error) {
	return b.listPosts(ctx, "list", PostFilter{}, page, pageSize)
}

// Search is List restricted to posts whose title contains query, ignoring case.
func (b *Blog) Search(ctx context.Context, query string, page, pageSize int) ([]*Post, Pagination, error) {
	return b.listPosts(ctx, "search", PostFilter{TitleContains: query}, page, pageSize)
}

// ListByTag is List restricted to posts carrying the tag.
func (b *Blog) ListByTag(ctx context.Context, tag string, page, pageSize int) ([]*Post, Pagination, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, Pagination{}, ErrTagRequired
	}
	return b.listPosts(ctx, "list_by_tag", PostFilter{Tag: tag}, page, pageSize)
}

// Tags returns the tag catalog, including tags no post uses anymore.
func (b *Blog) Tags(ctx context.Context) ([]Tag, error) {
	var tags []Tag
	err := b.store.View(ctx, func(tx Tx) error {
		var err error
		tags, err = tx.ListTags(ctx)
		return err
	})
	return tags, err
}

// TagsForPost returns the names of the tags associated with the post.
func (b *Blog) TagsForPost(ctx context.Context, id int64) ([]string, error) {
	var names []string
	err := b.store.View(ctx, func(tx Tx) error {
		var err error
		names, err = b.tags.TagsForPost(ctx, tx, id)
		return err
	})
	return names, err
}

// ImageForPost returns the blob name of the post's image, or false if it has none.
func (b *Blog) ImageForPost(ctx context.Context, id int64) (string, bool, error) {
	var (
		name string
		ok   bool
	)
	err := b.store.View(ctx, func(tx Tx) error {
		var err error
		name, ok, err = b.images.ImageForPost(ctx, tx, id)
		return err
	})
	return name, ok, err
}

func (b *Blog) listPosts(ctx context.Context, operation string, filter PostFilter, page, pageSize int) (posts []*Post, pagination Pagination, err error) {
	ctx, span := b.startSpan(ctx, operation, attribute.Int("page", page))
	defer func() { b.endSpan(ctx, span, operation, err) }()

	page, pageSize = normalizePage(page, pageSize, b.pageSize)

	err = b.store.View(ctx, func(tx Tx) error {
		total, err := tx.CountPosts(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to count posts: %w", err)
		}

		pagination = NewPagination(total, pageSize, page)
		posts = make([]*Post, 0, pageSize)
		if !pagination.InRange() {
			return nil
		}

		found, err := tx.ListPosts(ctx, filter, pageSize, pagination.Offset)
		if err != nil {
			return fmt.Errorf("failed to list posts: %w", err)
		}

		for _, post := range found {
			if err := b.annotate(ctx, tx, post); err != nil {
				return err
			}
			posts = append(posts, post)
		}

		return nil
	})
	if err != nil {
		return nil, Pagination{}, err
	}

	return posts, pagination, nil
}

// annotate fills in the tags and image of a post
func (b *Blog) annotate(ctx context.Context, tx Tx, post *Post) error {
	tags, err := b.tags.TagsForPost(ctx, tx, post.ID)
	if err != nil {
		return err
	}

	image, _, err := b.images.ImageForPost(ctx, tx, post.ID)
	if err != nil {
		return err
	}

	post.Tags = tags
	post.Image = image
	return nil
}

// ownedPost loads the post and checks that who wrote it
func (b *Blog) ownedPost(ctx context.Context, tx Tx, who Identity, id int64) (*Post, error) {
	post, err := tx.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}

	if post.AuthorID != who.UserID {
		return nil, fmt.Errorf("%w: post %d", ErrNotAuthor, id)
	}

	return post, nil
}

func hasImage(in PostInput) bool {
	return in.Image != nil && len(in.Image.Data) > 0
}
