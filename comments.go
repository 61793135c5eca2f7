package blogcore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// AddComment adds a comment by who to the post and returns the new comment id.
// Any authenticated user may comment; the body must not be blank.
func (b *Blog) AddComment(ctx context.Context, who Identity, postID int64, body string) (id int64, err error) {
	ctx, span := b.startSpan(ctx, "add_comment", attribute.Int64("post_id", postID))
	defer func() { b.endSpan(ctx, span, "add_comment", err) }()

	err = b.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.GetPost(ctx, postID); err != nil {
			return err
		}

		if err := b.validate.Struct(CommentInput{Body: strings.TrimSpace(body)}); err != nil {
			return validationError(err, map[string]error{"Body": ErrCommentRequired})
		}

		newID, err := tx.CreateComment(ctx, &Comment{
			PostID:   postID,
			AuthorID: who.UserID,
			Body:     body,
			Created:  b.now(),
		})
		if err != nil {
			return fmt.Errorf("failed to create comment on post %d: %w", postID, err)
		}

		id = newID
		return nil
	})
	if err != nil {
		return 0, err
	}

	b.logger.Info("added comment",
		slog.Int64("post_id", postID),
		slog.Int64("comment_id", id),
		slog.Int64("author_id", who.UserID))

	return id, nil
}

// Comments returns the comments on the post, oldest first.
func (b *Blog) Comments(ctx context.Context, postID int64) ([]*Comment, error) {
	var comments []*Comment
	err := b.store.View(ctx, func(tx Tx) error {
		if _, err := tx.GetPost(ctx, postID); err != nil {
			return err
		}

		var err error
		comments, err = tx.PostComments(ctx, postID)
		return err
	})
	return comments, err
}
