package blogcore

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
)

// Like records that who likes the post. Liking a post twice returns ErrAlreadyLiked.
func (b *Blog) Like(ctx context.Context, who Identity, postID int64) (err error) {
	ctx, span := b.startSpan(ctx, "like", attribute.Int64("post_id", postID))
	defer func() { b.endSpan(ctx, span, "like", err) }()

	err = b.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.GetPost(ctx, postID); err != nil {
			return err
		}

		err := tx.CreateLike(ctx, postID, who.UserID)
		if errors.Is(err, ErrConflict) {
			return ErrAlreadyLiked
		}
		return err
	})
	if err != nil {
		return err
	}

	b.logger.Debug("liked post", slog.Int64("post_id", postID), slog.Int64("user_id", who.UserID))
	return nil
}

// Unlike removes the like of who from the post. Unliking a post that was not liked is a no-op.
func (b *Blog) Unlike(ctx context.Context, who Identity, postID int64) (err error) {
	ctx, span := b.startSpan(ctx, "unlike", attribute.Int64("post_id", postID))
	defer func() { b.endSpan(ctx, span, "unlike", err) }()

	return b.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.GetPost(ctx, postID); err != nil {
			return err
		}
		return tx.DeleteLike(ctx, postID, who.UserID)
	})
}

// Likers returns the ids of the users liking the post in ascending order.
func (b *Blog) Likers(ctx context.Context, postID int64) ([]int64, error) {
	var likers []int64
	err := b.store.View(ctx, func(tx Tx) error {
		if _, err := tx.GetPost(ctx, postID); err != nil {
			return err
		}

		var err error
		likers, err = tx.PostLikers(ctx, postID)
		return err
	})
	return likers, err
}
