package blogcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ImageManager keeps at most one image per post. An image is a blob in the BlobStore plus an
// association row in the record store; the two are not updated atomically.
//
// Blob writes happen immediately. Blob deletions are deferred until the record store transaction
// commits, so a rollback can leave an orphaned blob but never an association to a missing blob.
type ImageManager struct {
	blobs  BlobStore
	logger *slog.Logger
}

func NewImageManager(blobs BlobStore, logger *slog.Logger) *ImageManager {
	if logger == nil {
		logger = defaultLogger()
	}
	return &ImageManager{blobs: blobs, logger: logger}
}

// Blobs returns the underlying blob store
func (im *ImageManager) Blobs() BlobStore {
	return im.blobs
}

// SaveBlob stores data under a new random name that keeps the extension of nameHint.
func (im *ImageManager) SaveBlob(ctx context.Context, data []byte, nameHint string) (string, error) {
	name := uuid.NewString() + blobExtension(nameHint)

	if err := im.blobs.Put(ctx, name, data); err != nil {
		return "", fmt.Errorf("failed to save blob: %w", err)
	}

	return name, nil
}

// CreateAssociation links the stored blob to the post. The blob has to exist already.
func (im *ImageManager) CreateAssociation(ctx context.Context, tx Tx, postID int64, storedName string) error {
	exists, err := im.blobs.Exists(ctx, storedName)
	if err != nil {
		return fmt.Errorf("failed to check blob %s: %w", storedName, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrBlobNotFound, storedName)
	}

	if err := tx.CreatePostImage(ctx, postID, storedName); err != nil {
		return fmt.Errorf("failed to associate image with post %d: %w", postID, err)
	}

	return nil
}

// ImageForPost returns the blob name of the post's image, or false if it has none.
func (im *ImageManager) ImageForPost(ctx context.Context, tx Tx, postID int64) (string, bool, error) {
	name, err := tx.PostImage(ctx, postID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get image for post %d: %w", postID, err)
	}
	return name, true, nil
}

// RemoveAssociation removes the post's image association and deletes its blob once tx commits.
// It is a no-op if the post has no image.
func (im *ImageManager) RemoveAssociation(ctx context.Context, tx Tx, postID int64) error {
	name, ok, err := im.ImageForPost(ctx, tx, postID)
	if err != nil || !ok {
		return err
	}

	if err := tx.DeletePostImage(ctx, postID); err != nil {
		return fmt.Errorf("failed to remove image of post %d: %w", postID, err)
	}

	tx.OnCommit(func() {
		im.deleteBlob(context.WithoutCancel(ctx), postID, name)
	})

	return nil
}

// SaveAndAssociate stores data as the post's only image. The new blob is saved before the old
// association is touched; the old blob is deleted after tx commits.
func (im *ImageManager) SaveAndAssociate(ctx context.Context, tx Tx, data []byte, nameHint string, postID int64) (string, error) {
	name, err := im.SaveBlob(ctx, data, nameHint)
	if err != nil {
		return "", err
	}

	if err := im.RemoveAssociation(ctx, tx, postID); err != nil {
		return "", err
	}

	if err := im.CreateAssociation(ctx, tx, postID, name); err != nil {
		return "", err
	}

	im.logger.Debug("associated image",
		slog.Int64("post_id", postID),
		slog.String("blob", name))

	return name, nil
}

func (im *ImageManager) deleteBlob(ctx context.Context, postID int64, name string) {
	if err := im.blobs.Delete(ctx, name); err != nil {
		im.logger.Error("failed to delete image blob",
			slog.Int64("post_id", postID),
			slog.String("blob", name),
			slog.String("error", err.Error()))
	}
}

// blobExtension returns the lower-cased extension of the name hint, or "" if it has none
func blobExtension(nameHint string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(nameHint)))
	if ext == "." || strings.ContainsAny(ext, `/\ `) {
		return ""
	}
	return ext
}
