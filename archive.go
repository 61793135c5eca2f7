package blogcore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ArchiveImageDir is the directory inside an archive that holds the image blobs
const ArchiveImageDir = "images"

// ExportPost writes the post as a markdown document with frontmatter to dir and copies its image,
// if any, into dir/images. It returns the path of the written document.
func (b *Blog) ExportPost(ctx context.Context, id int64, dir string) (string, error) {
	var post *Post
	err := b.store.View(ctx, func(tx Tx) error {
		var err error
		post, err = tx.GetPost(ctx, id)
		if err != nil {
			return err
		}
		return b.annotate(ctx, tx, post)
	})
	if err != nil {
		return "", err
	}

	return b.writeArchivePost(ctx, post, dir)
}

// ExportAll writes every post to dir and returns the number of exported posts.
func (b *Blog) ExportAll(ctx context.Context, dir string) (int, error) {
	var posts []*Post
	err := b.store.View(ctx, func(tx Tx) error {
		total, err := tx.CountPosts(ctx, PostFilter{})
		if err != nil {
			return fmt.Errorf("failed to count posts: %w", err)
		}

		posts, err = tx.ListPosts(ctx, PostFilter{}, total, 0)
		if err != nil {
			return fmt.Errorf("failed to list posts: %w", err)
		}

		for _, post := range posts {
			if err := b.annotate(ctx, tx, post); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for i, post := range posts {
		if _, err := b.writeArchivePost(ctx, post, dir); err != nil {
			return i, err
		}
	}

	b.logger.Info("exported posts", slog.Int("count", len(posts)), slog.String("dir", dir))
	return len(posts), nil
}

func (b *Blog) writeArchivePost(ctx context.Context, post *Post, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	meta := &PostMeta{
		Title:   post.Title,
		Author:  post.AuthorID,
		Created: post.Created,
		Tags:    post.Tags,
		Image:   post.Image,
	}

	doc, err := FormatDocument(meta, post.Body, b.frontmatterFormat)
	if err != nil {
		return "", fmt.Errorf("failed to format post %d: %w", post.ID, err)
	}

	if post.HasImage() {
		data, err := b.blobs.Get(ctx, post.Image)
		if err != nil {
			return "", fmt.Errorf("failed to read image of post %d: %w", post.ID, err)
		}

		imageDir := filepath.Join(dir, ArchiveImageDir)
		if err := os.MkdirAll(imageDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}

		if err := os.WriteFile(filepath.Join(imageDir, post.Image), data, 0644); err != nil {
			return "", fmt.Errorf("failed to write image of post %d: %w", post.ID, err)
		}
	}

	path := filepath.Join(dir, ArchiveFileName(post))
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return path, nil
}

// ImportFile creates a new post from an archived markdown document. The post is attributed to who
// and keeps the creation time from the frontmatter. An image named in the frontmatter is read from
// the images directory next to the document.
func (b *Blog) ImportFile(ctx context.Context, who Identity, path string) (int64, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	meta, body, err := ParseDocument(src)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	in := PostInput{
		Title: meta.Title,
		Body:  body,
		Tags:  strings.Join(meta.Tags, " "),
	}

	if meta.Image != "" {
		if !ValidBlobName(meta.Image) {
			return 0, fmt.Errorf("%w: %s", ErrInvalidBlobName, meta.Image)
		}

		data, err := os.ReadFile(filepath.Join(filepath.Dir(path), ArchiveImageDir, meta.Image))
		if err != nil {
			return 0, fmt.Errorf("failed to read image of %s: %w", path, err)
		}
		in.Image = &ImageUpload{Name: meta.Image, Data: data}
	}

	created := meta.Created
	if created.IsZero() {
		created = b.now()
	}

	return b.create(ctx, "import", who, in, created.UTC())
}

// ImportDir imports every archived markdown document under dir, in file name order. Files that do
// not look like archive documents are skipped. It returns the ids of the created posts.
func (b *Blog) ImportDir(ctx context.Context, who Identity, dir string) ([]int64, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if d.Name() == ArchiveImageDir {
				return filepath.SkipDir
			}
			return nil
		}

		if _, ok := ArchiveFileID(path); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	slices.SortFunc(paths, func(a, b string) int {
		idA, _ := ArchiveFileID(a)
		idB, _ := ArchiveFileID(b)
		return cmp.Compare(idA, idB)
	})

	ids := make([]int64, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return ids, err
		}

		id, err := b.ImportFile(ctx, who, path)
		if errors.Is(err, ErrValidation) {
			b.logger.Warn("skipping invalid post", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}

	b.logger.Info("imported posts", slog.Int("count", len(ids)), slog.String("dir", dir))
	return ids, nil
}
