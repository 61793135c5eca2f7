package blogcore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// TagReconciler keeps the set of tags associated with a post in line with the tag input.
// Every method works inside the transaction it is given. Tags are never deleted, even when no
// post references them anymore.
type TagReconciler struct {
	logger *slog.Logger
}

func NewTagReconciler(logger *slog.Logger) *TagReconciler {
	if logger == nil {
		logger = defaultLogger()
	}
	return &TagReconciler{logger: logger}
}

// GetOrCreateTag returns the id of the named tag, creating it if needed. The name is trimmed first;
// an empty name creates nothing and returns false.
func (tr *TagReconciler) GetOrCreateTag(ctx context.Context, tx Tx, name string) (int64, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, false, nil
	}

	id, err := tx.EnsureTag(ctx, name)
	if err != nil {
		return 0, false, fmt.Errorf("failed to ensure tag %q: %w", name, err)
	}

	return id, true, nil
}

// GetOrCreateTagsFromString returns the ids of the whitespace separated tags in text, in input order.
// Repeated names are not collapsed but resolve to the same id.
func (tr *TagReconciler) GetOrCreateTagsFromString(ctx context.Context, tx Tx, text string) ([]int64, error) {
	names := SplitTags(text)
	ids := make([]int64, 0, len(names))

	for _, name := range names {
		id, ok, err := tr.GetOrCreateTag(ctx, tx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

// TagsForPost returns the names of the tags associated with the post, sorted.
func (tr *TagReconciler) TagsForPost(ctx context.Context, tx Tx, postID int64) ([]string, error) {
	names, err := tx.PostTagNames(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tags for post %d: %w", postID, err)
	}
	slices.Sort(names)
	return names, nil
}

// Associate links the tag to the post. Linking twice is a no-op.
func (tr *TagReconciler) Associate(ctx context.Context, tx Tx, tagID, postID int64) error {
	if err := tx.AddPostTag(ctx, postID, tagID); err != nil {
		return fmt.Errorf("failed to associate tag %d with post %d: %w", tagID, postID, err)
	}
	return nil
}

// Disassociate unlinks the tag from the post. Unlinking a missing pair is a no-op.
func (tr *TagReconciler) Disassociate(ctx context.Context, tx Tx, tagID, postID int64) error {
	if err := tx.RemovePostTag(ctx, postID, tagID); err != nil {
		return fmt.Errorf("failed to disassociate tag %d from post %d: %w", tagID, postID, err)
	}
	return nil
}

// RemoveAll unlinks every tag from the post.
func (tr *TagReconciler) RemoveAll(ctx context.Context, tx Tx, postID int64) error {
	if err := tx.RemovePostTags(ctx, postID); err != nil {
		return fmt.Errorf("failed to remove tags of post %d: %w", postID, err)
	}
	return nil
}

// Reconcile makes the post's tag set equal to the tags named in tagString, adding and removing only
// the difference. An empty string removes every tag from the post.
func (tr *TagReconciler) Reconcile(ctx context.Context, tx Tx, tagString string, postID int64) error {
	current, err := tr.TagsForPost(ctx, tx, postID)
	if err != nil {
		return err
	}

	toAdd, toRemove := diffTags(current, SplitTags(tagString))

	for _, name := range toAdd {
		id, ok, err := tr.GetOrCreateTag(ctx, tx, name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := tr.Associate(ctx, tx, id, postID); err != nil {
			return err
		}
	}

	for _, name := range toRemove {
		id, err := tx.TagID(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to resolve tag %q: %w", name, err)
		}
		if err := tr.Disassociate(ctx, tx, id, postID); err != nil {
			return err
		}
	}

	if len(toAdd) > 0 || len(toRemove) > 0 {
		tr.logger.Debug("reconciled post tags",
			slog.Int64("post_id", postID),
			slog.Any("added", toAdd),
			slog.Any("removed", toRemove))
	}

	return nil
}

// SplitTags splits a tag input on whitespace, dropping empty tokens.
func SplitTags(text string) []string {
	return strings.Fields(text)
}

// tagSet is a set of tag names
type tagSet map[string]struct{}

func newTagSet(names []string) tagSet {
	set := make(tagSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// minus returns the sorted names in s that are not in other
func (s tagSet) minus(other tagSet) []string {
	var out []string
	for name := range s {
		if _, ok := other[name]; !ok {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// diffTags returns the names to add (desired - current) and to remove (current - desired).
func diffTags(current, desired []string) (toAdd, toRemove []string) {
	cur := newTagSet(current)
	want := newTagSet(desired)
	return want.minus(cur), cur.minus(want)
}
