// Package storetest holds the behavior every blogcore.Store implementation has to share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/blogcore"
)

// NewStoreFunc returns a fresh, initialized, empty store. The store is closed by the caller's cleanup.
type NewStoreFunc func(t *testing.T) blogcore.Store

// Run runs the store contract tests against the stores returned by newStore.
func Run(t *testing.T, newStore NewStoreFunc) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store blogcore.Store)
	}{
		{"PostCRUD", testPostCRUD},
		{"ListPosts", testListPosts},
		{"TitleFilter", testTitleFilter},
		{"TagFilter", testTagFilter},
		{"Tags", testTags},
		{"Images", testImages},
		{"Comments", testComments},
		{"Likes", testLikes},
		{"Rollback", testRollback},
		{"OnCommit", testOnCommit},
		{"PanicRollsBack", testPanicRollsBack},
		{"ViewRejectsWrites", testViewRejectsWrites},
		{"CanceledContext", testCanceledContext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var created = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

func createPost(t *testing.T, store blogcore.Store, title string) int64 {
	t.Helper()
	ctx := context.Background()

	var id int64
	require.NoError(t, store.Update(ctx, func(tx blogcore.Tx) error {
		var err error
		id, err = tx.CreatePost(ctx, &blogcore.Post{
			Title:    title,
			Body:     "body of " + title,
			BodyHTML: "<p>body of " + title + "</p>\n",
			AuthorID: 1,
			Created:  created,
		})
		return err
	}))
	return id
}

func view(t *testing.T, store blogcore.Store, fn func(ctx context.Context, tx blogcore.Tx)) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.View(ctx, func(tx blogcore.Tx) error {
		fn(ctx, tx)
		return nil
	}))
}

func update(t *testing.T, store blogcore.Store, fn func(ctx context.Context, tx blogcore.Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Update(ctx, func(tx blogcore.Tx) error {
		return fn(ctx, tx)
	}))
}

func testPostCRUD(t *testing.T, store blogcore.Store) {
	id := createPost(t, store, "First")
	assert.Positive(t, id)

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		post, err := tx.GetPost(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, post.ID)
		assert.Equal(t, "First", post.Title)
		assert.Equal(t, "body of First", post.Body)
		assert.Equal(t, "<p>body of First</p>\n", post.BodyHTML)
		assert.Equal(t, int64(1), post.AuthorID)
		assert.True(t, created.Equal(post.Created), "created %s", post.Created)

		_, err = tx.GetPost(ctx, id+100)
		assert.ErrorIs(t, err, blogcore.ErrNotFound)
	})

	update(t, store, func(ctx context.Context, tx blogcore.Tx) error {
		return tx.UpdatePost(ctx, &blogcore.Post{ID: id, Title: "Renamed", Body: "new", BodyHTML: "<p>new</p>\n"})
	})

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		post, err := tx.GetPost(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", post.Title)
		assert.Equal(t, "new", post.Body)
		assert.Equal(t, int64(1), post.AuthorID, "author is not changed by an update")
	})

	err := store.Update(context.Background(), func(tx blogcore.Tx) error {
		return tx.UpdatePost(context.Background(), &blogcore.Post{ID: id + 100, Title: "x"})
	})
	assert.ErrorIs(t, err, blogcore.ErrNotFound)

	update(t, store, func(ctx context.Context, tx blogcore.Tx) error {
		return tx.DeletePost(ctx, id)
	})

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		_, err := tx.GetPost(ctx, id)
		assert.ErrorIs(t, err, blogcore.ErrNotFound)
	})
}

func testListPosts(t *testing.T, store blogcore.Store) {
	var ids []int64
	for _, title := range []string{"one", "two", "three", "four", "five"} {
		ids = append(ids, createPost(t, store, title))
	}

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		total, err := tx.CountPosts(ctx, blogcore.PostFilter{})
		require.NoError(t, err)
		assert.Equal(t, 5, total)

		posts, err := tx.ListPosts(ctx, blogcore.PostFilter{}, 2, 0)
		require.NoError(t, err)
		require.Len(t, posts, 2)
		assert.Equal(t, ids[4], posts[0].ID, "newest first")
		assert.Equal(t, ids[3], posts[1].ID)

		posts, err = tx.ListPosts(ctx, blogcore.PostFilter{}, 2, 4)
		require.NoError(t, err)
		require.Len(t, posts, 1)
		assert.Equal(t, ids[0], posts[0].ID)

		posts, err = tx.ListPosts(ctx, blogcore.PostFilter{}, 2, 10)
		require.NoError(t, err)
		assert.Empty(t, posts)
	})
}

func testTitleFilter(t *testing.T, store blogcore.Store) {
	createPost(t, store, "Hello World")
	createPost(t, store, "Another post")
	createPost(t, store, "HELLO again")
	createPost(t, store, "100% done")
	createPost(t, store, "snake_case")

	tests := []struct {
		query    string
		expected []string
	}{
		{"hello", []string{"HELLO again", "Hello World"}},
		{"WORLD", []string{"Hello World"}},
		{"o w", []string{"Hello World"}},
		{"%", []string{"100% done"}},
		{"_", []string{"snake_case"}},
		{"*", nil},
		{"missing", nil},
	}

	for _, tt := range tests {
		view(t, store, func(ctx context.Context, tx blogcore.Tx) {
			filter := blogcore.PostFilter{TitleContains: tt.query}

			total, err := tx.CountPosts(ctx, filter)
			require.NoError(t, err)
			assert.Equal(t, len(tt.expected), total, "query %q", tt.query)

			posts, err := tx.ListPosts(ctx, filter, 10, 0)
			require.NoError(t, err)

			var titles []string
			for _, post := range posts {
				titles = append(titles, post.Title)
			}
			assert.Equal(t, tt.expected, titles, "query %q", tt.query)
		})
	}
}

func testTagFilter(t *testing.T, store blogcore.Store) {
	first := createPost(t, store, "go post")
	second := createPost(t, store, "rust post")
	third := createPost(t, store, "go again")

	update(t, store, func(ctx context.Context, tx blogcore.Tx) error {
		goID, err := tx.EnsureTag(ctx, "go")
		if err != nil {
			return err
		}
		rustID, err := tx.EnsureTag(ctx, "rust")
		if err != nil {
			return err
		}
		for _, pair := range [][2]int64{{first, goID}, {second, rustID}, {third, goID}} {
			if err := tx.AddPostTag(ctx, pair[0], pair[1]); err != nil {
				return err
			}
		}
		return nil
	})

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		filter := blogcore.PostFilter{Tag: "go"}
		total, err := tx.CountPosts(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, 2, total)

		posts, err := tx.ListPosts(ctx, filter, 10, 0)
		require.NoError(t, err)
		require.Len(t, posts, 2)
		assert.Equal(t, third, posts[0].ID)
		assert.Equal(t, first, posts[1].ID)

		total, err = tx.CountPosts(ctx, blogcore.PostFilter{Tag: "go", TitleContains: "AGAIN"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)

		total, err = tx.CountPosts(ctx, blogcore.PostFilter{Tag: "unknown"})
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}

func testTags(t *testing.T, store blogcore.Store) {
	postID := createPost(t, store, "tagged")

	var a, b int64
	update(t, store, func(ctx context.Context, tx blogcore.Tx) error {
		var err error
		if b, err = tx.EnsureTag(ctx, "b"); err != nil {
			return err
		}
		if a, err = tx.EnsureTag(ctx, "a"); err != nil {
			return err
		}

		again, err := tx.EnsureTag(ctx, "a")
		if err != nil {
			return err
		}
		assert.Equal(t, a, again, "EnsureTag is idempotent")

		if err := tx.AddPostTag(ctx, postID, a); err != nil {
			return err
		}
		if err := tx.AddPostTag(ctx, postID, a); err != nil {
			return err
		}
		return tx.AddPostTag(ctx, postID, b)
	})

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		names, err := tx.PostTagNames(ctx, postID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, names)

		id, err := tx.TagID(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, b, id)

		_, err = tx.TagID(ctx, "zzz")
		assert.ErrorIs(t, err, blogcore.ErrNotFound)

		tags, err := tx.ListTags(ctx)
		require.NoError(t, err)
		assert.Equal(t, []blogcore.Tag{{ID: a, Name: "a"}, {ID: b, Name: "b"}}, tags)
	})

	update(t, store, func(ctx context.Context, tx blogcore.Tx) error {
		if err := tx.RemovePostTag(ctx, postID, b); err != nil {
			return err
		}
		return tx.RemovePostTag(ctx, postID, b)
	})

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		names, err := tx.PostTagNames(ctx, postID)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, names)
	})

	update(t, store, func(ctx context.Context, tx blogcore.Tx) error {
		return tx.RemovePostTags(ctx, postID)
	})

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		names, err := tx.PostTagNames(ctx, postID)
		require.NoError(t, err)
		assert.Empty(t, names)

		tags, err := tx.ListTags(ctx)
		require.NoError(t, err)
		assert.Len(t, tags, 2, "tags outlive their associations")
	})
}

func testImages(t *testing.T, store blogcore.Store) {
	postID := createPost(t, store, "with image")

	update(t, store, func(ctx context.Context, tx blogcore.Tx) error {
		return tx.CreatePostImage(ctx, postID, "first.png")
	})

	err := store.Update(context.Background(), func(tx blogcore.Tx) error {
		return tx.CreatePostImage(context.Background(), postID, "second.png")
	})
	assert.ErrorIs(t, err, blogcore.ErrConflict)

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		name, err := tx.PostImage(ctx, postID)
		require.NoError(t, err)
		assert.Equal(t, "first.png", name)
	})

	update(t, store, func(ctx context.Context, tx blogcore.Tx) error {
		if err := tx.DeletePostImage(ctx, postID); err != nil {
			return err
		}
		return tx.DeletePostImage(ctx, postID)
	})

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		_, err := tx.PostImage(ctx, postID)
		assert.ErrorIs(t, err, blogcore.ErrNotFound)
	})
}

func testComments(t *testing.T, store blogcore.Store) {
	postID := createPost(t, store, "discussed")
	otherID := createPost(t, store, "quiet")

	update(t, store, func(ctx context.Context, tx blogcore.Tx) error {
		for i, body := range []string{"first", "second"} {
			id, err := tx.CreateComment(ctx, &blogcore.Comment{
				PostID:   postID,
				AuthorID: int64(i + 1),
				Body:     body,
				Created:  created.Add(time.Duration(i) * time.Minute),
			})
			if err != nil {
				return err
			}
			assert.Positive(t, id)
		}
		return nil
	})

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		comments, err := tx.PostComments(ctx, postID)
		require.NoError(t, err)
		require.Len(t, comments, 2)
		assert.Equal(t, "first", comments[0].Body)
		assert.Equal(t, int64(1), comments[0].AuthorID)
		assert.Equal(t, "second", comments[1].Body)
		assert.Equal(t, postID, comments[1].PostID)
		assert.True(t, created.Add(time.Minute).Equal(comments[1].Created))

		comments, err = tx.PostComments(ctx, otherID)
		require.NoError(t, err)
		assert.Empty(t, comments)
	})

	update(t, store, func(ctx context.Context, tx blogcore.Tx) error {
		return tx.DeletePostComments(ctx, postID)
	})

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		comments, err := tx.PostComments(ctx, postID)
		require.NoError(t, err)
		assert.Empty(t, comments)
	})
}

func testLikes(t *testing.T, store blogcore.Store) {
	postID := createPost(t, store, "liked")

	update(t, store, func(ctx context.Context, tx blogcore.Tx) error {
		for _, user := range []int64{7, 3} {
			if err := tx.CreateLike(ctx, postID, user); err != nil {
				return err
			}
		}
		return nil
	})

	err := store.Update(context.Background(), func(tx blogcore.Tx) error {
		return tx.CreateLike(context.Background(), postID, 7)
	})
	assert.ErrorIs(t, err, blogcore.ErrConflict)

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		likers, err := tx.PostLikers(ctx, postID)
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 7}, likers)
	})

	update(t, store, func(ctx context.Context, tx blogcore.Tx) error {
		if err := tx.DeleteLike(ctx, postID, 3); err != nil {
			return err
		}
		return tx.DeleteLike(ctx, postID, 99)
	})

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		likers, err := tx.PostLikers(ctx, postID)
		require.NoError(t, err)
		assert.Equal(t, []int64{7}, likers)
	})

	update(t, store, func(ctx context.Context, tx blogcore.Tx) error {
		return tx.DeletePostLikes(ctx, postID)
	})

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		likers, err := tx.PostLikers(ctx, postID)
		require.NoError(t, err)
		assert.Empty(t, likers)
	})
}

func testRollback(t *testing.T, store blogcore.Store) {
	ctx := context.Background()
	errBoom := errors.New("boom")
	hookRan := false

	err := store.Update(ctx, func(tx blogcore.Tx) error {
		id, err := tx.CreatePost(ctx, &blogcore.Post{Title: "doomed", Created: created})
		if err != nil {
			return err
		}
		tagID, err := tx.EnsureTag(ctx, "doomed")
		if err != nil {
			return err
		}
		if err := tx.AddPostTag(ctx, id, tagID); err != nil {
			return err
		}
		tx.OnCommit(func() { hookRan = true })
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, hookRan, "commit hooks never run on rollback")

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		total, err := tx.CountPosts(ctx, blogcore.PostFilter{})
		require.NoError(t, err)
		assert.Zero(t, total)

		_, err = tx.TagID(ctx, "doomed")
		assert.ErrorIs(t, err, blogcore.ErrNotFound)

		total, err = tx.CountPosts(ctx, blogcore.PostFilter{TitleContains: "doomed"})
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}

func testOnCommit(t *testing.T, store blogcore.Store) {
	ctx := context.Background()
	var order []string

	err := store.Update(ctx, func(tx blogcore.Tx) error {
		tx.OnCommit(func() { order = append(order, "first") })
		tx.OnCommit(func() { order = append(order, "second") })
		order = append(order, "body")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"body", "first", "second"}, order)
}

func testPanicRollsBack(t *testing.T, store blogcore.Store) {
	ctx := context.Background()
	hookRan := false

	assert.PanicsWithValue(t, "boom", func() {
		_ = store.Update(ctx, func(tx blogcore.Tx) error {
			if _, err := tx.CreatePost(ctx, &blogcore.Post{Title: "panicked", Created: created}); err != nil {
				return err
			}
			tx.OnCommit(func() { hookRan = true })
			panic("boom")
		})
	})
	assert.False(t, hookRan, "commit hooks never run after a panic")

	done := make(chan error, 1)
	go func() {
		done <- store.View(ctx, func(tx blogcore.Tx) error {
			total, err := tx.CountPosts(ctx, blogcore.PostFilter{})
			if err != nil {
				return err
			}
			if total != 0 {
				return fmt.Errorf("panicking update kept %d posts", total)
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("View blocked after a panicking Update")
	}

	id := createPost(t, store, "after the panic")
	assert.Positive(t, id)
}

func testViewRejectsWrites(t *testing.T, store blogcore.Store) {
	ctx := context.Background()
	postID := createPost(t, store, "read only")

	writes := []struct {
		name string
		fn   func(tx blogcore.Tx) error
	}{
		{"CreatePost", func(tx blogcore.Tx) error {
			_, err := tx.CreatePost(ctx, &blogcore.Post{Title: "sneaky", Created: created})
			return err
		}},
		{"UpdatePost", func(tx blogcore.Tx) error {
			return tx.UpdatePost(ctx, &blogcore.Post{ID: postID, Title: "changed"})
		}},
		{"DeletePost", func(tx blogcore.Tx) error {
			return tx.DeletePost(ctx, postID)
		}},
		{"EnsureTag", func(tx blogcore.Tx) error {
			_, err := tx.EnsureTag(ctx, "sneaky")
			return err
		}},
		{"CreatePostImage", func(tx blogcore.Tx) error {
			return tx.CreatePostImage(ctx, postID, "sneaky.png")
		}},
		{"CreateComment", func(tx blogcore.Tx) error {
			_, err := tx.CreateComment(ctx, &blogcore.Comment{PostID: postID, AuthorID: 1, Body: "sneaky", Created: created})
			return err
		}},
		{"CreateLike", func(tx blogcore.Tx) error {
			return tx.CreateLike(ctx, postID, 1)
		}},
	}

	for _, w := range writes {
		err := store.View(ctx, w.fn)
		assert.ErrorIs(t, err, blogcore.ErrReadOnlyTx, w.name)
	}

	view(t, store, func(ctx context.Context, tx blogcore.Tx) {
		post, err := tx.GetPost(ctx, postID)
		require.NoError(t, err)
		assert.Equal(t, "read only", post.Title)

		total, err := tx.CountPosts(ctx, blogcore.PostFilter{})
		require.NoError(t, err)
		assert.Equal(t, 1, total)

		tags, err := tx.ListTags(ctx)
		require.NoError(t, err)
		assert.Empty(t, tags)

		_, err = tx.PostImage(ctx, postID)
		assert.ErrorIs(t, err, blogcore.ErrNotFound)

		comments, err := tx.PostComments(ctx, postID)
		require.NoError(t, err)
		assert.Empty(t, comments)

		likers, err := tx.PostLikers(ctx, postID)
		require.NoError(t, err)
		assert.Empty(t, likers)
	})
}

func testCanceledContext(t *testing.T, store blogcore.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.Update(ctx, func(tx blogcore.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	err = store.View(ctx, func(tx blogcore.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called, "nothing runs once the context is done")
}
