package blogcore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/blogcore"
	"github.com/hypergopher/blogcore/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) blogcore.Store {
		store := blogcore.NewMemoryStore()
		require.NoError(t, store.Init())
		t.Cleanup(func() {
			_ = store.Close()
		})
		return store
	})
}

func TestMemoryStore_ViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	store := blogcore.NewMemoryStore()

	err := store.View(ctx, func(tx blogcore.Tx) error {
		_, err := tx.CreatePost(ctx, &blogcore.Post{Title: "nope"})
		return err
	})
	assert.ErrorIs(t, err, blogcore.ErrReadOnlyTx)

	require.NoError(t, store.View(ctx, func(tx blogcore.Tx) error {
		count, err := tx.CountPosts(ctx, blogcore.PostFilter{})
		require.NoError(t, err)
		assert.Zero(t, count)
		return nil
	}))
}

func TestMemoryStore_UpdateDoesNotLeakIntoReturnedPosts(t *testing.T) {
	ctx := context.Background()
	store := blogcore.NewMemoryStore()

	var id int64
	require.NoError(t, store.Update(ctx, func(tx blogcore.Tx) error {
		var err error
		id, err = tx.CreatePost(ctx, &blogcore.Post{Title: "original"})
		return err
	}))

	var post *blogcore.Post
	require.NoError(t, store.View(ctx, func(tx blogcore.Tx) error {
		var err error
		post, err = tx.GetPost(ctx, id)
		return err
	}))
	post.Title = "mutated"

	require.NoError(t, store.View(ctx, func(tx blogcore.Tx) error {
		stored, err := tx.GetPost(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "original", stored.Title)
		return nil
	}))
}
