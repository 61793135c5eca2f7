package bboltstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/blogcore"
	"github.com/hypergopher/blogcore/bboltstore"
	"github.com/hypergopher/blogcore/storetest"
)

func setupTestEnvironment(t *testing.T, dataDir string) *bboltstore.BBoltStore {
	t.Helper()

	store := bboltstore.New(dataDir, nil)
	require.NoError(t, store.Init(), "Failed to init store")

	return store
}

func TestBBoltStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) blogcore.Store {
		store := setupTestEnvironment(t, t.TempDir())
		t.Cleanup(func() {
			assert.NoError(t, store.Close())
		})
		return store
	})
}

func TestBBoltStore_TitleIndexSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	store := setupTestEnvironment(t, dataDir)
	require.NoError(t, store.Update(ctx, func(tx blogcore.Tx) error {
		for _, title := range []string{"Learning Go", "Cooking pasta", "Go concurrency"} {
			if _, err := tx.CreatePost(ctx, &blogcore.Post{Title: title}); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, store.Close())

	store = setupTestEnvironment(t, dataDir)
	defer store.Close()

	require.NoError(t, store.View(ctx, func(tx blogcore.Tx) error {
		posts, err := tx.ListPosts(ctx, blogcore.PostFilter{TitleContains: "go"}, 10, 0)
		require.NoError(t, err)
		require.Len(t, posts, 2)
		assert.Equal(t, "Go concurrency", posts[0].Title)
		assert.Equal(t, "Learning Go", posts[1].Title)
		return nil
	}))
}

func TestBBoltStore_Reindex(t *testing.T) {
	ctx := context.Background()
	store := setupTestEnvironment(t, t.TempDir())
	defer store.Close()

	require.NoError(t, store.Update(ctx, func(tx blogcore.Tx) error {
		_, err := tx.CreatePost(ctx, &blogcore.Post{Title: "Indexed title"})
		return err
	}))

	require.NoError(t, store.Reindex())

	require.NoError(t, store.View(ctx, func(tx blogcore.Tx) error {
		total, err := tx.CountPosts(ctx, blogcore.PostFilter{TitleContains: "INDEXED"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		return nil
	}))
}

func TestBBoltStore_SearchInsideWriteTransaction(t *testing.T) {
	ctx := context.Background()
	store := setupTestEnvironment(t, t.TempDir())
	defer store.Close()

	require.NoError(t, store.Update(ctx, func(tx blogcore.Tx) error {
		if _, err := tx.CreatePost(ctx, &blogcore.Post{Title: "Fresh post"}); err != nil {
			return err
		}

		total, err := tx.CountPosts(ctx, blogcore.PostFilter{TitleContains: "fresh"})
		require.NoError(t, err)
		assert.Equal(t, 1, total, "uncommitted titles are found by scanning")
		return nil
	}))
}
