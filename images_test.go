package blogcore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/blogcore"
)

func TestImageManager_SaveBlob(t *testing.T) {
	ctx := context.Background()
	blobs := blogcore.NewMemoryBlobStore()
	im := blogcore.NewImageManager(blobs, nil)

	first, err := im.SaveBlob(ctx, []byte("a"), "Photo.PNG")
	require.NoError(t, err)
	second, err := im.SaveBlob(ctx, []byte("a"), "Photo.PNG")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "every upload gets a fresh name")
	assert.Regexp(t, `\.png$`, first)

	noExt, err := im.SaveBlob(ctx, []byte("a"), "upload")
	require.NoError(t, err)
	assert.NotContains(t, noExt, ".")

	data, err := blobs.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), data)
}

func TestImageManager_CreateAssociationRequiresBlob(t *testing.T) {
	ctx := context.Background()
	store := blogcore.NewMemoryStore()
	im := blogcore.NewImageManager(blogcore.NewMemoryBlobStore(), nil)
	postID := newTaggedPost(t, store)

	err := store.Update(ctx, func(tx blogcore.Tx) error {
		return im.CreateAssociation(ctx, tx, postID, "missing.png")
	})
	assert.ErrorIs(t, err, blogcore.ErrBlobNotFound)
	assert.ErrorIs(t, err, blogcore.ErrNotFound)

	require.NoError(t, store.View(ctx, func(tx blogcore.Tx) error {
		_, ok, err := im.ImageForPost(ctx, tx, postID)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func TestImageManager_AtMostOneImage(t *testing.T) {
	ctx := context.Background()
	store := blogcore.NewMemoryStore()
	blobs := blogcore.NewMemoryBlobStore()
	im := blogcore.NewImageManager(blobs, nil)
	postID := newTaggedPost(t, store)

	var first, second string
	require.NoError(t, store.Update(ctx, func(tx blogcore.Tx) error {
		var err error
		first, err = im.SaveAndAssociate(ctx, tx, []byte("one"), "one.jpg", postID)
		return err
	}))

	require.NoError(t, store.Update(ctx, func(tx blogcore.Tx) error {
		var err error
		second, err = im.SaveAndAssociate(ctx, tx, []byte("two"), "two.jpg", postID)
		if err != nil {
			return err
		}

		exists, err := blobs.Exists(ctx, first)
		require.NoError(t, err)
		assert.True(t, exists, "old blob survives until commit")
		return nil
	}))

	require.NoError(t, store.View(ctx, func(tx blogcore.Tx) error {
		name, ok, err := im.ImageForPost(ctx, tx, postID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, second, name)
		return nil
	}))

	names, err := blobs.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{second}, names, "replaced blob is deleted after commit")
}

func TestImageManager_RollbackKeepsOldImage(t *testing.T) {
	ctx := context.Background()
	store := blogcore.NewMemoryStore()
	blobs := blogcore.NewMemoryBlobStore()
	im := blogcore.NewImageManager(blobs, nil)
	postID := newTaggedPost(t, store)

	var first string
	require.NoError(t, store.Update(ctx, func(tx blogcore.Tx) error {
		var err error
		first, err = im.SaveAndAssociate(ctx, tx, []byte("one"), "one.jpg", postID)
		return err
	}))

	errBoom := errors.New("boom")
	err := store.Update(ctx, func(tx blogcore.Tx) error {
		if _, err := im.SaveAndAssociate(ctx, tx, []byte("two"), "two.jpg", postID); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	require.NoError(t, store.View(ctx, func(tx blogcore.Tx) error {
		name, ok, err := im.ImageForPost(ctx, tx, postID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, first, name)
		return nil
	}))

	exists, err := blobs.Exists(ctx, first)
	require.NoError(t, err)
	assert.True(t, exists, "rollback never deletes the associated blob")

	names, err := blobs.Names(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 2, "the new blob is left orphaned")
}

func TestImageManager_RemoveAssociation(t *testing.T) {
	ctx := context.Background()
	store := blogcore.NewMemoryStore()
	blobs := blogcore.NewMemoryBlobStore()
	im := blogcore.NewImageManager(blobs, nil)
	postID := newTaggedPost(t, store)

	require.NoError(t, store.Update(ctx, func(tx blogcore.Tx) error {
		return im.RemoveAssociation(ctx, tx, postID)
	}), "removing a missing image is a no-op")

	var name string
	require.NoError(t, store.Update(ctx, func(tx blogcore.Tx) error {
		var err error
		name, err = im.SaveAndAssociate(ctx, tx, []byte("img"), "a.gif", postID)
		return err
	}))

	require.NoError(t, store.Update(ctx, func(tx blogcore.Tx) error {
		return im.RemoveAssociation(ctx, tx, postID)
	}))

	exists, err := blobs.Exists(ctx, name)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.View(ctx, func(tx blogcore.Tx) error {
		_, ok, err := im.ImageForPost(ctx, tx, postID)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}
