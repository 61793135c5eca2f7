package blogcore_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/blogcore"
)

type namedBlobStore interface {
	blogcore.BlobStore
	Names(ctx context.Context) ([]string, error)
}

func blobStores(t *testing.T) map[string]namedBlobStore {
	t.Helper()

	fileStore, err := blogcore.NewFileBlobStore(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)

	return map[string]namedBlobStore{
		"File":   fileStore,
		"Memory": blogcore.NewMemoryBlobStore(),
	}
}

func TestBlobStore_PutGetExistsDelete(t *testing.T) {
	ctx := context.Background()

	for name, blobs := range blobStores(t) {
		t.Run(name, func(t *testing.T) {
			exists, err := blobs.Exists(ctx, "a.png")
			require.NoError(t, err)
			assert.False(t, exists)

			require.NoError(t, blobs.Put(ctx, "a.png", []byte("first")))
			require.NoError(t, blobs.Put(ctx, "a.png", []byte("second")))
			require.NoError(t, blobs.Put(ctx, "b.jpg", []byte("other")))

			exists, err = blobs.Exists(ctx, "a.png")
			require.NoError(t, err)
			assert.True(t, exists)

			data, err := blobs.Get(ctx, "a.png")
			require.NoError(t, err)
			assert.Equal(t, []byte("second"), data)

			names, err := blobs.Names(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a.png", "b.jpg"}, names)

			require.NoError(t, blobs.Delete(ctx, "a.png"))
			require.NoError(t, blobs.Delete(ctx, "a.png"), "deleting a missing blob is not an error")

			_, err = blobs.Get(ctx, "a.png")
			assert.ErrorIs(t, err, blogcore.ErrBlobNotFound)
			assert.ErrorIs(t, err, blogcore.ErrNotFound)
		})
	}
}

func TestBlobStore_InvalidNames(t *testing.T) {
	ctx := context.Background()

	for name, blobs := range blobStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, blobName := range []string{"", " ", ".", "..", "../escape.png", "dir/a.png", `dir\a.png`} {
				err := blobs.Put(ctx, blobName, []byte("x"))
				assert.ErrorIs(t, err, blogcore.ErrInvalidBlobName, "name %q", blobName)
				assert.ErrorIs(t, err, blogcore.ErrValidation, "name %q", blobName)
			}
		})
	}
}

func TestFileBlobStore_SkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	blobs, err := blogcore.NewFileBlobStore(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, blobs.Dir())

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".upload-123"), []byte("partial"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))
	require.NoError(t, blobs.Put(ctx, "kept.gif", []byte("gif")))

	names, err := blobs.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept.gif"}, names)

	data, err := os.ReadFile(filepath.Join(dir, "kept.gif"))
	require.NoError(t, err)
	assert.Equal(t, []byte("gif"), data)
}

func TestFileBlobStore_Concurrency(t *testing.T) {
	ctx := context.Background()

	blobs, err := blogcore.NewFileBlobStore(t.TempDir())
	require.NoError(t, err)

	concurrentOps := 50
	errChan := make(chan error, concurrentOps)

	for i := 0; i < concurrentOps; i++ {
		go func(i int) {
			name := fmt.Sprintf("concurrent-%d.png", i)
			want := fmt.Sprintf("image %d", i)

			if err := blobs.Put(ctx, name, []byte(want)); err != nil {
				errChan <- err
				return
			}

			got, err := blobs.Get(ctx, name)
			if err != nil {
				errChan <- err
				return
			}
			if string(got) != want {
				errChan <- fmt.Errorf("blob %s: got %q, want %q", name, got, want)
				return
			}

			errChan <- blobs.Delete(ctx, name)
		}(i)
	}

	for i := 0; i < concurrentOps; i++ {
		assert.NoError(t, <-errChan)
	}

	names, err := blobs.Names(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}
