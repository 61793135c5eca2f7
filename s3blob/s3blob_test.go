package s3blob_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/blogcore"
	"github.com/hypergopher/blogcore/s3blob"
)

// fakeS3 keeps objects in memory and answers like S3 does for missing keys
type fakeS3 struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.contentTypes[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := s3blob.NewWithClient(fake, "bucket", "uploads")

	exists, err := store.Exists(ctx, "a.png")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Put(ctx, "a.png", []byte("image")))
	assert.Contains(t, fake.objects, "uploads/a.png")
	assert.Equal(t, "image/png", fake.contentTypes["uploads/a.png"])

	exists, err = store.Exists(ctx, "a.png")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := store.Get(ctx, "a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("image"), data)

	require.NoError(t, store.Delete(ctx, "a.png"))
	require.NoError(t, store.Delete(ctx, "a.png"))

	_, err = store.Get(ctx, "a.png")
	assert.ErrorIs(t, err, blogcore.ErrBlobNotFound)
	assert.ErrorIs(t, err, blogcore.ErrNotFound)
}

func TestStore_InvalidName(t *testing.T) {
	store := s3blob.NewWithClient(newFakeS3(), "bucket", "")

	for _, name := range []string{"", "..", "a/b.png", `a\b.png`} {
		err := store.Put(context.Background(), name, []byte("x"))
		assert.ErrorIs(t, err, blogcore.ErrInvalidBlobName, name)
	}
}

func TestStore_WithImageManager(t *testing.T) {
	ctx := context.Background()
	store := s3blob.NewWithClient(newFakeS3(), "bucket", "")
	images := blogcore.NewImageManager(store, nil)
	memory := blogcore.NewMemoryStore()

	var postID int64
	require.NoError(t, memory.Update(ctx, func(tx blogcore.Tx) error {
		var err error
		postID, err = tx.CreatePost(ctx, &blogcore.Post{Title: "T"})
		if err != nil {
			return err
		}
		_, err = images.SaveAndAssociate(ctx, tx, []byte("img"), "photo.JPG", postID)
		return err
	}))

	require.NoError(t, memory.View(ctx, func(tx blogcore.Tx) error {
		name, ok, err := images.ImageForPost(ctx, tx, postID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Regexp(t, `^[0-9a-f-]{36}\.jpg$`, name)

		exists, err := store.Exists(ctx, name)
		require.NoError(t, err)
		assert.True(t, exists)
		return nil
	}))
}
