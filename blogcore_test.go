package blogcore_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/blogcore"
)

var (
	alice = blogcore.Identity{UserID: 1}
	bob   = blogcore.Identity{UserID: 2}
)

type testBlog struct {
	*blogcore.Blog
	store blogcore.Store
	blobs *blogcore.MemoryBlobStore
}

func newTestBlog(t *testing.T) *testBlog {
	t.Helper()
	return newTestBlogWith(t, blogcore.NewMemoryStore(), blogcore.NewMemoryBlobStore())
}

func newTestBlogWith(t *testing.T, store blogcore.Store, blobs *blogcore.MemoryBlobStore) *testBlog {
	t.Helper()

	blog, err := blogcore.New(blogcore.Options{
		Store:  store,
		Blobs:  blobs,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = blog.Close()
	})

	return &testBlog{Blog: blog, store: store, blobs: blobs}
}

func (tb *testBlog) mustCreate(t *testing.T, who blogcore.Identity, in blogcore.PostInput) int64 {
	t.Helper()
	id, err := tb.Create(context.Background(), who, in)
	require.NoError(t, err)
	return id
}

func TestNew_RequiresStores(t *testing.T) {
	_, err := blogcore.New(blogcore.Options{Store: blogcore.NewMemoryStore()})
	assert.Error(t, err)

	_, err = blogcore.New(blogcore.Options{Blobs: blogcore.NewMemoryBlobStore()})
	assert.Error(t, err)

	blog, err := blogcore.New(blogcore.Options{Store: blogcore.NewMemoryStore(), Blobs: blogcore.NewMemoryBlobStore()})
	require.NoError(t, err)
	assert.Equal(t, blogcore.DefaultPageSize, blog.PageSize())
}

func TestBlog_CreateAndUpdateScenario(t *testing.T) {
	ctx := context.Background()
	tb := newTestBlog(t)

	id := tb.mustCreate(t, alice, blogcore.PostInput{Title: "T", Body: "## H", Tags: "x y"})

	detail, err := tb.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "T", detail.Post.Title)
	assert.Equal(t, "## H", detail.Post.Body)
	assert.Equal(t, "<h2>H</h2>\n", detail.Post.BodyHTML)
	assert.Equal(t, alice.UserID, detail.Post.AuthorID)
	assert.Equal(t, []string{"x", "y"}, detail.Post.Tags)
	assert.False(t, detail.Post.Created.IsZero())

	require.NoError(t, tb.Update(ctx, alice, id, blogcore.PostInput{Title: "T2", Body: "## H", Tags: "y"}))

	detail, err = tb.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "T2", detail.Post.Title)
	assert.Equal(t, []string{"y"}, detail.Post.Tags)

	tags, err := tb.Tags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 2, "x stays in the catalog")
	assert.Equal(t, "x", tags[0].Name)
	assert.Equal(t, "y", tags[1].Name)
}

func TestBlog_CreateTrimsAndValidatesTitle(t *testing.T) {
	ctx := context.Background()
	tb := newTestBlog(t)

	for _, title := range []string{"", "   ", "\t\n"} {
		_, err := tb.Create(ctx, alice, blogcore.PostInput{Title: title, Body: "body", Tags: "a"})
		assert.ErrorIs(t, err, blogcore.ErrTitleRequired)
		assert.ErrorIs(t, err, blogcore.ErrValidation)
	}

	posts, p, err := tb.List(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.Zero(t, p.TotalItems)

	tags, err := tb.Tags(ctx)
	require.NoError(t, err)
	assert.Empty(t, tags, "a rejected post creates no tags")

	id := tb.mustCreate(t, alice, blogcore.PostInput{Title: "  padded  "})
	detail, err := tb.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "padded", detail.Post.Title)
}

func TestBlog_RendersEscapedMarkdown(t *testing.T) {
	ctx := context.Background()
	tb := newTestBlog(t)

	id := tb.mustCreate(t, alice, blogcore.PostInput{Title: "x", Body: "<script>alert(1)</script>\n\n**bold**"})

	detail, err := tb.Get(ctx, id)
	require.NoError(t, err)
	assert.NotContains(t, detail.Post.BodyHTML, "<script>")
	assert.Contains(t, detail.Post.BodyHTML, "&lt;script&gt;")
	assert.Contains(t, detail.Post.BodyHTML, "<strong>bold</strong>")
}

func TestBlog_UpdateChecks(t *testing.T) {
	ctx := context.Background()
	tb := newTestBlog(t)
	id := tb.mustCreate(t, alice, blogcore.PostInput{Title: "mine", Tags: "keep"})

	tests := []struct {
		name    string
		who     blogcore.Identity
		id      int64
		title   string
		wantErr error
	}{
		{"missing post wins over validation", alice, id + 10, "", blogcore.ErrNotFound},
		{"other author wins over validation", bob, id, "", blogcore.ErrForbidden},
		{"other author", bob, id, "stolen", blogcore.ErrNotAuthor},
		{"blank title", alice, id, " ", blogcore.ErrTitleRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tb.Update(ctx, tt.who, tt.id, blogcore.PostInput{Title: tt.title, Tags: "other"})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	detail, err := tb.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "mine", detail.Post.Title)
	assert.Equal(t, []string{"keep"}, detail.Post.Tags, "failed updates change nothing")
}

func TestBlog_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	tb := newTestBlog(t)

	id := tb.mustCreate(t, alice, blogcore.PostInput{
		Title: "doomed",
		Tags:  "a b",
		Image: &blogcore.ImageUpload{Name: "pic.png", Data: []byte("png")},
	})
	other := tb.mustCreate(t, bob, blogcore.PostInput{Title: "survivor", Tags: "a"})

	_, err := tb.AddComment(ctx, bob, id, "nice")
	require.NoError(t, err)
	require.NoError(t, tb.Like(ctx, bob, id))

	image, ok, err := tb.ImageForPost(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, tb.Delete(ctx, bob, id), blogcore.ErrForbidden)
	assert.ErrorIs(t, tb.Delete(ctx, alice, id+100), blogcore.ErrNotFound)

	require.NoError(t, tb.Delete(ctx, alice, id))

	_, err = tb.Get(ctx, id)
	assert.ErrorIs(t, err, blogcore.ErrNotFound)

	exists, err := tb.blobs.Exists(ctx, image)
	require.NoError(t, err)
	assert.False(t, exists, "image blob is deleted")

	names, err := tb.TagsForPost(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, names)

	_, ok, err = tb.ImageForPost(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tb.store.View(ctx, func(tx blogcore.Tx) error {
		comments, err := tx.PostComments(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, comments)

		likers, err := tx.PostLikers(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, likers)
		return nil
	}))

	tags, err := tb.Tags(ctx)
	require.NoError(t, err)
	assert.Len(t, tags, 2, "deleting a post keeps the tag catalog")

	posts, _, err := tb.ListByTag(ctx, "a", 1, 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, other, posts[0].ID)
}

func TestBlog_ListPagination(t *testing.T) {
	ctx := context.Background()
	tb := newTestBlog(t)

	var ids []int64
	for i := 0; i < 12; i++ {
		ids = append(ids, tb.mustCreate(t, alice, blogcore.PostInput{Title: "post", Tags: "all"}))
	}

	posts, p, err := tb.List(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, posts, blogcore.DefaultPageSize)
	assert.Equal(t, ids[11], posts[0].ID, "newest first")
	assert.Equal(t, []string{"all"}, posts[0].Tags, "listings are annotated")
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 12, p.TotalItems)
	assert.True(t, p.HasNext)

	posts, p, err = tb.List(ctx, 3, 5)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, ids[1], posts[0].ID)
	assert.Equal(t, ids[0], posts[1].ID)
	assert.True(t, p.IsLast)

	posts, p, err = tb.List(ctx, 4, 5)
	require.NoError(t, err)
	assert.Empty(t, posts, "a page past the end is empty")
	assert.Equal(t, 4, p.CurrentPage)
	assert.Equal(t, 3, p.TotalPages)

	posts, p, err = tb.List(ctx, -1, 5)
	require.NoError(t, err)
	assert.Len(t, posts, 5)
	assert.Equal(t, 1, p.CurrentPage, "pages below 1 read as the first page")
}

func TestBlog_Search(t *testing.T) {
	ctx := context.Background()
	tb := newTestBlog(t)

	tb.mustCreate(t, alice, blogcore.PostInput{Title: "Hello World"})
	tb.mustCreate(t, alice, blogcore.PostInput{Title: "Goodbye"})
	tb.mustCreate(t, alice, blogcore.PostInput{Title: "say HELLO"})

	posts, p, err := tb.Search(ctx, "hello", 1, 10)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "say HELLO", posts[0].Title)
	assert.Equal(t, "Hello World", posts[1].Title)
	assert.Equal(t, 2, p.TotalItems)

	posts, _, err = tb.Search(ctx, "nothing", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestBlog_ListByTag(t *testing.T) {
	ctx := context.Background()
	tb := newTestBlog(t)

	first := tb.mustCreate(t, alice, blogcore.PostInput{Title: "one", Tags: "go"})
	tb.mustCreate(t, alice, blogcore.PostInput{Title: "two", Tags: "rust"})

	posts, p, err := tb.ListByTag(ctx, " go ", 1, 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, first, posts[0].ID)
	assert.Equal(t, 1, p.TotalItems)

	_, _, err = tb.ListByTag(ctx, "  ", 1, 10)
	assert.ErrorIs(t, err, blogcore.ErrValidation)
}

func TestBlog_ImageLifecycle(t *testing.T) {
	ctx := context.Background()
	tb := newTestBlog(t)

	id := tb.mustCreate(t, alice, blogcore.PostInput{
		Title: "pics",
		Image: &blogcore.ImageUpload{Name: "a.png", Data: []byte("a")},
	})

	first, ok, err := tb.ImageForPost(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, tb.Update(ctx, alice, id, blogcore.PostInput{Title: "pics"}))
	kept, ok, err := tb.ImageForPost(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first, kept, "updates without an image keep the current one")

	require.NoError(t, tb.Update(ctx, alice, id, blogcore.PostInput{
		Title: "pics",
		Image: &blogcore.ImageUpload{Name: "b.jpg", Data: []byte("b")},
	}))

	second, ok, err := tb.ImageForPost(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEqual(t, first, second)

	names, err := tb.blobs.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{second}, names)

	posts, _, err := tb.List(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, second, posts[0].Image)
}

// failingBlobStore refuses every write
type failingBlobStore struct {
	*blogcore.MemoryBlobStore
}

func (failingBlobStore) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestBlog_CreateIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := blogcore.NewMemoryStore()

	blog, err := blogcore.New(blogcore.Options{
		Store:  store,
		Blobs:  failingBlobStore{blogcore.NewMemoryBlobStore()},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	_, err = blog.Create(ctx, alice, blogcore.PostInput{
		Title: "broken",
		Tags:  "a",
		Image: &blogcore.ImageUpload{Name: "a.png", Data: []byte("a")},
	})
	require.Error(t, err)

	posts, _, err := blog.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, posts)

	tags, err := blog.Tags(ctx)
	require.NoError(t, err)
	assert.Empty(t, tags)
}
