package blogcore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/blogcore"
)

func TestBlog_AddComment(t *testing.T) {
	ctx := context.Background()
	tb := newTestBlog(t)
	postID := tb.mustCreate(t, alice, blogcore.PostInput{Title: "open for comments"})

	first, err := tb.AddComment(ctx, bob, postID, "first!")
	require.NoError(t, err)
	second, err := tb.AddComment(ctx, alice, postID, "thanks")
	require.NoError(t, err)
	assert.Greater(t, second, first)

	comments, err := tb.Comments(ctx, postID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first!", comments[0].Body)
	assert.Equal(t, bob.UserID, comments[0].AuthorID)
	assert.Equal(t, "thanks", comments[1].Body)
	assert.False(t, comments[1].Created.IsZero())

	detail, err := tb.Get(ctx, postID)
	require.NoError(t, err)
	assert.Len(t, detail.Comments, 2)
}

func TestBlog_AddCommentErrors(t *testing.T) {
	ctx := context.Background()
	tb := newTestBlog(t)
	postID := tb.mustCreate(t, alice, blogcore.PostInput{Title: "post"})

	tests := []struct {
		name    string
		postID  int64
		body    string
		wantErr error
	}{
		{"blank body", postID, "  \n", blogcore.ErrCommentRequired},
		{"missing post", postID + 1, "hello", blogcore.ErrNotFound},
		{"missing post with blank body", postID + 1, "", blogcore.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tb.AddComment(ctx, bob, tt.postID, tt.body)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	comments, err := tb.Comments(ctx, postID)
	require.NoError(t, err)
	assert.Empty(t, comments)

	_, err = tb.Comments(ctx, postID+1)
	assert.ErrorIs(t, err, blogcore.ErrNotFound)
}
