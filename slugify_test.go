package blogcore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hypergopher/blogcore"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		expected string
	}{
		{"simple title", "Hello World", "hello-world"},
		{"odd characters", "My Post With Spaces & Odd Characters", "my-post-with-spaces-and-odd-characters"},
		{"surrounding whitespace", "  Trim me  ", "trim-me"},
		{"accents", "Café déjà vu", "cafe-deja-vu"},
		{"only punctuation", "?!", "post"},
		{"empty", "", "post"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, blogcore.Slugify(tt.title))
		})
	}
}

func TestArchiveFileName(t *testing.T) {
	name := blogcore.ArchiveFileName(&blogcore.Post{ID: 12, Title: "Hello World"})
	assert.Equal(t, "12-hello-world.md", name)

	id, ok := blogcore.ArchiveFileID("/some/dir/" + name)
	assert.True(t, ok)
	assert.Equal(t, int64(12), id)
}

func TestArchiveFileID(t *testing.T) {
	tests := []struct {
		path   string
		wantID int64
		wantOK bool
	}{
		{"3-post.md", 3, true},
		{"dir/10-a-b-c.md", 10, true},
		{"post.md", 0, false},
		{"x-post.md", 0, false},
		{"0-post.md", 0, false},
		{"3-post.txt", 0, false},
		{"README.md", 0, false},
	}

	for _, tt := range tests {
		id, ok := blogcore.ArchiveFileID(tt.path)
		assert.Equal(t, tt.wantOK, ok, tt.path)
		assert.Equal(t, tt.wantID, id, tt.path)
	}
}
