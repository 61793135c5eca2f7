package blogcore

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
)

const fallbackSlug = "post"

// Slugify turns a post title into a URL and file name friendly slug. Titles that slugify to nothing
// (e.g. only punctuation) get a fallback slug.
func Slugify(title string) string {
	s := slug.Make(strings.TrimSpace(title))
	if s == "" {
		return fallbackSlug
	}
	return s
}

// ArchiveFileName returns the archive file name of a post in the form <id>-<slug>.md
func ArchiveFileName(post *Post) string {
	return fmt.Sprintf("%d-%s.md", post.ID, Slugify(post.Title))
}

// ArchiveFileID extracts the post id from an archive file name. It returns false if the name
// was not produced by ArchiveFileName.
func ArchiveFileID(path string) (int64, bool) {
	name := filepath.Base(path)
	if filepath.Ext(name) != ".md" {
		return 0, false
	}

	prefix, _, found := strings.Cut(strings.TrimSuffix(name, ".md"), "-")
	if !found {
		return 0, false
	}

	id, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}
