package blogcore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Store using in-memory maps. Update works on a copy of the data that
// replaces the live data only when fn succeeds.
type MemoryStore struct {
	data *memoryData
	mu   sync.RWMutex
}

type memoryData struct {
	posts         map[int64]*Post
	tagIDs        map[string]int64
	tagNames      map[int64]string
	postTags      map[int64]map[int64]struct{}
	images        map[int64]string
	comments      map[int64]*Comment
	likes         map[int64]map[int64]struct{}
	nextPostID    int64
	nextTagID     int64
	nextCommentID int64
}

// NewMemoryStore creates a new MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

func newMemoryData() *memoryData {
	return &memoryData{
		posts:    make(map[int64]*Post),
		tagIDs:   make(map[string]int64),
		tagNames: make(map[int64]string),
		postTags: make(map[int64]map[int64]struct{}),
		images:   make(map[int64]string),
		comments: make(map[int64]*Comment),
		likes:    make(map[int64]map[int64]struct{}),
	}
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		posts:         make(map[int64]*Post, len(d.posts)),
		tagIDs:        maps.Clone(d.tagIDs),
		tagNames:      maps.Clone(d.tagNames),
		postTags:      make(map[int64]map[int64]struct{}, len(d.postTags)),
		images:        maps.Clone(d.images),
		comments:      make(map[int64]*Comment, len(d.comments)),
		likes:         make(map[int64]map[int64]struct{}, len(d.likes)),
		nextPostID:    d.nextPostID,
		nextTagID:     d.nextTagID,
		nextCommentID: d.nextCommentID,
	}

	for id, post := range d.posts {
		p := *post
		c.posts[id] = &p
	}
	for id, comment := range d.comments {
		cm := *comment
		c.comments[id] = &cm
	}
	for id, set := range d.postTags {
		c.postTags[id] = maps.Clone(set)
	}
	for id, set := range d.likes {
		c.likes[id] = maps.Clone(set)
	}

	return c
}

// Init initializes the store
func (m *MemoryStore) Init() error {
	return nil
}

// Close closes the store
func (m *MemoryStore) Close() error {
	return nil
}

// Update runs fn against a copy of the data and keeps the copy only if fn succeeds.
func (m *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := m.apply(fn)
	if err != nil {
		return err
	}

	for _, hook := range tx.hooks {
		hook()
	}

	return nil
}

// apply runs fn under the write lock and swaps in its copy of the data on success
func (m *MemoryStore) apply(fn func(tx Tx) error) (*memoryTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{data: m.data.clone()}
	if err := fn(tx); err != nil {
		return nil, err
	}

	m.data = tx.data
	return tx, nil
}

// View runs fn against the live data under a read lock.
func (m *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return fn(&memoryTx{data: m.data, readOnly: true})
}

type memoryTx struct {
	data     *memoryData
	hooks    []func()
	readOnly bool
}

func (tx *memoryTx) writable() error {
	if tx.readOnly {
		return ErrReadOnlyTx
	}
	return nil
}

func (tx *memoryTx) OnCommit(fn func()) {
	tx.hooks = append(tx.hooks, fn)
}

func (tx *memoryTx) CreatePost(_ context.Context, post *Post) (int64, error) {
	if err := tx.writable(); err != nil {
		return 0, err
	}

	tx.data.nextPostID++
	p := *post
	p.ID = tx.data.nextPostID
	p.Tags = nil
	p.Image = ""
	if p.Created.IsZero() {
		p.Created = time.Now().UTC()
	}
	tx.data.posts[p.ID] = &p

	return p.ID, nil
}

func (tx *memoryTx) GetPost(_ context.Context, id int64) (*Post, error) {
	post, ok := tx.data.posts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPostNotFound, id)
	}
	p := *post
	return &p, nil
}

func (tx *memoryTx) UpdatePost(_ context.Context, post *Post) error {
	if err := tx.writable(); err != nil {
		return err
	}

	existing, ok := tx.data.posts[post.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPostNotFound, post.ID)
	}

	existing.Title = post.Title
	existing.Body = post.Body
	existing.BodyHTML = post.BodyHTML
	return nil
}

func (tx *memoryTx) DeletePost(_ context.Context, id int64) error {
	if err := tx.writable(); err != nil {
		return err
	}
	delete(tx.data.posts, id)
	return nil
}

func (tx *memoryTx) CountPosts(_ context.Context, filter PostFilter) (int, error) {
	return len(tx.filterPosts(filter)), nil
}

func (tx *memoryTx) ListPosts(_ context.Context, filter PostFilter, limit, offset int) ([]*Post, error) {
	filtered := tx.filterPosts(filter)

	start, end := paginationBounds(offset, limit, len(filtered))
	result := make([]*Post, 0, end-start)
	for _, post := range filtered[start:end] {
		p := *post
		result = append(result, &p)
	}

	return result, nil
}

// filterPosts returns the matching posts sorted newest first by id
func (tx *memoryTx) filterPosts(filter PostFilter) []*Post {
	var tagID int64
	if filter.Tag != "" {
		id, ok := tx.data.tagIDs[filter.Tag]
		if !ok {
			return nil
		}
		tagID = id
	}

	needle := strings.ToLower(filter.TitleContains)

	var filtered []*Post
	for _, post := range tx.data.posts {
		if needle != "" && !strings.Contains(strings.ToLower(post.Title), needle) {
			continue
		}
		if tagID != 0 {
			if _, ok := tx.data.postTags[post.ID][tagID]; !ok {
				continue
			}
		}
		filtered = append(filtered, post)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].ID > filtered[j].ID
	})

	return filtered
}

// paginationBounds calculates the start and end indices of a page within totalItems
func paginationBounds(offset, limit, totalItems int) (start, end int) {
	start = max(offset, 0)
	if start > totalItems {
		start = totalItems
	}
	end = start + max(limit, 0)
	if end > totalItems {
		end = totalItems
	}
	return start, end
}

func (tx *memoryTx) EnsureTag(_ context.Context, name string) (int64, error) {
	if err := tx.writable(); err != nil {
		return 0, err
	}

	if id, ok := tx.data.tagIDs[name]; ok {
		return id, nil
	}

	tx.data.nextTagID++
	id := tx.data.nextTagID
	tx.data.tagIDs[name] = id
	tx.data.tagNames[id] = name

	return id, nil
}

func (tx *memoryTx) TagID(_ context.Context, name string) (int64, error) {
	id, ok := tx.data.tagIDs[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrTagNotFound, name)
	}
	return id, nil
}

func (tx *memoryTx) ListTags(_ context.Context) ([]Tag, error) {
	tags := make([]Tag, 0, len(tx.data.tagIDs))
	for name, id := range tx.data.tagIDs {
		tags = append(tags, Tag{ID: id, Name: name})
	}

	sort.Slice(tags, func(i, j int) bool {
		return tags[i].Name < tags[j].Name
	})

	return tags, nil
}

func (tx *memoryTx) PostTagNames(_ context.Context, postID int64) ([]string, error) {
	names := make([]string, 0, len(tx.data.postTags[postID]))
	for tagID := range tx.data.postTags[postID] {
		names = append(names, tx.data.tagNames[tagID])
	}
	slices.Sort(names)
	return names, nil
}

func (tx *memoryTx) AddPostTag(_ context.Context, postID, tagID int64) error {
	if err := tx.writable(); err != nil {
		return err
	}

	set, ok := tx.data.postTags[postID]
	if !ok {
		set = make(map[int64]struct{})
		tx.data.postTags[postID] = set
	}
	set[tagID] = struct{}{}

	return nil
}

func (tx *memoryTx) RemovePostTag(_ context.Context, postID, tagID int64) error {
	if err := tx.writable(); err != nil {
		return err
	}

	delete(tx.data.postTags[postID], tagID)
	if len(tx.data.postTags[postID]) == 0 {
		delete(tx.data.postTags, postID)
	}

	return nil
}

func (tx *memoryTx) RemovePostTags(_ context.Context, postID int64) error {
	if err := tx.writable(); err != nil {
		return err
	}
	delete(tx.data.postTags, postID)
	return nil
}

func (tx *memoryTx) CreatePostImage(_ context.Context, postID int64, filename string) error {
	if err := tx.writable(); err != nil {
		return err
	}

	if existing, ok := tx.data.images[postID]; ok {
		return fmt.Errorf("%w: post %d already has image %s", ErrConflict, postID, existing)
	}
	tx.data.images[postID] = filename

	return nil
}

func (tx *memoryTx) PostImage(_ context.Context, postID int64) (string, error) {
	name, ok := tx.data.images[postID]
	if !ok {
		return "", fmt.Errorf("%w: post %d", ErrImageNotFound, postID)
	}
	return name, nil
}

func (tx *memoryTx) DeletePostImage(_ context.Context, postID int64) error {
	if err := tx.writable(); err != nil {
		return err
	}
	delete(tx.data.images, postID)
	return nil
}

func (tx *memoryTx) CreateComment(_ context.Context, comment *Comment) (int64, error) {
	if err := tx.writable(); err != nil {
		return 0, err
	}

	tx.data.nextCommentID++
	c := *comment
	c.ID = tx.data.nextCommentID
	if c.Created.IsZero() {
		c.Created = time.Now().UTC()
	}
	tx.data.comments[c.ID] = &c

	return c.ID, nil
}

func (tx *memoryTx) PostComments(_ context.Context, postID int64) ([]*Comment, error) {
	var comments []*Comment
	for _, comment := range tx.data.comments {
		if comment.PostID == postID {
			c := *comment
			comments = append(comments, &c)
		}
	}

	sort.Slice(comments, func(i, j int) bool {
		return comments[i].ID < comments[j].ID
	})

	return comments, nil
}

func (tx *memoryTx) DeletePostComments(_ context.Context, postID int64) error {
	if err := tx.writable(); err != nil {
		return err
	}

	for id, comment := range tx.data.comments {
		if comment.PostID == postID {
			delete(tx.data.comments, id)
		}
	}

	return nil
}

func (tx *memoryTx) CreateLike(_ context.Context, postID, userID int64) error {
	if err := tx.writable(); err != nil {
		return err
	}

	set, ok := tx.data.likes[postID]
	if !ok {
		set = make(map[int64]struct{})
		tx.data.likes[postID] = set
	}

	if _, exists := set[userID]; exists {
		return fmt.Errorf("%w: user %d already likes post %d", ErrConflict, userID, postID)
	}
	set[userID] = struct{}{}

	return nil
}

func (tx *memoryTx) DeleteLike(_ context.Context, postID, userID int64) error {
	if err := tx.writable(); err != nil {
		return err
	}
	delete(tx.data.likes[postID], userID)
	return nil
}

func (tx *memoryTx) PostLikers(_ context.Context, postID int64) ([]int64, error) {
	users := slices.Collect(maps.Keys(tx.data.likes[postID]))
	slices.Sort(users)
	return users, nil
}

func (tx *memoryTx) DeletePostLikes(_ context.Context, postID int64) error {
	if err := tx.writable(); err != nil {
		return err
	}
	delete(tx.data.likes, postID)
	return nil
}
