package bboltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.etcd.io/bbolt"

	"github.com/hypergopher/blogcore"
)

const (
	bboltFile        = "blogcore.db"
	bleveFile        = "blogcore.bleve"
	bucketPosts      = "posts"
	bucketTags       = "tags"      // name -> id
	bucketTagNames   = "tag_names" // id -> name
	bucketPostTags   = "post_tags" // post|tag
	bucketTagPosts   = "tag_posts" // tag|post
	bucketPostImages = "post_images"
	bucketComments   = "comments" // post|comment -> comment
	bucketLikes      = "likes"    // post|user
	titleAnalyzer    = "title_lower"
	titleField       = "title"
	wildcardSpecials = "*?"
)

// present is the value of keys that only record membership
var present = []byte{1}

var buckets = []string{
	bucketPosts,
	bucketTags,
	bucketTagNames,
	bucketPostTags,
	bucketTagPosts,
	bucketPostImages,
	bucketComments,
	bucketLikes,
}

// BBoltStore implements blogcore.Store on a bbolt database. Post titles are additionally indexed in
// bleve for title searches; the index is updated after each commit.
type BBoltStore struct {
	bleveIndex bleve.Index
	boltIndex  *bbolt.DB
	dataDir    string // dataDir is the directory where the store keeps its files.
	logger     *slog.Logger
}

// titleDoc is the document indexed in bleve
type titleDoc struct {
	Title string `json:"title"`
}

// New creates a new BBoltStore instance.
func New(dataDir string, logger *slog.Logger) *BBoltStore {
	if logger == nil {
		logger = defaultLogger()
	}

	return &BBoltStore{
		dataDir: dataDir,
		logger:  logger,
	}
}

// Init initializes the BBolt database and the Bleve title index
func (bbs *BBoltStore) Init() error {
	if err := os.MkdirAll(bbs.dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	boltIndex, err := bbs.initBolt()
	if err != nil {
		return fmt.Errorf("failed to initialize bbolt: %w", err)
	}
	bbs.boltIndex = boltIndex

	bleveIndex, err := bbs.initBleve()
	if err != nil {
		return fmt.Errorf("failed to initialize bleve: %w", err)
	}
	bbs.bleveIndex = bleveIndex

	return bbs.syncIndex()
}

func (bbs *BBoltStore) Close() error {
	if bbs.boltIndex != nil {
		if err := bbs.boltIndex.Close(); err != nil {
			return err
		}
	}

	if bbs.bleveIndex != nil {
		return bbs.bleveIndex.Close()
	}

	return nil
}

// Update runs fn in a bbolt read-write transaction.
func (bbs *BBoltStore) Update(ctx context.Context, fn func(tx blogcore.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return bbs.boltIndex.Update(func(tx *bbolt.Tx) error {
		return fn(&boltTx{store: bbs, tx: tx})
	})
}

// View runs fn in a bbolt read-only transaction.
func (bbs *BBoltStore) View(ctx context.Context, fn func(tx blogcore.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return bbs.boltIndex.View(func(tx *bbolt.Tx) error {
		return fn(&boltTx{store: bbs, tx: tx})
	})
}

// Reindex rebuilds the title index from the posts bucket.
func (bbs *BBoltStore) Reindex() error {
	if err := bbs.bleveIndex.Close(); err != nil {
		return fmt.Errorf("failed to close bleve index: %w", err)
	}

	if err := os.RemoveAll(filepath.Join(bbs.dataDir, bleveFile)); err != nil {
		return fmt.Errorf("failed to remove bleve index: %w", err)
	}

	bleveIndex, err := bbs.initBleve()
	if err != nil {
		return fmt.Errorf("failed to reinitialize bleve: %w", err)
	}
	bbs.bleveIndex = bleveIndex

	batch := bbs.bleveIndex.NewBatch()
	count := 0
	err = bbs.boltIndex.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketPosts)).ForEach(func(k, v []byte) error {
			var post blogcore.Post
			if err := json.Unmarshal(v, &post); err != nil {
				return fmt.Errorf("failed to deserialize post: %w", err)
			}
			count++
			return batch.Index(docID(btoi(k)), titleDoc{Title: post.Title})
		})
	})
	if err != nil {
		return err
	}

	if err := bbs.bleveIndex.Batch(batch); err != nil {
		return fmt.Errorf("failed to index posts: %w", err)
	}

	bbs.logger.Info("rebuilt title index", slog.Int("posts", count))
	return nil
}

// syncIndex rebuilds the title index if it has drifted from the posts bucket
func (bbs *BBoltStore) syncIndex() error {
	indexed, err := bbs.bleveIndex.DocCount()
	if err != nil {
		return fmt.Errorf("failed to count indexed posts: %w", err)
	}

	var stored int
	err = bbs.boltIndex.View(func(tx *bbolt.Tx) error {
		stored = tx.Bucket([]byte(bucketPosts)).Stats().KeyN
		return nil
	})
	if err != nil {
		return err
	}

	if uint64(stored) == indexed {
		return nil
	}

	bbs.logger.Debug("title index out of date",
		slog.Int("stored", stored),
		slog.Uint64("indexed", indexed))

	return bbs.Reindex()
}

func (bbs *BBoltStore) initBolt() (*bbolt.DB, error) {
	boltPath := filepath.Join(bbs.dataDir, bboltFile)
	boltIndex, err := bbolt.Open(boltPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt index: %w", err)
	}

	err = boltIndex.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = boltIndex.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return boltIndex, nil
}

func (bbs *BBoltStore) initBleve() (bleve.Index, error) {
	index, err := bleve.Open(filepath.Join(bbs.dataDir, bleveFile))
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		bbs.logger.Debug("Creating new bleve index")
		indexMapping, err := defineBleveMapping()
		if err != nil {
			return nil, err
		}
		index, err = bleve.New(filepath.Join(bbs.dataDir, bleveFile), indexMapping)
		if err != nil {
			return nil, fmt.Errorf("failed to create bleve index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open bleve index: %w", err)
	}

	return index, nil
}

// defineBleveMapping indexes the whole lower-cased title as a single term, so a wildcard query
// can match any substring of it.
func defineBleveMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(titleAnalyzer, map[string]any{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add title analyzer: %w", err)
	}

	titleMapping := bleve.NewTextFieldMapping()
	titleMapping.Analyzer = titleAnalyzer
	titleMapping.Store = false
	titleMapping.IncludeTermVectors = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt(titleField, titleMapping)
	indexMapping.DefaultMapping = docMapping

	return indexMapping, nil
}

// searchTitles returns the ids of the indexed posts whose title contains needle
func (bbs *BBoltStore) searchTitles(needle string) (map[uint64]struct{}, error) {
	total, err := bbs.bleveIndex.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count indexed posts: %w", err)
	}

	hits := make(map[uint64]struct{})
	if total == 0 {
		return hits, nil
	}

	query := bleve.NewWildcardQuery("*" + strings.ToLower(needle) + "*")
	query.SetField(titleField)

	result, err := bbs.bleveIndex.Search(bleve.NewSearchRequestOptions(query, int(total), 0, false))
	if err != nil {
		return nil, fmt.Errorf("error searching titles: %w", err)
	}

	for _, hit := range result.Hits {
		id, err := strconv.ParseUint(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		hits[id] = struct{}{}
	}

	return hits, nil
}

func (bbs *BBoltStore) indexTitle(id uint64, title string) {
	if err := bbs.bleveIndex.Index(docID(id), titleDoc{Title: title}); err != nil {
		bbs.logger.Error("failed to index post title",
			slog.Uint64("post_id", id),
			slog.String("error", err.Error()))
	}
}

func (bbs *BBoltStore) deindexTitle(id uint64) {
	if err := bbs.bleveIndex.Delete(docID(id)); err != nil {
		bbs.logger.Error("failed to remove post title from index",
			slog.Uint64("post_id", id),
			slog.String("error", err.Error()))
	}
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{
			AddSource: false,
			Level:     slog.LevelInfo,
		}))
}

// boltTx implements blogcore.Tx on a bbolt transaction
type boltTx struct {
	store *BBoltStore
	tx    *bbolt.Tx
	// titlesChanged is set once a title was written in this transaction; the index lags until commit.
	titlesChanged bool
}

// writable returns blogcore.ErrReadOnlyTx inside View
func (t *boltTx) writable() error {
	if !t.tx.Writable() {
		return blogcore.ErrReadOnlyTx
	}
	return nil
}

func (t *boltTx) bucket(name string) *bbolt.Bucket {
	return t.tx.Bucket([]byte(name))
}

func (t *boltTx) OnCommit(fn func()) {
	t.tx.OnCommit(fn)
}

func (t *boltTx) CreatePost(_ context.Context, post *blogcore.Post) (int64, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}

	b := t.bucket(bucketPosts)

	seq, err := b.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate post id: %w", err)
	}

	stored := *post
	stored.ID = int64(seq)
	if err := t.putPost(&stored); err != nil {
		return 0, err
	}

	post.ID = stored.ID
	t.titlesChanged = true
	t.tx.OnCommit(func() { t.store.indexTitle(seq, stored.Title) })

	return stored.ID, nil
}

func (t *boltTx) putPost(post *blogcore.Post) error {
	stored := *post
	stored.Tags = nil
	stored.Image = ""

	postBytes, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to serialize post: %w", err)
	}

	if err := t.bucket(bucketPosts).Put(itob(uint64(post.ID)), postBytes); err != nil {
		return fmt.Errorf("failed to put post in bucket: %w", err)
	}
	return nil
}

func (t *boltTx) loadPost(id uint64) (*blogcore.Post, error) {
	postBytes := t.bucket(bucketPosts).Get(itob(id))
	if postBytes == nil {
		return nil, fmt.Errorf("%w: %d", blogcore.ErrPostNotFound, id)
	}

	var post blogcore.Post
	if err := json.Unmarshal(postBytes, &post); err != nil {
		return nil, fmt.Errorf("error deserializing post: %w", err)
	}
	return &post, nil
}

func (t *boltTx) GetPost(_ context.Context, id int64) (*blogcore.Post, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: %d", blogcore.ErrPostNotFound, id)
	}
	return t.loadPost(uint64(id))
}

func (t *boltTx) UpdatePost(ctx context.Context, post *blogcore.Post) error {
	if err := t.writable(); err != nil {
		return err
	}

	existing, err := t.GetPost(ctx, post.ID)
	if err != nil {
		return err
	}

	existing.Title = post.Title
	existing.Body = post.Body
	existing.BodyHTML = post.BodyHTML
	if err := t.putPost(existing); err != nil {
		return err
	}

	id, title := uint64(post.ID), post.Title
	t.titlesChanged = true
	t.tx.OnCommit(func() { t.store.indexTitle(id, title) })

	return nil
}

func (t *boltTx) DeletePost(_ context.Context, id int64) error {
	if err := t.writable(); err != nil {
		return err
	}

	if id <= 0 {
		return nil
	}

	if err := t.bucket(bucketPosts).Delete(itob(uint64(id))); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	t.titlesChanged = true
	t.tx.OnCommit(func() { t.store.deindexTitle(uint64(id)) })

	return nil
}

func (t *boltTx) CountPosts(_ context.Context, filter blogcore.PostFilter) (int, error) {
	ids, err := t.matchingIDs(filter)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (t *boltTx) ListPosts(_ context.Context, filter blogcore.PostFilter, limit, offset int) ([]*blogcore.Post, error) {
	ids, err := t.matchingIDs(filter)
	if err != nil {
		return nil, err
	}

	start := min(max(offset, 0), len(ids))
	end := min(start+max(limit, 0), len(ids))

	posts := make([]*blogcore.Post, 0, end-start)
	for _, id := range ids[start:end] {
		post, err := t.loadPost(id)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}

	return posts, nil
}

// matchingIDs returns the ids of the posts matching the filter, newest first
func (t *boltTx) matchingIDs(filter blogcore.PostFilter) ([]uint64, error) {
	var ids []uint64

	if filter.Tag != "" {
		tagID := t.bucket(bucketTags).Get([]byte(filter.Tag))
		if tagID == nil {
			return nil, nil
		}

		cursor := t.bucket(bucketTagPosts).Cursor()
		for k, _ := cursor.Seek(tagID); k != nil && bytes.HasPrefix(k, tagID); k, _ = cursor.Next() {
			ids = append(ids, btoi(k[8:]))
		}
		slices.Reverse(ids)
	} else {
		cursor := t.bucket(bucketPosts).Cursor()
		for k, _ := cursor.Last(); k != nil; k, _ = cursor.Prev() {
			ids = append(ids, btoi(k))
		}
	}

	if filter.TitleContains == "" {
		return ids, nil
	}

	return t.filterByTitle(ids, filter.TitleContains)
}

// filterByTitle keeps the ids whose title contains needle, ignoring case. The bleve index narrows
// the candidates unless it may be stale or the needle contains wildcard characters.
func (t *boltTx) filterByTitle(ids []uint64, needle string) ([]uint64, error) {
	var hits map[uint64]struct{}
	if !t.titlesChanged && !strings.ContainsAny(needle, wildcardSpecials) {
		var err error
		hits, err = t.store.searchTitles(needle)
		if err != nil {
			return nil, err
		}
	}

	lowered := strings.ToLower(needle)
	filtered := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if hits != nil {
			if _, ok := hits[id]; !ok {
				continue
			}
		}

		post, err := t.loadPost(id)
		if err != nil {
			return nil, err
		}
		if strings.Contains(strings.ToLower(post.Title), lowered) {
			filtered = append(filtered, id)
		}
	}

	return filtered, nil
}

func (t *boltTx) EnsureTag(ctx context.Context, name string) (int64, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}

	if id := t.bucket(bucketTags).Get([]byte(name)); id != nil {
		return int64(btoi(id)), nil
	}

	seq, err := t.bucket(bucketTags).NextSequence()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate tag id: %w", err)
	}

	if err := t.bucket(bucketTags).Put([]byte(name), itob(seq)); err != nil {
		return 0, err
	}
	if err := t.bucket(bucketTagNames).Put(itob(seq), []byte(name)); err != nil {
		return 0, err
	}

	return int64(seq), nil
}

func (t *boltTx) TagID(_ context.Context, name string) (int64, error) {
	id := t.bucket(bucketTags).Get([]byte(name))
	if id == nil {
		return 0, fmt.Errorf("%w: %q", blogcore.ErrTagNotFound, name)
	}
	return int64(btoi(id)), nil
}

func (t *boltTx) ListTags(_ context.Context) ([]blogcore.Tag, error) {
	var tags []blogcore.Tag
	err := t.bucket(bucketTags).ForEach(func(k, v []byte) error {
		tags = append(tags, blogcore.Tag{ID: int64(btoi(v)), Name: string(k)})
		return nil
	})
	return tags, err
}

func (t *boltTx) PostTagNames(_ context.Context, postID int64) ([]string, error) {
	prefix := itob(uint64(postID))
	names := []string{}

	cursor := t.bucket(bucketPostTags).Cursor()
	for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
		name := t.bucket(bucketTagNames).Get(k[8:])
		if name == nil {
			continue
		}
		names = append(names, string(name))
	}

	slices.Sort(names)
	return names, nil
}

func (t *boltTx) AddPostTag(_ context.Context, postID, tagID int64) error {
	if err := t.writable(); err != nil {
		return err
	}

	if err := t.bucket(bucketPostTags).Put(pairKey(postID, tagID), present); err != nil {
		return err
	}
	return t.bucket(bucketTagPosts).Put(pairKey(tagID, postID), present)
}

func (t *boltTx) RemovePostTag(_ context.Context, postID, tagID int64) error {
	if err := t.writable(); err != nil {
		return err
	}

	if err := t.bucket(bucketPostTags).Delete(pairKey(postID, tagID)); err != nil {
		return err
	}
	return t.bucket(bucketTagPosts).Delete(pairKey(tagID, postID))
}

func (t *boltTx) RemovePostTags(_ context.Context, postID int64) error {
	if err := t.writable(); err != nil {
		return err
	}

	keys := prefixKeys(t.bucket(bucketPostTags), itob(uint64(postID)))
	for _, k := range keys {
		if err := t.bucket(bucketPostTags).Delete(k); err != nil {
			return err
		}
		if err := t.bucket(bucketTagPosts).Delete(pairKey(int64(btoi(k[8:])), postID)); err != nil {
			return err
		}
	}
	return nil
}

func (t *boltTx) CreatePostImage(_ context.Context, postID int64, filename string) error {
	if err := t.writable(); err != nil {
		return err
	}

	b := t.bucket(bucketPostImages)
	key := itob(uint64(postID))
	if existing := b.Get(key); existing != nil {
		return fmt.Errorf("%w: post %d already has image %s", blogcore.ErrConflict, postID, existing)
	}
	return b.Put(key, []byte(filename))
}

func (t *boltTx) PostImage(_ context.Context, postID int64) (string, error) {
	name := t.bucket(bucketPostImages).Get(itob(uint64(postID)))
	if name == nil {
		return "", fmt.Errorf("%w: post %d", blogcore.ErrImageNotFound, postID)
	}
	return string(name), nil
}

func (t *boltTx) DeletePostImage(_ context.Context, postID int64) error {
	if err := t.writable(); err != nil {
		return err
	}

	return t.bucket(bucketPostImages).Delete(itob(uint64(postID)))
}

func (t *boltTx) CreateComment(_ context.Context, comment *blogcore.Comment) (int64, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}

	b := t.bucket(bucketComments)

	seq, err := b.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate comment id: %w", err)
	}

	stored := *comment
	stored.ID = int64(seq)

	commentBytes, err := json.Marshal(&stored)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize comment: %w", err)
	}

	if err := b.Put(pairKey(comment.PostID, stored.ID), commentBytes); err != nil {
		return 0, err
	}

	comment.ID = stored.ID
	return stored.ID, nil
}

func (t *boltTx) PostComments(_ context.Context, postID int64) ([]*blogcore.Comment, error) {
	prefix := itob(uint64(postID))
	comments := []*blogcore.Comment{}

	cursor := t.bucket(bucketComments).Cursor()
	for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
		var comment blogcore.Comment
		if err := json.Unmarshal(v, &comment); err != nil {
			return nil, fmt.Errorf("error deserializing comment: %w", err)
		}
		comments = append(comments, &comment)
	}

	return comments, nil
}

func (t *boltTx) DeletePostComments(_ context.Context, postID int64) error {
	if err := t.writable(); err != nil {
		return err
	}

	return deletePrefix(t.bucket(bucketComments), itob(uint64(postID)))
}

func (t *boltTx) CreateLike(_ context.Context, postID, userID int64) error {
	if err := t.writable(); err != nil {
		return err
	}

	b := t.bucket(bucketLikes)
	key := pairKey(postID, userID)
	if b.Get(key) != nil {
		return fmt.Errorf("%w: user %d already likes post %d", blogcore.ErrConflict, userID, postID)
	}
	return b.Put(key, present)
}

func (t *boltTx) DeleteLike(_ context.Context, postID, userID int64) error {
	if err := t.writable(); err != nil {
		return err
	}

	return t.bucket(bucketLikes).Delete(pairKey(postID, userID))
}

func (t *boltTx) PostLikers(_ context.Context, postID int64) ([]int64, error) {
	likers := []int64{}
	for _, k := range prefixKeys(t.bucket(bucketLikes), itob(uint64(postID))) {
		likers = append(likers, int64(btoi(k[8:])))
	}
	return likers, nil
}

func (t *boltTx) DeletePostLikes(_ context.Context, postID int64) error {
	if err := t.writable(); err != nil {
		return err
	}

	return deletePrefix(t.bucket(bucketLikes), itob(uint64(postID)))
}

// prefixKeys returns copies of the keys in b starting with prefix
func prefixKeys(b *bbolt.Bucket, prefix []byte) [][]byte {
	var keys [][]byte
	cursor := b.Cursor()
	for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
		keys = append(keys, slices.Clone(k))
	}
	return keys
}

func deletePrefix(b *bbolt.Bucket, prefix []byte) error {
	for _, k := range prefixKeys(b, prefix) {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// itob returns an 8-byte big endian representation of v, so keys sort by id
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func pairKey(a, b int64) []byte {
	return append(itob(uint64(a)), itob(uint64(b))...)
}

func docID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
