package blogcore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// BlobStore holds uploaded bytes under a flat name. It has no transactional semantics.
type BlobStore interface {
	Put(ctx context.Context, name string, data []byte) error
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) error
	Get(ctx context.Context, name string) ([]byte, error)
}

var ErrInvalidBlobName = fmt.Errorf("%w: invalid blob name", ErrValidation)

// ValidBlobName returns true if name can be used as a flat blob name.
func ValidBlobName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// FileBlobStore implements BlobStore on a local directory
type FileBlobStore struct {
	rootDir string
}

func NewFileBlobStore(rootDir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FileBlobStore{rootDir: rootDir}, nil
}

// Dir returns the directory the blobs are stored in
func (bs *FileBlobStore) Dir() string {
	return bs.rootDir
}

// Put writes to a temporary file and renames it into place, so a blob is either absent or complete.
func (bs *FileBlobStore) Put(_ context.Context, name string, data []byte) error {
	path, err := bs.buildPath(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(bs.rootDir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write blob %s: %w", name, err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to sync blob %s: %w", name, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close blob %s: %w", name, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to move blob %s into place: %w", name, err)
	}

	return nil
}

func (bs *FileBlobStore) Exists(_ context.Context, name string) (bool, error) {
	path, err := bs.buildPath(name)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// Delete removes the blob. Deleting a missing blob is not an error.
func (bs *FileBlobStore) Delete(_ context.Context, name string) error {
	path, err := bs.buildPath(name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

func (bs *FileBlobStore) Get(_ context.Context, name string) ([]byte, error) {
	path, err := bs.buildPath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, name)
	}

	return data, err
}

// Names returns the names of all stored blobs in lexical order
func (bs *FileBlobStore) Names(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(bs.rootDir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".upload-") {
			continue
		}
		names = append(names, entry.Name())
	}

	return names, nil
}

func (bs *FileBlobStore) buildPath(name string) (string, error) {
	if !ValidBlobName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidBlobName, name)
	}
	return filepath.Join(bs.rootDir, name), nil
}

// MemoryBlobStore implements BlobStore in memory
type MemoryBlobStore struct {
	blobs map[string][]byte
	mu    sync.RWMutex
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Put(_ context.Context, name string, data []byte) error {
	if !ValidBlobName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidBlobName, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[name] = slices.Clone(data)
	return nil
}

func (m *MemoryBlobStore) Exists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.blobs[name]
	return ok, nil
}

func (m *MemoryBlobStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, name)
	return nil
}

func (m *MemoryBlobStore) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, name)
	}
	return slices.Clone(data), nil
}

// Names returns the names of all stored blobs in lexical order
func (m *MemoryBlobStore) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.blobs))
	for name := range m.blobs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}
