// Package storage abstracts the object store that holds segment audio and
// playlist documents. Keys follow the conventions in internal/hls; the
// production deployment points at a CDN-backed bucket, while these local
// implementations cover development and tests.
package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Content types and cache policies for the objects this service writes.
// An EVENT playlist changes on every chunk, so it must not be cached;
// segments and sealed VOD playlists are immutable.
const (
	ContentTypePlaylist = "application/vnd.apple.mpegurl"
	ContentTypeAudio    = "audio/mpeg"

	CacheControlImmutable = "public, max-age=31536000"
	CacheControlNone      = "no-cache"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("object not found")

// PutOptions carries object metadata honored by remote-backed stores.
type PutOptions struct {
	ContentType  string
	CacheControl string
}

// ObjectStore is a minimal write/read interface over a key-value object
// store.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type object struct {
	data []byte
	opts PutOptions
}

// MemoryStore is a concurrency-safe in-memory ObjectStore.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]object
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]object)}
}

// Put implements ObjectStore.Put.
func (s *MemoryStore) Put(_ context.Context, key string, data []byte, opts PutOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[key] = object{data: buf, opts: opts}
	return nil
}

// Get implements ObjectStore.Get.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, nil
}

// Delete implements ObjectStore.Delete. Deleting a missing key is a no-op.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	return nil
}

// FSStore stores objects as files under a root directory. Metadata options
// are accepted but not persisted; local files have no cache headers.
type FSStore struct {
	root string
}

// NewFSStore returns a store rooted at dir, creating it if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{root: dir}, nil
}

// Put implements ObjectStore.Put.
func (s *FSStore) Put(_ context.Context, key string, data []byte, _ PutOptions) error {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Get implements ObjectStore.Get.
func (s *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

// Delete implements ObjectStore.Delete.
func (s *FSStore) Delete(_ context.Context, key string) error {
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
