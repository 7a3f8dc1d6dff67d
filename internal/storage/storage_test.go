package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testStoreRoundtrip(t *testing.T, store ObjectStore) {
	t.Helper()
	ctx := context.Background()

	err := store.Put(ctx, "streams/s1/playlist.m3u8", []byte("#EXTM3U"), PutOptions{
		ContentType:  ContentTypePlaylist,
		CacheControl: CacheControlNone,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, err := store.Get(ctx, "streams/s1/playlist.m3u8")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "#EXTM3U" {
		t.Errorf("unexpected data: %q", data)
	}

	if _, err := store.Get(ctx, "streams/s1/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.Delete(ctx, "streams/s1/playlist.m3u8"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "streams/s1/playlist.m3u8"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing key is a no-op.
	if err := store.Delete(ctx, "streams/s1/playlist.m3u8"); err != nil {
		t.Errorf("double delete should be nil, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	testStoreRoundtrip(t, NewMemoryStore())
}

func TestFSStore(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	testStoreRoundtrip(t, store)
}

func TestMemoryStore_Get_returns_copy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Put(ctx, "k", []byte("abc"), PutOptions{})
	data, _ := store.Get(ctx, "k")
	data[0] = 'z'

	fresh, _ := store.Get(ctx, "k")
	if string(fresh) != "abc" {
		t.Errorf("stored data mutated through returned slice: %q", fresh)
	}
}

func TestFSStore_creates_nested_dirs(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	ctx := context.Background()
	if err := store.Put(ctx, "streams/abc/segment-000.mp3", []byte("mp3"), PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "streams", "abc", "segment-000.mp3")); err != nil {
		t.Errorf("expected file on disk: %v", err)
	}
}
