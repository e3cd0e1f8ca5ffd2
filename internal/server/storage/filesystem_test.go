package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileSystemStore {
	t.Helper()
	return NewFileSystemStore(t.TempDir(), "http://localhost:8080", []byte("test-secret"))
}

func TestFileSystemStore_Put(t *testing.T) {
	ctx := context.Background()

	t.Run("writes blob under the storage key", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir, "http://localhost:8080", []byte("test-secret"))

		err := store.Put(ctx, "abc123.txt", bytes.NewReader([]byte("test content")), 12, "text/plain")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		content, err := os.ReadFile(filepath.Join(dir, "abc123.txt"))
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "test content" {
			t.Errorf("expected 'test content', got %q", content)
		}
	})

	t.Run("rejects traversal keys", func(t *testing.T) {
		store := newTestStore(t)

		for _, key := range []string{"../escape", "a/b", "", ".hidden"} {
			if err := store.Put(ctx, key, strings.NewReader("x"), 1, "text/plain"); err == nil {
				t.Errorf("expected error for key %q", key)
			}
		}
	})
}

func TestFileSystemStore_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trips stored content", func(t *testing.T) {
		store := newTestStore(t)

		if err := store.Put(ctx, "key1", strings.NewReader("hello"), 5, "text/plain"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		body, err := store.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer body.Close()

		data, _ := io.ReadAll(body)
		if string(data) != "hello" {
			t.Errorf("expected hello, got %q", data)
		}
	})

	t.Run("missing key reports ErrBlobNotFound", func(t *testing.T) {
		store := newTestStore(t)

		_, err := store.Get(ctx, "nonexistent")
		if !errors.Is(err, ErrBlobNotFound) {
			t.Fatalf("expected ErrBlobNotFound, got %v", err)
		}
	})
}

func TestFileSystemStore_Remove(t *testing.T) {
	ctx := context.Background()

	t.Run("removes existing blob", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir, "http://localhost:8080", []byte("test-secret"))

		store.Put(ctx, "del123", strings.NewReader("data"), 4, "text/plain")

		if err := store.Remove(ctx, "del123"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "del123")); !os.IsNotExist(err) {
			t.Error("expected blob to be deleted")
		}
	})

	t.Run("removing an absent key succeeds", func(t *testing.T) {
		store := newTestStore(t)

		if err := store.Remove(ctx, "nonexistent"); err != nil {
			t.Errorf("remove must be idempotent, got: %v", err)
		}
	})
}

func TestFileSystemStore_Presign(t *testing.T) {
	ctx := context.Background()

	t.Run("signed URL verifies", func(t *testing.T) {
		store := newTestStore(t)
		store.Put(ctx, "key1.txt", strings.NewReader("x"), 1, "text/plain")

		signed, err := store.Presign(ctx, "key1.txt", 30*time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		u, err := url.Parse(signed)
		if err != nil {
			t.Fatalf("presign produced an unparseable URL: %v", err)
		}
		if !strings.HasPrefix(u.Path, "/blob/") {
			t.Errorf("expected /blob path, got %q", u.Path)
		}

		key := strings.TrimPrefix(u.Path, "/blob/")
		if !store.VerifySignedRequest(key, u.Query().Get("exp"), u.Query().Get("sig")) {
			t.Error("freshly issued URL must verify")
		}
	})

	t.Run("tampered signature is rejected", func(t *testing.T) {
		store := newTestStore(t)

		signed, _ := store.Presign(ctx, "key1", 30*time.Minute)
		u, _ := url.Parse(signed)

		if store.VerifySignedRequest("otherkey", u.Query().Get("exp"), u.Query().Get("sig")) {
			t.Error("signature for one key must not verify another")
		}
		if store.VerifySignedRequest("key1", u.Query().Get("exp"), "deadbeef") {
			t.Error("forged signature must not verify")
		}
	})

	t.Run("expired URL is rejected", func(t *testing.T) {
		store := newTestStore(t)

		signed, _ := store.Presign(ctx, "key1", -time.Minute)
		u, _ := url.Parse(signed)

		if store.VerifySignedRequest("key1", u.Query().Get("exp"), u.Query().Get("sig")) {
			t.Error("URL past its expiry must not verify")
		}
	})

	t.Run("different secrets produce incompatible signatures", func(t *testing.T) {
		dir := t.TempDir()
		a := NewFileSystemStore(dir, "http://localhost:8080", []byte("secret-a"))
		b := NewFileSystemStore(dir, "http://localhost:8080", []byte("secret-b"))

		signed, _ := a.Presign(ctx, "key1", 30*time.Minute)
		u, _ := url.Parse(signed)

		if b.VerifySignedRequest("key1", u.Query().Get("exp"), u.Query().Get("sig")) {
			t.Error("signature must be bound to the signing secret")
		}
	})
}

func TestFileSystemStore_EnsureDir(t *testing.T) {
	t.Run("creates nested directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "storage", "path")
		store := NewFileSystemStore(dir, "http://localhost:8080", nil)

		if err := store.EnsureDir(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected a directory")
		}
	})
}
