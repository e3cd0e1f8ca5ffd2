package storage

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileSystemStore implements ObjectStore on the local filesystem. It exists
// for development and single-node deployments; presigned URLs are emulated
// with HMAC-signed links served back through the /blob route.
type FileSystemStore struct {
	basePath string
	baseURL  string
	secret   []byte
}

// NewFileSystemStore creates a filesystem-backed object store. When secret is
// empty a random per-process key is used, which invalidates outstanding
// signed URLs on restart.
func NewFileSystemStore(basePath, baseURL string, secret []byte) *FileSystemStore {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		rand.Read(secret)
	}
	return &FileSystemStore{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
		secret:   secret,
	}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Put writes data to a file named after the storage key.
func (fs *FileSystemStore) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	path, err := fs.path(key)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		// Don't leave a truncated blob behind
		os.Remove(path)
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Get opens a stored blob for reading.
func (fs *FileSystemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := fs.path(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	return file, nil
}

// Remove deletes a stored blob. Removing an absent key succeeds.
func (fs *FileSystemStore) Remove(ctx context.Context, key string) error {
	path, err := fs.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return nil
}

// Presign emulates an S3-style presigned URL: a link to the /blob route
// carrying an expiry timestamp and an HMAC over key and expiry.
func (fs *FileSystemStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := fs.path(key); err != nil {
		return "", err
	}
	exp := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("%s/blob/%s?exp=%d&sig=%s", fs.baseURL, key, exp, fs.sign(key, exp)), nil
}

// VerifySignedRequest checks a /blob request's signature and expiry.
func (fs *FileSystemStore) VerifySignedRequest(key, expStr, sig string) bool {
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil || time.Now().Unix() > exp {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(fs.sign(key, exp)))
}

func (fs *FileSystemStore) sign(key string, exp int64) string {
	mac := hmac.New(sha256.New, fs.secret)
	fmt.Fprintf(mac, "%s\n%d", key, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

// path validates a storage key and maps it onto the base directory. Keys are
// generated server-side, but a key arriving via the /blob route must never
// escape the storage root.
func (fs *FileSystemStore) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(fs.basePath, key), nil
}
