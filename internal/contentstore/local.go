package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Local stores objects on the local filesystem under a prefix-sharded
// directory layout. Promotion from the temp area uses a hard link, which
// the OS refuses when the target exists; that refusal is what makes two
// racing uploads of the same bytes converge on one file without either
// of them overwriting a published object.
type Local struct {
	baseDir string
	tempDir string
}

// NewLocal creates a local store rooted at baseDir. In-flight uploads
// live in tempDir; pass "" to use a "tmp" directory next to the objects.
func NewLocal(baseDir, tempDir string) (*Local, error) {
	if tempDir == "" {
		tempDir = filepath.Join(baseDir, "tmp")
	}
	for _, dir := range []string{baseDir, tempDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return &Local{baseDir: baseDir, tempDir: tempDir}, nil
}

// Put streams the content to a temp file while hashing, then promotes it
// into the final hash-keyed path. If the object already exists the temp
// copy is discarded and the existing reference returned.
func (l *Local) Put(ctx context.Context, r io.Reader) (*ContentRef, error) {
	tmpFile, err := os.CreateTemp(l.tempDir, "upload_*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath) // no-op once promoted
	}()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmpFile, hasher), r)
	if err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("flush upload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	key := objectKey(digest)
	finalPath := filepath.Join(l.baseDir, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}

	// Atomic create-if-not-exists. Losing the race is fine: the bytes
	// under the final path are identical by construction.
	if err := os.Link(tmpPath, finalPath); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("promote object: %w", err)
	}

	return &ContentRef{Hash: digest, ByteSize: size, StoragePath: key}, nil
}

// Open returns a digest-verifying reader over the stored object.
func (l *Local) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	f, err := os.Open(l.objectPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	return newVerifyingReader(f, hash), nil
}

// Exists reports whether the object file is present.
func (l *Local) Exists(ctx context.Context, hash string) (bool, error) {
	_, err := os.Stat(l.objectPath(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Delete removes the stored object. Deleting a missing object is not an
// error.
func (l *Local) Delete(ctx context.Context, hash string) error {
	err := os.Remove(l.objectPath(hash))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// CleanupTemp removes in-flight upload files older than maxAge. Uploads
// that crashed mid-stream leave these behind; live uploads are always
// younger than any sane maxAge.
func (l *Local) CleanupTemp(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(l.tempDir)
	if err != nil {
		return 0, fmt.Errorf("read temp dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(l.tempDir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// TempDir returns the in-flight upload directory.
func (l *Local) TempDir() string {
	return l.tempDir
}

func (l *Local) objectPath(hash string) string {
	return filepath.Join(l.baseDir, filepath.FromSlash(objectKey(hash)))
}

var _ BlobStore = (*Local)(nil)
