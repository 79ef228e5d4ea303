// Package contentstore implements content-addressable storage for
// uploaded book files.
//
// Objects are identified by the sha256 digest of their bytes. Uploads
// stream through a temporary location while the digest is computed, then
// promote atomically into the hash-derived final location. Uploading
// bytes the store already holds is a no-op that returns the existing
// reference, so the same book pushed from three devices is stored once.
package contentstore

import (
	"context"
	"errors"
	"io"
)

// ErrIntegrity is returned when bytes read back from storage do not
// match the digest they were stored under. This is storage corruption
// and is never repaired silently.
var ErrIntegrity = errors.New("content digest mismatch")

// ErrNotFound is returned when no object exists for the requested hash.
var ErrNotFound = errors.New("content object not found")

// ContentRef is a stable reference to one stored object.
type ContentRef struct {
	Hash        string `json:"content_hash"`
	ByteSize    int64  `json:"byte_size"`
	StoragePath string `json:"-"`
}

// BlobStore is the byte-level storage medium. Implementations must make
// Put safe under concurrent identical uploads: both callers converge on
// one stored object and the loser's partial write is discarded.
type BlobStore interface {
	// Put streams the content once, computing its digest, and stores it
	// under the digest-derived key unless already present.
	Put(ctx context.Context, r io.Reader) (*ContentRef, error)

	// Open returns a reader over the object's bytes. The reader verifies
	// the digest as it is consumed and fails with ErrIntegrity on
	// mismatch at EOF.
	Open(ctx context.Context, hash string) (io.ReadCloser, error)

	// Exists reports whether an object is stored for the hash.
	Exists(ctx context.Context, hash string) (bool, error)

	// Delete removes the stored object. Callers must ensure no book
	// still references the hash.
	Delete(ctx context.Context, hash string) error
}

// objectKey returns the storage key for a hash, prefix-sharded to avoid
// flat-directory hot spots: ab/cd/abcd....
func objectKey(hash string) string {
	if len(hash) < 4 {
		return hash
	}
	return hash[0:2] + "/" + hash[2:4] + "/" + hash
}
