package contentstore

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/mrlokans/shelfsync/internal/entities"
)

// Registry is the database-side record of stored objects. Implemented by
// contentobjects.Repository.
type Registry interface {
	RegisterIfAbsent(hash string, size int64, storagePath, filename string) (*entities.ContentObject, bool, error)
	GetByHash(hash string) (*entities.ContentObject, error)
	AddFilename(hash, filename string) error
	Delete(hash string) error
}

// Service ties the byte-level blob store to the content object registry.
// This is the put/get/exists surface the HTTP layer and CLI consume.
type Service struct {
	blobs    BlobStore
	registry Registry
}

// NewService creates the content store service.
func NewService(blobs BlobStore, registry Registry) *Service {
	return &Service{blobs: blobs, registry: registry}
}

// Put stores the stream and registers the resulting object. Re-uploading
// known bytes, under any filename and from any device, returns the
// existing reference and only records the new filename.
func (s *Service) Put(ctx context.Context, r io.Reader, filename string) (*ContentRef, error) {
	ref, err := s.blobs.Put(ctx, r)
	if err != nil {
		return nil, err
	}

	_, created, err := s.registry.RegisterIfAbsent(ref.Hash, ref.ByteSize, ref.StoragePath, filename)
	if err != nil {
		return nil, fmt.Errorf("register content object: %w", err)
	}
	if created {
		log.Printf("Stored new content object %s (%d bytes)", ref.Hash, ref.ByteSize)
	}
	return ref, nil
}

// Open returns the object's metadata and a digest-verifying reader over
// its bytes.
func (s *Service) Open(ctx context.Context, hash string) (*entities.ContentObject, io.ReadCloser, error) {
	obj, err := s.registry.GetByHash(hash)
	if err != nil {
		return nil, nil, ErrNotFound
	}
	rc, err := s.blobs.Open(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	return obj, rc, nil
}

// Exists reports whether the hash is stored.
func (s *Service) Exists(ctx context.Context, hash string) (bool, error) {
	return s.blobs.Exists(ctx, hash)
}

// Delete removes the object bytes and its registry row. The caller is
// responsible for having checked that no book references the hash.
func (s *Service) Delete(ctx context.Context, hash string) error {
	if err := s.blobs.Delete(ctx, hash); err != nil {
		return err
	}
	return s.registry.Delete(hash)
}

// Verify re-reads the object and recomputes its digest. Returns
// ErrIntegrity on mismatch. Used by the verification sweep and the
// verify-store CLI command.
func (s *Service) Verify(ctx context.Context, hash string) error {
	rc, err := s.blobs.Open(ctx, hash)
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = io.Copy(io.Discard, rc)
	return err
}
