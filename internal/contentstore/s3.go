package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds connection settings for an S3-compatible object store.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Store keeps objects in an S3-compatible bucket under the same
// prefix-sharded hash keys as the local backend. The upload still spools
// through a local temp file first: the digest has to be known before the
// object key exists, and a failed transfer must never publish a partial
// object under a hash key.
type S3Store struct {
	client  *minio.Client
	bucket  string
	tempDir string
}

// NewS3Store connects to the object store and ensures the bucket exists.
func NewS3Store(cfg S3Config, tempDir string) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	return &S3Store{client: client, bucket: cfg.Bucket, tempDir: tempDir}, nil
}

// Put spools the content to a temp file while hashing, then uploads it
// under its hash key unless the key is already present. Two racing
// uploads of the same bytes write the same key with identical content,
// so whichever finishes last changes nothing.
func (s *S3Store) Put(ctx context.Context, r io.Reader) (*ContentRef, error) {
	tmpFile, err := os.CreateTemp(s.tempDir, "upload_*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmpFile, hasher), r)
	if err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("flush upload: %w", err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	key := objectKey(digest)

	exists, err := s.keyExists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		_, err = s.client.FPutObject(ctx, s.bucket, key, tmpPath, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})
		if err != nil {
			return nil, fmt.Errorf("upload object: %w", err)
		}
	}

	return &ContentRef{Hash: digest, ByteSize: size, StoragePath: key}, nil
}

// Open returns a digest-verifying reader over the stored object.
func (s *S3Store) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	key := objectKey(hash)
	exists, err := s.keyExists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return newVerifyingReader(obj, hash), nil
}

// Exists reports whether an object is stored for the hash.
func (s *S3Store) Exists(ctx context.Context, hash string) (bool, error) {
	return s.keyExists(ctx, objectKey(hash))
}

// Delete removes the stored object. Deleting a missing object is not an
// error.
func (s *S3Store) Delete(ctx context.Context, hash string) error {
	err := s.client.RemoveObject(ctx, s.bucket, objectKey(hash), minio.RemoveObjectOptions{})
	if err != nil {
		var respErr minio.ErrorResponse
		if errors.As(err, &respErr) && respErr.Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *S3Store) keyExists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	var respErr minio.ErrorResponse
	if errors.As(err, &respErr) && respErr.Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat object: %w", err)
}

var _ BlobStore = (*S3Store)(nil)
