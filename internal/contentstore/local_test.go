package contentstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocal(t *testing.T) *Local {
	t.Helper()
	local, err := NewLocal(t.TempDir(), "")
	require.NoError(t, err)
	return local
}

func TestLocalPut(t *testing.T) {
	local := setupLocal(t)
	ctx := context.Background()

	content := []byte("call me ishmael")
	wantHash := sha256.Sum256(content)
	wantDigest := hex.EncodeToString(wantHash[:])

	t.Run("stores under the content hash", func(t *testing.T) {
		ref, err := local.Put(ctx, bytes.NewReader(content))
		require.NoError(t, err)

		assert.Equal(t, wantDigest, ref.Hash)
		assert.Equal(t, int64(len(content)), ref.ByteSize)
		assert.Equal(t, wantDigest[0:2]+"/"+wantDigest[2:4]+"/"+wantDigest, ref.StoragePath)

		exists, err := local.Exists(ctx, ref.Hash)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("identical bytes are stored once", func(t *testing.T) {
		ref, err := local.Put(ctx, bytes.NewReader(content))
		require.NoError(t, err)
		assert.Equal(t, wantDigest, ref.Hash)
	})

	t.Run("temp dir is empty after promotion", func(t *testing.T) {
		entries, err := os.ReadDir(local.TempDir())
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("different bytes get different addresses", func(t *testing.T) {
		ref, err := local.Put(ctx, strings.NewReader("something else"))
		require.NoError(t, err)
		assert.NotEqual(t, wantDigest, ref.Hash)
	})
}

func TestLocalPutConcurrent(t *testing.T) {
	local := setupLocal(t)
	ctx := context.Background()

	content := []byte("simultaneously uploaded from several devices")

	const uploaders = 8
	refs := make([]*ContentRef, uploaders)
	errs := make([]error, uploaders)

	var wg sync.WaitGroup
	for i := 0; i < uploaders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			refs[i], errs[i] = local.Put(ctx, bytes.NewReader(content))
		}(i)
	}
	wg.Wait()

	for i := 0; i < uploaders; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, refs[0].Hash, refs[i].Hash)
	}

	// Exactly one object file on disk.
	rc, err := local.Open(ctx, refs[0].Hash)
	require.NoError(t, err)
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, content, stored)
}

func TestLocalOpen(t *testing.T) {
	local := setupLocal(t)
	ctx := context.Background()

	content := []byte("the stored text")
	ref, err := local.Put(ctx, bytes.NewReader(content))
	require.NoError(t, err)

	t.Run("round-trips content", func(t *testing.T) {
		rc, err := local.Open(ctx, ref.Hash)
		require.NoError(t, err)
		defer rc.Close()

		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("missing object", func(t *testing.T) {
		absent := sha256.Sum256([]byte("never stored"))
		_, err := local.Open(ctx, hex.EncodeToString(absent[:]))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("corrupted object fails the digest check", func(t *testing.T) {
		// Flip bytes behind the store's back.
		objPath := filepath.Join(local.baseDir, filepath.FromSlash(ref.StoragePath))
		require.NoError(t, os.Chmod(objPath, 0644))
		require.NoError(t, os.WriteFile(objPath, []byte("tampered bytes!"), 0644))

		rc, err := local.Open(ctx, ref.Hash)
		require.NoError(t, err, "corruption is only detectable while reading")
		defer rc.Close()

		_, err = io.ReadAll(rc)
		assert.ErrorIs(t, err, ErrIntegrity)
	})
}

func TestLocalDelete(t *testing.T) {
	local := setupLocal(t)
	ctx := context.Background()

	ref, err := local.Put(ctx, strings.NewReader("to be removed"))
	require.NoError(t, err)

	require.NoError(t, local.Delete(ctx, ref.Hash))

	exists, err := local.Exists(ctx, ref.Hash)
	require.NoError(t, err)
	assert.False(t, exists)

	t.Run("deleting twice is fine", func(t *testing.T) {
		assert.NoError(t, local.Delete(ctx, ref.Hash))
	})
}

func TestCleanupTemp(t *testing.T) {
	local := setupLocal(t)

	// Simulate abandoned uploads of different ages.
	stale := filepath.Join(local.TempDir(), "upload_stale")
	require.NoError(t, os.WriteFile(stale, []byte("half-uploaded"), 0644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := filepath.Join(local.TempDir(), "upload_fresh")
	require.NoError(t, os.WriteFile(fresh, []byte("in flight"), 0644))

	removed, err := local.CleanupTemp(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
