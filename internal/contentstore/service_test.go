package contentstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/shelfsync/internal/database/contentobjects"
	"github.com/mrlokans/shelfsync/internal/entities"
)

func setupService(t *testing.T) (*Service, *contentobjects.Repository, *Local) {
	t.Helper()

	dbPath := "./test_service_" + t.Name() + ".db"
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entities.ContentObject{}))

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
		os.Remove(dbPath)
	})

	local, err := NewLocal(t.TempDir(), "")
	require.NoError(t, err)

	registry := contentobjects.NewRepository(db)
	return NewService(local, registry), registry, local
}

func TestServicePut(t *testing.T) {
	service, registry, _ := setupService(t)
	ctx := context.Background()

	ref, err := service.Put(ctx, strings.NewReader("shared bytes"), "dune.epub")
	require.NoError(t, err)

	t.Run("registers the object", func(t *testing.T) {
		obj, err := registry.GetByHash(ref.Hash)
		require.NoError(t, err)
		assert.Equal(t, ref.ByteSize, obj.ByteSize)
		assert.Equal(t, "dune.epub", obj.Filenames)
	})

	t.Run("re-upload under another name dedupes", func(t *testing.T) {
		again, err := service.Put(ctx, strings.NewReader("shared bytes"), "dune-copy.epub")
		require.NoError(t, err)
		assert.Equal(t, ref.Hash, again.Hash)

		obj, err := registry.GetByHash(ref.Hash)
		require.NoError(t, err)
		assert.Contains(t, obj.Filenames, "dune.epub")
		assert.Contains(t, obj.Filenames, "dune-copy.epub")

		all, err := registry.All()
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestServiceOpen(t *testing.T) {
	service, _, _ := setupService(t)
	ctx := context.Background()

	ref, err := service.Put(ctx, strings.NewReader("downloadable"), "book.pdf")
	require.NoError(t, err)

	t.Run("returns metadata and content", func(t *testing.T) {
		obj, rc, err := service.Open(ctx, ref.Hash)
		require.NoError(t, err)
		defer rc.Close()

		assert.Equal(t, "book.pdf", obj.FirstFilename())
		assert.Equal(t, ref.ByteSize, obj.ByteSize)
	})

	t.Run("unregistered hash", func(t *testing.T) {
		_, _, err := service.Open(ctx, strings.Repeat("0", 64))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestServiceVerify(t *testing.T) {
	service, _, local := setupService(t)
	ctx := context.Background()

	ref, err := service.Put(ctx, strings.NewReader("fragile data"), "f.epub")
	require.NoError(t, err)

	t.Run("intact object passes", func(t *testing.T) {
		assert.NoError(t, service.Verify(ctx, ref.Hash))
	})

	t.Run("tampered object fails", func(t *testing.T) {
		objPath := filepath.Join(local.baseDir, filepath.FromSlash(ref.StoragePath))
		require.NoError(t, os.WriteFile(objPath, []byte("oops, wrong"), 0644))

		err := service.Verify(ctx, ref.Hash)
		assert.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("missing object reports not found", func(t *testing.T) {
		require.NoError(t, local.Delete(ctx, ref.Hash))

		err := service.Verify(ctx, ref.Hash)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestServiceDelete(t *testing.T) {
	service, registry, _ := setupService(t)
	ctx := context.Background()

	ref, err := service.Put(ctx, strings.NewReader("short-lived"), "tmp.epub")
	require.NoError(t, err)

	require.NoError(t, service.Delete(ctx, ref.Hash))

	exists, err := service.Exists(ctx, ref.Hash)
	require.NoError(t, err)
	assert.False(t, exists)

	registered, err := registry.Exists(ref.Hash)
	require.NoError(t, err)
	assert.False(t, registered)
}
