// Package contentobjects provides database operations for the
// deduplicated content object registry.
//
// A content object row exists at most once per hash; RegisterIfAbsent is
// the only creation path and is safe under concurrent identical uploads.
//
// # Usage
//
//	repo := contentobjects.NewRepository(db)
//	obj, created, err := repo.RegisterIfAbsent(hash, size, path, filename)
package contentobjects

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mrlokans/shelfsync/internal/entities"
)

// Repository handles all content object database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new content object repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// RegisterIfAbsent records a stored object under its hash, or returns
// the existing record when another upload already registered the same
// bytes. The insert is a create-if-not-exists; two racing uploads of
// identical content converge on one row.
func (r *Repository) RegisterIfAbsent(hash string, size int64, storagePath, filename string) (*entities.ContentObject, bool, error) {
	obj := entities.ContentObject{
		Hash:        hash,
		ByteSize:    size,
		StoragePath: storagePath,
		Filenames:   filename,
	}
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hash"}},
		DoNothing: true,
	}).Create(&obj)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return &obj, true, nil
	}

	if filename != "" {
		if err := r.AddFilename(hash, filename); err != nil {
			return nil, false, err
		}
	}
	existing, err := r.GetByHash(hash)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByHash returns the content object for a hash, or gorm.ErrRecordNotFound.
func (r *Repository) GetByHash(hash string) (*entities.ContentObject, error) {
	var obj entities.ContentObject
	err := r.db.Where("hash = ?", hash).First(&obj).Error
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

// Exists reports whether an object is registered for the hash.
func (r *Repository) Exists(hash string) (bool, error) {
	var count int64
	err := r.db.Model(&entities.ContentObject{}).Where("hash = ?", hash).Count(&count).Error
	return count > 0, err
}

// AddFilename records another original filename seen for the object.
// Filenames are diagnostics only; duplicates are skipped.
func (r *Repository) AddFilename(hash, filename string) error {
	obj, err := r.GetByHash(hash)
	if err != nil {
		return err
	}
	for _, known := range strings.Split(obj.Filenames, "\n") {
		if known == filename {
			return nil
		}
	}
	joined := filename
	if obj.Filenames != "" {
		joined = obj.Filenames + "\n" + filename
	}
	return r.db.Model(&entities.ContentObject{}).
		Where("hash = ?", hash).
		Update("filenames", joined).Error
}

// All returns every registered object. Used by the integrity sweep.
func (r *Repository) All() ([]entities.ContentObject, error) {
	var objs []entities.ContentObject
	err := r.db.Order("created_at ASC").Find(&objs).Error
	return objs, err
}

// Delete removes the registry row for a hash. Reference counting across
// books is the library's concern; callers must only delete when no book
// still points at the hash.
func (r *Repository) Delete(hash string) error {
	return r.db.Where("hash = ?", hash).Delete(&entities.ContentObject{}).Error
}
