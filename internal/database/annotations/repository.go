// Package annotations provides database operations for highlights, notes
// and bookmarks.
//
// Annotations are keyed by a device-assigned UUID, scoped per user,
// and the UUID never changes.
// Deletion is a tombstone (deleted=true) written through the same
// last-write-wins upsert as any other field change, so deletions
// propagate to devices that still hold the live record, and a newer
// update can undelete.
//
// # Usage
//
//	repo := annotations.NewRepository(db)
//	applied, err := repo.UpsertIfNewer(&annotation)
package annotations

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mrlokans/shelfsync/internal/entities"
)

// Repository handles all annotation database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new annotation repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// UpsertIfNewer inserts the annotation, or updates the existing row only
// when the stored updated_at is strictly older than the incoming one.
// Equal timestamps keep the stored value. The comparison is a single
// conditional write in the database, keyed by (id, user_id) so a
// device-supplied id can only ever address its own user's row.
//
// Returns true when the incoming value was written.
func (r *Repository) UpsertIfNewer(a *entities.Annotation) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"device_id", "kind", "location_start", "location_end",
			"content", "style", "deleted", "updated_at",
		}),
		Where: clause.Where{
			Exprs: []clause.Expression{
				gorm.Expr("annotations.updated_at < excluded.updated_at"),
			},
		},
	}).Create(a)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetByID returns the annotation for the user, tombstones included.
func (r *Repository) GetByID(userID uint, id string) (*entities.Annotation, error) {
	var a entities.Annotation
	err := r.db.Where("user_id = ? AND id = ?", userID, id).First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListForBook returns the live annotations of a book ordered by their
// start locator. Tombstones are excluded; they only travel through
// UpdatedSince.
func (r *Repository) ListForBook(userID, bookID uint) ([]entities.Annotation, error) {
	var list []entities.Annotation
	err := r.db.Where("user_id = ? AND book_id = ? AND deleted = ?", userID, bookID, false).
		Order("location_start ASC, updated_at ASC").Find(&list).Error
	return list, err
}

// UpdatedSince returns every annotation for the user changed strictly
// after the given time, oldest first, tombstones included. This is the
// sync pull set.
func (r *Repository) UpdatedSince(userID uint, since time.Time) ([]entities.Annotation, error) {
	var list []entities.Annotation
	err := r.db.Where("user_id = ? AND updated_at > ?", userID, since).
		Order("updated_at ASC").Find(&list).Error
	return list, err
}

// CountForUser returns live and tombstoned annotation counts.
func (r *Repository) CountForUser(userID uint) (live int64, deleted int64, err error) {
	err = r.db.Model(&entities.Annotation{}).
		Where("user_id = ? AND deleted = ?", userID, false).Count(&live).Error
	if err != nil {
		return
	}
	err = r.db.Model(&entities.Annotation{}).
		Where("user_id = ? AND deleted = ?", userID, true).Count(&deleted).Error
	return
}
