// Package readingstates provides database operations for per-book reading positions.
//
// All writes go through UpsertIfNewer, a single atomic conditional write
// implementing last-write-wins on updated_at. Equal timestamps keep the
// stored value, so replaying the same batch can never oscillate.
//
// # Usage
//
//	repo := readingstates.NewRepository(db)
//	applied, err := repo.UpsertIfNewer(&state)
package readingstates

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mrlokans/shelfsync/internal/entities"
)

// Repository handles all reading state database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new reading state repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// UpsertIfNewer inserts the state, or updates the existing row for
// (user, book) only when the stored updated_at is strictly older than
// the incoming one. The comparison happens inside the database, so two
// concurrent sync calls cannot interleave a stale overwrite.
//
// Returns true when the incoming value was written, false when the
// stored value was newer (or equally old) and was kept.
func (r *Repository) UpsertIfNewer(state *entities.ReadingState) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"device_id", "locator", "progress", "chapter", "updated_at",
		}),
		Where: clause.Where{
			Exprs: []clause.Expression{
				gorm.Expr("reading_states.updated_at < excluded.updated_at"),
			},
		},
	}).Create(state)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetForBook returns the current reading state for (user, book), or
// gorm.ErrRecordNotFound.
func (r *Repository) GetForBook(userID, bookID uint) (*entities.ReadingState, error) {
	var state entities.ReadingState
	err := r.db.Where("user_id = ? AND book_id = ?", userID, bookID).First(&state).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// GetForUser returns all reading states for a user, newest first.
func (r *Repository) GetForUser(userID uint) ([]entities.ReadingState, error) {
	var states []entities.ReadingState
	err := r.db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&states).Error
	return states, err
}

// UpdatedSince returns every reading state for the user changed strictly
// after the given time, oldest first. This is the sync pull set.
func (r *Repository) UpdatedSince(userID uint, since time.Time) ([]entities.ReadingState, error) {
	var states []entities.ReadingState
	err := r.db.Where("user_id = ? AND updated_at > ?", userID, since).
		Order("updated_at ASC").Find(&states).Error
	return states, err
}

// Delete removes the reading state for a book. Only used when a book is
// removed from the library entirely.
func (r *Repository) Delete(userID, bookID uint) error {
	return r.db.Where("user_id = ? AND book_id = ?", userID, bookID).
		Delete(&entities.ReadingState{}).Error
}
