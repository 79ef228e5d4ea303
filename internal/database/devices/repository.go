// Package devices provides database operations for device pairing and
// sync cursor tracking.
//
// # Usage
//
//	repo := devices.NewRepository(db)
//	device, err := repo.GetOrCreate(userID, deviceID, "Kobo Libra", entities.DeviceTypeEReader)
package devices

import (
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/shelfsync/internal/entities"
)

// Repository handles all device database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new device repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetByID returns a device, scoped to its owning user.
func (r *Repository) GetByID(userID uint, id string) (*entities.Device, error) {
	var device entities.Device
	err := r.db.Where("user_id = ? AND id = ?", userID, id).First(&device).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// GetOrCreate returns the device, creating it on first pairing.
func (r *Repository) GetOrCreate(userID uint, id, name string, deviceType entities.DeviceType) (*entities.Device, error) {
	var device entities.Device
	err := r.db.Where("user_id = ? AND id = ?", userID, id).First(&device).Error
	if err == gorm.ErrRecordNotFound {
		device = entities.Device{
			ID:         id,
			UserID:     userID,
			Name:       name,
			DeviceType: deviceType,
		}
		if createErr := r.db.Create(&device).Error; createErr != nil {
			return nil, createErr
		}
		return &device, nil
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// GetForUser returns all devices paired by a user, newest first.
func (r *Repository) GetForUser(userID uint) ([]entities.Device, error) {
	var devices []entities.Device
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&devices).Error
	return devices, err
}

// AdvanceLastSync moves the device's sync cursor forward to t. The
// cursor never moves backwards, so a delayed or replayed merge response
// cannot regress it.
func (r *Repository) AdvanceLastSync(userID uint, id string, t time.Time) error {
	return r.db.Model(&entities.Device{}).
		Where("user_id = ? AND id = ? AND (last_sync_at IS NULL OR last_sync_at < ?)", userID, id, t).
		Update("last_sync_at", t).Error
}

// Rename updates the display name of a device.
func (r *Repository) Rename(userID uint, id, name string) error {
	return r.db.Model(&entities.Device{}).
		Where("user_id = ? AND id = ?", userID, id).
		Update("name", name).Error
}

// Delete unpairs a device. Its past edits stay; only the cursor record
// goes away.
func (r *Repository) Delete(userID uint, id string) error {
	return r.db.Where("user_id = ? AND id = ?", userID, id).
		Delete(&entities.Device{}).Error
}
