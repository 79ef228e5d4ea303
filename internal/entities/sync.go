package entities

import (
	"time"
)

type DeviceType string

const (
	DeviceTypeEReader DeviceType = "ereader"
	DeviceTypePhone   DeviceType = "phone"
	DeviceTypeBrowser DeviceType = "browser"
	DeviceTypeOther   DeviceType = "other"
)

type AnnotationKind string

const (
	AnnotationKindHighlight AnnotationKind = "highlight"
	AnnotationKindNote      AnnotationKind = "note"
	AnnotationKindBookmark  AnnotationKind = "bookmark"
)

// Device is one of a user's reading devices. LastSyncAt is the device's
// sync cursor; it only ever moves forward, and only as the result of a
// successful merge. The device ID is namespaced per user: ids are
// client-supplied, so two users presenting the same UUID get two
// independent rows instead of colliding.
type Device struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"` // UUID
	UserID     uint       `gorm:"primaryKey;index" json:"user_id"`
	Name       string     `gorm:"size:100" json:"name"`
	DeviceType DeviceType `gorm:"size:20;default:'other'" json:"device_type"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	User       User       `gorm:"foreignKey:UserID" json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ReadingState is the single live reading position for a (user, book)
// pair. The uniqueness is enforced by a composite index; writes go
// through the conditional upsert in the readingstates repository.
type ReadingState struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	UserID   uint   `gorm:"uniqueIndex:idx_reading_states_user_book" json:"user_id"`
	BookID   uint   `gorm:"uniqueIndex:idx_reading_states_user_book" json:"book_id"`
	DeviceID string `gorm:"size:36" json:"device_id"`

	Locator  string  `gorm:"size:1024" json:"locator"` // format-specific, opaque
	Progress float64 `json:"progress"`                 // [0,1]
	Chapter  string  `gorm:"size:256" json:"chapter,omitempty"`

	// Set from the originating device's clock, never by the ORM.
	UpdatedAt time.Time `gorm:"index;autoUpdateTime:false" json:"updated_at"`
}

// Annotation is a highlight, note or bookmark. The ID is assigned by
// whichever device created the annotation and is immutable after that.
// Identity is the (id, user) pair: ids are device-supplied, so one
// user's id choice can never address another user's row. Deleted
// annotations stay as tombstones so the deletion can reach devices
// that still hold the live record.
type Annotation struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"` // UUID, device-assigned
	UserID   uint   `gorm:"primaryKey;index" json:"user_id"`
	BookID   uint   `gorm:"index" json:"book_id"`
	DeviceID string `gorm:"size:36" json:"device_id"`

	Kind          AnnotationKind `gorm:"size:20" json:"type"`
	LocationStart string         `gorm:"size:1024" json:"location_start"`
	LocationEnd   string         `gorm:"size:1024" json:"location_end,omitempty"`
	Content       string         `gorm:"type:text" json:"content,omitempty"`
	Style         string         `gorm:"size:50" json:"style,omitempty"`

	Deleted bool `gorm:"default:false" json:"deleted"`

	CreatedAt time.Time `json:"created_at"`
	// Set from the originating device's clock, never by the ORM.
	UpdatedAt time.Time `gorm:"index;autoUpdateTime:false" json:"updated_at"`
}

func (Device) TableName() string {
	return "devices"
}

func (ReadingState) TableName() string {
	return "reading_states"
}

func (Annotation) TableName() string {
	return "annotations"
}

type ConflictResolution string

const (
	ResolutionServerWins ConflictResolution = "server_wins"
	ResolutionClientWins ConflictResolution = "client_wins"
)

// SyncConflict describes one incoming record that lost the timestamp
// comparison during a merge. Conflicts are response data, not errors,
// and are never persisted.
type SyncConflict struct {
	EntityType      string             `json:"entity_type"` // "reading_state" or "annotation"
	EntityID        string             `json:"entity_id"`
	LocalUpdatedAt  time.Time          `json:"local_updated_at"`
	ServerUpdatedAt time.Time          `json:"server_updated_at"`
	Resolution      ConflictResolution `json:"resolution"`
}

// SyncRejection reports one incoming record that failed validation.
// The rest of the batch is unaffected.
type SyncRejection struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Reason     string `json:"reason"`
}
