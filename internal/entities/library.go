package entities

import (
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"
)

type BookFormat string

const (
	BookFormatEpub BookFormat = "epub"
	BookFormatPDF  BookFormat = "pdf"
)

// FormatFromFilename guesses the book format from a filename extension,
// defaulting to epub.
func FormatFromFilename(name string) BookFormat {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return BookFormatPDF
	default:
		return BookFormatEpub
	}
}

type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Username  string         `gorm:"uniqueIndex;size:100" json:"username"`
	Email     string         `gorm:"uniqueIndex;size:255" json:"email"`
	Token     string         `gorm:"uniqueIndex;size:64" json:"-"` // API token, hidden from JSON
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type Book struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UserID      uint           `gorm:"index" json:"user_id"`
	Title       string         `gorm:"index;size:512" json:"title"`
	Author      string         `gorm:"index;size:256" json:"author"`
	Format      BookFormat     `gorm:"size:10" json:"format,omitempty"`
	ContentHash string         `gorm:"index;size:64" json:"content_hash,omitempty"`
	FileSize    int64          `json:"file_size,omitempty"`
	User        User           `gorm:"foreignKey:UserID" json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// ContentObject is one deduplicated stored file, keyed purely by the
// sha256 digest of its bytes. Filenames are recorded for diagnostics
// only and never participate in addressing.
type ContentObject struct {
	Hash        string    `gorm:"primaryKey;size:64" json:"hash"`
	ByteSize    int64     `json:"byte_size"`
	StoragePath string    `gorm:"size:1024" json:"storage_path"`
	Filenames   string    `gorm:"type:text" json:"filenames,omitempty"` // newline-separated original names
	CreatedAt   time.Time `json:"created_at"`
}

// FirstFilename returns the first recorded original filename, or "".
func (c *ContentObject) FirstFilename() string {
	name, _, _ := strings.Cut(c.Filenames, "\n")
	return name
}

func (User) TableName() string {
	return "users"
}

func (Book) TableName() string {
	return "books"
}

func (ContentObject) TableName() string {
	return "content_objects"
}
