// Package database provides the data access layer for the application.
//
// # Architecture
//
// The database layer is organized into domain-specific sub-packages:
//
//	database/
//	├── database.go        # Connection setup, migrations, user/book helpers
//	├── devices/           # Device pairing and sync cursor tracking
//	├── readingstates/     # Per-book reading position, conditional LWW upserts
//	├── annotations/       # Highlights/notes/bookmarks, tombstoned LWW upserts
//	└── contentobjects/    # Deduplicated content object registry
//
// # Using Sub-packages
//
// Each sub-package provides a Repository type with domain-specific operations:
//
//	// Initialize database connection
//	db, err := database.NewDatabase("./shelfsync.db")
//
//	// Create domain-specific repositories
//	devicesRepo := devices.NewRepository(db.DB)
//	statesRepo := readingstates.NewRepository(db.DB)
//
//	// Use repositories
//	applied, err := statesRepo.UpsertIfNewer(state)
//
// # Write discipline
//
// ReadingState and Annotation rows are only ever written through the
// UpsertIfNewer conditional writes; nothing else in the codebase may
// update them directly. That single path is what keeps last-write-wins
// deterministic under concurrent sync calls.
//
// # Adding a New Domain
//
// To add a new domain (e.g., collections):
//
//  1. Create a new sub-package: internal/database/collections/
//  2. Define a Repository struct with a *gorm.DB field
//  3. Add NewRepository(db *gorm.DB) constructor
//  4. Implement the required interface
//  5. Add compile-time interface check: var _ SomeInterface = (*Repository)(nil)
package database
