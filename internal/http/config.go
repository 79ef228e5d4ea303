package http

import (
	"github.com/mrlokans/shelfsync/internal/database"
)

// RouterConfig contains all dependencies and configuration needed
// to create the HTTP router. This replaces a long parameter list
// in NewRouter for better maintainability.
type RouterConfig struct {
	// Core dependencies
	Database *database.Database
	Engine   Merger

	// Per-entity stores
	States      SyncStateStore
	Annotations SyncAnnotationStore
	Devices     DeviceStore
	Books       BookStore

	// Content storage
	ContentStore ContentStore
	BookLinker   BookLinker

	// Application info
	Version string
}
