package config

// Default paths for local data
const (
	// DefaultDatabasePath is the default path for the main application database
	DefaultDatabasePath = "./shelfsync.db"

	// DefaultStorageDir is the default root for content-addressed file storage
	DefaultStorageDir = "./storage"
)
