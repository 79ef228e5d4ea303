package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mikestefanello/backlite"
)

// TempFileCleaner removes abandoned upload spool files. Implemented by
// contentstore.Local.
type TempFileCleaner interface {
	CleanupTemp(maxAge time.Duration) (int, error)
}

// CleanupTempFilesTask removes temp files left behind by uploads that
// never reached promotion (client disconnects, crashes).
type CleanupTempFilesTask struct {
	MaxAgeMinutes int `json:"max_age_minutes"`
}

// Config returns the queue configuration for temp cleanup tasks.
func (t CleanupTempFilesTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "cleanup_temp_files",
		MaxAttempts: 3,
		Backoff:     5 * time.Minute,
		Timeout:     2 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// CleanupTempFilesProcessor creates a processor function for CleanupTempFilesTask.
func CleanupTempFilesProcessor(cleaner TempFileCleaner) backlite.QueueProcessor[CleanupTempFilesTask] {
	return func(ctx context.Context, task CleanupTempFilesTask) error {
		if cleaner == nil {
			return fmt.Errorf("temp file cleaner not configured")
		}

		maxAge := time.Duration(task.MaxAgeMinutes) * time.Minute
		if maxAge <= 0 {
			maxAge = time.Hour
		}

		removed, err := cleaner.CleanupTemp(maxAge)
		if err != nil {
			return fmt.Errorf("cleanup temp files: %w", err)
		}

		if removed > 0 {
			log.Printf("[TASK] Removed %d abandoned temp files older than %s", removed, maxAge)
		}
		return nil
	}
}

// NewCleanupTempFilesQueue creates a backlite queue for temp cleanup tasks.
func NewCleanupTempFilesQueue(cleaner TempFileCleaner) backlite.Queue {
	return backlite.NewQueue(CleanupTempFilesProcessor(cleaner))
}
