package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/shelfsync/internal/contentstore"
	"github.com/mrlokans/shelfsync/internal/entities"
)

// ContentLister enumerates every registered content object.
type ContentLister interface {
	All() ([]entities.ContentObject, error)
}

// ContentVerifier re-reads one stored object and checks its digest.
type ContentVerifier interface {
	Verify(ctx context.Context, hash string) error
}

// VerifyContentTask sweeps the content store and re-hashes every stored
// object against its address. Corrupted or missing objects are logged;
// the sweep itself never fails the task for a bad object, only for an
// inability to run.
type VerifyContentTask struct{}

// Config returns the queue configuration for content verification sweeps.
func (t VerifyContentTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "verify_content",
		MaxAttempts: 2,
		Backoff:     10 * time.Minute,
		Timeout:     30 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   7 * 24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// VerifyContentProcessor creates a processor function for VerifyContentTask.
func VerifyContentProcessor(lister ContentLister, verifier ContentVerifier) backlite.QueueProcessor[VerifyContentTask] {
	return func(ctx context.Context, task VerifyContentTask) error {
		if lister == nil || verifier == nil {
			return fmt.Errorf("content verification not configured")
		}

		objects, err := lister.All()
		if err != nil {
			return fmt.Errorf("list content objects: %w", err)
		}

		var corrupted, missing int
		for _, obj := range objects {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := verifier.Verify(ctx, obj.Hash)
			switch {
			case err == nil:
			case errors.Is(err, contentstore.ErrIntegrity):
				corrupted++
				log.Printf("[TASK ERROR] Content %s failed integrity check: %v", obj.Hash, err)
			case errors.Is(err, contentstore.ErrNotFound):
				missing++
				log.Printf("[TASK ERROR] Content %s is registered but missing from storage", obj.Hash)
			default:
				return fmt.Errorf("verify %s: %w", obj.Hash, err)
			}
		}

		log.Printf("[TASK] Verified %d content objects (%d corrupted, %d missing)", len(objects), corrupted, missing)
		return nil
	}
}

// NewVerifyContentQueue creates a backlite queue for verification sweeps.
func NewVerifyContentQueue(lister ContentLister, verifier ContentVerifier) backlite.Queue {
	return backlite.NewQueue(VerifyContentProcessor(lister, verifier))
}
