// Package clientqueue is the device-side half of the sync protocol: a
// durable queue of local edits made while offline, replayed in order on
// reconnect.
//
// The queue leans on the server's merge semantics: a sync call is
// idempotent under at-least-once delivery, so it is always safe to send
// the same batch again after a dropped response. The local cursor is
// advanced only after the server's response has been durably recorded,
// never optimistically, and a memo of the last response per batch lets
// an identical retry skip the network entirely.
package clientqueue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/shelfsync/internal/syncengine"
)

const (
	mutationReadingState = "reading_state"
	mutationAnnotation   = "annotation"
)

// PendingMutation is one not-yet-acknowledged local edit. The
// auto-incremented ID fixes replay order to enqueue order.
type PendingMutation struct {
	ID         uint      `gorm:"primaryKey"`
	Kind       string    `gorm:"size:20;index"`
	Payload    []byte    `gorm:"type:blob"`
	EnqueuedAt time.Time `gorm:"autoCreateTime"`
}

// syncCursor is the single durable row holding the device's last known
// good sync point.
type syncCursor struct {
	ID    uint `gorm:"primaryKey"` // always 1
	Since time.Time
}

// responseMemo caches the server response for one exact batch so that a
// retry of an identical batch after a lost response needs no round trip.
type responseMemo struct {
	BatchDigest string `gorm:"primaryKey;size:64"`
	Response    []byte `gorm:"type:blob"`
	CreatedAt   time.Time
}

// SyncCaller performs the actual sync call. Implemented by Client in
// this package; tests substitute their own.
type SyncCaller interface {
	Call(ctx context.Context, req SyncRequest) (*syncengine.Result, error)
}

// SyncRequest mirrors the server's sync endpoint payload.
type SyncRequest struct {
	DeviceID      string                           `json:"device_id"`
	LastSyncAt    *time.Time                       `json:"last_sync_at,omitempty"`
	ReadingStates []syncengine.IncomingReadingState `json:"reading_states"`
	Annotations   []syncengine.IncomingAnnotation   `json:"annotations"`
}

// Queue buffers local mutations in a device-local sqlite database and
// replays them through a SyncCaller when asked.
type Queue struct {
	db       *gorm.DB
	caller   SyncCaller
	deviceID string
}

// NewQueue opens (or creates) the device-local queue database.
func NewQueue(dbPath, deviceID string, caller SyncCaller) (*Queue, error) {
	db, err := gorm.Open(sqlite.Open(dbPath+"?_journal=WAL&_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	if err := db.AutoMigrate(&PendingMutation{}, &syncCursor{}, &responseMemo{}); err != nil {
		return nil, fmt.Errorf("failed to migrate queue database: %w", err)
	}

	return &Queue{db: db, caller: caller, deviceID: deviceID}, nil
}

// Close releases the underlying database.
func (q *Queue) Close() error {
	sqlDB, err := q.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnqueueReadingState records a local reading position edit for later
// delivery. Durable before return.
func (q *Queue) EnqueueReadingState(state syncengine.IncomingReadingState) error {
	return q.enqueue(mutationReadingState, state)
}

// EnqueueAnnotation records a local annotation edit for later delivery.
// Durable before return.
func (q *Queue) EnqueueAnnotation(a syncengine.IncomingAnnotation) error {
	return q.enqueue(mutationAnnotation, a)
}

func (q *Queue) enqueue(kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode mutation: %w", err)
	}
	return q.db.Create(&PendingMutation{Kind: kind, Payload: data}).Error
}

// PendingCount returns how many mutations await delivery.
func (q *Queue) PendingCount() (int64, error) {
	var count int64
	err := q.db.Model(&PendingMutation{}).Count(&count).Error
	return count, err
}

// Since returns the device's durable sync cursor; zero when the device
// has never completed a sync (which forces a full pull).
func (q *Queue) Since() (time.Time, error) {
	var cursor syncCursor
	err := q.db.First(&cursor, 1).Error
	if err == gorm.ErrRecordNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return cursor.Since, nil
}

// Flush replays all pending mutations, oldest first, in a single sync
// call. The server response is recorded durably first; only then are the
// delivered mutations removed and the cursor advanced to the server's
// time. A crash at any point leaves the queue in a state where the next
// Flush either replays the batch (safe, the merge is idempotent) or
// finds the recorded response and finishes the acknowledgement.
func (q *Queue) Flush(ctx context.Context) (*syncengine.Result, error) {
	var pending []PendingMutation
	if err := q.db.Order("id ASC").Find(&pending).Error; err != nil {
		return nil, fmt.Errorf("load pending mutations: %w", err)
	}

	since, err := q.Since()
	if err != nil {
		return nil, fmt.Errorf("load sync cursor: %w", err)
	}

	req := SyncRequest{
		DeviceID:      q.deviceID,
		ReadingStates: []syncengine.IncomingReadingState{},
		Annotations:   []syncengine.IncomingAnnotation{},
	}
	if !since.IsZero() {
		t := since
		req.LastSyncAt = &t
	}

	for _, m := range pending {
		switch m.Kind {
		case mutationReadingState:
			var state syncengine.IncomingReadingState
			if err := json.Unmarshal(m.Payload, &state); err != nil {
				return nil, fmt.Errorf("decode queued reading state %d: %w", m.ID, err)
			}
			req.ReadingStates = append(req.ReadingStates, state)
		case mutationAnnotation:
			var a syncengine.IncomingAnnotation
			if err := json.Unmarshal(m.Payload, &a); err != nil {
				return nil, fmt.Errorf("decode queued annotation %d: %w", m.ID, err)
			}
			req.Annotations = append(req.Annotations, a)
		default:
			return nil, fmt.Errorf("unknown queued mutation kind %q", m.Kind)
		}
	}

	digest := batchDigest(req)

	// An identical batch already answered once skips the network. This
	// covers a crash after the server committed the merge but before
	// the local queue acknowledged it.
	var result *syncengine.Result
	var memo responseMemo
	if err := q.db.Where("batch_digest = ?", digest).First(&memo).Error; err == nil {
		var cached syncengine.Result
		if err := json.Unmarshal(memo.Response, &cached); err == nil {
			log.Printf("Sync batch %s already answered, using recorded response", digest[:12])
			result = &cached
		}
	}

	if result == nil {
		result, err = q.caller.Call(ctx, req)
		if err != nil {
			// Mutations stay queued; the next Flush retries the same batch.
			return nil, fmt.Errorf("sync call: %w", err)
		}

		encoded, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode sync response: %w", err)
		}

		// Record the response before touching the queue: if the process
		// dies here, the retry replays the same digest and finds the
		// answer locally instead of re-sending.
		if err := q.db.Save(&responseMemo{BatchDigest: digest, Response: encoded, CreatedAt: time.Now()}).Error; err != nil {
			return nil, fmt.Errorf("record sync response: %w", err)
		}
	}

	// Only now, with the response durable, drain the batch and advance
	// the cursor. Crashing before this transaction leaves the batch
	// queued for a harmless replay. Acknowledging also spends the memo:
	// with the batch drained and the cursor moved, its digest can never
	// recur, so the memo table is cleared rather than left to grow.
	err = q.db.Transaction(func(tx *gorm.DB) error {
		if len(pending) > 0 {
			lastID := pending[len(pending)-1].ID
			if err := tx.Where("id <= ?", lastID).Delete(&PendingMutation{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&responseMemo{}).Error; err != nil {
			return err
		}
		return tx.Save(&syncCursor{ID: 1, Since: result.ServerTime}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("acknowledge sync batch: %w", err)
	}

	return result, nil
}

// batchDigest fingerprints a request so identical retries can be
// recognized. Includes the cursor: the same edits sent from a different
// sync point are a different batch.
func batchDigest(req SyncRequest) string {
	data, _ := json.Marshal(req)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
