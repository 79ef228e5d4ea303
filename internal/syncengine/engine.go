// Package syncengine merges batches of per-device edits into the
// authoritative per-user state.
//
// The policy is deliberately plain last-write-wins on the device-set
// updated_at timestamp, with the server value kept on an exact tie.
// There is no clock correction and no causality tracking; devices are
// single-writer per entity in the common case and the simplicity is the
// point. Conflicts are not errors: the losing value is dropped and the
// drop is reported in the response so the device can reconcile.
package syncengine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mrlokans/shelfsync/internal/entities"
)

// maxWriteAttempts bounds the retry loop for a single record's
// conditional write when it loses a race to a concurrent sync call.
const maxWriteAttempts = 3

// ReadingStateStore is implemented by readingstates.Repository.
type ReadingStateStore interface {
	UpsertIfNewer(state *entities.ReadingState) (bool, error)
	GetForBook(userID, bookID uint) (*entities.ReadingState, error)
	UpdatedSince(userID uint, since time.Time) ([]entities.ReadingState, error)
}

// AnnotationStore is implemented by annotations.Repository.
type AnnotationStore interface {
	UpsertIfNewer(a *entities.Annotation) (bool, error)
	GetByID(userID uint, id string) (*entities.Annotation, error)
	UpdatedSince(userID uint, since time.Time) ([]entities.Annotation, error)
}

// DeviceStore is implemented by devices.Repository.
type DeviceStore interface {
	GetOrCreate(userID uint, id, name string, deviceType entities.DeviceType) (*entities.Device, error)
	AdvanceLastSync(userID uint, id string, t time.Time) error
}

// BookChecker validates that incoming records reference books the user
// actually owns. Implemented by database.Database.
type BookChecker interface {
	BookOwnedByUser(bookID, userID uint) (bool, error)
}

// IncomingReadingState is one device-side reading position edit.
type IncomingReadingState struct {
	BookID    uint      `json:"book_id"`
	Locator   string    `json:"locator"`
	Progress  float64   `json:"progress"`
	Chapter   string    `json:"chapter,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IncomingAnnotation is one device-side annotation edit. An empty ID
// means the record is a new creation and the engine assigns one.
type IncomingAnnotation struct {
	ID            string                  `json:"id,omitempty"`
	BookID        uint                    `json:"book_id"`
	Kind          entities.AnnotationKind `json:"type"`
	LocationStart string                  `json:"location_start"`
	LocationEnd   string                  `json:"location_end,omitempty"`
	Content       string                  `json:"content,omitempty"`
	Style         string                  `json:"style,omitempty"`
	UpdatedAt     time.Time               `json:"updated_at"`
	Deleted       bool                    `json:"deleted"`
}

// Result is everything a device needs to converge: the pull set of
// server-side changes since its cursor, the conflicts that resolved
// against it, the records it submitted that were rejected, and the new
// cursor value.
type Result struct {
	ServerTime    time.Time                `json:"server_time"`
	ReadingStates []entities.ReadingState  `json:"reading_states"`
	Annotations   []entities.Annotation    `json:"annotations"`
	Conflicts     []entities.SyncConflict  `json:"conflicts"`
	Rejected      []entities.SyncRejection `json:"rejected,omitempty"`
}

// Engine coordinates one merge call. It holds no state of its own; all
// consistency comes from the conditional writes in the repositories.
type Engine struct {
	states      ReadingStateStore
	annotations AnnotationStore
	devices     DeviceStore
	books       BookChecker
}

// NewEngine creates a merge engine.
func NewEngine(states ReadingStateStore, annotations AnnotationStore, devices DeviceStore, books BookChecker) *Engine {
	return &Engine{
		states:      states,
		annotations: annotations,
		devices:     devices,
		books:       books,
	}
}

// Merge applies a device's accumulated edits and computes what the
// device is missing. since is the device's last known good sync point;
// the zero value forces a full pull. Replaying an identical batch is
// safe: the upsert rule is monotonic on updated_at, not apply-once.
func (e *Engine) Merge(ctx context.Context, userID uint, deviceID string, since time.Time,
	states []IncomingReadingState, annotations []IncomingAnnotation) (*Result, error) {

	if _, err := e.devices.GetOrCreate(userID, deviceID, "", entities.DeviceTypeOther); err != nil {
		return nil, fmt.Errorf("resolve device: %w", err)
	}

	result := &Result{
		Conflicts: []entities.SyncConflict{},
		Rejected:  []entities.SyncRejection{},
	}

	for i := range states {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.mergeReadingState(userID, deviceID, &states[i], result)
	}
	for i := range annotations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.mergeAnnotation(userID, deviceID, &annotations[i], result)
	}

	// Pull set: everything changed after the device's cursor, including
	// this call's own winning writes and edits from other devices.
	pulledStates, err := e.states.UpdatedSince(userID, since)
	if err != nil {
		return nil, fmt.Errorf("collect reading states: %w", err)
	}
	pulledAnnotations, err := e.annotations.UpdatedSince(userID, since)
	if err != nil {
		return nil, fmt.Errorf("collect annotations: %w", err)
	}
	result.ReadingStates = pulledStates
	result.Annotations = pulledAnnotations

	result.ServerTime = time.Now().UTC()
	if err := e.devices.AdvanceLastSync(userID, deviceID, result.ServerTime); err != nil {
		return nil, fmt.Errorf("advance sync cursor: %w", err)
	}

	return result, nil
}

func (e *Engine) mergeReadingState(userID uint, deviceID string, in *IncomingReadingState, result *Result) {
	entityID := strconv.FormatUint(uint64(in.BookID), 10)

	if reason := e.validateReadingState(userID, in); reason != "" {
		result.Rejected = append(result.Rejected, entities.SyncRejection{
			EntityType: "reading_state",
			EntityID:   entityID,
			Reason:     reason,
		})
		return
	}

	state := &entities.ReadingState{
		UserID:    userID,
		BookID:    in.BookID,
		DeviceID:  deviceID,
		Locator:   in.Locator,
		Progress:  in.Progress,
		Chapter:   in.Chapter,
		UpdatedAt: in.UpdatedAt.UTC(),
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		applied, err := e.states.UpsertIfNewer(state)
		if err != nil {
			result.Rejected = append(result.Rejected, entities.SyncRejection{
				EntityType: "reading_state",
				EntityID:   entityID,
				Reason:     "write failed: " + err.Error(),
			})
			return
		}
		if applied {
			return
		}

		// The conditional write kept the stored row. Look at it to
		// decide whether that was a real conflict or an idempotent
		// replay of a value the server already holds.
		current, err := e.states.GetForBook(userID, in.BookID)
		if err == gorm.ErrRecordNotFound {
			// Row vanished between write and read; try again.
			continue
		}
		if err != nil {
			result.Rejected = append(result.Rejected, entities.SyncRejection{
				EntityType: "reading_state",
				EntityID:   entityID,
				Reason:     "read after write failed: " + err.Error(),
			})
			return
		}
		if current.UpdatedAt.After(state.UpdatedAt) {
			result.Conflicts = append(result.Conflicts, entities.SyncConflict{
				EntityType:      "reading_state",
				EntityID:        entityID,
				LocalUpdatedAt:  state.UpdatedAt,
				ServerUpdatedAt: current.UpdatedAt,
				Resolution:      entities.ResolutionServerWins,
			})
		}
		// Equal timestamps: idempotent replay, neither a write nor a
		// conflict.
		return
	}

	result.Rejected = append(result.Rejected, entities.SyncRejection{
		EntityType: "reading_state",
		EntityID:   entityID,
		Reason:     "write contention, retries exhausted",
	})
}

func (e *Engine) mergeAnnotation(userID uint, deviceID string, in *IncomingAnnotation, result *Result) {
	if in.ID == "" {
		// New creation: the server assigns the identity the device
		// failed to provide. No conflict is possible on a fresh UUID.
		in.ID = uuid.NewString()
	}
	entityID := in.ID

	if reason := e.validateAnnotation(userID, in); reason != "" {
		result.Rejected = append(result.Rejected, entities.SyncRejection{
			EntityType: "annotation",
			EntityID:   entityID,
			Reason:     reason,
		})
		return
	}

	annotation := &entities.Annotation{
		ID:            in.ID,
		UserID:        userID,
		BookID:        in.BookID,
		DeviceID:      deviceID,
		Kind:          in.Kind,
		LocationStart: in.LocationStart,
		LocationEnd:   in.LocationEnd,
		Content:       in.Content,
		Style:         in.Style,
		Deleted:       in.Deleted,
		UpdatedAt:     in.UpdatedAt.UTC(),
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		applied, err := e.annotations.UpsertIfNewer(annotation)
		if err != nil {
			result.Rejected = append(result.Rejected, entities.SyncRejection{
				EntityType: "annotation",
				EntityID:   entityID,
				Reason:     "write failed: " + err.Error(),
			})
			return
		}
		if applied {
			return
		}

		current, err := e.annotations.GetByID(userID, in.ID)
		if err == gorm.ErrRecordNotFound {
			continue
		}
		if err != nil {
			result.Rejected = append(result.Rejected, entities.SyncRejection{
				EntityType: "annotation",
				EntityID:   entityID,
				Reason:     "read after write failed: " + err.Error(),
			})
			return
		}
		if current.UpdatedAt.After(annotation.UpdatedAt) {
			result.Conflicts = append(result.Conflicts, entities.SyncConflict{
				EntityType:      "annotation",
				EntityID:        entityID,
				LocalUpdatedAt:  annotation.UpdatedAt,
				ServerUpdatedAt: current.UpdatedAt,
				Resolution:      entities.ResolutionServerWins,
			})
		}
		return
	}

	result.Rejected = append(result.Rejected, entities.SyncRejection{
		EntityType: "annotation",
		EntityID:   entityID,
		Reason:     "write contention, retries exhausted",
	})
}

func (e *Engine) validateReadingState(userID uint, in *IncomingReadingState) string {
	if in.Locator == "" {
		return "locator must not be empty"
	}
	if in.Progress < 0 || in.Progress > 1 {
		return "progress must be within [0,1]"
	}
	if in.UpdatedAt.IsZero() {
		return "updated_at must be set"
	}
	owned, err := e.books.BookOwnedByUser(in.BookID, userID)
	if err != nil {
		return "ownership check failed: " + err.Error()
	}
	if !owned {
		return "unknown book"
	}
	return ""
}

func (e *Engine) validateAnnotation(userID uint, in *IncomingAnnotation) string {
	switch in.Kind {
	case entities.AnnotationKindHighlight, entities.AnnotationKindNote, entities.AnnotationKindBookmark:
	default:
		return "unknown annotation type"
	}
	if in.LocationStart == "" {
		return "location_start must not be empty"
	}
	if in.UpdatedAt.IsZero() {
		return "updated_at must be set"
	}
	if _, err := uuid.Parse(in.ID); err != nil {
		return "id must be a UUID"
	}
	owned, err := e.books.BookOwnedByUser(in.BookID, userID)
	if err != nil {
		return "ownership check failed: " + err.Error()
	}
	if !owned {
		return "unknown book"
	}
	return ""
}
