package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/syncengine"
)

// Merger performs one sync merge for a device batch.
type Merger interface {
	Merge(ctx context.Context, userID uint, deviceID string, since time.Time,
		states []syncengine.IncomingReadingState, annotations []syncengine.IncomingAnnotation) (*syncengine.Result, error)
}

// SyncStateStore provides the read side of the sync API.
type SyncStateStore interface {
	GetForBook(userID, bookID uint) (*entities.ReadingState, error)
}

// SyncAnnotationStore provides annotation reads for the sync API.
type SyncAnnotationStore interface {
	ListForBook(userID, bookID uint) ([]entities.Annotation, error)
}

// SyncRequest is the payload a device posts to merge its offline edits
// and pull everything it missed.
type SyncRequest struct {
	DeviceID      string                            `json:"device_id" binding:"required"`
	LastSyncAt    *time.Time                        `json:"last_sync_at"`
	ReadingStates []syncengine.IncomingReadingState `json:"reading_states"`
	Annotations   []syncengine.IncomingAnnotation   `json:"annotations"`
}

type SyncController struct {
	engine      Merger
	states      SyncStateStore
	annotations SyncAnnotationStore
}

func NewSyncController(engine Merger, states SyncStateStore, annotations SyncAnnotationStore) *SyncController {
	return &SyncController{
		engine:      engine,
		states:      states,
		annotations: annotations,
	}
}

// Sync handles POST /api/sync. The whole batch is processed even when
// individual records are rejected; per-record failures are reported in
// the response, not as an HTTP error.
func (s *SyncController) Sync(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid sync request: "+err.Error())
		return
	}

	var since time.Time
	if req.LastSyncAt != nil {
		since = *req.LastSyncAt
	}

	result, err := s.engine.Merge(c.Request.Context(), GetUserID(c), req.DeviceID, since,
		req.ReadingStates, req.Annotations)
	if err != nil {
		respondInternalError(c, err, "sync merge")
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetReadingState handles GET /api/sync/state/:book_id, returning the
// current server-side reading position for one book.
func (s *SyncController) GetReadingState(c *gin.Context) {
	bookID, ok := parseIDParam(c, "book_id")
	if !ok {
		return
	}

	state, err := s.states.GetForBook(GetUserID(c), bookID)
	if err == gorm.ErrRecordNotFound {
		respondNotFound(c, "reading state")
		return
	}
	if err != nil {
		respondInternalError(c, err, "get reading state")
		return
	}

	c.JSON(http.StatusOK, state)
}

// GetAnnotations handles GET /api/sync/annotations/:book_id, returning
// all live annotations for one book.
func (s *SyncController) GetAnnotations(c *gin.Context) {
	bookID, ok := parseIDParam(c, "book_id")
	if !ok {
		return
	}

	annotations, err := s.annotations.ListForBook(GetUserID(c), bookID)
	if err != nil {
		respondInternalError(c, err, "list annotations")
		return
	}

	c.JSON(http.StatusOK, gin.H{"annotations": annotations, "count": len(annotations)})
}
