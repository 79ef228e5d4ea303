package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/shelfsync/internal/database"
	"github.com/mrlokans/shelfsync/internal/database/annotations"
	"github.com/mrlokans/shelfsync/internal/database/devices"
	"github.com/mrlokans/shelfsync/internal/database/readingstates"
	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/syncengine"
)

type syncTestEnv struct {
	db     *database.Database
	router *gin.Engine
	user   *entities.User
	book   *entities.Book
}

func setupSyncTest(t *testing.T) (*syncTestEnv, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbPath := "./test_sync_" + strings.ReplaceAll(t.Name(), "/", "_") + ".db"
	db, err := database.NewDatabase(dbPath)
	require.NoError(t, err)

	user, err := db.CreateUser("reader", "reader@example.com")
	require.NoError(t, err)

	book := &entities.Book{UserID: user.ID, Title: "Solaris", Author: "Stanislaw Lem"}
	require.NoError(t, db.CreateBook(book))

	stateRepo := readingstates.NewRepository(db.DB)
	annotationRepo := annotations.NewRepository(db.DB)
	deviceRepo := devices.NewRepository(db.DB)
	engine := syncengine.NewEngine(stateRepo, annotationRepo, deviceRepo, db)

	controller := NewSyncController(engine, stateRepo, annotationRepo)

	router := gin.New()
	api := router.Group("/api")
	api.Use(TokenAuthMiddleware(db))
	api.POST("/sync", controller.Sync)
	api.GET("/sync/state/:book_id", controller.GetReadingState)
	api.GET("/sync/annotations/:book_id", controller.GetAnnotations)

	env := &syncTestEnv{db: db, router: router, user: user, book: book}
	cleanup := func() {
		db.Close()
		os.Remove(dbPath)
	}
	return env, cleanup
}

func (env *syncTestEnv) postSync(t *testing.T, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/sync", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	env.router.ServeHTTP(w, req)
	return w
}

func TestSyncEndpoint(t *testing.T) {
	env, cleanup := setupSyncTest(t)
	defer cleanup()

	deviceID := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("requires a token", func(t *testing.T) {
		w := env.postSync(t, "", SyncRequest{DeviceID: deviceID})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects an invalid token", func(t *testing.T) {
		w := env.postSync(t, "bogus", SyncRequest{DeviceID: deviceID})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects a request without device_id", func(t *testing.T) {
		w := env.postSync(t, env.user.Token, map[string]any{"reading_states": []any{}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("merges a batch and returns the pull set", func(t *testing.T) {
		w := env.postSync(t, env.user.Token, SyncRequest{
			DeviceID: deviceID,
			ReadingStates: []syncengine.IncomingReadingState{{
				BookID:    env.book.ID,
				Locator:   "epubcfi(/6/10)",
				Progress:  0.4,
				UpdatedAt: now,
			}},
		})
		require.Equal(t, http.StatusOK, w.Code)

		var result syncengine.Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Empty(t, result.Conflicts)
		require.Len(t, result.ReadingStates, 1)
		assert.Equal(t, "epubcfi(/6/10)", result.ReadingStates[0].Locator)
		assert.False(t, result.ServerTime.IsZero())
	})

	t.Run("per-record failures come back in the response body", func(t *testing.T) {
		w := env.postSync(t, env.user.Token, SyncRequest{
			DeviceID: deviceID,
			ReadingStates: []syncengine.IncomingReadingState{{
				BookID:    9999,
				Locator:   "loc",
				Progress:  0.4,
				UpdatedAt: now,
			}},
		})
		require.Equal(t, http.StatusOK, w.Code, "rejections are data, not HTTP errors")

		var result syncengine.Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		require.Len(t, result.Rejected, 1)
		assert.Equal(t, "reading_state", result.Rejected[0].EntityType)
	})
}

func TestGetReadingStateEndpoint(t *testing.T) {
	env, cleanup := setupSyncTest(t)
	defer cleanup()

	deviceID := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("404 before any sync", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/sync/state/1", nil)
		req.Header.Set("Authorization", "Bearer "+env.user.Token)
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("returns the synced position", func(t *testing.T) {
		env.postSync(t, env.user.Token, SyncRequest{
			DeviceID: deviceID,
			ReadingStates: []syncengine.IncomingReadingState{{
				BookID:    env.book.ID,
				Locator:   "page-120",
				Progress:  0.6,
				UpdatedAt: now,
			}},
		})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/sync/state/1", nil)
		req.Header.Set("Authorization", "Bearer "+env.user.Token)
		env.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var state entities.ReadingState
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
		assert.Equal(t, "page-120", state.Locator)
		assert.InDelta(t, 0.6, state.Progress, 0.0001)
	})

	t.Run("another user's token sees nothing", func(t *testing.T) {
		stranger, err := env.db.CreateUser("stranger", "s@example.com")
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/sync/state/1", nil)
		req.Header.Set("Authorization", "Bearer "+stranger.Token)
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetAnnotationsEndpoint(t *testing.T) {
	env, cleanup := setupSyncTest(t)
	defer cleanup()

	deviceID := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Second)

	live := uuid.NewString()
	deleted := uuid.NewString()
	env.postSync(t, env.user.Token, SyncRequest{
		DeviceID: deviceID,
		Annotations: []syncengine.IncomingAnnotation{
			{
				ID:            live,
				BookID:        env.book.ID,
				Kind:          entities.AnnotationKindNote,
				LocationStart: "loc-1",
				Content:       "keep me",
				UpdatedAt:     now,
			},
			{
				ID:            deleted,
				BookID:        env.book.ID,
				Kind:          entities.AnnotationKindHighlight,
				LocationStart: "loc-2",
				UpdatedAt:     now,
				Deleted:       true,
			},
		},
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/sync/annotations/1", nil)
	req.Header.Set("Authorization", "Bearer "+env.user.Token)
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Annotations []entities.Annotation `json:"annotations"`
		Count       int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count, "tombstones are sync data, not reading data")
	assert.Equal(t, live, body.Annotations[0].ID)
}
