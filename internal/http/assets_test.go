package http

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/shelfsync/internal/contentstore"
	"github.com/mrlokans/shelfsync/internal/database"
	"github.com/mrlokans/shelfsync/internal/database/contentobjects"
	"github.com/mrlokans/shelfsync/internal/entities"
)

type assetsTestEnv struct {
	router *gin.Engine
	db     *database.Database
	user   *entities.User
	book   *entities.Book
}

func setupAssetsTest(t *testing.T) (*assetsTestEnv, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbPath := "./test_assets_" + strings.ReplaceAll(t.Name(), "/", "_") + ".db"
	db, err := database.NewDatabase(dbPath)
	require.NoError(t, err)

	user, err := db.CreateUser("reader", "reader@example.com")
	require.NoError(t, err)

	book := &entities.Book{UserID: user.ID, Title: "Roadside Picnic", Author: "Strugatsky"}
	require.NoError(t, db.CreateBook(book))

	storeDir := t.TempDir()
	local, err := contentstore.NewLocal(storeDir, filepath.Join(storeDir, "tmp"))
	require.NoError(t, err)
	service := contentstore.NewService(local, contentobjects.NewRepository(db.DB))

	controller := NewAssetsController(service, db)

	router := gin.New()
	api := router.Group("/api")
	api.Use(TokenAuthMiddleware(db))
	api.POST("/books/:book_id/file", controller.Upload)
	api.GET("/books/:book_id/file", controller.Download)
	api.HEAD("/content/:hash", controller.HeadContent)

	env := &assetsTestEnv{router: router, db: db, user: user, book: book}
	return env, func() {
		db.Close()
		os.Remove(dbPath)
	}
}

func (env *assetsTestEnv) upload(t *testing.T, path, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+env.user.Token)
	env.router.ServeHTTP(w, req)
	return w
}

func TestUploadAndDownload(t *testing.T) {
	env, cleanup := setupAssetsTest(t)
	defer cleanup()

	content := []byte("pretend this is an epub")
	wantHash := sha256.Sum256(content)
	wantHex := hex.EncodeToString(wantHash[:])

	t.Run("upload stores and links the file", func(t *testing.T) {
		w := env.upload(t, "/api/books/1/file", "picnic.epub", content)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var resp UploadResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, wantHex, resp.ContentHash)
		assert.Equal(t, int64(len(content)), resp.ByteSize)

		book, err := env.db.GetBookForUser(env.book.ID, env.user.ID)
		require.NoError(t, err)
		assert.Equal(t, wantHex, book.ContentHash)
		assert.Equal(t, entities.BookFormatEpub, book.Format)
	})

	t.Run("download returns the exact bytes with the hash header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/books/1/file", nil)
		req.Header.Set("Authorization", "Bearer "+env.user.Token)
		env.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		body, err := io.ReadAll(w.Body)
		require.NoError(t, err)
		assert.Equal(t, content, body)
		assert.Equal(t, wantHex, w.Header().Get("X-Content-Hash"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), "picnic.epub")
	})

	t.Run("HEAD reports stored content", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("HEAD", "/api/content/"+wantHex, nil)
		req.Header.Set("Authorization", "Bearer "+env.user.Token)
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("HEAD on an unknown hash is a 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("HEAD", "/api/content/"+strings.Repeat("0", 64), nil)
		req.Header.Set("Authorization", "Bearer "+env.user.Token)
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("HEAD on a malformed hash is a 400", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("HEAD", "/api/content/deadbeef", nil)
		req.Header.Set("Authorization", "Bearer "+env.user.Token)
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUploadEdgeCases(t *testing.T) {
	env, cleanup := setupAssetsTest(t)
	defer cleanup()

	t.Run("upload to a book you do not own is a 404", func(t *testing.T) {
		stranger, err := env.db.CreateUser("stranger", "s@example.com")
		require.NoError(t, err)

		strangerBook := &entities.Book{UserID: stranger.ID, Title: "Theirs"}
		require.NoError(t, env.db.CreateBook(strangerBook))

		w := env.upload(t, "/api/books/2/file", "theirs.epub", []byte("nope"))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing multipart file is a 400", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/books/1/file", strings.NewReader("raw body"))
		req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
		req.Header.Set("Authorization", "Bearer "+env.user.Token)
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("download before any upload is a 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/books/1/file", nil)
		req.Header.Set("Authorization", "Bearer "+env.user.Token)
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("uploading the same bytes twice deduplicates", func(t *testing.T) {
		content := []byte("shared content")
		first := env.upload(t, "/api/books/1/file", "a.epub", content)
		require.Equal(t, http.StatusCreated, first.Code)
		second := env.upload(t, "/api/books/1/file", "b.epub", content)
		require.Equal(t, http.StatusCreated, second.Code)

		var a, b UploadResponse
		require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
		assert.Equal(t, a.ContentHash, b.ContentHash)

		registry := contentobjects.NewRepository(env.db.DB)
		obj, err := registry.GetByHash(a.ContentHash)
		require.NoError(t, err)
		assert.Contains(t, obj.Filenames, "a.epub")
		assert.Contains(t, obj.Filenames, "b.epub")
	})
}
