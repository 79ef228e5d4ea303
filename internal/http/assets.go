package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/shelfsync/internal/contentstore"
	"github.com/mrlokans/shelfsync/internal/entities"
)

// Maximum file size for book uploads (200 MB)
const maxUploadSize = 200 * 1024 * 1024

// ContentStore is the slice of the content-addressable store the asset
// endpoints need.
type ContentStore interface {
	Put(ctx context.Context, r io.Reader, filename string) (*contentstore.ContentRef, error)
	Open(ctx context.Context, hash string) (*entities.ContentObject, io.ReadCloser, error)
	Exists(ctx context.Context, hash string) (bool, error)
}

// BookLinker attaches uploaded content to a user's book.
type BookLinker interface {
	GetBookForUser(bookID, userID uint) (*entities.Book, error)
	AttachContent(bookID uint, hash string, size int64, format entities.BookFormat) error
}

type AssetsController struct {
	store ContentStore
	books BookLinker
}

func NewAssetsController(store ContentStore, books BookLinker) *AssetsController {
	return &AssetsController{store: store, books: books}
}

// UploadResponse describes a stored (possibly deduplicated) file.
type UploadResponse struct {
	ContentHash string `json:"content_hash"`
	ByteSize    int64  `json:"byte_size"`
}

// Upload handles POST /api/books/:book_id/file. The file body is
// streamed into the store, hashed, deduplicated against existing
// content, and linked to the book.
func (a *AssetsController) Upload(c *gin.Context) {
	bookID, ok := parseIDParam(c, "book_id")
	if !ok {
		return
	}

	userID := GetUserID(c)
	if _, err := a.books.GetBookForUser(bookID, userID); err != nil {
		respondNotFound(c, "book")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respondBadRequest(c, "missing file upload")
		return
	}
	defer file.Close()

	format := entities.FormatFromFilename(header.Filename)

	ref, err := a.store.Put(c.Request.Context(), file, header.Filename)
	if err != nil {
		respondInternalError(c, err, "store upload")
		return
	}

	if err := a.books.AttachContent(bookID, ref.Hash, ref.ByteSize, format); err != nil {
		respondInternalError(c, err, "attach content")
		return
	}

	respondCreated(c, UploadResponse{ContentHash: ref.Hash, ByteSize: ref.ByteSize})
}

// Download handles GET /api/books/:book_id/file, streaming the book's
// content back with its hash exposed for client-side verification.
func (a *AssetsController) Download(c *gin.Context) {
	bookID, ok := parseIDParam(c, "book_id")
	if !ok {
		return
	}

	book, err := a.books.GetBookForUser(bookID, GetUserID(c))
	if err != nil {
		respondNotFound(c, "book")
		return
	}
	if book.ContentHash == "" {
		respondNotFound(c, "book file")
		return
	}

	obj, rc, err := a.store.Open(c.Request.Context(), book.ContentHash)
	if errors.Is(err, contentstore.ErrNotFound) {
		respondNotFound(c, "book file")
		return
	}
	if err != nil {
		respondInternalError(c, err, "open content")
		return
	}
	defer rc.Close()

	filename := obj.FirstFilename()
	if filename == "" {
		filename = book.Title + "." + string(book.Format)
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("X-Content-Hash", obj.Hash)
	c.Header("Content-Length", strconv.FormatInt(obj.ByteSize, 10))
	c.Header("Content-Type", "application/octet-stream")

	if _, err := io.Copy(c.Writer, rc); err != nil {
		// Headers are already sent; integrity failures here surface to
		// the client as a truncated body.
		log.Printf("Download of %s aborted: %v", book.ContentHash, err)
	}
}

// HeadContent handles HEAD /api/content/:hash so clients can skip
// uploading bytes the server already holds.
func (a *AssetsController) HeadContent(c *gin.Context) {
	hash := c.Param("hash")
	if len(hash) != 64 {
		c.Status(http.StatusBadRequest)
		return
	}

	exists, err := a.store.Exists(c.Request.Context(), hash)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if !exists {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}
