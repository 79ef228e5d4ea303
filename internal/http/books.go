package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mrlokans/shelfsync/internal/entities"
)

// BookStore provides the catalog operations the books API needs.
type BookStore interface {
	CreateBook(book *entities.Book) error
	GetBookForUser(id, userID uint) (*entities.Book, error)
	GetAllBooksForUser(userID uint) ([]entities.Book, error)
}

type BooksController struct {
	books BookStore
}

func NewBooksController(books BookStore) *BooksController {
	return &BooksController{books: books}
}

type CreateBookRequest struct {
	Title  string `json:"title" binding:"required"`
	Author string `json:"author"`
}

// Create handles POST /api/books.
func (b *BooksController) Create(c *gin.Context) {
	var req CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid book: "+err.Error())
		return
	}

	book := &entities.Book{
		UserID: GetUserID(c),
		Title:  req.Title,
		Author: req.Author,
	}
	if err := b.books.CreateBook(book); err != nil {
		respondInternalError(c, err, "create book")
		return
	}
	respondCreated(c, book)
}

// Get handles GET /api/books/:book_id.
func (b *BooksController) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "book_id")
	if !ok {
		return
	}

	book, err := b.books.GetBookForUser(id, GetUserID(c))
	if err == gorm.ErrRecordNotFound {
		respondNotFound(c, "book")
		return
	}
	if err != nil {
		respondInternalError(c, err, "get book")
		return
	}
	c.JSON(http.StatusOK, book)
}

// List handles GET /api/books.
func (b *BooksController) List(c *gin.Context) {
	books, err := b.books.GetAllBooksForUser(GetUserID(c))
	if err != nil {
		respondInternalError(c, err, "list books")
		return
	}
	c.JSON(http.StatusOK, gin.H{"books": books, "count": len(books)})
}
