package http

import (
	"github.com/gin-gonic/gin"
)

// NewRouter creates and configures the HTTP router with all endpoints.
// Uses RouterConfig to receive all dependencies, improving testability
// and reducing parameter count.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Create controllers with appropriate interfaces
	health := NewHealthController(cfg.Database, cfg.ContentStore, cfg.Version)
	syncController := NewSyncController(cfg.Engine, cfg.States, cfg.Annotations)
	devicesController := NewDevicesController(cfg.Devices)
	booksController := NewBooksController(cfg.Books)
	assetsController := NewAssetsController(cfg.ContentStore, cfg.BookLinker)

	// Health check is unauthenticated so orchestrators can probe it
	router.GET("/health", health.Status)

	api := router.Group("/api")
	api.Use(TokenAuthMiddleware(cfg.Database))
	{
		// Sync protocol
		api.POST("/sync", syncController.Sync)
		api.GET("/sync/state/:book_id", syncController.GetReadingState)
		api.GET("/sync/annotations/:book_id", syncController.GetAnnotations)

		// Devices
		api.POST("/devices", devicesController.Register)
		api.GET("/devices", devicesController.List)
		api.PATCH("/devices/:id", devicesController.Rename)
		api.DELETE("/devices/:id", devicesController.Delete)

		// Catalog
		api.POST("/books", booksController.Create)
		api.GET("/books", booksController.List)
		api.GET("/books/:book_id", booksController.Get)

		// Book files
		api.POST("/books/:book_id/file", assetsController.Upload)
		api.GET("/books/:book_id/file", assetsController.Download)
		api.HEAD("/content/:hash", assetsController.HeadContent)
	}

	return router
}
