// Package api is the HTTP surface of the ledger: uploads, the record view
// and single-record edits.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RouterOptions configure NewRouter.
type RouterOptions struct {
	Logger       *slog.Logger
	CORSOrigin   string
	DefaultActor string
	// Metrics is served on /metrics when set.
	Metrics http.Handler
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(opts.Logger), CORS(opts.CORSOrigin), Identity(opts.DefaultActor))

	r.GET("/health", h.Health)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	r.POST("/upload/", h.Upload)

	col := r.Group("/collections")
	{
		col.GET("/", h.List)
		col.GET("/editable/", h.ListEditable)
		col.GET("/readonly/", h.ListReadOnly)
		col.GET("/history/:id", h.History)
		col.GET("/stats", h.Stats)
		col.GET("/:record_id", h.Get)
		col.PUT("/:record_id", h.Update)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found", "code": "NOT_FOUND"})
	})
	return r
}
