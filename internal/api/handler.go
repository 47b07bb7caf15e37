package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"ratinglens/internal/dispatch"
	"ratinglens/internal/lookup"
	"ratinglens/internal/status"
)

// RatingService answers rating lookups
type RatingService interface {
	RequestOneCached(ctx context.Context, title string, year int) (*lookup.Rating, bool, error)
	RequestMany(ctx context.Context, titles []string) map[string]*lookup.Rating
	Stats() dispatch.Stats
}

// StatusChecker reports connectivity to the remote lookup service
type StatusChecker interface {
	Check() status.Status
}

// Handler serves the HTTP API
type Handler struct {
	ratings        RatingService
	status         StatusChecker
	version        string
	maxBatchTitles int
}

// NewHandler creates a new Handler
func NewHandler(ratings RatingService, checker StatusChecker, version string, maxBatchTitles int) *Handler {
	return &Handler{
		ratings:        ratings,
		status:         checker,
		version:        version,
		maxBatchTitles: maxBatchTitles,
	}
}

// RegisterRoutes registers all routes
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")
	{
		api.GET("/rating", h.GetRating)
		api.POST("/ratings/batch", h.GetBatchRatings)
		api.GET("/cache/stats", h.CacheStats)
		api.GET("/status", h.Status)
		api.GET("/health", h.Health)
	}
}

type ratingQuery struct {
	Title string `form:"title" binding:"required"`
	Year  int    `form:"year" binding:"omitempty,min=1800,max=2200"`
}

type batchRequest struct {
	Titles []string `json:"titles" binding:"required"`
}

type batchResponse struct {
	Results  map[string]*lookup.Rating `json:"results"`
	Found    int                       `json:"found"`
	NotFound int                       `json:"notFound"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GetRating looks up a single title
func (h *Handler) GetRating(c *gin.Context) {
	ctx := c.Request.Context()
	l := loggerFrom(ctx)

	var q ratingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "title is required and year must be a valid year"})
		return
	}

	r, cached, err := h.ratings.RequestOneCached(ctx, q.Title, q.Year)
	if cached {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}

	switch {
	case err != nil:
		l.Warn().Err(err).Str("title", q.Title).Msg("rating lookup failed")
		c.JSON(http.StatusBadGateway, errorResponse{Error: "rating service unavailable"})
	case r == nil:
		c.JSON(http.StatusNotFound, errorResponse{Error: fmt.Sprintf("no rating found for %q", q.Title)})
	default:
		c.JSON(http.StatusOK, r)
	}
}

// GetBatchRatings looks up several titles at once
func (h *Handler) GetBatchRatings(c *gin.Context) {
	ctx := c.Request.Context()
	l := loggerFrom(ctx)

	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Titles) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "titles must be a non-empty list"})
		return
	}
	if h.maxBatchTitles > 0 && len(req.Titles) > h.maxBatchTitles {
		c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("at most %d titles per request", h.maxBatchTitles)})
		return
	}

	results := h.ratings.RequestMany(ctx, req.Titles)

	resp := batchResponse{Results: results}
	for _, r := range results {
		if r != nil {
			resp.Found++
		} else {
			resp.NotFound++
		}
	}

	l.Debug().
		Int("titles", len(req.Titles)).
		Int("found", resp.Found).
		Msg("batch ratings served")

	c.JSON(http.StatusOK, resp)
}

// CacheStats returns the local cache counters
func (h *Handler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.ratings.Stats())
}

// Status checks connectivity to the remote lookup service
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.status.Check())
}

// Health reports that this service is up
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": h.version,
	})
}
