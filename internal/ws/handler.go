package ws

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ratinglens/internal/lookup"
	"ratinglens/internal/status"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // overlays run on third-party pages
	},
}

// RatingService answers rating lookups
type RatingService interface {
	RequestOneFrom(ctx context.Context, source, title string, year int) (*lookup.Rating, error)
	RequestMany(ctx context.Context, titles []string) map[string]*lookup.Rating
}

// StatusChecker reports connectivity to the remote lookup service
type StatusChecker interface {
	Check() status.Status
}

// Handler handles WebSocket connections
type Handler struct {
	ratings        RatingService
	status         StatusChecker
	maxBatchTitles int
	logger         zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(ratings RatingService, checker StatusChecker, maxBatchTitles int, logger zerolog.Logger) *Handler {
	return &Handler{
		ratings:        ratings,
		status:         checker,
		maxBatchTitles: maxBatchTitles,
		logger:         logger.With().Str("component", "ws").Logger(),
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	sessionID := uuid.New().String()
	logger := h.logger.With().
		Str("session", sessionID).
		Str("remoteAddr", r.RemoteAddr).
		Logger()
	logger.Info().Msg("new WebSocket connection")

	client := NewClient(conn, sessionID, h.ratings, h.status, h.maxBatchTitles, logger)
	client.Run(r.Context())
}
