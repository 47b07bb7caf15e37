package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ratinglens/internal/dispatch"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client represents a WebSocket client connection. Every connection is one
// overlay session; its lookups are guarded per (session, source).
type Client struct {
	conn           *websocket.Conn
	sessionID      string
	ratings        RatingService
	status         StatusChecker
	maxBatchTitles int
	logger         zerolog.Logger

	sendChan  chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
	handlers  sync.WaitGroup
}

// NewClient creates a new WebSocket client
func NewClient(conn *websocket.Conn, sessionID string, ratings RatingService, checker StatusChecker, maxBatchTitles int, logger zerolog.Logger) *Client {
	return &Client{
		conn:           conn,
		sessionID:      sessionID,
		ratings:        ratings,
		status:         checker,
		maxBatchTitles: maxBatchTitles,
		logger:         logger,
		sendChan:       make(chan []byte, 256),
		closeChan:      make(chan struct{}),
	}
}

// Run starts the client read and write loops and returns when the connection
// is closed
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)

	cancel()
	c.handlers.Wait()
}

// readPump reads messages and handles each one on its own goroutine
func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("read error")
			}
			return
		}

		c.handlers.Add(1)
		go func() {
			defer c.handlers.Done()
			c.handleMessage(ctx, data)
		}()
	}
}

// writePump is the only writer to the connection
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		case data := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming message
func (c *Client) handleMessage(ctx context.Context, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendResponse(newErrorResponse(nil, "invalid message"))
		return
	}

	switch req.Type {
	case GetRating:
		c.handleGetRating(ctx, &req)
	case GetBatchRating:
		c.handleGetBatchRating(ctx, &req)
	case GetStatus:
		c.sendResponse(&Response{ID: req.ID, Type: req.Type, Success: true, Data: c.status.Check()})
	default:
		c.sendResponse(newErrorResponse(&req, fmt.Sprintf("unknown message type %q", req.Type)))
	}
}

// handleGetRating looks up one title for a card or modal
func (c *Client) handleGetRating(ctx context.Context, req *Request) {
	if req.Title == "" {
		c.sendResponse(newErrorResponse(req, "title is required"))
		return
	}

	source := req.Source
	if source == "" {
		source = "default"
	}

	r, err := c.ratings.RequestOneFrom(ctx, c.sessionID+":"+source, req.Title, req.Year)
	switch {
	case errors.Is(err, dispatch.ErrInFlight):
		c.sendResponse(newErrorResponse(req, dispatch.ErrInFlight.Error()))
	case err != nil:
		c.logger.Debug().Err(err).Str("title", req.Title).Msg("rating lookup failed")
		c.sendResponse(newErrorResponse(req, "rating service unavailable"))
	case r == nil:
		c.sendResponse(newErrorResponse(req, "not found"))
	default:
		c.sendResponse(&Response{ID: req.ID, Type: req.Type, Success: true, Data: r})
	}
}

// handleGetBatchRating looks up the titles visible on a page
func (c *Client) handleGetBatchRating(ctx context.Context, req *Request) {
	if len(req.Titles) == 0 {
		c.sendResponse(newErrorResponse(req, "titles must be a non-empty list"))
		return
	}
	if c.maxBatchTitles > 0 && len(req.Titles) > c.maxBatchTitles {
		c.sendResponse(newErrorResponse(req, fmt.Sprintf("at most %d titles per request", c.maxBatchTitles)))
		return
	}

	results := c.ratings.RequestMany(ctx, req.Titles)
	data := BatchResult{Results: results}
	for _, r := range results {
		if r != nil {
			data.Found++
		} else {
			data.NotFound++
		}
	}
	c.sendResponse(&Response{ID: req.ID, Type: req.Type, Success: true, Data: data})
}

// sendResponse marshals and queues a response
func (c *Client) sendResponse(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal response")
		return
	}
	c.send(data)
}

// send queues data for the write pump
func (c *Client) send(data []byte) {
	select {
	case c.sendChan <- data:
	case <-c.closeChan:
	default:
		// Channel full, drop message
		c.logger.Warn().Msg("send channel full, dropping message")
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.conn.Close()
		c.logger.Debug().Msg("client closed")
	})
}
