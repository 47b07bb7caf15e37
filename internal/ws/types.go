package ws

import (
	"encoding/json"

	"ratinglens/internal/lookup"
)

// MessageType is the type of a WebSocket request
type MessageType string

const (
	GetRating      MessageType = "GET_RATING"
	GetBatchRating MessageType = "GET_BATCH_RATING"
	GetStatus      MessageType = "GET_STATUS"
)

// Request is a message sent by the overlay
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Type   MessageType     `json:"type"`
	Title  string          `json:"title,omitempty"`
	Year   int             `json:"year,omitempty"`
	Titles []string        `json:"titles,omitempty"`
	Source string          `json:"source,omitempty"` // card or modal that sent it
}

// Response answers exactly one Request and echoes its id
type Response struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Success bool            `json:"success"`
	Data    interface{}     `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// BatchResult is the data of a GET_BATCH_RATING response
type BatchResult struct {
	Results  map[string]*lookup.Rating `json:"results"`
	Found    int                       `json:"found"`
	NotFound int                       `json:"notFound"`
}

func newErrorResponse(req *Request, msg string) *Response {
	resp := &Response{Success: false, Error: msg}
	if req != nil {
		resp.ID = req.ID
		resp.Type = req.Type
	}
	return resp
}
