package lookup

import (
	"errors"
	"fmt"
)

// Rating is a rating result returned by the remote lookup service.
// Values are treated as immutable once cached.
type Rating struct {
	IMDbID string  `json:"imdb_id"`
	Title  string  `json:"title"`
	Year   int     `json:"year,omitempty"`
	Rating float64 `json:"rating"`
	Votes  int     `json:"votes,omitempty"`
	Genres string  `json:"genres,omitempty"`
}

// Clone returns a copy of the rating
func (r *Rating) Clone() *Rating {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// HealthInfo is the payload of the remote health endpoint
type HealthInfo struct {
	Status  string `json:"status,omitempty"`
	Version string `json:"version"`
}

// batchRequest is the body of a batch lookup
type batchRequest struct {
	Titles []string `json:"titles"`
}

// batchResponse is the body returned by a batch lookup
type batchResponse struct {
	Results       map[string]*Rating `json:"results"`
	FoundCount    int                `json:"foundCount"`
	NotFoundCount int                `json:"notFoundCount"`
}

// ErrNotFound is returned when the remote service has no rating for a title
var ErrNotFound = errors.New("lookup: title not found")

// ErrCircuitOpen is wrapped in a TransportError while the circuit breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker open")

// errMalformed marks a response body that could not be understood
var errMalformed = errors.New("malformed response")

// TransportError reports a network, HTTP or response-shape failure
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("lookup %s: HTTP error %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("lookup %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is (or wraps) a TransportError
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
