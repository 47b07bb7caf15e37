package dispatch

import (
	"context"
	"errors"

	"ratinglens/internal/batcher"
	"ratinglens/internal/lookup"
)

// ErrInFlight is returned by RequestOneFrom while a lookup for the same source
// is still running
var ErrInFlight = errors.New("lookup already in flight")

// Gateway performs single-title remote lookups
type Gateway interface {
	FetchOne(ctx context.Context, title string, year int) (*lookup.Rating, error)
	Requests() uint64
	RemoteCacheStats() (hits, misses uint64)
}

// Batcher coalesces multi-title lookups into bulk remote calls
type Batcher interface {
	Lookup(ctx context.Context, titles []string) map[string]*lookup.Rating
	SetOnResults(hook batcher.ResultsHook)
	Batches() uint64
	Close(ctx context.Context) error
}

// Stats is a snapshot of the local cache and remote traffic counters
type Stats struct {
	Hits              uint64  `json:"hits"`
	Misses            uint64  `json:"misses"`
	HitRatio          float64 `json:"hitRatio"` // percent, one decimal
	Entries           int     `json:"entries"`
	Evictions         uint64  `json:"evictions"`
	Batches           uint64  `json:"batches"`
	RemoteRequests    uint64  `json:"remoteRequests"`
	RemoteCacheHits   uint64  `json:"remoteCacheHits"`   // remote answered X-Cache: HIT
	RemoteCacheMisses uint64  `json:"remoteCacheMisses"` // remote answered X-Cache: MISS
}
