package batcher

import (
	"context"
	"time"

	"ratinglens/internal/config"
	"ratinglens/internal/lookup"
	"ratinglens/internal/titlekey"
)

// Fetcher performs one bulk lookup for a set of titles. The result may omit
// titles or map them to nil; both mean "no rating".
type Fetcher interface {
	FetchMany(ctx context.Context, titles []string) (map[string]*lookup.Rating, error)
}

// ResultsHook receives the results of every successful batch, keyed by the
// outbound title, before they are handed to waiting callers
type ResultsHook func(results map[string]*lookup.Rating)

// State is the state of the current coalescing window
type State int

const (
	// Idle means no titles are pending and no batch is in flight
	Idle State = iota
	// Accumulating means titles are pending and the quiet-period timer is armed
	Accumulating
	// Flushing means a batch is in flight and no new titles are pending yet
	Flushing
)

func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case Flushing:
		return "flushing"
	default:
		return "idle"
	}
}

// Config controls when a window is flushed
type Config struct {
	MaxSize     int           // distinct pending titles that trigger an immediate flush
	QuietPeriod time.Duration // flush after this long without a new title
}

// ConfigFromBatching converts the service batching config
func ConfigFromBatching(cfg config.BatchingConfig) Config {
	return Config{
		MaxSize:     cfg.MaxSize,
		QuietPeriod: cfg.GetQuietPeriodDuration(),
	}
}

// pendingTitle is one deduplicated title of a window and its waiting callers
type pendingTitle struct {
	title   string // first raw title seen, sent to the remote
	waiters []chan *lookup.Rating
}

// batch is a snapshot of a window taken at flush time
type batch struct {
	keys    []titlekey.Key
	pending map[titlekey.Key]*pendingTitle
}

// titles returns the outbound titles in arrival order
func (b *batch) titles() []string {
	titles := make([]string, 0, len(b.keys))
	for _, key := range b.keys {
		titles = append(titles, b.pending[key].title)
	}
	return titles
}

// waiterCount returns the total number of callers waiting on the batch
func (b *batch) waiterCount() int {
	n := 0
	for _, p := range b.pending {
		n += len(p.waiters)
	}
	return n
}
