package dispatch

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"ratinglens/internal/cache"
	"ratinglens/internal/lookup"
)

// evictionCounter is implemented by stores that count capacity evictions
type evictionCounter interface {
	Evictions() uint64
}

// Service is the front door to ratings: it answers from the local cache and
// forwards misses to the gateway (single lookups) or the batcher (bulk
// lookups), writing every found rating back to the cache.
type Service struct {
	store   cache.Store
	gateway Gateway
	batcher Batcher
	logger  zerolog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64

	mu       sync.Mutex
	inFlight map[string]struct{} // sources with a running RequestOneFrom
}

// NewService creates a new Service. Batch results are written to store
// before they are handed back to callers.
func NewService(store cache.Store, gateway Gateway, b Batcher, logger zerolog.Logger) *Service {
	s := &Service{
		store:    store,
		gateway:  gateway,
		batcher:  b,
		logger:   logger.With().Str("component", "dispatch").Logger(),
		inFlight: make(map[string]struct{}),
	}
	b.SetOnResults(s.storeResults)
	return s
}

// RequestOne returns the rating for a title. A nil rating with a nil error
// means the remote has no match. Only transport failures return an error;
// neither outcome is cached.
func (s *Service) RequestOne(ctx context.Context, title string, year int) (*lookup.Rating, error) {
	r, _, err := s.requestOne(ctx, title, year)
	return r, err
}

// RequestOneCached is RequestOne that also reports whether the answer came
// from the local cache
func (s *Service) RequestOneCached(ctx context.Context, title string, year int) (*lookup.Rating, bool, error) {
	return s.requestOne(ctx, title, year)
}

// RequestOneFrom is RequestOne guarded per source: while a lookup for source
// is running, further calls for it return ErrInFlight without doing any work.
// Different sources never block each other.
func (s *Service) RequestOneFrom(ctx context.Context, source, title string, year int) (*lookup.Rating, error) {
	s.mu.Lock()
	if _, busy := s.inFlight[source]; busy {
		s.mu.Unlock()
		return nil, ErrInFlight
	}
	s.inFlight[source] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, source)
		s.mu.Unlock()
	}()

	r, _, err := s.requestOne(ctx, title, year)
	return r, err
}

func (s *Service) requestOne(ctx context.Context, title string, year int) (*lookup.Rating, bool, error) {
	if r, ok := s.store.Get(title); ok {
		s.hits.Add(1)
		return r, true, nil
	}
	s.misses.Add(1)

	r, err := s.gateway.FetchOne(ctx, title, year)
	switch {
	case errors.Is(err, lookup.ErrNotFound):
		s.logger.Debug().Str("title", title).Msg("no rating found")
		return nil, false, nil
	case err != nil:
		s.logger.Warn().Err(err).Str("title", title).Msg("rating lookup failed")
		return nil, false, err
	}

	s.store.Put(title, r)
	return r, false, nil
}

// RequestMany returns ratings for several titles, keyed by the titles as
// given. Every requested title has an entry; nil means no rating. Cache misses
// are coalesced with concurrent requests into bulk remote calls. Failures
// degrade to nil entries and are never returned.
func (s *Service) RequestMany(ctx context.Context, titles []string) map[string]*lookup.Rating {
	results := make(map[string]*lookup.Rating, len(titles))

	var missing []string
	queued := make(map[string]struct{})
	for _, title := range titles {
		if r, ok := s.store.Get(title); ok {
			s.hits.Add(1)
			results[title] = r
			continue
		}
		s.misses.Add(1)
		if _, dup := queued[title]; !dup {
			queued[title] = struct{}{}
			missing = append(missing, title)
		}
	}

	if len(missing) == 0 {
		return results
	}

	for title, r := range s.batcher.Lookup(ctx, missing) {
		results[title] = r
	}

	s.logger.Debug().
		Int("titles", len(titles)).
		Int("cached", len(titles)-len(missing)).
		Int("queued", len(missing)).
		Msg("batch request answered")

	return results
}

// storeResults writes found batch ratings to the cache
func (s *Service) storeResults(results map[string]*lookup.Rating) {
	for title, r := range results {
		if r != nil {
			s.store.Put(title, r)
		}
	}
}

// Stats returns the current counters
func (s *Service) Stats() Stats {
	hits, misses := s.hits.Load(), s.misses.Load()
	remoteHits, remoteMisses := s.gateway.RemoteCacheStats()

	stats := Stats{
		Hits:              hits,
		Misses:            misses,
		Entries:           s.store.Len(),
		Batches:           s.batcher.Batches(),
		RemoteRequests:    s.gateway.Requests(),
		RemoteCacheHits:   remoteHits,
		RemoteCacheMisses: remoteMisses,
	}
	if total := hits + misses; total > 0 {
		stats.HitRatio = math.Round(float64(hits)/float64(total)*1000) / 10
	}
	if ec, ok := s.store.(evictionCounter); ok {
		stats.Evictions = ec.Evictions()
	}
	return stats
}

// Close drains the batcher and then releases the store
func (s *Service) Close(ctx context.Context) error {
	err := s.batcher.Close(ctx)
	s.store.Close()
	return err
}
