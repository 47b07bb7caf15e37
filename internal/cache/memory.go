package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"ratinglens/internal/lookup"
	"ratinglens/internal/titlekey"
)

// minSweepInterval bounds how often the background sweep runs
const minSweepInterval = time.Second

// entry is a cached rating and the moment it was inserted
type entry struct {
	value      lookup.Rating
	insertedAt time.Time
}

// MemoryStore is a bounded in-memory rating cache with TTL expiry and
// first-in-first-out eviction.
//
// The list is only read with Peek, so its recency order is the insertion
// order of the current entries and the element it evicts is always the
// oldest insertion. Overwriting a key counts as a fresh insertion.
type MemoryStore struct {
	entries   *simplelru.LRU[titlekey.Key, *entry]
	ttl       time.Duration
	now       func() time.Time
	evictions uint64
	mu        sync.Mutex

	stop      chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore creates a store holding at most size entries for ttl each
func NewMemoryStore(size int, ttl time.Duration) (*MemoryStore, error) {
	if ttl <= 0 {
		return nil, errors.New("cache ttl must be positive")
	}
	entries, err := simplelru.NewLRU[titlekey.Key, *entry](size, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	s := &MemoryStore{
		entries: entries,
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	go s.cleanupLoop()

	return s, nil
}

// Get retrieves a rating from the cache. An expired entry is removed.
func (s *MemoryStore) Get(title string) (*lookup.Rating, bool) {
	key := titlekey.Normalize(title)
	if key == "" {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries.Peek(key)
	if !ok {
		return nil, false
	}
	if s.now().Sub(e.insertedAt) > s.ttl {
		s.entries.Remove(key)
		return nil, false
	}

	value := e.value
	return &value, true
}

// Put stores a copy of value under the title's key
func (s *MemoryStore) Put(title string, value *lookup.Rating) {
	key := titlekey.Normalize(title)
	if key == "" || value == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// remove first so an overwrite moves to the newest position
	s.entries.Remove(key)
	if s.entries.Add(key, &entry{value: *value, insertedAt: s.now()}) {
		s.evictions++
	}
}

// Len returns the number of entries, including expired ones not yet removed
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// Evictions returns how many entries were dropped to respect the size bound
func (s *MemoryStore) Evictions() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictions
}

// Close stops the cleanup goroutine
func (s *MemoryStore) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
	})
}

// cleanupLoop periodically removes expired entries
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(sweepInterval(s.ttl))
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

// sweepInterval is half the ttl, but never below minSweepInterval
func sweepInterval(ttl time.Duration) time.Duration {
	return max(ttl/2, minSweepInterval)
}

// removeExpired removes all expired entries from the cache
func (s *MemoryStore) removeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, key := range s.entries.Keys() {
		e, ok := s.entries.Peek(key)
		if ok && now.Sub(e.insertedAt) > s.ttl {
			s.entries.Remove(key)
			removed++
		}
	}
	return removed
}
