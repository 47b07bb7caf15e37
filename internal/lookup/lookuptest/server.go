// Package lookuptest provides an in-process fake of the remote rating lookup
// service for tests.
package lookuptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ratinglens/internal/lookup"
)

// Server is a fake lookup service backed by an in-memory title table
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	ratings map[string]lookup.Rating // lowercase title -> rating
	batches [][]string
	delay   time.Duration

	singleCalls atomic.Int64
	batchCalls  atomic.Int64
	healthCalls atomic.Int64

	// FailStatus, when non-zero, makes every lookup answer with that status
	FailStatus atomic.Int64
	// Malformed makes lookups answer with a body that is not JSON
	Malformed atomic.Bool

	cacheHeader string
	version     string
}

// NewServer starts a fake lookup service serving the given ratings
func NewServer(ratings ...lookup.Rating) *Server {
	s := &Server{
		ratings: make(map[string]lookup.Rating),
		version: "1.0.0",
	}
	for _, r := range ratings {
		s.ratings[strings.ToLower(r.Title)] = r
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/lookup", s.handleLookup)
	mux.HandleFunc("/lookup/batch", s.handleBatch)
	mux.HandleFunc("/health", s.handleHealth)
	s.Server = httptest.NewServer(mux)
	return s
}

// SetDelay makes every lookup wait before answering
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetCacheHeader makes lookups answer with the given X-Cache header
func (s *Server) SetCacheHeader(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheHeader = v
}

// SetVersion sets the version reported by the health endpoint
func (s *Server) SetVersion(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = v
}

// SingleCalls returns the number of single lookups served
func (s *Server) SingleCalls() int {
	return int(s.singleCalls.Load())
}

// BatchCalls returns the number of batch lookups served
func (s *Server) BatchCalls() int {
	return int(s.batchCalls.Load())
}

// HealthCalls returns the number of health checks served
func (s *Server) HealthCalls() int {
	return int(s.healthCalls.Load())
}

// Batches returns the title lists of every batch lookup received
func (s *Server) Batches() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *Server) wait() {
	s.mu.Lock()
	d := s.delay
	s.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

func (s *Server) fail(w http.ResponseWriter) bool {
	if status := s.FailStatus.Load(); status != 0 {
		http.Error(w, `{"detail":"upstream failure"}`, int(status))
		return true
	}
	if s.Malformed.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>not json</html>"))
		return true
	}
	return false
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	s.singleCalls.Add(1)
	s.wait()
	if s.fail(w) {
		return
	}

	title := r.URL.Query().Get("title")
	s.mu.Lock()
	rating, ok := s.ratings[strings.ToLower(title)]
	cacheHeader := s.cacheHeader
	s.mu.Unlock()

	if cacheHeader != "" {
		w.Header().Set("X-Cache", cacheHeader)
	}
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"not found"}`))
		return
	}
	writeJSON(w, rating)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	s.batchCalls.Add(1)

	var req struct {
		Titles []string `json:"titles"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.batches = append(s.batches, req.Titles)
	s.mu.Unlock()

	s.wait()
	if s.fail(w) {
		return
	}

	results := make(map[string]*lookup.Rating, len(req.Titles))
	found := 0
	s.mu.Lock()
	for _, title := range req.Titles {
		key := strings.ToLower(title)
		if rating, ok := s.ratings[key]; ok {
			r := rating
			results[key] = &r
			found++
		} else {
			results[key] = nil
		}
	}
	s.mu.Unlock()

	writeJSON(w, map[string]interface{}{
		"results":       results,
		"foundCount":    found,
		"notFoundCount": len(req.Titles) - found,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.healthCalls.Add(1)
	s.wait()
	if status := s.FailStatus.Load(); status != 0 {
		http.Error(w, "unhealthy", int(status))
		return
	}
	s.mu.Lock()
	version := s.version
	s.mu.Unlock()
	writeJSON(w, lookup.HealthInfo{Status: "healthy", Version: version})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
