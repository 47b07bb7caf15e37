package lookup_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ratinglens/internal/lookup"
	"ratinglens/internal/lookup/lookuptest"
)

func newClient(baseURL string) *lookup.Client {
	return lookup.NewClient(lookup.Config{
		BaseURL:        baseURL,
		RequestTimeout: 2 * time.Second,
		Logger:         zerolog.Nop(),
	})
}

func TestClient_FetchOne(t *testing.T) {
	srv := lookuptest.NewServer(lookup.Rating{IMDbID: "tt1375666", Title: "Inception", Year: 2010, Rating: 8.8})
	defer srv.Close()
	srv.SetCacheHeader("HIT")

	c := newClient(srv.URL)
	r, err := c.FetchOne(context.Background(), "inception", 2010)
	if err != nil {
		t.Fatalf("FetchOne: %v", err)
	}
	if r.Rating != 8.8 || r.Title != "Inception" {
		t.Errorf("rating = %+v, want Inception 8.8", r)
	}

	hits, misses := c.RemoteCacheStats()
	if hits != 1 || misses != 0 {
		t.Errorf("remote cache stats = %d/%d, want 1/0", hits, misses)
	}
	if c.Requests() != 1 {
		t.Errorf("Requests = %d, want 1", c.Requests())
	}
}

func TestClient_FetchOne_NotFound(t *testing.T) {
	srv := lookuptest.NewServer()
	defer srv.Close()

	_, err := newClient(srv.URL).FetchOne(context.Background(), "Nope", 0)
	if !errors.Is(err, lookup.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if lookup.IsTransport(err) {
		t.Error("not found must not be a transport error")
	}
}

func TestClient_FetchOne_TransportErrors(t *testing.T) {
	t.Run("http 500", func(t *testing.T) {
		srv := lookuptest.NewServer(lookup.Rating{Title: "Dark", Rating: 8.7})
		defer srv.Close()
		srv.FailStatus.Store(http.StatusInternalServerError)

		_, err := newClient(srv.URL).FetchOne(context.Background(), "Dark", 0)
		var te *lookup.TransportError
		if !errors.As(err, &te) {
			t.Fatalf("err = %v, want TransportError", err)
		}
		if te.StatusCode != http.StatusInternalServerError {
			t.Errorf("StatusCode = %d, want 500", te.StatusCode)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := lookuptest.NewServer(lookup.Rating{Title: "Dark", Rating: 8.7})
		defer srv.Close()
		srv.Malformed.Store(true)

		_, err := newClient(srv.URL).FetchOne(context.Background(), "Dark", 0)
		if !lookup.IsTransport(err) {
			t.Fatalf("err = %v, want TransportError", err)
		}
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := lookuptest.NewServer()
		url := srv.URL
		srv.Close()

		_, err := newClient(url).FetchOne(context.Background(), "Dark", 0)
		if !lookup.IsTransport(err) {
			t.Fatalf("err = %v, want TransportError", err)
		}
	})
}

func TestClient_FetchMany_Partial(t *testing.T) {
	srv := lookuptest.NewServer(
		lookup.Rating{Title: "Dark", Rating: 8.7},
		lookup.Rating{Title: "The Crown", Rating: 8.6},
	)
	defer srv.Close()

	titles := []string{"Dark", "THE CROWN", "Unknown Show"}
	results, err := newClient(srv.URL).FetchMany(context.Background(), titles)
	if err != nil {
		t.Fatalf("FetchMany: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if r := results["Dark"]; r == nil || r.Rating != 8.7 {
		t.Errorf("Dark = %+v, want 8.7", r)
	}
	if r := results["THE CROWN"]; r == nil || r.Rating != 8.6 {
		t.Errorf("THE CROWN = %+v, want 8.6", r)
	}
	if r, ok := results["Unknown Show"]; !ok || r != nil {
		t.Errorf("Unknown Show = %+v (present %v), want nil entry", r, ok)
	}
	if srv.BatchCalls() != 1 {
		t.Errorf("BatchCalls = %d, want 1", srv.BatchCalls())
	}
}

func TestClient_FetchMany_Failure(t *testing.T) {
	srv := lookuptest.NewServer(lookup.Rating{Title: "Dark", Rating: 8.7})
	defer srv.Close()
	srv.FailStatus.Store(http.StatusBadGateway)

	_, err := newClient(srv.URL).FetchMany(context.Background(), []string{"Dark"})
	if !lookup.IsTransport(err) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}

func TestClient_FetchMany_Empty(t *testing.T) {
	srv := lookuptest.NewServer()
	defer srv.Close()

	results, err := newClient(srv.URL).FetchMany(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchMany: %v", err)
	}
	if len(results) != 0 || srv.BatchCalls() != 0 {
		t.Errorf("empty batch should not hit the network")
	}
}

func TestClient_Retry(t *testing.T) {
	srv := lookuptest.NewServer(lookup.Rating{Title: "Dark", Rating: 8.7})
	defer srv.Close()
	srv.FailStatus.Store(http.StatusServiceUnavailable)

	c := lookup.NewClient(lookup.Config{
		BaseURL: srv.URL,
		Retry:   lookup.RetryConfig{Enabled: true, MaxAttempts: 3},
		Logger:  zerolog.Nop(),
	})

	if _, err := c.FetchOne(context.Background(), "Dark", 0); !lookup.IsTransport(err) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if srv.SingleCalls() != 3 {
		t.Errorf("SingleCalls = %d, want 3", srv.SingleCalls())
	}

	// not found is an answer, not a failure
	srv.FailStatus.Store(0)
	before := srv.SingleCalls()
	if _, err := c.FetchOne(context.Background(), "Missing", 0); !errors.Is(err, lookup.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if srv.SingleCalls()-before != 1 {
		t.Errorf("not found was retried")
	}
}

func TestClient_CircuitBreaker(t *testing.T) {
	srv := lookuptest.NewServer(lookup.Rating{Title: "Dark", Rating: 8.7})
	defer srv.Close()
	srv.FailStatus.Store(http.StatusInternalServerError)

	c := lookup.NewClient(lookup.Config{
		BaseURL: srv.URL,
		CircuitBreaker: lookup.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 2,
			RecoveryTimeout:  time.Hour,
		},
		Logger: zerolog.Nop(),
	})

	for i := 0; i < 2; i++ {
		_, _ = c.FetchOne(context.Background(), "Dark", 0)
	}
	if c.BreakerState() != "open" {
		t.Fatalf("BreakerState = %s, want open", c.BreakerState())
	}

	_, err := c.FetchOne(context.Background(), "Dark", 0)
	if !errors.Is(err, lookup.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if !lookup.IsTransport(err) {
		t.Error("open circuit should surface as a transport error")
	}
	if srv.SingleCalls() != 2 {
		t.Errorf("SingleCalls = %d, want 2", srv.SingleCalls())
	}
}

func TestClient_Health(t *testing.T) {
	srv := lookuptest.NewServer()
	defer srv.Close()
	srv.SetVersion("2.3.4")

	info, err := newClient(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if info.Version != "2.3.4" {
		t.Errorf("Version = %s, want 2.3.4", info.Version)
	}
}
