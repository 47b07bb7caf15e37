package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ratinglens/internal/config"
	"ratinglens/internal/titlekey"
)

const (
	// maxResponseSize bounds how much of a response body is read
	maxResponseSize = 4 * 1024 * 1024

	// freshnessHeader is set by the remote service to HIT or MISS depending on
	// whether it served the answer from its own cache
	freshnessHeader = "X-Cache"
)

// RetryConfig holds retry configuration for transport failures
type RetryConfig struct {
	Enabled     bool
	MaxAttempts int
}

// Client is the gateway to the remote rating lookup service
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryConfig
	breaker    *CircuitBreaker
	logger     zerolog.Logger

	requests     atomic.Uint64
	remoteHits   atomic.Uint64
	remoteMisses atomic.Uint64
}

// Config for creating a new Client
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	Retry          RetryConfig
	CircuitBreaker CircuitBreakerConfig
	HTTPClient     *http.Client // optional, overrides RequestTimeout
	Logger         zerolog.Logger
}

// NewClient creates a new Client
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		}
		httpClient = &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		retry:      cfg.Retry,
		breaker:    NewCircuitBreaker(cfg.CircuitBreaker),
		logger:     cfg.Logger.With().Str("component", "lookup").Logger(),
	}
}

// NewClientFromConfig creates a Client from the service config
func NewClientFromConfig(cfg *config.Config, logger zerolog.Logger) *Client {
	return NewClient(Config{
		BaseURL:        cfg.LookupURL,
		RequestTimeout: cfg.GetRequestTimeoutDuration(),
		Retry: RetryConfig{
			Enabled:     cfg.RetryEnabled,
			MaxAttempts: cfg.RetryMaxAttempts,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          cfg.CircuitBreaker.Enabled,
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  cfg.CircuitBreaker.GetRecoveryTimeoutDuration(),
		},
		Logger: logger,
	})
}

// BaseURL returns the remote service base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Requests returns the number of round trips issued to the remote
func (c *Client) Requests() uint64 {
	return c.requests.Load()
}

// RemoteCacheStats returns how many responses the remote reported as served
// from its own cache (hits) or not (misses)
func (c *Client) RemoteCacheStats() (hits, misses uint64) {
	return c.remoteHits.Load(), c.remoteMisses.Load()
}

// BreakerState returns the circuit breaker state name
func (c *Client) BreakerState() string {
	return c.breaker.State()
}

// FetchOne looks up a single title. year is optional (0 means unknown).
// Returns ErrNotFound when the remote has no match and *TransportError on any
// other failure.
func (c *Client) FetchOne(ctx context.Context, title string, year int) (*Rating, error) {
	q := url.Values{}
	q.Set("title", title)
	if year > 0 {
		q.Set("year", strconv.Itoa(year))
	}
	endpoint := c.baseURL + "/lookup?" + q.Encode()

	var rating *Rating
	err := c.execute(ctx, "fetchOne", func(ctx context.Context) error {
		body, err := c.do(ctx, "fetchOne", http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}

		var r Rating
		if err := json.Unmarshal(body, &r); err != nil {
			return &TransportError{Op: "fetchOne", Err: fmt.Errorf("%w: %v", errMalformed, err)}
		}
		if r.Title == "" {
			return &TransportError{Op: "fetchOne", Err: fmt.Errorf("%w: missing title", errMalformed)}
		}
		rating = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rating, nil
}

// FetchMany looks up several titles in one round trip. The result has an entry
// for every requested title; titles the remote did not find map to nil.
// Only a failed round trip or a malformed body returns an error.
func (c *Client) FetchMany(ctx context.Context, titles []string) (map[string]*Rating, error) {
	results := make(map[string]*Rating, len(titles))
	if len(titles) == 0 {
		return results, nil
	}

	reqBytes, err := json.Marshal(batchRequest{Titles: titles})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}
	endpoint := c.baseURL + "/lookup/batch"

	var resp batchResponse
	err = c.execute(ctx, "fetchMany", func(ctx context.Context) error {
		body, err := c.do(ctx, "fetchMany", http.MethodPost, endpoint, reqBytes)
		if err != nil {
			return err
		}

		resp = batchResponse{}
		if err := json.Unmarshal(body, &resp); err != nil {
			return &TransportError{Op: "fetchMany", Err: fmt.Errorf("%w: %v", errMalformed, err)}
		}
		if resp.Results == nil {
			return &TransportError{Op: "fetchMany", Err: fmt.Errorf("%w: missing results", errMalformed)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The remote may echo titles in a different case, so match on keys
	byKey := make(map[titlekey.Key]*Rating, len(resp.Results))
	for title, r := range resp.Results {
		if r != nil {
			byKey[titlekey.Normalize(title)] = r
		}
	}
	for _, title := range titles {
		results[title] = byKey[titlekey.Normalize(title)]
	}

	c.logger.Debug().
		Int("titles", len(titles)).
		Int("found", resp.FoundCount).
		Int("notFound", resp.NotFoundCount).
		Msg("batch lookup completed")

	return results, nil
}

// Health queries the remote health endpoint
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	body, err := c.do(ctx, "health", http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}

	var info HealthInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, &TransportError{Op: "health", Err: fmt.Errorf("%w: %v", errMalformed, err)}
	}
	return &info, nil
}

// execute runs call under the circuit breaker, retrying transport failures
// when retries are enabled. ErrNotFound is never retried.
func (c *Client) execute(ctx context.Context, op string, call func(ctx context.Context) error) error {
	maxAttempts := 1
	if c.retry.Enabled && c.retry.MaxAttempts > 1 {
		maxAttempts = c.retry.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if !c.breaker.Allow() {
			return &TransportError{Op: op, Err: ErrCircuitOpen}
		}

		err := call(ctx)
		c.breaker.Report(err != nil && !errors.Is(err, ErrNotFound))
		if err == nil || errors.Is(err, ErrNotFound) {
			return err
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}

		c.logger.Warn().
			Int("attempt", attempt+1).
			Int("maxAttempts", maxAttempts).
			Err(err).
			Str("op", op).
			Msg("lookup attempt failed")
	}
	return lastErr
}

// do performs one HTTP round trip and returns the body of a 200 response
func (c *Client) do(ctx context.Context, op, method, endpoint string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	c.requests.Add(1)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	c.recordFreshness(op, resp.Header.Get(freshnessHeader))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound && op == "fetchOne":
		return nil, ErrNotFound
	default:
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(snippet(body))}
	}
}

// recordFreshness logs and counts the remote cache status. Informational only.
func (c *Client) recordFreshness(op, status string) {
	switch strings.ToUpper(status) {
	case "HIT":
		c.remoteHits.Add(1)
	case "MISS":
		c.remoteMisses.Add(1)
	default:
		return
	}
	c.logger.Debug().Str("op", op).Str("remoteCache", status).Msg("remote freshness")
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	if s == "" {
		s = "empty body"
	}
	return s
}
