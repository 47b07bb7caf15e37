package config

import (
	"fmt"
	"time"
)

// Config represents the main configuration structure
type Config struct {
	Host                string               `json:"host" mapstructure:"host"`
	Port                int                  `json:"port" mapstructure:"port"`
	LogLevel            string               `json:"logLevel" mapstructure:"logLevel"`
	LookupURL           string               `json:"lookupUrl" mapstructure:"lookupUrl"`
	RequestTimeout      int                  `json:"requestTimeout" mapstructure:"requestTimeout"`           // ms - transport timeout for remote lookups
	HealthCheckInterval int                  `json:"healthCheckInterval" mapstructure:"healthCheckInterval"` // ms
	MaxBatchTitles      int                  `json:"maxBatchTitles" mapstructure:"maxBatchTitles"`
	RetryEnabled        bool                 `json:"retryEnabled" mapstructure:"retryEnabled"`
	RetryMaxAttempts    int                  `json:"retryMaxAttempts" mapstructure:"retryMaxAttempts"`
	Cache               CacheConfig          `json:"cache" mapstructure:"cache"`
	Batching            BatchingConfig       `json:"batching" mapstructure:"batching"`
	CircuitBreaker      CircuitBreakerConfig `json:"circuitBreaker" mapstructure:"circuitBreaker"`
}

// CacheConfig represents the in-memory rating cache configuration
type CacheConfig struct {
	TTL  int `json:"ttl" mapstructure:"ttl"`   // seconds
	Size int `json:"size" mapstructure:"size"` // number of entries
}

// BatchingConfig controls how cache misses are coalesced into batch lookups
type BatchingConfig struct {
	MaxSize     int `json:"maxSize" mapstructure:"maxSize"`         // distinct titles that trigger an immediate flush
	QuietPeriod int `json:"quietPeriod" mapstructure:"quietPeriod"` // ms without new titles before a flush
}

// CircuitBreakerConfig represents circuit breaker configuration for the lookup gateway
type CircuitBreakerConfig struct {
	Enabled          bool `json:"enabled" mapstructure:"enabled"`
	FailureThreshold int  `json:"failureThreshold" mapstructure:"failureThreshold"`
	RecoveryTimeout  int  `json:"recoveryTimeout" mapstructure:"recoveryTimeout"` // ms
}

// Default values
const (
	DefaultHost                = "localhost"
	DefaultPort                = 8787
	DefaultLogLevel            = "info"
	DefaultLookupURL           = "http://localhost:8000"
	DefaultRequestTimeout      = 5000  // ms
	DefaultHealthCheckInterval = 30000 // ms
	DefaultMaxBatchTitles      = 100
	DefaultRetryEnabled        = false
	DefaultRetryMaxAttempts    = 3
	DefaultCacheTTL            = 300 // seconds
	DefaultCacheSize           = 200
	DefaultBatchMaxSize        = 20
	DefaultBatchQuietPeriod    = 300 // ms
	DefaultFailureThreshold    = 5
	DefaultRecoveryTimeout     = 30000 // ms
)

// GetRequestTimeoutDuration returns request timeout as time.Duration
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetHealthCheckIntervalDuration returns health check interval as time.Duration
func (c *Config) GetHealthCheckIntervalDuration() time.Duration {
	return time.Duration(c.HealthCheckInterval) * time.Millisecond
}

// IsCircuitBreakerEnabled returns true if the circuit breaker is enabled
func (c *Config) IsCircuitBreakerEnabled() bool {
	return c.CircuitBreaker.Enabled
}

// Addr returns the listen address of the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetTTLDuration returns cache TTL as time.Duration
func (c *CacheConfig) GetTTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// GetQuietPeriodDuration returns the batching quiet period as time.Duration
func (c *BatchingConfig) GetQuietPeriodDuration() time.Duration {
	return time.Duration(c.QuietPeriod) * time.Millisecond
}

// GetRecoveryTimeoutDuration returns circuit breaker recovery timeout as time.Duration
func (c *CircuitBreakerConfig) GetRecoveryTimeoutDuration() time.Duration {
	return time.Duration(c.RecoveryTimeout) * time.Millisecond
}
