package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override config keys,
// e.g. RATINGLENS_CACHE_TTL overrides cache.ttl
const EnvPrefix = "RATINGLENS"

// Load reads the configuration file (if path is not empty), applies
// environment overrides and defaults, and validates the result
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load with explicit key overrides (e.g. from command
// line flags) that take precedence over the file and the environment. The
// overrides are validated like any other value.
func LoadWithOverrides(path string, overrides map[string]interface{}) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Default returns a validated configuration built only from defaults
func Default() *Config {
	cfg := &Config{RetryEnabled: DefaultRetryEnabled}
	applyDefaults(cfg)
	return cfg
}

// setDefaults registers every key with viper so that AutomaticEnv can
// override keys that are absent from the config file
func setDefaults(v *viper.Viper) {
	v.SetDefault("host", DefaultHost)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("logLevel", DefaultLogLevel)
	v.SetDefault("lookupUrl", DefaultLookupURL)
	v.SetDefault("requestTimeout", DefaultRequestTimeout)
	v.SetDefault("healthCheckInterval", DefaultHealthCheckInterval)
	v.SetDefault("maxBatchTitles", DefaultMaxBatchTitles)
	v.SetDefault("retryEnabled", DefaultRetryEnabled)
	v.SetDefault("retryMaxAttempts", DefaultRetryMaxAttempts)
	v.SetDefault("cache.ttl", DefaultCacheTTL)
	v.SetDefault("cache.size", DefaultCacheSize)
	v.SetDefault("batching.maxSize", DefaultBatchMaxSize)
	v.SetDefault("batching.quietPeriod", DefaultBatchQuietPeriod)
	v.SetDefault("circuitBreaker.enabled", false)
	v.SetDefault("circuitBreaker.failureThreshold", DefaultFailureThreshold)
	v.SetDefault("circuitBreaker.recoveryTimeout", DefaultRecoveryTimeout)
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.LookupURL == "" {
		cfg.LookupURL = DefaultLookupURL
	}
	cfg.LookupURL = strings.TrimRight(cfg.LookupURL, "/")
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if cfg.MaxBatchTitles == 0 {
		cfg.MaxBatchTitles = DefaultMaxBatchTitles
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.Size == 0 {
		cfg.Cache.Size = DefaultCacheSize
	}
	if cfg.Batching.MaxSize == 0 {
		cfg.Batching.MaxSize = DefaultBatchMaxSize
	}
	if cfg.Batching.QuietPeriod == 0 {
		cfg.Batching.QuietPeriod = DefaultBatchQuietPeriod
	}
	if cfg.CircuitBreaker.FailureThreshold == 0 {
		cfg.CircuitBreaker.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.CircuitBreaker.RecoveryTimeout == 0 {
		cfg.CircuitBreaker.RecoveryTimeout = DefaultRecoveryTimeout
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	if !strings.HasPrefix(cfg.LookupURL, "http://") && !strings.HasPrefix(cfg.LookupURL, "https://") {
		return fmt.Errorf("lookupUrl must be an http or https URL")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("requestTimeout must be non-negative")
	}

	if cfg.HealthCheckInterval < 0 {
		return fmt.Errorf("healthCheckInterval must be non-negative")
	}

	if cfg.MaxBatchTitles < 0 {
		return fmt.Errorf("maxBatchTitles must be non-negative")
	}

	if cfg.RetryMaxAttempts < 0 {
		return fmt.Errorf("retryMaxAttempts must be non-negative")
	}

	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if cfg.Cache.Size < 0 {
		return fmt.Errorf("cache.size must be positive")
	}

	if cfg.Batching.MaxSize < 0 {
		return fmt.Errorf("batching.maxSize must be positive")
	}
	if cfg.Batching.QuietPeriod < 0 {
		return fmt.Errorf("batching.quietPeriod must be positive")
	}

	if cfg.CircuitBreaker.Enabled {
		if cfg.CircuitBreaker.FailureThreshold < 0 {
			return fmt.Errorf("circuitBreaker.failureThreshold must be positive")
		}
		if cfg.CircuitBreaker.RecoveryTimeout < 0 {
			return fmt.Errorf("circuitBreaker.recoveryTimeout must be positive")
		}
	}

	return nil
}
