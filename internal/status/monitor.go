package status

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"ratinglens/internal/lookup"
)

// Checker queries the remote health endpoint
type Checker interface {
	Health(ctx context.Context) (*lookup.HealthInfo, error)
}

// Status is the last known connectivity to the remote lookup service
type Status struct {
	Connected   bool      `json:"connected"`
	Version     string    `json:"version,omitempty"`
	LastChecked time.Time `json:"lastChecked"`
	Error       string    `json:"error,omitempty"`
}

// Monitor polls the remote health endpoint and keeps the last result.
// Concurrent Check calls share one round trip.
type Monitor struct {
	checker  Checker
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	sf singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	last Status
}

// NewMonitor creates a new Monitor. interval <= 0 disables polling; timeout
// bounds each check.
func NewMonitor(checker Checker, interval, timeout time.Duration, logger zerolog.Logger) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		checker:  checker,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With().Str("component", "status").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs an initial check and begins polling
func (m *Monitor) Start() {
	st := m.Check()
	if st.Connected {
		m.logger.Info().Str("version", st.Version).Msg("lookup service reachable")
	} else {
		m.logger.Warn().Str("error", st.Error).Msg("lookup service unreachable")
	}

	if m.interval > 0 {
		m.wg.Add(1)
		go m.poll()
	}
}

// Stop stops polling
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Current returns the last recorded status without a network call
func (m *Monitor) Current() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Check queries the remote now and records the result
func (m *Monitor) Check() Status {
	v, _, _ := m.sf.Do("health", func() (interface{}, error) {
		return m.check(), nil
	})
	return v.(Status)
}

func (m *Monitor) check() Status {
	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	defer cancel()

	st := Status{LastChecked: time.Now()}
	info, err := m.checker.Health(ctx)
	if err != nil {
		st.Error = err.Error()
	} else {
		st.Connected = true
		st.Version = info.Version
	}

	m.mu.Lock()
	prev := m.last
	m.last = st
	m.mu.Unlock()

	if !prev.LastChecked.IsZero() && prev.Connected != st.Connected {
		if st.Connected {
			m.logger.Info().Str("version", st.Version).Msg("lookup service recovered")
		} else {
			m.logger.Warn().Str("error", st.Error).Msg("lookup service became unreachable")
		}
	}
	return st
}

func (m *Monitor) poll() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}
