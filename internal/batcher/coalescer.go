package batcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ratinglens/internal/lookup"
	"ratinglens/internal/titlekey"
)

// Coalescer merges single-title lookups into bulk remote calls. Titles are
// collected into a window that is flushed after a quiet period with no new
// titles, or immediately once MaxSize distinct titles are pending. Titles that
// normalize to the same key share one slot and one answer.
type Coalescer struct {
	fetcher   Fetcher
	cfg       Config
	onResults ResultsHook
	logger    zerolog.Logger

	mu       sync.Mutex
	pending  map[titlekey.Key]*pendingTitle
	order    []titlekey.Key
	timer    *time.Timer
	timerSeq uint64 // bumped on every arm and flush so stale timers do nothing
	inFlight int
	closed   bool

	batches atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoalescer creates a new Coalescer
func NewCoalescer(fetcher Fetcher, cfg Config, logger zerolog.Logger) *Coalescer {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 20
	}
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = 300 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coalescer{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger.With().Str("component", "batcher").Logger(),
		pending: make(map[titlekey.Key]*pendingTitle),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetOnResults sets the hook called with the results of every successful
// batch. Must be called before the first Enqueue.
func (c *Coalescer) SetOnResults(hook ResultsHook) {
	c.onResults = hook
}

// Enqueue adds a title to the current window and returns a channel that
// receives exactly one value: the rating, or nil when the title was not found or
// the batch failed. Enqueue never blocks on the network.
func (c *Coalescer) Enqueue(title string) <-chan *lookup.Rating {
	resultChan := make(chan *lookup.Rating, 1)

	key := titlekey.Normalize(title)
	if key == "" {
		resultChan <- nil
		return resultChan
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		resultChan <- nil
		return resultChan
	}

	p := c.pending[key]
	if p == nil {
		p = &pendingTitle{title: title}
		c.pending[key] = p
		c.order = append(c.order, key)
	}
	p.waiters = append(p.waiters, resultChan)

	if len(c.pending) >= c.cfg.MaxSize {
		b := c.takeLocked()
		c.mu.Unlock()
		c.logger.Debug().Int("titles", len(b.keys)).Msg("window full, flushing")
		go c.flush(b)
		return resultChan
	}

	// every new title restarts the quiet period
	c.armLocked()
	c.mu.Unlock()

	return resultChan
}

// Lookup enqueues every title and waits for all answers. The result is keyed
// by the titles as given; missing ratings map to nil. If ctx ends first, the
// titles still unanswered map to nil.
func (c *Coalescer) Lookup(ctx context.Context, titles []string) map[string]*lookup.Rating {
	chans := make([]<-chan *lookup.Rating, len(titles))
	for i, title := range titles {
		chans[i] = c.Enqueue(title)
	}

	results := make(map[string]*lookup.Rating, len(titles))
	for i, title := range titles {
		select {
		case r := <-chans[i]:
			results[title] = r
		case <-ctx.Done():
			if _, ok := results[title]; !ok {
				results[title] = nil
			}
		}
	}
	return results
}

// State returns the state of the current window
func (c *Coalescer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case len(c.pending) > 0:
		return Accumulating
	case c.inFlight > 0:
		return Flushing
	default:
		return Idle
	}
}

// Pending returns the number of distinct titles in the current window
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Batches returns the number of bulk calls issued
func (c *Coalescer) Batches() uint64 {
	return c.batches.Load()
}

// Close flushes the pending window and waits for in-flight batches until ctx
// ends. Later Enqueue calls answer nil immediately.
func (c *Coalescer) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var b *batch
	if len(c.pending) > 0 {
		b = c.takeLocked()
	}
	c.mu.Unlock()

	if b != nil {
		go c.flush(b)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		// abort in-flight calls so their waiters are released
		c.cancel()
		<-done
		return ctx.Err()
	}
}

// armLocked restarts the quiet-period timer. Caller holds c.mu.
func (c *Coalescer) armLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerSeq++
	seq := c.timerSeq
	c.timer = time.AfterFunc(c.cfg.QuietPeriod, func() {
		c.onQuiet(seq)
	})
}

// onQuiet flushes the window armed as seq, unless a newer key or a flush has
// happened since
func (c *Coalescer) onQuiet(seq uint64) {
	c.mu.Lock()
	if seq != c.timerSeq || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	b := c.takeLocked()
	c.mu.Unlock()

	c.logger.Debug().Int("titles", len(b.keys)).Msg("quiet period elapsed, flushing")
	c.flush(b)
}

// takeLocked snapshots the window and clears it so titles arriving during the
// network call start a new window. Caller holds c.mu.
func (c *Coalescer) takeLocked() *batch {
	b := &batch{keys: c.order, pending: c.pending}

	c.pending = make(map[titlekey.Key]*pendingTitle)
	c.order = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
	c.inFlight++
	c.wg.Add(1)

	return b
}

// flush issues one bulk call for the batch and answers every waiter
func (c *Coalescer) flush(b *batch) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()

	titles := b.titles()
	results, err := c.fetcher.FetchMany(c.ctx, titles)
	c.batches.Add(1)

	if err != nil {
		c.logger.Warn().
			Err(err).
			Int("titles", len(titles)).
			Int("waiters", b.waiterCount()).
			Msg("batch lookup failed, answering without ratings")
		results = nil
	} else if c.onResults != nil {
		c.onResults(results)
	}

	found := 0
	for _, key := range b.keys {
		p := b.pending[key]
		r := results[p.title]
		if r != nil {
			found++
		}
		for _, ch := range p.waiters {
			ch <- r.Clone()
		}
	}

	c.logger.Debug().
		Int("titles", len(titles)).
		Int("found", found).
		Int("waiters", b.waiterCount()).
		Msg("batch answered")
}
