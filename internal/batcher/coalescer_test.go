package batcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ratinglens/internal/lookup"
)

// fakeFetcher answers bulk lookups from a table and records every call
type fakeFetcher struct {
	mu      sync.Mutex
	ratings map[string]float64 // lowercase title -> rating
	calls   [][]string
	err     error
	block   chan struct{} // when set, calls wait for it to close
	called  chan struct{}
}

func newFakeFetcher(ratings map[string]float64) *fakeFetcher {
	return &fakeFetcher{ratings: ratings, called: make(chan struct{}, 64)}
}

func (f *fakeFetcher) FetchMany(ctx context.Context, titles []string) (map[string]*lookup.Rating, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), titles...))
	block := f.block
	err := f.err
	f.mu.Unlock()
	f.called <- struct{}{}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	results := make(map[string]*lookup.Rating, len(titles))
	for _, title := range titles {
		if v, ok := f.ratings[strings.ToLower(title)]; ok {
			results[title] = &lookup.Rating{Title: title, Rating: v}
		} else {
			results[title] = nil
		}
	}
	return results, nil
}

func (f *fakeFetcher) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func newTestCoalescer(t *testing.T, f Fetcher, maxSize int, quiet time.Duration) *Coalescer {
	t.Helper()
	c := NewCoalescer(f, Config{MaxSize: maxSize, QuietPeriod: quiet}, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

func receive(t *testing.T, ch <-chan *lookup.Rating) *lookup.Rating {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return nil
	}
}

func sorted(titles []string) []string {
	out := append([]string(nil), titles...)
	sort.Strings(out)
	return out
}

func TestCoalescer_DeduplicatesWithinWindow(t *testing.T) {
	f := newFakeFetcher(map[string]float64{"a": 7.0, "b": 8.0, "c": 9.0})
	c := newTestCoalescer(t, f, 20, 50*time.Millisecond)

	chA := c.Enqueue("A")
	chB1 := c.Enqueue("B")
	chB2 := c.Enqueue("B")
	chC := c.Enqueue("C")

	if r := receive(t, chA); r == nil || r.Rating != 7.0 {
		t.Errorf("A = %+v, want 7.0", r)
	}
	b1, b2 := receive(t, chB1), receive(t, chB2)
	if b1 == nil || b2 == nil || b1.Rating != 8.0 || b2.Rating != 8.0 {
		t.Errorf("B callers got %+v and %+v, want 8.0 for both", b1, b2)
	}
	if r := receive(t, chC); r == nil || r.Rating != 9.0 {
		t.Errorf("C = %+v, want 9.0", r)
	}

	calls := f.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %v, want exactly one", calls)
	}
	if got := fmt.Sprint(sorted(calls[0])); got != "[A B C]" {
		t.Errorf("batch = %s, want [A B C]", got)
	}
	if c.Batches() != 1 {
		t.Errorf("Batches = %d, want 1", c.Batches())
	}
}

func TestCoalescer_CaseVariantsShareSlot(t *testing.T) {
	f := newFakeFetcher(map[string]float64{"dark": 8.7})
	c := newTestCoalescer(t, f, 20, 30*time.Millisecond)

	ch1 := c.Enqueue("Dark")
	ch2 := c.Enqueue("DARK")

	r1, r2 := receive(t, ch1), receive(t, ch2)
	if r1 == nil || r2 == nil || r1.Rating != r2.Rating {
		t.Fatalf("got %+v and %+v, want the same rating", r1, r2)
	}
	calls := f.Calls()
	if len(calls) != 1 || len(calls[0]) != 1 || calls[0][0] != "Dark" {
		t.Errorf("calls = %v, want [[Dark]]", calls)
	}
}

func TestCoalescer_FlushesAtMaxSize(t *testing.T) {
	f := newFakeFetcher(map[string]float64{})
	c := newTestCoalescer(t, f, 20, time.Hour)

	chans := make([]<-chan *lookup.Rating, 0, 20)
	for i := 0; i < 20; i++ {
		chans = append(chans, c.Enqueue(fmt.Sprintf("title-%d", i)))
	}

	for _, ch := range chans {
		if r := receive(t, ch); r != nil {
			t.Errorf("unknown title got %+v, want nil", r)
		}
	}
	calls := f.Calls()
	if len(calls) != 1 || len(calls[0]) != 20 {
		t.Fatalf("calls = %v, want one call with 20 titles", calls)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", c.Pending())
	}
}

func TestCoalescer_WaitsBelowMaxSize(t *testing.T) {
	f := newFakeFetcher(map[string]float64{})
	c := newTestCoalescer(t, f, 20, time.Hour)

	for i := 0; i < 19; i++ {
		c.Enqueue(fmt.Sprintf("title-%d", i))
	}

	select {
	case <-f.called:
		t.Fatal("19 titles must not flush before the quiet period")
	case <-time.After(100 * time.Millisecond):
	}
	if c.State() != Accumulating {
		t.Errorf("State = %s, want accumulating", c.State())
	}
	if c.Pending() != 19 {
		t.Errorf("Pending = %d, want 19", c.Pending())
	}
}

func TestCoalescer_QuietPeriodRestartsOnEachTitle(t *testing.T) {
	f := newFakeFetcher(map[string]float64{"a": 1, "b": 2})
	c := newTestCoalescer(t, f, 20, 200*time.Millisecond)

	chA := c.Enqueue("A")
	time.Sleep(120 * time.Millisecond)
	chB := c.Enqueue("B")
	time.Sleep(120 * time.Millisecond)

	// 240ms after A but only 120ms after B
	if n := len(f.Calls()); n != 0 {
		t.Fatalf("calls = %d before the quiet period after B, want 0", n)
	}

	receive(t, chA)
	receive(t, chB)
	calls := f.Calls()
	if len(calls) != 1 || fmt.Sprint(sorted(calls[0])) != "[A B]" {
		t.Errorf("calls = %v, want one call with [A B]", calls)
	}
}

func TestCoalescer_FailureAnswersNil(t *testing.T) {
	f := newFakeFetcher(map[string]float64{"a": 1})
	f.err = errors.New("connection refused")
	c := newTestCoalescer(t, f, 20, 20*time.Millisecond)

	chans := []<-chan *lookup.Rating{c.Enqueue("A"), c.Enqueue("A"), c.Enqueue("B")}
	for i, ch := range chans {
		if r := receive(t, ch); r != nil {
			t.Errorf("caller %d got %+v, want nil on failure", i, r)
		}
	}
}

func TestCoalescer_TitlesDuringFlushStartNewWindow(t *testing.T) {
	f := newFakeFetcher(map[string]float64{"a": 1, "b": 2, "c": 3})
	f.block = make(chan struct{})
	c := newTestCoalescer(t, f, 2, 30*time.Millisecond)

	chA := c.Enqueue("A")
	chB := c.Enqueue("B")
	<-f.called

	if c.State() != Flushing {
		t.Errorf("State = %s, want flushing", c.State())
	}

	chC := c.Enqueue("C")
	if c.State() != Accumulating {
		t.Errorf("State = %s, want accumulating", c.State())
	}
	<-f.called

	close(f.block)
	receive(t, chA)
	receive(t, chB)
	if r := receive(t, chC); r == nil || r.Rating != 3 {
		t.Errorf("C = %+v, want 3", r)
	}

	calls := f.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %v, want 2", calls)
	}
	if fmt.Sprint(sorted(calls[0])) != "[A B]" || fmt.Sprint(calls[1]) != "[C]" {
		t.Errorf("calls = %v, want [[A B] [C]]", calls)
	}
}

func TestCoalescer_ResultsHookRunsBeforeAnswers(t *testing.T) {
	f := newFakeFetcher(map[string]float64{"a": 1})
	c := newTestCoalescer(t, f, 20, 20*time.Millisecond)

	var hooked atomic.Bool
	var seen map[string]*lookup.Rating
	c.SetOnResults(func(results map[string]*lookup.Rating) {
		seen = results
		hooked.Store(true)
	})

	receive(t, c.Enqueue("A"))
	if !hooked.Load() {
		t.Fatal("hook must run before callers are answered")
	}
	if r := seen["A"]; r == nil || r.Rating != 1 {
		t.Errorf("hook results = %v, want A=1", seen)
	}
}

func TestCoalescer_ResultsHookSkippedOnFailure(t *testing.T) {
	f := newFakeFetcher(nil)
	f.err = errors.New("boom")
	c := newTestCoalescer(t, f, 20, 20*time.Millisecond)

	var hooked atomic.Bool
	c.SetOnResults(func(map[string]*lookup.Rating) { hooked.Store(true) })

	receive(t, c.Enqueue("A"))
	if hooked.Load() {
		t.Error("hook must not run for a failed batch")
	}
}

func TestCoalescer_LookupKeyedByRequestedTitle(t *testing.T) {
	f := newFakeFetcher(map[string]float64{"dark": 8.7})
	c := newTestCoalescer(t, f, 20, 20*time.Millisecond)

	results := c.Lookup(context.Background(), []string{"Dark", "dark", "Unknown"})
	if len(results) != 3 {
		t.Fatalf("results = %v, want 3 entries", results)
	}
	if results["Dark"] == nil || results["dark"] == nil {
		t.Errorf("both spellings should be answered: %v", results)
	}
	if r, ok := results["Unknown"]; !ok || r != nil {
		t.Errorf("Unknown = %+v, want nil entry", r)
	}
	if len(f.Calls()) != 1 {
		t.Errorf("calls = %d, want 1", len(f.Calls()))
	}
}

func TestCoalescer_LookupContextCancel(t *testing.T) {
	f := newFakeFetcher(map[string]float64{"a": 1})
	f.block = make(chan struct{})
	defer close(f.block)
	c := newTestCoalescer(t, f, 20, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	results := c.Lookup(ctx, []string{"A"})
	if r, ok := results["A"]; !ok || r != nil {
		t.Errorf("A = %+v, want nil entry after cancel", r)
	}
}

func TestCoalescer_CloseFlushesPending(t *testing.T) {
	f := newFakeFetcher(map[string]float64{"a": 1})
	c := NewCoalescer(f, Config{MaxSize: 20, QuietPeriod: time.Hour}, zerolog.Nop())

	ch := c.Enqueue("A")
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r := receive(t, ch); r == nil || r.Rating != 1 {
		t.Errorf("A = %+v, want 1", r)
	}

	if r := receive(t, c.Enqueue("A")); r != nil {
		t.Errorf("enqueue after close = %+v, want nil", r)
	}
	if c.State() != Idle {
		t.Errorf("State = %s, want idle", c.State())
	}
}

func TestCoalescer_EmptyTitle(t *testing.T) {
	f := newFakeFetcher(nil)
	c := newTestCoalescer(t, f, 20, 10*time.Millisecond)

	if r := receive(t, c.Enqueue("   ")); r != nil {
		t.Errorf("blank title = %+v, want nil", r)
	}
	if c.Pending() != 0 {
		t.Errorf("blank title must not be queued")
	}
}

func TestCoalescer_StaleTimerIgnored(t *testing.T) {
	f := newFakeFetcher(nil)
	c := newTestCoalescer(t, f, 20, time.Hour)

	c.Enqueue("A")
	c.mu.Lock()
	stale := c.timerSeq
	c.mu.Unlock()
	c.Enqueue("B")

	c.onQuiet(stale)
	if c.Pending() != 2 {
		t.Errorf("Pending = %d, stale timer must not flush the window", c.Pending())
	}
	if len(f.Calls()) != 0 {
		t.Errorf("calls = %v, want none", f.Calls())
	}
}
