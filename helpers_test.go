package querysync

import (
	"context"
	"sync"
	"testing"
	"time"

	pr "github.com/unkn0wn-root/querysync/provider"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type user struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// newTestClient returns a client on a fake clock with the sweep loop off and
// millisecond retries.
func newTestClient(t *testing.T, optsOpt func(*Options)) (*Client, *fakeClock) {
	t.Helper()
	clk := newClock()
	opts := Options{
		Now:             clk.Now,
		CleanupInterval: -1,
		Retry:           RetryPolicy{Base: time.Millisecond, Cap: 4 * time.Millisecond},
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	c := New(opts)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, clk
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func entryOf(t *testing.T, c *Client, k Key) Entry {
	t.Helper()
	e, ok := c.Store().Get(k)
	if !ok {
		t.Fatalf("no entry for %s", k)
	}
	return e
}

func statusIs(c *Client, k Key, s Status) func() bool {
	return func() bool {
		e, ok := c.Store().Get(k)
		return ok && e.Status == s
	}
}

// gate is a fetch that blocks until released.
type gate struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{started: make(chan struct{}, 64), release: make(chan struct{})}
}

func (g *gate) enter() {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	g.started <- struct{}{}
	<-g.release
}

func (g *gate) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recHooks struct {
	NopHooks
	mu         sync.Mutex
	retries    int
	failed     []string
	discarded  []string
	evicted    map[string]bool
	rolledBack []string
	violations []string
	rejected   []string
}

func newRecHooks() *recHooks { return &recHooks{evicted: make(map[string]bool)} }

func (h *recHooks) FetchRetry(string, int, time.Duration, error) {
	h.mu.Lock()
	h.retries++
	h.mu.Unlock()
}

func (h *recHooks) FetchFailed(k string, _ int, _ error) {
	h.mu.Lock()
	h.failed = append(h.failed, k)
	h.mu.Unlock()
}

func (h *recHooks) StaleResultDiscarded(k string) {
	h.mu.Lock()
	h.discarded = append(h.discarded, k)
	h.mu.Unlock()
}

func (h *recHooks) Evicted(k string, spilled bool) {
	h.mu.Lock()
	h.evicted[k] = spilled
	h.mu.Unlock()
}

func (h *recHooks) MutationRolledBack(k string, _ error) {
	h.mu.Lock()
	h.rolledBack = append(h.rolledBack, k)
	h.mu.Unlock()
}

func (h *recHooks) OrderingViolation(k string) {
	h.mu.Lock()
	h.violations = append(h.violations, k)
	h.mu.Unlock()
}

func (h *recHooks) SpillRejected(_ string, reason string) {
	h.mu.Lock()
	h.rejected = append(h.rejected, reason)
	h.mu.Unlock()
}

func (h *recHooks) snapshot() recHooks {
	h.mu.Lock()
	defer h.mu.Unlock()
	evicted := make(map[string]bool, len(h.evicted))
	for k, v := range h.evicted {
		evicted[k] = v
	}
	return recHooks{
		evicted:    evicted,
		retries:    h.retries,
		failed:     append([]string(nil), h.failed...),
		discarded:  append([]string(nil), h.discarded...),
		rolledBack: append([]string(nil), h.rolledBack...),
		violations: append([]string(nil), h.violations...),
		rejected:   append([]string(nil), h.rejected...),
	}
}

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu sync.Mutex
	m  map[string]memEntry
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.m[key] = memEntry{v: value, exp: exp}
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, key)
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
