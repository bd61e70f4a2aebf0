// Package asynchook runs querysync.Hooks on a small worker pool so slow
// hook implementations never hold up a fetch or a sweep.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{RetryEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	client := querysync.New(querysync.Options{Hooks: hooks})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/querysync"
)

type Hooks struct {
	inner   querysync.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ querysync.Hooks = (*Hooks)(nil)

func New(inner querysync.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains the queue and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped counts events lost to a full queue or a closed pool.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) FetchRetry(k string, attempt int, d time.Duration, err error) {
	h.try(func() { h.inner.FetchRetry(k, attempt, d, err) })
}
func (h *Hooks) FetchFailed(k string, attempts int, err error) {
	h.try(func() { h.inner.FetchFailed(k, attempts, err) })
}
func (h *Hooks) StaleResultDiscarded(k string)    { h.try(func() { h.inner.StaleResultDiscarded(k) }) }
func (h *Hooks) Evicted(k string, spilled bool)   { h.try(func() { h.inner.Evicted(k, spilled) }) }
func (h *Hooks) OrderingViolation(k string)       { h.try(func() { h.inner.OrderingViolation(k) }) }
func (h *Hooks) SpillRejected(k, reason string)   { h.try(func() { h.inner.SpillRejected(k, reason) }) }
func (h *Hooks) MutationRolledBack(k string, err error) {
	h.try(func() { h.inner.MutationRolledBack(k, err) })
}
