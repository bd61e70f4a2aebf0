// Package sloghooks logs querysync.Hooks events with log/slog.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    RetryEvery:   10, // sample logs: ~every 10th retry
//	    RejectEvery:  1,  // log every spill rejection
//	})
//	client := querysync.New(querysync.Options{
//	    Hooks: asynchook.New(raw, 1, 1000), // or `raw` if you don't want async
//	})
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/querysync"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	RetryEvery  uint64
	RejectEvery uint64
	EvictEvery  uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	retryCtr  atomic.Uint64
	rejectCtr atomic.Uint64
	evictCtr  atomic.Uint64
}

var _ querysync.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) FetchRetry(key string, attempt int, delay time.Duration, err error) {
	if h.l == nil || !sample(h.opts.RetryEvery, &h.retryCtr) {
		return
	}
	h.l.Debug("querysync.fetch_retry",
		"key", h.redact(key),
		"attempt", attempt,
		"delay", delay,
		"err", err)
}

func (h *Hooks) FetchFailed(key string, attempts int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("querysync.fetch_failed",
		"key", h.redact(key),
		"attempts", attempts,
		"err", err)
}

func (h *Hooks) StaleResultDiscarded(key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("querysync.stale_result_discarded", "key", h.redact(key))
}

func (h *Hooks) Evicted(key string, spilled bool) {
	if h.l == nil || !sample(h.opts.EvictEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("querysync.evicted",
		"key", h.redact(key),
		"spilled", spilled)
}

func (h *Hooks) MutationRolledBack(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Info("querysync.mutation_rolled_back",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) OrderingViolation(key string) {
	if h.l == nil {
		return
	}
	h.l.Warn("querysync.ordering_violation",
		"key", h.redact(key),
		"msg", "next page requested before the previous one settled")
}

func (h *Hooks) SpillRejected(key, reason string) {
	if h.l == nil || !sample(h.opts.RejectEvery, &h.rejectCtr) {
		return
	}
	h.l.Info("querysync.spill_rejected",
		"key", h.redact(key),
		"reason", reason)
}
