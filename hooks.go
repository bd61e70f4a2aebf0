package querysync

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; wrap slow ones with
// hooks/async. They are never called while the store is locked.
type Hooks interface {
	// A fetch failed and will be attempted again after delay.
	FetchRetry(key string, attempt int, delay time.Duration, err error)

	// A fetch gave up after attempts tries; the entry is now in error.
	FetchFailed(key string, attempts int, err error)

	// A fetch settled after its entry was removed, reset or refetched.
	StaleResultDiscarded(key string)

	// Sweep evicted an entry; spilled is true when it went to the spill tier.
	Evicted(key string, spilled bool)

	// An optimistic mutation failed and its snapshot was restored.
	MutationRolledBack(key string, err error)

	// A next page was requested while the entry was not settled.
	OrderingViolation(key string)

	// A spilled entry was deleted on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode", "gen_error"}
	SpillRejected(key, reason string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) FetchRetry(string, int, time.Duration, error) {}
func (NopHooks) FetchFailed(string, int, error)               {}
func (NopHooks) StaleResultDiscarded(string)                  {}
func (NopHooks) Evicted(string, bool)                         {}
func (NopHooks) MutationRolledBack(string, error)             {}
func (NopHooks) OrderingViolation(string)                     {}
func (NopHooks) SpillRejected(string, string)                 {}
