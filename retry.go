package querysync

import "time"

// RetryPolicy controls how failed fetches are retried. Zero fields take the
// defaults; a negative Max disables retries.
type RetryPolicy struct {
	Max  int           // retries after the first attempt; 0 => 3
	Base time.Duration // delay before the first retry; 0 => 1s
	Cap  time.Duration // upper bound for any delay; 0 => 30s
	// SkipClientErrors fails at once on errors IsClientError reports.
	SkipClientErrors bool
}

var defaultRetry = RetryPolicy{Max: 3, Base: time.Second, Cap: 30 * time.Second}

// NoRetry fails a fetch on its first error.
var NoRetry = RetryPolicy{Max: -1}

// Delay returns min(Base*2^n, Cap), the wait before retry n+1.
func (p RetryPolicy) Delay(n int) time.Duration {
	d := p.Base
	for i := 0; i < n && d < p.Cap; i++ {
		d *= 2
	}
	if d > p.Cap {
		d = p.Cap
	}
	return d
}

// retry reports whether attempt (0-based) may be followed by another after err.
func (p RetryPolicy) retry(attempt int, err error) bool {
	if attempt >= p.retries() || !Retryable(err) {
		return false
	}
	return !p.SkipClientErrors || !IsClientError(err)
}

func (p RetryPolicy) retries() int {
	if p.Max < 0 {
		return 0
	}
	return p.Max
}

// or fills zero fields of p from d.
func (p RetryPolicy) or(d RetryPolicy) RetryPolicy {
	return RetryPolicy{
		Max:  coalesce(p.Max, d.Max),
		Base: coalesce(p.Base, d.Base),
		Cap:  coalesce(p.Cap, d.Cap),

		SkipClientErrors: p.SkipClientErrors || d.SkipClientErrors,
	}
}
