package querysync

import "time"

type Status int

const (
	StatusIdle Status = iota
	StatusFetching
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusFetching:
		return "fetching"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is a point-in-time copy of one cache slot. Data is shared with the
// store and must be treated as read-only; replace it through Set instead.
type Entry struct {
	Key    Key
	Status Status
	Data   any
	Err    error

	FetchedAt time.Time
	StaleAt   time.Time
	// ExpiresAt only matters while Subscribers is zero.
	ExpiresAt time.Time

	Subscribers int
	// Invalidated forces the next read to refetch regardless of StaleAt.
	Invalidated bool
	// Version grows with every change of this entry.
	Version uint64
}

// Stale reports whether a read at now should refetch.
func (e Entry) Stale(now time.Time) bool {
	return e.Invalidated || !now.Before(e.StaleAt)
}

// HasData reports whether the entry holds a value, including the stale value
// kept while a refetch runs.
func (e Entry) HasData() bool { return e.Data != nil }
