package querysync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind int

const (
	KindHTTP ErrorKind = iota + 1
	KindNetwork
	KindCancelled
	KindOrdering
	KindNotFound
	KindNoNextPage
	KindClosed
	KindDisabled
)

func (k ErrorKind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindNetwork:
		return "network"
	case KindCancelled:
		return "cancelled"
	case KindOrdering:
		return "ordering_violation"
	case KindNotFound:
		return "not_found"
	case KindNoNextPage:
		return "no_next_page"
	case KindClosed:
		return "closed"
	case KindDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Error is the error type surfaced by the cache and by remote fetchers.
// errors.Is matches on Kind, and on Status when the target sets one.
type Error struct {
	Kind     ErrorKind
	Status   int    // HTTP status; 0 when no response was received
	Endpoint string // remote endpoint, if any
	Key      string // canonical cache key, if any
	Message  string
	Err      error
}

var (
	ErrCancelled         = &Error{Kind: KindCancelled, Message: "fetch cancelled"}
	ErrOrderingViolation = &Error{Kind: KindOrdering, Message: "page requested before the previous one settled"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "no entry and no fetcher registered"}
	ErrNoNextPage        = &Error{Kind: KindNoNextPage, Message: "no next page"}
	ErrClosed            = &Error{Kind: KindClosed, Message: "client closed"}
	ErrDisabled          = &Error{Kind: KindDisabled, Message: "query disabled"}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Kind == KindHTTP:
		return fmt.Sprintf("querysync: %s %d: %s", e.Endpoint, e.Status, msg)
	case e.Endpoint != "":
		return fmt.Sprintf("querysync: %s %s: %s", e.Kind, e.Endpoint, msg)
	case e.Key != "":
		return fmt.Sprintf("querysync: %s %s: %s", e.Kind, e.Key, msg)
	default:
		return fmt.Sprintf("querysync: %s: %s", e.Kind, msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Status == 0 || t.Status == e.Status)
}

// withKey returns a copy of sentinel carrying key.
func (e *Error) withKey(k Key) *Error {
	cp := *e
	cp.Key = k.String()
	return &cp
}

func HTTPError(status int, endpoint, message string) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: KindHTTP, Status: status, Endpoint: endpoint, Message: message}
}

func NetworkError(endpoint string, err error) *Error {
	return &Error{Kind: KindNetwork, Endpoint: endpoint, Err: err}
}

// Retryable reports whether a failed fetch may be attempted again. Only
// cancellation is final; RetryPolicy.SkipClientErrors narrows this further.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	// a client timeout wraps DeadlineExceeded but is still a network failure
	switch e.Kind {
	case KindNetwork, KindHTTP:
		return true
	default:
		return false
	}
}

// IsClientError reports a 4xx response other than 408 and 429, which a
// retry would most likely repeat.
func IsClientError(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindHTTP {
		return false
	}
	if e.Status == http.StatusRequestTimeout || e.Status == http.StatusTooManyRequests {
		return false
	}
	return e.Status >= 400 && e.Status < 500
}

func isCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
