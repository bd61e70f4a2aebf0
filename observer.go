package querysync

import (
	"context"
	"sync"
	"time"
)

// QueryState is the typed view of an entry handed to observers.
type QueryState[T any] struct {
	Key    Key
	Status Status
	// Data is the latest value; during a refetch it is the previous one.
	Data       T
	HasData    bool
	Err        error
	IsFetching bool
	IsStale    bool
	FetchedAt  time.Time
	Version    uint64
}

func stateOf[T any](e Entry, now time.Time) QueryState[T] {
	st := QueryState[T]{
		Key:        e.Key,
		Status:     e.Status,
		Err:        e.Err,
		IsFetching: e.Status == StatusFetching,
		IsStale:    e.Status == StatusSuccess && e.Stale(now),
		FetchedAt:  e.FetchedAt,
		Version:    e.Version,
	}
	if v, ok := e.Data.(T); ok {
		st.Data, st.HasData = v, true
	}
	return st
}

// Observer keeps one subscription to a query's entry and fans changes out
// to its own listeners.
type Observer[T any] struct {
	c     *Client
	key   Key
	spec  *fetcherSpec
	unsub func()

	mu     sync.Mutex
	subs   []*observerSub[T]
	closed bool
}

type observerSub[T any] struct{ fn func(QueryState[T]) }

// Observe subscribes to cfg's entry and fetches it if it is missing or
// stale. It panics when cfg has no Key or Fetch.
func Observe[T any](c *Client, cfg QueryConfig[T]) *Observer[T] {
	spec, err := cfg.spec(c.reg)
	if err != nil {
		panic(err)
	}
	return newObserver[T](c, cfg.Key, spec, nil)
}

// newObserver subscribes first and fetches second so that onChange, when
// given, sees the fetch start.
func newObserver[T any](c *Client, k Key, spec *fetcherSpec, onChange func(QueryState[T])) *Observer[T] {
	o := &Observer[T]{c: c, key: k.clone(), spec: spec}
	if onChange != nil {
		o.subs = append(o.subs, &observerSub[T]{fn: onChange})
	}
	c.prepare(c.root, k, spec)
	o.unsub = c.store.Subscribe(k, o.emit)
	c.ensureFresh(k, spec, false, false)
	return o
}

func (o *Observer[T]) emit(e Entry) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	subs := append([]*observerSub[T](nil), o.subs...)
	o.mu.Unlock()

	st := stateOf[T](e, o.c.now())
	for _, s := range subs {
		s.fn(st)
	}
}

func (o *Observer[T]) Key() Key { return o.key }

// State reads the entry now.
func (o *Observer[T]) State() QueryState[T] {
	e, ok := o.c.store.Get(o.key)
	if !ok {
		return QueryState[T]{Key: o.key}
	}
	return stateOf[T](e, o.c.now())
}

// Subscribe adds fn to the listeners. It does not replay the current state;
// call State for that.
func (o *Observer[T]) Subscribe(fn func(QueryState[T])) (cancel func()) {
	s := &observerSub[T]{fn: fn}
	o.mu.Lock()
	o.subs = append(o.subs, s)
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			for i, x := range o.subs {
				if x == s {
					o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Refetch fetches regardless of staleness, joining a fetch already running,
// and waits for the result.
func (o *Observer[T]) Refetch(ctx context.Context) (T, error) {
	var zero T
	if o.c.closed.Load() {
		return zero, ErrClosed
	}
	if o.spec.disabled {
		return zero, ErrDisabled.withKey(o.key)
	}
	call, e := o.c.ensureFresh(o.key, o.spec, true, true)
	if call == nil {
		return as[T](o.key, e.Data)
	}
	v, err := o.c.await(ctx, call)
	if err != nil {
		return zero, err
	}
	return as[T](o.key, v)
}

// Close drops the subscription. The entry stays cached for its GCTime.
func (o *Observer[T]) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.subs = nil
	o.mu.Unlock()
	o.unsub()
}
