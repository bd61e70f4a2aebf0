package querysync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/querysync/codec"
)

// InfiniteData holds the loaded pages in fetch order; Params[i] fetched Pages[i].
// Values are never appended to in place.
type InfiniteData[T, P any] struct {
	Pages  []T
	Params []P
}

func (d InfiniteData[T, P]) Len() int { return len(d.Pages) }

func (d InfiniteData[T, P]) with(page T, param P) InfiniteData[T, P] {
	pages := make([]T, 0, len(d.Pages)+1)
	params := make([]P, 0, len(d.Params)+1)
	return InfiniteData[T, P]{
		Pages:  append(append(pages, d.Pages...), page),
		Params: append(append(params, d.Params...), param),
	}
}

// InfiniteConfig describes a cursor-paginated list kept under one key.
type InfiniteConfig[T, P any] struct {
	Key          Key
	Fetch        func(ctx context.Context, param P) (T, error)
	InitialParam P
	// NextParam derives the param of the page after last from every page
	// loaded so far; ok=false means there is none.
	NextParam func(last T, all []T) (next P, ok bool)

	StaleTime time.Duration
	GCTime    time.Duration
	Retry     RetryPolicy
	Disabled  bool
	// Codec encodes single pages for the spill tier.
	Codec codec.Codec[T]
}

func (cfg InfiniteConfig[T, P]) next(d InfiniteData[T, P]) (P, bool) {
	if len(d.Pages) == 0 || cfg.NextParam == nil {
		var zero P
		return zero, false
	}
	return cfg.NextParam(d.Pages[len(d.Pages)-1], d.Pages)
}

// refetch loads the first page, then as many following pages as prev held,
// recomputing every param from the fresh pages.
func (cfg InfiniteConfig[T, P]) refetch(ctx context.Context, prev any) (any, error) {
	want := 1
	if d, ok := prev.(InfiniteData[T, P]); ok && len(d.Pages) > 0 {
		want = len(d.Pages)
	}
	var out InfiniteData[T, P]
	param := cfg.InitialParam
	for i := 0; i < want; i++ {
		page, err := cfg.Fetch(ctx, param)
		if err != nil {
			return nil, err
		}
		out = out.with(page, param)
		if i+1 == want {
			break
		}
		var ok bool
		if param, ok = cfg.next(out); !ok {
			break
		}
	}
	return out, nil
}

func (cfg InfiniteConfig[T, P]) spec(reg *registry) *fetcherSpec {
	if cfg.Key == nil || cfg.Fetch == nil {
		panic("querysync: infinite config needs Key and Fetch")
	}
	s := &fetcherSpec{
		fetch:    cfg.refetch,
		settings: reg.resolve(cfg.Key, Defaults{StaleTime: cfg.StaleTime, GCTime: cfg.GCTime, Retry: cfg.Retry}),
		disabled: cfg.Disabled,
	}
	if cfg.Codec != nil && cfg.NextParam != nil {
		s.spill = pagesSpill[T, P]{c: cfg.Codec, initial: cfg.InitialParam, next: cfg.NextParam}
	}
	return s
}

type InfiniteState[T, P any] struct {
	QueryState[InfiniteData[T, P]]
	HasNext        bool
	IsFetchingNext bool
}

// InfiniteObserver follows an infinite list.
type InfiniteObserver[T, P any] struct {
	obs          *Observer[InfiniteData[T, P]]
	cfg          InfiniteConfig[T, P]
	fetchingNext atomic.Int32
}

// ObserveInfinite subscribes to cfg's entry and loads the first page if
// needed. It panics when cfg has no Key or Fetch.
func ObserveInfinite[T, P any](c *Client, cfg InfiniteConfig[T, P]) *InfiniteObserver[T, P] {
	return &InfiniteObserver[T, P]{
		obs: newObserver[InfiniteData[T, P]](c, cfg.Key, cfg.spec(c.reg), nil),
		cfg: cfg,
	}
}

func (o *InfiniteObserver[T, P]) state(qs QueryState[InfiniteData[T, P]]) InfiniteState[T, P] {
	st := InfiniteState[T, P]{QueryState: qs, IsFetchingNext: o.fetchingNext.Load() > 0}
	if qs.HasData {
		_, st.HasNext = o.cfg.next(qs.Data)
	}
	return st
}

func (o *InfiniteObserver[T, P]) State() InfiniteState[T, P] { return o.state(o.obs.State()) }

func (o *InfiniteObserver[T, P]) HasNext() bool { return o.State().HasNext }

func (o *InfiniteObserver[T, P]) Subscribe(fn func(InfiniteState[T, P])) (cancel func()) {
	return o.obs.Subscribe(func(qs QueryState[InfiniteData[T, P]]) { fn(o.state(qs)) })
}

// FetchNext loads the page after the last loaded one and waits for it.
// It fails with ErrOrderingViolation while any fetch for the list runs or
// the list is not loaded, and with ErrNoNextPage after the last page. A
// failed page leaves the loaded pages untouched and returns the error.
func (o *InfiniteObserver[T, P]) FetchNext(ctx context.Context) error {
	o.fetchingNext.Add(1)
	defer o.fetchingNext.Add(-1)
	cfg := o.cfg
	return o.obs.c.fetchNext(ctx, cfg.Key, func(data any) (func(context.Context) (any, error), error) {
		d, ok := data.(InfiniteData[T, P])
		if !ok {
			return nil, ErrOrderingViolation.withKey(cfg.Key)
		}
		param, ok := cfg.next(d)
		if !ok {
			return nil, ErrNoNextPage.withKey(cfg.Key)
		}
		return func(ctx context.Context) (any, error) {
			page, err := cfg.Fetch(ctx, param)
			if err != nil {
				return nil, err
			}
			return d.with(page, param), nil
		}, nil
	})
}

// Refetch reloads every loaded page in order.
func (o *InfiniteObserver[T, P]) Refetch(ctx context.Context) (InfiniteData[T, P], error) {
	return o.obs.Refetch(ctx)
}

func (o *InfiniteObserver[T, P]) Close() { o.obs.Close() }

// fetchNext runs the fetch built by next as the entry's single in-flight
// call. next sees the entry data as of the start, under the store lock.
func (c *Client) fetchNext(ctx context.Context, k Key, next func(data any) (func(context.Context) (any, error), error)) error {
	if c.closed.Load() {
		return ErrClosed
	}
	spec := c.reg.lookup(k)
	s := c.store

	s.mu.Lock()
	r, ok := s.records[k.String()]
	if spec == nil || !ok || r.call != nil || r.entry.Status != StatusSuccess {
		s.mu.Unlock()
		c.log.Warn("next page requested before the list settled", Fields{"key": k.String()})
		c.hooks.OrderingViolation(k.String())
		return ErrOrderingViolation.withKey(k)
	}
	fn, err := next(r.entry.Data)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	call := c.start(r, spec, fn)
	call.keepOnError = true
	call.waiters++
	n := s.changed(r)
	s.mu.Unlock()

	deliver([]notice{n})
	go c.run(k, call)
	_, err = c.await(ctx, call)
	return err
}
