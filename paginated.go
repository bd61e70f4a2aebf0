package querysync

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/querysync/codec"
)

// PageConfig describes an offset-paginated list. Every page is its own
// entry, keyed by Key plus one segment for the page.
type PageConfig[T any] struct {
	Key   Key
	Fetch func(ctx context.Context, page int) (T, error)
	// Segment renders a page index as the last key segment (e.g. a skip
	// offset). Nil uses the index itself.
	Segment func(page int) any
	// HasNext reports whether a page follows page. Nil means never.
	HasNext func(last T, page int) bool

	StaleTime time.Duration
	GCTime    time.Duration
	Retry     RetryPolicy
	Disabled  bool
	Codec     codec.Codec[T]

	// KeepPreviousData shows the last loaded page while the next one loads.
	KeepPreviousData bool
}

// PageKey returns the key of page.
func (cfg PageConfig[T]) PageKey(page int) Key {
	if cfg.Segment != nil {
		return cfg.Key.Append(cfg.Segment(page))
	}
	return cfg.Key.Append(page)
}

func (cfg PageConfig[T]) query(page int) QueryConfig[T] {
	fetch := cfg.Fetch
	return QueryConfig[T]{
		Key:       cfg.PageKey(page),
		Fetch:     func(ctx context.Context) (T, error) { return fetch(ctx, page) },
		StaleTime: cfg.StaleTime,
		GCTime:    cfg.GCTime,
		Retry:     cfg.Retry,
		Disabled:  cfg.Disabled,
		Codec:     cfg.Codec,
	}
}

type PageState[T any] struct {
	QueryState[T]
	Page    int
	HasNext bool
	// IsPlaceholder is set when Data belongs to the previously shown page.
	IsPlaceholder bool
}

type pageSub[T any] struct{ fn func(PageState[T]) }

// PageObserver follows one page of an offset list at a time.
type PageObserver[T any] struct {
	c   *Client
	cfg PageConfig[T]

	mu          sync.Mutex
	page        int
	cur         *Observer[T]
	placeholder *QueryState[T]
	subs        []*pageSub[T]
	closed      bool
}

// ObservePages observes page of cfg. It panics when cfg has no Key or Fetch.
func ObservePages[T any](c *Client, cfg PageConfig[T], page int) *PageObserver[T] {
	if cfg.Key == nil || cfg.Fetch == nil {
		panic("querysync: page config needs Key and Fetch")
	}
	p := &PageObserver[T]{c: c, cfg: cfg, page: -1}
	p.SetPage(page)
	return p
}

func (p *PageObserver[T]) observe(page int) *Observer[T] {
	spec, err := p.cfg.query(page).spec(p.c.reg)
	if err != nil {
		panic(err)
	}
	return newObserver[T](p.c, p.cfg.PageKey(page), spec, func(QueryState[T]) { p.emit(page) })
}

// SetPage switches to page. Pages already cached and fresh are shown without
// a fetch.
func (p *PageObserver[T]) SetPage(page int) {
	if page < 0 {
		page = 0
	}
	p.mu.Lock()
	if p.closed || page == p.page {
		p.mu.Unlock()
		return
	}
	old := p.cur
	if old != nil && p.cfg.KeepPreviousData {
		if st := old.State(); st.HasData {
			p.placeholder = &st
		}
	}
	p.page, p.cur = page, nil
	p.mu.Unlock()

	obs := p.observe(page)

	p.mu.Lock()
	if p.closed || p.page != page {
		p.mu.Unlock()
		obs.Close()
		return
	}
	p.cur = obs
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}
	p.emit(page)
}

func (p *PageObserver[T]) emit(page int) {
	p.mu.Lock()
	if p.closed || p.page != page || p.cur == nil {
		p.mu.Unlock()
		return
	}
	subs := append([]*pageSub[T](nil), p.subs...)
	p.mu.Unlock()

	st := p.State()
	for _, s := range subs {
		s.fn(st)
	}
}

func (p *PageObserver[T]) State() PageState[T] {
	p.mu.Lock()
	page, cur, ph := p.page, p.cur, p.placeholder
	p.mu.Unlock()

	var st PageState[T]
	st.Page = page
	if cur == nil {
		st.Key = p.cfg.PageKey(page)
		return st
	}
	st.QueryState = cur.State()
	if st.HasData {
		if p.cfg.HasNext != nil {
			st.HasNext = p.cfg.HasNext(st.Data, page)
		}
		return st
	}
	if p.cfg.KeepPreviousData && ph != nil {
		st.Data, st.HasData, st.IsPlaceholder = ph.Data, true, true
	}
	return st
}

func (p *PageObserver[T]) Page() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}

func (p *PageObserver[T]) HasNext() bool { return p.State().HasNext }

// FetchNext moves to the following page. It fails with ErrNoNextPage when
// the current page is not loaded or says it is the last.
func (p *PageObserver[T]) FetchNext() error {
	st := p.State()
	if st.IsPlaceholder || !st.HasNext {
		return ErrNoNextPage.withKey(p.cfg.Key)
	}
	p.SetPage(st.Page + 1)
	return nil
}

func (p *PageObserver[T]) FetchPrev() error {
	page := p.Page()
	if page == 0 {
		return ErrNoNextPage.withKey(p.cfg.Key)
	}
	p.SetPage(page - 1)
	return nil
}

func (p *PageObserver[T]) Refetch(ctx context.Context) (T, error) {
	p.mu.Lock()
	cur := p.cur
	p.mu.Unlock()
	if cur == nil {
		var zero T
		return zero, ErrClosed
	}
	return cur.Refetch(ctx)
}

func (p *PageObserver[T]) Subscribe(fn func(PageState[T])) (cancel func()) {
	s := &pageSub[T]{fn: fn}
	p.mu.Lock()
	p.subs = append(p.subs, s)
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, x := range p.subs {
				if x == s {
					p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (p *PageObserver[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cur := p.cur
	p.cur, p.subs = nil, nil
	p.mu.Unlock()
	if cur != nil {
		cur.Close()
	}
}
