package querysync

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// fetchCall is one in-flight fetch, shared by everyone asking for its key.
type fetchCall struct {
	token  uint64
	spec   *fetcherSpec
	ctx    context.Context
	cancel context.CancelFunc
	fn     func(ctx context.Context) (any, error)

	prevStatus Status
	// keepOnError leaves the entry as it was when the fetch fails (next page).
	keepOnError bool

	// guarded by Store.mu
	rerun   bool
	waiters int

	done chan struct{}
	val  any
	err  error
}

func (call *fetchCall) finish(v any, err error) {
	call.val, call.err = v, err
	close(call.done)
}

// start installs a new fetch on r and marks the entry as fetching.
// Caller holds s.mu and must launch c.run once the lock is released.
func (c *Client) start(r *record, spec *fetcherSpec, fn func(context.Context) (any, error)) *fetchCall {
	s := c.store
	ctx, cancel := context.WithCancel(c.root)
	call := &fetchCall{
		token:      s.nextToken(),
		spec:       spec,
		ctx:        ctx,
		cancel:     cancel,
		fn:         fn,
		prevStatus: r.entry.Status,
		done:       make(chan struct{}),
	}
	r.call = call
	r.token = call.token
	r.gc = spec.settings.GCTime
	r.entry.Status = StatusFetching
	return call
}

// ensureFresh starts a fetch for k unless one is running or the entry is
// fresh. It returns the running or started call (nil when none is needed)
// and the entry as of the decision. With wait the caller is counted as
// awaiting the call and must go through await.
func (c *Client) ensureFresh(k Key, spec *fetcherSpec, force, wait bool) (*fetchCall, Entry) {
	if spec == nil {
		spec = c.reg.lookup(k)
	}
	s := c.store

	s.mu.Lock()
	r, ok := s.records[k.String()]
	if !ok && spec == nil {
		s.mu.Unlock()
		return nil, Entry{}
	}
	if !ok {
		r = s.lookupOrCreate(k)
	}
	if spec != nil && r.gc != spec.settings.GCTime {
		r.gc = spec.settings.GCTime
		if r.entry.Subscribers == 0 {
			r.entry.ExpiresAt = s.now().Add(r.gc)
		}
	}

	var (
		call    *fetchCall
		started bool
		ns      []notice
	)
	switch {
	case r.call != nil:
		call = r.call
	case spec == nil || spec.disabled || c.closed.Load():
	case force || r.entry.Status != StatusSuccess || r.entry.Stale(s.now()):
		prev := r.entry.Data
		call = c.start(r, spec, func(ctx context.Context) (any, error) {
			return spec.fetch(ctx, prev)
		})
		started = true
		ns = append(ns, s.changed(r))
	}
	if call != nil && wait {
		call.waiters++
	}
	e := r.entry
	s.mu.Unlock()

	deliver(ns)
	if started {
		go c.run(k, call)
	}
	return call, e
}

// run drives one call through its attempts and settles it.
func (c *Client) run(k Key, call *fetchCall) {
	ks := k.String()
	retry := call.spec.settings.Retry
	for attempt := 0; ; attempt++ {
		v, err := call.fn(call.ctx)
		if err == nil {
			c.settle(k, call, v, nil)
			return
		}
		if call.ctx.Err() != nil {
			c.settle(k, call, nil, ErrCancelled.withKey(k))
			return
		}
		if !retry.retry(attempt, err) {
			c.log.Debug("fetch failed", Fields{"key": ks, "attempts": attempt + 1, "err": err})
			c.hooks.FetchFailed(ks, attempt+1, err)
			c.settle(k, call, nil, err)
			return
		}

		d := retry.Delay(attempt)
		c.hooks.FetchRetry(ks, attempt+1, d, err)
		if !c.wanted(k, call) || !sleep(call.ctx, d) || !c.wanted(k, call) {
			c.log.Debug("retry abandoned", Fields{"key": ks, "attempt": attempt + 1})
			c.settle(k, call, nil, ErrCancelled.withKey(k))
			return
		}
	}
}

// wanted reports whether anyone still cares about call's result: it is still
// the entry's fetch and the entry is observed, awaited or within its
// retention window.
func (c *Client) wanted(k Key, call *fetchCall) bool {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[k.String()]
	if !ok || r.call != call {
		return false
	}
	return r.entry.Subscribers > 0 || call.waiters > 0 || !s.now().After(r.entry.ExpiresAt)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// settle applies a call's outcome if the call still owns its entry.
func (c *Client) settle(k Key, call *fetchCall, v any, err error) {
	s := c.store
	var (
		ns        []notice
		again     bool
		discarded bool
	)

	s.mu.Lock()
	r, ok := s.records[k.String()]
	switch {
	case !ok || r.call == nil || r.token != call.token:
		discarded = true
	case err != nil && (isCancelled(err) || call.keepOnError):
		r.call = nil
		r.entry.Status = call.prevStatus
		ns = append(ns, s.changed(r))
	case err != nil:
		r.call = nil
		r.entry.Status = StatusError
		r.entry.Err = err
		r.entry.Data = nil
		r.writes++
		ns = append(ns, s.changed(r))
	default:
		now := s.now()
		r.call = nil
		r.writes++
		r.entry.Status = StatusSuccess
		r.entry.Data = v
		r.entry.Err = nil
		r.entry.FetchedAt = now
		r.entry.StaleAt = staleAt(now, call.spec.settings.StaleTime)
		r.entry.Invalidated = call.rerun
		if call.rerun {
			r.entry.StaleAt = now
			again = r.entry.Subscribers > 0
		}
		ns = append(ns, s.changed(r))
	}
	s.mu.Unlock()
	call.cancel()

	if discarded {
		if err == nil || !isCancelled(err) {
			c.log.Debug("stale fetch result discarded", Fields{"key": k.String()})
			c.hooks.StaleResultDiscarded(k.String())
		}
		call.finish(nil, ErrCancelled.withKey(k))
		return
	}
	deliver(ns)
	call.finish(v, err)
	if again {
		c.ensureFresh(k, nil, false, false)
	}
}

// await blocks until call settles or ctx ends. The caller must have been
// counted as a waiter by ensureFresh.
func (c *Client) await(ctx context.Context, call *fetchCall) (any, error) {
	select {
	case <-call.done:
	case <-ctx.Done():
	}
	c.store.mu.Lock()
	call.waiters--
	c.store.mu.Unlock()

	select {
	case <-call.done:
		return call.val, call.err
	default:
		return nil, ctx.Err()
	}
}

func as[T any](k Key, v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("querysync: %s holds %T, not %T", k, v, zero)
	}
	return t, nil
}

// prepare registers spec for k and, for absent entries, tries the spill tier.
func (c *Client) prepare(ctx context.Context, k Key, spec *fetcherSpec) {
	c.reg.put(k, spec)
	if _, ok := c.store.Get(k); !ok {
		c.restore(ctx, k, spec)
	}
}

// Fetch returns the data for cfg, fetching it if the entry is missing or
// stale and waiting for the result.
func Fetch[T any](ctx context.Context, c *Client, cfg QueryConfig[T]) (T, error) {
	var zero T
	if c.closed.Load() {
		return zero, ErrClosed
	}
	spec, err := cfg.spec(c.reg)
	if err != nil {
		return zero, err
	}
	if spec.disabled {
		return zero, ErrDisabled.withKey(cfg.Key)
	}
	c.prepare(ctx, cfg.Key, spec)

	call, e := c.ensureFresh(cfg.Key, spec, false, true)
	if call == nil {
		return as[T](cfg.Key, e.Data)
	}
	v, err := c.await(ctx, call)
	if err != nil {
		return zero, err
	}
	return as[T](cfg.Key, v)
}

// Prefetch warms the entry for cfg without waiting.
func Prefetch[T any](ctx context.Context, c *Client, cfg QueryConfig[T]) error {
	if c.closed.Load() {
		return ErrClosed
	}
	spec, err := cfg.spec(c.reg)
	if err != nil {
		return err
	}
	c.prepare(ctx, cfg.Key, spec)
	c.ensureFresh(cfg.Key, spec, false, false)
	return nil
}

// FetchAll fetches every config concurrently and returns the results in
// order. The first error cancels the wait for the rest; their fetches still
// complete into the cache.
func FetchAll[T any](ctx context.Context, c *Client, cfgs []QueryConfig[T]) ([]T, error) {
	out := make([]T, len(cfgs))
	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range cfgs {
		g.Go(func() error {
			v, err := Fetch(gctx, c, cfg)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
