package querysync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	gen "github.com/unkn0wn-root/querysync/genstore"
	pr "github.com/unkn0wn-root/querysync/provider"
)

const (
	defaultStaleTime    = time.Minute
	defaultGCTime       = 5 * time.Minute
	defaultSweep        = time.Minute
	defaultSpillTTL     = 10 * time.Minute
	defaultGenRetention = 24 * time.Hour
)

// Options tune a Client. Every field is optional.
type Options struct {
	// StaleTime applies to queries that set none; 0 => 1m, negative => always stale.
	StaleTime time.Duration
	GCTime    time.Duration // 0 => 5m
	Retry     RetryPolicy   // zero fields => 3 retries, 1s base, 30s cap

	// CleanupInterval runs Sweep in the background; 0 => 1m, negative disables it.
	CleanupInterval time.Duration

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used
	Now    func() time.Time

	// Spill receives evicted entries whose config has a Codec.
	// Nil disables the spill tier.
	Spill     pr.Provider
	SpillTTL  time.Duration // 0 => 10m
	Namespace string        // spill and generation keyspace; "" => "default"
	// GenStore tracks prefix generations for the spill tier.
	// nil => LocalGenStore (in-process), closed with the client.
	GenStore     gen.GenStore
	GenRetention time.Duration // LocalGenStore retention; 0 => 24h
}

// Client is the cache. Create it with New; the zero value is not usable.
type Client struct {
	store    *Store
	reg      *registry
	bus      bus
	locks    keyLocks
	defaults Defaults

	log   Logger
	hooks Hooks
	now   func() time.Time

	ns       string
	spill    pr.Provider
	spillTTL time.Duration
	gen      gen.GenStore
	ownGen   bool

	root      context.Context
	stop      context.CancelFunc
	closed    atomic.Bool
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func New(opts Options) *Client {
	c := &Client{
		log:   coalesce[Logger](opts.Logger, NopLogger{}),
		hooks: coalesce[Hooks](opts.Hooks, NopHooks{}),
		now:   opts.Now,
		ns:    coalesce(opts.Namespace, "default"),
		spill: opts.Spill,
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.defaults = Defaults{
		StaleTime: coalesce(opts.StaleTime, defaultStaleTime),
		GCTime:    coalesce(opts.GCTime, defaultGCTime),
		Retry:     opts.Retry.or(defaultRetry),
	}
	c.store = NewStore(c.defaults.GCTime, c.now)
	c.reg = newRegistry(c.defaults)
	c.spillTTL = coalesce(opts.SpillTTL, defaultSpillTTL)
	c.root, c.stop = context.WithCancel(context.Background())

	if c.spill != nil {
		if opts.GenStore != nil {
			c.gen = opts.GenStore
		} else {
			retention := coalesce(opts.GenRetention, defaultGenRetention)
			c.gen = gen.NewLocalGenStore(retention/4, retention)
			c.ownGen = true
		}
	}

	interval := coalesce(opts.CleanupInterval, defaultSweep)
	if interval > 0 {
		c.wg.Add(1)
		go c.loop(interval)
	}
	return c
}

func (c *Client) loop(every time.Duration) {
	defer c.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.Sweep(c.now())
		case <-c.root.Done():
			return
		}
	}
}

// Close cancels every fetch, stops the sweep loop and releases the spill
// provider and an owned GenStore. It is safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.stop()
		c.wg.Wait()

		var errs []error
		if c.gen != nil && c.ownGen {
			errs = append(errs, c.gen.Close(ctx))
		}
		if c.spill != nil {
			errs = append(errs, c.spill.Close(ctx))
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// Store exposes the underlying store for consumers that want the raw
// entry contract.
func (c *Client) Store() *Store { return c.store }

// Read returns the entry at k and starts a fetch when it is stale and a
// fetcher is registered. It fails with ErrNotFound when there is neither an
// entry nor a fetcher.
func (c *Client) Read(k Key) (Entry, error) {
	spec := c.reg.lookup(k)
	if spec == nil {
		if e, ok := c.store.Get(k); ok {
			return e, nil
		}
		return Entry{}, ErrNotFound.withKey(k)
	}
	if _, ok := c.store.Get(k); !ok {
		c.restore(c.root, k, spec)
	}
	_, e := c.ensureFresh(k, spec, false, false)
	return e, nil
}

// Data returns the data cached at k, if any.
func (c *Client) Data(k Key) (any, bool) {
	e, ok := c.store.Get(k)
	if !ok || e.Data == nil {
		return nil, false
	}
	return e.Data, true
}

// SetData writes data at k as freshly fetched, creating the entry if needed.
// A nil data is ignored.
func (c *Client) SetData(k Key, data any) Entry {
	if data == nil {
		e, _ := c.store.Get(k)
		return e
	}
	return c.commit(k, data)
}

// Remove deletes every entry under prefix, aborting its fetch. Fetchers
// bound by Observe or Fetch go with their entry; registered ones stay.
func (c *Client) Remove(prefix Key) []Key {
	keys := c.each([]Key{prefix}, c.store.Remove)
	var gone []Key
	for _, k := range keys {
		if _, ok := c.store.Get(k); !ok {
			gone = append(gone, k)
		}
	}
	c.reg.forget(gone)
	return keys
}

// Reset returns every entry under prefix to idle and refetches the
// observed ones.
func (c *Client) Reset(prefix Key) []Key {
	keys := c.each([]Key{prefix}, c.store.Reset)
	for _, k := range keys {
		if e, ok := c.store.Get(k); ok && e.Subscribers > 0 {
			c.ensureFresh(k, nil, false, false)
		}
	}
	return keys
}

// Cancel aborts the fetches running under prefix. Their entries go back to
// the status they had before the fetch; awaiting callers get ErrCancelled.
func (c *Client) Cancel(prefix Key) []Key {
	s := c.store
	s.mu.Lock()
	var (
		keys []Key
		ns   []notice
	)
	for _, r := range s.match(prefix) {
		if s.detach(r) {
			keys = append(keys, r.entry.Key)
			ns = append(ns, s.changed(r))
		}
	}
	s.mu.Unlock()

	deliver(ns)
	return keys
}

// Sweep evicts unobserved entries past their retention, spilling the ones
// that carry a codec. The background loop calls it every CleanupInterval.
func (c *Client) Sweep(now time.Time) []Key {
	evicted := c.store.sweep(now)
	if len(evicted) == 0 {
		return nil
	}
	written := c.spillOut(c.root, evicted)
	keys := make([]Key, len(evicted))
	for i, e := range evicted {
		keys[i] = e.Key
		c.hooks.Evicted(e.Key.String(), written[e.Key.String()])
	}
	c.reg.forget(keys)
	c.log.Debug("swept", Fields{"evicted": len(keys), "spilled": len(written)})
	return keys
}

// Keys lists the tracked keys under prefix.
func (c *Client) Keys(prefix Key) []Key { return c.store.Keys(prefix) }
