package querysync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/querysync/codec"
)

// QueryConfig describes how to produce the data for one key.
type QueryConfig[T any] struct {
	Key   Key
	Fetch func(ctx context.Context) (T, error)

	// StaleTime is how long fetched data counts as fresh.
	// 0 takes the key's defaults; negative means always stale.
	StaleTime time.Duration
	// GCTime is how long the entry survives without subscribers.
	GCTime time.Duration
	Retry  RetryPolicy
	// Disabled configs are registered and observed but never fetched.
	Disabled bool
	// Codec, when set, lets the entry spill to Options.Spill on eviction.
	Codec codec.Codec[T]
}

// Defaults are the settings applied to keys under a prefix.
type Defaults struct {
	StaleTime time.Duration
	GCTime    time.Duration
	Retry     RetryPolicy
}

func (d Defaults) or(o Defaults) Defaults {
	return Defaults{
		StaleTime: coalesce(d.StaleTime, o.StaleTime),
		GCTime:    coalesce(d.GCTime, o.GCTime),
		Retry:     d.Retry.or(o.Retry),
	}
}

// fetcherSpec is the type-erased form of a query config.
type fetcherSpec struct {
	fetch    func(ctx context.Context, prev any) (any, error)
	settings Defaults
	disabled bool
	spill    spillCodec
	// explicit specs survive eviction of their entry.
	explicit bool
}

type prefixDefaults struct {
	prefix Key
	d      Defaults
}

// registry maps keys to fetchers and prefixes to defaults.
type registry struct {
	mu       sync.RWMutex
	base     Defaults
	prefixes []prefixDefaults
	fetchers map[string]*fetcherSpec
}

func newRegistry(base Defaults) *registry {
	return &registry{base: base, fetchers: make(map[string]*fetcherSpec)}
}

func (r *registry) setDefaults(prefix Key, d Defaults) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.prefixes {
		if r.prefixes[i].prefix.Equal(prefix) {
			r.prefixes[i].d = d
			return
		}
	}
	r.prefixes = append(r.prefixes, prefixDefaults{prefix: prefix.clone(), d: d})
}

// resolve fills the zero fields of d from the longest matching prefix
// defaults, then from the client defaults.
func (r *registry) resolve(k Key, d Defaults) Defaults {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best := -1
	for i, p := range r.prefixes {
		if k.HasPrefix(p.prefix) && (best < 0 || len(p.prefix) > len(r.prefixes[best].prefix)) {
			best = i
		}
	}
	if best >= 0 {
		d = d.or(r.prefixes[best].d)
	}
	return d.or(r.base)
}

func (r *registry) put(k Key, s *fetcherSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ks := k.String()
	if old, ok := r.fetchers[ks]; ok && old.explicit {
		s.explicit = true
	}
	r.fetchers[ks] = s
}

func (r *registry) lookup(k Key) *fetcherSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fetchers[k.String()]
}

// forget drops implicit fetchers of evicted keys.
func (r *registry) forget(keys []Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		ks := k.String()
		if s, ok := r.fetchers[ks]; ok && !s.explicit {
			delete(r.fetchers, ks)
		}
	}
}

func (cfg QueryConfig[T]) spec(reg *registry) (*fetcherSpec, error) {
	if cfg.Key == nil {
		return nil, fmt.Errorf("querysync: query key is required")
	}
	if cfg.Fetch == nil {
		return nil, fmt.Errorf("querysync: fetch is required for %s", cfg.Key)
	}
	fetch := cfg.Fetch
	s := &fetcherSpec{
		fetch: func(ctx context.Context, _ any) (any, error) {
			return fetch(ctx)
		},
		settings: reg.resolve(cfg.Key, Defaults{StaleTime: cfg.StaleTime, GCTime: cfg.GCTime, Retry: cfg.Retry}),
		disabled: cfg.Disabled,
	}
	if cfg.Codec != nil {
		s.spill = singleSpill{c: codec.Erase(cfg.Codec)}
	}
	return s, nil
}

// Register binds cfg's fetcher to its key without observing it. The fetcher
// is kept until the client closes; Read, Invalidate and Reset use it.
func Register[T any](c *Client, cfg QueryConfig[T]) error {
	s, err := cfg.spec(c.reg)
	if err != nil {
		return err
	}
	s.explicit = true
	c.reg.put(cfg.Key, s)
	return nil
}

// SetDefaults applies d to every key under prefix that does not set the
// field itself. The longest matching prefix wins.
func (c *Client) SetDefaults(prefix Key, d Defaults) {
	c.reg.setDefaults(prefix, d)
}
