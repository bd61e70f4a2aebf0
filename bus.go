package querysync

import (
	"context"
	"sync"
)

// bus fans invalidation events out to listeners registered with
// Client.OnInvalidate.
type bus struct {
	mu   sync.Mutex
	subs []*busSub
}

type busSub struct{ fn func([]Key) }

func (b *bus) subscribe(fn func([]Key)) func() {
	s := &busSub{fn: fn}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, x := range b.subs {
				if x == s {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *bus) publish(keys []Key) {
	b.mu.Lock()
	subs := append([]*busSub(nil), b.subs...)
	b.mu.Unlock()
	for _, s := range subs {
		s.fn(keys)
	}
}

// Invalidate marks every entry under the prefixes stale and refetches the
// ones that have subscribers and a fetcher. Unobserved entries refetch on
// their next use. It returns the touched keys.
func (c *Client) Invalidate(prefixes ...Key) []Key {
	keys := c.each(prefixes, c.store.Invalidate)
	for _, k := range keys {
		if e, ok := c.store.Get(k); ok && e.Subscribers > 0 {
			c.ensureFresh(k, nil, false, false)
		}
	}
	if len(keys) > 0 {
		c.log.Debug("invalidated", Fields{"keys": len(keys)})
	}
	c.bus.publish(keys)
	return keys
}

// OnInvalidate registers fn to receive the keys touched by every Invalidate.
// Keys can be empty when nothing matched.
func (c *Client) OnInvalidate(fn func(keys []Key)) (cancel func()) {
	return c.bus.subscribe(fn)
}

// each bumps the spill generation of every prefix, applies op to it and
// returns the touched keys without duplicates.
func (c *Client) each(prefixes []Key, op func(Key) []Key) []Key {
	var (
		out  []Key
		seen = make(map[string]bool)
	)
	for _, p := range prefixes {
		c.bump(context.Background(), p)
		for _, k := range op(p) {
			ks := k.String()
			if !seen[ks] {
				seen[ks] = true
				out = append(out, k)
			}
		}
	}
	return out
}
