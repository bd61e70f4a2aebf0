package querysync

import (
	"context"

	"github.com/unkn0wn-root/querysync/codec"
	"github.com/unkn0wn-root/querysync/genstore"
	"github.com/unkn0wn-root/querysync/internal/util"
	"github.com/unkn0wn-root/querysync/internal/wire"
)

// spillCodec frames entry data for the spill provider.
type spillCodec interface {
	encode(gen uint64, data any) ([]byte, error)
	// decode returns a non-empty reason when the frame must be dropped.
	decode(b []byte) (gen uint64, data any, reason string)
}

type singleSpill struct{ c codec.Any }

func (s singleSpill) encode(gen uint64, data any) ([]byte, error) {
	p, err := s.c.EncodeAny(data)
	if err != nil {
		return nil, err
	}
	return wire.EncodeSingle(gen, p), nil
}

func (s singleSpill) decode(b []byte) (uint64, any, string) {
	gen, p, err := wire.DecodeSingle(b)
	if err != nil {
		return 0, nil, "corrupt"
	}
	v, err := s.c.DecodeAny(p)
	if err != nil {
		return 0, nil, "value_decode"
	}
	return gen, v, ""
}

// pagesSpill stores an infinite entry as a pages frame.
// Params are not stored; they are recomputed from the pages.
type pagesSpill[T, P any] struct {
	c       codec.Codec[T]
	initial P
	next    func(last T, all []T) (P, bool)
}

func (s pagesSpill[T, P]) encode(gen uint64, data any) ([]byte, error) {
	d, ok := data.(InfiniteData[T, P])
	if !ok {
		return nil, &codec.TypeError{Want: d, Got: data}
	}
	pages := make([][]byte, len(d.Pages))
	for i, p := range d.Pages {
		b, err := s.c.Encode(p)
		if err != nil {
			return nil, err
		}
		pages[i] = b
	}
	return wire.EncodePages(gen, pages)
}

func (s pagesSpill[T, P]) decode(b []byte) (uint64, any, string) {
	gen, raw, err := wire.DecodePages(b)
	if err != nil {
		return 0, nil, "corrupt"
	}
	pages := make([]T, 0, len(raw))
	for _, r := range raw {
		p, err := s.c.Decode(r)
		if err != nil {
			return 0, nil, "value_decode"
		}
		pages = append(pages, p)
	}
	params := []P{s.initial}
	for i := 1; i < len(pages); i++ {
		p, ok := s.next(pages[i-1], pages[:i])
		if !ok {
			return 0, nil, "value_decode"
		}
		params = append(params, p)
	}
	return gen, InfiniteData[T, P]{Pages: pages, Params: params}, ""
}

func (c *Client) spillKey(k Key) string {
	return util.HashedKey("spill:"+c.ns, k.String())
}

func (c *Client) genKey(prefix Key) string {
	return util.HashedKey("gen:"+c.ns, prefix.String())
}

// genKeys lists the generation keys of every prefix of k, the empty one included.
func (c *Client) genKeys(k Key) []string {
	out := make([]string, 0, len(k)+1)
	for i := 0; i <= len(k); i++ {
		out = append(out, c.genKey(k[:i]))
	}
	return out
}

// bump moves the generation of prefix so spills under it are rejected.
func (c *Client) bump(ctx context.Context, prefix Key) {
	if c.spill == nil {
		return
	}
	if _, err := c.gen.Bump(ctx, c.genKey(prefix)); err != nil {
		c.log.Warn("gen bump failed", Fields{"prefix": prefix.String(), "err": err})
	}
}

// spillOut writes evicted entries that carry a spill codec.
// It reports which keys were written.
func (c *Client) spillOut(ctx context.Context, evicted []Entry) map[string]bool {
	written := make(map[string]bool)
	if c.spill == nil {
		return written
	}
	for _, e := range evicted {
		if e.Status != StatusSuccess || e.Data == nil {
			continue
		}
		spec := c.reg.lookup(e.Key)
		if spec == nil || spec.spill == nil {
			continue
		}
		ks := e.Key.String()
		gen, err := genstore.Sum(ctx, c.gen, c.genKeys(e.Key))
		if err != nil {
			c.log.Warn("spill skipped: gen snapshot failed", Fields{"key": ks, "err": err})
			continue
		}
		frame, err := spec.spill.encode(gen, e.Data)
		if err != nil {
			c.log.Warn("spill skipped: encode failed", Fields{"key": ks, "err": err})
			continue
		}
		sk := c.spillKey(e.Key)
		ok, err := c.spill.Set(ctx, sk, frame, int64(len(frame)), c.spillTTL)
		if err != nil {
			c.log.Warn("spill write failed", Fields{"key": ks, "err": err})
			continue
		}
		if !ok {
			c.log.Debug("spill rejected by provider (pressure)", Fields{"key": ks})
			continue
		}
		written[ks] = true
	}
	return written
}

// restore seeds an absent entry from the spill tier as stale data.
// Spills that fail to decode or whose generation moved are deleted.
func (c *Client) restore(ctx context.Context, k Key, spec *fetcherSpec) {
	if c.spill == nil || spec == nil || spec.spill == nil {
		return
	}
	ks, sk := k.String(), c.spillKey(k)
	raw, ok, err := c.spill.Get(ctx, sk)
	if err != nil || !ok {
		return
	}
	gen, data, reason := spec.spill.decode(raw)
	if reason == "" {
		cur, err := genstore.Sum(ctx, c.gen, c.genKeys(k))
		switch {
		case err != nil:
			reason = "gen_error"
		case cur != gen:
			reason = "gen_mismatch"
		}
	}
	// consumed or rejected, the frame is not needed any more
	_ = c.spill.Del(ctx, sk)
	if reason != "" {
		c.log.Debug("spill rejected", Fields{"key": ks, "reason": reason})
		c.hooks.SpillRejected(ks, reason)
		return
	}

	s := c.store
	s.mu.Lock()
	if _, exists := s.records[ks]; !exists {
		r := s.lookupOrCreate(k)
		r.gc = spec.settings.GCTime
		r.entry.Status = StatusSuccess
		r.entry.Data = data
		r.entry.StaleAt = s.now()
		r.entry.ExpiresAt = s.now().Add(r.gc)
		s.changed(r)
	}
	s.mu.Unlock()
	c.log.Debug("entry restored from spill", Fields{"key": ks})
}
