package querysync

import (
	"context"
	"fmt"
	"sync"
)

// Operation is a remote write.
type Operation[In, Out any] struct {
	Name string
	Call func(ctx context.Context, in In) (Out, error)
	// Target is the key the operation writes; its entry receives the
	// optimistic value and then the server response. Optional.
	Target func(in In) Key
	// Invalidates lists the prefixes refetched after a success.
	Invalidates func(in In, out Out) []Key
}

// MutationHooks run on the caller's goroutine, OnSettled always last.
type MutationHooks[In, Out any] struct {
	// Optimistic returns the value to show at Target while the call runs.
	// ok=false skips the optimistic write. Setting it enables the optimistic
	// protocol: the target's fetch is cancelled, its entry snapshotted and
	// restored exactly if the call fails. It runs under the cache lock and
	// must not call the client.
	Optimistic func(prev any, in In) (next any, ok bool)
	OnSuccess  func(out Out, in In)
	OnError    func(err error, in In)
	OnSettled  func(out Out, err error, in In)
}

type MutationStatus int

const (
	MutationIdle MutationStatus = iota
	MutationPending
	MutationSuccess
	MutationError
)

func (s MutationStatus) String() string {
	switch s {
	case MutationIdle:
		return "idle"
	case MutationPending:
		return "pending"
	case MutationSuccess:
		return "success"
	case MutationError:
		return "error"
	default:
		return "unknown"
	}
}

type MutationResult[Out any] struct {
	Status MutationStatus
	Data   Out
	Err    error
}

// Merge adapts a typed patch to MutationHooks.Optimistic. The optimistic
// write is skipped when the target holds no T.
func Merge[T, In any](patch func(prev T, in In) T) func(prev any, in In) (any, bool) {
	return func(prev any, in In) (any, bool) {
		t, ok := prev.(T)
		if !ok {
			return nil, false
		}
		return patch(t, in), true
	}
}

// Mutate runs op. Mutations on the same target are serialized, so every
// rollback restores the state its own mutation replaced. On success the
// response is written at Target as its new data.
//
// When op has a Target, OnSuccess and OnError run while the target is
// locked; they must not start another mutation on it.
func Mutate[In, Out any](ctx context.Context, c *Client, op Operation[In, Out], in In, h MutationHooks[In, Out]) MutationResult[Out] {
	var (
		out    Out
		err    error
		target Key
	)
	if op.Target != nil {
		target = op.Target(in)
	}

	switch {
	case c.closed.Load():
		err = ErrClosed
	case op.Call == nil:
		err = fmt.Errorf("querysync: mutation %q has no call", op.Name)
	}
	switch {
	case err != nil:
		if h.OnError != nil {
			h.OnError(err, in)
		}
	case h.Optimistic != nil && target != nil:
		out, err = mutateOptimistic(ctx, c, op, in, h, target)
	case target != nil:
		out, err = mutateTarget(ctx, c, op, in, h, target)
	default:
		out, err = op.Call(ctx, in)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err, in)
			}
			break
		}
		succeeded(c, op, in, out, h, target)
	}
	if err != nil {
		c.log.Debug("mutation failed", Fields{"op": op.Name, "err": err})
	}

	if h.OnSettled != nil {
		h.OnSettled(out, err, in)
	}
	if err != nil {
		return MutationResult[Out]{Status: MutationError, Data: out, Err: err}
	}
	return MutationResult[Out]{Status: MutationSuccess, Data: out}
}

func succeeded[In, Out any](c *Client, op Operation[In, Out], in In, out Out, h MutationHooks[In, Out], target Key) {
	if target != nil {
		c.commit(target, out)
	}
	if h.OnSuccess != nil {
		h.OnSuccess(out, in)
	}
	if op.Invalidates != nil {
		c.Invalidate(op.Invalidates(in, out)...)
	}
}

// mutateTarget runs a plain mutation under target's lock so it cannot land
// between an optimistic write and its rollback.
func mutateTarget[In, Out any](ctx context.Context, c *Client, op Operation[In, Out], in In, h MutationHooks[In, Out], target Key) (Out, error) {
	var out Out
	unlock, err := c.locks.lock(ctx, target.String())
	if err == nil {
		defer unlock()
		out, err = op.Call(ctx, in)
	}
	if err != nil {
		if h.OnError != nil {
			h.OnError(err, in)
		}
		return out, err
	}
	succeeded(c, op, in, out, h, target)
	return out, nil
}

// mutateOptimistic holds target's mutation lock from the snapshot until the
// target has been invalidated, which happens whatever the outcome.
func mutateOptimistic[In, Out any](ctx context.Context, c *Client, op Operation[In, Out], in In, h MutationHooks[In, Out], target Key) (Out, error) {
	var out Out
	unlock, err := c.locks.lock(ctx, target.String())
	if err != nil {
		if h.OnError != nil {
			h.OnError(err, in)
		}
		return out, err
	}
	defer unlock()

	snap := c.applyOptimistic(target, func(prev any) (any, bool) { return h.Optimistic(prev, in) })

	out, err = op.Call(ctx, in)
	if err != nil {
		c.rollback(target, snap)
		c.log.Debug("optimistic update rolled back", Fields{"op": op.Name, "key": target.String(), "err": err})
		c.hooks.MutationRolledBack(target.String(), err)
		if h.OnError != nil {
			h.OnError(err, in)
		}
	} else {
		succeeded(c, op, in, out, h, target)
	}
	c.Invalidate(target)
	return out, err
}

type snapshot struct {
	entry   Entry
	existed bool
	// writes is the record's write count right after the optimistic value
	// went in.
	writes uint64
}

// applyOptimistic cancels k's fetch, snapshots the entry and writes the
// optimistic value in one critical section. apply runs under the store lock.
func (c *Client) applyOptimistic(k Key, apply func(prev any) (any, bool)) snapshot {
	s := c.store
	s.mu.Lock()
	r, existed := s.records[k.String()]
	if !existed {
		r = s.lookupOrCreate(k)
	}
	cancelled := s.detach(r)
	snap := snapshot{entry: r.entry, existed: existed}

	var ns []notice
	if v, ok := apply(r.entry.Data); ok && v != nil {
		r.entry.Status = StatusSuccess
		r.entry.Data = v
		r.entry.Err = nil
		r.writes++
		ns = append(ns, s.changed(r))
	} else if cancelled {
		ns = append(ns, s.changed(r))
	}
	snap.writes = r.writes
	s.mu.Unlock()

	deliver(ns)
	return snap
}

// rollback puts snap back unless the entry was written since the optimistic
// value went in; that later write is kept. Subscribers stay live; the
// version moves forward.
func (c *Client) rollback(k Key, snap snapshot) {
	s := c.store
	s.mu.Lock()
	ks := k.String()
	r, ok := s.records[ks]
	if !ok {
		// removed meanwhile; nothing to restore into
		s.mu.Unlock()
		return
	}
	if r.writes != snap.writes {
		s.mu.Unlock()
		c.log.Debug("rollback skipped, entry written since", Fields{"key": ks})
		return
	}
	s.detach(r)
	if !snap.existed && r.entry.Subscribers == 0 {
		delete(s.records, ks)
		s.mu.Unlock()
		return
	}
	e := snap.entry
	if e.Subscribers != r.entry.Subscribers {
		e.ExpiresAt = r.entry.ExpiresAt
	}
	e.Subscribers, e.Version = r.entry.Subscribers, r.entry.Version
	r.entry = e
	r.writes++
	n := s.changed(r)
	s.mu.Unlock()

	deliver([]notice{n})
}

// commit writes data at k as freshly fetched.
func (c *Client) commit(k Key, data any) Entry {
	spec := c.reg.lookup(k)
	st := c.defaults.StaleTime
	if spec != nil {
		st = spec.settings.StaleTime
	}
	return c.store.Set(k, func(e *Entry) {
		now := c.now()
		e.Status = StatusSuccess
		e.Data = data
		e.FetchedAt = now
		e.StaleAt = staleAt(now, st)
		e.Invalidated = false
	})
}

// keyLocks serializes work per key; waiting honors the context.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func (l *keyLocks) lock(ctx context.Context, k string) (unlock func(), err error) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*keyLock)
	}
	kl, ok := l.m[k]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.m[k] = kl
	}
	kl.refs++
	l.mu.Unlock()

	release := func() {
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.m, k)
		}
		l.mu.Unlock()
	}

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			release()
		})
	}, nil
}
