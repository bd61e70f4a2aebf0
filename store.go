package querysync

import (
	"sort"
	"sync"
	"time"
)

// Listener receives a copy of the entry after every change. Calls for one
// listener never overlap and carry increasing versions. Listeners run after
// the store is unlocked, so they may call back into it; a change made while a
// listener runs is delivered to that listener right after it returns.
type Listener func(Entry)

type subscription struct {
	fn Listener

	mu      sync.Mutex
	last    uint64 // highest version queued
	queue   []Entry
	running bool
}

// offer queues e and, unless another call is already draining the queue,
// delivers everything queued in version order.
func (s *subscription) offer(e Entry) {
	s.mu.Lock()
	if e.Version <= s.last {
		s.mu.Unlock()
		return
	}
	s.last = e.Version
	s.queue = append(s.queue, e)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.fn(next)
		s.mu.Lock()
	}
	s.running = false
	s.mu.Unlock()
}

// notice is one pending delivery, collected under the lock and fired after it.
type notice struct {
	subs []*subscription
	e    Entry
}

func deliver(ns []notice) {
	for _, n := range ns {
		for _, s := range n.subs {
			s.offer(n.e)
		}
	}
}

type record struct {
	entry Entry
	subs  []*subscription
	gc    time.Duration
	// call is the single in-flight fetch; token is the generation it must
	// carry for its result to be applied.
	call  *fetchCall
	token uint64
	// writes counts data writes; rollback compares it to its snapshot.
	writes uint64
}

// Store maps keys to entries. Every operation is one critical section;
// listeners of the touched keys are notified after it, in subscription order.
type Store struct {
	mu      sync.Mutex
	records map[string]*record
	now     func() time.Time
	gc      time.Duration

	version uint64
	tokens  uint64
}

// NewStore returns an empty store. gc is the retention of unobserved entries;
// now defaults to time.Now.
func NewStore(gc time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		records: make(map[string]*record),
		now:     now,
		gc:      coalesce(gc, defaultGCTime),
	}
}

func (s *Store) Get(k Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[k.String()]
	if !ok {
		return Entry{}, false
	}
	return r.entry, true
}

// Set applies fn to the entry at k, creating an idle entry first if needed.
// Key, Subscribers and Version are owned by the store and cannot be changed.
// A Success entry drops its error; an Error entry drops its data.
func (s *Store) Set(k Key, fn func(*Entry)) Entry {
	s.mu.Lock()
	r := s.lookupOrCreate(k)
	e := r.entry
	fn(&e)
	e.Key, e.Subscribers, e.Version = r.entry.Key, r.entry.Subscribers, r.entry.Version
	switch e.Status {
	case StatusSuccess:
		e.Err = nil
	case StatusError:
		e.Data = nil
	}
	r.entry = e
	r.writes++
	n := s.changed(r)
	s.mu.Unlock()

	deliver([]notice{n})
	return n.e
}

// Subscribe registers l for changes of k and counts it as a subscriber.
// Registering does not notify. The returned func is idempotent.
func (s *Store) Subscribe(k Key, l Listener) (unsubscribe func()) {
	sub := &subscription{fn: l}
	ks := k.String()

	s.mu.Lock()
	r := s.lookupOrCreate(k)
	r.subs = append(r.subs, sub)
	r.entry.Subscribers++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			r, ok := s.records[ks]
			if !ok {
				return
			}
			for i, x := range r.subs {
				if x == sub {
					r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
					r.entry.Subscribers--
					if r.entry.Subscribers == 0 {
						r.entry.ExpiresAt = s.now().Add(r.gc)
					}
					return
				}
			}
		})
	}
}

// Invalidate marks every entry under prefix stale, keeping its data.
// A fetch running for such an entry is flagged to run again once it settles.
func (s *Store) Invalidate(prefix Key) []Key {
	s.mu.Lock()
	now := s.now()
	var (
		keys []Key
		ns   []notice
	)
	for _, r := range s.match(prefix) {
		if r.entry.StaleAt.After(now) {
			r.entry.StaleAt = now
		}
		r.entry.Invalidated = true
		if r.call != nil {
			r.call.rerun = true
		}
		keys = append(keys, r.entry.Key)
		ns = append(ns, s.changed(r))
	}
	s.mu.Unlock()

	deliver(ns)
	return keys
}

// Remove deletes every entry under prefix and aborts its fetch. Entries that
// still have subscribers are emptied in place instead, so their listeners
// keep receiving updates.
func (s *Store) Remove(prefix Key) []Key {
	s.mu.Lock()
	var (
		keys []Key
		ns   []notice
	)
	for _, r := range s.match(prefix) {
		s.detach(r)
		keys = append(keys, r.entry.Key)
		if r.entry.Subscribers == 0 {
			delete(s.records, r.entry.Key.String())
			continue
		}
		s.clear(r)
		ns = append(ns, s.changed(r))
	}
	s.mu.Unlock()

	deliver(ns)
	return keys
}

// Reset returns every entry under prefix to the idle state.
func (s *Store) Reset(prefix Key) []Key {
	s.mu.Lock()
	var (
		keys []Key
		ns   []notice
	)
	for _, r := range s.match(prefix) {
		s.detach(r)
		s.clear(r)
		keys = append(keys, r.entry.Key)
		ns = append(ns, s.changed(r))
	}
	s.mu.Unlock()

	deliver(ns)
	return keys
}

// Sweep evicts entries with no subscribers whose ExpiresAt is before now.
// Entries with a fetch in flight are kept until it settles.
func (s *Store) Sweep(now time.Time) []Key {
	ev := s.sweep(now)
	keys := make([]Key, len(ev))
	for i, e := range ev {
		keys[i] = e.Key
	}
	return keys
}

func (s *Store) sweep(now time.Time) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for ks, r := range s.records {
		if r.entry.Subscribers > 0 || r.call != nil || !now.After(r.entry.ExpiresAt) {
			continue
		}
		delete(s.records, ks)
		out = append(out, r.entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Keys lists the tracked keys under prefix in canonical order.
func (s *Store) Keys(prefix Key) []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.match(prefix)
	out := make([]Key, len(rs))
	for i, r := range rs {
		out[i] = r.entry.Key
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// ---- internals; callers hold s.mu ----

func (s *Store) lookupOrCreate(k Key) *record {
	ks := k.String()
	if r, ok := s.records[ks]; ok {
		return r
	}
	r := &record{gc: s.gc}
	r.entry = Entry{
		Key:       k.clone(),
		Status:    StatusIdle,
		ExpiresAt: s.now().Add(r.gc),
	}
	s.records[ks] = r
	return r
}

// match returns the records under prefix in canonical key order.
func (s *Store) match(prefix Key) []*record {
	var out []*record
	for _, r := range s.records {
		if r.entry.Key.HasPrefix(prefix) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].entry.Key.String() < out[j].entry.Key.String()
	})
	return out
}

// changed stamps a new version on r and returns its pending notification.
func (s *Store) changed(r *record) notice {
	s.version++
	r.entry.Version = s.version
	subs := make([]*subscription, len(r.subs))
	copy(subs, r.subs)
	return notice{subs: subs, e: r.entry}
}

func (s *Store) nextToken() uint64 {
	s.tokens++
	return s.tokens
}

// detach aborts r's fetch, if any, and restores the status it had before the
// fetch started. The fetch's result will be discarded.
func (s *Store) detach(r *record) bool {
	if r.call == nil {
		return false
	}
	r.call.cancel()
	r.entry.Status = r.call.prevStatus
	r.call = nil
	r.token = s.nextToken()
	return true
}

func (s *Store) clear(r *record) {
	r.writes++
	r.entry.Status = StatusIdle
	r.entry.Data = nil
	r.entry.Err = nil
	r.entry.FetchedAt = time.Time{}
	r.entry.StaleAt = time.Time{}
	r.entry.Invalidated = false
}

func staleAt(now time.Time, staleTime time.Duration) time.Time {
	if staleTime < 0 {
		return now
	}
	return now.Add(staleTime)
}
