package querysync

import (
	"sync"
	"testing"
	"time"
)

func TestStoreNotifiesInSubscriptionOrder(t *testing.T) {
	clk := newClock()
	s := NewStore(time.Minute, clk.Now)
	k := K("user", 1)

	var order []string
	s.Subscribe(k, func(Entry) { order = append(order, "a") })
	s.Subscribe(k, func(Entry) { order = append(order, "b") })
	if len(order) != 0 {
		t.Fatalf("subscribing must not notify, got %v", order)
	}

	s.Set(k, func(e *Entry) { e.Status = StatusSuccess; e.Data = user{ID: 1} })
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected order %v", order)
	}
	if e, _ := s.Get(k); e.Subscribers != 2 {
		t.Fatalf("subscribers=%d want 2", e.Subscribers)
	}
}

func TestStoreSetKeepsStatusInvariants(t *testing.T) {
	s := NewStore(time.Minute, nil)
	k := K("user", 1)

	e := s.Set(k, func(e *Entry) {
		e.Status = StatusSuccess
		e.Data = user{ID: 1}
		e.Err = HTTPError(500, "/users/1", "")
		e.Key = K("other")
		e.Subscribers = 9
	})
	if e.Err != nil || !e.Key.Equal(k) || e.Subscribers != 0 {
		t.Fatalf("store-owned fields leaked: %+v", e)
	}

	e = s.Set(k, func(e *Entry) { e.Status = StatusError; e.Err = HTTPError(500, "/users/1", "") })
	if e.Data != nil || e.Err == nil {
		t.Fatalf("error entry kept data: %+v", e)
	}
}

// An unobserved entry stays until exactly ExpiresAt and is gone after.
func TestStoreEvictionBoundary(t *testing.T) {
	clk := newClock()
	s := NewStore(time.Minute, clk.Now)
	k := K("user", 1)

	unsub := s.Subscribe(k, func(Entry) {})
	clk.Advance(10 * time.Minute)
	if got := s.Sweep(clk.Now()); len(got) != 0 {
		t.Fatalf("subscribed entry evicted: %v", got)
	}

	unsub()
	unsub() // idempotent
	e, _ := s.Get(k)
	if e.Subscribers != 0 || !e.ExpiresAt.Equal(clk.Now().Add(time.Minute)) {
		t.Fatalf("unexpected entry after unsubscribe: %+v", e)
	}

	if got := s.Sweep(e.ExpiresAt); len(got) != 0 {
		t.Fatalf("evicted at ExpiresAt: %v", got)
	}
	if _, ok := s.Get(k); !ok {
		t.Fatalf("entry missing at ExpiresAt")
	}
	got := s.Sweep(e.ExpiresAt.Add(time.Nanosecond))
	if len(got) != 1 || !got[0].Equal(k) {
		t.Fatalf("expected eviction of %s, got %v", k, got)
	}
	if _, ok := s.Get(k); ok {
		t.Fatalf("entry still present after sweep")
	}
}

func TestStoreInvalidateKeepsData(t *testing.T) {
	clk := newClock()
	s := NewStore(time.Minute, clk.Now)
	for _, id := range []int{1, 2} {
		s.Set(K("users", "pagination", 10, id), func(e *Entry) {
			e.Status = StatusSuccess
			e.Data = id
			e.StaleAt = clk.Now().Add(time.Hour)
		})
	}
	s.Set(K("user", 1), func(e *Entry) { e.Status = StatusSuccess; e.Data = 1; e.StaleAt = clk.Now().Add(time.Hour) })

	keys := s.Invalidate(K("users"))
	if len(keys) != 2 {
		t.Fatalf("invalidated %v", keys)
	}
	for _, k := range keys {
		e, _ := s.Get(k)
		if !e.Invalidated || e.Data == nil || !e.Stale(clk.Now()) || e.Status != StatusSuccess {
			t.Fatalf("bad invalidated entry %+v", e)
		}
	}
	if e, _ := s.Get(K("user", 1)); e.Stale(clk.Now()) {
		t.Fatalf("unrelated key went stale")
	}
}

func TestStoreRemoveEmptiesObservedEntries(t *testing.T) {
	s := NewStore(time.Minute, nil)
	observed, loose := K("user", 1), K("user", 2)
	var seen []Entry
	s.Subscribe(observed, func(e Entry) { seen = append(seen, e) })
	for _, k := range []Key{observed, loose} {
		s.Set(k, func(e *Entry) { e.Status = StatusSuccess; e.Data = "x" })
	}

	if got := s.Remove(K("user")); len(got) != 2 {
		t.Fatalf("removed %v", got)
	}
	if _, ok := s.Get(loose); ok {
		t.Fatalf("unobserved entry kept")
	}
	e, ok := s.Get(observed)
	if !ok || e.Status != StatusIdle || e.Data != nil || e.Subscribers != 1 {
		t.Fatalf("observed entry not emptied: %+v", e)
	}
	if last := seen[len(seen)-1]; last.Status != StatusIdle {
		t.Fatalf("listener missed removal: %+v", last)
	}
}

func TestStoreListenerSeesIncreasingVersions(t *testing.T) {
	s := NewStore(time.Minute, nil)
	k := K("counter")

	var (
		mu       sync.Mutex
		versions []uint64
		inside   bool
		overlap  bool
	)
	s.Subscribe(k, func(e Entry) {
		mu.Lock()
		if inside {
			overlap = true
		}
		inside = true
		versions = append(versions, e.Version)
		mu.Unlock()

		mu.Lock()
		inside = false
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Set(k, func(e *Entry) { e.Status = StatusSuccess; e.Data = i })
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Fatalf("listener calls overlapped")
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("version went backwards at %d: %d after %d", i, versions[i], versions[i-1])
		}
	}
	e, _ := s.Get(k)
	if versions[len(versions)-1] != e.Version {
		t.Fatalf("last delivered %d, entry at %d", versions[len(versions)-1], e.Version)
	}
}

func TestStoreListenerMayReenter(t *testing.T) {
	s := NewStore(time.Minute, nil)
	k := K("user", 1)
	var calls int
	s.Subscribe(k, func(e Entry) {
		calls++
		if e.Status == StatusFetching {
			s.Set(k, func(e *Entry) { e.Status = StatusSuccess; e.Data = "done" })
		}
	})
	s.Set(k, func(e *Entry) { e.Status = StatusFetching })
	if calls != 2 {
		t.Fatalf("calls=%d want 2", calls)
	}
	if e, _ := s.Get(k); e.Data != "done" {
		t.Fatalf("nested update lost: %+v", e)
	}
}
