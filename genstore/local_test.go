package genstore

import (
	"context"
	"testing"
	"time"
)

func TestLocalSnapshotManyIncludesAllAndZeroForMissing(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	keys := []string{"a", "b", "c"}
	for i := 0; i < 2; i++ {
		if _, err := s.Bump(ctx, "b"); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.SnapshotMany(ctx, keys)
	if err != nil {
		t.Fatal(err)
	}
	if got["a"] != 0 || got["b"] != 2 || got["c"] != 0 {
		t.Fatalf("got=%v want a=0,b=2,c=0", got)
	}
}

func TestSumMovesOnAnyBump(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	prefixes := []string{"[]", `["users"]`, `["users","pagination"]`}
	before, err := Sum(ctx, s, prefixes)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bump(ctx, `["users"]`); err != nil {
		t.Fatal(err)
	}
	after, err := Sum(ctx, s, prefixes)
	if err != nil {
		t.Fatal(err)
	}
	if after == before {
		t.Fatalf("sum did not move after bump: %d", after)
	}

	// unrelated keys leave the sum alone
	if _, err := s.Bump(ctx, `["posts"]`); err != nil {
		t.Fatal(err)
	}
	again, _ := Sum(ctx, s, prefixes)
	if again != after {
		t.Fatalf("unrelated bump changed sum: %d -> %d", after, again)
	}
}

func TestLocalCleanupPrunesOld(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, time.Second)
	t.Cleanup(func() { _ = s.Close(ctx) })

	if _, err := s.Bump(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(1200 * time.Millisecond)
	s.Cleanup(time.Second)

	g, err := s.Snapshot(ctx, "old")
	if err != nil {
		t.Fatal(err)
	}
	if g != 0 || s.Len() != 0 {
		t.Fatalf("expected pruned -> 0, got %d (len %d)", g, s.Len())
	}
}

func TestLocalCloseIdempotent(t *testing.T) {
	s := NewLocalGenStore(time.Millisecond, time.Hour)
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}
