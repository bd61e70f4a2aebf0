package querysync

import (
	"math"
	"testing"
)

func TestKeyEqualityNormalizesNumbers(t *testing.T) {
	if !K("user", 7).Equal(K("user", int64(7))) {
		t.Fatalf("int and int64 segments should be equal")
	}
	if !K("user", 7).Equal(Key{"user", uint8(7)}) {
		t.Fatalf("literal key with uint8 should equal K form")
	}
	if K("user", 7).Equal(K("user", "7")) {
		t.Fatalf("number and string segments must differ")
	}
	if K("user", 7).String() != K("user", uint16(7)).String() {
		t.Fatalf("canonical strings differ for equal keys")
	}
}

func TestKeyPrefixMatchesFromStart(t *testing.T) {
	k := K("users", "infinite", 10)
	cases := []struct {
		p    Key
		want bool
	}{
		{K(), true},
		{K("users"), true},
		{K("users", "infinite"), true},
		{K("users", "infinite", 10), true},
		{K("infinite"), false},
		{K("user"), false},
		{K("users", "infinite", 10, 0), false},
	}
	for _, tc := range cases {
		if got := k.HasPrefix(tc.p); got != tc.want {
			t.Fatalf("%s.HasPrefix(%s)=%v want %v", k, tc.p, got, tc.want)
		}
	}
}

func TestKeyAppendDoesNotAlias(t *testing.T) {
	base := make(Key, 0, 8)
	base = append(base, "users")
	a := base.Append("a")
	b := base.Append("b")
	if a.Equal(b) {
		t.Fatalf("appends aliased: %s %s", a, b)
	}
}

func TestKPanicsOnUnsupportedSegment(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	K("user", []int{1})
}

func TestNaNSegments(t *testing.T) {
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("K accepted a NaN segment")
			}
		}()
		K("x", math.NaN())
	}()

	// literal keys bypass K; equality must agree with the store's string form
	a, b := Key{"x", math.NaN()}, Key{"x", math.NaN()}
	if a.String() != b.String() || !a.Equal(b) || !a.HasPrefix(Key{"x"}) {
		t.Fatalf("NaN keys disagree: %s equal=%v", a, a.Equal(b))
	}
	if a.Equal(K("x", 1.5)) {
		t.Fatalf("NaN key equal to a number key")
	}
}
