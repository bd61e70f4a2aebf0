package querysync

import (
	"fmt"

	"github.com/unkn0wn-root/querysync/internal/util"
)

// Key addresses one cache entry. Segments are strings, bools, integers or
// floats; K normalizes integer kinds to int64 and float kinds to float64.
type Key []any

// K builds a Key. It panics on segment types that cannot be compared and on
// NaN, which is always a programming error at the call site.
func K(segs ...any) Key {
	k := make(Key, len(segs))
	for i, s := range segs {
		n, ok := util.Normalize(s)
		if !ok {
			panic(fmt.Sprintf("querysync: unsupported key segment %d of type %T", i, s))
		}
		k[i] = n
	}
	return k
}

// String is the canonical rendering, e.g. ["user",7]. Distinct keys never
// render the same.
func (k Key) String() string { return util.Canonical(k) }

func (k Key) Equal(o Key) bool {
	return len(k) == len(o) && k.HasPrefix(o)
}

// HasPrefix reports whether p is a leading sub-sequence of k.
// The empty key is a prefix of every key.
func (k Key) HasPrefix(p Key) bool {
	if len(p) > len(k) {
		return false
	}
	for i := range p {
		if !segEqual(k[i], p[i]) {
			return false
		}
	}
	return true
}

// Append returns a new key with segs added; k is not modified.
func (k Key) Append(segs ...any) Key {
	out := make(Key, 0, len(k)+len(segs))
	out = append(out, k...)
	return append(out, K(segs...)...)
}

func (k Key) clone() Key {
	return append(Key(nil), k...)
}

// segEqual agrees with String: segments that K would reject (only possible in
// literal keys) are equal when they render the same.
func segEqual(a, b any) bool {
	na, okA := util.Normalize(a)
	nb, okB := util.Normalize(b)
	if okA && okB {
		return na == nb
	}
	return okA == okB && util.Canonical([]any{a}) == util.Canonical([]any{b})
}
