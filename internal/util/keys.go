package util

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Normalize maps a key segment to its canonical representation.
// Integer kinds collapse to int64 (uint64 above MaxInt64 stays uint64),
// float kinds to float64. ok=false for unsupported segment types and NaN,
// which is not equal to itself.
func Normalize(seg any) (any, bool) {
	switch v := seg.(type) {
	case string, bool, int64:
		return v, true
	case float64:
		return v, !math.IsNaN(v)
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint:
		return normUint(uint64(v)), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return normUint(v), true
	case float32:
		f := float64(v)
		return f, !math.IsNaN(f)
	default:
		return nil, false
	}
}

func normUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

// Canonical renders segments as a stable, injective string:
// strings are quoted, numbers and bools are bare. ["user",7] -> `["user",7]`.
func Canonical(segs []any) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, s := range segs {
		if i > 0 {
			b.WriteByte(',')
		}
		n, ok := Normalize(s)
		if !ok {
			// unreachable for keys built via K; keep it distinct anyway
			fmt.Fprintf(&b, "?%T:%v", s, s)
			continue
		}
		switch v := n.(type) {
		case string:
			b.WriteString(strconv.Quote(v))
		case bool:
			b.WriteString(strconv.FormatBool(v))
		case int64:
			b.WriteString(strconv.FormatInt(v, 10))
		case uint64:
			b.WriteString(strconv.FormatUint(v, 10))
		case float64:
			f := strconv.FormatFloat(v, 'g', -1, 64)
			if !strings.ContainsAny(f, ".eEIN") {
				// keep 7.0 apart from the integer 7
				f += ".0"
			}
			b.WriteString(f)
		}
	}
	b.WriteByte(']')
	return b.String()
}

// HashedKey returns prefix + ":" + the 16 hex chars of xxhash(canonical).
// Used for external stores where key length and charset matter.
func HashedKey(prefix, canonical string) string {
	return fmt.Sprintf("%s:%016x", prefix, xxhash.Sum64String(canonical))
}
