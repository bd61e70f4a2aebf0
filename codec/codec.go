// Package codec converts cached values to and from bytes.
// Codecs decode remote response bodies and encode entries for the spill tier.
package codec

// Codec encodes/decodes values V to []byte.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Any is a type-erased Codec. The cache stores entry data as `any`;
// Erase bridges a typed codec to that representation.
type Any interface {
	EncodeAny(v any) ([]byte, error)
	DecodeAny(b []byte) (any, error)
}

type erased[V any] struct{ c Codec[V] }

// Erase wraps c. EncodeAny fails with *TypeError when v is not a V.
// A nil c yields nil.
func Erase[V any](c Codec[V]) Any {
	if c == nil {
		return nil
	}
	return erased[V]{c: c}
}

func (e erased[V]) EncodeAny(v any) ([]byte, error) {
	tv, ok := v.(V)
	if !ok {
		var zero V
		return nil, &TypeError{Want: zero, Got: v}
	}
	return e.c.Encode(tv)
}

func (e erased[V]) DecodeAny(b []byte) (any, error) {
	return e.c.Decode(b)
}
