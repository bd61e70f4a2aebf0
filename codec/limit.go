package codec

// Limit wraps another codec and rejects oversized payloads at Decode time
// with *SizeError, before Inner sees them. Encode is forwarded unchanged.
// MaxDecode <= 0 disables the check.
//
// The remote client wraps JSON in Limit so a misbehaving endpoint cannot
// balloon the cache.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

func (c Limit[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }
func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, &SizeError{Size: len(b), Max: c.MaxDecode}
	}
	return c.Inner.Decode(b)
}
