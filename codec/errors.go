package codec

import "fmt"

// TypeError reports a value whose dynamic type does not match the codec.
type TypeError struct {
	Want any
	Got  any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("codec: cannot encode %T, want %T", e.Got, e.Want)
}

// SizeError is returned by Limit when a payload exceeds MaxDecode.
type SizeError struct {
	Size int
	Max  int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("codec: payload too large: %d > %d", e.Size, e.Max)
}
