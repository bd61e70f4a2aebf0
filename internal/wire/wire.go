// Package wire frames spilled cache entries for byte providers.
// A frame carries the key generation observed at spill time so stale
// spills are detected on read.
//
//	magic(4) | ver(1) | kind(1) | gen(u64 be) | n(u32 be) | (vlen(u32 be) | payload(vlen)) * n
//
// A single frame holds exactly one payload; a pages frame holds the pages of
// one infinite list in page order.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	version    byte = 1
	kindSingle byte = 1
	kindPages  byte = 2

	headerLen = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("querysync: corrupt spill frame")
	magic4     = [...]byte{'Q', 'S', 'Y', 'N'}
)

func encode(kind byte, gen uint64, payloads [][]byte) []byte {
	size := headerLen
	for _, p := range payloads {
		size += 4 + len(p)
	}
	b := make([]byte, 0, size)
	b = append(b, magic4[:]...)
	b = append(b, version, kind)
	b = binary.BigEndian.AppendUint64(b, gen)
	b = binary.BigEndian.AppendUint32(b, uint32(len(payloads)))
	for _, p := range payloads {
		b = binary.BigEndian.AppendUint32(b, uint32(len(p)))
		b = append(b, p...)
	}
	return b
}

// decode returns payloads as sub-slices of b. Trailing bytes are rejected.
func decode(kind byte, b []byte) (uint64, [][]byte, error) {
	if len(b) < headerLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version || b[5] != kind {
		return 0, nil, ErrCorrupt
	}
	gen := binary.BigEndian.Uint64(b[6:14])
	n := int(binary.BigEndian.Uint32(b[14:18]))
	rest := b[headerLen:]
	// every payload needs its length prefix; don't trust n for preallocation
	if n == 0 || n > len(rest)/4 {
		return 0, nil, ErrCorrupt
	}

	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if len(rest) < 4 {
			return 0, nil, ErrCorrupt
		}
		vlen := int(binary.BigEndian.Uint32(rest[:4]))
		rest = rest[4:]
		if vlen > len(rest) {
			return 0, nil, ErrCorrupt
		}
		out = append(out, rest[:vlen:vlen])
		rest = rest[vlen:]
	}
	if len(rest) != 0 {
		return 0, nil, ErrCorrupt
	}
	return gen, out, nil
}

func EncodeSingle(gen uint64, payload []byte) []byte {
	return encode(kindSingle, gen, [][]byte{payload})
}

func DecodeSingle(b []byte) (gen uint64, payload []byte, err error) {
	gen, ps, err := decode(kindSingle, b)
	if err != nil {
		return 0, nil, err
	}
	if len(ps) != 1 {
		return 0, nil, ErrCorrupt
	}
	return gen, ps[0], nil
}

// EncodePages frames the encoded pages of one list. A list has at least one page.
func EncodePages(gen uint64, pages [][]byte) ([]byte, error) {
	if len(pages) == 0 || uint64(len(pages)) > math.MaxUint32 {
		return nil, fmt.Errorf("querysync: cannot frame %d pages", len(pages))
	}
	for i, p := range pages {
		if uint64(len(p)) > math.MaxUint32 {
			return nil, fmt.Errorf("querysync: page %d too large (%d bytes)", i, len(p))
		}
	}
	return encode(kindPages, gen, pages), nil
}

func DecodePages(b []byte) (gen uint64, pages [][]byte, err error) {
	return decode(kindPages, b)
}
