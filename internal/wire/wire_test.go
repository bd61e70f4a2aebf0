package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestSingle(t *testing.T) {
	for _, tc := range []struct {
		gen     uint64
		payload []byte
	}{
		{0, nil},
		{42, []byte(`{"id":1}`)},
		{math.MaxUint64, []byte{0, 1, 2}},
	} {
		gen, p, err := DecodeSingle(EncodeSingle(tc.gen, tc.payload))
		if err != nil {
			t.Fatalf("gen %d: %v", tc.gen, err)
		}
		if gen != tc.gen || !bytes.Equal(p, tc.payload) {
			t.Fatalf("got gen=%d payload=%x, want %d %x", gen, p, tc.gen, tc.payload)
		}
	}
}

func TestPagesKeepOrder(t *testing.T) {
	pages := [][]byte{[]byte("skip=0"), {}, []byte("skip=20")}
	enc, err := EncodePages(9, pages)
	if err != nil {
		t.Fatal(err)
	}
	gen, got, err := DecodePages(enc)
	if err != nil {
		t.Fatal(err)
	}
	if gen != 9 || len(got) != len(pages) {
		t.Fatalf("gen=%d pages=%d", gen, len(got))
	}
	for i := range pages {
		if !bytes.Equal(got[i], pages[i]) {
			t.Fatalf("page %d: %q want %q", i, got[i], pages[i])
		}
	}
	// decoded pages are capped so appending cannot clobber the next one
	if cap(got[0]) != len(got[0]) {
		t.Fatalf("page 0 cap %d, len %d", cap(got[0]), len(got[0]))
	}

	if _, err := EncodePages(1, nil); err == nil {
		t.Fatalf("empty list framed")
	}
}

func TestCorruptFrames(t *testing.T) {
	single := EncodeSingle(3, []byte("abc"))
	pages, err := EncodePages(3, [][]byte{[]byte("a"), []byte("b")})
	if err != nil {
		t.Fatal(err)
	}

	mutate := func(b []byte, fn func([]byte)) []byte {
		c := append([]byte(nil), b...)
		fn(c)
		return c
	}
	cases := map[string][]byte{
		"short":      single[:headerLen-1],
		"magic":      mutate(single, func(b []byte) { b[0] = 'X' }),
		"version":    mutate(single, func(b []byte) { b[4] = version + 1 }),
		"trailing":   append(append([]byte(nil), single...), 0xDE),
		"vlen":       mutate(single, func(b []byte) { binary.BigEndian.PutUint32(b[headerLen:], 99) }),
		"zero count": mutate(single, func(b []byte) { binary.BigEndian.PutUint32(b[14:], 0) }),
		"huge count": mutate(single, func(b []byte) { binary.BigEndian.PutUint32(b[14:], math.MaxUint32) }),
		"two in one": mutate(pages, func(b []byte) { b[5] = kindSingle }),
		"truncated":  single[:len(single)-1],
	}
	for name, b := range cases {
		if _, _, err := DecodeSingle(b); err != ErrCorrupt {
			t.Fatalf("%s: err=%v, want ErrCorrupt", name, err)
		}
	}

	if _, _, err := DecodePages(single); err != ErrCorrupt {
		t.Fatalf("single frame decoded as pages: %v", err)
	}
	if _, _, err := DecodePages(pages[:len(pages)-1]); err != ErrCorrupt {
		t.Fatalf("truncated pages: %v", err)
	}
}
