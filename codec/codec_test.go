package codec

import (
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

type page struct {
	Users []string  `json:"users"`
	Total int       `json:"total"`
	At    time.Time `json:"at"`
}

func samplePage() page {
	return page{Users: []string{"ada", "bob"}, Total: 2, At: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestCodecsPreservePage(t *testing.T) {
	codecs := map[string]Codec[page]{
		"json":    JSON[page]{},
		"cbor":    MustCBOR[page](true),
		"msgpack": Msgpack[page]{},
	}
	for name, c := range codecs {
		b, err := c.Encode(samplePage())
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		got, err := c.Decode(b)
		if err != nil {
			t.Fatalf("%s decode: %v", name, err)
		}
		if got.Total != 2 || len(got.Users) != 2 || got.Users[1] != "bob" || !got.At.Equal(samplePage().At) {
			t.Fatalf("%s: got %+v", name, got)
		}
	}
}

func TestCBORDeterministic(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	a, _ := c.Encode(map[string]int{"b": 2, "a": 1, "c": 3})
	b, _ := c.Encode(map[string]int{"c": 3, "a": 1, "b": 2})
	if string(a) != string(b) {
		t.Fatalf("deterministic encoding differs: %x vs %x", a, b)
	}
}

func TestLimitRejectsOversized(t *testing.T) {
	c := Limit[page]{Inner: JSON[page]{}, MaxDecode: 8}
	_, err := c.Decode([]byte(`{"users":["a"],"total":1}`))
	var se *SizeError
	if !errors.As(err, &se) || se.Max != 8 {
		t.Fatalf("expected SizeError, got %v", err)
	}
	c.MaxDecode = 0
	if _, err := c.Decode([]byte(`{"total":1}`)); err != nil {
		t.Fatalf("unlimited decode failed: %v", err)
	}
}

func TestEraseChecksType(t *testing.T) {
	a := Erase[page](JSON[page]{})
	if _, err := a.EncodeAny("not a page"); err == nil {
		t.Fatalf("expected type error")
	}
	b, err := a.EncodeAny(samplePage())
	if err != nil {
		t.Fatalf("EncodeAny: %v", err)
	}
	v, err := a.DecodeAny(b)
	if err != nil {
		t.Fatalf("DecodeAny: %v", err)
	}
	if _, ok := v.(page); !ok {
		t.Fatalf("DecodeAny returned %T", v)
	}
	if Erase[page](nil) != nil {
		t.Fatalf("Erase(nil) should be nil")
	}
}

func TestProtobufStruct(t *testing.T) {
	c := NewProtobuf(func() *structpb.Struct { return new(structpb.Struct) })
	in, err := structpb.NewStruct(map[string]any{"id": 1, "firstName": "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Fields["firstName"].GetStringValue() != "Ada" {
		t.Fatalf("got %v", out)
	}

	var noCtor Protobuf[*structpb.Struct]
	if _, err := noCtor.Decode(b); err == nil {
		t.Fatalf("expected error without constructor")
	}
}
