package payload

import (
	"bytes"
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"uint32", uint32(42), uint32(42)},
		{"int", 7, uint32(7)},
		{"string", "hello", "hello"},
		{"empty string", "", ""},
		{"bin", []byte{1, 2, 3}, []byte{1, 2, 3}},
		{"json map", map[string]any{"a": float64(1)}, map[string]any{"a": float64(1)}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			dtype, enc, err := Encode(c.in)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, ok := Decode(dtype, enc)
			if !ok {
				t.Fatalf("decode reported failure for %v dtype=%v bytes=%v", c.in, dtype, enc)
			}
			if b, ok := got.([]byte); ok {
				if !bytes.Equal(b, c.want.([]byte)) {
					t.Fatalf("got %v, want %v", got, c.want)
				}
				return
			}
			if !reflect.DeepEqual(got, c.want) {
				t.Fatalf("got %#v (%T), want %#v (%T)", got, got, c.want, c.want)
			}
		})
	}
}

func TestEncodeRejectsOversizedInt(t *testing.T) {
	if _, _, err := Encode(-1); err == nil {
		t.Fatal("expected error for negative int")
	}
	if _, _, err := Encode(1 << 33); err == nil {
		t.Fatal("expected error for int overflowing u32")
	}
}

func TestDecodeU32RejectsWrongLength(t *testing.T) {
	if _, ok := Decode(U32, []byte{1, 2, 3}); ok {
		t.Fatal("expected decode failure for short u32 payload")
	}
}

func TestDecodeJSONEmptyPayloadIsNil(t *testing.T) {
	v, ok := Decode(JSON, []byte{0})
	if !ok || v != nil {
		t.Fatalf("got (%v, %v), want (nil, true)", v, ok)
	}
}

func TestDecodeUnknownDTypeFails(t *testing.T) {
	if _, ok := Decode(DType(99), []byte{1}); ok {
		t.Fatal("expected decode failure for unknown dtype")
	}
}
