package framer

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Frame{
		{Type: TypeData, FrameID: 0, PortID: 0, Metadata: 0, Payload: nil},
		{Type: TypeData, FrameID: 1, PortID: 3, Metadata: 0x1234, Payload: []byte("hello 1")},
		{Type: TypeAck, FrameID: 2047, PortID: 0, Metadata: 0},
		{Type: TypeNack, FrameID: 1024, PortID: 31, Metadata: 0xffff},
		{Type: TypeReset, FrameID: 0, PortID: 0, Metadata: 0},
		{Type: TypeData, FrameID: 5, PortID: 1, Metadata: 7, Payload: bytes.Repeat([]byte{0xAB}, PayloadMax)},
	}

	for _, want := range cases {
		wire := Encode(want)
		d := NewDecoder()
		got := d.Feed(wire)
		if len(got) != 1 {
			t.Fatalf("Encode(%+v): expected 1 frame decoded, got %d", want, len(got))
		}
		f := got[0]
		if f.Type != want.Type || f.FrameID != want.FrameID || f.PortID != want.PortID || f.Metadata != want.Metadata {
			t.Fatalf("decode mismatch: got %+v, want %+v", f, want)
		}
		if !bytes.Equal(f.Payload, want.Payload) {
			t.Fatalf("payload mismatch: got %v, want %v", f.Payload, want.Payload)
		}
	}
}

func TestEncodePanicsOnOverlongPayload(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for over-length payload")
		}
	}()
	Encode(Frame{Type: TypeData, Payload: bytes.Repeat([]byte{0}, PayloadMax+1)})
}

func TestFrameIDWrapAndDelta(t *testing.T) {
	if FrameIDNext(FrameIDMask) != 0 {
		t.Fatalf("expected wrap to 0, got %d", FrameIDNext(FrameIDMask))
	}
	if d := FrameIDDelta(5, 3); d != 2 {
		t.Fatalf("expected delta 2, got %d", d)
	}
	// Wrapped: id 1 is "newer" than id 2046 by 3 (2046 -> 2047 -> 0 -> 1).
	if d := FrameIDDelta(1, FrameIDMask-1); d != 3 {
		t.Fatalf("expected wrapped delta 3, got %d", d)
	}
}
