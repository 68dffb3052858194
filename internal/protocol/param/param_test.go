package param

import (
	"bytes"
	"errors"
	"testing"

	"github.com/openlab/harplink/internal/protocol/wire"
)

func TestEncodeUint32SelectsTagAndLength(t *testing.T) {
	frags, err := Encode([]Value{Uint32(100)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(frags))
	}
	f := frags[0]
	if f.Format != TagUint32 {
		t.Fatalf("expected tag %d, got %d", TagUint32, f.Format)
	}
	if f.Length() != 4 {
		t.Fatalf("expected length 4, got %d", f.Length())
	}
	values, err := Decode(frags)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if values[0].Kind != KindUint32 || values[0].U32 != 100 {
		t.Fatalf("unexpected value: %+v", values[0])
	}
}

func TestEncodeDecodeRoundTripAllScalarKinds(t *testing.T) {
	in := []Value{
		Int8(-8), Uint8(8), Int16(-300), Uint16(300),
		Int32(-70000), Uint32(70000), Bool(true), String("aspirate"),
	}
	frags, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(frags)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d values, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i].Kind != in[i].Kind {
			t.Fatalf("value %d kind mismatch: got=%d want=%d", i, out[i].Kind, in[i].Kind)
		}
	}
	if out[7].S != "aspirate" {
		t.Fatalf("string mismatch: %q", out[7].S)
	}
	if out[4].I32 != -70000 || out[5].U32 != 70000 {
		t.Fatalf("int32 values mismatch: %+v %+v", out[4], out[5])
	}
}

func TestStringFragmentIncludesTerminatorInLength(t *testing.T) {
	frags, err := Encode([]Value{String("ok")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frags[0].Length() != 3 {
		t.Fatalf("expected length 3 with terminator, got %d", frags[0].Length())
	}
	if frags[0].Data[2] != 0 {
		t.Fatalf("missing null terminator: %x", frags[0].Data)
	}
}

func TestArrayUsesOffsetTagAndElementCount(t *testing.T) {
	arr, err := Array(KindUint16, Uint16(1), Uint16(2), Uint16(3))
	if err != nil {
		t.Fatalf("array: %v", err)
	}
	frags, err := Encode([]Value{arr})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frags[0].Format != TagUint16+ArrayOffset {
		t.Fatalf("expected tag %d, got %d", TagUint16+ArrayOffset, frags[0].Format)
	}
	// count:2 + 3 elements * 2 bytes
	if frags[0].Length() != 8 {
		t.Fatalf("expected length 8, got %d", frags[0].Length())
	}
	out, err := Decode(frags)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	v := out[0]
	if !v.IsArray || v.Kind != KindUint16 || len(v.Elems) != 3 {
		t.Fatalf("unexpected array value: %+v", v)
	}
	if v.Elems[2].U16 != 3 {
		t.Fatalf("unexpected element: %+v", v.Elems[2])
	}
}

func TestArrayRejectsMixedElementKinds(t *testing.T) {
	if _, err := Array(KindUint16, Uint16(1), Uint8(2)); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("expected ErrKindMismatch, got %v", err)
	}
}

func TestDecodeUnknownTagIsDeterministic(t *testing.T) {
	_, err := Decode([]Fragment{{Format: 99, Data: []byte{0}}})
	if !errors.Is(err, ErrUnknownFragmentType) {
		t.Fatalf("expected ErrUnknownFragmentType, got %v", err)
	}
}

func TestDecodeLengthMismatchIsDeterministic(t *testing.T) {
	// uint32 tag with only 3 data bytes
	_, err := Decode([]Fragment{{Format: TagUint32, Data: []byte{0, 0, 1}}})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	// uint8 tag with a trailing byte
	_, err = Decode([]Fragment{{Format: TagUint8, Data: []byte{1, 2}}})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	// array whose count claims more elements than the data holds
	_, err = Decode([]Fragment{{Format: TagUint16 + ArrayOffset, Data: []byte{0, 2, 0, 1}}})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestFragmentWireRoundTrip(t *testing.T) {
	w := wire.NewWriter()
	in := Fragment{Format: TagInt16, Flags: 0, Data: []byte{0xFF, 0xFE}}
	EncodeFragment(w, in)
	r := wire.NewReader(w.Bytes())
	out, err := DecodeFragment(r)
	if err != nil {
		t.Fatalf("decode fragment: %v", err)
	}
	if out.Format != in.Format || !bytes.Equal(out.Data, in.Data) {
		t.Fatalf("fragment mismatch: got=%+v want=%+v", out, in)
	}
	if r.Remaining() != 0 {
		t.Fatalf("trailing bytes: %d", r.Remaining())
	}
}

func TestDecodeFragmentTruncatedData(t *testing.T) {
	// declared length 4, only 1 data byte follows
	r := wire.NewReader([]byte{TagUint32, 0, 0, 4, 0xAA})
	if _, err := DecodeFragment(r); !errors.Is(err, wire.ErrTruncated) {
		t.Fatalf("expected wire.ErrTruncated, got %v", err)
	}
}
