package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.PutUint8(0x12)
	w.PutInt8(-3)
	w.PutUint16(0xBEEF)
	w.PutInt16(-2)
	w.PutUint32(100)
	w.PutInt32(-100)
	w.PutCString("pipette")
	w.PutBytes([]byte{0xAA, 0xBB})

	r := NewReader(w.Bytes())
	if v, err := r.Uint8(); err != nil || v != 0x12 {
		t.Fatalf("uint8 got=%d err=%v", v, err)
	}
	if v, err := r.Int8(); err != nil || v != -3 {
		t.Fatalf("int8 got=%d err=%v", v, err)
	}
	if v, err := r.Uint16(); err != nil || v != 0xBEEF {
		t.Fatalf("uint16 got=%d err=%v", v, err)
	}
	if v, err := r.Int16(); err != nil || v != -2 {
		t.Fatalf("int16 got=%d err=%v", v, err)
	}
	if v, err := r.Uint32(); err != nil || v != 100 {
		t.Fatalf("uint32 got=%d err=%v", v, err)
	}
	if v, err := r.Int32(); err != nil || v != -100 {
		t.Fatalf("int32 got=%d err=%v", v, err)
	}
	if s, err := r.CString(); err != nil || s != "pipette" {
		t.Fatalf("cstring got=%q err=%v", s, err)
	}
	b, err := r.Bytes(2)
	if err != nil || !bytes.Equal(b, []byte{0xAA, 0xBB}) {
		t.Fatalf("bytes got=%x err=%v", b, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected empty reader, %d left", r.Remaining())
	}
}

func TestReaderTruncatedReadsAreDeterministic(t *testing.T) {
	r := NewReader([]byte{0x01})
	if _, err := r.Uint32(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	// A failed read must not consume bytes.
	if v, err := r.Uint8(); err != nil || v != 0x01 {
		t.Fatalf("reader advanced on failure: got=%d err=%v", v, err)
	}
	if _, err := r.Bytes(1); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestCStringMissingTerminator(t *testing.T) {
	r := NewReader([]byte("no-null"))
	if _, err := r.CString(); !errors.Is(err, ErrNoTerminator) {
		t.Fatalf("expected ErrNoTerminator, got %v", err)
	}
}

func TestCStringTerminatorCountsOneByte(t *testing.T) {
	w := NewWriter()
	w.PutCString("ok")
	if w.Len() != 3 {
		t.Fatalf("expected 3 bytes, got %d", w.Len())
	}
	r := NewReader(w.Bytes())
	s, err := r.CString()
	if err != nil || s != "ok" {
		t.Fatalf("cstring got=%q err=%v", s, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("terminator not consumed")
	}
}
