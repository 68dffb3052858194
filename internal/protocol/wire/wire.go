// Package wire provides the fixed-width primitives every packet layer is
// built from. All multi-byte fields are big-endian.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var (
	ErrTruncated    = errors.New("wire: truncated data")
	ErrNoTerminator = errors.New("wire: string missing null terminator")
)

// Writer accumulates encoded fields into a byte buffer.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

func (w *Writer) PutUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) PutInt8(v int8) {
	w.buf = append(w.buf, byte(v))
}

func (w *Writer) PutUint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) PutInt16(v int16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(v))
}

func (w *Writer) PutUint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) PutInt32(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

// PutCString appends s as UTF-8 bytes followed by a single null terminator.
func (w *Writer) PutCString(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

func (w *Writer) PutBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the accumulated buffer. The Writer retains ownership;
// callers must not write through the Writer after mutating the result.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Reader decodes fixed-width fields from a byte slice. Every read checks
// the remaining length first; on failure no bytes are consumed.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) need(n int) error {
	if len(r.buf)-r.off < n {
		return ErrTruncated
	}
	return nil
}

func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *Reader) Int8() (int8, error) {
	v, err := r.Uint8()
	return int8(v), err
}

func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) Int16() (int16, error) {
	v, err := r.Uint16()
	return int16(v), err
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

// CString reads UTF-8 bytes up to and including the next null terminator.
func (r *Reader) CString() (string, error) {
	rest := r.buf[r.off:]
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		return "", ErrNoTerminator
	}
	s := string(rest[:i])
	r.off += i + 1
	return s, nil
}

// Bytes reads exactly n raw bytes. The returned slice is a copy.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrTruncated
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:])
	r.off += n
	return out, nil
}

// Remaining reports how many undecoded bytes are left.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Len reports the total buffer length.
func (r *Reader) Len() int {
	return len(r.buf)
}
