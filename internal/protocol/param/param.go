// Package param encodes typed method-call values as self-describing data
// fragments and decodes fragments back into typed values.
package param

import (
	"errors"
	"fmt"

	"github.com/openlab/harplink/internal/protocol/wire"
)

var (
	ErrUnknownFragmentType = errors.New("param: unknown fragment type")
	ErrLengthMismatch      = errors.New("param: fragment length mismatch")
	ErrKindMismatch        = errors.New("param: array element kind mismatch")
	ErrInvalidKind         = errors.New("param: invalid value kind")
)

// Fragment format tags. The array variant of any scalar is its tag plus
// ArrayOffset.
const (
	TagInt8   uint8 = 6
	TagUint8  uint8 = 7
	TagInt16  uint8 = 8
	TagUint16 uint8 = 9
	TagInt32  uint8 = 10
	TagUint32 uint8 = 11
	TagBool   uint8 = 16
	TagString uint8 = 19

	ArrayOffset uint8 = 20
)

// Kind identifies the scalar type carried by a Value.
type Kind uint8

const (
	KindInt8 Kind = iota + 1
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindBool
	KindString
)

func (k Kind) tag() (uint8, error) {
	switch k {
	case KindInt8:
		return TagInt8, nil
	case KindUint8:
		return TagUint8, nil
	case KindInt16:
		return TagInt16, nil
	case KindUint16:
		return TagUint16, nil
	case KindInt32:
		return TagInt32, nil
	case KindUint32:
		return TagUint32, nil
	case KindBool:
		return TagBool, nil
	case KindString:
		return TagString, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidKind, k)
	}
}

func kindForTag(tag uint8) (Kind, bool) {
	switch tag {
	case TagInt8:
		return KindInt8, true
	case TagUint8:
		return KindUint8, true
	case TagInt16:
		return KindInt16, true
	case TagUint16:
		return KindUint16, true
	case TagInt32:
		return KindInt32, true
	case TagUint32:
		return KindUint32, true
	case TagBool:
		return KindBool, true
	case TagString:
		return KindString, true
	default:
		return 0, false
	}
}

// Value is one typed method-call parameter. Scalars carry their payload in
// the field matching Kind; arrays set IsArray and carry scalar elements of
// the same Kind in Elems.
type Value struct {
	Kind    Kind
	IsArray bool

	I8  int8
	U8  uint8
	I16 int16
	U16 uint16
	I32 int32
	U32 uint32
	B   bool
	S   string

	Elems []Value
}

func Int8(v int8) Value     { return Value{Kind: KindInt8, I8: v} }
func Uint8(v uint8) Value   { return Value{Kind: KindUint8, U8: v} }
func Int16(v int16) Value   { return Value{Kind: KindInt16, I16: v} }
func Uint16(v uint16) Value { return Value{Kind: KindUint16, U16: v} }
func Int32(v int32) Value   { return Value{Kind: KindInt32, I32: v} }
func Uint32(v uint32) Value { return Value{Kind: KindUint32, U32: v} }
func Bool(v bool) Value     { return Value{Kind: KindBool, B: v} }
func String(v string) Value { return Value{Kind: KindString, S: v} }

// Array builds an array value of the given scalar kind. Elements must all
// be scalars of that kind.
func Array(kind Kind, elems ...Value) (Value, error) {
	for _, e := range elems {
		if e.IsArray || e.Kind != kind {
			return Value{}, ErrKindMismatch
		}
	}
	return Value{Kind: kind, IsArray: true, Elems: elems}, nil
}

// Fragment is one self-describing typed value on the wire:
// format:1, flags:1, length:2, data. The length field always equals
// len(Data); string data is null-terminated UTF-8 and the terminator is
// counted.
type Fragment struct {
	Format uint8
	Flags  uint8
	Data   []byte
}

// Length reports the declared data length written to the wire.
func (f Fragment) Length() uint16 {
	return uint16(len(f.Data))
}

// EncodeFragment appends f's wire form to w.
func EncodeFragment(w *wire.Writer, f Fragment) {
	w.PutUint8(f.Format)
	w.PutUint8(f.Flags)
	w.PutUint16(f.Length())
	w.PutBytes(f.Data)
}

// DecodeFragment reads one fragment from r.
func DecodeFragment(r *wire.Reader) (Fragment, error) {
	format, err := r.Uint8()
	if err != nil {
		return Fragment{}, err
	}
	flags, err := r.Uint8()
	if err != nil {
		return Fragment{}, err
	}
	length, err := r.Uint16()
	if err != nil {
		return Fragment{}, err
	}
	data, err := r.Bytes(int(length))
	if err != nil {
		return Fragment{}, err
	}
	return Fragment{Format: format, Flags: flags, Data: data}, nil
}

// Encode wraps values into fragments, one per value, selecting the tag from
// each value's kind and recording the exact encoded length.
func Encode(values []Value) ([]Fragment, error) {
	frags := make([]Fragment, 0, len(values))
	for _, v := range values {
		tag, err := v.Kind.tag()
		if err != nil {
			return nil, err
		}
		w := wire.NewWriter()
		if v.IsArray {
			tag += ArrayOffset
			w.PutUint16(uint16(len(v.Elems)))
			for _, e := range v.Elems {
				if e.IsArray || e.Kind != v.Kind {
					return nil, ErrKindMismatch
				}
				encodeScalar(w, e)
			}
		} else {
			encodeScalar(w, v)
		}
		frags = append(frags, Fragment{Format: tag, Data: w.Bytes()})
	}
	return frags, nil
}

func encodeScalar(w *wire.Writer, v Value) {
	switch v.Kind {
	case KindInt8:
		w.PutInt8(v.I8)
	case KindUint8:
		w.PutUint8(v.U8)
	case KindInt16:
		w.PutInt16(v.I16)
	case KindUint16:
		w.PutUint16(v.U16)
	case KindInt32:
		w.PutInt32(v.I32)
	case KindUint32:
		w.PutUint32(v.U32)
	case KindBool:
		if v.B {
			w.PutUint8(1)
		} else {
			w.PutUint8(0)
		}
	case KindString:
		w.PutCString(v.S)
	}
}

// Decode unwraps fragments back into typed values, dispatching on each
// fragment's format tag.
func Decode(frags []Fragment) ([]Value, error) {
	values := make([]Value, 0, len(frags))
	for _, f := range frags {
		v, err := decodeOne(f)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func decodeOne(f Fragment) (Value, error) {
	if kind, ok := kindForTag(f.Format); ok {
		r := wire.NewReader(f.Data)
		v, err := decodeScalar(r, kind)
		if err != nil {
			return Value{}, err
		}
		if r.Remaining() != 0 {
			return Value{}, fmt.Errorf("%w: %d trailing bytes after tag %d", ErrLengthMismatch, r.Remaining(), f.Format)
		}
		return v, nil
	}
	if kind, ok := kindForTag(f.Format - ArrayOffset); ok && f.Format >= ArrayOffset {
		r := wire.NewReader(f.Data)
		count, err := r.Uint16()
		if err != nil {
			return Value{}, fmt.Errorf("%w: array count", ErrLengthMismatch)
		}
		elems := make([]Value, 0, count)
		for i := 0; i < int(count); i++ {
			e, err := decodeScalar(r, kind)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, e)
		}
		if r.Remaining() != 0 {
			return Value{}, fmt.Errorf("%w: %d trailing bytes after array tag %d", ErrLengthMismatch, r.Remaining(), f.Format)
		}
		return Value{Kind: kind, IsArray: true, Elems: elems}, nil
	}
	return Value{}, fmt.Errorf("%w: tag %d", ErrUnknownFragmentType, f.Format)
}

func decodeScalar(r *wire.Reader, kind Kind) (Value, error) {
	var v Value
	var err error
	switch kind {
	case KindInt8:
		v.I8, err = r.Int8()
	case KindUint8:
		v.U8, err = r.Uint8()
	case KindInt16:
		v.I16, err = r.Int16()
	case KindUint16:
		v.U16, err = r.Uint16()
	case KindInt32:
		v.I32, err = r.Int32()
	case KindUint32:
		v.U32, err = r.Uint32()
	case KindBool:
		var b uint8
		b, err = r.Uint8()
		if err == nil && b > 1 {
			return Value{}, fmt.Errorf("%w: bool byte %d", ErrLengthMismatch, b)
		}
		v.B = b == 1
	case KindString:
		v.S, err = r.CString()
	}
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrLengthMismatch, err)
	}
	v.Kind = kind
	return v, nil
}
