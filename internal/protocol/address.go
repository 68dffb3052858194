package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// AddressSize is the on-wire size of an Address in bytes.
const AddressSize = 6

// ErrShortAddress is returned when fewer than AddressSize bytes are available.
var ErrShortAddress = errors.New("protocol: short address")

// Address identifies a participant or remote object on the instrument's
// internal bus. The three components are packed as consecutive big-endian
// 16-bit fields on the wire.
type Address struct {
	Module uint16
	Node   uint16
	Object uint16
}

// RegistrationService is the well-known address that answers object
// discovery requests.
var RegistrationService = Address{Module: 0, Node: 0, Object: 65534}

// Encode appends the 6-byte wire form of a to buf and returns the result.
func (a Address) Encode(buf []byte) []byte {
	var b [AddressSize]byte
	binary.BigEndian.PutUint16(b[0:2], a.Module)
	binary.BigEndian.PutUint16(b[2:4], a.Node)
	binary.BigEndian.PutUint16(b[4:6], a.Object)
	return append(buf, b[:]...)
}

// DecodeAddress reads an Address from the first AddressSize bytes of b.
func DecodeAddress(b []byte) (Address, error) {
	if len(b) < AddressSize {
		return Address{}, ErrShortAddress
	}
	return Address{
		Module: binary.BigEndian.Uint16(b[0:2]),
		Node:   binary.BigEndian.Uint16(b[2:4]),
		Object: binary.BigEndian.Uint16(b[4:6]),
	}, nil
}

// IsZero reports whether a is the all-zero address.
func (a Address) IsZero() bool {
	return a.Module == 0 && a.Node == 0 && a.Object == 0
}

func (a Address) String() string {
	return fmt.Sprintf("%d:%d:%d", a.Module, a.Node, a.Object)
}
