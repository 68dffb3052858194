// Package packet encodes and decodes the five nested packet shapes spoken
// by the instrument: IP frames carrying either a raw pipette op, a HARP
// envelope (method call or registration), or a connection-initialization
// payload.
//
// Nesting is discriminated by an explicit protocol-id field at each layer,
// never inferred from shape: decoders read the outer layer first and pick
// the inner decoder off the decoded discriminator. Encoders compute every
// declared length field from the content actually written, so a packet
// built through this package can never carry an inconsistent length.
package packet

import (
	"errors"

	"github.com/openlab/harplink/internal/protocol"
	"github.com/openlab/harplink/internal/protocol/param"
)

var (
	ErrVersionMismatch = errors.New("packet: version mismatch")
	ErrMalformedPacket = errors.New("packet: malformed packet")
	ErrUnknownProtocol = errors.New("packet: unknown protocol id")
)

// IPProtocol discriminates the payload carried by an IP frame.
type IPProtocol uint8

const (
	// IPProtoPipetteOp carries a raw firmware pipette operation.
	IPProtoPipetteOp IPProtocol = 2
	// IPProtoHarp carries a HARP envelope (method call or registration).
	IPProtoHarp IPProtocol = 6
	// IPProtoConnection carries a connection-initialization payload.
	IPProtoConnection IPProtocol = 7
)

// IPVersion is the fixed version byte of the IP layer.
const IPVersion uint8 = 0x30

// HarpProtocol discriminates the payload carried by a HARP envelope.
type HarpProtocol uint8

const (
	// HarpProtoHoi carries a remote method call.
	HarpProtoHoi HarpProtocol = 2
	// HarpProtoRegistration carries an object-discovery exchange.
	HarpProtoRegistration HarpProtocol = 3
)

// HarpVersion is the fixed version byte of the HARP, HOI and Registration
// layers. Distinct from the IP layer's version.
const HarpVersion uint8 = 0x00

const (
	// ActionRequest is the low-nibble action code of an outgoing request.
	ActionRequest uint8 = 3
	// ActionResponseRequired is OR-ed into the action byte when the sender
	// expects a reply.
	ActionResponseRequired uint8 = 0x10
)

// Registration action codes.
const (
	// RegActionDiscover asks the registration service for its root objects.
	RegActionDiscover uint16 = 12
)

// Registration option types.
const (
	// RegOptProtocolRequest carries a requested HARP protocol id and a
	// request id, one byte each.
	RegOptProtocolRequest uint8 = 1
	// RegOptObjectAddress carries one discovered object address.
	RegOptObjectAddress uint8 = 2
)

// IpPacket is the outermost transport frame. Exactly one of Harp, Conn and
// Raw is populated, selected by Protocol.
type IpPacket struct {
	Protocol IPProtocol
	Options  []byte

	Harp *HarpPacket       // Protocol == IPProtoHarp
	Conn *ConnectionPacket // Protocol == IPProtoConnection
	Raw  []byte            // Protocol == IPProtoPipetteOp
}

// HarpPacket is the addressing and sequencing envelope. Exactly one of Hoi
// and Reg is populated, selected by Protocol.
type HarpPacket struct {
	Src      protocol.Address
	Dst      protocol.Address
	Seq      uint8
	Protocol HarpProtocol
	Action   uint8
	Options  []byte

	Hoi *HoiPacket          // Protocol == HarpProtoHoi
	Reg *RegistrationPacket // Protocol == HarpProtoRegistration
}

// ResponseRequired reports whether the action byte carries the
// response-required bit.
func (h *HarpPacket) ResponseRequired() bool {
	return h.Action&ActionResponseRequired != 0
}

// HoiPacket is a remote method call: interface, method selector, and typed
// arguments or return values as data fragments.
type HoiPacket struct {
	InterfaceID uint8
	Action      uint8
	ActionID    uint16
	Fragments   []param.Fragment
}

// RegistrationOption is one (type, length, data) option of a registration
// exchange.
type RegistrationOption struct {
	Type uint8
	Data []byte
}

// ProtocolRequestOption builds the option asking the registration service
// for root objects speaking the given HARP protocol.
func ProtocolRequestOption(proto HarpProtocol, requestID uint8) RegistrationOption {
	return RegistrationOption{
		Type: RegOptProtocolRequest,
		Data: []byte{uint8(proto), requestID},
	}
}

// ObjectAddressOption builds the option carrying one object address.
func ObjectAddressOption(addr protocol.Address) RegistrationOption {
	return RegistrationOption{
		Type: RegOptObjectAddress,
		Data: addr.Encode(nil),
	}
}

// RegistrationPacket is the object-discovery payload.
type RegistrationPacket struct {
	ActionCode   uint16
	ResponseCode uint16
	ReqAddr      protocol.Address
	ResAddr      protocol.Address
	Options      []RegistrationOption
}

// ObjectAddresses extracts every discovered object address carried in the
// packet's options.
func (p *RegistrationPacket) ObjectAddresses() []protocol.Address {
	var out []protocol.Address
	for _, opt := range p.Options {
		if opt.Type != RegOptObjectAddress {
			continue
		}
		addr, err := protocol.DecodeAddress(opt.Data)
		if err != nil {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// ConnectionPacket is the initialization payload. Its parameters are raw
// and positionally typed by convention; the param codec is never applied
// to them.
type ConnectionPacket struct {
	Version uint8
	MsgID   uint8
	Count   uint8
	Unknown uint8
	Params  []byte
}
