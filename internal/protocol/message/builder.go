// Package message assembles complete, ready-to-send IP packets for the
// three client operations: connection initialization, object discovery and
// remote method invocation.
package message

import (
	"errors"

	"github.com/openlab/harplink/internal/protocol"
	"github.com/openlab/harplink/internal/protocol/packet"
	"github.com/openlab/harplink/internal/protocol/param"
)

// ErrNotInitialized is returned when a HARP-layer packet is requested
// before the instrument has assigned this client an address.
var ErrNotInitialized = errors.New("message: client address not assigned")

// AddressSource supplies the sender address and per-destination sequence
// numbers. The session implements it, so address and sequence bookkeeping
// cannot be bypassed by a caller.
type AddressSource interface {
	// ClientAddress returns the address assigned during initialization, or
	// an error satisfying errors.Is(err, ErrNotInitialized).
	ClientAddress() (protocol.Address, error)
	// NextSeq returns the next sequence number for dst and advances the
	// counter, wrapping modulo 256.
	NextSeq(dst protocol.Address) uint8
}

// Builder builds outgoing packets on behalf of one session.
type Builder struct {
	src AddressSource
}

func NewBuilder(src AddressSource) *Builder {
	return &Builder{src: src}
}

// BuildInit builds the initialization packet sent once per connection,
// before a client address is known. It carries no HARP-layer address.
func (b *Builder) BuildInit(version uint8) *packet.IpPacket {
	return &packet.IpPacket{
		Protocol: packet.IPProtoConnection,
		Conn: &packet.ConnectionPacket{
			Version: version,
			MsgID:   1,
			Count:   0,
		},
	}
}

// BuildRegistration builds an object-discovery request addressed to dst,
// usually the well-known registration service.
func (b *Builder) BuildRegistration(dst protocol.Address, actionCode uint16, opts []packet.RegistrationOption) (*packet.IpPacket, error) {
	src, err := b.src.ClientAddress()
	if err != nil {
		return nil, err
	}
	return &packet.IpPacket{
		Protocol: packet.IPProtoHarp,
		Harp: &packet.HarpPacket{
			Src:      src,
			Dst:      dst,
			Seq:      b.src.NextSeq(dst),
			Protocol: packet.HarpProtoRegistration,
			Action:   packet.ActionRequest | packet.ActionResponseRequired,
			Reg: &packet.RegistrationPacket{
				ActionCode: actionCode,
				ReqAddr:    src,
				ResAddr:    dst,
				Options:    opts,
			},
		},
	}, nil
}

// BuildCommand builds a remote method invocation on dst. Arguments are
// wrapped into data fragments by the param codec.
func (b *Builder) BuildCommand(dst protocol.Address, interfaceID uint8, actionID uint16, args []param.Value, responseRequired bool) (*packet.IpPacket, error) {
	src, err := b.src.ClientAddress()
	if err != nil {
		return nil, err
	}
	frags, err := param.Encode(args)
	if err != nil {
		return nil, err
	}
	action := packet.ActionRequest
	if responseRequired {
		action |= packet.ActionResponseRequired
	}
	return &packet.IpPacket{
		Protocol: packet.IPProtoHarp,
		Harp: &packet.HarpPacket{
			Src:      src,
			Dst:      dst,
			Seq:      b.src.NextSeq(dst),
			Protocol: packet.HarpProtoHoi,
			Action:   action,
			Hoi: &packet.HoiPacket{
				InterfaceID: interfaceID,
				Action:      packet.ActionRequest,
				ActionID:    actionID,
				Fragments:   frags,
			},
		},
	}, nil
}
