package packet

import (
	"fmt"

	"github.com/openlab/harplink/internal/protocol"
	"github.com/openlab/harplink/internal/protocol/param"
	"github.com/openlab/harplink/internal/protocol/wire"
)

// EncodeIP produces the complete wire form of p, size field included.
func EncodeIP(p *IpPacket) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil packet", ErrMalformedPacket)
	}
	payload, err := encodeIPPayload(p)
	if err != nil {
		return nil, err
	}

	w := wire.NewWriter()
	// size counts everything after the size field itself
	size := 1 + 1 + 2 + len(p.Options) + len(payload)
	if size > int(^uint16(0)) {
		return nil, fmt.Errorf("%w: packet too large", ErrMalformedPacket)
	}
	w.PutUint16(uint16(size))
	w.PutUint8(uint8(p.Protocol))
	w.PutUint8(IPVersion)
	w.PutUint16(uint16(len(p.Options)))
	w.PutBytes(p.Options)
	w.PutBytes(payload)
	return w.Bytes(), nil
}

func encodeIPPayload(p *IpPacket) ([]byte, error) {
	switch p.Protocol {
	case IPProtoHarp:
		if p.Harp == nil {
			return nil, fmt.Errorf("%w: harp frame without harp payload", ErrMalformedPacket)
		}
		return encodeHarp(p.Harp)
	case IPProtoConnection:
		if p.Conn == nil {
			return nil, fmt.Errorf("%w: connection frame without connection payload", ErrMalformedPacket)
		}
		return encodeConnection(p.Conn), nil
	case IPProtoPipetteOp:
		return p.Raw, nil
	default:
		return nil, fmt.Errorf("%w: ip protocol %d", ErrUnknownProtocol, p.Protocol)
	}
}

func encodeHarp(h *HarpPacket) ([]byte, error) {
	payload, err := encodeHarpPayload(h)
	if err != nil {
		return nil, err
	}
	if len(payload) > int(^uint16(0)) {
		return nil, fmt.Errorf("%w: harp payload too large", ErrMalformedPacket)
	}

	w := wire.NewWriter()
	putAddress(w, h.Src)
	putAddress(w, h.Dst)
	w.PutUint8(h.Seq)
	w.PutUint8(0) // reserved
	w.PutUint8(uint8(h.Protocol))
	w.PutUint8(h.Action)
	w.PutUint16(uint16(len(payload)))
	w.PutUint16(uint16(len(h.Options)))
	w.PutBytes(h.Options)
	w.PutUint8(HarpVersion)
	w.PutUint8(0) // reserved
	w.PutBytes(payload)
	return w.Bytes(), nil
}

func encodeHarpPayload(h *HarpPacket) ([]byte, error) {
	switch h.Protocol {
	case HarpProtoHoi:
		if h.Hoi == nil {
			return nil, fmt.Errorf("%w: hoi envelope without hoi payload", ErrMalformedPacket)
		}
		return encodeHoi(h.Hoi)
	case HarpProtoRegistration:
		if h.Reg == nil {
			return nil, fmt.Errorf("%w: registration envelope without registration payload", ErrMalformedPacket)
		}
		return encodeRegistration(h.Reg)
	default:
		return nil, fmt.Errorf("%w: harp protocol %d", ErrUnknownProtocol, h.Protocol)
	}
}

func encodeHoi(h *HoiPacket) ([]byte, error) {
	if len(h.Fragments) > int(^uint8(0)) {
		return nil, fmt.Errorf("%w: too many fragments", ErrMalformedPacket)
	}
	w := wire.NewWriter()
	w.PutUint8(h.InterfaceID)
	w.PutUint8(h.Action)
	w.PutUint16(h.ActionID)
	w.PutUint8(HarpVersion)
	w.PutUint8(uint8(len(h.Fragments)))
	for _, f := range h.Fragments {
		param.EncodeFragment(w, f)
	}
	return w.Bytes(), nil
}

func encodeRegistration(p *RegistrationPacket) ([]byte, error) {
	opts := wire.NewWriter()
	for _, opt := range p.Options {
		if len(opt.Data) > int(^uint8(0)) {
			return nil, fmt.Errorf("%w: registration option %d data too large", ErrMalformedPacket, opt.Type)
		}
		opts.PutUint8(opt.Type)
		opts.PutUint8(uint8(len(opt.Data)))
		opts.PutBytes(opt.Data)
	}
	if opts.Len() > int(^uint16(0)) {
		return nil, fmt.Errorf("%w: registration options too large", ErrMalformedPacket)
	}

	w := wire.NewWriter()
	w.PutUint16(p.ActionCode)
	w.PutUint16(p.ResponseCode)
	w.PutUint8(HarpVersion)
	w.PutUint8(0) // reserved
	putAddress(w, p.ReqAddr)
	putAddress(w, p.ResAddr)
	w.PutUint16(uint16(opts.Len()))
	w.PutBytes(opts.Bytes())
	return w.Bytes(), nil
}

func encodeConnection(p *ConnectionPacket) []byte {
	w := wire.NewWriter()
	w.PutUint8(p.Version)
	w.PutUint8(p.MsgID)
	w.PutUint8(p.Count)
	w.PutUint8(p.Unknown)
	w.PutBytes(p.Params)
	return w.Bytes()
}

func putAddress(w *wire.Writer, a protocol.Address) {
	w.PutUint16(a.Module)
	w.PutUint16(a.Node)
	w.PutUint16(a.Object)
}
