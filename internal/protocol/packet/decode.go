package packet

import (
	"errors"
	"fmt"

	"github.com/openlab/harplink/internal/protocol"
	"github.com/openlab/harplink/internal/protocol/param"
	"github.com/openlab/harplink/internal/protocol/wire"
)

// DecodeIP parses one complete IP frame, size field included, dispatching
// nested decoding off the protocol discriminator read from the frame.
func DecodeIP(b []byte) (*IpPacket, error) {
	r := wire.NewReader(b)
	size, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	if int(size) != r.Remaining() {
		return nil, fmt.Errorf("%w: ip size %d, %d bytes follow", ErrMalformedPacket, size, r.Remaining())
	}

	proto, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	version, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	if version != IPVersion {
		return nil, fmt.Errorf("%w: ip version 0x%02x", ErrVersionMismatch, version)
	}
	optLen, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	options, err := r.Bytes(int(optLen))
	if err != nil {
		return nil, err
	}
	payload, err := r.Bytes(r.Remaining())
	if err != nil {
		return nil, err
	}

	p := &IpPacket{Protocol: IPProtocol(proto), Options: options}
	switch p.Protocol {
	case IPProtoHarp:
		p.Harp, err = decodeHarp(payload)
	case IPProtoConnection:
		p.Conn, err = decodeConnection(payload)
	case IPProtoPipetteOp:
		p.Raw = payload
	default:
		return nil, fmt.Errorf("%w: ip protocol %d", ErrUnknownProtocol, proto)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func decodeHarp(b []byte) (*HarpPacket, error) {
	r := wire.NewReader(b)
	src, err := readAddress(r)
	if err != nil {
		return nil, err
	}
	dst, err := readAddress(r)
	if err != nil {
		return nil, err
	}
	seq, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	if _, err := r.Uint8(); err != nil { // reserved
		return nil, err
	}
	proto, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	action, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	msgLen, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	optsLen, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	options, err := r.Bytes(int(optsLen))
	if err != nil {
		return nil, err
	}
	version, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	if version != HarpVersion {
		return nil, fmt.Errorf("%w: harp version 0x%02x", ErrVersionMismatch, version)
	}
	if _, err := r.Uint8(); err != nil { // reserved
		return nil, err
	}
	if int(msgLen) != r.Remaining() {
		return nil, fmt.Errorf("%w: harp msg_len %d, %d bytes follow", ErrMalformedPacket, msgLen, r.Remaining())
	}
	payload, err := r.Bytes(int(msgLen))
	if err != nil {
		return nil, err
	}

	h := &HarpPacket{
		Src:      src,
		Dst:      dst,
		Seq:      seq,
		Protocol: HarpProtocol(proto),
		Action:   action,
		Options:  options,
	}
	switch h.Protocol {
	case HarpProtoHoi:
		h.Hoi, err = decodeHoi(payload)
	case HarpProtoRegistration:
		h.Reg, err = decodeRegistration(payload)
	default:
		return nil, fmt.Errorf("%w: harp protocol %d", ErrUnknownProtocol, proto)
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

func decodeHoi(b []byte) (*HoiPacket, error) {
	r := wire.NewReader(b)
	ifaceID, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	action, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	actionID, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	version, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	if version != HarpVersion {
		return nil, fmt.Errorf("%w: hoi version 0x%02x", ErrVersionMismatch, version)
	}
	count, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	frags := make([]param.Fragment, 0, count)
	for i := 0; i < int(count); i++ {
		f, err := param.DecodeFragment(r)
		if err != nil {
			if errors.Is(err, wire.ErrTruncated) {
				return nil, fmt.Errorf("%w: fragment %d truncated", ErrMalformedPacket, i)
			}
			return nil, err
		}
		frags = append(frags, f)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d fragments", ErrMalformedPacket, r.Remaining(), count)
	}
	return &HoiPacket{
		InterfaceID: ifaceID,
		Action:      action,
		ActionID:    actionID,
		Fragments:   frags,
	}, nil
}

func decodeRegistration(b []byte) (*RegistrationPacket, error) {
	r := wire.NewReader(b)
	actionCode, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	responseCode, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	version, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	if version != HarpVersion {
		return nil, fmt.Errorf("%w: registration version 0x%02x", ErrVersionMismatch, version)
	}
	if _, err := r.Uint8(); err != nil { // reserved
		return nil, err
	}
	reqAddr, err := readAddress(r)
	if err != nil {
		return nil, err
	}
	resAddr, err := readAddress(r)
	if err != nil {
		return nil, err
	}
	optsLen, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	if int(optsLen) != r.Remaining() {
		return nil, fmt.Errorf("%w: registration options_len %d, %d bytes follow", ErrMalformedPacket, optsLen, r.Remaining())
	}

	var options []RegistrationOption
	for r.Remaining() > 0 {
		optType, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		optLen, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		data, err := r.Bytes(int(optLen))
		if err != nil {
			if errors.Is(err, wire.ErrTruncated) {
				return nil, fmt.Errorf("%w: registration option %d truncated", ErrMalformedPacket, optType)
			}
			return nil, err
		}
		options = append(options, RegistrationOption{Type: optType, Data: data})
	}

	return &RegistrationPacket{
		ActionCode:   actionCode,
		ResponseCode: responseCode,
		ReqAddr:      reqAddr,
		ResAddr:      resAddr,
		Options:      options,
	}, nil
}

func decodeConnection(b []byte) (*ConnectionPacket, error) {
	r := wire.NewReader(b)
	version, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	msgID, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	count, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	unknown, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	params, err := r.Bytes(r.Remaining())
	if err != nil {
		return nil, err
	}
	return &ConnectionPacket{
		Version: version,
		MsgID:   msgID,
		Count:   count,
		Unknown: unknown,
		Params:  params,
	}, nil
}

func readAddress(r *wire.Reader) (protocol.Address, error) {
	module, err := r.Uint16()
	if err != nil {
		return protocol.Address{}, err
	}
	node, err := r.Uint16()
	if err != nil {
		return protocol.Address{}, err
	}
	object, err := r.Uint16()
	if err != nil {
		return protocol.Address{}, err
	}
	return protocol.Address{Module: module, Node: node, Object: object}, nil
}
