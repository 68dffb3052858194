package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openlab/harplink/internal/observability"
	"github.com/openlab/harplink/internal/protocol"
	"github.com/openlab/harplink/internal/protocol/message"
	"github.com/openlab/harplink/internal/protocol/packet"
	"github.com/openlab/harplink/internal/protocol/param"
)

var (
	// ErrNotInitialized mirrors the builder's sentinel so callers can test
	// either layer with one errors.Is target.
	ErrNotInitialized = message.ErrNotInitialized

	ErrTimeout            = errors.New("session: request timeout")
	ErrAlreadyInitialized = errors.New("session: client address already assigned")
	ErrInitInFlight       = errors.New("session: init already in flight")
	ErrDestinationBusy    = errors.New("session: destination has an outstanding request with this sequence")
	ErrBadResponseShape   = errors.New("session: response payload has unexpected shape")
)

// State is the connection lifecycle position of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateInitialized
	StateDiscovered
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateInitialized:
		return "initialized"
	case StateDiscovered:
		return "discovered"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type pendingKey struct {
	dst protocol.Address
	seq uint8
}

// Session owns all mutable state of one instrument connection: the address
// assigned during initialization, per-destination sequence counters, the
// set of discovered objects and the table correlating outstanding requests
// to their responses. It is safe for concurrent use; the send and receive
// paths share one mutex.
type Session struct {
	cfg     Config
	tr      *Transport
	logger  zerolog.Logger
	builder *message.Builder

	mu          sync.Mutex
	state       State
	clientAddr  protocol.Address
	hasAddr     bool
	seqs        map[protocol.Address]uint8
	pending     map[pendingKey]chan *packet.HarpPacket
	initCh      chan *packet.ConnectionPacket
	discovered  map[protocol.Address]struct{}
	unsolicited uint64

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// New wraps an established transport and starts the receive loop. The
// session is invalid once the connection closes.
func New(tr *Transport, cfg Config) *Session {
	s := &Session{
		cfg:        cfg.WithDefaults(),
		tr:         tr,
		logger:     log.With().Str("component", "session").Str("instrument", tr.RemoteAddr()).Logger(),
		state:      StateConnected,
		seqs:       make(map[protocol.Address]uint8),
		pending:    make(map[pendingKey]chan *packet.HarpPacket),
		discovered: make(map[protocol.Address]struct{}),
		closed:     make(chan struct{}),
	}
	s.builder = message.NewBuilder(s)
	go s.readLoop()
	return s
}

// Connect dials the instrument and returns a live session in the Connected
// state. Callers proceed with Init before anything else.
func Connect(ctx context.Context, addr string, cfg Config, tun *TunnelConfig) (*Session, error) {
	tr, err := Dial(ctx, addr, cfg, tun)
	if err != nil {
		return nil, err
	}
	return New(tr, cfg), nil
}

// ClientAddress returns the address assigned by the instrument, or
// ErrNotInitialized before the Init exchange completes.
func (s *Session) ClientAddress() (protocol.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasAddr {
		return protocol.Address{}, ErrNotInitialized
	}
	return s.clientAddr, nil
}

// NextSeq returns the next sequence number for dst and advances the
// counter, wrapping modulo 256.
func (s *Session) NextSeq(dst protocol.Address) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.seqs[dst]
	s.seqs[dst] = v + 1
	return v
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UnsolicitedCount reports how many responses arrived with no matching
// pending request and were dropped.
func (s *Session) UnsolicitedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsolicited
}

// DiscoveredObjects lists every object address learned through discovery,
// in stable order.
func (s *Session) DiscoveredObjects() []protocol.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Address, 0, len(s.discovered))
	for addr := range s.discovered {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Node != b.Node {
			return a.Node < b.Node
		}
		return a.Object < b.Object
	})
	return out
}

// Close tears the connection down; every pending request fails with
// ErrConnectionLost.
func (s *Session) Close() error {
	err := s.tr.Close()
	s.fail(fmt.Errorf("%w: closed by client", ErrConnectionLost))
	return err
}

// Init performs the initialization exchange and records the client address
// the instrument assigns. The address is write-once; a second Init fails.
func (s *Session) Init(ctx context.Context) (protocol.Address, error) {
	s.mu.Lock()
	if s.state == StateDisconnected {
		err := s.closeErr
		s.mu.Unlock()
		return protocol.Address{}, err
	}
	if s.hasAddr {
		s.mu.Unlock()
		return protocol.Address{}, ErrAlreadyInitialized
	}
	if s.initCh != nil {
		s.mu.Unlock()
		return protocol.Address{}, ErrInitInFlight
	}
	ch := make(chan *packet.ConnectionPacket, 1)
	s.initCh = ch
	s.mu.Unlock()

	clearInit := func() {
		s.mu.Lock()
		s.initCh = nil
		s.mu.Unlock()
	}

	raw, err := packet.EncodeIP(s.builder.BuildInit(s.cfg.InitVersion))
	if err != nil {
		clearInit()
		return protocol.Address{}, err
	}
	if err := s.tr.WritePacket(raw); err != nil {
		clearInit()
		s.fail(err)
		return protocol.Address{}, err
	}
	observability.RecordPacketSent("init")

	timer := time.NewTimer(s.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case conn := <-ch:
		clearInit()
		addr, err := addressFromInitResponse(conn)
		if err != nil {
			return protocol.Address{}, err
		}
		s.mu.Lock()
		s.clientAddr = addr
		s.hasAddr = true
		if s.state == StateConnected {
			s.state = StateInitialized
		}
		s.mu.Unlock()
		s.logger.Info().Stringer("addr", addr).Msg("client address assigned")
		return addr, nil
	case <-timer.C:
		clearInit()
		observability.RecordTimeout()
		return protocol.Address{}, fmt.Errorf("%w: init after %v", ErrTimeout, s.cfg.RequestTimeout)
	case <-ctx.Done():
		clearInit()
		return protocol.Address{}, ctx.Err()
	case <-s.closed:
		return protocol.Address{}, s.closeErr
	}
}

// addressFromInitResponse extracts the assigned client address from the
// raw, positionally-typed connection parameters: the first two bytes carry
// the assigned module id; node and object are zero for a client.
func addressFromInitResponse(conn *packet.ConnectionPacket) (protocol.Address, error) {
	if len(conn.Params) < 2 {
		return protocol.Address{}, fmt.Errorf("%w: init response carries %d param bytes", packet.ErrMalformedPacket, len(conn.Params))
	}
	module := uint16(conn.Params[0])<<8 | uint16(conn.Params[1])
	if module == 0 {
		return protocol.Address{}, fmt.Errorf("%w: init response assigned zero module", packet.ErrMalformedPacket)
	}
	return protocol.Address{Module: module}, nil
}

// Discover asks the well-known registration service for the root objects
// speaking proto and records every address the response enumerates.
func (s *Session) Discover(ctx context.Context, proto packet.HarpProtocol, requestID uint8) ([]protocol.Address, error) {
	p, err := s.builder.BuildRegistration(protocol.RegistrationService, packet.RegActionDiscover,
		[]packet.RegistrationOption{packet.ProtocolRequestOption(proto, requestID)})
	if err != nil {
		return nil, err
	}
	resp, err := s.roundTrip(ctx, p, "registration")
	if err != nil {
		return nil, err
	}
	if resp.Reg == nil {
		return nil, fmt.Errorf("%w: registration response without registration payload", ErrBadResponseShape)
	}
	addrs := resp.Reg.ObjectAddresses()
	s.mu.Lock()
	for _, addr := range addrs {
		s.discovered[addr] = struct{}{}
	}
	if s.state == StateInitialized {
		s.state = StateDiscovered
	}
	s.mu.Unlock()
	s.logger.Debug().Int("objects", len(addrs)).Msg("discovery response")
	return addrs, nil
}

// Invoke calls a remote method on dst. With responseRequired it suspends
// until the matching response arrives and returns its decoded result
// values; without it the call returns as soon as the packet is written.
func (s *Session) Invoke(ctx context.Context, dst protocol.Address, interfaceID uint8, actionID uint16, args []param.Value, responseRequired bool) ([]param.Value, error) {
	p, err := s.builder.BuildCommand(dst, interfaceID, actionID, args, responseRequired)
	if err != nil {
		return nil, err
	}
	if !responseRequired {
		raw, err := packet.EncodeIP(p)
		if err != nil {
			return nil, err
		}
		if err := s.tr.WritePacket(raw); err != nil {
			s.fail(err)
			return nil, err
		}
		observability.RecordPacketSent("command")
		return nil, nil
	}
	resp, err := s.roundTrip(ctx, p, "command")
	if err != nil {
		return nil, err
	}
	if resp.Hoi == nil {
		return nil, fmt.Errorf("%w: command response without hoi payload", ErrBadResponseShape)
	}
	return param.Decode(resp.Hoi.Fragments)
}

// roundTrip registers p as pending, writes it and suspends until the
// matching response, a timeout, cancellation or connection loss.
func (s *Session) roundTrip(ctx context.Context, p *packet.IpPacket, kind string) (*packet.HarpPacket, error) {
	raw, err := packet.EncodeIP(p)
	if err != nil {
		return nil, err
	}
	key := pendingKey{dst: p.Harp.Dst, seq: p.Harp.Seq}
	ch := make(chan *packet.HarpPacket, 1)

	s.mu.Lock()
	if s.state == StateDisconnected {
		err := s.closeErr
		s.mu.Unlock()
		return nil, err
	}
	if _, busy := s.pending[key]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s seq=%d", ErrDestinationBusy, key.dst, key.seq)
	}
	s.pending[key] = ch
	s.mu.Unlock()

	start := time.Now()
	if err := s.tr.WritePacket(raw); err != nil {
		s.evict(key)
		s.fail(err)
		return nil, err
	}
	observability.RecordPacketSent(kind)

	timer := time.NewTimer(s.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		observability.ObserveRequestRTT(kind, time.Since(start))
		return resp, nil
	case <-timer.C:
		s.evict(key)
		observability.RecordTimeout()
		return nil, fmt.Errorf("%w: %s to %s seq=%d after %v", ErrTimeout, kind, key.dst, key.seq, s.cfg.RequestTimeout)
	case <-ctx.Done():
		// cancellation removes the pending entry; no cancel message exists
		// at this layer, so a late reply is dropped as unsolicited
		s.evict(key)
		return nil, ctx.Err()
	case <-s.closed:
		return nil, s.closeErr
	}
}

func (s *Session) evict(key pendingKey) {
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
}

// fail retires every pending request with ErrConnectionLost and moves the
// session to Disconnected. Safe to call more than once.
func (s *Session) fail(err error) {
	s.closeOnce.Do(func() {
		if !errors.Is(err, ErrConnectionLost) {
			err = fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		s.mu.Lock()
		s.closeErr = err
		s.state = StateDisconnected
		s.pending = make(map[pendingKey]chan *packet.HarpPacket)
		s.mu.Unlock()
		close(s.closed)
		observability.RecordConnectionLost()
		s.logger.Warn().Err(err).Msg("session closed")
	})
}

// readLoop blocks on complete IP frames and routes them. It is the only
// reader of the transport.
func (s *Session) readLoop() {
	for {
		raw, err := s.tr.ReadPacket()
		if err != nil {
			s.fail(err)
			return
		}
		p, err := packet.DecodeIP(raw)
		if err != nil {
			// a frame that does not parse cannot be attributed to any
			// pending request; its requester ends in a timeout
			s.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("dropping undecodable packet")
			continue
		}
		s.dispatch(p)
	}
}

func (s *Session) dispatch(p *packet.IpPacket) {
	switch {
	case p.Conn != nil:
		observability.RecordPacketReceived("init")
		s.mu.Lock()
		ch := s.initCh
		s.initCh = nil
		s.mu.Unlock()
		if ch == nil {
			s.dropUnsolicited("init response with no init in flight")
			return
		}
		ch <- p.Conn
	case p.Harp != nil:
		kind := "command"
		if p.Harp.Protocol == packet.HarpProtoRegistration {
			kind = "registration"
		}
		observability.RecordPacketReceived(kind)
		// the response's src/seq are the original dst/seq from this
		// client's perspective
		key := pendingKey{dst: p.Harp.Src, seq: p.Harp.Seq}
		s.mu.Lock()
		ch, ok := s.pending[key]
		if ok {
			delete(s.pending, key)
		}
		s.mu.Unlock()
		if !ok {
			s.dropUnsolicited(fmt.Sprintf("no pending request for %s seq=%d", key.dst, key.seq))
			return
		}
		ch <- p.Harp
	default:
		s.dropUnsolicited("direct pipette op on client connection")
	}
}

func (s *Session) dropUnsolicited(reason string) {
	s.mu.Lock()
	s.unsolicited++
	s.mu.Unlock()
	observability.RecordUnsolicited()
	s.logger.Warn().Str("reason", reason).Msg("dropping unsolicited response")
}
