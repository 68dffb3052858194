package session

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/openlab/harplink/internal/protocol"
	"github.com/openlab/harplink/internal/protocol/packet"
	"github.com/openlab/harplink/internal/protocol/param"
	"github.com/openlab/harplink/internal/testutil/testlog"
)

func testConfig() Config {
	return Config{
		ConnectTimeout: time.Second,
		RequestTimeout: 250 * time.Millisecond,
		WriteTimeout:   time.Second,
		InitVersion:    1,
	}
}

// fakeInstrument drives the far end of a net.Pipe as the instrument would.
type fakeInstrument struct {
	t  *testing.T
	tr *Transport
}

func newSessionPair(t *testing.T) (*Session, *fakeInstrument) {
	t.Helper()
	client, server := net.Pipe()
	s := New(NewTransport(client, time.Second), testConfig())
	f := &fakeInstrument{t: t, tr: NewTransport(server, time.Second)}
	t.Cleanup(func() {
		_ = s.Close()
		_ = f.tr.Close()
	})
	return s, f
}

func (f *fakeInstrument) read() *packet.IpPacket {
	f.t.Helper()
	raw, err := f.tr.ReadPacket()
	if err != nil {
		f.t.Fatalf("instrument read: %v", err)
	}
	p, err := packet.DecodeIP(raw)
	if err != nil {
		f.t.Fatalf("instrument decode: %v", err)
	}
	return p
}

func (f *fakeInstrument) write(p *packet.IpPacket) {
	f.t.Helper()
	raw, err := packet.EncodeIP(p)
	if err != nil {
		f.t.Fatalf("instrument encode: %v", err)
	}
	if err := f.tr.WritePacket(raw); err != nil {
		f.t.Fatalf("instrument write: %v", err)
	}
}

func initResponse(module uint16) *packet.IpPacket {
	return &packet.IpPacket{
		Protocol: packet.IPProtoConnection,
		Conn: &packet.ConnectionPacket{
			Version: 1,
			MsgID:   1,
			Count:   1,
			Params:  []byte{byte(module >> 8), byte(module)},
		},
	}
}

func commandResponse(req *packet.HarpPacket, frags []param.Fragment) *packet.IpPacket {
	return &packet.IpPacket{
		Protocol: packet.IPProtoHarp,
		Harp: &packet.HarpPacket{
			Src:      req.Dst,
			Dst:      req.Src,
			Seq:      req.Seq,
			Protocol: packet.HarpProtoHoi,
			Action:   req.Action &^ packet.ActionResponseRequired,
			Hoi: &packet.HoiPacket{
				InterfaceID: req.Hoi.InterfaceID,
				Action:      req.Hoi.Action,
				ActionID:    req.Hoi.ActionID,
				Fragments:   frags,
			},
		},
	}
}

func registrationResponse(req *packet.HarpPacket, objects ...protocol.Address) *packet.IpPacket {
	opts := make([]packet.RegistrationOption, 0, len(objects))
	for _, obj := range objects {
		opts = append(opts, packet.ObjectAddressOption(obj))
	}
	return &packet.IpPacket{
		Protocol: packet.IPProtoHarp,
		Harp: &packet.HarpPacket{
			Src:      req.Dst,
			Dst:      req.Src,
			Seq:      req.Seq,
			Protocol: packet.HarpProtoRegistration,
			Action:   req.Action &^ packet.ActionResponseRequired,
			Reg: &packet.RegistrationPacket{
				ActionCode: req.Reg.ActionCode,
				ReqAddr:    req.Reg.ReqAddr,
				ResAddr:    req.Reg.ResAddr,
				Options:    opts,
			},
		},
	}
}

// initialize runs the init exchange against the fake instrument.
func initialize(t *testing.T, s *Session, f *fakeInstrument, module uint16) protocol.Address {
	t.Helper()
	go func() {
		req := f.read()
		if req.Conn == nil {
			return
		}
		f.write(initResponse(module))
	}()
	addr, err := s.Init(context.Background())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	return addr
}

func TestInitAssignsClientAddress(t *testing.T) {
	testlog.Start(t)
	s, f := newSessionPair(t)

	addr := initialize(t, s, f, 3)
	if addr.Module == 0 || addr.Node != 0 || addr.Object != 0 {
		t.Fatalf("unexpected client address: %v", addr)
	}
	if got, err := s.ClientAddress(); err != nil || got != addr {
		t.Fatalf("client address not recorded: %v err=%v", got, err)
	}
	if s.State() != StateInitialized {
		t.Fatalf("expected initialized state, got %v", s.State())
	}
	if _, err := s.Init(context.Background()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("client address must be write-once, got %v", err)
	}
}

func TestBuildBeforeInitFails(t *testing.T) {
	testlog.Start(t)
	s, _ := newSessionPair(t)
	dst := protocol.Address{Module: 1, Object: 7}
	if _, err := s.Invoke(context.Background(), dst, 1, 1, nil, true); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestSequenceMonotonicityAndWrap(t *testing.T) {
	testlog.Start(t)
	s, _ := newSessionPair(t)
	dst := protocol.Address{Module: 1, Object: 7}
	other := protocol.Address{Module: 1, Object: 8}

	for i := 0; i < 256; i++ {
		if got := s.NextSeq(dst); got != uint8(i) {
			t.Fatalf("send %d: expected seq %d, got %d", i, uint8(i), got)
		}
	}
	if got := s.NextSeq(dst); got != 0 {
		t.Fatalf("counter must wrap to 0 after 256 sends, got %d", got)
	}
	if got := s.NextSeq(other); got != 0 {
		t.Fatalf("counters are scoped per destination, got %d", got)
	}
}

func TestDiscoverRecordsObjectAddresses(t *testing.T) {
	testlog.Start(t)
	s, f := newSessionPair(t)
	initialize(t, s, f, 3)

	obj := protocol.Address{Module: 1, Node: 0, Object: 5}
	go func() {
		req := f.read()
		h := req.Harp
		if h == nil || h.Reg == nil {
			return
		}
		if h.Dst != protocol.RegistrationService {
			f.t.Errorf("discovery must target the registration service, got %v", h.Dst)
		}
		if h.Reg.ActionCode != packet.RegActionDiscover {
			f.t.Errorf("expected action code %d, got %d", packet.RegActionDiscover, h.Reg.ActionCode)
		}
		f.write(registrationResponse(h, obj))
	}()

	addrs, err := s.Discover(context.Background(), packet.HarpProtoHoi, 1)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(addrs) != 1 || addrs[0] != obj {
		t.Fatalf("unexpected discovered addresses: %+v", addrs)
	}
	if got := s.DiscoveredObjects(); len(got) != 1 || got[0] != obj {
		t.Fatalf("discovered set not recorded: %+v", got)
	}
	if s.State() != StateDiscovered {
		t.Fatalf("expected discovered state, got %v", s.State())
	}
}

func TestInvokeReturnsDecodedResults(t *testing.T) {
	testlog.Start(t)
	s, f := newSessionPair(t)
	initialize(t, s, f, 3)
	dst := protocol.Address{Module: 1, Object: 7}

	go func() {
		req := f.read()
		if req.Harp == nil || req.Harp.Hoi == nil {
			return
		}
		frags, err := param.Encode([]param.Value{param.Uint32(100)})
		if err != nil {
			f.t.Errorf("encode result: %v", err)
			return
		}
		f.write(commandResponse(req.Harp, frags))
	}()

	values, err := s.Invoke(context.Background(), dst, 1, 0x0105, []param.Value{param.Bool(true)}, true)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(values) != 1 || values[0].Kind != param.KindUint32 || values[0].U32 != 100 {
		t.Fatalf("unexpected result values: %+v", values)
	}
}

func TestFireAndForgetInvokeDoesNotPend(t *testing.T) {
	testlog.Start(t)
	s, f := newSessionPair(t)
	initialize(t, s, f, 3)
	dst := protocol.Address{Module: 1, Object: 7}

	done := make(chan *packet.IpPacket, 1)
	go func() { done <- f.read() }()

	values, err := s.Invoke(context.Background(), dst, 1, 2, nil, false)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if values != nil {
		t.Fatalf("fire-and-forget must not return values: %+v", values)
	}
	req := <-done
	if req.Harp.ResponseRequired() {
		t.Fatalf("response-required bit must be clear: action=0x%02x", req.Harp.Action)
	}
	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("fire-and-forget left %d pending entries", n)
	}
}

func TestInvokeTimeoutFailsOnceAndFreesSlot(t *testing.T) {
	testlog.Start(t)
	s, f := newSessionPair(t)
	initialize(t, s, f, 3)
	dst := protocol.Address{Module: 1, Object: 7}

	// swallow the first request without replying
	go func() { f.read() }()
	_, err := s.Invoke(context.Background(), dst, 1, 1, nil, true)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("timed-out request left %d pending entries", n)
	}

	// the destination is usable again
	go func() {
		req := f.read()
		f.write(commandResponse(req.Harp, nil))
	}()
	if _, err := s.Invoke(context.Background(), dst, 1, 1, nil, true); err != nil {
		t.Fatalf("invoke after timeout: %v", err)
	}
}

func TestUnsolicitedResponseIsCountedNotFatal(t *testing.T) {
	testlog.Start(t)
	s, f := newSessionPair(t)
	initialize(t, s, f, 3)
	dst := protocol.Address{Module: 1, Object: 7}

	stray := commandResponse(&packet.HarpPacket{
		Src:      protocol.Address{Module: 3},
		Dst:      dst,
		Seq:      200,
		Protocol: packet.HarpProtoHoi,
		Action:   packet.ActionRequest | packet.ActionResponseRequired,
		Hoi:      &packet.HoiPacket{InterfaceID: 1, ActionID: 1},
	}, nil)
	f.write(stray)

	deadline := time.Now().Add(time.Second)
	for s.UnsolicitedCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("unsolicited response was not counted")
		}
		time.Sleep(time.Millisecond)
	}

	// the session keeps working
	go func() {
		req := f.read()
		f.write(commandResponse(req.Harp, nil))
	}()
	if _, err := s.Invoke(context.Background(), dst, 1, 1, nil, true); err != nil {
		t.Fatalf("invoke after unsolicited response: %v", err)
	}
}

func TestCancelledInvokeDropsPendingEntry(t *testing.T) {
	testlog.Start(t)
	s, f := newSessionPair(t)
	initialize(t, s, f, 3)
	dst := protocol.Address{Module: 1, Object: 7}

	got := make(chan *packet.IpPacket, 1)
	go func() { got <- f.read() }()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// cancel once the request is on the wire
		req := <-got
		got <- req
		cancel()
	}()
	_, err := s.Invoke(ctx, dst, 1, 1, nil, true)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// the late reply is handled as unsolicited, not delivered
	req := <-got
	f.write(commandResponse(req.Harp, nil))
	deadline := time.Now().Add(time.Second)
	for s.UnsolicitedCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("late reply after cancellation was not dropped as unsolicited")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConnectionLossFailsPendingAndInvalidatesSession(t *testing.T) {
	testlog.Start(t)
	s, f := newSessionPair(t)
	initialize(t, s, f, 3)
	dst := protocol.Address{Module: 1, Object: 7}

	go func() {
		f.read()
		_ = f.tr.Close()
	}()
	_, err := s.Invoke(context.Background(), dst, 1, 1, nil, true)
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
	if s.State() != StateDisconnected {
		t.Fatalf("expected disconnected state, got %v", s.State())
	}
	if _, err := s.Invoke(context.Background(), dst, 1, 1, nil, true); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("dead session must keep failing, got %v", err)
	}
}

func TestTransportFramingRoundTrip(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	ct := NewTransport(client, time.Second)
	st := NewTransport(server, time.Second)

	frags, err := param.Encode([]param.Value{param.String("frame")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := commandResponse(&packet.HarpPacket{
		Src:      protocol.Address{Module: 3},
		Dst:      protocol.Address{Module: 1},
		Seq:      1,
		Protocol: packet.HarpProtoHoi,
		Action:   packet.ActionRequest,
		Hoi:      &packet.HoiPacket{InterfaceID: 1, ActionID: 1},
	}, frags)
	raw, err := packet.EncodeIP(out)
	if err != nil {
		t.Fatalf("encode ip: %v", err)
	}

	go func() { _ = ct.WritePacket(raw) }()
	got, err := st.ReadPacket()
	if err != nil {
		t.Fatalf("read packet: %v", err)
	}
	if len(got) != len(raw) {
		t.Fatalf("frame length mismatch: got=%d want=%d", len(got), len(raw))
	}
	if _, err := packet.DecodeIP(got); err != nil {
		t.Fatalf("decode framed packet: %v", err)
	}
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}
