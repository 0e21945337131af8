package port0

import (
	"encoding/binary"
	"testing"
	"time"

	"embedlink/datalink"
	"embedlink/pubsub"
	"embedlink/transport"
)

type sentMessage struct {
	portData uint16
	msg      []byte
}

type fakeSender struct {
	sent  []sentMessage
	ports map[uint8]transport.Port
}

func newFakeSender() *fakeSender {
	return &fakeSender{ports: make(map[uint8]transport.Port)}
}

func (f *fakeSender) Send(portID uint8, portData uint16, msg []byte) error {
	f.sent = append(f.sent, sentMessage{portData: portData, msg: append([]byte(nil), msg...)})
	return nil
}

func (f *fakeSender) RegisterPort(portID uint8, impl transport.Port) error {
	f.ports[portID] = impl
	return nil
}

type fakeStatus struct {
	version, rx, rxData, rxAck, rxDedup, rxSync, rxMIC, rxFrameID, tx, txRetransmit uint32
}

func (f fakeStatus) Counters() (uint32, uint32, uint32, uint32, uint32, uint32, uint32, uint32, uint32, uint32) {
	return f.version, f.rx, f.rxData, f.rxAck, f.rxDedup, f.rxSync, f.rxMIC, f.rxFrameID, f.tx, f.txRetransmit
}

func newTestServer() (*Server, *fakeSender) {
	ps := pubsub.New()
	sender := newFakeSender()
	s := NewServer(ps, sender, fakeStatus{version: 1}, nil, func() time.Time { return time.Unix(0, 0) })
	return s, sender
}

func TestConnectTriggersMetaScanBoundedByOutstanding(t *testing.T) {
	s, sender := newTestServer()
	s.OnEvent(datalink.EventTxConnected)

	if s.State() != StateMeta {
		t.Fatalf("expected STATE_META, got %v", s.State())
	}
	if len(sender.sent) != MetaOutstanding {
		t.Fatalf("expected %d outstanding META requests, got %d", MetaOutstanding, len(sender.sent))
	}
	for i, m := range sender.sent {
		op, rsp, cmdMeta := unpack(m.portData)
		if op != OpMeta || rsp || int(cmdMeta) != i {
			t.Fatalf("request %d: op=%v rsp=%v cmdMeta=%d", i, op, rsp, cmdMeta)
		}
	}
}

func TestMetaScanCompletesAndPublishesAggregate(t *testing.T) {
	s, sender := newTestServer()
	s.OnEvent(datalink.EventTxConnected)

	var aggregate any
	aggregated := false
	// subscribe before feeding responses so the final publish is observed
	subscribePS(s, func(topic string, value any, retain bool) {
		if topic == "h/port/0/meta" {
			aggregate, aggregated = value, true
		}
	})

	for port := 0; port < PortsCount; port++ {
		s.recvMeta(true, uint8(port), []byte{0})
	}

	if s.State() != StateConnected {
		t.Fatalf("expected STATE_CONNECTED after full scan, got %v", s.State())
	}
	if !aggregated {
		t.Fatal("expected h/port/0/meta to be published")
	}
	if aggregate == nil {
		t.Fatal("expected non-nil aggregate slice")
	}
}

func subscribePS(s *Server, cbk pubsub.Callback) {
	s.ps.Subscribe("h/port/0/meta", cbk, true)
}

func TestEchoRequestMirrorsPayload(t *testing.T) {
	s, sender := newTestServer()
	req := []byte{1, 2, 3, 4}
	s.OnRecv(packReq(OpEcho, 0), req)

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 echo response, got %d", len(sender.sent))
	}
	op, rsp, _ := unpack(sender.sent[0].portData)
	if op != OpEcho || !rsp {
		t.Fatalf("expected echo response, got op=%v rsp=%v", op, rsp)
	}
	if string(sender.sent[0].msg) != string(req) {
		t.Fatalf("echo payload mismatch: got %v, want %v", sender.sent[0].msg, req)
	}
}

func TestStatusResponseEncodes40Bytes(t *testing.T) {
	s, sender := newTestServer()
	s.OnRecv(packReq(OpStatus, 0), nil)

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 status response, got %d", len(sender.sent))
	}
	out := sender.sent[0].msg
	if len(out) != 40 {
		t.Fatalf("expected 40-byte status block, got %d", len(out))
	}
	if binary.LittleEndian.Uint32(out[0:4]) != 1 {
		t.Fatalf("expected version=1 in first u32")
	}
}

func TestTimesyncEchoesT0(t *testing.T) {
	s, sender := newTestServer()
	msg := make([]byte, 8)
	binary.LittleEndian.PutUint64(msg, 12345)
	s.OnRecv(packReq(OpTimesync, 0), msg)

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 timesync response, got %d", len(sender.sent))
	}
	out := sender.sent[0].msg
	if len(out) != 32 {
		t.Fatalf("expected 32-byte timesync block, got %d", len(out))
	}
	if binary.LittleEndian.Uint64(out[0:8]) != 12345 {
		t.Fatal("expected t0 echoed back unchanged")
	}
}

func TestEchoEnableStartsOutstandingRequests(t *testing.T) {
	s, sender := newTestServer()
	s.OnEvent(datalink.EventTxConnected)
	for port := 0; port < PortsCount; port++ {
		s.recvMeta(true, uint8(port), []byte{0})
	}
	sender.sent = nil

	s.ps.Publish("h/port/0/echo/enable", true, true, nil)
	if len(sender.sent) == 0 {
		t.Fatal("expected echo requests once enabled while connected")
	}
	for _, m := range sender.sent {
		op, rsp, _ := unpack(m.portData)
		if op != OpEcho || rsp {
			t.Fatalf("expected echo requests, got op=%v rsp=%v", op, rsp)
		}
	}
}
