// Package port0 implements the control channel that every link
// carries on port 0: connection-state publishing, a per-port
// metadata scan run immediately after connect, an echo loopback
// subsystem, and a timesync responder. Grounded on
// pyembc/stream/port0_server.py from original_source/.
package port0

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"embedlink/datalink"
	"embedlink/payload"
	"embedlink/pubsub"
	"embedlink/transport"

	"github.com/sirupsen/logrus"
)

// Op identifies the kind of control message carried in port_data.
type Op uint8

const (
	OpStatus   Op = 1
	OpEcho     Op = 2
	OpTimesync Op = 3
	OpMeta     Op = 4
	OpRaw      Op = 5
)

// State is this end's position in the port0 connection lifecycle.
type State int

const (
	StateInit State = iota
	StateMeta
	StateDisconnected
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateMeta:
		return "META"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

const (
	// PortsCount mirrors transport.PortsCount; port0 scans this many
	// port ids for metadata after every (re)connect.
	PortsCount = transport.PortsCount
	// MetaOutstanding bounds how many META requests may be in flight
	// at once during the scan.
	MetaOutstanding = 8
)

// TXMeta describes the h/port/0/conn/tx reserved topic: data link TX state.
var TXMeta = pubsub.Meta{
	"dtype":   "u32",
	"brief":   "Data link TX state.",
	"default": uint32(0),
	"options": [][2]any{{uint32(0), "disconnected"}, {uint32(1), "connected"}},
	"flags":   []string{"read_only"},
	"retain":  true,
}

// EVMeta describes the h/port/0/conn/ev reserved topic: the last connection event.
var EVMeta = pubsub.Meta{
	"dtype":   "u32",
	"brief":   "Data link event.",
	"default": uint32(256),
	"options": [][2]any{
		{uint32(0), "unknown"}, {uint32(1), "rx_reset"},
		{uint32(2), "tx_disconnected"}, {uint32(3), "tx_connected"},
	},
	"flags": []string{"read_only"},
}

// EchoEnableMeta describes h/port/0/echo/enable.
var EchoEnableMeta = pubsub.Meta{"dtype": "bool", "brief": "Enable echo.", "default": false, "retain": true}

// EchoOutstandingMeta describes h/port/0/echo/outstanding.
var EchoOutstandingMeta = pubsub.Meta{
	"dtype": "u32", "brief": "Number of outstanding echo frames.",
	"default": uint32(8), "range": [2]uint32{1, 64}, "retain": true,
}

// EchoLengthMeta describes h/port/0/echo/length.
var EchoLengthMeta = pubsub.Meta{
	"dtype": "u32", "brief": "Length of each echo frame in bytes.",
	"default": uint32(256), "range": [2]uint32{8, 256}, "retain": true,
}

// Sender is the subset of *transport.Transport port0 depends on.
type Sender interface {
	Send(portID uint8, portData uint16, msg []byte) error
	RegisterPort(portID uint8, impl transport.Port) error
}

// StatusSource supplies the counters reported by an OP_STATUS response.
type StatusSource interface {
	Counters() (version uint32, rxCount, rxDataCount, rxAckCount, rxDeduplicateCount,
		rxSyncError, rxMICError, rxFrameIDError, txCount, txRetransmitCount uint32)
}

// PortFactory builds a transport.Port implementation for a port id
// whose metadata scan reported the matching "type" field.
type PortFactory func(ps *pubsub.PubSub, tr Sender, portID uint8) transport.Port

// Server is the port0 control endpoint. One Server exists per link end.
type Server struct {
	ps       *pubsub.PubSub
	tr       Sender
	status   StatusSource
	registry map[string]PortFactory
	now      func() time.Time

	state State

	echoEnable      bool
	echoOutstanding uint32
	echoLength      uint32
	echoTxFrameID   uint64
	echoRxFrameID   uint64

	meta          []json.RawMessage
	metaTxPortID  int
	metaRxPortID  int
}

// NewServer builds a port0 Server, registers it on port 0, declares
// the reserved connection topics, and creates the echo control
// topics (subscribing itself so writes to them take effect live).
func NewServer(ps *pubsub.PubSub, tr Sender, status StatusSource, registry map[string]PortFactory, now func() time.Time) *Server {
	if now == nil {
		now = time.Now
	}
	s := &Server{
		ps:              ps,
		tr:              tr,
		status:          status,
		registry:        registry,
		now:             now,
		echoOutstanding: 8,
		echoLength:      256,
		meta:            make([]json.RawMessage, PortsCount),
	}
	tr.RegisterPort(0, s)
	ps.Meta("h/port/0/conn/tx", TXMeta)
	ps.Meta("h/port/0/conn/ev", EVMeta)
	ps.Create("h/port/0/echo/enable", EchoEnableMeta, s.onEchoEnable)
	ps.Create("h/port/0/echo/outstanding", EchoOutstandingMeta, s.onEchoOutstanding)
	ps.Create("h/port/0/echo/length", EchoLengthMeta, s.onEchoLength)
	return s
}

func (s *Server) onEchoEnable(topic string, value any, retain bool) {
	s.echoEnable = pubsub.AsBool(value)
	if s.echoEnable {
		s.echoSend()
	} else {
		s.echoTxFrameID = 0
		s.echoRxFrameID = 0
	}
}

func (s *Server) onEchoOutstanding(topic string, value any, retain bool) {
	if n, ok := asU32(value); ok {
		s.echoOutstanding = n
	}
	s.echoSend()
}

func (s *Server) onEchoLength(topic string, value any, retain bool) {
	if n, ok := asU32(value); ok {
		s.echoLength = n
	}
	s.echoSend()
}

func asU32(v any) (uint32, bool) {
	switch x := v.(type) {
	case uint32:
		return x, true
	case int:
		return uint32(x), true
	case float64:
		return uint32(x), true
	default:
		return 0, false
	}
}

func (s *Server) publish(topic string, value any, retain bool) {
	s.ps.Publish(topic, value, retain, nil)
}

// OnEvent advances the connection state machine and republishes the
// reserved connection topics on every transition.
func (s *Server) OnEvent(event datalink.Event) {
	s.publish("h/port/0/conn/ev", uint32(event), false)
	if event != datalink.EventTxConnected {
		s.echoTxFrameID = 0
		s.echoRxFrameID = 0
	}

	switch event {
	case datalink.EventTxDisconnected:
		s.publish("h/port/0/conn/tx", uint32(0), true)
		switch s.state {
		case StateConnected:
			s.state = StateDisconnected
		case StateMeta:
			s.metaTxPortID = 0
			s.metaRxPortID = 0
		}
	case datalink.EventTxConnected:
		s.publish("h/port/0/conn/tx", uint32(1), true)
		if s.state == StateInit {
			s.state = StateMeta
			s.metaScan()
		} else {
			s.state = StateConnected
			s.echoSend()
		}
	}
}

// OnRecv dispatches an incoming port0 control message by its op code.
func (s *Server) OnRecv(portData uint16, msg []byte) {
	op, rsp, cmdMeta := unpack(portData)
	switch op {
	case OpStatus:
		s.recvStatus(rsp, cmdMeta, msg)
	case OpEcho:
		s.recvEcho(rsp, cmdMeta, msg)
	case OpTimesync:
		s.recvTimesync(rsp, cmdMeta, msg)
	case OpMeta:
		s.recvMeta(rsp, cmdMeta, msg)
	case OpRaw:
		s.recvRaw(rsp, cmdMeta, msg)
	}
}

func (s *Server) send(portData uint16, msg []byte) {
	s.tr.Send(0, portData, msg)
}

func (s *Server) recvStatus(rsp bool, cmdMeta uint8, msg []byte) {
	if rsp || s.status == nil {
		return
	}
	version, rxCount, rxDataCount, rxAckCount, rxDedup, rxSync, rxMIC, rxFrameID, txCount, txRetransmit := s.status.Counters()
	out := make([]byte, 40)
	vals := []uint32{version, rxCount, rxDataCount, rxAckCount, rxDedup, rxSync, rxMIC, rxFrameID, txCount, txRetransmit}
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	s.send(packRsp(OpStatus, cmdMeta), out)
}

func (s *Server) echoSend() {
	for s.state == StateConnected && s.echoEnable && (s.echoTxFrameID-s.echoRxFrameID) < uint64(s.echoOutstanding) {
		buf := make([]byte, s.echoLength)
		binary.LittleEndian.PutUint64(buf, s.echoTxFrameID)
		s.echoTxFrameID++
		s.send(packReq(OpEcho, 0), buf)
	}
}

func (s *Server) recvEcho(rsp bool, cmdMeta uint8, msg []byte) {
	if rsp {
		if uint32(len(msg)) != s.echoLength || len(msg) < 8 {
			return
		}
		frameID := binary.LittleEndian.Uint64(msg[:8])
		// A mismatch here means a response was dropped; resynchronize
		// to frameID+1 rather than stalling the outstanding window.
		if frameID != s.echoRxFrameID {
			logrus.WithFields(logrus.Fields{"expected": s.echoRxFrameID, "received": frameID}).Warn("echo frame id mismatch")
		}
		s.echoRxFrameID = frameID + 1
		s.echoSend()
	} else {
		s.send(packRsp(OpEcho, cmdMeta), msg)
	}
}

func (s *Server) recvTimesync(rsp bool, cmdMeta uint8, msg []byte) {
	if rsp || len(msg) < 8 {
		return
	}
	t0 := int64(binary.LittleEndian.Uint64(msg[:8]))
	t1 := s.now().UnixNano()
	out := make([]byte, 32)
	binary.LittleEndian.PutUint64(out[0:], uint64(t0))
	binary.LittleEndian.PutUint64(out[8:], uint64(t1))
	binary.LittleEndian.PutUint64(out[16:], uint64(t1))
	binary.LittleEndian.PutUint64(out[24:], 0)
	s.send(packRsp(OpTimesync, cmdMeta), out)
}

func (s *Server) metaScan() {
	req := []byte{0}
	for s.metaTxPortID < PortsCount && (s.metaTxPortID-s.metaRxPortID) < MetaOutstanding {
		s.send(packReq(OpMeta, uint8(s.metaTxPortID)), req)
		s.metaTxPortID++
	}
}

func (s *Server) recvMeta(rsp bool, cmdMeta uint8, msg []byte) {
	if !rsp {
		return
	}
	portID := int(cmdMeta)
	if portID < 0 || portID >= PortsCount {
		return
	}
	if v, ok := payload.Decode(payload.JSON, msg); ok {
		if raw, err := json.Marshal(v); err == nil {
			s.meta[portID] = raw
		}
	}
	s.metaRxPortID = portID + 1
	if s.metaRxPortID > s.metaTxPortID {
		s.metaRxPortID = s.metaTxPortID
	}
	if s.metaRxPortID >= PortsCount {
		if s.state == StateMeta {
			s.state = StateConnected
		}
		s.metaDone()
	} else {
		s.metaScan()
	}
}

func (s *Server) metaDone() {
	for portID, raw := range s.meta {
		if portID == 0 || raw == nil {
			continue
		}
		var decoded struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &decoded); err != nil || decoded.Type == "" {
			continue
		}
		factory, ok := s.registry[decoded.Type]
		if !ok {
			continue
		}
		s.tr.RegisterPort(uint8(portID), factory(s.ps, s.tr, uint8(portID)))
	}
	s.publish("h/port/0/meta", s.metaSnapshot(), true)
}

func (s *Server) metaSnapshot() []json.RawMessage {
	out := make([]json.RawMessage, len(s.meta))
	copy(out, s.meta)
	return out
}

func (s *Server) recvRaw(rsp bool, cmdMeta uint8, msg []byte) {}

func packReq(op Op, cmdMeta uint8) uint16 {
	return uint16(op&0x07) | (uint16(cmdMeta) << 8)
}

func packRsp(op Op, cmdMeta uint8) uint16 {
	return uint16(op&0x07) | 0x08 | (uint16(cmdMeta) << 8)
}

func unpack(portData uint16) (op Op, rsp bool, cmdMeta uint8) {
	op = Op(portData & 0x07)
	rsp = portData&0x08 != 0
	cmdMeta = uint8(portData >> 8)
	return
}

// State reports the server's current connection-lifecycle state.
func (s *Server) State() State { return s.state }
