// Package transport implements message segmentation/reassembly and
// per-port demultiplexing on top of the Data Link's frame delivery.
// Grounded on pyembc/stream/transport.py (the _Port/Transport split,
// the seq-bit packing into metadata) from original_source/, and on
// the arbitrary-fragment-count FragmentContext in
// nickolajgrishuk-overproto-go/core/fragment.go, adapted to a fixed
// 2-bit START/MIDDLE/STOP/SINGLE sequencing scheme.
package transport

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"embedlink/datalink"
	"embedlink/ecode"
	"embedlink/framer"
)

const (
	// PortsCount is the number of logical ports the Transport multiplexes.
	PortsCount = 32
	// PortsMax is the highest valid port id.
	PortsMax = PortsCount - 1
	// PayloadMax is the largest single-frame message fragment.
	PayloadMax = framer.PayloadMax
)

// Seq identifies a fragment's position within a segmented message.
type Seq uint8

const (
	SeqMiddle Seq = 0b00
	SeqStop   Seq = 0b01
	SeqStart  Seq = 0b10
	SeqSingle Seq = 0b11
)

// Sender is the subset of datalink.Link the Transport depends on, so
// tests can substitute a fake without wiring a full Data Link.
type Sender interface {
	Send(portID uint8, metadata uint16, payload []byte) (uint16, error)
}

// Port is implemented by anything registered on a Transport port. Both
// callbacks must be safe to call synchronously from within
// Transport.Send/Transport.OnRecv/Transport.OnEvent — the stack has no
// suspension points anywhere in the call chain.
type Port interface {
	OnEvent(event datalink.Event)
	OnRecv(portData uint16, msg []byte)
}

// port wraps a registered Port with its in-progress reassembly FIFO,
// mirroring pyembc's _Port helper class.
type port struct {
	id         uint8
	impl       Port
	fragments  [][]byte
	haveFirst  bool
}

func (p *port) onEvent(event datalink.Event) {
	if p.impl != nil {
		p.impl.OnEvent(event)
	}
}

func (p *port) onRecv(metadata uint32, msg []byte) {
	seq := Seq((metadata >> 6) & 0x03)
	portData := uint16((metadata >> 8) & 0xffff)

	if (seq == SeqStart || seq == SeqSingle) && len(p.fragments) > 0 {
		logrus.WithField("port", p.id).Warn("seq error: msg not empty but start")
		p.fragments = nil
	}
	p.fragments = append(p.fragments, msg)
	p.haveFirst = true

	if seq == SeqStop || seq == SeqSingle {
		total := 0
		for _, f := range p.fragments {
			total += len(f)
		}
		full := make([]byte, 0, total)
		for _, f := range p.fragments {
			full = append(full, f...)
		}
		p.fragments = nil
		if p.impl != nil {
			p.impl.OnRecv(portData, full)
		}
	}
}

func (p *port) reset() {
	p.fragments = nil
}

// Transport multiplexes up to PortsCount ports over a single Sender
// (normally a *datalink.Link), handling message segmentation on send
// and reassembly on receive.
type Transport struct {
	send      Sender
	ports     [PortsCount]*port
	lastEvent datalink.Event
}

// New builds a Transport that sends frames through sender. sender's
// onEvent/onRecv should be wired to call Transport.OnEvent/Transport.OnRecv.
func New(sender Sender) *Transport {
	t := &Transport{send: sender, lastEvent: datalink.EventTxDisconnected}
	for i := range t.ports {
		t.ports[i] = &port{id: uint8(i)}
	}
	return t
}

// OnEvent fans a Data Link connection event out to every registered port.
func (t *Transport) OnEvent(event datalink.Event) {
	if event == datalink.EventTxConnected || event == datalink.EventTxDisconnected {
		t.lastEvent = event
	}
	for _, p := range t.ports {
		p.onEvent(event)
	}
}

// OnRecv handles one delivered frame: it demultiplexes on portID
// (masked to its low 5 bits) and feeds the fragment to that port's
// reassembly FIFO.
func (t *Transport) OnRecv(portID uint8, metadata uint16, payload []byte) {
	p := t.ports[portID&PortsMax]
	p.onRecv(uint32(metadata), payload)
}

// Send segments msg into PayloadMax-sized fragments and sends each
// through the underlying Sender, tagging every fragment's metadata
// with portID, seq, and portData.
func (t *Transport) Send(portID uint8, portData uint16, msg []byte) error {
	if portID > PortsMax {
		return ecode.New(ecode.ParameterInvalid, "invalid port id %d", portID)
	}

	// seq starts with the START bit set; once the remaining bytes fit
	// in one fragment the STOP bit is added too (START|STOP == SINGLE
	// for a message that never needed more than one fragment), then
	// resets to MIDDLE (0) for every fragment after the first.
	seq := SeqStart
	for len(msg) > 0 {
		var chunk []byte
		if len(msg) > PayloadMax {
			chunk, msg = msg[:PayloadMax], msg[PayloadMax:]
		} else {
			seq |= SeqStop
			chunk, msg = msg, nil
		}

		metadata := (uint16(portData) << 8) | uint16(portID) | (uint16(seq) << 6)
		if _, err := t.send.Send(portID, metadata, chunk); err != nil {
			return fmt.Errorf("transport: send fragment: %w", err)
		}
		seq = SeqMiddle
	}
	return nil
}

// RegisterPort attaches impl to portID. The newly registered port
// immediately observes the Transport's last known connection event,
// so it never has to guess the current state.
func (t *Transport) RegisterPort(portID uint8, impl Port) error {
	if portID > PortsMax {
		return ecode.New(ecode.ParameterInvalid, "invalid port id %d", portID)
	}
	p := t.ports[portID]
	p.impl = impl
	p.reset()
	p.onEvent(t.lastEvent)
	return nil
}
