// Package datalink implements the reliable, in-order, deduplicated
// frame delivery layer: sliding-window ARQ with per-frame
// acknowledgement and retransmission, on top of a framer.Decoder /
// framer.Encode pair. Grounded on the ACK/sequence handling in
// amken3d-gopper's protocol/transport.go and the sliding-window
// bookkeeping in nickolajgrishuk-overproto-go's transport/reliable.go.
package datalink

import (
	"sort"
	"time"

	"embedlink/ecode"
	"embedlink/framer"
)

const (
	// TxWindowDefault is the default send-window capacity.
	TxWindowDefault = 64
	// MaxRetransmitDefault is the default retry budget per frame.
	MaxRetransmitDefault = 16
	// RetransmitTimeoutDefault must exceed the expected round-trip time.
	RetransmitTimeoutDefault = 100 * time.Millisecond
)

// SendDoneFunc is invoked once per frame that is ACK'd (ecode.Success)
// or that exhausts its retry budget (ecode.TimedOut). Frames discarded
// when the send window is reset (after a timeout, or by Reset) get no
// callback.
type SendDoneFunc func(frameID uint16, portID uint8, metadata uint16, status ecode.Code)

// DeliverFunc is invoked once per DATA frame delivered to the
// Transport, strictly in ascending frame-id order.
type DeliverFunc func(portID uint8, metadata uint16, payload []byte)

// EventFunc is invoked on every connection-state transition.
type EventFunc func(Event)

// Config tunes a Link's window sizes and timing. Zero values are
// replaced by their documented defaults in New.
type Config struct {
	TxWindow          int
	MaxRetransmit     int
	RetransmitTimeout time.Duration
	// Now returns the current time; overridable for deterministic
	// tests. Defaults to time.Now.
	Now func() time.Time
}

// Link is one end of the Data Link layer. It owns a framer.Decoder
// (and therefore the Framer's shared rx/tx counters for this end),
// the send and receive windows, and the connection state machine.
type Link struct {
	cfg Config

	decoder *framer.Decoder

	output func([]byte)

	onDeliver  DeliverFunc
	onSendDone SendDoneFunc
	onEvent    EventFunc

	tx         *sendWindow
	nextTxID   uint16
	rx         *recvWindow
	rxExpected uint16

	connected bool
}

// New builds a Link that writes encoded frames via output and invokes
// the given callbacks as frames arrive or connection state changes.
// Any of the callbacks may be nil.
func New(cfg Config, output func([]byte), onDeliver DeliverFunc, onSendDone SendDoneFunc, onEvent EventFunc) *Link {
	if cfg.TxWindow <= 0 {
		cfg.TxWindow = TxWindowDefault
	}
	if cfg.MaxRetransmit <= 0 {
		cfg.MaxRetransmit = MaxRetransmitDefault
	}
	if cfg.RetransmitTimeout <= 0 {
		cfg.RetransmitTimeout = RetransmitTimeoutDefault
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Link{
		cfg:        cfg,
		decoder:    framer.NewDecoder(),
		output:     output,
		onDeliver:  onDeliver,
		onSendDone: onSendDone,
		onEvent:    onEvent,
		tx:         newSendWindow(cfg.TxWindow),
		rx:         newRecvWindow(cfg.TxWindow),
	}
}

// Counters returns a snapshot of this end's Framer counters.
func (l *Link) Counters() framer.Snapshot {
	return l.decoder.Counters.Snapshot()
}

// Send assigns the next frame id, inserts the frame into the send
// window, and writes it out. It returns ecode.Full synchronously if
// the window is already at capacity — this is how a caller is expected to
// apply back-pressure before queuing more data than the peer can ack.
func (l *Link) Send(portID uint8, metadata uint16, payload []byte) (uint16, error) {
	if l.tx.Full() {
		return 0, ecode.New(ecode.Full, "send window full (%d frames outstanding)", l.tx.Len())
	}
	id := l.nextTxID
	l.nextTxID = framer.FrameIDNext(l.nextTxID)

	entry := &sendEntry{portID: portID, metadata: metadata, payload: payload, sentAt: l.cfg.Now()}
	l.tx.Insert(id, entry)
	l.writeFrame(frameOf(id, entry))
	return id, nil
}

func (l *Link) writeFrame(f framer.Frame) {
	l.decoder.Counters.IncTx()
	if l.output != nil {
		l.output(framer.Encode(f))
	}
}

// Receive feeds newly arrived bytes through the Framer and processes
// every decoded frame.
func (l *Link) Receive(data []byte) {
	for _, f := range l.decoder.Feed(data) {
		switch f.Type {
		case framer.TypeData:
			l.handleData(f)
		case framer.TypeAck:
			l.handleAck(f.FrameID)
		case framer.TypeNack:
			l.handleNack(f.FrameID)
		case framer.TypeReset:
			l.handleReset()
		}
	}
}

func (l *Link) handleData(f framer.Frame) {
	delta := framer.FrameIDDelta(f.FrameID, l.rxExpected)
	switch {
	case delta == 0:
		l.deliverAndAdvance(f.PortID, f.Metadata, f.Payload)
		l.ackFrame(f.FrameID)
	case delta > 0 && delta <= l.cfg.TxWindow:
		l.rx.Buffer(f.FrameID, bufferedFrame{portID: f.PortID, metadata: f.Metadata, payload: f.Payload})
		l.ackFrame(f.FrameID)
	case delta > l.cfg.TxWindow:
		l.decoder.Counters.IncRxFrameIDError()
		l.nackFrame(f.FrameID)
	default: // delta < 0: behind the expected head, a duplicate
		l.decoder.Counters.IncRxDeduplicate()
		l.ackFrame(f.FrameID)
	}
}

func (l *Link) deliverAndAdvance(portID uint8, metadata uint16, payload []byte) {
	if l.onDeliver != nil {
		l.onDeliver(portID, metadata, payload)
	}
	l.rxExpected = framer.FrameIDNext(l.rxExpected)
	for {
		buffered, ok := l.rx.Take(l.rxExpected)
		if !ok {
			break
		}
		if l.onDeliver != nil {
			l.onDeliver(buffered.portID, buffered.metadata, buffered.payload)
		}
		l.rxExpected = framer.FrameIDNext(l.rxExpected)
	}
}

func (l *Link) ackFrame(id uint16) {
	l.writeControl(framer.TypeAck, id)
}

func (l *Link) nackFrame(id uint16) {
	l.writeControl(framer.TypeNack, id)
}

func (l *Link) writeControl(t framer.Type, id uint16) {
	if l.output != nil {
		l.output(framer.EncodeControl(t, id, 0, 0))
	}
}

func (l *Link) handleAck(id uint16) {
	entry, ok := l.tx.Get(id)
	if !ok {
		return
	}
	l.tx.Remove(id)
	if l.onSendDone != nil {
		l.onSendDone(id, entry.portID, entry.metadata, ecode.Success)
	}
	l.setConnected(true)
}

func (l *Link) handleNack(id uint16) {
	// A NACK means the peer's receive window rejected this id; the
	// frame is still outstanding and will be retried by Tick.
	_ = id
}

func (l *Link) handleReset() {
	l.rxExpected = 0
	l.rx.Reset()
	l.emit(EventRxResetRequest)
}

// Tick scans the send window for frames whose retransmit timeout has
// elapsed. It must be called periodically by the embedder (there are
// no internal timers or goroutines in the core itself).
func (l *Link) Tick(now time.Time) {
	ids := l.tx.IDs()
	sort.Slice(ids, func(i, j int) bool { return framer.FrameIDDelta(ids[i], ids[j]) < 0 })

	for _, id := range ids {
		entry, ok := l.tx.Get(id)
		if !ok {
			continue
		}
		if now.Sub(entry.sentAt) < l.cfg.RetransmitTimeout {
			continue
		}
		if entry.retransmit < l.cfg.MaxRetransmit {
			entry.retransmit++
			entry.sentAt = now
			l.decoder.Counters.IncTxRetransmit()
			l.writeFrame(frameOf(id, entry))
			continue
		}
		l.tx.Remove(id)
		if l.onSendDone != nil {
			l.onSendDone(id, entry.portID, entry.metadata, ecode.TimedOut)
		}
		l.tx.Reset()
		l.connected = false
		l.emit(EventTxDisconnected)
	}
}

func (l *Link) setConnected(connected bool) {
	if connected == l.connected {
		return
	}
	l.connected = connected
	if connected {
		l.emit(EventTxConnected)
	} else {
		l.emit(EventTxDisconnected)
	}
}

func (l *Link) emit(e Event) {
	if l.onEvent != nil {
		l.onEvent(e)
	}
}

// Reset clears all link state, as if a RESET frame had been received
// and the connection had just been (re)established from scratch.
func (l *Link) Reset() {
	l.tx.Reset()
	l.rx.Reset()
	l.rxExpected = 0
	l.nextTxID = 0
}
