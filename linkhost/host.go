// Package linkhost wires a serial transport, the Data Link, the
// message Transport, PubSub, and the port0 control server into a
// single runnable endpoint. Grounded on the MCU/transport wiring in
// amken3d-gopper/host/mcu/mcu.go and host/cmd/gopper-host/main.go
// (Connect/Close lifecycle, a background read loop feeding the
// protocol layer), adapted from Klipper's single-command-channel
// model to the reliable multiplexed link this repo implements.
package linkhost

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"embedlink/datalink"
	"embedlink/linkmetrics"
	"embedlink/port0"
	"embedlink/pubsub"
	"embedlink/serialio"
	"embedlink/transport"
)

// ProtocolVersion is reported verbatim in every OP_STATUS response.
const ProtocolVersion = 1

// Config tunes a Host's serial port and link timing. Zero Link fields
// fall back to datalink.Config's own defaults and a zero TickInterval to
// 20ms; Serial has no fallback, and Open fails when it is nil.
type Config struct {
	Serial       *serialio.Config
	Link         datalink.Config
	TickInterval time.Duration
	Registry     map[string]port0.PortFactory
}

// DefaultConfig returns a Config for a device at its default baud,
// ticking the Data Link retransmit timer at a sensible rate.
func DefaultConfig(device string) *Config {
	return &Config{
		Serial:       serialio.DefaultConfig(device),
		TickInterval: 20 * time.Millisecond,
		Registry:     map[string]port0.PortFactory{"pubsub": port0.PubSubPortFactory},
	}
}

// Host is one end of a link: an open serial port, a Data Link running
// its retransmit timer on a background goroutine, a Transport
// demultiplexing ports on top of it, a PubSub tree, and a port0
// control server wired to both.
type Host struct {
	// ID distinguishes this Host instance in logs when a process runs
	// more than one link concurrently.
	ID uuid.UUID

	log *logrus.Entry
	cfg *Config

	port serialio.Port
	link *datalink.Link
	tr   *transport.Transport
	ps   *pubsub.PubSub
	ctrl *port0.Server

	metrics *linkmetrics.Collector

	connected atomic.Bool

	// rxCh and cmdCh feed the run goroutine, which is the single
	// execution context every Data Link entry point (byte-in, tick,
	// send, register) is serialized onto — datalink.Link and the
	// sendWindow/recvWindow maps underneath it are not safe for
	// concurrent use.
	rxCh  chan []byte
	cmdCh chan func()

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// statusSource adapts a *datalink.Link to port0.StatusSource.
type statusSource struct{ link *datalink.Link }

func (s statusSource) Counters() (version uint32, rxCount, rxDataCount, rxAckCount, rxDeduplicateCount,
	rxSyncError, rxMICError, rxFrameIDError, txCount, txRetransmitCount uint32) {
	snap := s.link.Counters()
	return ProtocolVersion, snap.RxCount, snap.RxDataCount, snap.RxAckCount, snap.RxDeduplicateCount,
		snap.RxSynchronizationError, snap.RxMICError, snap.RxFrameIDError, snap.TxCount, snap.TxRetransmitCount
}

// Open opens cfg.Serial, brings up the full stack on top of it, and
// starts the background read and retransmit-tick loops. The returned
// Host owns the serial port; call Close to release it.
func Open(cfg *Config) (*Host, error) {
	if cfg == nil {
		return nil, fmt.Errorf("linkhost: config cannot be nil")
	}
	port, err := serialio.Open(cfg.Serial)
	if err != nil {
		return nil, fmt.Errorf("linkhost: open serial: %w", err)
	}
	return newHost(cfg, port)
}

// NewWithPort builds a Host on top of an already-open Port, bypassing
// serialio.Open. Tests use this to substitute an in-memory Port.
func NewWithPort(cfg *Config, port serialio.Port) (*Host, error) {
	if cfg == nil {
		return nil, fmt.Errorf("linkhost: config cannot be nil")
	}
	return newHost(cfg, port)
}

func newHost(cfg *Config, port serialio.Port) (*Host, error) {
	id := uuid.New()
	log := logrus.WithFields(logrus.Fields{"component": "linkhost", "host_id": id})

	h := &Host{
		ID:      id,
		log:     log,
		cfg:     cfg,
		port:    port,
		ps:      pubsub.New(),
		metrics: linkmetrics.New(),
		rxCh:    make(chan []byte),
		cmdCh:   make(chan func()),
		closed:  make(chan struct{}),
	}

	h.link = datalink.New(cfg.Link, h.writeFrame, h.onDeliver, nil, h.onEvent)
	h.tr = transport.New(h.link)
	h.ctrl = port0.NewServer(h.ps, h.tr, statusSource{h.link}, cfg.Registry, time.Now)
	h.metrics.Add(id.String(), h.link)

	h.wg.Add(2)
	go h.readLoop()
	go h.run()

	return h, nil
}

func (h *Host) writeFrame(b []byte) {
	if _, err := h.port.Write(b); err != nil {
		h.log.WithError(err).Warn("serial write failed")
	}
}

func (h *Host) onDeliver(portID uint8, metadata uint16, payload []byte) {
	h.tr.OnRecv(portID, metadata, payload)
}

func (h *Host) onEvent(e datalink.Event) {
	h.log.WithField("event", e).Debug("data link event")
	switch e {
	case datalink.EventTxConnected:
		h.connected.Store(true)
	case datalink.EventTxDisconnected:
		h.connected.Store(false)
	}
	// The port0 server is registered on port 0, so the Transport's
	// fan-out already delivers the event to it.
	h.tr.OnEvent(e)
}

// Connected reports whether the Data Link's last connection event was
// TX_CONNECTED: an ACK has arrived and no frame has since exhausted its
// retransmit budget.
func (h *Host) Connected() bool { return h.connected.Load() }

// readLoop only ever does blocking I/O against the serial port; every
// byte it reads is handed to run over rxCh rather than touched
// directly, so h.link is never called from this goroutine.
func (h *Host) readLoop() {
	defer h.wg.Done()
	buf := make([]byte, 4096)
	for {
		select {
		case <-h.closed:
			return
		default:
		}
		n, err := h.port.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			select {
			case h.rxCh <- data:
			case <-h.closed:
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				return
			}
			select {
			case <-h.closed:
				return
			default:
			}
			h.log.WithError(err).Warn("serial read failed")
			return
		}
	}
}

// run is the single execution context every Data Link entry point is
// serialized onto: inbound bytes, the retransmit timer tick, the
// handshake probe send, and any command queued through execute. Nothing
// outside this goroutine may call h.link or h.tr directly.
func (h *Host) run() {
	defer h.wg.Done()
	interval := h.cfg.TickInterval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.closed:
			return
		case data := <-h.rxCh:
			h.link.Receive(data)
		case now := <-ticker.C:
			h.link.Tick(now)
			if !h.connected.Load() {
				h.sendProbe()
			}
		case fn := <-h.cmdCh:
			fn()
		}
	}
}

// execute runs fn on the run goroutine and blocks until it completes,
// so callers outside run (e.g. RegisterPort) never touch h.link/h.tr
// concurrently with the read/tick/send path.
func (h *Host) execute(fn func()) {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case h.cmdCh <- wrapped:
	case <-h.closed:
		return
	}
	select {
	case <-done:
	case <-h.closed:
	}
}

// probePayload is a one-byte message sent on port 0 with port_data 0,
// i.e. op 0 (unassigned, so port0.Server.OnRecv silently ignores it on
// arrival).
var probePayload = []byte{0}

// sendProbe nudges a newly opened or recently disconnected Data Link
// toward TX_CONNECTED: with nothing else queued to send, something has
// to transmit and get ACK'd for the "successful handshake" connection
// event to ever fire.
func (h *Host) sendProbe() {
	if err := h.tr.Send(0, 0, probePayload); err != nil {
		h.log.WithError(err).Debug("handshake probe not sent")
	}
}

// PubSub returns the Host's topic tree, for publishing local values or
// subscribing to ones bridged from the remote end.
func (h *Host) PubSub() *pubsub.PubSub { return h.ps }

// Transport returns the Host's message Transport, for registering
// additional ports beyond the ones port0's metadata scan wires
// automatically.
func (h *Host) Transport() *transport.Transport { return h.tr }

// RegisterPort attaches impl to portID directly, bypassing the port0
// metadata scan. Used when the peer's port types are known ahead of
// time rather than discovered.
func (h *Host) RegisterPort(portID uint8, impl transport.Port) error {
	var err error
	h.execute(func() {
		err = h.tr.RegisterPort(portID, impl)
	})
	return err
}

// State reports the port0 control channel's connection lifecycle state.
func (h *Host) State() port0.State { return h.ctrl.State() }

// Metrics returns the Prometheus collector exporting this Host's Data
// Link counters, labeled with its ID. Register it with a
// prometheus.Registerer to expose it.
func (h *Host) Metrics() *linkmetrics.Collector { return h.metrics }

// Close stops the background loops and closes the underlying serial port.
func (h *Host) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.closed)
		err = h.port.Close()
		h.wg.Wait()
		h.metrics.Remove(h.ID.String())
	})
	return err
}
