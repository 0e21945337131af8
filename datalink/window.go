package datalink

import (
	"time"

	"embedlink/framer"
)

// sendEntry is one outstanding DATA frame in the send window, grounded
// on the WindowSlot layout in nickolajgrishuk-overproto-go's
// transport/reliable.go (header/payload/state/sentAt/retryCount),
// simplified to drop that source's congestion-window bookkeeping.
type sendEntry struct {
	portID     uint8
	metadata   uint16
	payload    []byte
	retransmit int
	sentAt     time.Time
}

// sendWindow tracks outstanding DATA frames keyed by frame id. It is
// not safe for concurrent use; the Data Link serializes all access
// onto its single logical thread.
type sendWindow struct {
	capacity int
	entries  map[uint16]*sendEntry
}

func newSendWindow(capacity int) *sendWindow {
	return &sendWindow{capacity: capacity, entries: make(map[uint16]*sendEntry, capacity)}
}

func (w *sendWindow) Len() int { return len(w.entries) }

func (w *sendWindow) Full() bool { return len(w.entries) >= w.capacity }

func (w *sendWindow) Insert(id uint16, e *sendEntry) {
	w.entries[id] = e
}

func (w *sendWindow) Get(id uint16) (*sendEntry, bool) {
	e, ok := w.entries[id]
	return e, ok
}

func (w *sendWindow) Remove(id uint16) {
	delete(w.entries, id)
}

func (w *sendWindow) Reset() {
	w.entries = make(map[uint16]*sendEntry, w.capacity)
}

// IDs returns the outstanding frame ids in no particular order; callers
// that need determinism (the retransmit scan) sort them first.
func (w *sendWindow) IDs() []uint16 {
	ids := make([]uint16, 0, len(w.entries))
	for id := range w.entries {
		ids = append(ids, id)
	}
	return ids
}

// recvWindow holds the frames that arrived ahead of the current
// expected head and are buffered out of order. Duplicates are detected
// by the Link comparing a frame id against that head, not here. A
// map keyed by frame id plays that role with simple bounds-checking;
// it never holds more than `capacity` entries because entries are
// only added after the same window-membership check applied on insert.
type recvWindow struct {
	capacity  int
	buffered  map[uint16]bufferedFrame
}

type bufferedFrame struct {
	portID   uint8
	metadata uint16
	payload  []byte
}

func newRecvWindow(capacity int) *recvWindow {
	return &recvWindow{capacity: capacity, buffered: make(map[uint16]bufferedFrame, capacity)}
}

func (w *recvWindow) Buffer(id uint16, f bufferedFrame) {
	w.buffered[id] = f
}

func (w *recvWindow) Take(id uint16) (bufferedFrame, bool) {
	f, ok := w.buffered[id]
	if ok {
		delete(w.buffered, id)
	}
	return f, ok
}

func (w *recvWindow) Reset() {
	w.buffered = make(map[uint16]bufferedFrame, w.capacity)
}

// frameOf renders a sendEntry back into the on-wire Frame for
// (re)transmission.
func frameOf(id uint16, e *sendEntry) framer.Frame {
	return framer.Frame{
		Type:     framer.TypeData,
		FrameID:  id,
		PortID:   e.portID,
		Metadata: e.metadata,
		Payload:  e.payload,
	}
}
