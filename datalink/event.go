package datalink

// Event is a connection-state notification the Data Link delivers to
// the Transport (and, through it, every registered port).
type Event int

const (
	// EventUnknown is never emitted; it is the zero value used by
	// consumers (e.g. port0) as "no event observed yet".
	EventUnknown Event = iota
	// EventRxResetRequest means the remote asked for a resync; the
	// receiver should clear its reassembly state and receive bitmap.
	EventRxResetRequest
	// EventTxDisconnected means no ACK progress occurred within the
	// retransmit budget, or MAX_RETRANSMIT was exceeded for a frame.
	EventTxDisconnected
	// EventTxConnected means an ACK arrived after being disconnected,
	// or the send path has just become usable for the first time.
	EventTxConnected
)

func (e Event) String() string {
	switch e {
	case EventRxResetRequest:
		return "RX_RESET_REQUEST"
	case EventTxDisconnected:
		return "TX_DISCONNECTED"
	case EventTxConnected:
		return "TX_CONNECTED"
	default:
		return "UNKNOWN"
	}
}
