package framer

import "sync/atomic"

// Counters holds the Framer's diagnostic counters. One Counters lives
// inside each Framer instance (there is one Framer per link end),
// avoiding any global mutable state, and all fields are updated with
// atomic ops so a concurrently-read status snapshot never sees a torn
// value.
type Counters struct {
	rxCount                uint32
	rxDataCount            uint32
	rxAckCount             uint32
	rxDeduplicateCount     uint32
	rxSynchronizationError uint32
	rxMICError             uint32
	rxFrameIDError         uint32
	txCount                uint32
	txRetransmitCount      uint32
}

// Snapshot is a point-in-time, non-atomic copy of Counters suitable
// for logging, testing, or serializing into a status response.
type Snapshot struct {
	RxCount                uint32
	RxDataCount            uint32
	RxAckCount             uint32
	RxDeduplicateCount     uint32
	RxSynchronizationError uint32
	RxMICError             uint32
	RxFrameIDError         uint32
	TxCount                uint32
	TxRetransmitCount      uint32
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		RxCount:                atomic.LoadUint32(&c.rxCount),
		RxDataCount:            atomic.LoadUint32(&c.rxDataCount),
		RxAckCount:             atomic.LoadUint32(&c.rxAckCount),
		RxDeduplicateCount:     atomic.LoadUint32(&c.rxDeduplicateCount),
		RxSynchronizationError: atomic.LoadUint32(&c.rxSynchronizationError),
		RxMICError:             atomic.LoadUint32(&c.rxMICError),
		RxFrameIDError:         atomic.LoadUint32(&c.rxFrameIDError),
		TxCount:                atomic.LoadUint32(&c.txCount),
		TxRetransmitCount:      atomic.LoadUint32(&c.txRetransmitCount),
	}
}

func (c *Counters) incRx()                { atomic.AddUint32(&c.rxCount, 1) }
func (c *Counters) incRxData()            { atomic.AddUint32(&c.rxDataCount, 1) }
func (c *Counters) incRxAck()             { atomic.AddUint32(&c.rxAckCount, 1) }
func (c *Counters) IncRxDeduplicate()     { atomic.AddUint32(&c.rxDeduplicateCount, 1) }
func (c *Counters) incRxSyncError()       { atomic.AddUint32(&c.rxSynchronizationError, 1) }
func (c *Counters) incRxMICError()        { atomic.AddUint32(&c.rxMICError, 1) }
func (c *Counters) IncRxFrameIDError()    { atomic.AddUint32(&c.rxFrameIDError, 1) }
func (c *Counters) IncTx()                { atomic.AddUint32(&c.txCount, 1) }
func (c *Counters) IncTxRetransmit()      { atomic.AddUint32(&c.txRetransmitCount, 1) }
