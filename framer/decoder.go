package framer

import (
	"encoding/binary"
	"hash/crc32"
)

// state names the Framer decoder's position in the wire format, per
// a SEARCH_SOF -> HEADER -> PAYLOAD -> CRC -> DELIVER state machine.
// The implementation below collapses HEADER/PAYLOAD/CRC into a single
// "have we buffered a full candidate frame yet" check, since the wire
// format is length-prefixed and all three states are just "wait for
// more bytes"; the named states remain in the counters' meaning and
// in this comment as the contract any reimplementation must honor.
type state int

const (
	stateSearchSOF state = iota
	stateAccumulate
)

// Decoder consumes an arbitrary byte stream and emits complete,
// integrity-checked frames. It is a pure state machine: Feed never
// blocks and always makes progress, dropping exactly one byte and
// restarting the search on any framing or integrity error. This
// guarantees bounded pending state and forward progress even when
// fed pure garbage.
type Decoder struct {
	Counters Counters

	buf   []byte
	state state
}

// NewDecoder returns a ready-to-use Decoder.
func NewDecoder() *Decoder {
	return &Decoder{state: stateSearchSOF}
}

// Feed appends data to the decoder's pending buffer and returns every
// complete frame that can be extracted from it. Frames that fail
// integrity or framing checks are absorbed into Counters and do not
// appear in the returned slice.
func (d *Decoder) Feed(data []byte) []Frame {
	d.buf = append(d.buf, data...)

	var out []Frame
	for {
		f, ok := d.tryExtractOne()
		if !ok {
			break
		}
		out = append(out, f)
	}
	return out
}

// tryExtractOne attempts to pull a single frame off the front of the
// pending buffer. It returns ok=false when more bytes are needed or
// the buffer is empty; it never returns ok=false while the buffer
// still contains a detectable error, since that case resyncs in place
// and loops internally.
func (d *Decoder) tryExtractOne() (Frame, bool) {
	for {
		if len(d.buf) == 0 {
			return Frame{}, false
		}
		if d.buf[0] != SOF {
			d.Counters.incRxSyncError()
			d.resync("bad SOF")
			if len(d.buf) == 0 {
				return Frame{}, false
			}
			continue
		}
		if len(d.buf) < HeaderSize {
			return Frame{}, false // need more bytes for the header
		}

		length := int(binary.LittleEndian.Uint16(d.buf[4:6]))
		if length > PayloadMax {
			d.incSyncErr()
			d.resync("implausible length")
			continue
		}

		total := HeaderSize + length + TrailerSize
		if len(d.buf) < total {
			return Frame{}, false // need more bytes for payload+CRC
		}

		wantCRC := binary.LittleEndian.Uint32(d.buf[total-TrailerSize : total])
		gotCRC := crc32.ChecksumIEEE(d.buf[1 : total-TrailerSize])
		if wantCRC != gotCRC {
			d.Counters.incRxMICError()
			d.resync("CRC mismatch")
			continue
		}

		f := Frame{
			Type:     Type(d.buf[1]),
			FrameID:  binary.LittleEndian.Uint16(d.buf[2:4]) & FrameIDMask,
			PortID:   d.buf[6],
			Metadata: binary.LittleEndian.Uint16(d.buf[7:9]),
		}
		if length > 0 {
			f.Payload = append([]byte(nil), d.buf[HeaderSize:HeaderSize+length]...)
		}
		d.buf = d.buf[total:]

		d.Counters.incRx()
		switch f.Type {
		case TypeData:
			d.Counters.incRxData()
		case TypeAck, TypeNack:
			d.Counters.incRxAck()
		}
		return f, true
	}
}

// resync drops exactly one byte and returns to SEARCH_SOF, guaranteeing
// progress on any malformed input.
func (d *Decoder) resync(reason string) {
	_ = reason // kept as a parameter for call-site readability; no logging on the hot path
	if len(d.buf) > 0 {
		d.buf = d.buf[1:]
	}
	d.state = stateSearchSOF
}

func (d *Decoder) incSyncErr() {
	d.Counters.incRxSyncError()
}
