package port0

import (
	"embedlink/datalink"
	"embedlink/payload"
	"embedlink/pubsub"
	"embedlink/transport"

	"github.com/sirupsen/logrus"
)

const retainBit = 1 << 4 // shifted into port_data's high byte, see encodeMetadata

// PubSubPort carries PubSub publishes over a single Transport port:
// an incoming message decodes to a (topic, value, retain) triple and
// is republished locally (excluding itself, to avoid echoing back
// what it just received); a local publish on the bridged topics is
// re-encoded and sent across the link. Grounded on
// pyembc/stream/pubsub_port.py from original_source/, updated to the
// payload package's NULL/U32/STR/JSON/BIN dtype table from
// pyembc/stream/transport.py.
type PubSubPort struct {
	ps     *pubsub.PubSub
	tr     Sender
	portID uint8
	log    *logrus.Entry
}

// NewPubSubPort builds a PubSubPort that sends on portID and bridges
// the reserved "s" and "c" subtrees (server-to-client and
// client-to-server) across the link. It does not register itself with
// the Transport; the caller passes it to RegisterPort.
func NewPubSubPort(ps *pubsub.PubSub, tr Sender, portID uint8) *PubSubPort {
	p := &PubSubPort{ps: ps, tr: tr, portID: portID, log: logrus.WithField("port", portID)}
	ps.Subscribe("s", p.send, true)
	ps.Subscribe("c", p.send, true)
	return p
}

// PubSubPortFactory is registered under the "pubsub" meta type.
func PubSubPortFactory(ps *pubsub.PubSub, tr Sender, portID uint8) transport.Port {
	return NewPubSubPort(ps, tr, portID)
}

func (p *PubSubPort) OnEvent(datalink.Event) {}

func (p *PubSubPort) send(topic string, value any, retain bool) {
	topicBytes := append([]byte(topic), 0)
	if len(topicBytes) > 32 {
		p.log.WithField("topic", topic).Warn("topic too long to bridge")
		return
	}
	dtype, enc, err := payload.Encode(value)
	if err != nil {
		p.log.WithError(err).WithField("topic", topic).Warn("unsupported value for bridged topic")
		return
	}
	size := 1 + len(topicBytes) + 1 + len(enc)
	if size > 256 {
		p.log.WithField("topic", topic).Warn("bridged message too long")
		return
	}
	msg := make([]byte, size)
	msg[0] = byte(len(topicBytes) - 1)
	copy(msg[1:], topicBytes)
	msg[1+len(topicBytes)] = byte(len(enc))
	copy(msg[2+len(topicBytes):], enc)

	portData := encodeMetadata(dtype, retain)
	if err := p.tr.Send(p.portID, portData, msg); err != nil {
		p.log.WithError(err).Warn("bridged send failed")
	}
}

func (p *PubSubPort) OnRecv(portData uint16, msg []byte) {
	if len(msg) < 2 {
		p.log.Warn("message too short")
		return
	}
	topicLen := int(msg[0]&0x1f) + 1
	if len(msg) < topicLen+2 {
		p.log.Warn("invalid topic length")
		return
	}
	dtype, retain := decodeMetadata(portData)
	topic := string(msg[1 : 1+topicLen])
	if n := len(topic); n > 0 && topic[n-1] == 0 {
		topic = topic[:n-1]
	}
	payloadLen := int(msg[1+topicLen])
	payloadBytes := msg[2+topicLen:]
	if len(payloadBytes) != payloadLen {
		p.log.Warn("invalid payload length")
		return
	}
	value, ok := payload.Decode(dtype, payloadBytes)
	if !ok {
		p.log.WithField("dtype", dtype).Warn("invalid payload")
		return
	}
	p.ps.Publish(topic, value, retain, p.send)
}

func encodeMetadata(dtype payload.DType, retain bool) uint16 {
	v := uint16(dtype&0x0f) << 8
	if retain {
		v |= retainBit << 8
	}
	return v
}

func decodeMetadata(portData uint16) (payload.DType, bool) {
	hi := portData >> 8
	return payload.DType(hi & 0x0f), hi&retainBit != 0
}
