package transport

import (
	"bytes"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"embedlink/datalink"
	"embedlink/ecode"
)

// fakeLink is a minimal Sender that hands each fragment's metadata and
// payload to onFrame, so segmentation tests don't need a real Data Link.
type fakeLink struct {
	mu      sync.Mutex
	fail    bool
	onFrame func(metadata uint16, payload []byte)
}

func (f *fakeLink) Send(portID uint8, metadata uint16, payload []byte) (uint16, error) {
	if f.fail {
		return 0, ecode.New(ecode.Full, "window full")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onFrame != nil {
		f.onFrame(metadata, payload)
	}
	return 0, nil
}

type recordingPort struct {
	events []datalink.Event
	recvs  [][]byte
	data   []uint16
}

func (p *recordingPort) OnEvent(e datalink.Event)            { p.events = append(p.events, e) }
func (p *recordingPort) OnRecv(portData uint16, msg []byte) { p.recvs = append(p.recvs, append([]byte(nil), msg...)); p.data = append(p.data, portData) }

func TestSegmentationRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 255, 256, 257, 1025, 8192}
	for _, size := range sizes {
		msg := bytes.Repeat([]byte{0x5A}, size)

		var fragments int
		var rxPort recordingPort
		rxTransport := New(&fakeLink{})
		rxTransport.RegisterPort(3, &rxPort)

		link := &fakeLink{onFrame: func(metadata uint16, payload []byte) {
			fragments++
			rxTransport.OnRecv(3, metadata, payload)
		}}
		txTransport := New(link)

		if err := txTransport.Send(3, 7, msg); err != nil {
			t.Fatalf("size %d: send: %v", size, err)
		}

		if size == 0 {
			if fragments != 0 {
				t.Fatalf("size 0: expected 0 fragments, got %d", fragments)
			}
			continue
		}

		wantFragments := (size + PayloadMax - 1) / PayloadMax
		if fragments != wantFragments {
			t.Fatalf("size %d: got %d fragments, want %d", size, fragments, wantFragments)
		}
		if len(rxPort.recvs) != 1 {
			t.Fatalf("size %d: expected exactly one reassembled message, got %d", size, len(rxPort.recvs))
		}
		if !bytes.Equal(rxPort.recvs[0], msg) {
			t.Fatalf("size %d: reassembled message mismatch (got %d bytes, want %d)", size, len(rxPort.recvs[0]), len(msg))
		}
		if rxPort.data[0] != 7 {
			t.Fatalf("size %d: port_data mismatch: got %d, want 7", size, rxPort.data[0])
		}
	}
}

func TestSegmentation1025BytesExactFragmentCount(t *testing.T) {
	msg := bytes.Repeat([]byte{1}, 1025)
	var seqs []Seq
	link := &fakeLink{onFrame: func(metadata uint16, _ []byte) {
		seqs = append(seqs, Seq((metadata>>6)&0x03))
	}}
	txTransport := New(link)
	if err := txTransport.Send(1, 0, msg); err != nil {
		t.Fatal(err)
	}
	if len(seqs) != 5 {
		t.Fatalf("expected 5 fragments, got %d", len(seqs))
	}
	want := []Seq{SeqStart, SeqMiddle, SeqMiddle, SeqMiddle, SeqStop}
	for i, s := range want {
		if seqs[i] != s {
			t.Fatalf("fragment %d seq = %v, want %v", i, seqs[i], s)
		}
	}
}

func TestRegisterPortSynthesizesCurrentEvent(t *testing.T) {
	tr := New(&fakeLink{})
	tr.OnEvent(datalink.EventTxConnected)

	var p recordingPort
	tr.RegisterPort(5, &p)
	if len(p.events) != 1 || p.events[0] != datalink.EventTxConnected {
		t.Fatalf("expected newly registered port to observe TX_CONNECTED, got %v", p.events)
	}

	var p2 recordingPort
	tr.OnEvent(datalink.EventTxDisconnected)
	tr.RegisterPort(6, &p2)
	if len(p2.events) != 1 || p2.events[0] != datalink.EventTxDisconnected {
		t.Fatalf("expected newly registered port to observe TX_DISCONNECTED, got %v", p2.events)
	}
}

func TestReassemblyResetsOnOrphanStart(t *testing.T) {
	hook := logrustest.NewGlobal()
	defer hook.Reset()

	var p recordingPort
	tr := New(&fakeLink{})
	tr.RegisterPort(0, &p)

	metaStart := uint16(SeqStart) << 6
	metaStop := uint16(SeqStop) << 6
	tr.OnRecv(0, metaStart, []byte("first-half"))
	// A second START arrives before the first message's STOP: the
	// original reassembly must be discarded, not concatenated.
	tr.OnRecv(0, metaStart, []byte("second-"))
	tr.OnRecv(0, metaStop, []byte("attempt"))

	if len(p.recvs) != 1 {
		t.Fatalf("expected exactly one delivered message, got %d", len(p.recvs))
	}
	if string(p.recvs[0]) != "second-attempt" {
		t.Fatalf("got %q, want %q", p.recvs[0], "second-attempt")
	}

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "seq error: msg not empty but start" {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected a logged warning for the orphaned reassembly")
	}
}

func TestInvalidPortIDRejected(t *testing.T) {
	tr := New(&fakeLink{})
	if err := tr.Send(32, 0, []byte("x")); err == nil {
		t.Fatal("expected error for port id 32")
	}
	if err := tr.RegisterPort(200, &recordingPort{}); err == nil {
		t.Fatal("expected error for port id 200")
	}
}
