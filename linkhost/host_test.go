package linkhost

import (
	"net"
	"testing"
	"time"

	"embedlink/port0"
)

// pipePort adapts a net.Conn to serialio.Port for in-process tests
// that run two Hosts against each other without a real serial device.
type pipePort struct{ net.Conn }

func (p pipePort) Flush() error { return nil }

func newPairedHosts(t *testing.T) (a, b *Host) {
	t.Helper()
	ca, cb := net.Pipe()

	cfgA := DefaultConfig("")
	cfgB := DefaultConfig("")
	cfgA.TickInterval = 5 * time.Millisecond
	cfgB.TickInterval = 5 * time.Millisecond

	a, err := NewWithPort(cfgA, pipePort{ca})
	if err != nil {
		t.Fatal(err)
	}
	b, err = NewWithPort(cfgB, pipePort{cb})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			t.Fatal("condition never became true")
		case <-tick.C:
			if cond() {
				return
			}
		}
	}
}

func TestOpenRejectsNilConfig(t *testing.T) {
	if _, err := Open(nil); err == nil {
		t.Fatal("expected error opening with nil config")
	}
}

func TestHostsConnectOverPipe(t *testing.T) {
	a, b := newPairedHosts(t)
	waitFor(t, 2*time.Second, func() bool { return a.Connected() && b.Connected() })
}

// TestBridgedPublishReachesPeer wires a PubSubPort onto a fixed port
// on each end directly (the port0 metadata scan has no responder in
// this symmetric host-to-host test, since discovering a peer's ports
// by type is normally answered by firmware on the far end, not by
// another Host).
func TestBridgedPublishReachesPeer(t *testing.T) {
	a, b := newPairedHosts(t)
	waitFor(t, 2*time.Second, func() bool { return a.Connected() && b.Connected() })

	if err := a.RegisterPort(1, port0.NewPubSubPort(a.PubSub(), a.Transport(), 1)); err != nil {
		t.Fatal(err)
	}
	if err := b.RegisterPort(1, port0.NewPubSubPort(b.PubSub(), b.Transport(), 1)); err != nil {
		t.Fatal(err)
	}

	received := make(chan any, 1)
	b.PubSub().Subscribe("s/greeting", func(topic string, value any, retain bool) {
		received <- value
	}, true)

	if err := a.PubSub().Publish("s/greeting", "hello", true, nil); err != nil {
		t.Fatal(err)
	}

	select {
	case v := <-received:
		if v != "hello" {
			t.Fatalf("got %v, want hello", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bridged publish never arrived")
	}
}
