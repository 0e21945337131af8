package serialio

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyACM0")
	if cfg.Device != "/dev/ttyACM0" {
		t.Fatalf("got device %q", cfg.Device)
	}
	if cfg.Baud != 115200 {
		t.Fatalf("got baud %d, want 115200", cfg.Baud)
	}
	if cfg.ReadTimeout != 100 {
		t.Fatalf("got read timeout %d, want 100", cfg.ReadTimeout)
	}
}

func TestOpenRejectsNilConfig(t *testing.T) {
	if _, err := Open(nil); err == nil {
		t.Fatal("expected error opening with nil config")
	}
}
