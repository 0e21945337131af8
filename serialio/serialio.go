// Package serialio defines the byte-stream adapter a link runs over:
// a minimal read/write/close/flush interface plus a native
// implementation backed by github.com/tarm/serial. Grounded on
// amken3d-gopper's host/serial/serial.go and host/serial/serial_native.go,
// generalized from a fixed Klipper baud rate to an embedlink default.
package serialio

import "io"

// Port is the byte-stream collaborator a link's I/O loop reads from
// and writes to; everything above this interface is transport-agnostic.
type Port interface {
	io.ReadWriteCloser

	// Flush discards or completes any buffered data, depending on the
	// underlying transport's semantics.
	Flush() error
}

// Config configures a native serial port.
type Config struct {
	// Device is the OS device path (e.g. "/dev/ttyACM0", "COM3").
	Device string
	// Baud is the line rate in bits per second.
	Baud int
	// ReadTimeout bounds a single Read call; 0 blocks indefinitely.
	ReadTimeout int
}

// DefaultConfig returns a Config tuned for a typical USB-CDC link:
// 115200 baud, a 100ms read timeout so the I/O loop can service
// Data Link retransmit ticks even with no incoming bytes.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100,
	}
}
