//go:build !wasm

package serialio

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// nativePort wraps github.com/tarm/serial as a Port.
type nativePort struct {
	port *serial.Port
	cfg  *Config
}

// Open opens a native OS serial port with cfg.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("serialio: config cannot be nil")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("serialio: open %s: %w", cfg.Device, err)
	}

	return &nativePort{port: port, cfg: cfg}, nil
}

func (p *nativePort) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *nativePort) Write(b []byte) (int, error) { return p.port.Write(b) }

func (p *nativePort) Close() error {
	if p.port == nil {
		return nil
	}
	return p.port.Close()
}

// Flush is a no-op: tarm/serial does not expose a flush primitive
// beyond what Write already guarantees.
func (p *nativePort) Flush() error { return nil }
