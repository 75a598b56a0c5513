// Package serial opens the link to the RTC board
package serial

import (
	"io"
	"time"
)

// Port is the byte stream the host transport runs on. The native port
// implements it; tests use a net.Pipe end.
type Port interface {
	io.ReadWriteCloser

	// Flush discards anything still buffered
	Flush() error
}

// Config holds serial port settings
type Config struct {
	// Device path (e.g. "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate. USB CDC adapters ignore it.
	Baud int

	// ReadTimeout bounds a single Read; zero blocks
	ReadTimeout time.Duration
}

// DefaultBaud matches the bluepill UART setup
const DefaultBaud = 115200

// DefaultConfig returns settings for device at the default baud rate
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100 * time.Millisecond,
	}
}
