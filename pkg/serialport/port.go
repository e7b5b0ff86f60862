// Package serialport binds the NexStar driver to a real serial port.
package serialport

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// ErrTimeout is returned by ReadByte when nothing arrives within the read
// timeout.
var ErrTimeout = errors.New("serial read timeout")

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate. Hand controllers use 9600.
	Baud int

	// Read timeout (0 = block forever)
	ReadTimeout time.Duration
}

// DefaultConfig returns the hand controller's 9600 8N1 settings. The slowest
// commands take up to 3.5 seconds to answer.
func DefaultConfig(device string) Config {
	return Config{
		Device:      device,
		Baud:        9600,
		ReadTimeout: 3500 * time.Millisecond,
	}
}

// conn is the subset of serial.Port used by Port.
type conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Drain() error
	Close() error
}

// Port is a serial link usable as both halves of a NexStar transport.
type Port struct {
	conn conn
	cfg  Config
	buf  [1]byte
}

// Open opens the serial port described by cfg.
func Open(cfg Config) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	timeout := serial.NoTimeout
	if cfg.ReadTimeout > 0 {
		timeout = cfg.ReadTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", cfg.Device, err)
	}

	return &Port{conn: port, cfg: cfg}, nil
}

// List returns the names of the serial ports present on the system.
func List() ([]string, error) {
	return serial.GetPortsList()
}

// ReadByte reads a single byte. A read that returns nothing before the
// timeout expires yields ErrTimeout.
func (p *Port) ReadByte() (byte, error) {
	n, err := p.conn.Read(p.buf[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	return p.buf[0], nil
}

// Write writes b to the port.
func (p *Port) Write(b []byte) (int, error) {
	return p.conn.Write(b)
}

// Flush blocks until all written data has been transmitted.
func (p *Port) Flush() error {
	return p.conn.Drain()
}

// Close closes the serial port
func (p *Port) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Port) String() string {
	return fmt.Sprintf("%s@%d", p.cfg.Device, p.cfg.Baud)
}
