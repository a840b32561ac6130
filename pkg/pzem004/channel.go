package pzem004

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Channel is a byte oriented duplex transport with bounded reads.
type Channel interface {
	Write(b []byte) error
	ReadExact(n int, timeout time.Duration) ([]byte, error)
	Close() error
}

type SerialConfig struct {
	Device   string
	BaudRate int
	Timeout  time.Duration
}

// port is the subset of serial.Port the channel relies on.
type port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

type SerialChannel struct {
	port    port
	device  string
	timeout time.Duration
}

// OpenSerialChannel opens the device as 8N1 at the configured baud rate.
func OpenSerialChannel(cfg SerialConfig) (*SerialChannel, error) {
	baudRate := cfg.BaudRate
	if baudRate <= 0 {
		baudRate = 9600
	}
	p, err := serial.Open(cfg.Device, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, cfg.Device, err)
	}
	return newSerialChannel(p, cfg.Device, cfg.Timeout), nil
}

func newSerialChannel(p port, device string, timeout time.Duration) *SerialChannel {
	return &SerialChannel{
		port:    p,
		device:  device,
		timeout: timeout,
	}
}

func (c *SerialChannel) Device() string {
	return c.device
}

func (c *SerialChannel) Timeout() time.Duration {
	return c.timeout
}

// Write drops any stale input and sends b.
func (c *SerialChannel) Write(b []byte) error {
	if err := c.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("%w: reset input: %v", ErrIO, err)
	}
	n, err := c.port.Write(b)
	if err != nil {
		return fmt.Errorf("%w: write: %v", ErrIO, err)
	}
	if n != len(b) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrIO, n, len(b))
	}
	return nil
}

// ReadExact blocks until n bytes arrive or timeout elapses. On timeout
// whatever was received is discarded.
func (c *SerialChannel) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	deadline := time.Now().Add(timeout)
	buf := make([]byte, n)
	read := 0
	for read < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: got %d of %d bytes after %s", ErrTimeout, read, n, timeout)
		}
		if err := c.port.SetReadTimeout(remaining); err != nil {
			return nil, fmt.Errorf("%w: set read timeout: %v", ErrIO, err)
		}
		m, err := c.port.Read(buf[read:])
		if err != nil {
			return nil, fmt.Errorf("%w: read: %v", ErrIO, err)
		}
		if m == 0 {
			// serial.Port returns 0, nil when the read timeout expires
			return nil, fmt.Errorf("%w: got %d of %d bytes after %s", ErrTimeout, read, n, timeout)
		}
		read += m
	}
	return buf, nil
}

func (c *SerialChannel) Close() error {
	return c.port.Close()
}

// ensure interface compliance
var _ Channel = (*SerialChannel)(nil)
