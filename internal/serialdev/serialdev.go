// Package serialdev opens and validates the serial device channel used by
// the burn engine. The engine itself never touches port setup; it receives
// an opened, exclusively-owned duplex channel.
package serialdev

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// ErrPortBusy reports a device node that exists but is held by another
// process.
var ErrPortBusy = errors.New("serial port is busy")

// readTimeout paces the framer's read loop; every Read returns within this
// bound so cancellation and flush deadlines are observed.
const readTimeout = 100 * time.Millisecond

// Port is the opened duplex byte channel handed to the engine. The read
// side belongs to the line framer and the write side to the keystroke
// pacer for the whole run.
type Port struct {
	serial.Port
	Device string
	Baud   int
}

// Open opens device at baud, 8N1, with the bounded read timeout the engine
// requires.
func Open(device string, baud int) (*Port, error) {
	p, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, classify(device, err)
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", device, err)
	}
	return &Port{Port: p, Device: device, Baud: baud}, nil
}

// List returns candidate serial device nodes on this host.
func List() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	return ports, nil
}

func classify(device string, err error) error {
	var portErr serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortBusy:
			return fmt.Errorf("%s: %w", device, ErrPortBusy)
		case serial.PortNotFound:
			return fmt.Errorf("serial port %s not found: %w", device, err)
		case serial.PermissionDenied:
			return fmt.Errorf("no permission to open %s (dialout group?): %w", device, err)
		}
	}
	return fmt.Errorf("open serial port %s: %w", device, err)
}

// IsDisconnect reports whether err indicates the device vanished mid-run,
// as opposed to a configuration problem.
func IsDisconnect(err error) bool {
	var portErr serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return true
		}
	}
	return false
}
