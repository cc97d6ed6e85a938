package transport

import (
	"fmt"

	"go.bug.st/serial"
)

// SerialStream adapts a USB-CDC serial port to Stream, for the USB-serial
// remote debug server boundary (spec.md §6). Grounded directly on the
// teacher's connection.SerialConnection: same go.bug.st/serial.Mode, same
// open-retry-once-on-failure behavior, inverted here to serve a host
// debugger rather than dial out to target hardware.
type SerialStream struct {
	port serial.Port
	p    *pump
}

// OpenSerialStream opens portName at baud and wraps it as a Stream.
func OpenSerialStream(portName string, baud int) (*SerialStream, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		// Retry once, matching the teacher's open-close-reopen pattern for
		// a port left in a stuck state by a previous session.
		if port != nil {
			port.Close()
		}
		port, err = serial.Open(portName, mode)
		if err != nil {
			return nil, fmt.Errorf("transport: open serial port %s: %w", portName, err)
		}
	}

	return &SerialStream{port: port, p: newPump(port)}, nil
}

func (s *SerialStream) Peek() (byte, bool) { return s.p.peek() }
func (s *SerialStream) Get() (byte, bool)  { return s.p.get() }
func (s *SerialStream) Put(b byte) error   { return s.p.put(b) }
func (s *SerialStream) IsConnected() bool  { return s.p.isConnected() }
func (s *SerialStream) Close() error       { s.p.close(); return nil }
