package transport

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

const probeTimeout = time.Millisecond

// SerialLine wraps a go.bug.st serial port with the polled byte interface
// the line decoders need.
type SerialLine struct {
	name string
	port serial.Port

	mu  sync.Mutex
	buf []byte
}

// OpenSerial opens name at baud, 8N1.
func OpenSerial(name string, baud int) (*SerialLine, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	if err := port.SetReadTimeout(probeTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	return &SerialLine{name: name, port: port}, nil
}

// Available returns the number of buffered bytes, pulling pending input from
// the port without blocking longer than the probe timeout.
func (s *SerialLine) Available() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) > 0 {
		return len(s.buf), nil
	}
	chunk := make([]byte, 256)
	n, err := s.port.Read(chunk)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", s.name, err)
	}
	s.buf = append(s.buf, chunk[:n]...)
	return len(s.buf), nil
}

func (s *SerialLine) ReadByte() (byte, error) {
	if _, err := s.Available(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		return 0, fmt.Errorf("read %s: no data", s.name)
	}
	c := s.buf[0]
	s.buf = s.buf[1:]
	return c, nil
}

func (s *SerialLine) Write(p []byte) (int, error) {
	n, err := s.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", s.name, err)
	}
	return n, nil
}

// Drain discards any buffered input.
func (s *SerialLine) Drain() error {
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
	return s.port.ResetInputBuffer()
}

func (s *SerialLine) Close() error {
	return s.port.Close()
}
