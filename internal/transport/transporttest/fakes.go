// Package transporttest provides in-memory transports for tests and the
// simulator bench.
package transporttest

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/KevinKickass/OpenLabCore/internal/faults"
)

// GPIB answers commands through Handler. Replies are queued and returned by
// Read in order.
type GPIB struct {
	mu sync.Mutex

	// Handler returns the reply for cmd, if any.
	Handler      func(cmd string) (string, bool)
	Disconnected bool
	Sent         []string
	Closed       bool

	replies []string
}

func (g *GPIB) Send(cmd string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.Disconnected {
		return faults.Transport("gpib writing error: %s", cmd)
	}
	g.Sent = append(g.Sent, cmd)
	if g.Handler != nil {
		if reply, ok := g.Handler(cmd); ok {
			g.replies = append(g.replies, reply)
		}
	}
	return nil
}

func (g *GPIB) Read() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.replies) == 0 {
		return "", faults.Timeout("no reply queued")
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r, nil
}

func (g *GPIB) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.Disconnected
}

func (g *GPIB) Close() error {
	g.mu.Lock()
	g.Closed = true
	g.mu.Unlock()
	return nil
}

// Commands returns a copy of everything sent so far.
func (g *GPIB) Commands() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.Sent...)
}

// Serial is a loopback serial line. OnWrite may feed a response into the
// input buffer.
type Serial struct {
	mu sync.Mutex

	OnWrite func(s *Serial, written []byte)
	Written bytes.Buffer
	Closed  bool

	in []byte
}

// Feed appends bytes to the input buffer.
func (s *Serial) Feed(data []byte) {
	s.mu.Lock()
	s.in = append(s.in, data...)
	s.mu.Unlock()
}

func (s *Serial) Available() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.in), nil
}

func (s *Serial) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.in) == 0 {
		return 0, errors.New("no data")
	}
	c := s.in[0]
	s.in = s.in[1:]
	return c, nil
}

func (s *Serial) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.Written.Write(p)
	hook := s.OnWrite
	s.mu.Unlock()

	if hook != nil {
		hook(s, p)
	}
	return len(p), nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
	return nil
}

// RegWrite records one register write.
type RegWrite struct {
	Reg   uint8
	Value uint8
	At    time.Time
}

// I2C is a register file answering at Addr. Register 0 holds the address
// unless overwritten.
type I2C struct {
	mu sync.Mutex

	Addr         uint16
	Regs         map[uint8]uint8
	Writes       []RegWrite
	Disconnected bool
	// OnWrite runs after a write while the register file is locked.
	OnWrite func(regs map[uint8]uint8, reg, value uint8)
}

func NewI2C(addr uint16) *I2C {
	return &I2C{Addr: addr, Regs: map[uint8]uint8{0: uint8(addr)}}
}

func (d *I2C) Address() uint16 { return d.Addr }

func (d *I2C) ReadRegister(reg uint8) (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Disconnected {
		return 0, faults.Transport("i2c 0x%02X not connected", d.Addr)
	}
	return d.Regs[reg], nil
}

func (d *I2C) WriteRegister(reg, value uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Disconnected {
		return faults.Transport("i2c 0x%02X not connected", d.Addr)
	}
	d.Regs[reg] = value
	d.Writes = append(d.Writes, RegWrite{Reg: reg, Value: value, At: time.Now()})
	if d.OnWrite != nil {
		d.OnWrite(d.Regs, reg, value)
	}
	return nil
}

func (d *I2C) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.Disconnected && uint16(d.Regs[0]) == d.Addr
}

func (d *I2C) Close() error { return nil }

// Reg returns the current value of reg.
func (d *I2C) Reg(reg uint8) uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Regs[reg]
}

// SetReg sets reg without recording a write.
func (d *I2C) SetReg(reg, value uint8) {
	d.mu.Lock()
	d.Regs[reg] = value
	d.mu.Unlock()
}

// WritesTo returns the writes to reg in order.
func (d *I2C) WritesTo(reg uint8) []RegWrite {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []RegWrite
	for _, w := range d.Writes {
		if w.Reg == reg {
			out = append(out, w)
		}
	}
	return out
}

// PinEvent records one GPIO level change.
type PinEvent struct {
	Name string
	High bool
}

// Pins records GPIO output changes.
type Pins struct {
	mu     sync.Mutex
	Events []PinEvent
	Level  map[string]bool
}

func (p *Pins) Set(name string, high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Level == nil {
		p.Level = map[string]bool{}
	}
	p.Events = append(p.Events, PinEvent{Name: name, High: high})
	p.Level[name] = high
	return nil
}

// HighDuring returns the names set high at least once.
func (p *Pins) HighDuring() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := map[string]bool{}
	for _, e := range p.Events {
		if e.High {
			out[e.Name] = true
		}
	}
	return out
}
