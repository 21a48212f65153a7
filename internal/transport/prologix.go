package transport

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenLabCore/internal/faults"
)

// Prologix drives GPIB instruments through a Prologix GPIB-USB controller.
// One controller serves all addresses on the bus.
type Prologix struct {
	line    SerialPort
	timeout time.Duration

	mu      sync.Mutex
	current int
}

func NewPrologix(line SerialPort, readTimeout time.Duration) (*Prologix, error) {
	p := &Prologix{line: line, timeout: readTimeout, current: -1}

	// Controller-Modus, kein automatisches Lesen nach Schreiben
	for _, cmd := range []string{"++mode 1", "++auto 0", "++eoi 1", "++eos 2"} {
		if err := p.write(cmd); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Device returns a session bound to addr. Closing the last device does not
// close the controller; use Close on the controller for that.
func (p *Prologix) Device(addr int) GPIB {
	return &prologixDevice{ctl: p, addr: addr}
}

func (p *Prologix) Close() error {
	return p.line.Close()
}

func (p *Prologix) write(s string) error {
	if _, err := p.line.Write([]byte(s + "\n")); err != nil {
		return faults.Transport("gpib write %q: %v", s, err)
	}
	return nil
}

func (p *Prologix) selectAddr(addr int) error {
	if p.current == addr {
		return nil
	}
	if err := p.write(fmt.Sprintf("++addr %d", addr)); err != nil {
		return err
	}
	p.current = addr
	return nil
}

func (p *Prologix) send(addr int, cmd string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.selectAddr(addr); err != nil {
		return err
	}
	return p.write(cmd)
}

func (p *Prologix) read(addr int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.selectAddr(addr); err != nil {
		return "", err
	}
	if err := p.write("++read eoi"); err != nil {
		return "", err
	}

	var sb strings.Builder
	deadline := time.Now().Add(p.timeout)
	for {
		n, err := p.line.Available()
		if err != nil {
			return "", faults.Transport("gpib read: %v", err)
		}
		if n == 0 {
			if time.Now().After(deadline) {
				return "", faults.Timeout("gpib %d: no response within %s", addr, p.timeout)
			}
			time.Sleep(time.Millisecond)
			continue
		}

		c, err := p.line.ReadByte()
		if err != nil {
			return "", faults.Transport("gpib read: %v", err)
		}
		if c == '\n' {
			return strings.TrimRight(sb.String(), "\r"), nil
		}
		sb.WriteByte(c)
	}
}

type prologixDevice struct {
	ctl  *Prologix
	addr int
}

func (d *prologixDevice) Send(cmd string) error {
	return d.ctl.send(d.addr, cmd)
}

func (d *prologixDevice) Read() (string, error) {
	return d.ctl.read(d.addr)
}

func (d *prologixDevice) IsConnected() bool {
	if err := d.Send("*IDN?"); err != nil {
		return false
	}
	_, err := d.Read()
	return err == nil
}

func (d *prologixDevice) Close() error { return nil }
