package transport

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// RegID is the register every slave answers with its own address.
const RegID uint8 = 0x00

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// I2CBus is an opened periph I2C bus shared by all slaves on it.
type I2CBus struct {
	bus i2c.BusCloser
}

// OpenI2C opens the bus by name ("" selects the first bus).
func OpenI2C(name string) (*I2CBus, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c %q: %w", name, err)
	}
	return &I2CBus{bus: bus}, nil
}

// Device returns the slave at addr. Closing it leaves the bus open.
func (b *I2CBus) Device(addr uint16) I2CDevice {
	return &i2cDevice{dev: &i2c.Dev{Bus: b.bus, Addr: addr}}
}

func (b *I2CBus) Close() error {
	return b.bus.Close()
}

type i2cDevice struct {
	dev *i2c.Dev
}

func (d *i2cDevice) Address() uint16 { return d.dev.Addr }

func (d *i2cDevice) ReadRegister(reg uint8) (uint8, error) {
	r := make([]byte, 1)
	if err := d.dev.Tx([]byte{reg}, r); err != nil {
		return 0, fmt.Errorf("i2c 0x%02X read reg 0x%02X: %w", d.dev.Addr, reg, err)
	}
	return r[0], nil
}

func (d *i2cDevice) WriteRegister(reg, value uint8) error {
	if _, err := d.dev.Write([]byte{reg, value}); err != nil {
		return fmt.Errorf("i2c 0x%02X write reg 0x%02X: %w", d.dev.Addr, reg, err)
	}
	return nil
}

func (d *i2cDevice) IsConnected() bool {
	v, err := d.ReadRegister(RegID)
	return err == nil && uint16(v) == d.dev.Addr
}

func (d *i2cDevice) Close() error { return nil }
