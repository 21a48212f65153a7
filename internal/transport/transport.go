package transport

import (
	"fmt"
	"io"
)

// BusKind identifies a physical bus. Exchanges on one bus kind are serialised.
type BusKind int

const (
	BusGPIB BusKind = iota
	BusSerial
	BusI2C
)

func (k BusKind) String() string {
	switch k {
	case BusGPIB:
		return "gpib"
	case BusSerial:
		return "serial"
	case BusI2C:
		return "i2c"
	default:
		return fmt.Sprintf("bus(%d)", int(k))
	}
}

// GPIB is a command/response session with one instrument address.
type GPIB interface {
	Send(cmd string) error
	Read() (string, error)
	// IsConnected probes the instrument with *IDN?.
	IsConnected() bool
	io.Closer
}

// SerialPort is a polled, byte oriented serial line.
type SerialPort interface {
	Available() (int, error)
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
	io.Closer
}

// I2CDevice is a register mapped slave on the I2C bus.
type I2CDevice interface {
	Address() uint16
	ReadRegister(reg uint8) (uint8, error)
	WriteRegister(reg, value uint8) error
	// IsConnected reports whether the slave returns its own address in its
	// id register.
	IsConnected() bool
	io.Closer
}

// Pins drives named GPIO output lines.
type Pins interface {
	Set(name string, high bool) error
}
