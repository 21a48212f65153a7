package relay

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/transport"
)

// Relay is the bit position of a relay in the 16 bit relay word.
type Relay uint8

const (
	BoostIn Relay = 0
	HVExt   Relay = 1
	Safety  Relay = 2
	AC      Relay = 3
	AC2     Relay = 8
	ImpEWOD Relay = 9
	WEpWEs  Relay = 10
	REpCE   Relay = 11
	ExtPico Relay = 12
)

var relayNames = map[Relay]string{
	BoostIn: "BOOST_IN",
	HVExt:   "HV_EXT",
	Safety:  "SAFETY",
	AC:      "AC",
	AC2:     "AC_2",
	ImpEWOD: "IMP_EWOD",
	WEpWEs:  "WE_P_WE_S",
	REpCE:   "RE_P_CE",
	ExtPico: "EXT_PICO",
}

func (r Relay) String() string {
	if n, ok := relayNames[r]; ok {
		return n
	}
	return fmt.Sprintf("relay(%d)", uint8(r))
}

// Bank mirrors the relay word of the ATmega and writes it back on demand.
type Bank struct {
	dev    device
	logger *zap.Logger

	mu    sync.Mutex
	state uint16
}

func NewBank(dev *transport.Handle[transport.I2CDevice], logger *zap.Logger) *Bank {
	return &Bank{dev: dev, logger: logger}
}

// Set changes the cached state of r. Nothing is written until Write.
func (b *Bank) Set(r Relay, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if on {
		b.state |= 1 << r
	} else {
		b.state &^= 1 << r
	}
}

func (b *Bank) Get(r Relay) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state&(1<<r) != 0
}

// State returns the cached relay word.
func (b *Bank) State() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Read loads the relay word from the device.
func (b *Bank) Read() error {
	v, err := readWord(b.dev, "relay bank", RegRelayL, RegRelayH)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.state = v
	b.mu.Unlock()

	b.logger.Debug("Relay state read", zap.Uint16("state", v))
	return nil
}

// Write sends the cached relay word to the device.
func (b *Bank) Write() error {
	state := b.State()
	if err := writeWord(b.dev, "relay bank", RegRelayL, RegRelayH, state); err != nil {
		return err
	}
	b.logger.Debug("Relay state written", zap.Uint16("state", state))
	return nil
}

// Switch sets r and writes the bank.
func (b *Bank) Switch(r Relay, on bool) error {
	b.Set(r, on)
	return b.Write()
}

// Reset opens every relay, which is the safe state of the bench.
func (b *Bank) Reset() error {
	b.mu.Lock()
	b.state = 0
	b.mu.Unlock()
	return b.Write()
}

// Connected reports whether the ATmega answers with its address.
func (b *Bank) Connected() bool {
	var ok bool
	_ = b.dev.Exchange(func(dev transport.I2CDevice) error {
		ok = dev.IsConnected()
		return nil
	})
	return ok
}

// ReadADC returns the raw 10 bit reading of the external high voltage input.
func (b *Bank) ReadADC() (uint16, error) {
	return readWord(b.dev, "atmega adc", RegADCL, RegADCH)
}
