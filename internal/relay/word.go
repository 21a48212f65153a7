package relay

import (
	"github.com/KevinKickass/OpenLabCore/internal/faults"
	"github.com/KevinKickass/OpenLabCore/internal/transport"
)

type device = *transport.Handle[transport.I2CDevice]

// writeWord writes v as low/high register pair, spaced by the device gate.
func writeWord(h device, what string, regL, regH uint8, v uint16) error {
	return h.Gate().Do(func() error {
		return h.Exchange(func(dev transport.I2CDevice) error {
			if !dev.IsConnected() {
				return faults.Transport("%s cannot be written - i2c slave 0x%02X is not connected", what, dev.Address())
			}
			if err := dev.WriteRegister(regL, uint8(v)); err != nil {
				return faults.Transport("%s write: %v", what, err)
			}
			if err := dev.WriteRegister(regH, uint8(v>>8)); err != nil {
				return faults.Transport("%s write: %v", what, err)
			}
			return nil
		})
	})
}

func readWord(h device, what string, regL, regH uint8) (uint16, error) {
	var v uint16
	err := h.Gate().Do(func() error {
		return h.Exchange(func(dev transport.I2CDevice) error {
			if !dev.IsConnected() {
				return faults.Transport("%s cannot be read - i2c slave 0x%02X is not connected", what, dev.Address())
			}
			lo, err := dev.ReadRegister(regL)
			if err != nil {
				return faults.Transport("%s read: %v", what, err)
			}
			hi, err := dev.ReadRegister(regH)
			if err != nil {
				return faults.Transport("%s read: %v", what, err)
			}
			v = uint16(hi)<<8 | uint16(lo)
			return nil
		})
	})
	return v, err
}
