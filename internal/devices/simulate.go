package devices

import (
	"github.com/KevinKickass/OpenLabCore/internal/relay"
	"github.com/KevinKickass/OpenLabCore/internal/task"
	"github.com/KevinKickass/OpenLabCore/internal/transport"
	"github.com/KevinKickass/OpenLabCore/internal/transport/transporttest"
)

// followSetpoint lets the simulated voltage controller reach its setpoint
// immediately.
func followSetpoint(regs map[uint8]uint8, reg, value uint8) {
	switch reg {
	case relay.RegVoltADCLS:
		regs[relay.RegVoltADCL] = value
	case relay.RegVoltADCHS:
		regs[relay.RegVoltADCH] = value
	}
}

// openSimulated builds the bench from in-memory controllers. Analyzers are
// served by the simulator, see Analyzer.
func (m *Manager) openSimulated() {
	i2c := m.cfg.Transport.I2C

	fake := func(addr uint16) func(uint16) transport.I2CDevice {
		return func(uint16) transport.I2CDevice {
			dev := transporttest.NewI2C(addr)
			if addr == i2c.ATtinyVolt {
				dev.OnWrite = followSetpoint
			}
			return dev
		}
	}

	m.atmega = m.acquireI2C(task.DeviceATmega, i2c.ATmega, fake(i2c.ATmega))
	m.freq = m.acquireI2C(task.DeviceATtinyFreq, i2c.ATtinyFreq, fake(i2c.ATtinyFreq))
	m.volt = m.acquireI2C(task.DeviceATtinyVolt, i2c.ATtinyVolt, fake(i2c.ATtinyVolt))
	m.pins = &transporttest.Pins{}
}
