package task

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/KevinKickass/OpenLabCore/internal/faults"
	"github.com/KevinKickass/OpenLabCore/internal/relay"
	"github.com/KevinKickass/OpenLabCore/internal/transport"
)

// MaxBoostVoltage is the highest voltage of the internal boost converter.
const MaxBoostVoltage = 300

// Voltage divider of the ATtiny feedback input and of the ATmega external
// input.
const (
	voltR1    = 2_200_000.0
	voltR2    = 10_000.0
	voltRCorr = 1.0

	extR1    = 1_000_000.0
	extR2    = 10_000.0
	extRCorr = 1.0
)

const (
	voltageTries          = 3
	waitForVoltageTimeout = 40
	dischargePolls        = 60
	maxRelError           = 0.05
)

type i2cHandle = *transport.Handle[transport.I2CDevice]

func writeRegs(h i2cHandle, what string, regs ...[2]uint8) error {
	return h.Exchange(func(dev transport.I2CDevice) error {
		for _, r := range regs {
			if err := dev.WriteRegister(r[0], r[1]); err != nil {
				return faults.Transport("can't send i2c command to %s: %v", what, err)
			}
		}
		return nil
	})
}

func readRegs(h i2cHandle, what string, regs ...uint8) ([]uint8, error) {
	out := make([]uint8, len(regs))
	err := h.Exchange(func(dev transport.I2CDevice) error {
		for i, r := range regs {
			v, err := dev.ReadRegister(r)
			if err != nil {
				return faults.Transport("can't read %s register 0x%02X: %v", what, r, err)
			}
			out[i] = v
		}
		return nil
	})
	return out, err
}

func connected(h i2cHandle) bool {
	if h == nil {
		return false
	}
	var ok bool
	_ = h.Exchange(func(dev transport.I2CDevice) error {
		ok = dev.IsConnected()
		return nil
	})
	return ok
}

func (e *Executor) runFrequency(t *Task, env *Env) error {
	if !connected(e.bench.Freq) {
		return faults.Transport("microcontroller is not connected - cannot set the frequency")
	}

	hz := t.Frequency.Hz
	if hz == 0 {
		bank, err := e.relays()
		if err != nil {
			env.Log.Error("switch relais", "can't send i2c command to the relais uc")
			return fmt.Errorf("cannot switch relais to disable frequency generator: %w", err)
		}
		if err := bank.Read(); err != nil {
			return err
		}
		if bank.Get(relay.AC) {
			if err := bank.Switch(relay.AC, false); err != nil {
				return err
			}
			env.Log.Info("switch relais", "switched relais to disable AC output")
		}
		return nil
	}

	env.Log.Info("set frequency", fmt.Sprintf("f=%dHz", hz))
	err := writeRegs(e.bench.Freq, "frequency generator",
		[2]uint8{relay.RegFreq0, uint8(hz)},
		[2]uint8{relay.RegFreq1, uint8(hz >> 8)},
		[2]uint8{relay.RegFreq2, uint8(hz >> 16)},
		[2]uint8{relay.RegFreq3, uint8(hz >> 24)},
	)
	if err != nil {
		env.Log.Error("set frequency", "can't send i2c command to frequency generator")
		return err
	}

	bank, err := e.relays()
	if err != nil {
		return err
	}
	if err := bank.Read(); err != nil {
		return err
	}
	if !bank.Get(relay.AC) {
		if err := bank.Switch(relay.AC, true); err != nil {
			return err
		}
		env.Log.Info("switch relais", "switched relais to enable AC output")
	}
	return nil
}

// setpointADC converts volts into the ATtiny setpoint register value.
func setpointADC(volts int) uint16 {
	return uint16(voltR2 / (voltR1 + voltR2) * voltRCorr * 1024.0 / 5.0 * float64(volts))
}

func adcToVolts(adc uint16) float64 {
	return (voltR1 + voltR2) / voltR2 / voltRCorr * float64(adc) / 1023.0 * 5.0
}

func extADCToVolts(adc uint16) float64 {
	return (extR1 + extR2) / extR2 / extRCorr * float64(adc) / 1023.0 * 5.0
}

func relError(actual float64, setpoint int) float64 {
	return math.Abs((actual - float64(setpoint)) / float64(setpoint))
}

func formatVolts(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func (e *Executor) readVoltage() (float64, error) {
	v, err := readRegs(e.bench.Volt, "voltage controller", relay.RegVoltADCL, relay.RegVoltADCH)
	if err != nil {
		return 0, err
	}
	return adcToVolts(uint16(v[1])<<8 | uint16(v[0])), nil
}

func (e *Executor) runVoltage(ctx context.Context, t *Task, env *Env) error {
	bank, err := e.relays()
	if err != nil {
		env.Log.Error("cannot set relais", "relais microcontroller is not connected")
		return err
	}
	if err := bank.Read(); err != nil {
		return err
	}

	v := t.Voltage
	if v.Mode == VoltageExtern {
		if bank.Get(relay.HVExt) {
			if err := bank.Switch(relay.HVExt, false); err != nil {
				return err
			}
			env.Log.Info("relais switched", "relais switched to connect the external HV source with the H-bridge")
		}
		return e.checkExternalVoltage(v, env)
	}

	if !bank.Get(relay.HVExt) {
		if err := bank.Switch(relay.HVExt, true); err != nil {
			return err
		}
		env.Log.Info("relais switched", "relais switched to connect the internal HV source with the H-bridge")
	}

	if v.Mode == VoltageController && v.Volts == 0 {
		if bank.Get(relay.Safety) {
			if err := bank.Switch(relay.Safety, false); err != nil {
				return err
			}
			env.Log.Info("relais switched", "relais switched to not supply the boost converter with voltage")
		}
		return nil
	}

	if !connected(e.bench.Volt) {
		return faults.Transport("voltage controller is not connected - cannot set voltage")
	}

	if v.Mode == VoltageDutyCycle {
		return e.setDutyCycle(v, bank, env)
	}
	return e.setControlledVoltage(ctx, v, bank, env)
}

func (e *Executor) setDutyCycle(v *Voltage, bank *relay.Bank, env *Env) error {
	env.Log.Info("set duty cycle", "D="+strconv.FormatFloat(v.DutyCycle*100, 'g', -1, 64)+"%")
	err := writeRegs(e.bench.Volt, "voltage controller",
		[2]uint8{relay.RegVoltMode, relay.VoltModeDuty},
		[2]uint8{relay.RegVoltDuty, uint8(255.0 * v.DutyCycle)},
	)
	if err != nil {
		env.Log.Error("set duty cycle", "can't send i2c command to voltage controller")
		return err
	}

	if !bank.Get(relay.Safety) {
		if err := bank.Switch(relay.Safety, true); err != nil {
			return err
		}
		env.Log.Info("relais switched", "relais switched to supply the boost converter with voltage")
	}
	return nil
}

func (e *Executor) setControlledVoltage(ctx context.Context, v *Voltage, bank *relay.Bank, env *Env) error {
	timing := e.bench.Timing
	env.Log.Info("set voltage", fmt.Sprintf("v=%dV", v.Volts))

	adc := setpointADC(v.Volts)
	lo, hi := uint8(adc), uint8(adc>>8)

	accepted := false
	for try := 0; try < voltageTries && !accepted; try++ {
		err := writeRegs(e.bench.Volt, "voltage controller",
			[2]uint8{relay.RegVoltADCLS, lo},
			[2]uint8{relay.RegVoltADCHS, hi},
			[2]uint8{relay.RegVoltMode, relay.VoltModeCont},
		)
		if err != nil {
			env.Log.Error("set voltage", "can't send i2c command to voltage controller")
			return err
		}
		time.Sleep(timing.VoltageRetry)

		back, err := readRegs(e.bench.Volt, "voltage controller", relay.RegVoltADCLS, relay.RegVoltADCHS)
		if err != nil {
			return err
		}
		accepted = back[0] == lo && back[1] == hi
	}
	if !accepted {
		env.Log.Error("set voltage", "voltage cannot be set")
		return faults.Transport("voltage cannot be set - controller did not accept setpoint %d", adc)
	}

	if !bank.Get(relay.Safety) {
		bank.Set(relay.Safety, true)
		bank.Set(relay.BoostIn, true)
		if err := bank.Write(); err != nil {
			return err
		}
		env.Log.Info("relais switched", "relais switched to supply the boost converter with voltage")
	}

	if !v.WaitForVoltage {
		return nil
	}

	current, err := e.readVoltage()
	if err != nil {
		return err
	}
	timeouts := 0
	correctSince := time.Now()

	for time.Since(correctSince) < timing.VoltageStable && timeouts < waitForVoltageTimeout && ctx.Err() == nil {
		if current > float64(v.Volts)*1.2 {
			if err := e.discharge(v, bank, env, current); err != nil {
				return err
			}
		}

		if current, err = e.readVoltage(); err != nil {
			return err
		}
		sleep(ctx, timing.VoltagePoll)
		if relError(current, v.Volts) > maxRelError {
			timeouts++
			correctSince = time.Now()
		}
	}

	if timeouts >= waitForVoltageTimeout {
		env.Log.Error("timeout expired", fmt.Sprintf("cannot set voltage to %dV - current voltage: %sV", v.Volts, formatVolts(current)))
		return faults.Timeout("cannot set voltage to %dV - current voltage: %sV", v.Volts, formatVolts(current))
	}
	env.Log.Info("voltage set", "current voltage: "+formatVolts(current)+"V")
	return nil
}

// discharge opens SAFETY until the capacitor is down to the setpoint.
func (e *Executor) discharge(v *Voltage, bank *relay.Bank, env *Env, current float64) error {
	if err := bank.Read(); err != nil {
		return err
	}
	if !bank.Get(relay.Safety) {
		return nil
	}

	env.Log.Info("huge voltage difference", "current voltage ("+formatVolts(current)+"V) is too high - discharging capacitor")
	if err := bank.Switch(relay.Safety, false); err != nil {
		return err
	}
	for i := 0; current > float64(v.Volts) && i < dischargePolls; i++ {
		var err error
		if current, err = e.readVoltage(); err != nil {
			return err
		}
		time.Sleep(e.bench.Timing.DischargePoll)
	}
	return bank.Switch(relay.Safety, true)
}

func (e *Executor) checkExternalVoltage(v *Voltage, env *Env) error {
	env.Log.Info("external V source", fmt.Sprintf("setpoint v=%dV", v.Volts))

	adc, err := e.bench.Relays.ReadADC()
	if err != nil {
		env.Log.Error("atmega32 not connected", "cannot measure the external voltage")
		return err
	}
	ext := extADCToVolts(adc)
	env.Log.Info("measured ext. voltage", "external voltage v="+formatVolts(ext)+"V")

	if v.Volts > 0 && relError(ext, v.Volts) >= maxRelError {
		msg := fmt.Sprintf("wrong external voltage %sV, needs to be %dV", formatVolts(ext), v.Volts)
		env.Log.Error("wrong voltage", msg)
		return errors.New(msg)
	}
	env.Log.Info("external voltage", fmt.Sprintf("external voltage: %sV, (setpoint: %dV)", formatVolts(ext), v.Volts))
	return nil
}
