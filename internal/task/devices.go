package task

import "github.com/KevinKickass/OpenLabCore/internal/analyzer"

// Device is a hardware requirement tag.
type Device string

const (
	DeviceATmega       Device = "ATMEGA_GENERAL"
	DeviceATtinyFreq   Device = "ATTINY_FREQ"
	DeviceATtinyVolt   Device = "ATTINY_VOLT"
	DeviceEmStatPico   Device = "EMPICO"
	DeviceHP4294A      Device = "HP4294A"
	DeviceNovocontrol  Device = "NOVOCONTROL"
	DeviceSpectrometer Device = "SPECTROMETER"
)

// Devices lists every known tag.
var Devices = []Device{
	DeviceATmega, DeviceATtinyFreq, DeviceATtinyVolt,
	DeviceEmStatPico, DeviceHP4294A, DeviceNovocontrol, DeviceSpectrometer,
}

func analyzerDevices(k analyzer.Kind) []Device {
	switch k {
	case analyzer.KindHP4294A:
		return []Device{DeviceHP4294A}
	case analyzer.KindNovocontrol:
		return []Device{DeviceNovocontrol}
	case analyzer.KindEmStatPico:
		return []Device{DeviceEmStatPico}
	default:
		return nil
	}
}
