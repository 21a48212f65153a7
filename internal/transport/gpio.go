package transport

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// GPIOPins maps logical line names to periph pins.
type GPIOPins struct {
	pins map[string]gpio.PinIO
}

// OpenGPIO resolves every logical name in mapping (logical → host pin name).
func OpenGPIO(mapping map[string]string) (*GPIOPins, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	p := &GPIOPins{pins: make(map[string]gpio.PinIO, len(mapping))}
	for logical, hostName := range mapping {
		pin := gpioreg.ByName(hostName)
		if pin == nil {
			return nil, fmt.Errorf("gpio pin %q (%s) not found", hostName, logical)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("gpio %s: %w", logical, err)
		}
		p.pins[logical] = pin
	}
	return p, nil
}

func (p *GPIOPins) Set(name string, high bool) error {
	pin, ok := p.pins[name]
	if !ok {
		return fmt.Errorf("gpio line %q not configured", name)
	}
	return pin.Out(gpio.Level(high))
}
