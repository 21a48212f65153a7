package relay

import (
	"sync"

	"github.com/KevinKickass/OpenLabCore/internal/transport"
)

// LED is the bit position of a status LED.
type LED uint8

const (
	LEDRunning   LED = 0
	LEDRecipe    LED = 1
	LEDImpedance LED = 2
	LEDPad       LED = 3
)

// StatusLEDs drives the front panel LEDs. Every change is written at once.
type StatusLEDs struct {
	dev device

	mu    sync.Mutex
	state uint16
}

func NewStatusLEDs(dev *transport.Handle[transport.I2CDevice]) *StatusLEDs {
	return &StatusLEDs{dev: dev}
}

func (l *StatusLEDs) Set(led LED, on bool) error {
	l.mu.Lock()
	if on {
		l.state |= 1 << led
	} else {
		l.state &^= 1 << led
	}
	state := l.state
	l.mu.Unlock()

	return writeWord(l.dev, "status led", RegLEDL, RegLEDH, state)
}

// All switches every LED on or off.
func (l *StatusLEDs) All(on bool) error {
	l.mu.Lock()
	if on {
		l.state = 0xFFFF
	} else {
		l.state = 0
	}
	state := l.state
	l.mu.Unlock()

	return writeWord(l.dev, "status led", RegLEDL, RegLEDH, state)
}

func (l *StatusLEDs) Get(led LED) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state&(1<<led) != 0
}
