package devices

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/analyzer"
	"github.com/KevinKickass/OpenLabCore/internal/config"
	"github.com/KevinKickass/OpenLabCore/internal/relay"
	"github.com/KevinKickass/OpenLabCore/internal/task"
	"github.com/KevinKickass/OpenLabCore/internal/transport"
)

type (
	i2cHandle    = *transport.Handle[transport.I2CDevice]
	gpibHandle   = *transport.Handle[transport.GPIB]
	serialHandle = *transport.Handle[transport.SerialPort]
)

// Status is the last known connectivity of one device tag.
type Status struct {
	Device     task.Device `json:"device"`
	Bus        string      `json:"bus,omitempty"`
	Address    string      `json:"address,omitempty"`
	Configured bool        `json:"configured"`
	Connected  bool        `json:"connected"`
	Simulated  bool        `json:"simulated"`
	CheckedAt  time.Time   `json:"checked_at"`
	Error      string      `json:"error,omitempty"`
}

// Manager owns the bench sessions built from the configuration and answers
// which device tags are available.
type Manager struct {
	cfg      *config.Config
	registry *transport.Registry
	logger   *zap.Logger
	simulate bool

	atmega i2cHandle
	freq   i2cHandle
	volt   i2cHandle
	gpib   map[analyzer.Kind]gpibHandle
	emstat serialHandle
	pins   transport.Pins

	bank *relay.Bank
	leds *relay.StatusLEDs

	closers []func() error
	openErr map[task.Device]string
	timing  task.Timing
	rng     *rand.Rand
	rngMu   sync.Mutex

	busy atomic.Bool

	mu       sync.RWMutex
	status   map[task.Device]Status
	onStatus []func([]Status)
}

// NewManager opens every configured device. Devices that fail to open are
// reported as not configured instead of failing the whole bench.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		registry: transport.NewRegistry(cfg.Transport.WriteSpacing, logger),
		logger:   logger,
		simulate: cfg.Analyzer.Simulate,
		gpib:     make(map[analyzer.Kind]gpibHandle),
		openErr:  make(map[task.Device]string),
		timing:   task.DefaultTiming(),
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x4f4c43)),
		status:   make(map[task.Device]Status),
	}

	if m.simulate {
		m.openSimulated()
	} else {
		m.openHardware()
	}

	if m.atmega != nil {
		m.bank = relay.NewBank(m.atmega, logger)
		m.leds = relay.NewStatusLEDs(m.atmega)
	}

	m.logger.Info("Device manager ready",
		zap.Bool("simulate", m.simulate),
		zap.Int("gpib_instruments", len(m.gpib)),
		zap.Bool("emstat", m.emstat != nil),
		zap.Bool("atmega", m.atmega != nil))
	return m
}

func i2cKey(addr uint16) transport.Key {
	return transport.Key{Bus: transport.BusI2C, Address: fmt.Sprintf("0x%02X", addr)}
}

func gpibKey(addr int) transport.Key {
	return transport.Key{Bus: transport.BusGPIB, Address: fmt.Sprint(addr)}
}

func serialKey(port string) transport.Key {
	return transport.Key{Bus: transport.BusSerial, Address: port}
}

func (m *Manager) openHardware() {
	tc := m.cfg.Transport

	if bus, err := transport.OpenI2C(tc.I2C.Bus); err != nil {
		m.logger.Warn("I2C bus not available", zap.String("bus", tc.I2C.Bus), zap.Error(err))
		for _, d := range []task.Device{task.DeviceATmega, task.DeviceATtinyFreq, task.DeviceATtinyVolt} {
			m.openErr[d] = err.Error()
		}
	} else {
		m.closers = append(m.closers, bus.Close)
		m.atmega = m.acquireI2C(task.DeviceATmega, tc.I2C.ATmega, bus.Device)
		m.freq = m.acquireI2C(task.DeviceATtinyFreq, tc.I2C.ATtinyFreq, bus.Device)
		m.volt = m.acquireI2C(task.DeviceATtinyVolt, tc.I2C.ATtinyVolt, bus.Device)
	}

	if line, err := transport.OpenSerial(tc.GPIB.Port, tc.GPIB.Baud); err != nil {
		m.logger.Warn("GPIB adapter not available", zap.String("port", tc.GPIB.Port), zap.Error(err))
		m.openErr[task.DeviceHP4294A] = err.Error()
		m.openErr[task.DeviceNovocontrol] = err.Error()
	} else if ctl, err := transport.NewPrologix(line, tc.GPIB.ReadTimeout); err != nil {
		_ = line.Close()
		m.logger.Warn("GPIB adapter not initialised", zap.Error(err))
		m.openErr[task.DeviceHP4294A] = err.Error()
		m.openErr[task.DeviceNovocontrol] = err.Error()
	} else {
		m.closers = append(m.closers, ctl.Close)
		m.acquireGPIB(analyzer.KindHP4294A, task.DeviceHP4294A, tc.GPIB.HP4294AAddr, ctl.Device)
		m.acquireGPIB(analyzer.KindNovocontrol, task.DeviceNovocontrol, tc.GPIB.NovocontrolAddr, ctl.Device)
	}

	h, err := transport.Acquire(m.registry, serialKey(tc.EmStat.Port), func() (transport.SerialPort, error) {
		return transport.OpenSerial(tc.EmStat.Port, tc.EmStat.Baud)
	})
	if err != nil {
		m.logger.Warn("EmStat not available", zap.String("port", tc.EmStat.Port), zap.Error(err))
		m.openErr[task.DeviceEmStatPico] = err.Error()
	} else {
		m.emstat = h
	}

	if len(tc.GPIO) > 0 {
		pins, err := transport.OpenGPIO(padMapping(tc.GPIO))
		if err != nil {
			m.logger.Warn("Pad GPIO not available", zap.Error(err))
		} else {
			m.pins = pins
		}
	}
}

// padMapping restores the upper case line names; viper lowercases map keys.
func padMapping(cfg map[string]string) map[string]string {
	out := make(map[string]string, len(cfg))
	for k, v := range cfg {
		out[strings.ToUpper(k)] = v
	}
	return out
}

func (m *Manager) acquireI2C(d task.Device, addr uint16, dev func(uint16) transport.I2CDevice) i2cHandle {
	h, err := transport.Acquire(m.registry, i2cKey(addr), func() (transport.I2CDevice, error) {
		return dev(addr), nil
	})
	if err != nil {
		m.openErr[d] = err.Error()
		return nil
	}
	return h
}

func (m *Manager) acquireGPIB(kind analyzer.Kind, d task.Device, addr int, dev func(int) transport.GPIB) {
	h, err := transport.Acquire(m.registry, gpibKey(addr), func() (transport.GPIB, error) {
		return dev(addr), nil
	})
	if err != nil {
		m.openErr[d] = err.Error()
		return
	}
	m.gpib[kind] = h
}

// SetTiming replaces the bench delays handed to executors.
func (m *Manager) SetTiming(t task.Timing) {
	m.timing = t
}

// Bench returns the hardware view the task executor drives.
func (m *Manager) Bench() task.Bench {
	return task.Bench{
		Relays:    m.bank,
		LEDs:      m.leds,
		Freq:      m.freq,
		Volt:      m.volt,
		Pins:      m.pins,
		Analyzers: m.Analyzer,
		Timing:    m.timing,
	}
}

// Analyzer builds an analyzer of kind on the configured session. In
// simulation every kind is served by the simulator.
func (m *Manager) Analyzer(kind analyzer.Kind) (analyzer.Analyzer, error) {
	ac := m.cfg.Analyzer
	b := analyzer.Backend{
		PollInterval: ac.PollInterval,
		PollTimeout:  ac.PollTimeout,
		LineBudget:   m.cfg.Transport.EmStat.LineTimeout,
		SimDelay:     ac.SimDelay,
		Logger:       m.logger,
	}

	if m.simulate || kind == analyzer.KindSimulator {
		m.rngMu.Lock()
		b.Rand = rand.New(rand.NewPCG(m.rng.Uint64(), m.rng.Uint64()))
		m.rngMu.Unlock()
		return analyzer.New(analyzer.KindSimulator, b)
	}

	switch kind {
	case analyzer.KindHP4294A, analyzer.KindNovocontrol:
		h, ok := m.gpib[kind]
		if !ok {
			return nil, fmt.Errorf("%s is not configured", kind.DisplayName())
		}
		b.GPIB = h
	case analyzer.KindEmStatPico:
		if m.emstat == nil {
			return nil, fmt.Errorf("%s is not configured", kind.DisplayName())
		}
		b.Serial = m.emstat
	}
	return analyzer.New(kind, b)
}

// Configured reports whether a session for d exists.
func (m *Manager) Configured(d task.Device) bool {
	if m.simulate {
		return d != task.DeviceSpectrometer
	}
	switch d {
	case task.DeviceATmega:
		return m.atmega != nil
	case task.DeviceATtinyFreq:
		return m.freq != nil
	case task.DeviceATtinyVolt:
		return m.volt != nil
	case task.DeviceHP4294A:
		return m.gpib[analyzer.KindHP4294A] != nil
	case task.DeviceNovocontrol:
		return m.gpib[analyzer.KindNovocontrol] != nil
	case task.DeviceEmStatPico:
		return m.emstat != nil
	default:
		return false
	}
}

func i2cProbe(h i2cHandle) (bool, string) {
	var ok bool
	_ = h.Exchange(func(dev transport.I2CDevice) error {
		ok = dev.IsConnected()
		return nil
	})
	if !ok {
		return false, "no answer on id register"
	}
	return true, ""
}

func gpibProbe(h gpibHandle) (bool, string) {
	var ok bool
	_ = h.Exchange(func(dev transport.GPIB) error {
		ok = dev.IsConnected()
		return nil
	})
	if !ok {
		return false, "no answer to *IDN?"
	}
	return true, ""
}

// Probe checks one device and records the result.
func (m *Manager) Probe(d task.Device) Status {
	st := Status{Device: d, Simulated: m.simulate, CheckedAt: time.Now()}

	var h interface{ Key() transport.Key }
	var probe func() (bool, string)
	switch d {
	case task.DeviceATmega:
		if m.atmega != nil {
			h, probe = m.atmega, func() (bool, string) { return i2cProbe(m.atmega) }
		}
	case task.DeviceATtinyFreq:
		if m.freq != nil {
			h, probe = m.freq, func() (bool, string) { return i2cProbe(m.freq) }
		}
	case task.DeviceATtinyVolt:
		if m.volt != nil {
			h, probe = m.volt, func() (bool, string) { return i2cProbe(m.volt) }
		}
	case task.DeviceHP4294A, task.DeviceNovocontrol:
		kind := analyzer.KindHP4294A
		if d == task.DeviceNovocontrol {
			kind = analyzer.KindNovocontrol
		}
		if g, ok := m.gpib[kind]; ok {
			h, probe = g, func() (bool, string) { return gpibProbe(g) }
		}
	case task.DeviceEmStatPico:
		if m.emstat != nil {
			// the port is open; the device answers only inside a script
			h, probe = m.emstat, func() (bool, string) { return true, "" }
		}
	}

	switch {
	case m.simulate && d != task.DeviceSpectrometer && probe == nil:
		st.Configured, st.Connected = true, true
	case probe == nil:
		st.Error = m.openErr[d]
		if st.Error == "" {
			st.Error = "not configured"
		}
	default:
		st.Configured = true
		st.Bus = h.Key().Bus.String()
		st.Address = h.Key().Address
		st.Connected, st.Error = probe()
	}

	m.mu.Lock()
	m.status[d] = st
	m.mu.Unlock()
	return st
}

// Check probes every device in required and returns those not reachable.
func (m *Manager) Check(ctx context.Context, required []task.Device) []task.Device {
	var missing []task.Device
	for _, d := range required {
		if ctx.Err() != nil {
			return append(missing, d)
		}
		if st := m.Probe(d); !st.Connected {
			missing = append(missing, d)
		}
	}
	if len(missing) > 0 {
		m.logger.Warn("Pre-flight check failed", zap.Any("missing", missing))
	}
	return missing
}

// ProbeAll refreshes the status of every known device tag and notifies the
// status listeners.
func (m *Manager) ProbeAll() []Status {
	out := make([]Status, 0, len(task.Devices))
	for _, d := range task.Devices {
		out = append(out, m.Probe(d))
	}

	m.mu.RLock()
	listeners := append([]func([]Status){}, m.onStatus...)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(out)
	}
	return out
}

// Statuses returns the last probe results sorted by tag.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.status))
	for _, st := range m.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}

// OnStatus registers fn for the results of every ProbeAll.
func (m *Manager) OnStatus(fn func([]Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStatus = append(m.onStatus, fn)
}

// SetBusy marks the bench as measuring; the monitor skips probes meanwhile.
func (m *Manager) SetBusy(busy bool) {
	m.busy.Store(busy)
}

func (m *Manager) Busy() bool {
	return m.busy.Load()
}

// SafeReset opens every relay.
func (m *Manager) SafeReset() error {
	if m.bank == nil {
		return nil
	}
	return m.bank.Reset()
}

// SetLED switches a front panel LED; a missing ATmega is ignored.
func (m *Manager) SetLED(led relay.LED, on bool) error {
	if m.leds == nil {
		return nil
	}
	return m.leds.Set(led, on)
}

func (m *Manager) Close() error {
	for _, h := range []i2cHandle{m.atmega, m.freq, m.volt} {
		if h != nil {
			_ = h.Release()
		}
	}
	for _, h := range m.gpib {
		_ = h.Release()
	}
	if m.emstat != nil {
		_ = m.emstat.Release()
	}
	m.registry.CloseAll()

	var firstErr error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
