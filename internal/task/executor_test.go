package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/analyzer"
	"github.com/KevinKickass/OpenLabCore/internal/faults"
	"github.com/KevinKickass/OpenLabCore/internal/measurement"
	"github.com/KevinKickass/OpenLabCore/internal/relay"
	"github.com/KevinKickass/OpenLabCore/internal/transient"
	"github.com/KevinKickass/OpenLabCore/internal/transport"
	"github.com/KevinKickass/OpenLabCore/internal/transport/transporttest"
)

type rig struct {
	atmega *transporttest.I2C
	freq   *transporttest.I2C
	volt   *transporttest.I2C
	pins   *transporttest.Pins

	bench Bench
	exec  *Executor
	env   *Env
	ids   *IDGenerator
}

func testTiming() Timing {
	return Timing{
		RelaySettle:   time.Millisecond,
		VoltagePoll:   time.Millisecond,
		VoltageStable: 5 * time.Millisecond,
	}
}

func simulatorSource(kind analyzer.Kind) (analyzer.Analyzer, error) {
	if kind != analyzer.KindSimulator {
		return nil, faults.Transport("%s not attached", kind)
	}
	return analyzer.NewSimulator(rand.New(rand.NewPCG(1, 2)), 0, zap.NewNop()), nil
}

func newRig(t *testing.T) *rig {
	t.Helper()

	r := &rig{
		atmega: transporttest.NewI2C(relay.AddrATmega),
		freq:   transporttest.NewI2C(relay.AddrATtinyFreq),
		volt:   transporttest.NewI2C(relay.AddrATtinyVolt),
		pins:   &transporttest.Pins{},
		ids:    &IDGenerator{},
	}

	reg := transport.NewRegistry(time.Millisecond, zap.NewNop())
	acquire := func(dev *transporttest.I2C) *transport.Handle[transport.I2CDevice] {
		h, err := transport.Acquire(reg, transport.Key{Bus: transport.BusI2C, Address: fmt.Sprintf("0x%02X", dev.Addr)},
			func() (transport.I2CDevice, error) { return dev, nil })
		require.NoError(t, err)
		t.Cleanup(func() { _ = h.Release() })
		return h
	}

	mega := acquire(r.atmega)
	r.bench = Bench{
		Relays:    relay.NewBank(mega, zap.NewNop()),
		LEDs:      relay.NewStatusLEDs(mega),
		Freq:      acquire(r.freq),
		Volt:      acquire(r.volt),
		Pins:      r.pins,
		Analyzers: simulatorSource,
		Timing:    testTiming(),
	}
	r.exec = NewExecutor(r.bench, zap.NewNop())
	r.env = &Env{Log: NewLogbook(zap.NewNop()), Data: NewExperimentData("test")}
	return r
}

func eventNames(l *Logbook) []string {
	var out []string
	for _, e := range l.Events() {
		out = append(out, e.Name)
	}
	return out
}

func countEvents(l *Logbook, name string) int {
	n := 0
	for _, e := range l.Events() {
		if e.Name == name {
			n++
		}
	}
	return n
}

func simParams() analyzer.Params {
	return analyzer.Params{StartFreq: 100, StopFreq: 10_000, Voltage: 0.05, Points: 5, PointAverage: 1, WireMode: analyzer.FourWire}
}

func TestExecute_PreCancelledRunsNothing(t *testing.T) {
	r := newRig(t)
	recipe := NewRecipe(r.ids, "cancelled", NewDelay(r.ids, 0, 1), NewFrequency(r.ids, 1000))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, r.exec.Execute(ctx, recipe, r.env))
	assert.Empty(t, r.env.Log.Events())
	assert.Empty(t, r.freq.Writes)
}

func TestRecipe_CancelStopsBeforeNextChild(t *testing.T) {
	r := newRig(t)
	recipe := NewRecipe(r.ids, "stop early",
		NewDelay(r.ids, 0, 1), NewDelay(r.ids, 0, 1), NewDelay(r.ids, 0, 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	unsubscribe := r.env.Log.Subscribe(func(e Event) {
		if e.Name == "delaying" {
			cancel()
		}
	})
	defer unsubscribe()

	require.NoError(t, r.exec.Execute(ctx, recipe, r.env))
	assert.Equal(t, []string{"start recipe", "delaying", "end recipe"}, eventNames(r.env.Log))
	assert.Equal(t, SeverityInfo, r.env.Log.Events()[2].Severity)
}

func TestRecipe_ChildErrorStopsRecipe(t *testing.T) {
	r := newRig(t)
	r.freq.Disconnected = true
	delay := NewDelay(r.ids, 0, 1)
	recipe := NewRecipe(r.ids, "broken", NewFrequency(r.ids, 1000), delay)

	err := r.exec.Execute(context.Background(), recipe, r.env)
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrTransport)

	assert.Zero(t, countEvents(r.env.Log, "delaying"))
	last := r.env.Log.Events()[len(r.env.Log.Events())-1]
	assert.Equal(t, "end recipe", last.Name)
	assert.Equal(t, SeverityError, last.Severity)
	assert.Contains(t, last.Description, "recipe broken(")
}

func TestNecessaryDevices_NestedUnion(t *testing.T) {
	ids := &IDGenerator{}
	inner := NewRecipe(ids, "inner",
		NewImpedance(ids, analyzer.KindHP4294A, analyzer.DefaultParams(analyzer.KindHP4294A)),
		NewVoltage(ids, Voltage{Mode: VoltageController, Volts: 50}),
	)
	outer := NewRecipe(ids, "outer",
		NewFrequency(ids, 500),
		inner,
		NewImpedance(ids, analyzer.KindHP4294A, analyzer.DefaultParams(analyzer.KindHP4294A)),
		NewPad(ids, 10, 1),
	)

	assert.Equal(t, []Device{DeviceATtinyFreq, DeviceATmega, DeviceHP4294A, DeviceATtinyVolt}, outer.NecessaryDevices())
	assert.Empty(t, NewRecipe(ids, "empty").NecessaryDevices())
	assert.Empty(t, NewDelay(ids, 1, 0).NecessaryDevices())
	assert.Empty(t, NewImpedance(ids, analyzer.KindSimulator, simParams()).NecessaryDevices())
}

func TestTask_Names(t *testing.T) {
	ids := &IDGenerator{}
	cases := []struct {
		task *Task
		want string
	}{
		{NewDelay(ids, 65, 200), "1m 5s 200ms delay"},
		{NewDelay(ids, 0, 200), "200ms delay"},
		{NewDelay(ids, 3600, 0), "1h 0m 0s delay"},
		{NewFrequency(ids, 0), "freq off"},
		{NewFrequency(ids, 1000), "f = 1000 Hz"},
		{NewVoltage(ids, Voltage{Mode: VoltageController, Volts: 120}), "internal source - V=120V"},
		{NewVoltage(ids, Voltage{Mode: VoltageController}), "internal source - voltage off"},
		{NewVoltage(ids, Voltage{Mode: VoltageDutyCycle, DutyCycle: 0.25}), "internal source - D=25%"},
		{NewVoltage(ids, Voltage{Mode: VoltageExtern, Volts: 50}), "external source - V=50V"},
		{NewPad(ids, 100, 2, 1, 2), "power pads 2, 1 for 100ms"},
		{NewPad(ids, 5, 7), "power pad 7 for 5ms"},
		{NewImpedance(ids, analyzer.KindSimulator, simParams()), "100Hz - 10000Hz, 5pts, 0.05V"},
		{NewTransient(ids, analyzer.KindSimulator, simParams(), TerminateCount, 3), "3 spectrums -- 100Hz - 10000Hz, 5pts, 0.05V"},
		{NewTransient(ids, analyzer.KindSimulator, simParams(), TerminateTime, 90), "1m 30s -- 100Hz - 10000Hz, 5pts, 0.05V"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.task.Name())
	}

	labelled := NewDelay(ids, 1, 0)
	labelled.Label = "settle"
	assert.Equal(t, "settle", labelled.Name())
}

func TestNewVoltage_Clamps(t *testing.T) {
	ids := &IDGenerator{}
	assert.Equal(t, MaxBoostVoltage, NewVoltage(ids, Voltage{Volts: 1000}).Voltage.Volts)
	assert.Equal(t, 0, NewVoltage(ids, Voltage{Volts: -3}).Voltage.Volts)
	assert.Equal(t, 0.5, NewVoltage(ids, Voltage{Mode: VoltageDutyCycle, DutyCycle: 1.5}).Voltage.DutyCycle)
}

func TestPadAddress(t *testing.T) {
	cases := []struct{ pad, pcb, uc, no int }{
		{1, 1, 1, 1},
		{12, 1, 1, 12},
		{13, 1, 2, 1},
		{59, 1, 5, 11},
		{60, 2, 1, 1},
		{118, 2, 5, 11},
	}
	for _, tc := range cases {
		pcb, uc, no, ok := PadAddress(tc.pad)
		require.True(t, ok, "pad %d", tc.pad)
		assert.Equal(t, [3]int{tc.pcb, tc.uc, tc.no}, [3]int{pcb, uc, no}, "pad %d", tc.pad)
	}

	for _, pad := range []int{0, -1, 119} {
		_, _, _, ok := PadAddress(pad)
		assert.False(t, ok, "pad %d", pad)
	}
}

func TestImpedance_SwitchesRelaysAroundMeasurement(t *testing.T) {
	r := newRig(t)
	imp := NewImpedance(r.ids, analyzer.KindSimulator, simParams())

	require.NoError(t, r.exec.Execute(context.Background(), imp, r.env))

	var high []uint8
	for _, w := range r.atmega.WritesTo(relay.RegRelayH) {
		high = append(high, w.Value)
	}
	// IMP_EWOD on, EXT_PICO off (internal), 4-wire, then EXT_PICO on, IMP_EWOD off.
	assert.Equal(t, []uint8{0x02, 0x02, 0x02, 0x12, 0x10}, high)

	spectra := r.env.Data.Spectra()
	require.Len(t, spectra, 1)
	assert.Len(t, spectra[0], 5)
	assert.False(t, r.bench.LEDs.Get(relay.LEDImpedance))
	assert.Equal(t, 1, countEvents(r.env.Log, "imp. measurement done"))
}

func TestImpedance_WireModeRelays(t *testing.T) {
	cases := []struct {
		wire      analyzer.WireMode
		wantREpCE bool
		wantWE    bool
	}{
		{analyzer.TwoWire, true, true},
		{analyzer.ThreeWire, false, true},
		{analyzer.FourWire, false, false},
	}
	for _, tc := range cases {
		r := newRig(t)
		p := simParams()
		p.WireMode = tc.wire

		seen := map[relay.Relay]bool{}
		r.atmega.OnWrite = func(regs map[uint8]uint8, reg, value uint8) {
			if reg == relay.RegRelayH && regs[relay.RegRelayH]&0x02 != 0 {
				seen[relay.REpCE] = seen[relay.REpCE] || value&(1<<3) != 0
				seen[relay.WEpWEs] = seen[relay.WEpWEs] || value&(1<<2) != 0
			}
		}

		require.NoError(t, r.exec.Execute(context.Background(), NewImpedance(r.ids, analyzer.KindSimulator, p), r.env))
		assert.Equal(t, tc.wantREpCE, seen[relay.REpCE], "%d-wire RE_P_CE", tc.wire)
		assert.Equal(t, tc.wantWE, seen[relay.WEpWEs], "%d-wire WE_P_WE_S", tc.wire)
	}
}

type failingAnalyzer struct {
	analyzer.Analyzer
}

func (failingAnalyzer) MeasureSpectrum(context.Context) (measurement.Spectrum, error) {
	return nil, faults.Timeout("no reply from analyzer")
}

func TestImpedance_ErrorStillRestoresRelays(t *testing.T) {
	r := newRig(t)
	r.bench.Analyzers = func(kind analyzer.Kind) (analyzer.Analyzer, error) {
		a, err := simulatorSource(kind)
		return failingAnalyzer{a}, err
	}
	r.exec = NewExecutor(r.bench, zap.NewNop())

	err := r.exec.Execute(context.Background(), NewImpedance(r.ids, analyzer.KindSimulator, simParams()), r.env)
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrTimeout)
	assert.Equal(t, "DummyImpAnalyser: timeout: no reply from analyzer", err.Error())

	assert.Equal(t, uint8(0x10), r.atmega.Reg(relay.RegRelayH))
	assert.Empty(t, r.env.Data.Spectra())
	assert.Equal(t, 4, countEvents(r.env.Log, "switched relais"))
	assert.Equal(t, 1, countEvents(r.env.Log, "DummyImpAnalyser error"))
}

func TestImpedance_UnattachedAnalyzer(t *testing.T) {
	r := newRig(t)
	err := r.exec.Execute(context.Background(), NewImpedance(r.ids, analyzer.KindHP4294A, analyzer.DefaultParams(analyzer.KindHP4294A)), r.env)
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrTransport)
	assert.Empty(t, r.atmega.Writes)
}

func TestTransient_CountMode(t *testing.T) {
	r := newRig(t)

	var mu sync.Mutex
	var got []transient.Notification
	r.env.Listener = func(n transient.Notification) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	}
	r.env.Catalogue = transient.NewCatalogue()

	tr := NewTransient(r.ids, analyzer.KindSimulator, simParams(), TerminateCount, 3)
	require.NoError(t, r.exec.Execute(context.Background(), tr, r.env))

	ts := r.env.Data.Transients()
	require.Len(t, ts, 1)
	assert.Equal(t, 3, ts[0].SpectrumCount())
	assert.Equal(t, 1.0, ts[0].Progress())
	assert.Equal(t, 3, countEvents(r.env.Log, "spectrum captured"))

	listed := r.env.Catalogue.List()
	require.Len(t, listed, 1)
	assert.Equal(t, ts[0].ID(), listed[0].ID())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	for i, n := range got {
		assert.Equal(t, i, n.Position)
		assert.Equal(t, ts[0].ID(), n.Handle)
	}
}

func TestTransient_TimeModeZeroCapturesOnce(t *testing.T) {
	r := newRig(t)
	tr := NewTransient(r.ids, analyzer.KindSimulator, simParams(), TerminateTime, 0)

	require.NoError(t, r.exec.Execute(context.Background(), tr, r.env))

	ts := r.env.Data.Transients()
	require.Len(t, ts, 1)
	assert.Equal(t, 1, ts[0].SpectrumCount())
	assert.Equal(t, uint8(0x10), r.atmega.Reg(relay.RegRelayH))
}

func TestFrequency_WritesLittleEndianAndSwitchesAC(t *testing.T) {
	r := newRig(t)

	require.NoError(t, r.exec.Execute(context.Background(), NewFrequency(r.ids, 100_000), r.env))
	assert.Equal(t, uint8(0xA0), r.freq.Reg(relay.RegFreq0))
	assert.Equal(t, uint8(0x86), r.freq.Reg(relay.RegFreq1))
	assert.Equal(t, uint8(0x01), r.freq.Reg(relay.RegFreq2))
	assert.Equal(t, uint8(0x00), r.freq.Reg(relay.RegFreq3))
	assert.Equal(t, uint8(1<<3), r.atmega.Reg(relay.RegRelayL)&(1<<3))

	writes := len(r.freq.Writes)
	require.NoError(t, r.exec.Execute(context.Background(), NewFrequency(r.ids, 0), r.env))
	assert.Len(t, r.freq.Writes, writes)
	assert.Zero(t, r.atmega.Reg(relay.RegRelayL)&(1<<3))
}

func TestFrequency_ZeroWithACOffWritesNothing(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.exec.Execute(context.Background(), NewFrequency(r.ids, 0), r.env))
	assert.Empty(t, r.atmega.WritesTo(relay.RegRelayL))
}

// mirrorSetpoint makes the fake controller reach its setpoint at once.
func mirrorSetpoint(regs map[uint8]uint8, reg, value uint8) {
	switch reg {
	case relay.RegVoltADCLS:
		regs[relay.RegVoltADCL] = value
	case relay.RegVoltADCHS:
		regs[relay.RegVoltADCH] = value
	}
}

func TestVoltage_ControllerReachesSetpoint(t *testing.T) {
	r := newRig(t)
	r.volt.OnWrite = mirrorSetpoint

	v := NewVoltage(r.ids, Voltage{Mode: VoltageController, Volts: 100, WaitForVoltage: true})
	require.NoError(t, r.exec.Execute(context.Background(), v, r.env))

	adc := setpointADC(100)
	assert.Equal(t, uint8(adc), r.volt.Reg(relay.RegVoltADCLS))
	assert.Equal(t, uint8(adc>>8), r.volt.Reg(relay.RegVoltADCHS))
	assert.Equal(t, relay.VoltModeCont, r.volt.Reg(relay.RegVoltMode))

	bank := r.bench.Relays
	assert.True(t, bank.Get(relay.HVExt))
	assert.True(t, bank.Get(relay.Safety))
	assert.True(t, bank.Get(relay.BoostIn))
	assert.Equal(t, 1, countEvents(r.env.Log, "voltage set"))
}

func TestVoltage_ControllerTimesOut(t *testing.T) {
	r := newRig(t)

	v := NewVoltage(r.ids, Voltage{Mode: VoltageController, Volts: 100, WaitForVoltage: true})
	err := r.exec.Execute(context.Background(), v, r.env)
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrTimeout)
	assert.Contains(t, err.Error(), "cannot set voltage to 100V")
}

func TestVoltage_SetpointRejected(t *testing.T) {
	r := newRig(t)
	r.volt.OnWrite = func(regs map[uint8]uint8, reg, _ uint8) {
		if reg == relay.RegVoltADCLS {
			regs[reg] = 0
		}
	}

	v := NewVoltage(r.ids, Voltage{Mode: VoltageController, Volts: 100})
	err := r.exec.Execute(context.Background(), v, r.env)
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrTransport)
	assert.Len(t, r.volt.WritesTo(relay.RegVoltMode), voltageTries)
	assert.False(t, r.bench.Relays.Get(relay.Safety))
}

func TestVoltage_ZeroOpensSafety(t *testing.T) {
	r := newRig(t)
	r.volt.OnWrite = mirrorSetpoint
	require.NoError(t, r.exec.Execute(context.Background(),
		NewVoltage(r.ids, Voltage{Mode: VoltageController, Volts: 20}), r.env))
	require.True(t, r.bench.Relays.Get(relay.Safety))

	require.NoError(t, r.exec.Execute(context.Background(),
		NewVoltage(r.ids, Voltage{Mode: VoltageController, Volts: 0}), r.env))
	assert.False(t, r.bench.Relays.Get(relay.Safety))
	assert.True(t, r.bench.Relays.Get(relay.HVExt))
}

func TestVoltage_DutyCycle(t *testing.T) {
	r := newRig(t)
	v := NewVoltage(r.ids, Voltage{Mode: VoltageDutyCycle, DutyCycle: 0.5})

	require.NoError(t, r.exec.Execute(context.Background(), v, r.env))
	assert.Equal(t, relay.VoltModeDuty, r.volt.Reg(relay.RegVoltMode))
	assert.Equal(t, uint8(127), r.volt.Reg(relay.RegVoltDuty))
	assert.True(t, r.bench.Relays.Get(relay.Safety))
}

func TestVoltage_ExternCheck(t *testing.T) {
	r := newRig(t)
	r.atmega.SetReg(relay.RegADCL, 101)

	require.NoError(t, r.exec.Execute(context.Background(),
		NewVoltage(r.ids, Voltage{Mode: VoltageExtern, Volts: 50}), r.env))
	assert.False(t, r.bench.Relays.Get(relay.HVExt))

	err := r.exec.Execute(context.Background(), NewVoltage(r.ids, Voltage{Mode: VoltageExtern, Volts: 100}), r.env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong external voltage 49.86V, needs to be 100V")
}

func TestVoltage_ControllerMissing(t *testing.T) {
	r := newRig(t)
	r.volt.Disconnected = true

	err := r.exec.Execute(context.Background(), NewVoltage(r.ids, Voltage{Mode: VoltageController, Volts: 50}), r.env)
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrTransport)
}

func TestPad_AddressesAndReleases(t *testing.T) {
	r := newRig(t)

	require.NoError(t, r.exec.Execute(context.Background(), NewPad(r.ids, 1, 13), r.env))

	ev := r.pins.Events
	require.Len(t, ev, 36)
	assert.Equal(t, []transporttest.PinEvent{
		{Name: "ADC_0", High: true}, {Name: "ADC_1"}, {Name: "ADC_2"}, {Name: "ADC_3"},
		{Name: "CS_1", High: true}, {Name: "CS_2"},
		{Name: "EN_1"}, {Name: "EN_2", High: true}, {Name: "EN_3"}, {Name: "EN_4"}, {Name: "EN_5"},
	}, ev[:11])
	for _, name := range PadLines() {
		assert.False(t, r.pins.Level[name], name)
	}

	assert.Equal(t, uint8(1<<3), r.atmega.Reg(relay.RegRelayL)&(1<<3))
	assert.False(t, r.bench.LEDs.Get(relay.LEDPad))
	assert.Equal(t, []string{"pad on", "pads off"}, eventNames(r.env.Log))
}

func TestPad_OutOfRangeSkipped(t *testing.T) {
	r := newRig(t)
	pad := NewPad(r.ids, 1, 1)
	pad.Pad.Pads = append(pad.Pad.Pads, 500)

	require.NoError(t, r.exec.Execute(context.Background(), pad, r.env))
	assert.Len(t, r.pins.Events, 36)
}

func TestPad_BusyGuard(t *testing.T) {
	r := newRig(t)
	r.exec.padBusy.Store(true)

	require.NoError(t, r.exec.Execute(context.Background(), NewPad(r.ids, 1, 1), r.env))
	assert.Empty(t, r.pins.Events)
	assert.Equal(t, []string{"already executing"}, eventNames(r.env.Log))
	assert.Equal(t, SeverityError, r.env.Log.Events()[0].Severity)
}

func TestPad_NoPins(t *testing.T) {
	r := newRig(t)
	r.bench.Pins = nil
	r.exec = NewExecutor(r.bench, zap.NewNop())

	err := r.exec.Execute(context.Background(), NewPad(r.ids, 1, 1), r.env)
	require.Error(t, err)
	assert.False(t, r.exec.padBusy.Load())
}

func TestDelay_Cancellable(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, r.exec.Execute(ctx, NewDelay(r.ids, 60, 0), r.env))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecute_UnknownKind(t *testing.T) {
	r := newRig(t)
	err := r.exec.Execute(context.Background(), &Task{Kind: "bogus"}, r.env)
	require.Error(t, err)
	assert.False(t, errors.Is(err, faults.ErrTransport))
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func TestExportCSV(t *testing.T) {
	r := newRig(t)
	recipe := NewRecipe(r.ids, "export",
		NewImpedance(r.ids, analyzer.KindSimulator, simParams()),
		NewTransient(r.ids, analyzer.KindSimulator, simParams(), TerminateCount, 2),
		NewImpedance(r.ids, analyzer.KindSimulator, simParams()),
	)
	require.NoError(t, r.exec.Execute(context.Background(), recipe, r.env))

	files := map[string]*strings.Builder{}
	names, err := r.env.Data.ExportCSV(func(name string) (io.WriteCloser, error) {
		b := &strings.Builder{}
		files[name] = b
		return nopCloser{b}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"imp_spectrum_0.csv",
		"trans_imp_spectrum_0_0.csv",
		"trans_imp_spectrum_0_1.csv",
		"imp_spectrum_1.csv",
	}, names)

	s, meta, err := measurement.ReadCSV(strings.NewReader(files["trans_imp_spectrum_0_1.csv"].String()))
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 1, meta.Position)
	assert.Len(t, s, 5)
}
