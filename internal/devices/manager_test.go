package devices

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/analyzer"
	"github.com/KevinKickass/OpenLabCore/internal/config"
	"github.com/KevinKickass/OpenLabCore/internal/relay"
	"github.com/KevinKickass/OpenLabCore/internal/task"
	"github.com/KevinKickass/OpenLabCore/internal/transport"
	"github.com/KevinKickass/OpenLabCore/internal/transport/transporttest"
)

func simulatedManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.Analyzer.Simulate = true
	cfg.Analyzer.SimDelay = 0
	cfg.Transport.WriteSpacing = 0

	m := NewManager(cfg, zap.NewNop())
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManager_SimulatedBench(t *testing.T) {
	m := simulatedManager(t)

	for _, d := range task.Devices {
		assert.Equal(t, d != task.DeviceSpectrometer, m.Configured(d), d)
	}

	b := m.Bench()
	require.NotNil(t, b.Relays)
	require.NotNil(t, b.LEDs)
	require.NotNil(t, b.Freq)
	require.NotNil(t, b.Volt)
	require.NotNil(t, b.Pins)

	for _, kind := range []analyzer.Kind{analyzer.KindHP4294A, analyzer.KindNovocontrol, analyzer.KindEmStatPico, analyzer.KindSimulator} {
		a, err := b.Analyzers(kind)
		require.NoError(t, err, kind)
		require.NotNil(t, a)
	}
}

func TestManager_SimulatedVoltageFollowsSetpoint(t *testing.T) {
	m := simulatedManager(t)

	require.NoError(t, m.volt.Exchange(func(dev transport.I2CDevice) error {
		return dev.WriteRegister(relay.RegVoltADCLS, 0x42)
	}))
	var got uint8
	require.NoError(t, m.volt.Exchange(func(dev transport.I2CDevice) (err error) {
		got, err = dev.ReadRegister(relay.RegVoltADCL)
		return err
	}))
	assert.Equal(t, uint8(0x42), got)
}

func TestManager_Check(t *testing.T) {
	m := simulatedManager(t)

	missing := m.Check(context.Background(), []task.Device{task.DeviceATmega, task.DeviceHP4294A, task.DeviceSpectrometer})
	assert.Equal(t, []task.Device{task.DeviceSpectrometer}, missing)

	m.atmega.Dev().(*transporttest.I2C).Disconnected = true
	missing = m.Check(context.Background(), []task.Device{task.DeviceATmega})
	assert.Equal(t, []task.Device{task.DeviceATmega}, missing)

	st := m.Statuses()
	require.Len(t, st, 3)
	assert.Equal(t, task.DeviceATmega, st[0].Device)
	assert.False(t, st[0].Connected)
	assert.Equal(t, "i2c", st[0].Bus)
	assert.Equal(t, "0x10", st[0].Address)
	assert.Equal(t, "no answer on id register", st[0].Error)
}

func TestManager_HardwareMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.GPIB.Port = "/dev/does-not-exist-gpib"
	cfg.Transport.EmStat.Port = "/dev/does-not-exist-emstat"
	cfg.Transport.I2C.Bus = "does-not-exist"

	m := NewManager(cfg, zap.NewNop())
	defer m.Close()

	for _, d := range task.Devices {
		assert.False(t, m.Configured(d), d)
	}
	st := m.Probe(task.DeviceEmStatPico)
	assert.False(t, st.Configured)
	assert.NotEmpty(t, st.Error)

	_, err := m.Analyzer(analyzer.KindHP4294A)
	require.Error(t, err)

	require.NoError(t, m.SafeReset())
	require.NoError(t, m.SetLED(relay.LEDRunning, true))
}

func TestManager_ProbeAllNotifies(t *testing.T) {
	m := simulatedManager(t)

	var got []Status
	m.OnStatus(func(st []Status) { got = st })
	m.ProbeAll()

	require.Len(t, got, len(task.Devices))
	for _, st := range got {
		assert.Equal(t, st.Device != task.DeviceSpectrometer, st.Connected, st.Device)
		assert.True(t, st.Simulated)
	}
}

func TestManager_SafeReset(t *testing.T) {
	m := simulatedManager(t)

	require.NoError(t, m.bank.Switch(relay.Safety, true))
	require.NoError(t, m.SafeReset())
	assert.False(t, m.bank.Get(relay.Safety))
}

func TestPadMapping(t *testing.T) {
	assert.Equal(t, map[string]string{"EN_1": "GPIO17", "CS_2": "GPIO5"},
		padMapping(map[string]string{"en_1": "GPIO17", "cs_2": "GPIO5"}))
}

func TestMonitor_SkipsWhileBusy(t *testing.T) {
	m := simulatedManager(t)

	var probes atomic.Int32
	m.OnStatus(func([]Status) { probes.Add(1) })

	m.SetBusy(true)
	mon := NewMonitor(m, 5*time.Millisecond, zap.NewNop())
	mon.Start()
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, probes.Load())

	m.SetBusy(false)
	assert.Eventually(t, func() bool { return probes.Load() > 0 }, time.Second, 5*time.Millisecond)

	mon.Stop()
	assert.False(t, mon.IsRunning())
}
