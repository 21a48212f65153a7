package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/faults"
	"github.com/KevinKickass/OpenLabCore/internal/transport"
	"github.com/KevinKickass/OpenLabCore/internal/transport/transporttest"
)

func newATmega(t *testing.T) (*transporttest.I2C, *transport.Handle[transport.I2CDevice]) {
	t.Helper()
	fake := transporttest.NewI2C(AddrATmega)
	reg := transport.NewRegistry(10*time.Millisecond, zap.NewNop())
	h, err := transport.Acquire(reg, transport.Key{Bus: transport.BusI2C, Address: "0x10"},
		func() (transport.I2CDevice, error) { return fake, nil })
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Release() })
	return fake, h
}

func TestBank_SwitchWritesWord(t *testing.T) {
	fake, h := newATmega(t)
	b := NewBank(h, zap.NewNop())

	require.NoError(t, b.Switch(Safety, true))
	require.NoError(t, b.Switch(ExtPico, true))

	assert.Equal(t, uint8(1<<2), fake.Reg(RegRelayL))
	assert.Equal(t, uint8(1<<4), fake.Reg(RegRelayH))
	assert.True(t, b.Get(Safety))
	assert.False(t, b.Get(AC))

	require.NoError(t, b.Reset())
	assert.Equal(t, uint8(0), fake.Reg(RegRelayL))
	assert.Equal(t, uint8(0), fake.Reg(RegRelayH))
}

func TestBank_WritesAreSpaced(t *testing.T) {
	fake, h := newATmega(t)
	b := NewBank(h, zap.NewNop())
	leds := NewStatusLEDs(h)

	require.NoError(t, b.Switch(AC, true))
	require.NoError(t, leds.Set(LEDPad, true))
	require.NoError(t, b.Switch(AC, false))

	lows := fake.WritesTo(RegRelayL)
	require.Len(t, lows, 2)
	led := fake.WritesTo(RegLEDL)
	require.Len(t, led, 1)

	assert.GreaterOrEqual(t, led[0].At.Sub(lows[0].At), 10*time.Millisecond)
	assert.GreaterOrEqual(t, lows[1].At.Sub(led[0].At), 10*time.Millisecond)
	assert.Equal(t, uint8(1<<LEDPad), fake.Reg(RegLEDL))
}

func TestBank_Read(t *testing.T) {
	fake, h := newATmega(t)
	fake.SetReg(RegRelayL, 0x09)
	fake.SetReg(RegRelayH, 0x02)

	b := NewBank(h, zap.NewNop())
	require.NoError(t, b.Read())
	assert.True(t, b.Get(BoostIn))
	assert.True(t, b.Get(AC))
	assert.True(t, b.Get(ImpEWOD))
	assert.Equal(t, uint16(0x0209), b.State())
}

func TestBank_Disconnected(t *testing.T) {
	fake, h := newATmega(t)
	fake.SetReg(RegID, 0x33)

	b := NewBank(h, zap.NewNop())
	assert.False(t, b.Connected())

	err := b.Switch(Safety, true)
	assert.ErrorIs(t, err, faults.ErrTransport)
	assert.Contains(t, err.Error(), "not connected")
}

func TestRelay_String(t *testing.T) {
	assert.Equal(t, "IMP_EWOD", ImpEWOD.String())
	assert.Equal(t, "relay(7)", Relay(7).String())
}

func TestBank_ReadADC(t *testing.T) {
	fake, h := newATmega(t)
	fake.SetReg(RegADCL, 0x34)
	fake.SetReg(RegADCH, 0x02)

	v, err := NewBank(h, zap.NewNop()).ReadADC()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x234), v)
}
