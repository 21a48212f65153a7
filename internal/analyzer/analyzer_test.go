package analyzer

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/KevinKickass/OpenLabCore/internal/faults"
	"github.com/KevinKickass/OpenLabCore/internal/measurement"
	"github.com/KevinKickass/OpenLabCore/internal/methodscript"
	"github.com/KevinKickass/OpenLabCore/internal/transport"
	"github.com/KevinKickass/OpenLabCore/internal/transport/transporttest"
)

func gpibHandle(t *testing.T, fake *transporttest.GPIB) *transport.Handle[transport.GPIB] {
	t.Helper()
	reg := transport.NewRegistry(0, zap.NewNop())
	h, err := transport.Acquire(reg, transport.Key{Bus: transport.BusGPIB, Address: "17"},
		func() (transport.GPIB, error) { return fake, nil })
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Release() })
	return h
}

func serialHandle(t *testing.T, fake *transporttest.Serial) *transport.Handle[transport.SerialPort] {
	t.Helper()
	reg := transport.NewRegistry(0, zap.NewNop())
	h, err := transport.Acquire(reg, transport.Key{Bus: transport.BusSerial, Address: "/dev/serial0"},
		func() (transport.SerialPort, error) { return fake, nil })
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Release() })
	return h
}

func newAll(t *testing.T) []Analyzer {
	t.Helper()
	var out []Analyzer
	for _, k := range Kinds {
		a, err := New(k, Backend{
			GPIB:   gpibHandle(t, &transporttest.GPIB{}),
			Serial: serialHandle(t, &transporttest.Serial{}),
		})
		require.NoError(t, err)
		out = append(out, a)
	}
	return out
}

func TestSetters_ClampToRanges(t *testing.T) {
	for _, a := range newAll(t) {
		r := a.Ranges()
		t.Run(string(a.Kind()), func(t *testing.T) {
			a.SetStartFrequency(-5)
			a.SetStopFrequency(math.MaxInt32)
			a.SetVoltage(1000)
			a.SetPoints(0)
			a.SetPointAverage(0)

			p := a.Params()
			assert.Equal(t, r.MinFreq, p.StartFreq)
			assert.Equal(t, r.MaxFreq, p.StopFreq)
			assert.Equal(t, r.MaxVolt, p.Voltage)
			assert.Equal(t, r.MinPoints, p.Points)
			assert.Equal(t, 1, p.PointAverage)

			a.SetStartFrequency(math.MaxInt32)
			a.SetVoltage(-1)
			a.SetPoints(1 << 20)
			a.SetPointAverage(1 << 20)

			p = a.Params()
			assert.Equal(t, r.MaxFreq, p.StartFreq)
			assert.Equal(t, r.MinVolt, p.Voltage)
			assert.Equal(t, r.MaxPoints, p.Points)
			assert.Equal(t, r.MaxPointAverage, p.PointAverage)
		})
	}
}

func TestDefaults_WithinRanges(t *testing.T) {
	for _, k := range Kinds {
		_, adj := RangesFor(k).Clamp(DefaultParams(k))
		assert.Empty(t, adj, k)
	}
}

func TestClamp_ReportsAdjustments(t *testing.T) {
	p, adj := RangesFor(KindEmStatPico).Clamp(Params{StartFreq: 100, StopFreq: 1_000_000, Voltage: 0.05, Points: 10, PointAverage: 1})
	require.Len(t, adj, 1)
	assert.Equal(t, "stop_frequency", adj[0].Field)
	assert.Equal(t, 200_000, p.StopFreq)
	assert.Equal(t, FourWire, p.WireMode)
}

func TestFrequencies_LogSpaced(t *testing.T) {
	f := Frequencies(100, 1_000_000, 5)
	require.Len(t, f, 5)
	for i, want := range []float64{100, 1e3, 1e4, 1e5, 1e6} {
		assert.InEpsilon(t, want, f[i], 1e-9)
	}
	assert.Equal(t, []float64{100}, Frequencies(100, 1000, 1))
}

func TestSimulator_FullSweep(t *testing.T) {
	a := NewSimulator(rand.New(rand.NewPCG(1, 2)), 0, zap.NewNop())
	a.SetStartFrequency(10)
	a.SetStopFrequency(100_000)
	a.SetPoints(50)

	s, err := a.MeasureSpectrum(context.Background())
	require.NoError(t, err)
	require.Len(t, s, 50)

	want := Frequencies(10, 100_000, 50)
	for i, p := range s {
		assert.Equal(t, want[i], p.X())
		if i > 0 {
			assert.Greater(t, p.X(), s[i-1].X())
		}
		assert.GreaterOrEqual(t, p.Real(), 0.0)
		assert.Less(t, p.Real(), p.X())
		assert.Less(t, p.Imag(), p.X()/7)
	}
	assert.InEpsilon(t, 10, s[0].X(), 1e-12)
	assert.InEpsilon(t, 100_000, s[49].X(), 1e-9)
}

func TestSweep_CancelReturnsPrefix(t *testing.T) {
	for _, k := range []int{0, 1, 3, 7} {
		ctx, cancel := context.WithCancel(context.Background())
		if k == 0 {
			cancel()
		}
		calls := 0
		s, err := sweep(ctx, Params{StartFreq: 1, StopFreq: 1000, Points: 10, PointAverage: 1},
			func(f float64) (measurement.DataPoint, error) {
				calls++
				if calls == k {
					cancel()
				}
				return measurement.NewDataPoint(f, 1, 1), nil
			})
		cancel()

		require.NoError(t, err)
		require.Len(t, s, k)
		assert.Equal(t, Frequencies(1, 1000, 10)[:k], s.Frequencies())
	}
}

func TestSweep_Averages(t *testing.T) {
	n := 0
	s, err := sweep(context.Background(), Params{StartFreq: 100, StopFreq: 100, Points: 1, PointAverage: 4},
		func(f float64) (measurement.DataPoint, error) {
			n++
			return measurement.NewDataPoint(f, float64(n), -float64(n)), nil
		})
	require.NoError(t, err)
	require.Len(t, s, 1)
	assert.Equal(t, 2.5, s[0].Real())
	assert.Equal(t, -2.5, s[0].Imag())
}

func TestSweep_ErrorKeepsPrefix(t *testing.T) {
	n := 0
	s, err := sweep(context.Background(), Params{StartFreq: 1, StopFreq: 100, Points: 5, PointAverage: 1},
		func(f float64) (measurement.DataPoint, error) {
			n++
			if n == 3 {
				return measurement.DataPoint{}, faults.Protocol("broken")
			}
			return measurement.NewDataPoint(f, 0, 0), nil
		})
	assert.ErrorIs(t, err, faults.ErrProtocol)
	assert.Len(t, s, 2)
}

func hpHandler(freqs []float64, onData func(i int)) func(string) (string, bool) {
	return func(cmd string) (string, bool) {
		switch {
		case cmd == "*OPC?":
			return "1", true
		case strings.HasPrefix(cmd, "OUTPSWPRMP? "):
			i, _ := strconv.Atoi(strings.TrimPrefix(cmd, "OUTPSWPRMP? "))
			return fmt.Sprintf("%+.8E\n", freqs[i-1]), true
		case strings.HasPrefix(cmd, "OUTPDATAP? "):
			i, _ := strconv.Atoi(strings.TrimPrefix(cmd, "OUTPDATAP? "))
			if onData != nil {
				onData(i)
			}
			return fmt.Sprintf("%+.8E,%+.8E\n", float64(i)*10, -float64(i)), true
		}
		return "", false
	}
}

func TestHP4294A_Sweep(t *testing.T) {
	freqs := Frequencies(100, 40_000_000, 5)
	fake := &transporttest.GPIB{Handler: hpHandler(freqs, nil)}
	a := NewHP4294A(gpibHandle(t, fake), time.Millisecond, time.Second, zap.NewNop())
	a.SetPoints(5)

	s, err := a.MeasureSpectrum(context.Background())
	require.NoError(t, err)
	require.Len(t, s, 5)
	assert.InEpsilon(t, freqs[4], s[4].X(), 1e-8)
	assert.Equal(t, 30.0, s[2].Real())
	assert.Equal(t, -3.0, s[2].Imag())

	cmds := fake.Commands()
	assert.Contains(t, cmds, "STAR 100hz")
	assert.Contains(t, cmds, "STOP 40000000hz")
	assert.Contains(t, cmds, "POWE 0.050000")
	assert.Contains(t, cmds, "BWFACT 2")
	assert.Contains(t, cmds, "POIN 5")
}

func TestHP4294A_CancelDuringReadout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	freqs := Frequencies(100, 40_000_000, 10)
	fake := &transporttest.GPIB{Handler: hpHandler(freqs, func(i int) {
		if i == 3 {
			cancel()
		}
	})}
	a := NewHP4294A(gpibHandle(t, fake), time.Millisecond, time.Second, zap.NewNop())
	a.SetPoints(10)

	s, err := a.MeasureSpectrum(ctx)
	require.NoError(t, err)
	assert.Len(t, s, 3)
}

func novoHandler(status int, acks map[string]string) func(string) (string, bool) {
	var freq float64
	polls := 0
	return func(cmd string) (string, bool) {
		switch {
		case strings.HasPrefix(cmd, "GFR="):
			freq, _ = strconv.ParseFloat(strings.TrimPrefix(cmd, "GFR="), 64)
			return "OK", true
		case cmd == "ZTSTAT?":
			polls++
			if polls%2 == 1 {
				return "ZTSTAT=1 5", true
			}
			return "ZTSTAT=1 3", true
		case cmd == "ZRE?":
			return fmt.Sprintf("ZRE=6.714035e+02 -1.029636e+02 %e %d 0", freq, status), true
		}
		if r, ok := acks[cmd]; ok {
			return r, true
		}
		return "OK", true
	}
}

func TestNovocontrol_Sweep(t *testing.T) {
	fake := &transporttest.GPIB{Handler: novoHandler(2, nil)}
	a := NewNovocontrol(gpibHandle(t, fake), time.Millisecond, time.Second, zap.NewNop())
	a.SetPoints(4)
	a.SetPointAverage(2)
	a.SetWireMode(TwoWire)

	s, err := a.MeasureSpectrum(context.Background())
	require.NoError(t, err)
	require.Len(t, s, 4)
	assert.InDelta(t, 671.4035, s[0].Real(), 1e-9)
	assert.InDelta(t, -102.9636, s[0].Imag(), 1e-9)
	assert.InEpsilon(t, 100, s[0].X(), 1e-6)

	cmds := fake.Commands()
	assert.Equal(t, "FRS=2", cmds[0])
	assert.Contains(t, cmds, "ACV=0.050000")
	assert.Equal(t, "100Hz - 4000000Hz, 4pts, 0.05V, 2W", a.String())
}

func TestNovocontrol_NotOK(t *testing.T) {
	fake := &transporttest.GPIB{Handler: novoHandler(2, map[string]string{"MODE=IMP": "ERR"})}
	a := NewNovocontrol(gpibHandle(t, fake), time.Millisecond, time.Second, zap.NewNop())

	_, err := a.MeasureSpectrum(context.Background())
	assert.ErrorIs(t, err, faults.ErrTransport)
	assert.Contains(t, err.Error(), "MODE=IMP")
}

func TestNovocontrol_ResultStatus(t *testing.T) {
	fake := &transporttest.GPIB{Handler: novoHandler(int(ResultCurrentRange), nil)}
	a := NewNovocontrol(gpibHandle(t, fake), time.Millisecond, time.Second, zap.NewNop())

	s, err := a.MeasureSpectrum(context.Background())
	assert.Empty(t, s)

	var merr *MeasurementError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, ResultCurrentRange, merr.Status)
	assert.ErrorIs(t, err, faults.ErrDeviceReported)
	assert.Contains(t, err.Error(), "Current out of range")
}

func TestParseZRE_Malformed(t *testing.T) {
	for _, r := range []string{"ZRE=1 2 3", "XYZ", "ZRE=a 2 3 2 0"} {
		_, err := parseZRE(r, 1)
		assert.ErrorIs(t, err, faults.ErrProtocol, r)
	}
}

func picoPackage(t *testing.T, f, re, im float64, reMeta string) string {
	t.Helper()
	fs, err := methodscript.EncodeValue(methodscript.TypeCellFrequency, f, 'm')
	require.NoError(t, err)
	rs, err := methodscript.EncodeValue(methodscript.TypeZReal, re, 'm')
	require.NoError(t, err)
	is, err := methodscript.EncodeValue(methodscript.TypeZImag, im, 'm')
	require.NoError(t, err)
	return methodscript.EncodePackage(fs, rs+reMeta, is)
}

func picoSerial(reply string) *transporttest.Serial {
	return &transporttest.Serial{OnWrite: func(s *transporttest.Serial, w []byte) {
		if strings.HasSuffix(string(w), "cell_off\n\n") {
			s.Feed([]byte(reply))
		}
	}}
}

func TestEmStatPico_Sweep(t *testing.T) {
	reply := strings.Join([]string{
		"e",
		"M0009",
		picoPackage(t, 100, 10, -1, ",10"),
		picoPackage(t, 1000, 20, -2, ",12"),
		picoPackage(t, 10000, 30, -3, ""),
		"*",
		"",
	}, "\n") + "\n"
	fake := picoSerial(reply)

	a, err := New(KindEmStatPico, Backend{Serial: serialHandle(t, fake), LineBudget: 50 * time.Millisecond})
	require.NoError(t, err)

	s, err := a.MeasureSpectrum(context.Background())
	require.NoError(t, err)
	require.Len(t, s, 2)
	assert.InDelta(t, 100, s[0].X(), 1e-9)
	assert.InDelta(t, 10000, s[1].X(), 1e-9)
	assert.InDelta(t, -3, s[1].Imag(), 1e-9)
	assert.Contains(t, fake.Written.String(), "meas_loop_eis h r j 50m 100 200k 200 0\n")
}

func TestEmStatPico_WarnsAboutPointAverage(t *testing.T) {
	reply := picoPackage(t, 100, 10, -1, "") + "\n\n"
	core, logs := observer.New(zap.WarnLevel)

	a, err := New(KindEmStatPico, Backend{
		Serial:     serialHandle(t, picoSerial(reply)),
		LineBudget: 50 * time.Millisecond,
		Logger:     zap.New(core),
	})
	require.NoError(t, err)

	_, err = a.MeasureSpectrum(context.Background())
	require.NoError(t, err)
	assert.Zero(t, logs.Len())

	a.SetPointAverage(5)
	assert.Equal(t, 5, a.Params().PointAverage)
	_, err = a.MeasureSpectrum(context.Background())
	require.NoError(t, err)

	entries := logs.FilterMessageSnippet("does not average").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(5), entries[0].ContextMap()["point_average"])
}

func TestEmStatPico_DeviceErrorKeepsPrefix(t *testing.T) {
	reply := strings.Join([]string{
		picoPackage(t, 100, 10, -1, ""),
		"!0011: Line 9, Col 3",
		"",
	}, "\n") + "\n"

	a, err := New(KindEmStatPico, Backend{Serial: serialHandle(t, picoSerial(reply)), LineBudget: 50 * time.Millisecond})
	require.NoError(t, err)

	s, err := a.MeasureSpectrum(context.Background())
	var derr *methodscript.DeviceError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, methodscript.ErrInvalidFrequency, derr.Kind)
	assert.Len(t, s, 1)
}

func TestEmStatPico_CancelDrainsOutput(t *testing.T) {
	reply := picoPackage(t, 100, 10, -1, "") + "\n" + picoPackage(t, 200, 10, -1, "") + "\n\n"
	fake := picoSerial(reply)

	a, err := New(KindEmStatPico, Backend{Serial: serialHandle(t, fake), LineBudget: 50 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := a.MeasureSpectrum(ctx)
	require.NoError(t, err)
	assert.Empty(t, s)

	n, _ := fake.Available()
	assert.Zero(t, n)
}

func TestEmStatPico_Timeout(t *testing.T) {
	a, err := New(KindEmStatPico, Backend{Serial: serialHandle(t, &transporttest.Serial{}), LineBudget: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = a.MeasureSpectrum(context.Background())
	assert.ErrorIs(t, err, faults.ErrTimeout)
}

func TestNew_UnknownAndMissingSessions(t *testing.T) {
	_, err := New("fancy", Backend{})
	assert.Error(t, err)
	_, err = New(KindHP4294A, Backend{})
	assert.Error(t, err)
	_, err = New(KindEmStatPico, Backend{})
	assert.Error(t, err)
}

func TestParams_String(t *testing.T) {
	a := NewSimulator(nil, 0, zap.NewNop())
	assert.Equal(t, "100Hz - 4000000Hz, 100pts, 0.05V", a.String())
	assert.Equal(t, "EmStat pico", KindEmStatPico.DisplayName())
	assert.True(t, KindSimulator.Internal())
	assert.False(t, KindHP4294A.Internal())
}
