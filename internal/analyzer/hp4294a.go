package analyzer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/faults"
	"github.com/KevinKickass/OpenLabCore/internal/measurement"
	"github.com/KevinKickass/OpenLabCore/internal/transport"
)

// HP4294A drives an Agilent/HP 4294A precision impedance analyzer over GPIB.
// The sweep and point averaging run on the instrument.
type HP4294A struct {
	base
	dev         *transport.Handle[transport.GPIB]
	opcInterval time.Duration
	opcTimeout  time.Duration
}

func NewHP4294A(dev *transport.Handle[transport.GPIB], opcInterval, opcTimeout time.Duration, logger *zap.Logger) *HP4294A {
	return &HP4294A{
		base:        newBase(KindHP4294A, logger),
		dev:         dev,
		opcInterval: opcInterval,
		opcTimeout:  opcTimeout,
	}
}

func formatVolt(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func (a *HP4294A) applyParams(g transport.GPIB) error {
	p := a.params
	cmds := []string{
		fmt.Sprintf("STOP %dhz", p.StopFreq),
		fmt.Sprintf("STAR %dhz", p.StartFreq),
		"SWPP FREQ; POWMOD VOLT; FORM4; SWPT LOG",
		"POWE " + formatVolt(p.Voltage),
		fmt.Sprintf("BWFACT %d", p.Bandwidth),
		fmt.Sprintf("PAVERFACT %d", p.PointAverage),
		fmt.Sprintf("POIN %d", p.Points),
	}
	for _, c := range cmds {
		if err := g.Send(c); err != nil {
			return faults.Transport("hp4294a %q: %v", c, err)
		}
	}
	return nil
}

func (a *HP4294A) query(g transport.GPIB, cmd string) (string, error) {
	if err := g.Send(cmd); err != nil {
		return "", faults.Transport("hp4294a %q: %v", cmd, err)
	}
	reply, err := g.Read()
	if err != nil {
		return "", fmt.Errorf("hp4294a %q: %w", cmd, err)
	}
	if i := strings.IndexByte(reply, '\n'); i >= 0 {
		reply = reply[:i]
	}
	return strings.TrimSpace(reply), nil
}

// waitComplete polls *OPC? until the sweep reports completion.
func (a *HP4294A) waitComplete(ctx context.Context) (bool, error) {
	deadline := time.Now().Add(a.opcTimeout)
	for {
		var done bool
		err := a.dev.Exchange(func(g transport.GPIB) error {
			reply, err := a.query(g, "*OPC?")
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(reply)
			done = err == nil && n == 1
			return nil
		})
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, faults.Timeout("hp4294a sweep not complete after %s", a.opcTimeout)
		}

		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(a.opcInterval):
		}
	}
}

func (a *HP4294A) MeasureSpectrum(ctx context.Context) (measurement.Spectrum, error) {
	err := a.dev.Exchange(func(g transport.GPIB) error {
		if err := a.applyParams(g); err != nil {
			return err
		}
		return g.Send("SPLD ON; MEAS IMPH; TRAC B; FMT LINY; AUTO; TRAC A; FMT LOGY; AUTO; TRGS INT; SING")
	})
	if err != nil {
		return nil, err
	}

	done, err := a.waitComplete(ctx)
	if err != nil || !done {
		return nil, err
	}

	if err := a.dev.Exchange(func(g transport.GPIB) error {
		return g.Send("MEAS IMPH; TRAC B; FMT LINY; TRAC A; FMT LOGY; AUTO")
	}); err != nil {
		return nil, err
	}

	out := make(measurement.Spectrum, 0, a.params.Points)
	for i := 1; i <= a.params.Points; i++ {
		if ctx.Err() != nil {
			a.logger.Info("Sweep readout cancelled", zap.Int("points", len(out)))
			return out, nil
		}

		var dp measurement.DataPoint
		err := a.dev.Exchange(func(g transport.GPIB) error {
			var err error
			dp, err = a.readPoint(g, i)
			return err
		})
		if err != nil {
			return out, err
		}
		out = append(out, dp)
	}
	return out, nil
}

func (a *HP4294A) readPoint(g transport.GPIB, i int) (measurement.DataPoint, error) {
	sweepVal, err := a.query(g, fmt.Sprintf("OUTPSWPRMP? %d", i))
	if err != nil {
		return measurement.DataPoint{}, err
	}
	data, err := a.query(g, fmt.Sprintf("OUTPDATAP? %d", i))
	if err != nil {
		return measurement.DataPoint{}, err
	}

	x, err := strconv.ParseFloat(sweepVal, 64)
	if err != nil {
		return measurement.DataPoint{}, faults.Protocol("hp4294a sweep value %q", sweepVal)
	}
	reStr, imStr, ok := strings.Cut(data, ",")
	if !ok {
		return measurement.DataPoint{}, faults.Protocol("hp4294a data value %q", data)
	}
	re, err1 := strconv.ParseFloat(strings.TrimSpace(reStr), 64)
	im, err2 := strconv.ParseFloat(strings.TrimSpace(imStr), 64)
	if err1 != nil || err2 != nil {
		return measurement.DataPoint{}, faults.Protocol("hp4294a data value %q", data)
	}
	return measurement.NewDataPoint(x, re, im), nil
}
