package analyzer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/faults"
	"github.com/KevinKickass/OpenLabCore/internal/measurement"
	"github.com/KevinKickass/OpenLabCore/internal/methodscript"
	"github.com/KevinKickass/OpenLabCore/internal/transport"
)

// EmStatPico runs EIS sweeps on a PalmSens EmStat Pico through MethodSCRIPT.
// The whole sweep is one exchange. The EIS loop measures every frequency
// once, so a point average above 1 is accepted but has no effect.
type EmStatPico struct {
	base
	dev    *transport.Handle[transport.SerialPort]
	poll   time.Duration
	budget time.Duration
}

func NewEmStatPico(dev *transport.Handle[transport.SerialPort], poll, budget time.Duration, logger *zap.Logger) *EmStatPico {
	return &EmStatPico{
		base:   newBase(KindEmStatPico, logger),
		dev:    dev,
		poll:   poll,
		budget: budget,
	}
}

// MeasureSpectrum sends the script and collects the reply up to its end.
// After cancellation the remaining output is still consumed but dropped.
// Points decoded before an error are returned along with it.
func (a *EmStatPico) MeasureSpectrum(ctx context.Context) (measurement.Spectrum, error) {
	if a.params.PointAverage > 1 {
		a.logger.Warn("EmStat Pico does not average points, measuring each frequency once",
			zap.Int("point_average", a.params.PointAverage))
	}
	script := methodscript.EISScript(methodscript.EISParams{
		Voltage:   a.params.Voltage,
		StartFreq: float64(a.params.StartFreq),
		StopFreq:  float64(a.params.StopFreq),
		Points:    a.params.Points,
	})

	var out measurement.Spectrum
	err := a.dev.Exchange(func(port transport.SerialPort) error {
		if _, err := port.Write([]byte(script)); err != nil {
			return faults.Transport("emstat pico write script: %v", err)
		}

		dec := methodscript.NewDecoder(methodscript.NewReader(port, a.poll, a.budget), a.logger)
		return dec.Receive(ctx, func(pkg methodscript.Package) error {
			if ctx.Err() != nil {
				return nil
			}
			dp, ok, err := methodscript.AssemblePoint(pkg)
			if err != nil {
				return err
			}
			if !ok {
				a.logger.Info("Skipped invalid measurement", zap.Stringer("package", pkg))
				return nil
			}
			out = append(out, dp)
			return nil
		})
	})
	if err != nil {
		return out, fmt.Errorf("emstat pico: %w", err)
	}
	return out, nil
}
