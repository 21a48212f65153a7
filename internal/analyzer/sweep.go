package analyzer

import (
	"context"
	"math"

	"github.com/KevinKickass/OpenLabCore/internal/measurement"
)

// Frequencies returns points log spaced frequencies from start to stop
// inclusive.
func Frequencies(start, stop, points int) []float64 {
	if points <= 0 {
		return nil
	}
	lo := math.Log10(float64(start))
	hi := math.Log10(float64(stop))

	step := 0.0
	if points > 1 {
		step = (hi - lo) / float64(points-1)
	}

	out := make([]float64, points)
	for i := range out {
		out[i] = math.Pow(10, lo+float64(i)*step)
	}
	return out
}

type measureFunc func(freq float64) (measurement.DataPoint, error)

// sweep measures every frequency of p, averaging PointAverage readings per
// frequency. Cancellation is checked before each frequency.
func sweep(ctx context.Context, p Params, measure measureFunc) (measurement.Spectrum, error) {
	freqs := Frequencies(p.StartFreq, p.StopFreq, p.Points)
	out := make(measurement.Spectrum, 0, len(freqs))

	avg := max(p.PointAverage, 1)
	for _, f := range freqs {
		if ctx.Err() != nil {
			return out, nil
		}

		first, err := measure(f)
		if err != nil {
			return out, err
		}
		re, im := first.Real(), first.Imag()
		for i := 1; i < avg; i++ {
			dp, err := measure(f)
			if err != nil {
				return out, err
			}
			re += dp.Real()
			im += dp.Imag()
		}
		out = append(out, measurement.NewDataPoint(first.X(), re/float64(avg), im/float64(avg)))
	}
	return out, nil
}
