package analyzer

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/measurement"
)

// Simulator produces random spectra for benches without hardware.
type Simulator struct {
	base
	delay time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(rng *rand.Rand, delay time.Duration, logger *zap.Logger) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Simulator{base: newBase(KindSimulator, logger), rng: rng, delay: delay}
}

func (a *Simulator) measureFreq(freq float64) (measurement.DataPoint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	re := a.rng.Float64() * freq
	im := a.rng.Float64() * freq / 7
	return measurement.NewDataPoint(freq, re, im), nil
}

func (a *Simulator) MeasureSpectrum(ctx context.Context) (measurement.Spectrum, error) {
	out, err := sweep(ctx, a.params, a.measureFreq)
	if err != nil || a.delay <= 0 {
		return out, err
	}

	select {
	case <-ctx.Done():
	case <-time.After(a.delay):
	}
	return out, nil
}
