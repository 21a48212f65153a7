package task

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/analyzer"
	"github.com/KevinKickass/OpenLabCore/internal/faults"
	"github.com/KevinKickass/OpenLabCore/internal/relay"
	"github.com/KevinKickass/OpenLabCore/internal/transient"
	"github.com/KevinKickass/OpenLabCore/internal/transport"
)

// Timing holds the bench delays. Tests shorten them.
type Timing struct {
	RelaySettle   time.Duration
	VoltageRetry  time.Duration
	VoltagePoll   time.Duration
	VoltageStable time.Duration
	DischargePoll time.Duration
	PadPulse      time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		RelaySettle:   51 * time.Millisecond,
		VoltageRetry:  time.Millisecond,
		VoltagePoll:   500 * time.Millisecond,
		VoltageStable: 2 * time.Second,
		DischargePoll: 50 * time.Millisecond,
		PadPulse:      20 * time.Microsecond,
	}
}

// AnalyzerSource returns a ready analyzer of kind.
type AnalyzerSource func(kind analyzer.Kind) (analyzer.Analyzer, error)

// Bench is the hardware the executor drives. Fields a recipe does not need
// may be nil.
type Bench struct {
	Relays    *relay.Bank
	LEDs      *relay.StatusLEDs
	Freq      *transport.Handle[transport.I2CDevice]
	Volt      *transport.Handle[transport.I2CDevice]
	Pins      transport.Pins
	Analyzers AnalyzerSource
	Timing    Timing
}

// Env is the per-execution context of a run.
type Env struct {
	Log  *Logbook
	Data *ExperimentData

	// Listener receives every transient spectrum. Optional.
	Listener transient.Listener
	// Catalogue registers transient spectra. Optional.
	Catalogue *transient.Catalogue
	QueueSize int
}

// Executor runs tasks against one bench.
type Executor struct {
	bench  Bench
	logger *zap.Logger

	padBusy atomic.Bool
}

func NewExecutor(bench Bench, logger *zap.Logger) *Executor {
	if bench.Timing == (Timing{}) {
		bench.Timing = DefaultTiming()
	}
	return &Executor{bench: bench, logger: logger}
}

// Execute runs t. A cancelled ctx stops the run between tasks and sweep
// points without an error.
func (e *Executor) Execute(ctx context.Context, t *Task, env *Env) error {
	if ctx.Err() != nil {
		return nil
	}

	switch t.Kind {
	case KindRecipe:
		return e.runRecipe(ctx, t, env)
	case KindDelay:
		return e.runDelay(ctx, t, env)
	case KindImpedance:
		return e.runImpedance(ctx, t, env)
	case KindTransient:
		return e.runTransient(ctx, t, env)
	case KindFrequency:
		return e.runFrequency(t, env)
	case KindVoltage:
		return e.runVoltage(ctx, t, env)
	case KindPad:
		return e.runPad(ctx, t, env)
	default:
		return fmt.Errorf("unsupported task kind: %s", t.Kind)
	}
}

func (e *Executor) runRecipe(ctx context.Context, t *Task, env *Env) error {
	desc := fmt.Sprintf("recipe %s(%d)", t.Name(), t.ID)
	env.Log.Info("start recipe", desc)

	var err error
	for _, child := range t.Recipe.Tasks {
		if ctx.Err() != nil {
			break
		}
		if err = e.Execute(ctx, child, env); err != nil {
			break
		}
	}

	if err != nil {
		env.Log.Error("end recipe", desc+" - "+err.Error())
		return err
	}
	env.Log.Info("end recipe", desc)
	return nil
}

func (e *Executor) runDelay(ctx context.Context, t *Task, env *Env) error {
	env.Log.Info("delaying", "delaying for "+formatDelay(t.Delay))
	sleep(ctx, t.Delay.Duration())
	return nil
}

// sleep waits for d or until ctx is done and reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Executor) relays() (*relay.Bank, error) {
	if e.bench.Relays == nil {
		return nil, faults.Transport("relay microcontroller is not configured")
	}
	if !e.bench.Relays.Connected() {
		return nil, faults.Transport("relay microcontroller is not connected")
	}
	return e.bench.Relays, nil
}

func (e *Executor) led(l relay.LED, on bool) {
	if e.bench.LEDs == nil {
		return
	}
	if err := e.bench.LEDs.Set(l, on); err != nil {
		e.logger.Warn("Status LED not written", zap.Uint8("led", uint8(l)), zap.Error(err))
	}
}
