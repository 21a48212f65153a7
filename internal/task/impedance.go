package task

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/analyzer"
	"github.com/KevinKickass/OpenLabCore/internal/relay"
	"github.com/KevinKickass/OpenLabCore/internal/transient"
)

func (e *Executor) analyzer(kind analyzer.Kind, p analyzer.Params) (analyzer.Analyzer, error) {
	if e.bench.Analyzers == nil {
		return nil, fmt.Errorf("no analyzer source configured")
	}
	a, err := e.bench.Analyzers(kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind.DisplayName(), err)
	}
	analyzer.Configure(a, p)
	return a, nil
}

// connectAnalyzer routes the electrodes to the analyzer and sets the wire
// mode relays.
func (e *Executor) connectAnalyzer(env *Env, kind analyzer.Kind, wire analyzer.WireMode) error {
	bank, err := e.relays()
	if err != nil {
		return err
	}

	bank.Set(relay.AC, false)
	bank.Set(relay.ImpEWOD, true)
	if err := bank.Write(); err != nil {
		return err
	}
	env.Log.Info("switched relais", "switched relais to imp measurement")
	time.Sleep(e.bench.Timing.RelaySettle)

	bank.Set(relay.ExtPico, !kind.Internal())
	if err := bank.Write(); err != nil {
		return err
	}
	if kind.Internal() {
		env.Log.Info("switched relais", "switched relais to internal imp measurement")
	} else {
		env.Log.Info("switched relais", "switched relais to external imp measurement")
	}

	switch wire {
	case analyzer.TwoWire:
		bank.Set(relay.REpCE, true)
		bank.Set(relay.WEpWEs, true)
	case analyzer.ThreeWire:
		bank.Set(relay.REpCE, false)
		bank.Set(relay.WEpWEs, true)
	default:
		bank.Set(relay.REpCE, false)
		bank.Set(relay.WEpWEs, false)
	}
	if err := bank.Write(); err != nil {
		return err
	}
	env.Log.Info("switched relais", "switched relais to configure "+strconv.Itoa(int(wire))+"-wire mode")

	e.led(relay.LEDImpedance, true)
	return nil
}

// disconnectAnalyzer returns the electrodes to EWOD mode. It runs after
// successful and failed measurements alike.
func (e *Executor) disconnectAnalyzer(env *Env) {
	defer e.led(relay.LEDImpedance, false)

	bank := e.bench.Relays
	if bank == nil {
		return
	}
	if err := bank.Switch(relay.ExtPico, true); err != nil {
		e.logger.Error("Relay reset after measurement failed", zap.Error(err))
		return
	}
	time.Sleep(e.bench.Timing.RelaySettle)
	if err := bank.Switch(relay.ImpEWOD, false); err != nil {
		e.logger.Error("Relay reset after measurement failed", zap.Error(err))
		return
	}
	env.Log.Info("switched relais", "switched relais to ewod mode")
}

func (e *Executor) runImpedance(ctx context.Context, t *Task, env *Env) error {
	p := t.Impedance
	a, err := e.analyzer(p.Analyzer, p.Params)
	if err != nil {
		return err
	}

	if err := e.connectAnalyzer(env, p.Analyzer, a.Params().WireMode); err != nil {
		e.disconnectAnalyzer(env)
		return err
	}

	name := p.Analyzer.DisplayName()
	env.Log.Info("imp. measurement start", fmt.Sprintf("%s triggered to measure - %s", name, a))
	s, err := a.MeasureSpectrum(ctx)
	if err != nil {
		env.Log.Error(name+" error", err.Error())
		e.disconnectAnalyzer(env)
		return fmt.Errorf("%s: %w", name, err)
	}
	env.Data.AddImpedanceSpectrum(t, s)
	env.Log.Info("imp. measurement done", fmt.Sprintf("%s is done - %s", name, a))

	e.disconnectAnalyzer(env)
	return nil
}

func (e *Executor) runTransient(ctx context.Context, t *Task, env *Env) error {
	p := t.Transient
	a, err := e.analyzer(p.Analyzer, p.Params)
	if err != nil {
		return err
	}

	if err := e.connectAnalyzer(env, p.Analyzer, a.Params().WireMode); err != nil {
		e.disconnectAnalyzer(env)
		return err
	}

	ts := transient.New(env.Listener, env.QueueSize, e.logger)
	env.Data.AddTransient(t, ts)
	if env.Catalogue != nil {
		env.Catalogue.Add(ts)
	}

	err = e.captureTransient(ctx, p, a, ts, env)
	ts.SetProgress(1)
	ts.Close()

	if err != nil {
		env.Log.Error(p.Analyzer.DisplayName()+" error", err.Error())
	}
	e.disconnectAnalyzer(env)
	if err != nil {
		return fmt.Errorf("%s: %w", p.Analyzer.DisplayName(), err)
	}
	return nil
}

func (e *Executor) captureTransient(ctx context.Context, p *Transient, a analyzer.Analyzer, ts *transient.Spectrum, env *Env) error {
	start := time.Now()

	for i := 1; ctx.Err() == nil; i++ {
		if p.Mode == TerminateCount && i > p.Count {
			return nil
		}

		s, err := a.MeasureSpectrum(ctx)
		if err != nil {
			return err
		}
		if err := ts.AddSpectrum(s); err != nil {
			return err
		}

		if p.Mode == TerminateTime {
			elapsed := time.Since(start).Seconds()
			env.Log.Info("spectrum captured", fmt.Sprintf("transient measurement - captured spectrum %d  -  %s elapsed of %s",
				i, FormatSeconds(int(elapsed)), FormatSeconds(p.Seconds)))
			if p.Seconds > 0 {
				ts.SetProgress(elapsed / float64(p.Seconds))
			}
			if elapsed >= float64(p.Seconds) {
				return nil
			}
		} else {
			env.Log.Info("spectrum captured", fmt.Sprintf("transient measurement - captured spectrum %d of %d", i, p.Count))
			ts.SetProgress(float64(i) / float64(p.Count))
		}
	}
	return nil
}
