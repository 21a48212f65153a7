package task

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/relay"
)

// MaxPad is the highest pad number: two boards with 59 pads each.
const MaxPad = 118

const (
	padsPerBoard = 59
	padsPerUC    = 12
)

var (
	padAddrLines = []string{"ADC_0", "ADC_1", "ADC_2", "ADC_3"}
	padEnLines   = []string{"EN_1", "EN_2", "EN_3", "EN_4", "EN_5"}
	padCSLines   = []string{"CS_1", "CS_2"}
)

// PadLines lists every GPIO line the pad task drives.
func PadLines() []string {
	out := append([]string(nil), padAddrLines...)
	out = append(out, padEnLines...)
	return append(out, padCSLines...)
}

// PadAddress splits a pad number into board, microcontroller and pad on
// that microcontroller, all 1-based.
func PadAddress(pad int) (pcb, uc, no int, ok bool) {
	if pad < 1 || pad > MaxPad {
		return 0, 0, 0, false
	}
	pcb = int(math.Ceil(float64(pad) / padsPerBoard))
	uc = int(math.Ceil(float64(pad-(pcb-1)*padsPerBoard) / padsPerUC))
	no = pad - ((pcb-1)*padsPerBoard + (uc-1)*padsPerUC)
	return pcb, uc, no, true
}

func (e *Executor) runPad(ctx context.Context, t *Task, env *Env) error {
	if !e.padBusy.CompareAndSwap(false, true) {
		env.Log.Error("already executing", "already powering pads")
		return nil
	}
	defer e.padBusy.Store(false)

	if e.bench.Pins == nil {
		return fmt.Errorf("pad gpio lines are not configured")
	}
	bank, err := e.relays()
	if err != nil {
		return err
	}
	if err := bank.Switch(relay.AC, true); err != nil {
		return err
	}
	e.led(relay.LEDPad, true)
	defer e.led(relay.LEDPad, false)

	for _, pad := range t.Pad.Pads {
		if err := e.setPadHigh(pad); err != nil {
			return err
		}
	}
	env.Log.Info("pad on", fmt.Sprintf("pads %s for %dms", joinInts(t.Pad.Pads), t.Pad.Millis))

	sleep(ctx, time.Duration(t.Pad.Millis)*time.Millisecond)

	if err := e.setPadsLow(); err != nil {
		return err
	}
	env.Log.Info("pads off", "setting all pads to low")
	return nil
}

func (e *Executor) setLines(names []string, level func(i int) bool) error {
	for i, n := range names {
		if err := e.bench.Pins.Set(n, level(i)); err != nil {
			return fmt.Errorf("gpio %s: %w", n, err)
		}
	}
	return nil
}

func (e *Executor) setPadHigh(pad int) error {
	pcb, uc, no, ok := PadAddress(pad)
	if !ok {
		e.logger.Warn("Pad out of range ignored", zap.Int("pad", pad), zap.Int("max", MaxPad))
		return nil
	}
	pulse := e.bench.Timing.PadPulse

	if err := e.setLines(padAddrLines, func(i int) bool { return no>>i&1 == 1 }); err != nil {
		return err
	}
	if err := e.setLines(padCSLines, func(i int) bool { return i+1 == pcb }); err != nil {
		return err
	}
	time.Sleep(pulse)
	if err := e.setLines(padEnLines, func(i int) bool { return i+1 == uc }); err != nil {
		return err
	}
	time.Sleep(pulse)
	if err := e.setLines(padEnLines, func(int) bool { return false }); err != nil {
		return err
	}
	return e.setLines(padCSLines, func(int) bool { return false })
}

// setPadsLow latches address 0 into every microcontroller.
func (e *Executor) setPadsLow() error {
	low := func(int) bool { return false }
	high := func(int) bool { return true }

	if err := e.setLines(padAddrLines, low); err != nil {
		return err
	}
	time.Sleep(e.bench.Timing.PadPulse)
	if err := e.setLines(padEnLines, high); err != nil {
		return err
	}
	if err := e.setLines(padCSLines, high); err != nil {
		return err
	}
	time.Sleep(e.bench.Timing.PadPulse * 3 / 2)
	if err := e.setLines(padEnLines, low); err != nil {
		return err
	}
	return e.setLines(padCSLines, low)
}
