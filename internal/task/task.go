package task

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/KevinKickass/OpenLabCore/internal/analyzer"
)

// Kind is the closed set of task types.
type Kind string

const (
	KindDelay     Kind = "delay"
	KindImpedance Kind = "impedance"
	KindTransient Kind = "transient_impedance"
	KindFrequency Kind = "i2c_frequency"
	KindVoltage   Kind = "i2c_voltage"
	KindPad       Kind = "pad"
	KindRecipe    Kind = "recipe"
)

// Task is one step of an experiment. Exactly the payload matching Kind is set.
type Task struct {
	ID      int64
	Label   string
	Comment string
	Kind    Kind

	Delay     *Delay
	Impedance *Impedance
	Transient *Transient
	Frequency *Frequency
	Voltage   *Voltage
	Pad       *Pad
	Recipe    *Recipe
}

type Delay struct {
	Seconds int
	Millis  int
}

func (d Delay) Duration() time.Duration {
	return time.Duration(d.Seconds)*time.Second + time.Duration(d.Millis)*time.Millisecond
}

// Impedance measures one spectrum.
type Impedance struct {
	Analyzer analyzer.Kind
	Params   analyzer.Params
}

type Termination int

const (
	TerminateCount Termination = iota
	TerminateTime
)

// Transient measures spectra until Count spectra were captured or Seconds
// elapsed, depending on Mode.
type Transient struct {
	Analyzer analyzer.Kind
	Params   analyzer.Params
	Mode     Termination
	Count    int
	Seconds  int
}

// Frequency programs the AC generator. 0 Hz switches the output off.
type Frequency struct {
	Hz uint32
}

type VoltageMode int

const (
	VoltageController VoltageMode = iota
	VoltageDutyCycle
	VoltageExtern
)

func (m VoltageMode) String() string {
	switch m {
	case VoltageController:
		return "controller"
	case VoltageDutyCycle:
		return "duty_cycle"
	case VoltageExtern:
		return "extern"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Voltage sets the high voltage source.
type Voltage struct {
	Mode           VoltageMode
	Volts          int
	DutyCycle      float64
	WaitForVoltage bool
}

// Pad powers electrode pads for a duration.
type Pad struct {
	Pads   []int
	Millis int
}

// Recipe is an ordered list of tasks. Recipes may contain recipes.
type Recipe struct {
	Tasks []*Task
}

func (r *Recipe) Add(t ...*Task) {
	r.Tasks = append(r.Tasks, t...)
}

func NewDelay(ids *IDGenerator, seconds, millis int) *Task {
	return &Task{ID: ids.Next(), Kind: KindDelay, Delay: &Delay{Seconds: max(seconds, 0), Millis: max(millis, 0)}}
}

// NewImpedance clamps p into the ranges of kind.
func NewImpedance(ids *IDGenerator, kind analyzer.Kind, p analyzer.Params) *Task {
	p, _ = analyzer.RangesFor(kind).Clamp(p)
	return &Task{ID: ids.Next(), Kind: KindImpedance, Impedance: &Impedance{Analyzer: kind, Params: p}}
}

func NewTransient(ids *IDGenerator, kind analyzer.Kind, p analyzer.Params, mode Termination, n int) *Task {
	p, _ = analyzer.RangesFor(kind).Clamp(p)
	tr := &Transient{Analyzer: kind, Params: p, Mode: mode}
	if mode == TerminateTime {
		tr.Seconds = max(n, 0)
	} else {
		tr.Count = max(n, 0)
	}
	return &Task{ID: ids.Next(), Kind: KindTransient, Transient: tr}
}

func NewFrequency(ids *IDGenerator, hz uint32) *Task {
	return &Task{ID: ids.Next(), Kind: KindFrequency, Frequency: &Frequency{Hz: hz}}
}

// NewVoltage clamps the voltage to the boost converter maximum and the duty
// cycle to (0, 1].
func NewVoltage(ids *IDGenerator, v Voltage) *Task {
	v.Volts = min(max(v.Volts, 0), MaxBoostVoltage)
	if v.DutyCycle <= 0 || v.DutyCycle > 1 {
		v.DutyCycle = 0.5
	}
	return &Task{ID: ids.Next(), Kind: KindVoltage, Voltage: &v}
}

// NewPad keeps the first occurrence of every pad.
func NewPad(ids *IDGenerator, millis int, pads ...int) *Task {
	seen := make(map[int]bool, len(pads))
	var unique []int
	for _, p := range pads {
		if !seen[p] {
			seen[p] = true
			unique = append(unique, p)
		}
	}
	return &Task{ID: ids.Next(), Kind: KindPad, Pad: &Pad{Pads: unique, Millis: max(millis, 0)}}
}

func NewRecipe(ids *IDGenerator, name string, tasks ...*Task) *Task {
	return &Task{ID: ids.Next(), Label: name, Kind: KindRecipe, Recipe: &Recipe{Tasks: tasks}}
}

func (t *Task) Type() Kind { return t.Kind }

// Name returns the label if set, otherwise a name derived from the payload.
func (t *Task) Name() string {
	if t.Label != "" {
		return t.Label
	}

	switch t.Kind {
	case KindDelay:
		return formatDelay(t.Delay) + " delay"
	case KindImpedance:
		return paramsLabel(t.Impedance.Analyzer, t.Impedance.Params)
	case KindTransient:
		tr := t.Transient
		var s string
		if tr.Mode == TerminateTime {
			s = FormatSeconds(tr.Seconds)
		} else {
			s = strconv.Itoa(tr.Count) + " spectrums"
		}
		return s + " -- " + paramsLabel(tr.Analyzer, tr.Params)
	case KindFrequency:
		if t.Frequency.Hz == 0 {
			return "freq off"
		}
		return fmt.Sprintf("f = %d Hz", t.Frequency.Hz)
	case KindVoltage:
		v := t.Voltage
		source := "internal source"
		if v.Mode == VoltageExtern {
			source = "external source"
		}
		switch {
		case v.Mode == VoltageDutyCycle:
			return source + " - D=" + strconv.FormatFloat(v.DutyCycle*100, 'g', -1, 64) + "%"
		case v.Volts > 0:
			return fmt.Sprintf("%s - V=%dV", source, v.Volts)
		default:
			return source + " - voltage off"
		}
	case KindPad:
		name := "power pad"
		if len(t.Pad.Pads) > 1 {
			name += "s"
		}
		return fmt.Sprintf("%s %s for %dms", name, joinInts(t.Pad.Pads), t.Pad.Millis)
	case KindRecipe:
		return "recipe"
	default:
		return string(t.Kind)
	}
}

func paramsLabel(kind analyzer.Kind, p analyzer.Params) string {
	s := p.String()
	if kind == analyzer.KindNovocontrol {
		s += fmt.Sprintf(", %dW", p.WireMode)
	}
	return s
}

func formatDelay(d *Delay) string {
	var parts []string
	if d.Seconds > 0 {
		parts = append(parts, FormatSeconds(d.Seconds))
	}
	if d.Millis > 0 || d.Seconds == 0 {
		parts = append(parts, strconv.Itoa(d.Millis)+"ms")
	}
	return strings.Join(parts, " ")
}

// FormatSeconds renders sec as "1h 2m 3s", omitting leading zero units.
func FormatSeconds(sec int) string {
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60

	var b strings.Builder
	if h > 0 {
		fmt.Fprintf(&b, "%dh ", h)
	}
	if h > 0 || m > 0 {
		fmt.Fprintf(&b, "%dm ", m)
	}
	fmt.Fprintf(&b, "%ds", s)
	return b.String()
}

func joinInts(v []int) string {
	s := make([]string, len(v))
	for i, n := range v {
		s[i] = strconv.Itoa(n)
	}
	return strings.Join(s, ", ")
}

// NecessaryDevices lists the devices the task needs. For recipes it is the
// union over all descendants in first-seen order.
func (t *Task) NecessaryDevices() []Device {
	switch t.Kind {
	case KindImpedance:
		return analyzerDevices(t.Impedance.Analyzer)
	case KindTransient:
		return analyzerDevices(t.Transient.Analyzer)
	case KindFrequency:
		return []Device{DeviceATtinyFreq, DeviceATmega}
	case KindVoltage:
		if t.Voltage.Mode == VoltageExtern {
			return []Device{DeviceATmega}
		}
		return []Device{DeviceATtinyVolt, DeviceATmega}
	case KindPad:
		return []Device{DeviceATmega}
	case KindRecipe:
		var out []Device
		seen := map[Device]bool{}
		for _, child := range t.Recipe.Tasks {
			for _, d := range child.NecessaryDevices() {
				if !seen[d] {
					seen[d] = true
					out = append(out, d)
				}
			}
		}
		return out
	default:
		return nil
	}
}

// Walk calls fn for t and every descendant in depth-first order.
func (t *Task) Walk(fn func(*Task)) {
	fn(t)
	if t.Kind == KindRecipe && t.Recipe != nil {
		for _, child := range t.Recipe.Tasks {
			child.Walk(fn)
		}
	}
}
