package analyzer

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/faults"
	"github.com/KevinKickass/OpenLabCore/internal/measurement"
)

// Kind identifies one of the supported impedance analyzers.
type Kind string

const (
	KindHP4294A     Kind = "hp4294a"
	KindNovocontrol Kind = "novocontrol"
	KindEmStatPico  Kind = "emstat_pico"
	KindSimulator   Kind = "simulator"
)

// Kinds lists every analyzer kind.
var Kinds = []Kind{KindHP4294A, KindNovocontrol, KindEmStatPico, KindSimulator}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Internal reports whether the analyzer is wired inside the bench, which
// decides the EXT_PICO relay position.
func (k Kind) Internal() bool {
	return k == KindEmStatPico || k == KindSimulator
}

// DisplayName is the device name used in task names and logs.
func (k Kind) DisplayName() string {
	switch k {
	case KindHP4294A:
		return "HP4294A"
	case KindNovocontrol:
		return "Novocontrol"
	case KindEmStatPico:
		return "EmStat pico"
	case KindSimulator:
		return "DummyImpAnalyser"
	default:
		return string(k)
	}
}

// WireMode is the electrode topology.
type WireMode int

const (
	TwoWire   WireMode = 2
	ThreeWire WireMode = 3
	FourWire  WireMode = 4
)

func (w WireMode) Valid() bool {
	return w == TwoWire || w == ThreeWire || w == FourWire
}

// Ranges are the limits a device accepts.
type Ranges struct {
	MinFreq         int     `json:"min_frequency"`
	MaxFreq         int     `json:"max_frequency"`
	MinVolt         float64 `json:"min_voltage"`
	MaxVolt         float64 `json:"max_voltage"`
	MinPoints       int     `json:"min_points"`
	MaxPoints       int     `json:"max_points"`
	MaxPointAverage int     `json:"max_point_average"`
	MinBandwidth    int     `json:"min_bandwidth,omitempty"`
	MaxBandwidth    int     `json:"max_bandwidth,omitempty"`
}

// Params is the sweep configuration of an analyzer.
type Params struct {
	StartFreq    int      `json:"start_frequency" yaml:"start_frequency"`
	StopFreq     int      `json:"stop_frequency" yaml:"stop_frequency"`
	Voltage      float64  `json:"voltage" yaml:"voltage"`
	Points       int      `json:"points" yaml:"points"`
	PointAverage int      `json:"point_average" yaml:"point_average"`
	WireMode     WireMode `json:"wire_mode,omitempty" yaml:"wire_mode,omitempty"`
	Bandwidth    int      `json:"bandwidth,omitempty" yaml:"bandwidth,omitempty"`
}

func (p Params) String() string {
	return fmt.Sprintf("%dHz - %dHz, %dpts, %sV", p.StartFreq, p.StopFreq, p.Points,
		strconv.FormatFloat(p.Voltage, 'g', -1, 64))
}

// Adjustment records one clamped field.
type Adjustment struct {
	Field string  `json:"field"`
	From  float64 `json:"from"`
	To    float64 `json:"to"`
}

func (a Adjustment) String() string {
	return fmt.Sprintf("%s %g clamped to %g", a.Field, a.From, a.To)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp brings every field of p into r and reports what changed. A zero
// wire mode becomes four wire.
func (r Ranges) Clamp(p Params) (Params, []Adjustment) {
	var adj []Adjustment
	intField := func(name string, v *int, lo, hi int) {
		if c := clampInt(*v, lo, hi); c != *v {
			adj = append(adj, Adjustment{Field: name, From: float64(*v), To: float64(c)})
			*v = c
		}
	}

	intField("start_frequency", &p.StartFreq, r.MinFreq, r.MaxFreq)
	intField("stop_frequency", &p.StopFreq, r.MinFreq, r.MaxFreq)
	if c := clampFloat(p.Voltage, r.MinVolt, r.MaxVolt); c != p.Voltage {
		adj = append(adj, Adjustment{Field: "voltage", From: p.Voltage, To: c})
		p.Voltage = c
	}
	intField("points", &p.Points, r.MinPoints, r.MaxPoints)
	intField("point_average", &p.PointAverage, 1, r.MaxPointAverage)
	if r.MaxBandwidth > 0 {
		intField("bandwidth", &p.Bandwidth, r.MinBandwidth, r.MaxBandwidth)
	} else {
		p.Bandwidth = 0
	}
	if !p.WireMode.Valid() {
		p.WireMode = FourWire
	}
	return p, adj
}

// Analyzer is an impedance analyzer able to sweep a spectrum.
type Analyzer interface {
	Kind() Kind
	Ranges() Ranges
	Params() Params

	SetStartFrequency(hz int)
	SetStopFrequency(hz int)
	SetVoltage(v float64)
	SetPoints(n int)
	SetPointAverage(n int)
	SetWireMode(w WireMode)
	SetBandwidth(bw int)

	// MeasureSpectrum sweeps the configured range. On cancellation it
	// returns the points measured so far without error.
	MeasureSpectrum(ctx context.Context) (measurement.Spectrum, error)

	String() string
}

// base implements the parameter model shared by all variants.
type base struct {
	kind   Kind
	ranges Ranges
	params Params
	logger *zap.Logger
}

func newBase(kind Kind, logger *zap.Logger) base {
	b := base{kind: kind, ranges: RangesFor(kind), logger: logger}
	b.params, _ = b.ranges.Clamp(DefaultParams(kind))
	return b
}

func (b *base) Kind() Kind     { return b.kind }
func (b *base) Ranges() Ranges { return b.ranges }
func (b *base) Params() Params { return b.params }
func (b *base) String() string { return b.params.String() }
func (b *base) apply(p Params) {
	clamped, adj := b.ranges.Clamp(p)
	for _, a := range adj {
		b.logger.Debug("Parameter clamped",
			zap.String("analyzer", string(b.kind)),
			zap.Stringer("adjustment", a),
			zap.Error(faults.ErrConfiguration))
	}
	b.params = clamped
}

func (b *base) SetStartFrequency(hz int) {
	p := b.params
	p.StartFreq = hz
	b.apply(p)
}

func (b *base) SetStopFrequency(hz int) {
	p := b.params
	p.StopFreq = hz
	b.apply(p)
}

func (b *base) SetVoltage(v float64) {
	p := b.params
	p.Voltage = v
	b.apply(p)
}

func (b *base) SetPoints(n int) {
	p := b.params
	p.Points = n
	b.apply(p)
}

func (b *base) SetPointAverage(n int) {
	p := b.params
	p.PointAverage = n
	b.apply(p)
}

func (b *base) SetWireMode(w WireMode) {
	p := b.params
	p.WireMode = w
	b.apply(p)
}

func (b *base) SetBandwidth(bw int) {
	p := b.params
	p.Bandwidth = bw
	b.apply(p)
}

// Configure applies every field of p through the clamping setters.
func Configure(a Analyzer, p Params) {
	a.SetStartFrequency(p.StartFreq)
	a.SetStopFrequency(p.StopFreq)
	a.SetVoltage(p.Voltage)
	a.SetPoints(p.Points)
	a.SetPointAverage(p.PointAverage)
	a.SetWireMode(p.WireMode)
	a.SetBandwidth(p.Bandwidth)
}
