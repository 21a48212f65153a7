package measurement

import (
	"encoding/json"
	"math"
	"math/cmplx"
)

// DataPoint is one sample of a spectrum: x (usually frequency in Hz) and a
// complex y. Phase is kept in radians; degrees are derived.
type DataPoint struct {
	x float64
	y complex128
}

func NewDataPoint(x, re, im float64) DataPoint {
	return DataPoint{x: x, y: complex(re, im)}
}

// NewDataPointPolar builds a point from magnitude and phase (radians).
func NewDataPointPolar(x, abs, phase float64) DataPoint {
	return DataPoint{x: x, y: cmplx.Rect(abs, phase)}
}

func (p DataPoint) X() float64          { return p.x }
func (p DataPoint) Real() float64       { return real(p.y) }
func (p DataPoint) Imag() float64       { return imag(p.y) }
func (p DataPoint) Abs() float64        { return cmplx.Abs(p.y) }
func (p DataPoint) Phase() float64      { return cmplx.Phase(p.y) }
func (p DataPoint) PhaseDeg() float64   { return p.Phase() * 180 / math.Pi }
func (p DataPoint) Complex() complex128 { return p.y }

func (p *DataPoint) SetX(x float64) {
	p.x = x
}

func (p *DataPoint) SetReIm(re, im float64) {
	p.y = complex(re, im)
}

func (p *DataPoint) SetAbsPhase(abs, phase float64) {
	p.y = cmplx.Rect(abs, phase)
}

type dataPointJSON struct {
	X     float64 `json:"x"`
	Real  float64 `json:"real"`
	Imag  float64 `json:"imag"`
	Abs   float64 `json:"abs"`
	Phase float64 `json:"phase"`
}

func (p DataPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(dataPointJSON{
		X:     p.x,
		Real:  p.Real(),
		Imag:  p.Imag(),
		Abs:   p.Abs(),
		Phase: p.Phase(),
	})
}

// UnmarshalJSON reads real/imag; abs/phase are ignored because they are derived.
func (p *DataPoint) UnmarshalJSON(b []byte) error {
	var v dataPointJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	p.x = v.X
	p.y = complex(v.Real, v.Imag)
	return nil
}

// Spectrum is an ordered sequence of points in sweep order.
type Spectrum []DataPoint

func (s Spectrum) Frequencies() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.x
	}
	return out
}

// Clone returns a copy that shares no backing array with s.
func (s Spectrum) Clone() Spectrum {
	if s == nil {
		return nil
	}
	out := make(Spectrum, len(s))
	copy(out, s)
	return out
}
