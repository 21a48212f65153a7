package methodscript

import (
	"github.com/KevinKickass/OpenLabCore/internal/faults"
	"github.com/KevinKickass/OpenLabCore/internal/measurement"
)

// AssemblePoint builds a data point from one package. ok is false when any
// value carries an unacceptable status; such packages are skipped. A valid
// package without frequency, Z real or Z imag is a protocol error.
func AssemblePoint(p Package) (dp measurement.DataPoint, ok bool, err error) {
	var (
		x, re, im             float64
		haveX, haveRe, haveIm bool
	)

	for _, v := range p {
		if !v.Status.Acceptable() {
			return dp, false, nil
		}
		switch v.Type {
		case TypeCellFrequency:
			x, haveX = v.Value, true
		case TypeZReal:
			re, haveRe = v.Value, true
		case TypeZImag:
			im, haveIm = v.Value, true
		}
	}

	switch {
	case !haveX:
		return dp, false, faults.Protocol("got no freq value")
	case !haveRe:
		return dp, false, faults.Protocol("got no z_real value")
	case !haveIm:
		return dp, false, faults.Protocol("got no z_imag value")
	}
	return measurement.NewDataPoint(x, re, im), true, nil
}

// Assemble converts packages to a spectrum in arrival order and reports how
// many packages were skipped for status.
func Assemble(pkgs []Package) (measurement.Spectrum, int, error) {
	var (
		out     measurement.Spectrum
		skipped int
	)
	for _, p := range pkgs {
		dp, ok, err := AssemblePoint(p)
		if err != nil {
			return out, skipped, err
		}
		if !ok {
			skipped++
			continue
		}
		out = append(out, dp)
	}
	return out, skipped, nil
}
