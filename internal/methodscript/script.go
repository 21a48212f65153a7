package methodscript

import (
	"math"
	"strconv"
	"strings"
)

const (
	minExponent = -18
	maxExponent = 18
)

var exponentPrefixes = map[int]byte{
	-18: 'a',
	-15: 'f',
	-12: 'p',
	-9:  'n',
	-6:  'u',
	-3:  'm',
	3:   'k',
	6:   'M',
	9:   'G',
	12:  'T',
	15:  'P',
	18:  'E',
}

// FormatNumber renders v as an integer mantissa with an SI prefix, the way
// MethodSCRIPT expects numeric arguments ("50m", "200k", "10n"). It picks the
// largest prefix that keeps the mantissa exact, so 1500 stays "1500" and
// 0.0155 becomes "15500u". Values finer than atto are rounded to atto.
func FormatNumber(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	if v == 0 {
		return "0"
	}

	exp, mantissa := minExponent, math.Round(v/math.Pow10(minExponent))
	for e := maxExponent; e >= minExponent; e -= 3 {
		m := v / math.Pow10(e)
		r := math.Round(m)
		// float noise such as 289.99999999999997 still counts as exact
		if r >= 1 && math.Abs(m-r) <= 1e-9*r {
			exp, mantissa = e, r
			break
		}
	}
	if mantissa == 0 {
		return "0"
	}

	s := sign + strconv.FormatFloat(mantissa, 'f', 0, 64)
	if p, ok := exponentPrefixes[exp]; ok {
		s += string(p)
	}
	return s
}

// EISParams are the arguments of the impedance spectroscopy script.
type EISParams struct {
	Voltage    float64
	StartFreq  float64
	StopFreq   float64
	Points     int
	CurrentMin float64
	CurrentMax float64
}

// DefaultCurrentMin and DefaultCurrentMax bound the autoranging of the cell current.
const (
	DefaultCurrentMin = 10e-9
	DefaultCurrentMax = 10e-3
)

// EISScript builds the MethodSCRIPT that runs an EIS loop and reports
// frequency, Z real and Z imag per point. The script ends with an empty line.
func EISScript(p EISParams) string {
	if p.CurrentMin == 0 {
		p.CurrentMin = DefaultCurrentMin
	}
	if p.CurrentMax == 0 {
		p.CurrentMax = DefaultCurrentMax
	}

	lines := []string{
		"e",
		"var h",
		"var r",
		"var j",
		"set_pgstat_chan 0",
		"set_pgstat_mode 3",
		"set_autoranging " + FormatNumber(p.CurrentMin) + " " + FormatNumber(p.CurrentMax) + " ",
		"cell_on",
		"meas_loop_eis h r j " + FormatNumber(p.Voltage) + " " + FormatNumber(p.StartFreq) + " " +
			FormatNumber(p.StopFreq) + " " + FormatNumber(float64(p.Points)) + " 0",
		"pck_start",
		"pck_add h",
		"pck_add r",
		"pck_add j",
		"pck_end",
		"endloop",
		"on_finished:",
		"cell_off",
		"",
	}
	return strings.Join(lines, "\n") + "\n"
}
