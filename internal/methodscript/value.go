package methodscript

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenLabCore/internal/faults"
)

// Type is the variable type of a decoded package field.
type Type int

const (
	TypeUnknown Type = iota
	TypePotentialRE
	TypePotentialCE
	TypePotentialWE
	TypePotentialAux1
	TypePotentialAux2
	TypeCurrentWE
	TypePhase
	TypeImpedance
	TypeZReal
	TypeZImag
	TypeCellPotential
	TypeCellCurrent
	TypeCellFrequency
	TypeCellAmplitude
)

var typeCodes = map[string]Type{
	"aa": TypeUnknown,
	"ab": TypePotentialRE,
	"ac": TypePotentialCE,
	"ad": TypePotentialWE,
	"as": TypePotentialAux1,
	"at": TypePotentialAux2,
	"ba": TypeCurrentWE,
	"cp": TypePhase,
	"ci": TypeImpedance,
	"cc": TypeZReal,
	"cd": TypeZImag,
	"da": TypeCellPotential,
	"db": TypeCellCurrent,
	"dc": TypeCellFrequency,
	"dd": TypeCellAmplitude,
}

var typeNames = map[Type]string{
	TypeUnknown:       "unknown",
	TypePotentialRE:   "potential RE",
	TypePotentialCE:   "potential CE",
	TypePotentialWE:   "potential WE",
	TypePotentialAux1: "potential aux1 in",
	TypePotentialAux2: "potential aux2 in",
	TypeCurrentWE:     "current WE",
	TypePhase:         "phase",
	TypeImpedance:     "imp",
	TypeZReal:         "Z real",
	TypeZImag:         "Z imag",
	TypeCellPotential: "cell potential",
	TypeCellCurrent:   "cell current",
	TypeCellFrequency: "cell frequency",
	TypeCellAmplitude: "cell amplitude",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Code returns the two character wire code of t.
func (t Type) Code() string {
	for code, tt := range typeCodes {
		if tt == t {
			return code
		}
	}
	return ""
}

// Status is the measurement status carried in the "1x" metadata token.
type Status int

const (
	StatusNone Status = iota
	StatusOK
	StatusOverload
	StatusUnderload
	StatusOverloadWarning
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusOverload:
		return "overload"
	case StatusUnderload:
		return "underload"
	case StatusOverloadWarning:
		return "overload warning"
	default:
		return "no status"
	}
}

// Acceptable reports whether a value with this status may be used in a spectrum.
func (s Status) Acceptable() bool {
	return s == StatusOK || s == StatusNone || s == StatusOverloadWarning
}

const (
	valueOffset   = 0x8000000
	hexDigits     = 7
	minFieldWidth = 2 + hexDigits + 1
)

var prefixFactors = map[byte]float64{
	'a': 1e-18,
	'f': 1e-15,
	'p': 1e-12,
	'n': 1e-9,
	'u': 1e-6,
	'm': 1e-3,
	' ': 1,
	'k': 1e3,
	'M': 1e6,
	'G': 1e9,
	'T': 1e12,
	'P': 1e15,
	'E': 1e18,
}

// PrefixFactor returns the SI multiplier of a prefix character.
func PrefixFactor(p byte) (float64, error) {
	f, ok := prefixFactors[p]
	if !ok {
		return 0, faults.Protocol("invalid prefix %q", p)
	}
	return f, nil
}

// Value is one decoded package field.
type Value struct {
	Type         Type
	Value        float64
	Status       Status
	CurrentRange int // -1 when absent
}

// ParseValue decodes a field of the form ttHHHHHHHp[,meta...].
func ParseValue(field string) (Value, error) {
	v := Value{CurrentRange: -1}

	if len(field) < minFieldWidth {
		return v, faults.Protocol("field %q too short", field)
	}

	t, ok := typeCodes[field[:2]]
	if !ok {
		return v, faults.Protocol("unknown variable type %q", field[:2])
	}
	v.Type = t

	raw, err := strconv.ParseUint(field[2:2+hexDigits], 16, 32)
	if err != nil {
		return v, faults.Protocol("invalid hex value %q", field[2:2+hexDigits])
	}
	factor, err := PrefixFactor(field[2+hexDigits])
	if err != nil {
		return v, err
	}
	v.Value = float64(int64(raw)-valueOffset) * factor

	rest := field[minFieldWidth:]
	if rest == "" {
		return v, nil
	}
	if rest[0] != ',' {
		return v, faults.Protocol("unexpected data %q after value", rest)
	}

	for _, tok := range strings.Split(rest[1:], ",") {
		if tok == "" {
			continue
		}
		switch tok[0] {
		case '1':
			if len(tok) > 1 {
				v.Status = parseStatus(tok[1])
			}
		case '2':
			r, err := strconv.ParseInt(tok[1:], 16, 32)
			if err != nil {
				return v, faults.Protocol("invalid current range %q", tok)
			}
			v.CurrentRange = int(r)
		}
	}

	return v, nil
}

func parseStatus(c byte) Status {
	switch c {
	case '0':
		return StatusOK
	case '2':
		return StatusOverload
	case '4':
		return StatusUnderload
	case '8':
		return StatusOverloadWarning
	default:
		return StatusNone
	}
}

// EncodeValue renders value in wire format using prefix. It is the inverse of
// ParseValue; tests of this package and of the analyzers build device
// replies with it.
func EncodeValue(t Type, value float64, prefix byte) (string, error) {
	code := t.Code()
	if code == "" {
		return "", fmt.Errorf("no wire code for %s", t)
	}
	factor, err := PrefixFactor(prefix)
	if err != nil {
		return "", err
	}
	raw := int64(math.Round(value/factor)) + valueOffset
	if raw < 0 || raw > 0xFFFFFFF {
		return "", fmt.Errorf("value %g out of range for prefix %q", value, prefix)
	}
	return fmt.Sprintf("%s%07X%c", code, raw, prefix), nil
}

func (v Value) String() string {
	s := fmt.Sprintf("%s: %g", v.Type, v.Value)
	if v.Status != StatusNone {
		s += " (" + v.Status.String() + ")"
	}
	if v.CurrentRange != -1 {
		s += " (" + CurrentRangeName(v.CurrentRange) + ")"
	}
	return s
}
