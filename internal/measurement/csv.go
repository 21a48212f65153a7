package measurement

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	colFrequency = "frequency"
	colReal      = "impedance_real"
	colImag      = "impedance_imag"
	colAbs       = "impedance_abs"
	colPhase     = "impedance_phase"
)

// CSVMeta is the optional header of a spectrum that belongs to a transient
// series.
type CSVMeta struct {
	Position int
	TimeDiff float64
}

// WriteCSV writes s as ';'-separated rows in sweep order. Abs and phase
// (radians) columns are added when polar is true.
func WriteCSV(w io.Writer, s Spectrum, meta *CSVMeta, polar bool) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'

	if meta != nil {
		if err := cw.Write([]string{"position=" + strconv.Itoa(meta.Position)}); err != nil {
			return err
		}
		if err := cw.Write([]string{"timediff=" + formatFloat(meta.TimeDiff)}); err != nil {
			return err
		}
	}

	header := []string{colFrequency, colReal, colImag}
	if polar {
		header = append(header, colAbs, colPhase)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, p := range s {
		row := []string{formatFloat(p.X()), formatFloat(p.Real()), formatFloat(p.Imag())}
		if polar {
			row = append(row, formatFloat(p.Abs()), formatFloat(p.Phase()))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a file produced by WriteCSV. Columns are located by header
// name; if real/imag are missing, abs/phase are used instead.
func ReadCSV(r io.Reader) (Spectrum, *CSVMeta, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1

	var meta *CSVMeta
	cols := map[string]int{}
	var out Spectrum

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv: %w", err)
		}
		if len(rec) == 0 {
			continue
		}

		first := strings.TrimSpace(rec[0])
		switch {
		case strings.HasPrefix(first, "position="):
			if meta == nil {
				meta = &CSVMeta{}
			}
			meta.Position, err = strconv.Atoi(strings.TrimPrefix(first, "position="))
			if err != nil {
				return nil, nil, fmt.Errorf("invalid position header: %w", err)
			}
			continue
		case strings.HasPrefix(first, "timediff="):
			if meta == nil {
				meta = &CSVMeta{}
			}
			meta.TimeDiff, err = strconv.ParseFloat(strings.TrimPrefix(first, "timediff="), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid timediff header: %w", err)
			}
			continue
		case first == colFrequency:
			for i, name := range rec {
				cols[strings.TrimSpace(name)] = i
			}
			continue
		}

		if len(cols) == 0 {
			return nil, nil, fmt.Errorf("data row before column header")
		}
		p, err := parseRow(rec, cols)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, p)
	}

	return out, meta, nil
}

func parseRow(rec []string, cols map[string]int) (DataPoint, error) {
	get := func(name string) (float64, bool, error) {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return 0, false, nil
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return 0, true, fmt.Errorf("invalid %s value %q: %w", name, rec[i], err)
		}
		return v, true, nil
	}

	x, ok, err := get(colFrequency)
	if err != nil {
		return DataPoint{}, err
	}
	if !ok {
		return DataPoint{}, fmt.Errorf("row without frequency")
	}

	re, okRe, err := get(colReal)
	if err != nil {
		return DataPoint{}, err
	}
	im, okIm, err := get(colImag)
	if err != nil {
		return DataPoint{}, err
	}
	if okRe && okIm {
		return NewDataPoint(x, re, im), nil
	}

	abs, okAbs, err := get(colAbs)
	if err != nil {
		return DataPoint{}, err
	}
	phase, okPhase, err := get(colPhase)
	if err != nil {
		return DataPoint{}, err
	}
	if okAbs && okPhase {
		return NewDataPointPolar(x, abs, phase), nil
	}
	return DataPoint{}, fmt.Errorf("row without impedance columns")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
