package task

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/KevinKickass/OpenLabCore/internal/measurement"
	"github.com/KevinKickass/OpenLabCore/internal/transient"
)

// Record is one stored measurement of an execution.
type Record struct {
	TaskID   int64                `json:"task_id"`
	TaskName string               `json:"task_name"`
	Elapsed  float64              `json:"elapsed"`
	Spectrum measurement.Spectrum `json:"spectrum,omitempty"`

	// Transient is set for transient measurements instead of Spectrum.
	Transient *transient.Spectrum `json:"-"`
}

// ExperimentData collects the results of one execution in the order they
// were produced.
type ExperimentData struct {
	Name string

	start time.Time

	mu      sync.Mutex
	records []Record
}

func NewExperimentData(name string) *ExperimentData {
	return &ExperimentData{Name: name, start: time.Now()}
}

func (d *ExperimentData) elapsed() float64 {
	return time.Since(d.start).Seconds()
}

func (d *ExperimentData) AddImpedanceSpectrum(t *Task, s measurement.Spectrum) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, Record{TaskID: t.ID, TaskName: t.Name(), Elapsed: d.elapsed(), Spectrum: s.Clone()})
}

func (d *ExperimentData) AddTransient(t *Task, ts *transient.Spectrum) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, Record{TaskID: t.ID, TaskName: t.Name(), Elapsed: d.elapsed(), Transient: ts})
}

func (d *ExperimentData) Records() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Record(nil), d.records...)
}

// Spectra returns the single impedance spectra.
func (d *ExperimentData) Spectra() []measurement.Spectrum {
	var out []measurement.Spectrum
	for _, r := range d.Records() {
		if r.Transient == nil {
			out = append(out, r.Spectrum)
		}
	}
	return out
}

func (d *ExperimentData) Transients() []*transient.Spectrum {
	var out []*transient.Spectrum
	for _, r := range d.Records() {
		if r.Transient != nil {
			out = append(out, r.Transient)
		}
	}
	return out
}

// LastSpectrum returns the most recent single impedance spectrum.
func (d *ExperimentData) LastSpectrum() (measurement.Spectrum, bool) {
	s := d.Spectra()
	if len(s) == 0 {
		return nil, false
	}
	return s[len(s)-1], true
}

// CreateFunc opens the export target for name.
type CreateFunc func(name string) (io.WriteCloser, error)

// ExportCSV writes every spectrum as its own CSV file. Single spectra are
// named imp_spectrum_<n>.csv, transient spectra
// trans_imp_spectrum_<k>_<position>.csv with a position/timediff header.
// It returns the written names.
func (d *ExperimentData) ExportCSV(create CreateFunc) ([]string, error) {
	var names []string
	write := func(name string, s measurement.Spectrum, meta *measurement.CSVMeta) error {
		var buf bytes.Buffer
		if err := measurement.WriteCSV(&buf, s, meta, true); err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		w, err := create(name)
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := buf.WriteTo(w); err != nil {
			_ = w.Close()
			return fmt.Errorf("write %s: %w", name, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("close %s: %w", name, err)
		}
		names = append(names, name)
		return nil
	}

	imp, trans := 0, 0
	for _, r := range d.Records() {
		if r.Transient == nil {
			if err := write(fmt.Sprintf("imp_spectrum_%d.csv", imp), r.Spectrum, nil); err != nil {
				return names, err
			}
			imp++
			continue
		}

		for i := 0; i < r.Transient.SpectrumCount(); i++ {
			s, ok := r.Transient.At(i)
			if !ok {
				break
			}
			meta := &measurement.CSVMeta{Position: i, TimeDiff: r.Transient.TimeDiff(i)}
			if err := write(fmt.Sprintf("trans_imp_spectrum_%d_%d.csv", trans, i), s, meta); err != nil {
				return names, err
			}
		}
		trans++
	}
	return names, nil
}
