package analyzer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/faults"
	"github.com/KevinKickass/OpenLabCore/internal/measurement"
	"github.com/KevinKickass/OpenLabCore/internal/transport"
)

// ResultStatus is the result status field of a Novocontrol ZRE? reply.
type ResultStatus int

const (
	ResultInvalid ResultStatus = iota
	ResultInProgress
	ResultValid
	ResultSampleVoltageRange
	ResultCurrentRange
	ResultReferenceVoltageRange
	ResultSourceDisconnected
)

var resultDescriptions = map[ResultStatus]string{
	ResultInvalid:               "invalid (buffer empty)",
	ResultInProgress:            "measurement still in progress",
	ResultSampleVoltageRange:    "Voltage V1 for sample measurement out of range",
	ResultCurrentRange:          "Current out of range",
	ResultReferenceVoltageRange: "Voltage V1 for reference measurement out of range",
	ResultSourceDisconnected:    "Analyzer signal source disconnected within measurement",
}

// MeasurementError is a per point failure reported by the instrument.
type MeasurementError struct {
	Status    ResultStatus
	Frequency float64
	Detail    string
}

func (e *MeasurementError) Error() string {
	if e.Detail != "" {
		return "measurement error - " + e.Detail
	}
	d, ok := resultDescriptions[e.Status]
	if !ok {
		d = fmt.Sprintf("result status %d", int(e.Status))
	}
	return fmt.Sprintf("measurement error - %s (%g Hz)", d, e.Frequency)
}

func (e *MeasurementError) Is(target error) bool {
	return target == faults.ErrDeviceReported
}

const (
	taskRunning = "ZTSTAT=1 5"
	taskDone    = "ZTSTAT=1 3"
)

// Novocontrol drives a Novocontrol Alpha analyzer over GPIB. Every setting is
// acknowledged with OK; the sweep runs one frequency at a time.
type Novocontrol struct {
	base
	dev          *transport.Handle[transport.GPIB]
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func NewNovocontrol(dev *transport.Handle[transport.GPIB], pollInterval, pollTimeout time.Duration, logger *zap.Logger) *Novocontrol {
	return &Novocontrol{
		base:         newBase(KindNovocontrol, logger),
		dev:          dev,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}
}

func (a *Novocontrol) String() string {
	return fmt.Sprintf("%s, %dW", a.params, a.params.WireMode)
}

func (a *Novocontrol) sendOK(g transport.GPIB, cmd string) error {
	if err := g.Send(cmd); err != nil {
		return faults.Transport("novocontrol %q: %v", cmd, err)
	}
	reply, err := g.Read()
	if err != nil {
		return fmt.Errorf("novocontrol %q: %w", cmd, err)
	}
	if strings.TrimSpace(reply) != "OK" {
		return faults.Transport("error setting novocontrol param - gpib: %s (got %q)", cmd, reply)
	}
	return nil
}

func (a *Novocontrol) query(g transport.GPIB, cmd string) (string, error) {
	if err := g.Send(cmd); err != nil {
		return "", faults.Transport("novocontrol %q: %v", cmd, err)
	}
	reply, err := g.Read()
	if err != nil {
		return "", fmt.Errorf("novocontrol %q: %w", cmd, err)
	}
	return strings.TrimSpace(reply), nil
}

func (a *Novocontrol) applyParams() error {
	return a.dev.Exchange(func(g transport.GPIB) error {
		for _, c := range []string{
			fmt.Sprintf("FRS=%d", a.params.WireMode),
			"MODE=IMP",
			"SRE=65; MTM=0; IAC= 1 1; ZLLCOR=1; ZSLCAL=1; ZREFMODE?",
			"ACV=" + formatVolt(a.params.Voltage),
		} {
			if err := a.sendOK(g, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *Novocontrol) MeasureSpectrum(ctx context.Context) (measurement.Spectrum, error) {
	if err := a.applyParams(); err != nil {
		return nil, err
	}
	return sweep(ctx, a.params, func(freq float64) (measurement.DataPoint, error) {
		var dp measurement.DataPoint
		err := a.dev.Exchange(func(g transport.GPIB) error {
			var err error
			dp, err = a.measureFreq(g, freq)
			return err
		})
		return dp, err
	})
}

func (a *Novocontrol) measureFreq(g transport.GPIB, freq float64) (measurement.DataPoint, error) {
	if err := a.sendOK(g, "GFR="+strconv.FormatFloat(freq, 'f', 6, 64)); err != nil {
		return measurement.DataPoint{}, err
	}
	if err := a.sendOK(g, "MST"); err != nil {
		return measurement.DataPoint{}, err
	}

	// auf Ende der Messung warten
	deadline := time.Now().Add(a.pollTimeout)
	state, err := a.query(g, "ZTSTAT?")
	for err == nil && state == taskRunning {
		if time.Now().After(deadline) {
			return measurement.DataPoint{}, faults.Timeout("novocontrol task still running after %s", a.pollTimeout)
		}
		time.Sleep(a.pollInterval)
		state, err = a.query(g, "ZTSTAT?")
	}
	if err != nil {
		return measurement.DataPoint{}, err
	}
	if state != taskDone {
		return measurement.DataPoint{}, &MeasurementError{
			Frequency: freq,
			Detail:    "error during measurement - received: " + state,
		}
	}

	reply, err := a.query(g, "ZRE?")
	if err != nil {
		return measurement.DataPoint{}, err
	}
	return parseZRE(reply, freq)
}

// parseZRE decodes "ZRE=<re> <im> <freq> <status> <ref>".
func parseZRE(reply string, freq float64) (measurement.DataPoint, error) {
	body, ok := strings.CutPrefix(reply, "ZRE=")
	if !ok {
		return measurement.DataPoint{}, faults.Protocol("novocontrol reply %q", reply)
	}
	fields := strings.Fields(body)
	if len(fields) != 5 {
		return measurement.DataPoint{}, faults.Protocol("novocontrol reply %q", reply)
	}

	var vals [3]float64
	for i := range vals {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return measurement.DataPoint{}, faults.Protocol("novocontrol reply %q", reply)
		}
		vals[i] = v
	}
	status, err := strconv.Atoi(fields[3])
	if err != nil {
		return measurement.DataPoint{}, faults.Protocol("novocontrol reply %q", reply)
	}
	if ResultStatus(status) != ResultValid {
		return measurement.DataPoint{}, &MeasurementError{Status: ResultStatus(status), Frequency: freq}
	}
	return measurement.NewDataPoint(vals[2], vals[0], vals[1]), nil
}
