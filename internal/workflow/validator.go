package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/KevinKickass/OpenLabCore/internal/analyzer"
	"github.com/KevinKickass/OpenLabCore/internal/faults"
	"github.com/KevinKickass/OpenLabCore/internal/task"
)

type Severity string

const (
	SevError   Severity = "error"
	SevWarning Severity = "warning"
)

type Issue struct {
	Code     string         `json:"code"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	TaskName string         `json:"task_name,omitempty"`
	Field    string         `json:"field,omitempty"`
	Path     string         `json:"path,omitempty"` // JSON Pointer-ish ("/recipe/tasks/0/pad")
	Hint     string         `json:"hint,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

type Report struct {
	Valid    bool          `json:"valid"`
	Errors   []Issue       `json:"errors"`
	Warnings []Issue       `json:"warnings"`
	Devices  []task.Device `json:"devices,omitempty"`
}

// DeviceLookup reports whether a device tag is configured on this bench.
type DeviceLookup interface {
	Configured(d task.Device) bool
}

type Validator struct {
	schema  *task.DocumentSchema
	devices DeviceLookup
}

// NewValidator creates a validator. devices may be nil to skip the bench
// configuration check.
func NewValidator(devices DeviceLookup) (*Validator, error) {
	schema, err := task.NewDocumentSchema()
	if err != nil {
		return nil, err
	}
	return &Validator{schema: schema, devices: devices}, nil
}

// Validate checks a raw recipe document. Decode and schema failures are
// reported as issues, not as errors.
func (v *Validator) Validate(data []byte, f task.Format) Report {
	rep := Report{}

	doc, err := v.schema.Decode(data, f)
	if err != nil {
		rep.addError(Issue{
			Code:    "RECIPE_900",
			Message: fmt.Sprintf("Recipe document invalid: %v", err),
			Path:    "/",
		})
		rep.finalize()
		return rep
	}

	return v.ValidateDocument(doc)
}

// ValidateDocument runs the semantic checks on a decoded document.
func (v *Validator) ValidateDocument(doc *task.Document) Report {
	rep := Report{}
	st := &walkState{v: v, report: &rep}

	if doc.Version != task.DocumentVersion {
		rep.addError(Issue{
			Code:    "RECIPE_002",
			Message: fmt.Sprintf("Unsupported document version %d", doc.Version),
			Field:   "version",
			Path:    "/version",
		})
	}

	st.walk(&doc.Recipe, "/recipe", 0)

	if tree, err := doc.Build(&task.IDGenerator{}); err == nil {
		rep.Devices = tree.NecessaryDevices()
		st.checkDevices(rep.Devices)
	}

	rep.finalize()
	return rep
}

// maxDepth bounds recipe nesting.
const maxDepth = 32

type walkState struct {
	v      *Validator
	report *Report
}

func (st *walkState) walk(n *task.Node, base string, depth int) {
	if depth > maxDepth {
		st.report.addError(Issue{
			Code:    "RECIPE_050",
			Message: fmt.Sprintf("Recipes nested deeper than %d levels", maxDepth),
			Path:    base,
		})
		return
	}

	switch n.Type {
	case task.KindRecipe:
		st.validateRecipe(n, base, depth)
	case task.KindDelay:
		st.validateDelay(n, base)
	case task.KindImpedance:
		st.validateAnalyzer(n, n.Impedance, base, "impedance")
	case task.KindTransient:
		st.validateTransient(n, base)
	case task.KindFrequency:
		// any uint32 is accepted, 0 switches the generator off
	case task.KindVoltage:
		st.validateVoltage(n, base)
	case task.KindPad:
		st.validatePad(n, base)
	default:
		st.report.addError(Issue{
			Code:    "TASK_002",
			Message: fmt.Sprintf("Unsupported task type: %s", n.Type),
			Field:   "type",
			Path:    base + "/type",
		})
	}
}

func (st *walkState) validateRecipe(n *task.Node, base string, depth int) {
	if strings.TrimSpace(n.Name) == "" {
		st.report.addError(Issue{
			Code:    "RECIPE_001",
			Message: "Recipe name is required",
			Field:   "name",
			Path:    base + "/name",
		})
	}
	if len(n.Tasks) == 0 {
		st.report.addWarning(Issue{
			Code:     "RECIPE_004",
			Message:  "Recipe has no tasks",
			TaskName: n.Name,
			Field:    "tasks",
			Path:     base + "/tasks",
		})
		return
	}
	for i := range n.Tasks {
		st.walk(&n.Tasks[i], fmt.Sprintf("%s/tasks/%d", base, i), depth+1)
	}
}

func (st *walkState) validateDelay(n *task.Node, base string) {
	if n.Delay == nil {
		st.missing(n, "delay", base)
		return
	}
	if n.Delay.Seconds == 0 && n.Delay.Millis == 0 {
		st.report.addWarning(Issue{
			Code:     "DELAY_001",
			Message:  "Delay of 0ms has no effect",
			TaskName: n.Name,
			Field:    "delay",
			Path:     base + "/delay",
		})
	}
}

func (st *walkState) missing(n *task.Node, field, base string) {
	st.report.addError(Issue{
		Code:     "TASK_010",
		Message:  fmt.Sprintf("%s is required for %s task", field, n.Type),
		TaskName: n.Name,
		Field:    field,
		Path:     base + "/" + field,
	})
}

// validateAnalyzer reports every parameter the analyzer will clamp.
func (st *walkState) validateAnalyzer(n *task.Node, a *task.AnalyzerNode, nodeBase, field string) {
	if a == nil {
		st.missing(n, field, nodeBase)
		return
	}
	base := nodeBase + "/" + field
	if !a.Analyzer.Valid() {
		st.report.addError(Issue{
			Code:     "ANALYZER_001",
			Message:  fmt.Sprintf("Unknown analyzer: %s", a.Analyzer),
			TaskName: n.Name,
			Field:    "analyzer",
			Path:     base + "/analyzer",
		})
		return
	}
	if a.Params == nil {
		return
	}

	p := *a.Params
	d := analyzer.DefaultParams(a.Analyzer)
	if p.Points == 0 {
		p.Points = d.Points
	}
	if p.PointAverage == 0 {
		p.PointAverage = d.PointAverage
	}
	if p.WireMode == 0 {
		p.WireMode = d.WireMode
	}

	_, adj := analyzer.RangesFor(a.Analyzer).Clamp(p)
	for _, c := range adj {
		if c.From == 0 {
			continue // unset, filled from defaults
		}
		st.report.addWarning(Issue{
			Code:     "ANALYZER_010",
			Message:  fmt.Sprintf("%s: %v", c, faults.ErrConfiguration),
			TaskName: n.Name,
			Field:    c.Field,
			Path:     base + "/params/" + c.Field,
			Hint:     fmt.Sprintf("%s accepts %s", a.Analyzer.DisplayName(), rangeHint(a.Analyzer, c.Field)),
			Meta:     map[string]any{"from": c.From, "to": c.To},
		})
	}

	if a.Analyzer == analyzer.KindEmStatPico && a.Params.WireMode == analyzer.FourWire {
		st.report.addWarning(Issue{
			Code:     "ANALYZER_011",
			Message:  "EmStat pico does not support 4-wire measurements",
			TaskName: n.Name,
			Field:    "wire_mode",
			Path:     base + "/params/wire_mode",
			Hint:     "Use 2-wire or 3-wire mode",
		})
	}
}

func rangeHint(k analyzer.Kind, field string) string {
	r := analyzer.RangesFor(k)
	switch field {
	case "start_frequency", "stop_frequency":
		return fmt.Sprintf("%d..%d Hz", r.MinFreq, r.MaxFreq)
	case "voltage":
		return fmt.Sprintf("%g..%g V", r.MinVolt, r.MaxVolt)
	case "points":
		return fmt.Sprintf("%d..%d points", r.MinPoints, r.MaxPoints)
	case "point_average":
		return fmt.Sprintf("1..%d averages", r.MaxPointAverage)
	case "bandwidth":
		return fmt.Sprintf("bandwidth %d..%d", r.MinBandwidth, r.MaxBandwidth)
	default:
		return "a limited range"
	}
}

func (st *walkState) validateTransient(n *task.Node, base string) {
	a := n.Transient
	st.validateAnalyzer(n, a, base, "transient")
	if a == nil {
		return
	}

	switch {
	case a.Seconds != nil && a.Count > 0:
		st.report.addError(Issue{
			Code:     "TRANSIENT_001",
			Message:  "Transient task needs either count or seconds, not both",
			TaskName: n.Name,
			Path:     base + "/transient",
		})
	case a.Seconds == nil && a.Count <= 0:
		st.report.addError(Issue{
			Code:     "TRANSIENT_002",
			Message:  "Transient task needs a positive count or a duration in seconds",
			TaskName: n.Name,
			Field:    "count",
			Path:     base + "/transient/count",
		})
	}
}

func (st *walkState) validateVoltage(n *task.Node, base string) {
	v := n.Voltage
	if v == nil {
		st.missing(n, "voltage", base)
		return
	}

	if v.Volts > task.MaxBoostVoltage && v.Mode != task.VoltageExtern.String() {
		st.report.addWarning(Issue{
			Code:     "VOLTAGE_001",
			Message:  fmt.Sprintf("voltage %dV clamped to %dV: %v", v.Volts, task.MaxBoostVoltage, faults.ErrConfiguration),
			TaskName: n.Name,
			Field:    "volts",
			Path:     base + "/voltage/volts",
		})
	}
	if v.Mode == task.VoltageDutyCycle.String() && v.DutyCycle == 0 {
		st.report.addWarning(Issue{
			Code:     "VOLTAGE_002",
			Message:  "duty_cycle not set, using 0.5",
			TaskName: n.Name,
			Field:    "duty_cycle",
			Path:     base + "/voltage/duty_cycle",
		})
	}
	if v.Mode == task.VoltageExtern.String() && v.Volts == 0 {
		st.report.addWarning(Issue{
			Code:     "VOLTAGE_003",
			Message:  "External source without setpoint is not checked",
			TaskName: n.Name,
			Field:    "volts",
			Path:     base + "/voltage/volts",
		})
	}
}

func (st *walkState) validatePad(n *task.Node, base string) {
	p := n.Pad
	if p == nil {
		st.missing(n, "pad", base)
		return
	}

	seen := map[int]bool{}
	for i, pad := range p.Pads {
		if _, _, _, ok := task.PadAddress(pad); !ok {
			st.report.addError(Issue{
				Code:     "PAD_001",
				Message:  fmt.Sprintf("Pad %d out of range 1..%d", pad, task.MaxPad),
				TaskName: n.Name,
				Path:     fmt.Sprintf("%s/pad/pads/%d", base, i),
			})
		}
		if seen[pad] {
			st.report.addWarning(Issue{
				Code:     "PAD_002",
				Message:  fmt.Sprintf("Pad %d listed twice", pad),
				TaskName: n.Name,
				Path:     fmt.Sprintf("%s/pad/pads/%d", base, i),
			})
		}
		seen[pad] = true
	}
}

func (st *walkState) checkDevices(devices []task.Device) {
	if st.v.devices == nil {
		return
	}
	for _, d := range devices {
		if !st.v.devices.Configured(d) {
			st.report.addError(Issue{
				Code:    "DEVICE_001",
				Message: fmt.Sprintf("Required device not configured: %s", d),
				Hint:    "Configure the device or run with the simulator",
				Meta:    map[string]any{"device": string(d)},
			})
		}
	}
}

func (r *Report) addError(i Issue) {
	if i.Severity == "" {
		i.Severity = SevError
	}
	r.Errors = append(r.Errors, i)
}

func (r *Report) addWarning(i Issue) {
	if i.Severity == "" {
		i.Severity = SevWarning
	}
	r.Warnings = append(r.Warnings, i)
}

func (r *Report) finalize() {
	sortIssues(r.Errors)
	sortIssues(r.Warnings)
	r.Valid = len(r.Errors) == 0
}

func sortIssues(list []Issue) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.Message < b.Message
	})
}
