package task

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/KevinKickass/OpenLabCore/internal/analyzer"
)

//go:embed schema/recipe-v1.json
var recipeSchemaJSON string

// DocumentVersion is the only supported document version.
const DocumentVersion = 1

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the format by file extension. Unknown extensions are
// read as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Document is the serialised form of a recipe tree.
type Document struct {
	Version int  `json:"version" yaml:"version"`
	Recipe  Node `json:"recipe" yaml:"recipe"`
}

// Node is one task of a document.
type Node struct {
	Type    Kind   `json:"type" yaml:"type"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`

	Delay     *DelayNode     `json:"delay,omitempty" yaml:"delay,omitempty"`
	Impedance *AnalyzerNode  `json:"impedance,omitempty" yaml:"impedance,omitempty"`
	Transient *AnalyzerNode  `json:"transient,omitempty" yaml:"transient,omitempty"`
	Frequency *FrequencyNode `json:"frequency,omitempty" yaml:"frequency,omitempty"`
	Voltage   *VoltageNode   `json:"voltage,omitempty" yaml:"voltage,omitempty"`
	Pad       *PadNode       `json:"pad,omitempty" yaml:"pad,omitempty"`
	Tasks     []Node         `json:"tasks,omitempty" yaml:"tasks,omitempty"`
}

type DelayNode struct {
	Seconds int `json:"seconds,omitempty" yaml:"seconds,omitempty"`
	Millis  int `json:"millis,omitempty" yaml:"millis,omitempty"`
}

// AnalyzerNode configures impedance and transient tasks. Count and Seconds
// only apply to transient tasks. Missing params fall back to the analyzer
// defaults.
type AnalyzerNode struct {
	Analyzer analyzer.Kind    `json:"analyzer" yaml:"analyzer"`
	Params   *analyzer.Params `json:"params,omitempty" yaml:"params,omitempty"`
	Count    int              `json:"count,omitempty" yaml:"count,omitempty"`
	Seconds  *int             `json:"seconds,omitempty" yaml:"seconds,omitempty"`
}

type FrequencyNode struct {
	Hz uint32 `json:"hz" yaml:"hz"`
}

type VoltageNode struct {
	Mode           string  `json:"mode" yaml:"mode"`
	Volts          int     `json:"volts,omitempty" yaml:"volts,omitempty"`
	DutyCycle      float64 `json:"duty_cycle,omitempty" yaml:"duty_cycle,omitempty"`
	WaitForVoltage *bool   `json:"wait_for_voltage,omitempty" yaml:"wait_for_voltage,omitempty"`
}

type PadNode struct {
	Pads       []int `json:"pads" yaml:"pads"`
	DurationMs int   `json:"duration_ms" yaml:"duration_ms"`
}

// DocumentSchema validates raw documents against the embedded JSON schema.
type DocumentSchema struct {
	schema *jsonschema.Schema
}

func NewDocumentSchema() (*DocumentSchema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("recipe-v1.json", strings.NewReader(recipeSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("recipe-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &DocumentSchema{schema: schema}, nil
}

// Decode parses data in format f, validates it and returns the document.
func (s *DocumentSchema) Decode(data []byte, f Format) (*Document, error) {
	raw, err := toJSON(data, f)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := s.schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var doc Document
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return &doc, nil
}

func toJSON(data []byte, f Format) ([]byte, error) {
	if f == FormatJSON {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("convert YAML: %w", err)
	}
	return out, nil
}

// Encode renders the document in format f.
func (d *Document) Encode(f Format) ([]byte, error) {
	if f == FormatJSON {
		return json.MarshalIndent(d, "", "  ")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Build creates the task tree. IDs come from ids in depth-first order.
func (d *Document) Build(ids *IDGenerator) (*Task, error) {
	if d.Version != DocumentVersion {
		return nil, fmt.Errorf("unsupported document version %d", d.Version)
	}
	if d.Recipe.Type != KindRecipe {
		return nil, fmt.Errorf("document root must be a recipe, got %q", d.Recipe.Type)
	}
	return d.Recipe.build(ids, "recipe")
}

// analyzerParams fills unset fields from the analyzer defaults. Zero is
// outside every range, so it always means unset.
func analyzerParams(n *AnalyzerNode) analyzer.Params {
	d := analyzer.DefaultParams(n.Analyzer)
	if n.Params == nil {
		return d
	}

	p := *n.Params
	if p.StartFreq == 0 {
		p.StartFreq = d.StartFreq
	}
	if p.StopFreq == 0 {
		p.StopFreq = d.StopFreq
	}
	if p.Voltage == 0 {
		p.Voltage = d.Voltage
	}
	if p.Points == 0 {
		p.Points = d.Points
	}
	if p.PointAverage == 0 {
		p.PointAverage = d.PointAverage
	}
	if p.WireMode == 0 {
		p.WireMode = d.WireMode
	}
	if p.Bandwidth == 0 {
		p.Bandwidth = d.Bandwidth
	}
	return p
}

func (n *Node) build(ids *IDGenerator, path string) (*Task, error) {
	var t *Task
	missing := func(field string) error {
		return fmt.Errorf("%s: %s task without %s", path, n.Type, field)
	}

	switch n.Type {
	case KindDelay:
		if n.Delay == nil {
			return nil, missing("delay")
		}
		t = NewDelay(ids, n.Delay.Seconds, n.Delay.Millis)
	case KindImpedance:
		if n.Impedance == nil {
			return nil, missing("impedance")
		}
		if !n.Impedance.Analyzer.Valid() {
			return nil, fmt.Errorf("%s: unknown analyzer %q", path, n.Impedance.Analyzer)
		}
		t = NewImpedance(ids, n.Impedance.Analyzer, analyzerParams(n.Impedance))
	case KindTransient:
		a := n.Transient
		if a == nil {
			return nil, missing("transient")
		}
		if !a.Analyzer.Valid() {
			return nil, fmt.Errorf("%s: unknown analyzer %q", path, a.Analyzer)
		}
		if a.Seconds != nil {
			t = NewTransient(ids, a.Analyzer, analyzerParams(a), TerminateTime, *a.Seconds)
		} else {
			t = NewTransient(ids, a.Analyzer, analyzerParams(a), TerminateCount, a.Count)
		}
	case KindFrequency:
		if n.Frequency == nil {
			return nil, missing("frequency")
		}
		t = NewFrequency(ids, n.Frequency.Hz)
	case KindVoltage:
		if n.Voltage == nil {
			return nil, missing("voltage")
		}
		mode, err := parseVoltageMode(n.Voltage.Mode)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		wait := true
		if n.Voltage.WaitForVoltage != nil {
			wait = *n.Voltage.WaitForVoltage
		}
		t = NewVoltage(ids, Voltage{Mode: mode, Volts: n.Voltage.Volts, DutyCycle: n.Voltage.DutyCycle, WaitForVoltage: wait})
	case KindPad:
		if n.Pad == nil {
			return nil, missing("pad")
		}
		t = NewPad(ids, n.Pad.DurationMs, n.Pad.Pads...)
	case KindRecipe:
		t = NewRecipe(ids, n.Name)
		for i := range n.Tasks {
			child, err := n.Tasks[i].build(ids, fmt.Sprintf("%s.tasks[%d]", path, i))
			if err != nil {
				return nil, err
			}
			t.Recipe.Add(child)
		}
	default:
		return nil, fmt.Errorf("%s: unknown task type %q", path, n.Type)
	}

	if n.Type != KindRecipe {
		t.Label = n.Name
	}
	t.Comment = n.Comment
	return t, nil
}

func parseVoltageMode(s string) (VoltageMode, error) {
	for _, m := range []VoltageMode{VoltageController, VoltageDutyCycle, VoltageExtern} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown voltage mode %q", s)
}

// NewDocument serialises a recipe tree.
func NewDocument(recipe *Task) (*Document, error) {
	if recipe.Kind != KindRecipe {
		return nil, fmt.Errorf("document root must be a recipe, got %q", recipe.Kind)
	}
	return &Document{Version: DocumentVersion, Recipe: toNode(recipe)}, nil
}

func toNode(t *Task) Node {
	n := Node{Type: t.Kind, Name: t.Label, Comment: t.Comment}

	switch t.Kind {
	case KindDelay:
		n.Delay = &DelayNode{Seconds: t.Delay.Seconds, Millis: t.Delay.Millis}
	case KindImpedance:
		p := t.Impedance.Params
		n.Impedance = &AnalyzerNode{Analyzer: t.Impedance.Analyzer, Params: &p}
	case KindTransient:
		p := t.Transient.Params
		a := &AnalyzerNode{Analyzer: t.Transient.Analyzer, Params: &p}
		if t.Transient.Mode == TerminateTime {
			s := t.Transient.Seconds
			a.Seconds = &s
		} else {
			a.Count = t.Transient.Count
		}
		n.Transient = a
	case KindFrequency:
		n.Frequency = &FrequencyNode{Hz: t.Frequency.Hz}
	case KindVoltage:
		v := t.Voltage
		wait := v.WaitForVoltage
		vn := &VoltageNode{Mode: v.Mode.String(), Volts: v.Volts}
		switch v.Mode {
		case VoltageDutyCycle:
			vn.DutyCycle = v.DutyCycle
		case VoltageController:
			vn.WaitForVoltage = &wait
		}
		n.Voltage = vn
	case KindPad:
		n.Pad = &PadNode{Pads: append([]int(nil), t.Pad.Pads...), DurationMs: t.Pad.Millis}
	case KindRecipe:
		for _, child := range t.Recipe.Tasks {
			n.Tasks = append(n.Tasks, toNode(child))
		}
	}
	return n
}
