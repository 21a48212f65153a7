package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevinKickass/OpenLabCore/internal/analyzer"
	"github.com/KevinKickass/OpenLabCore/internal/task"
)

type bench map[task.Device]bool

func (b bench) Configured(d task.Device) bool { return b[d] }

func codes(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Code)
	}
	return out
}

func newValidator(t *testing.T, devices DeviceLookup) *Validator {
	t.Helper()
	v, err := NewValidator(devices)
	require.NoError(t, err)
	return v
}

func TestValidate_ValidRecipe(t *testing.T) {
	v := newValidator(t, bench{task.DeviceATmega: true, task.DeviceATtinyFreq: true})

	rep := v.Validate([]byte(`
version: 1
recipe:
  type: recipe
  name: ok
  tasks:
    - type: i2c_frequency
      frequency: {hz: 1000}
    - type: impedance
      impedance: {analyzer: simulator}
`), task.FormatYAML)

	assert.True(t, rep.Valid)
	assert.Empty(t, rep.Errors)
	assert.Empty(t, rep.Warnings)
	assert.Equal(t, []task.Device{task.DeviceATtinyFreq, task.DeviceATmega}, rep.Devices)
}

func TestValidate_SchemaFailure(t *testing.T) {
	v := newValidator(t, nil)

	rep := v.Validate([]byte(`{"version": 1, "recipe": {"type": "recipe"}}`), task.FormatJSON)
	assert.False(t, rep.Valid)
	require.Len(t, rep.Errors, 1)
	assert.Equal(t, "RECIPE_900", rep.Errors[0].Code)
	assert.Equal(t, SevError, rep.Errors[0].Severity)
}

func TestValidate_MissingDevice(t *testing.T) {
	v := newValidator(t, bench{task.DeviceATmega: true})

	rep := v.Validate([]byte(`
version: 1
recipe:
  type: recipe
  name: needs hp
  tasks:
    - type: impedance
      impedance: {analyzer: hp4294a}
`), task.FormatYAML)

	assert.False(t, rep.Valid)
	assert.Equal(t, []string{"DEVICE_001"}, codes(rep.Errors))
	assert.Equal(t, "HP4294A", rep.Errors[0].Meta["device"])
}

func TestValidateDocument_Issues(t *testing.T) {
	v := newValidator(t, nil)
	seconds := 10

	doc := &task.Document{Version: 1, Recipe: task.Node{
		Type: task.KindRecipe,
		Name: "issues",
		Tasks: []task.Node{
			{Type: task.KindDelay, Delay: &task.DelayNode{}},
			{Type: task.KindImpedance, Impedance: &task.AnalyzerNode{
				Analyzer: analyzer.KindEmStatPico,
				Params:   &analyzer.Params{StartFreq: 100, StopFreq: 1_000_000, Voltage: 0.05, WireMode: analyzer.FourWire},
			}},
			{Type: task.KindTransient, Transient: &task.AnalyzerNode{Analyzer: analyzer.KindSimulator, Count: 3, Seconds: &seconds}},
			{Type: task.KindTransient, Transient: &task.AnalyzerNode{Analyzer: analyzer.KindSimulator}},
			{Type: task.KindVoltage, Voltage: &task.VoltageNode{Mode: "controller", Volts: 500}},
			{Type: task.KindVoltage, Voltage: &task.VoltageNode{Mode: "duty_cycle"}},
			{Type: task.KindVoltage, Voltage: &task.VoltageNode{Mode: "extern"}},
			{Type: task.KindPad, Pad: &task.PadNode{Pads: []int{4, 4, 200}, DurationMs: 10}},
			{Type: task.KindPad},
			{Type: task.KindRecipe},
		},
	}}

	rep := v.ValidateDocument(doc)
	assert.False(t, rep.Valid)
	assert.ElementsMatch(t, []string{"TRANSIENT_001", "TRANSIENT_002", "PAD_001", "TASK_010", "RECIPE_001"}, codes(rep.Errors))
	assert.ElementsMatch(t, []string{
		"DELAY_001", "ANALYZER_010", "ANALYZER_011",
		"VOLTAGE_001", "VOLTAGE_002", "VOLTAGE_003", "PAD_002", "RECIPE_004",
	}, codes(rep.Warnings))

	for _, w := range rep.Warnings {
		if w.Code == "ANALYZER_010" {
			assert.Equal(t, "/recipe/tasks/1/impedance/params/stop_frequency", w.Path)
			assert.Equal(t, "EmStat pico accepts 1..200000 Hz", w.Hint)
			assert.Equal(t, float64(200_000), w.Meta["to"])
		}
	}
	for _, e := range rep.Errors {
		if e.Code == "TASK_010" {
			assert.Equal(t, "/recipe/tasks/8/pad", e.Path)
		}
	}
}

func TestValidateDocument_UnknownAnalyzerAndVersion(t *testing.T) {
	v := newValidator(t, nil)
	doc := &task.Document{Version: 7, Recipe: task.Node{
		Type: task.KindRecipe,
		Name: "bad",
		Tasks: []task.Node{
			{Type: task.KindImpedance, Impedance: &task.AnalyzerNode{Analyzer: "lcr"}},
			{Type: "spin"},
		},
	}}

	rep := v.ValidateDocument(doc)
	assert.ElementsMatch(t, []string{"RECIPE_002", "ANALYZER_001", "TASK_002"}, codes(rep.Errors))
	assert.Empty(t, rep.Devices)
}

func TestValidateDocument_DepthLimit(t *testing.T) {
	v := newValidator(t, nil)

	leaf := task.Node{Type: task.KindDelay, Delay: &task.DelayNode{Seconds: 1}}
	node := leaf
	for i := 0; i <= maxDepth; i++ {
		node = task.Node{Type: task.KindRecipe, Name: "level", Tasks: []task.Node{node}}
	}

	rep := v.ValidateDocument(&task.Document{Version: 1, Recipe: node})
	assert.Equal(t, []string{"RECIPE_050"}, codes(rep.Errors))
}
