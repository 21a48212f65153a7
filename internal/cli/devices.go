package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KevinKickass/OpenLabCore/internal/devices"
	"github.com/KevinKickass/OpenLabCore/internal/task"
)

// DeviceRequirement is one required tag, with its probe result when
// probed.
type DeviceRequirement struct {
	Device    task.Device `json:"device"`
	Probed    bool        `json:"probed"`
	Connected bool        `json:"connected,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// NewDevicesCommand creates the devices command.
func NewDevicesCommand(rootOpts *RootOptions) *cobra.Command {
	var probe, simulate bool

	cmd := &cobra.Command{
		Use:   "devices <recipe>",
		Short: "List the devices a recipe needs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevices(rootOpts, args[0], probe, simulate, cmd)
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "probe every required device on the bench")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "probe the simulated bench")
	return cmd
}

func loadRecipe(path string) (*task.Task, error) {
	data, format, err := readRecipe(path)
	if err != nil {
		return nil, err
	}
	schema, err := task.NewDocumentSchema()
	if err != nil {
		return nil, err
	}
	doc, err := schema.Decode(data, format)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "invalid recipe", err)
	}
	recipe, err := doc.Build(&task.IDGenerator{})
	if err != nil {
		return nil, WrapExitError(ExitFailure, "invalid recipe", err)
	}
	return recipe, nil
}

func runDevices(opts *RootOptions, path string, probe, simulate bool, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	recipe, err := loadRecipe(path)
	if err != nil {
		_ = f.Fail(ErrCodeRead, err.Error(), nil)
		return err
	}

	required := recipe.NecessaryDevices()
	out := make([]DeviceRequirement, len(required))
	for i, d := range required {
		out[i] = DeviceRequirement{Device: d}
	}

	if probe {
		cfg, err := opts.loadConfig()
		if err != nil {
			_ = f.Fail(ErrCodeRead, err.Error(), nil)
			return err
		}
		cfg.Analyzer.Simulate = cfg.Analyzer.Simulate || simulate

		m := devices.NewManager(cfg, opts.logger())
		defer m.Close()
		for i, d := range required {
			st := m.Probe(d)
			out[i].Probed, out[i].Connected, out[i].Error = true, st.Connected, st.Error
		}
	}

	if f.JSON() {
		return f.Success(out)
	}

	if len(out) == 0 {
		fmt.Fprintln(f.Writer, "no devices required")
		return nil
	}
	for _, r := range out {
		switch {
		case !r.Probed:
			fmt.Fprintln(f.Writer, r.Device)
		case r.Connected:
			fmt.Fprintf(f.Writer, "%-16s connected\n", r.Device)
		default:
			fmt.Fprintf(f.Writer, "%-16s missing (%s)\n", r.Device, r.Error)
		}
	}
	return nil
}
