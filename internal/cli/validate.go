package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KevinKickass/OpenLabCore/internal/devices"
	"github.com/KevinKickass/OpenLabCore/internal/task"
	"github.com/KevinKickass/OpenLabCore/internal/workflow"
)

// Error codes of the CLI envelope.
const (
	ErrCodeRead     = "CLI_001"
	ErrCodeInvalid  = "CLI_002"
	ErrCodeDevices  = "CLI_003"
	ErrCodeRun      = "CLI_004"
	ErrCodeExport   = "CLI_005"
	ErrCodePassword = "CLI_006"
)

// anyBench accepts every device; validation without --bench checks the
// document only.
type anyBench struct{}

func (anyBench) Configured(task.Device) bool { return true }

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func readRecipe(path string) ([]byte, task.Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", WrapExitError(ExitCommandError, "failed to read recipe", err)
	}
	return data, task.FormatFromPath(path), nil
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var bench bool

	cmd := &cobra.Command{
		Use:   "validate <recipe>",
		Short: "Check a recipe document",
		Long: `Check a recipe document against the schema and report values the
analyzers will clamp. With --bench the required devices are checked against
the bench configuration as well.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], bench, cmd)
		},
	}

	cmd.Flags().BoolVar(&bench, "bench", false, "check required devices against the configured bench")
	return cmd
}

func runValidate(opts *RootOptions, path string, bench bool, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	data, format, err := readRecipe(path)
	if err != nil {
		_ = f.Fail(ErrCodeRead, err.Error(), nil)
		return err
	}

	var lookup workflow.DeviceLookup = anyBench{}
	if bench {
		cfg, err := opts.loadConfig()
		if err != nil {
			_ = f.Fail(ErrCodeRead, err.Error(), nil)
			return err
		}
		m := devices.NewManager(cfg, opts.logger())
		defer m.Close()
		lookup = m
	}

	v, err := workflow.NewValidator(lookup)
	if err != nil {
		return err
	}
	f.VerboseLog("Validating %s as %s", path, format)
	report := v.Validate(data, format)

	if !report.Valid {
		if f.JSON() {
			_ = f.Fail(report.Errors[0].Code, report.Errors[0].Message, report)
		} else {
			writeReport(f, path, report)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(report.Errors)))
	}

	if f.JSON() {
		return f.Success(report)
	}
	writeReport(f, path, report)
	return nil
}

func writeIssues(f *OutputFormatter, title string, issues []workflow.Issue) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintf(f.Writer, "\n%d %s\n", len(issues), title)
	for _, i := range issues {
		fmt.Fprintf(f.Writer, "  %s %s: %s\n", i.Code, i.Path, i.Message)
		if i.Hint != "" {
			fmt.Fprintf(f.Writer, "    hint: %s\n", i.Hint)
		}
	}
}

func writeReport(f *OutputFormatter, path string, report workflow.Report) {
	if report.Valid {
		fmt.Fprintf(f.Writer, "✓ %s is valid\n", path)
	} else {
		fmt.Fprintf(f.Writer, "✗ %s is invalid\n", path)
	}

	if len(report.Devices) > 0 {
		tags := make([]string, len(report.Devices))
		for i, d := range report.Devices {
			tags[i] = string(d)
		}
		fmt.Fprintf(f.Writer, "devices: %s\n", strings.Join(tags, ", "))
	}

	writeIssues(f, "error(s)", report.Errors)
	writeIssues(f, "warning(s)", report.Warnings)
}
