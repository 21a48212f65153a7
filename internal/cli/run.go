package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/KevinKickass/OpenLabCore/internal/devices"
	"github.com/KevinKickass/OpenLabCore/internal/engine"
	"github.com/KevinKickass/OpenLabCore/internal/storage"
	"github.com/KevinKickass/OpenLabCore/internal/task"
	"github.com/KevinKickass/OpenLabCore/internal/workflow"
)

// RunResult is the summary of one local run.
type RunResult struct {
	ExecutionID uuid.UUID               `json:"execution_id"`
	Recipe      string                  `json:"recipe"`
	Status      storage.ExecutionStatus `json:"status"`
	Error       string                  `json:"error,omitempty"`
	Duration    float64                 `json:"duration_seconds"`
	Spectra     int                     `json:"spectra"`
	Transients  int                     `json:"transients"`
	Files       []string                `json:"files,omitempty"`
	Events      []task.Event            `json:"events,omitempty"`
}

type runOptions struct {
	simulate bool
	csvDir   string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	ro := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <recipe>",
		Short: "Run a recipe on the bench or the simulator",
		Long: `Run a recipe locally. Ctrl-C cancels the run; the relays are reset and
the spectra captured so far are still exported.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRecipe(ctx, rootOpts, ro, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&ro.simulate, "simulate", false, "use the simulator instead of the hardware")
	cmd.Flags().StringVar(&ro.csvDir, "csv-dir", "", "export every spectrum as CSV into this directory")
	return cmd
}

func runRecipe(ctx context.Context, opts *RootOptions, ro *runOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	logger := opts.logger()
	defer logger.Sync()

	cfg, err := opts.loadConfig()
	if err != nil {
		_ = f.Fail(ErrCodeRead, err.Error(), nil)
		return err
	}
	if ro.simulate {
		cfg.Analyzer.Simulate = true
	}

	data, format, err := readRecipe(path)
	if err != nil {
		_ = f.Fail(ErrCodeRead, err.Error(), nil)
		return err
	}

	m := devices.NewManager(cfg, logger)
	defer m.Close()

	v, err := workflow.NewValidator(m)
	if err != nil {
		return err
	}
	report := v.Validate(data, format)
	if !report.Valid {
		if f.JSON() {
			_ = f.Fail(report.Errors[0].Code, report.Errors[0].Message, report)
		} else {
			writeReport(f, path, report)
		}
		return NewExitError(ExitFailure, "recipe is invalid")
	}

	recipe, err := loadRecipe(path)
	if err != nil {
		_ = f.Fail(ErrCodeInvalid, err.Error(), nil)
		return err
	}

	o := engine.NewOrchestrator(task.NewExecutor(m.Bench(), logger), nil, engine.Options{
		Checker:   m,
		QueueSize: cfg.Transient.ListenerQueue,
	}, logger)

	started := time.Now()
	id, results, err := o.Run(ctx, engine.Request{Recipe: recipe})
	if err != nil {
		if missing, ok := engine.IsMissingDevices(err); ok {
			_ = f.Fail(ErrCodeDevices, err.Error(), missing)
			return WrapExitError(ExitCommandError, "pre-flight check failed", err)
		}
		_ = f.Fail(ErrCodeRun, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to start recipe", err)
	}
	f.VerboseLog("Execution %s started", id)

	var res engine.Result
	select {
	case res = <-results:
	case <-ctx.Done():
		f.VerboseLog("Cancelling execution %s", id)
		_ = o.Cancel(id)
		res = <-results
	}
	// Abbruch von außen lässt die Relais nicht stehen
	if res.Status != storage.StatusCompleted {
		if err := m.SafeReset(); err != nil {
			f.VerboseLog("Safety reset failed: %v", err)
		}
	}

	out := RunResult{
		ExecutionID: id,
		Recipe:      recipe.Name(),
		Status:      res.Status,
		Duration:    time.Since(started).Seconds(),
		Spectra:     len(res.Data.Spectra()),
		Transients:  len(res.Data.Transients()),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if opts.Verbose || f.JSON() {
		out.Events = res.Log.Events()
	}

	if ro.csvDir != "" {
		files, err := exportCSV(ro.csvDir, res.Data)
		out.Files = files
		if err != nil {
			_ = f.Fail(ErrCodeExport, err.Error(), out)
			return WrapExitError(ExitCommandError, "failed to export spectra", err)
		}
	}

	if f.JSON() {
		if err := f.Success(out); err != nil {
			return err
		}
	} else {
		writeRunResult(f.Writer, out, res.Log, opts.Verbose)
	}

	if res.Status != storage.StatusCompleted {
		return NewExitError(ExitFailure, fmt.Sprintf("execution %s", res.Status))
	}
	return nil
}

func exportCSV(dir string, data *task.ExperimentData) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	names, err := data.ExportCSV(func(name string) (io.WriteCloser, error) {
		return os.Create(filepath.Join(dir, name))
	})
	files := make([]string, len(names))
	for i, n := range names {
		files[i] = filepath.Join(dir, n)
	}
	return files, err
}

func writeRunResult(w io.Writer, r RunResult, log *task.Logbook, verbose bool) {
	if verbose && log != nil {
		_, _ = log.WriteTo(w)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "%s %s in %.1fs\n", r.Recipe, r.Status, r.Duration)
	fmt.Fprintf(w, "  execution:  %s\n", r.ExecutionID)
	fmt.Fprintf(w, "  spectra:    %d\n", r.Spectra)
	fmt.Fprintf(w, "  transients: %d\n", r.Transients)
	if r.Error != "" {
		fmt.Fprintf(w, "  error:      %s\n", r.Error)
	}
	for _, f := range r.Files {
		fmt.Fprintf(w, "  wrote %s\n", f)
	}
}
