package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/faults"
	"github.com/KevinKickass/OpenLabCore/internal/storage"
	"github.com/KevinKickass/OpenLabCore/internal/streaming"
	"github.com/KevinKickass/OpenLabCore/internal/task"
	"github.com/KevinKickass/OpenLabCore/internal/transient"
)

const (
	EventStarted   = "execution.started"
	EventLog       = "execution.log"
	EventCompleted = "execution.completed"
	EventCancelled = "execution.cancelled"
	EventFailed    = "execution.failed"
	EventArchived  = "execution.archived"
)

// recentRuns bounds how many finished runs keep their in-memory data.
const recentRuns = 16

// persistTimeout bounds writes that happen after the run context is gone.
const persistTimeout = 10 * time.Second

// ExecutionStore persists executions. *storage.PostgresClient implements it.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *storage.Execution) error
	UpdateExecution(ctx context.Context, exec *storage.Execution) error
	CreateExecutionEvent(ctx context.Context, event *storage.ExecutionEvent) error
	SaveSpectra(ctx context.Context, spectra []*storage.StoredSpectrum) error
}

// DeviceChecker returns the devices that are not reachable.
type DeviceChecker interface {
	Check(ctx context.Context, required []task.Device) []task.Device
}

// EventSink receives every execution event, e.g. the MQTT publisher.
type EventSink interface {
	PublishEvent(executionID uuid.UUID, eventType string, ts time.Time, data any)
}

// SeriesSink receives every transient notification, e.g. the InfluxDB writer.
type SeriesSink interface {
	WriteTransient(executionID uuid.UUID, n transient.Notification)
}

type Archiver interface {
	Upload(ctx context.Context, executionID uuid.UUID, data *task.ExperimentData) ([]string, error)
}

// Notifier pushes live updates to UI clients.
type Notifier interface {
	ExecutionEvent(event *storage.ExecutionEvent)
	TransientSpectrum(executionID uuid.UUID, n transient.Notification)
}

// Options wires the optional collaborators. Nil fields are skipped.
type Options struct {
	Store     ExecutionStore
	Checker   DeviceChecker
	Events    EventSink
	Series    SeriesSink
	Archive   Archiver
	Notifier  Notifier
	QueueSize int
}

// Request starts one recipe.
type Request struct {
	Recipe   *task.Task
	RecipeID *uuid.UUID
}

// Result is delivered once per execution when it has ended.
type Result struct {
	ExecutionID uuid.UUID
	Status      storage.ExecutionStatus
	Err         error
	Data        *task.ExperimentData
	Log         *task.Logbook
}

// MissingDevicesError aborts a run whose devices failed the pre-flight check.
type MissingDevicesError struct {
	Missing []task.Device
}

func (e *MissingDevicesError) Error() string {
	names := make([]string, len(e.Missing))
	for i, d := range e.Missing {
		names[i] = string(d)
	}
	return "devices not available: " + strings.Join(names, ", ")
}

func (e *MissingDevicesError) Unwrap() error { return faults.ErrTransport }

type run struct {
	exec      *storage.Execution
	cancel    context.CancelFunc
	log       *task.Logbook
	data      *task.ExperimentData
	catalogue *transient.Catalogue
}

// Orchestrator runs recipes on their own goroutines and publishes their
// events.
type Orchestrator struct {
	executor *task.Executor
	streamer *streaming.EventStreamer
	opts     Options
	logger   *zap.Logger

	runningMu sync.RWMutex
	running   map[uuid.UUID]*run
	finished  map[uuid.UUID]*run
	order     []uuid.UUID
}

func NewOrchestrator(executor *task.Executor, streamer *streaming.EventStreamer, opts Options, logger *zap.Logger) *Orchestrator {
	if streamer == nil {
		streamer = streaming.NewEventStreamer()
	}
	return &Orchestrator{
		executor: executor,
		streamer: streamer,
		opts:     opts,
		logger:   logger,
		running:  make(map[uuid.UUID]*run),
		finished: make(map[uuid.UUID]*run),
	}
}

func devicesOf(recipe *task.Task) []string {
	devs := recipe.NecessaryDevices()
	out := make([]string, len(devs))
	for i, d := range devs {
		out[i] = string(d)
	}
	return out
}

// Run checks the devices of req.Recipe, records the execution and starts it.
// The returned channel receives exactly one Result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (uuid.UUID, <-chan Result, error) {
	if req.Recipe == nil {
		return uuid.Nil, nil, fmt.Errorf("%w: no recipe", faults.ErrConfiguration)
	}

	if o.opts.Checker != nil {
		if missing := o.opts.Checker.Check(ctx, req.Recipe.NecessaryDevices()); len(missing) > 0 {
			return uuid.Nil, nil, &MissingDevicesError{Missing: missing}
		}
	}

	exec := &storage.Execution{
		ID:         uuid.New(),
		RecipeID:   req.RecipeID,
		RecipeName: req.Recipe.Name(),
		Status:     storage.StatusPending,
		Devices:    devicesOf(req.Recipe),
		StartedAt:  time.Now(),
	}
	if o.opts.Store != nil {
		if err := o.opts.Store.CreateExecution(ctx, exec); err != nil {
			return uuid.Nil, nil, fmt.Errorf("failed to create execution: %w", err)
		}
	}

	execCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		exec:      exec,
		cancel:    cancel,
		log:       task.NewLogbook(o.logger.With(zap.String("execution_id", exec.ID.String()))),
		data:      task.NewExperimentData(req.Recipe.Name()),
		catalogue: transient.NewCatalogue(),
	}

	o.runningMu.Lock()
	o.running[exec.ID] = r
	o.runningMu.Unlock()

	results := make(chan Result, 1)
	go func() {
		defer cancel()
		results <- o.execute(execCtx, r, req.Recipe)
		close(results)
	}()

	return exec.ID, results, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run, recipe *task.Task) Result {
	id := r.exec.ID

	r.exec.Status = storage.StatusRunning
	o.update(r.exec)
	o.publishEvent(id, EventStarted, map[string]any{
		"recipe":  r.exec.RecipeName,
		"devices": r.exec.Devices,
	})

	unsubscribe := r.log.Subscribe(func(e task.Event) {
		o.publishEvent(id, EventLog, map[string]any{
			"name":        e.Name,
			"description": e.Description,
			"severity":    e.Severity,
		})
	})

	env := &task.Env{
		Log:       r.log,
		Data:      r.data,
		Catalogue: r.catalogue,
		QueueSize: o.opts.QueueSize,
		Listener: func(n transient.Notification) {
			if o.opts.Series != nil {
				o.opts.Series.WriteTransient(id, n)
			}
			if o.opts.Notifier != nil {
				o.opts.Notifier.TransientSpectrum(id, n)
			}
		},
	}

	err := o.executor.Execute(ctx, recipe, env)
	unsubscribe()

	res := Result{ExecutionID: id, Err: err, Data: r.data, Log: r.log}
	now := time.Now()
	r.exec.CompletedAt = &now

	switch {
	case err != nil:
		res.Status = storage.StatusFailed
		r.exec.Error = err.Error()
	case ctx.Err() != nil:
		res.Status = storage.StatusCancelled
	default:
		res.Status = storage.StatusCompleted
	}
	r.exec.Status = res.Status

	o.saveSpectra(r)
	if res.Status == storage.StatusCompleted {
		o.archive(r)
	}
	o.update(r.exec)

	switch res.Status {
	case storage.StatusFailed:
		o.publishEvent(id, EventFailed, map[string]any{"error": err.Error(), "class": faults.Class(err)})
	case storage.StatusCancelled:
		o.publishEvent(id, EventCancelled, nil)
	default:
		o.publishEvent(id, EventCompleted, map[string]any{"spectra": len(r.data.Records())})
	}
	o.streamer.Finish(id)

	o.retire(r)

	o.logger.Info("Execution finished",
		zap.String("execution_id", id.String()),
		zap.String("recipe", r.exec.RecipeName),
		zap.String("status", string(res.Status)),
		zap.Error(err))
	return res
}

func (o *Orchestrator) retire(r *run) {
	o.runningMu.Lock()
	defer o.runningMu.Unlock()

	delete(o.running, r.exec.ID)
	o.finished[r.exec.ID] = r
	o.order = append(o.order, r.exec.ID)
	if len(o.order) > recentRuns {
		delete(o.finished, o.order[0])
		o.order = o.order[1:]
	}
}

func (o *Orchestrator) update(exec *storage.Execution) {
	if o.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := o.opts.Store.UpdateExecution(ctx, exec); err != nil {
		o.logger.Error("Failed to update execution",
			zap.String("execution_id", exec.ID.String()),
			zap.Error(err))
	}
}

// StoredSpectra flattens the records of data in production order. Each
// spectrum of a transient becomes its own row.
func StoredSpectra(executionID uuid.UUID, data *task.ExperimentData) ([]*storage.StoredSpectrum, error) {
	var out []*storage.StoredSpectrum
	add := func(rec task.Record, points any, transientID *uuid.UUID, position int, timeDiff float64) error {
		raw, err := json.Marshal(points)
		if err != nil {
			return fmt.Errorf("failed to encode spectrum of %s: %w", rec.TaskName, err)
		}
		out = append(out, &storage.StoredSpectrum{
			ID:          uuid.New(),
			ExecutionID: executionID,
			Seq:         len(out),
			TaskID:      rec.TaskID,
			TaskName:    rec.TaskName,
			TransientID: transientID,
			Position:    position,
			TimeDiff:    timeDiff,
			Points:      raw,
		})
		return nil
	}

	for _, rec := range data.Records() {
		if rec.Transient == nil {
			if err := add(rec, rec.Spectrum, nil, 0, 0); err != nil {
				return nil, err
			}
			continue
		}
		handle := rec.Transient.ID()
		for i := 0; i < rec.Transient.SpectrumCount(); i++ {
			sp, _ := rec.Transient.At(i)
			if err := add(rec, sp, &handle, i, rec.Transient.TimeDiff(i)); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (o *Orchestrator) saveSpectra(r *run) {
	if o.opts.Store == nil {
		return
	}
	spectra, err := StoredSpectra(r.exec.ID, r.data)
	if err == nil && len(spectra) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err = o.opts.Store.SaveSpectra(ctx, spectra)
		cancel()
	}
	if err != nil {
		o.logger.Error("Failed to save spectra",
			zap.String("execution_id", r.exec.ID.String()),
			zap.Error(err))
	}
}

func (o *Orchestrator) archive(r *run) {
	if o.opts.Archive == nil || len(r.data.Records()) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	keys, err := o.opts.Archive.Upload(ctx, r.exec.ID, r.data)
	r.exec.ArchiveKeys = keys
	if err != nil {
		o.logger.Error("Archive upload failed",
			zap.String("execution_id", r.exec.ID.String()),
			zap.Error(err))
		return
	}
	o.publishEvent(r.exec.ID, EventArchived, map[string]any{"keys": keys})
}

func (o *Orchestrator) publishEvent(executionID uuid.UUID, eventType string, payload map[string]any) {
	payloadJSON, _ := json.Marshal(payload)
	event := &storage.ExecutionEvent{
		ID:          uuid.New(),
		ExecutionID: executionID,
		EventType:   eventType,
		Payload:     payloadJSON,
		Timestamp:   time.Now(),
	}

	if o.opts.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := o.opts.Store.CreateExecutionEvent(ctx, event); err != nil {
			o.logger.Warn("Failed to store execution event",
				zap.String("execution_id", executionID.String()),
				zap.String("type", eventType),
				zap.Error(err))
		}
		cancel()
	}

	o.streamer.Broadcast(executionID, event)
	if o.opts.Events != nil {
		o.opts.Events.PublishEvent(executionID, eventType, event.Timestamp, payload)
	}
	if o.opts.Notifier != nil {
		o.opts.Notifier.ExecutionEvent(event)
	}
}

// Cancel stops a running execution. The run ends with status cancelled.
func (o *Orchestrator) Cancel(executionID uuid.UUID) error {
	o.runningMu.RLock()
	r, exists := o.running[executionID]
	o.runningMu.RUnlock()

	if !exists {
		return fmt.Errorf("execution not found or not running: %s", executionID)
	}

	r.cancel()
	return nil
}

// Running returns the IDs of the executions in progress.
func (o *Orchestrator) Running() []uuid.UUID {
	o.runningMu.RLock()
	defer o.runningMu.RUnlock()

	out := make([]uuid.UUID, 0, len(o.running))
	for id := range o.running {
		out = append(out, id)
	}
	return out
}

func (o *Orchestrator) lookup(executionID uuid.UUID) (*run, bool) {
	o.runningMu.RLock()
	defer o.runningMu.RUnlock()

	if r, ok := o.running[executionID]; ok {
		return r, true
	}
	r, ok := o.finished[executionID]
	return r, ok
}

// Transients returns the transient catalogue of a running or recently
// finished execution.
func (o *Orchestrator) Transients(executionID uuid.UUID) (*transient.Catalogue, bool) {
	r, ok := o.lookup(executionID)
	if !ok {
		return nil, false
	}
	return r.catalogue, true
}

// Data returns the in-memory results of a running or recently finished
// execution.
func (o *Orchestrator) Data(executionID uuid.UUID) (*task.ExperimentData, bool) {
	r, ok := o.lookup(executionID)
	if !ok {
		return nil, false
	}
	return r.data, true
}

// Logbook returns the log of a running or recently finished execution.
func (o *Orchestrator) Logbook(executionID uuid.UUID) (*task.Logbook, bool) {
	r, ok := o.lookup(executionID)
	if !ok {
		return nil, false
	}
	return r.log, true
}

func (o *Orchestrator) Streamer() *streaming.EventStreamer {
	return o.streamer
}

// IsMissingDevices reports whether err is a failed pre-flight check.
func IsMissingDevices(err error) ([]task.Device, bool) {
	var m *MissingDevicesError
	if errors.As(err, &m) {
		return m.Missing, true
	}
	return nil, false
}
