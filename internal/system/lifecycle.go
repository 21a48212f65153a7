package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/KevinKickass/OpenLabCore/internal/api/rest"
	"github.com/KevinKickass/OpenLabCore/internal/api/websocket"
	"github.com/KevinKickass/OpenLabCore/internal/archive"
	"github.com/KevinKickass/OpenLabCore/internal/auth"
	"github.com/KevinKickass/OpenLabCore/internal/config"
	"github.com/KevinKickass/OpenLabCore/internal/devices"
	"github.com/KevinKickass/OpenLabCore/internal/engine"
	"github.com/KevinKickass/OpenLabCore/internal/interfaces"
	"github.com/KevinKickass/OpenLabCore/internal/machine"
	"github.com/KevinKickass/OpenLabCore/internal/storage"
	"github.com/KevinKickass/OpenLabCore/internal/streaming"
	"github.com/KevinKickass/OpenLabCore/internal/task"
	"github.com/KevinKickass/OpenLabCore/internal/telemetry"
	"github.com/KevinKickass/OpenLabCore/internal/workflow"
)

const (
	startupTimeout = 30 * time.Second
	// Laufendes Rezept bekommt beim Herunterfahren so lange zum Abbrechen
	stopRunTimeout = 10 * time.Second
)

type LifecycleManager struct {
	config            *config.Config
	storage           *storage.PostgresClient
	deviceManager     *devices.Manager
	deviceMonitor     *devices.Monitor
	orchestrator      *engine.Orchestrator
	eventStreamer     *streaming.EventStreamer
	executionService  *streaming.ExecutionService
	machineController *machine.Controller
	validator         *workflow.Validator
	schema            *task.DocumentSchema
	authService       *auth.AuthService
	wsHub             *websocket.Hub
	archive           *archive.Archive
	publisher         *telemetry.Publisher
	series            *telemetry.SeriesWriter
	logger            *zap.Logger

	restServer *rest.Server
	grpcServer *grpc.Server
	hubCancel  context.CancelFunc

	stateMu      sync.RWMutex
	currentState SystemState
	startup      StartupProgress
	lastError    string

	listenersMu     sync.RWMutex
	statusListeners []chan SystemStatus

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager builds every component. Telemetry and the archive are
// optional: a failed connection is logged and the feature stays off.
func NewLifecycleManager(ctx context.Context, db *storage.PostgresClient, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	lm := &LifecycleManager{
		config:          cfg,
		storage:         db,
		logger:          logger,
		currentState:    StateInitializing,
		shutdownChan:    make(chan struct{}),
		statusListeners: make([]chan SystemStatus, 0),
	}

	lm.deviceManager = devices.NewManager(cfg, logger)
	lm.deviceMonitor = devices.NewMonitor(lm.deviceManager, cfg.DeviceMonitor.Interval, logger)

	var users auth.UserStore
	var executions streaming.ExecutionReader
	opts := engine.Options{
		Checker:   lm.deviceManager,
		QueueSize: cfg.Transient.ListenerQueue,
	}
	if db != nil {
		users = db
		executions = db
		opts.Store = db
	}

	lm.authService = auth.NewAuthService(users, cfg.Auth, logger)
	lm.wsHub = websocket.NewHub(logger, lm.authService)
	lm.deviceManager.OnStatus(lm.wsHub.DeviceStatus)
	opts.Notifier = lm.wsHub

	if cfg.MQTT.Enabled {
		publisher, err := telemetry.Connect(cfg.MQTT, logger)
		if err != nil {
			logger.Warn("MQTT disabled", zap.Error(err))
		} else {
			lm.publisher = publisher
			opts.Events = publisher
		}
	}
	if cfg.InfluxDB.Enabled {
		series, err := telemetry.ConnectInflux(ctx, cfg.InfluxDB, logger)
		if err != nil {
			logger.Warn("InfluxDB disabled", zap.Error(err))
		} else {
			lm.series = series
			opts.Series = series
		}
	}
	if cfg.Archive.Enabled {
		a, err := archive.New(ctx, cfg.Archive, logger)
		if err != nil {
			logger.Warn("Archive disabled", zap.Error(err))
		} else {
			lm.archive = a
			opts.Archive = a
		}
	}

	lm.eventStreamer = streaming.NewEventStreamer()
	executor := task.NewExecutor(lm.deviceManager.Bench(), logger)
	lm.orchestrator = engine.NewOrchestrator(executor, lm.eventStreamer, opts, logger)
	lm.executionService = streaming.NewExecutionService(lm.eventStreamer, executions)
	lm.machineController = machine.NewController(logger, lm.orchestrator, lm.deviceManager, lm.wsHub)

	validator, err := workflow.NewValidator(lm.deviceManager)
	if err != nil {
		return nil, fmt.Errorf("failed to create recipe validator: %w", err)
	}
	lm.validator = validator

	schema, err := task.NewDocumentSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile recipe schema: %w", err)
	}
	lm.schema = schema

	return lm, nil
}

// Start prepares the database and starts the servers
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenLabCore",
		zap.Bool("simulate", lm.config.Analyzer.Simulate))

	lm.setState(StateInitializing)

	if !lm.config.Auth.IsProductionReady() {
		lm.logger.Warn("JWT secret is the development default or too short")
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	if lm.storage != nil {
		lm.setStartupProgress("Migrating database", 10, "Applying schema")
		if err := lm.storage.Migrate(ctx); err != nil {
			lm.setError(fmt.Errorf("failed to migrate database: %w", err))
			return err
		}

		n, err := lm.storage.MarkInterrupted(ctx)
		if err != nil {
			lm.logger.Warn("Failed to mark interrupted executions", zap.Error(err))
		} else if n > 0 {
			lm.logger.Warn("Executions interrupted by restart", zap.Int64("count", n))
		}

		lm.setStartupProgress("Seeding users", 30, fmt.Sprintf("%d configured users", len(lm.config.Auth.Users)))
		if err := lm.authService.SeedUsers(ctx, lm.config.Auth.Users); err != nil {
			lm.setError(fmt.Errorf("failed to seed users: %w", err))
			return err
		}
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	lm.hubCancel = hubCancel
	go lm.wsHub.Run(hubCtx)

	lm.setStartupProgress("Probing devices", 50, "Checking bench connectivity")
	lm.deviceManager.ProbeAll()
	lm.deviceMonitor.Start()

	lm.setStartupProgress("Starting servers", 80, "gRPC and REST")
	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}
	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setStartupProgress("Ready", 100, "System started")
	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("mqtt", lm.publisher != nil),
		zap.Bool("influxdb", lm.series != nil),
		zap.Bool("archive", lm.archive != nil))

	return nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		shutdownErr = lm.gracefulShutdown(ctx)
		lm.setState(StateStopped)

		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) stopRun(ctx context.Context) {
	if err := lm.machineController.Stop(); err != nil {
		if !errors.Is(err, machine.ErrNotRunning) {
			lm.logger.Warn("Failed to stop running recipe", zap.Error(err))
		}
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, stopRunTimeout)
	defer cancel()
	if err := lm.machineController.Wait(waitCtx); err != nil {
		lm.logger.Warn("Recipe did not stop in time", zap.Error(err))
	}
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	// Erst das Rezept stoppen, dann die Hardware freigeben
	lm.stopRun(ctx)
	lm.deviceMonitor.Stop()

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		err = fmt.Errorf("shutdown timeout exceeded")
	}
	select {
	case e := <-errChan:
		err = errors.Join(err, e)
	default:
	}

	if lm.hubCancel != nil {
		lm.hubCancel()
	}
	if lm.publisher != nil {
		lm.publisher.Close()
	}
	if lm.series != nil {
		lm.series.Close()
	}

	if resetErr := lm.deviceManager.SafeReset(); resetErr != nil {
		lm.logger.Error("Safety reset on shutdown failed", zap.Error(resetErr))
	}
	if closeErr := lm.deviceManager.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("device manager close failed: %w", closeErr))
	}

	if err == nil {
		lm.logger.Info("Graceful shutdown completed")
	}
	return err
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	streaming.RegisterExecutionService(lm.grpcServer, lm.executionService)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", "ExecutionService"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil && lm.currentState != state {
		lm.logger.Warn("Unexpected system state change", zap.Error(err))
	}
	lm.currentState = state
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))

	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastError = err.Error()
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

func (lm *LifecycleManager) setStartupProgress(phase string, progress int, message string) {
	lm.stateMu.Lock()
	lm.startup = StartupProgress{
		Phase:     phase,
		Progress:  progress,
		Message:   message,
		StartedAt: time.Now().Unix(),
	}
	lm.stateMu.Unlock()

	lm.logger.Info("Startup", zap.String("phase", phase), zap.Int("progress", progress))
	lm.broadcastStatus()
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	startup := lm.startup
	lastError := lm.lastError
	lm.stateMu.RUnlock()

	statuses := lm.deviceManager.Statuses()
	connected := 0
	for _, st := range statuses {
		if st.Connected {
			connected++
		}
	}

	machineStatus := lm.machineController.GetStatus()
	status := interfaces.SystemStatus{
		State:            state.String(),
		Progress:         float64(startup.Progress) / 100,
		Message:          startup.Message,
		MachineState:     string(machineStatus.State),
		ActiveRecipe:     machineStatus.CurrentRecipe,
		ActiveExecution:  machineStatus.ExecutionID,
		RunsCompleted:    machineStatus.RunsCompleted,
		DeviceCount:      len(statuses),
		ConnectedDevices: connected,
		Simulated:        lm.config.Analyzer.Simulate,
	}
	if lastError != "" {
		status.Message = lastError
	}
	return status
}

func (lm *LifecycleManager) getStatusInternal() SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	return SystemStatus{
		State:     lm.currentState.String(),
		Startup:   lm.startup,
		Timestamp: time.Now().Unix(),
		Error:     lm.lastError,
	}
}

func (lm *LifecycleManager) broadcastStatus() {
	status := lm.getStatusInternal()
	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, status))

	lm.listenersMu.RLock()
	defer lm.listenersMu.RUnlock()

	for _, listener := range lm.statusListeners {
		select {
		case listener <- status:
		default:
			// Channel full, skip
		}
	}
}

// SubscribeStatus subscribes to status updates
func (lm *LifecycleManager) SubscribeStatus() chan SystemStatus {
	ch := make(chan SystemStatus, 10)

	lm.listenersMu.Lock()
	lm.statusListeners = append(lm.statusListeners, ch)
	lm.listenersMu.Unlock()

	return ch
}

// UnsubscribeStatus unsubscribes from status updates
func (lm *LifecycleManager) UnsubscribeStatus(ch chan SystemStatus) {
	lm.listenersMu.Lock()
	defer lm.listenersMu.Unlock()

	for i, listener := range lm.statusListeners {
		if listener == ch {
			lm.statusListeners = append(lm.statusListeners[:i], lm.statusListeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

// Store returns nil when no database is attached.
func (lm *LifecycleManager) Store() interfaces.Store {
	if lm.storage == nil {
		return nil
	}
	return lm.storage
}

// Archive returns nil when archiving is off.
func (lm *LifecycleManager) Archive() interfaces.ArchiveReader {
	if lm.archive == nil {
		return nil
	}
	return lm.archive
}

func (lm *LifecycleManager) DeviceManager() *devices.Manager {
	return lm.deviceManager
}

func (lm *LifecycleManager) Orchestrator() *engine.Orchestrator {
	return lm.orchestrator
}

// MachineController returns the machine controller
func (lm *LifecycleManager) MachineController() *machine.Controller {
	return lm.machineController
}

func (lm *LifecycleManager) Validator() *workflow.Validator {
	return lm.validator
}

func (lm *LifecycleManager) Schema() *task.DocumentSchema {
	return lm.schema
}
