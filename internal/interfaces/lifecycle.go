package interfaces

import (
	"context"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenLabCore/internal/config"
	"github.com/KevinKickass/OpenLabCore/internal/devices"
	"github.com/KevinKickass/OpenLabCore/internal/engine"
	"github.com/KevinKickass/OpenLabCore/internal/machine"
	"github.com/KevinKickass/OpenLabCore/internal/storage"
	"github.com/KevinKickass/OpenLabCore/internal/task"
	"github.com/KevinKickass/OpenLabCore/internal/workflow"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string  `json:"state"`
	Progress         float64 `json:"progress"`
	Message          string  `json:"message,omitempty"`
	MachineState     string  `json:"machine_state"`
	ActiveRecipe     string  `json:"active_recipe,omitempty"`
	ActiveExecution  string  `json:"active_execution,omitempty"`
	RunsCompleted    int     `json:"runs_completed"`
	DeviceCount      int     `json:"device_count"`
	ConnectedDevices int     `json:"connected_devices"`
	Simulated        bool    `json:"simulated"`
}

// Store is the persistence the API reads and writes. *storage.PostgresClient
// implements it.
type Store interface {
	Ping(ctx context.Context) error

	CreateRecipe(ctx context.Context, recipe *storage.Recipe) error
	GetRecipe(ctx context.Context, recipeID uuid.UUID) (*storage.Recipe, error)
	ListRecipes(ctx context.Context) ([]*storage.Recipe, error)
	UpdateRecipe(ctx context.Context, recipe *storage.Recipe) error
	DeleteRecipe(ctx context.Context, recipeID uuid.UUID) error

	GetExecution(ctx context.Context, executionID uuid.UUID) (*storage.Execution, error)
	ListExecutions(ctx context.Context, limit int) ([]*storage.Execution, error)
	GetExecutionEvents(ctx context.Context, executionID uuid.UUID) ([]*storage.ExecutionEvent, error)
	ListSpectra(ctx context.Context, executionID uuid.UUID) ([]*storage.StoredSpectrum, error)
	GetSpectrum(ctx context.Context, executionID uuid.UUID, seq int) (*storage.StoredSpectrum, error)
}

// ArchiveReader serves archived exports. Nil when archiving is disabled.
type ArchiveReader interface {
	Key(executionID uuid.UUID, name string) string
	Fetch(ctx context.Context, key string) ([]byte, error)
}

type LifecycleManager interface {
	Config() *config.Config
	Store() Store
	Archive() ArchiveReader
	DeviceManager() *devices.Manager
	Orchestrator() *engine.Orchestrator
	MachineController() *machine.Controller
	Validator() *workflow.Validator
	Schema() *task.DocumentSchema
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
