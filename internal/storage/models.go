package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusCancelled ExecutionStatus = "cancelled"
	StatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether no further transitions happen.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Recipe is a stored recipe document. Document holds the JSON encoding.
type Recipe struct {
	ID         uuid.UUID       `json:"id"`
	RecipeName string          `json:"recipe_name"`
	Document   json.RawMessage `json:"document"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Execution struct {
	ID          uuid.UUID       `json:"id"`
	RecipeID    *uuid.UUID      `json:"recipe_id,omitempty"`
	RecipeName  string          `json:"recipe_name"`
	Status      ExecutionStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	Devices     []string        `json:"devices"`
	ArchiveKeys []string        `json:"archive_keys,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

type ExecutionEvent struct {
	ID          uuid.UUID       `json:"id"`
	ExecutionID uuid.UUID       `json:"execution_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// StoredSpectrum is one persisted spectrum of an execution. Transient
// members carry the transient handle and their position in the series.
type StoredSpectrum struct {
	ID          uuid.UUID       `json:"id"`
	ExecutionID uuid.UUID       `json:"execution_id"`
	Seq         int             `json:"seq"`
	TaskID      int64           `json:"task_id"`
	TaskName    string          `json:"task_name"`
	TransientID *uuid.UUID      `json:"transient_id,omitempty"`
	Position    int             `json:"position"`
	TimeDiff    float64         `json:"time_diff"`
	Points      json.RawMessage `json:"points"`
	CreatedAt   time.Time       `json:"created_at"`
}
