package machine

import "time"

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateStopping  State = "stopping"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// CanStart reports whether a new recipe may be started from s.
func (s State) CanStart() bool {
	return s == StateIdle || s == StateCompleted || s == StateCancelled
}

type Command string

const (
	CommandStop  Command = "stop"
	CommandReset Command = "reset"
)

type MachineStatus struct {
	State           State     `json:"state"`
	CurrentRecipe   string    `json:"current_recipe,omitempty"`
	ExecutionID     string    `json:"execution_id,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	RunsCompleted   int       `json:"runs_completed"`
	LastStateChange time.Time `json:"last_state_change"`
}
