package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeDeviceStatus MessageType = "device_status"

	MessageTypeMachineState MessageType = "machine_state"

	// Execution messages
	MessageTypeExecutionEvent    MessageType = "execution_event"
	MessageTypeTransientSpectrum MessageType = "transient_spectrum"

	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`

	// executionID routes execution messages to subscribed clients.
	executionID uuid.UUID
}

// ExecutionID returns the execution a message belongs to, or uuid.Nil.
func (m Message) ExecutionID() uuid.UUID { return m.executionID }

type MachineStateData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
}

type ExecutionEventData struct {
	ExecutionID string          `json:"execution_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// TransientSpectrumData carries one newly captured spectrum of a transient.
type TransientSpectrumData struct {
	ExecutionID string  `json:"execution_id"`
	Handle      string  `json:"handle"`
	Position    int     `json:"position"`
	TimeDiff    float64 `json:"time_diff"`
	Points      any     `json:"points"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewMachineStateMessage(newState, previousState string) Message {
	return NewMessage(MessageTypeMachineState, MachineStateData{
		State:    newState,
		Previous: previousState,
	})
}

func NewExecutionEventMessage(executionID uuid.UUID, eventType string, payload json.RawMessage, ts time.Time) Message {
	msg := NewMessage(MessageTypeExecutionEvent, ExecutionEventData{
		ExecutionID: executionID.String(),
		EventType:   eventType,
		Payload:     payload,
	})
	msg.Timestamp = ts
	msg.executionID = executionID
	return msg
}

func NewTransientSpectrumMessage(executionID, handle uuid.UUID, position int, timeDiff float64, points any) Message {
	msg := NewMessage(MessageTypeTransientSpectrum, TransientSpectrumData{
		ExecutionID: executionID.String(),
		Handle:      handle.String(),
		Position:    position,
		TimeDiff:    timeDiff,
		Points:      points,
	})
	msg.executionID = executionID
	return msg
}

func NewDeviceStatusMessage(statuses any) Message {
	return NewMessage(MessageTypeDeviceStatus, statuses)
}
