package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/api/websocket"
	"github.com/KevinKickass/OpenLabCore/internal/engine"
	"github.com/KevinKickass/OpenLabCore/internal/relay"
	"github.com/KevinKickass/OpenLabCore/internal/storage"
	"github.com/KevinKickass/OpenLabCore/internal/task"
)

var (
	ErrBusy       = errors.New("bench is busy")
	ErrNotRunning = errors.New("no recipe running")
)

// Runner starts and cancels executions. *engine.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req engine.Request) (uuid.UUID, <-chan engine.Result, error)
	Cancel(executionID uuid.UUID) error
}

// Bench is the hardware side the controller keeps safe.
// *devices.Manager implements it.
type Bench interface {
	SetBusy(busy bool)
	SafeReset() error
	SetLED(led relay.LED, on bool) error
}

type Broadcaster interface {
	Broadcast(msg websocket.Message)
}

// Controller allows one recipe at a time on the bench and resets the relays
// when a run does not complete.
type Controller struct {
	logger *zap.Logger
	runner Runner
	bench  Bench
	wsHub  Broadcaster

	mu              sync.RWMutex
	currentState    State
	currentExecID   uuid.UUID
	currentRecipe   string
	runsCompleted   int
	errorMessage    string
	lastStateChange time.Time
	done            chan struct{}
}

func NewController(logger *zap.Logger, runner Runner, bench Bench, wsHub Broadcaster) *Controller {
	return &Controller{
		logger:          logger,
		runner:          runner,
		bench:           bench,
		wsHub:           wsHub,
		currentState:    StateIdle,
		lastStateChange: time.Now(),
	}
}

// Run starts recipe on the bench.
func (c *Controller) Run(ctx context.Context, recipe *task.Task, recipeID *uuid.UUID) (uuid.UUID, error) {
	c.mu.Lock()
	if !c.currentState.CanStart() {
		state := c.currentState
		c.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: cannot start in state %s", ErrBusy, state)
	}
	previous := c.currentState
	c.currentState = StateRunning
	c.currentRecipe = recipe.Name()
	c.currentExecID = uuid.Nil
	c.errorMessage = ""
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.bench.SetBusy(true)
	c.leds(true)

	execID, results, err := c.runner.Run(ctx, engine.Request{Recipe: recipe, RecipeID: recipeID})
	if err != nil {
		c.bench.SetBusy(false)
		c.leds(false)

		c.mu.Lock()
		close(c.done)
		c.mu.Unlock()

		// Vorabprüfung fehlgeschlagen, Hardware unberührt
		c.setState(previous, err.Error())
		return uuid.Nil, err
	}

	c.mu.Lock()
	c.currentExecID = execID
	done := c.done
	c.mu.Unlock()

	c.broadcastState(StateRunning, previous)
	c.logger.Info("Recipe started",
		zap.String("recipe", recipe.Name()),
		zap.String("execution_id", execID.String()))

	go c.monitor(execID, results, done)
	return execID, nil
}

func (c *Controller) leds(on bool) {
	for _, led := range []relay.LED{relay.LEDRunning, relay.LEDRecipe} {
		if err := c.bench.SetLED(led, on); err != nil {
			c.logger.Warn("Status LED not written", zap.Error(err))
		}
	}
}

func (c *Controller) monitor(execID uuid.UUID, results <-chan engine.Result, done chan struct{}) {
	defer close(done)

	res := <-results

	c.bench.SetBusy(false)
	c.leds(false)

	switch res.Status {
	case storage.StatusCompleted:
		c.mu.Lock()
		c.runsCompleted++
		c.mu.Unlock()
		c.setState(StateCompleted, "")

	case storage.StatusCancelled:
		c.safeReset()
		c.setState(StateCancelled, "")

	default:
		c.safeReset()
		msg := "execution failed"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		c.setState(StateFailed, msg)
		c.logger.Error("Recipe failed",
			zap.String("execution_id", execID.String()),
			zap.String("error", msg))
	}
}

func (c *Controller) safeReset() {
	if err := c.bench.SafeReset(); err != nil {
		c.logger.Error("Safety reset of relay bank failed", zap.Error(err))
	}
}

// ExecuteCommand handles machine commands
func (c *Controller) ExecuteCommand(ctx context.Context, cmd Command) error {
	c.logger.Info("Machine command received",
		zap.String("command", string(cmd)),
		zap.String("current_state", string(c.GetStatus().State)))

	switch cmd {
	case CommandStop:
		return c.Stop()
	case CommandReset:
		return c.Reset()
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// Stop cancels the running recipe. The state changes once the run ended.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.currentState != StateRunning || c.currentExecID == uuid.Nil {
		c.mu.Unlock()
		return ErrNotRunning
	}
	execID := c.currentExecID
	c.currentState = StateStopping
	c.mu.Unlock()

	c.broadcastState(StateStopping, StateRunning)
	return c.runner.Cancel(execID)
}

// Reset returns to idle and opens every relay.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.currentState == StateRunning || c.currentState == StateStopping {
		state := c.currentState
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot reset in state %s", ErrBusy, state)
	}
	c.mu.Unlock()

	if err := c.bench.SafeReset(); err != nil {
		return fmt.Errorf("failed to reset relay bank: %w", err)
	}

	c.mu.Lock()
	c.currentExecID = uuid.Nil
	c.currentRecipe = ""
	c.mu.Unlock()

	c.setState(StateIdle, "")
	c.logger.Info("Machine reset to idle state")
	return nil
}

// Wait blocks until the current run has ended or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.RLock()
	done := c.done
	c.mu.RUnlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) setState(state State, errorMsg string) {
	c.mu.Lock()
	previousState := c.currentState
	c.currentState = state
	c.errorMessage = errorMsg
	c.lastStateChange = time.Now()
	c.mu.Unlock()

	c.logger.Info("Machine state changed",
		zap.String("state", string(state)),
		zap.String("error", errorMsg))

	c.broadcastState(state, previousState)
}

func (c *Controller) broadcastState(state, previous State) {
	if c.wsHub != nil {
		c.wsHub.Broadcast(websocket.NewMachineStateMessage(string(state), string(previous)))
	}
}

func (c *Controller) GetStatus() MachineStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := MachineStatus{
		State:           c.currentState,
		CurrentRecipe:   c.currentRecipe,
		ErrorMessage:    c.errorMessage,
		RunsCompleted:   c.runsCompleted,
		LastStateChange: c.lastStateChange,
	}
	if c.currentExecID != uuid.Nil {
		status.ExecutionID = c.currentExecID.String()
	}
	return status
}
