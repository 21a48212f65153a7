package machine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/api/websocket"
	"github.com/KevinKickass/OpenLabCore/internal/engine"
	"github.com/KevinKickass/OpenLabCore/internal/faults"
	"github.com/KevinKickass/OpenLabCore/internal/relay"
	"github.com/KevinKickass/OpenLabCore/internal/storage"
	"github.com/KevinKickass/OpenLabCore/internal/task"
)

type fakeRunner struct {
	err      error
	results  chan engine.Result
	id       uuid.UUID
	canceled bool
}

func (r *fakeRunner) Run(context.Context, engine.Request) (uuid.UUID, <-chan engine.Result, error) {
	if r.err != nil {
		return uuid.Nil, nil, r.err
	}
	r.id = uuid.New()
	r.results = make(chan engine.Result, 1)
	return r.id, r.results, nil
}

func (r *fakeRunner) Cancel(uuid.UUID) error {
	r.canceled = true
	r.results <- engine.Result{ExecutionID: r.id, Status: storage.StatusCancelled}
	return nil
}

type fakeBench struct {
	mu     sync.Mutex
	busy   bool
	resets int
	leds   map[relay.LED]bool
}

func (b *fakeBench) SetBusy(busy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.busy = busy
}

func (b *fakeBench) SafeReset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets++
	return nil
}

func (b *fakeBench) SetLED(led relay.LED, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.leds == nil {
		b.leds = map[relay.LED]bool{}
	}
	b.leds[led] = on
	return nil
}

func (b *fakeBench) snapshot() (bool, int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.busy, b.resets, b.leds[relay.LEDRunning]
}

type hub struct {
	mu     sync.Mutex
	states []string
}

func (h *hub) Broadcast(msg websocket.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, msg.Data.(websocket.MachineStateData).State)
}

func recipe() *task.Task {
	ids := &task.IDGenerator{}
	return task.NewRecipe(ids, "r", task.NewDelay(ids, 0, 1))
}

func waitFor(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func TestController_Completes(t *testing.T) {
	runner := &fakeRunner{}
	bench := &fakeBench{}
	h := &hub{}
	c := NewController(zap.NewNop(), runner, bench, h)

	id, err := c.Run(context.Background(), recipe(), nil)
	require.NoError(t, err)
	assert.Equal(t, runner.id, id)

	st := c.GetStatus()
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, "r", st.CurrentRecipe)
	assert.Equal(t, id.String(), st.ExecutionID)

	busy, _, led := bench.snapshot()
	assert.True(t, busy)
	assert.True(t, led)

	_, err = c.Run(context.Background(), recipe(), nil)
	assert.ErrorIs(t, err, ErrBusy)

	runner.results <- engine.Result{ExecutionID: id, Status: storage.StatusCompleted}
	waitFor(t, c)

	st = c.GetStatus()
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, 1, st.RunsCompleted)

	busy, resets, led := bench.snapshot()
	assert.False(t, busy)
	assert.Zero(t, resets)
	assert.False(t, led)
	assert.Equal(t, []string{"running", "completed"}, h.states)
}

func TestController_FailureResetsRelays(t *testing.T) {
	runner := &fakeRunner{}
	bench := &fakeBench{}
	c := NewController(zap.NewNop(), runner, bench, nil)

	id, err := c.Run(context.Background(), recipe(), nil)
	require.NoError(t, err)

	runner.results <- engine.Result{ExecutionID: id, Status: storage.StatusFailed, Err: faults.Transport("relay gone")}
	waitFor(t, c)

	st := c.GetStatus()
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, "transport error: relay gone", st.ErrorMessage)
	_, resets, _ := bench.snapshot()
	assert.Equal(t, 1, resets)

	_, err = c.Run(context.Background(), recipe(), nil)
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, c.ExecuteCommand(context.Background(), CommandReset))
	assert.Equal(t, StateIdle, c.GetStatus().State)
	assert.Empty(t, c.GetStatus().ExecutionID)
}

func TestController_Stop(t *testing.T) {
	runner := &fakeRunner{}
	bench := &fakeBench{}
	c := NewController(zap.NewNop(), runner, bench, nil)

	assert.ErrorIs(t, c.Stop(), ErrNotRunning)

	_, err := c.Run(context.Background(), recipe(), nil)
	require.NoError(t, err)

	require.NoError(t, c.ExecuteCommand(context.Background(), CommandStop))
	waitFor(t, c)

	assert.True(t, runner.canceled)
	assert.Equal(t, StateCancelled, c.GetStatus().State)
	_, resets, _ := bench.snapshot()
	assert.Equal(t, 1, resets)

	assert.Error(t, c.ExecuteCommand(context.Background(), "home"))
}

func TestController_PreflightFailureKeepsState(t *testing.T) {
	runner := &fakeRunner{err: &engine.MissingDevicesError{Missing: []task.Device{task.DeviceHP4294A}}}
	bench := &fakeBench{}
	c := NewController(zap.NewNop(), runner, bench, nil)

	_, err := c.Run(context.Background(), recipe(), nil)
	require.Error(t, err)
	var missing *engine.MissingDevicesError
	assert.True(t, errors.As(err, &missing))

	st := c.GetStatus()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, "devices not available: HP4294A", st.ErrorMessage)
	busy, resets, _ := bench.snapshot()
	assert.False(t, busy)
	assert.Zero(t, resets)
	require.NoError(t, c.Wait(context.Background()))
}
