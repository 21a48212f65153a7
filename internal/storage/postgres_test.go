package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgContainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *PostgresClient {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := pgContainer.Run(ctx,
		"postgres:16-alpine",
		pgContainer.WithDatabase("openlab_test"),
		pgContainer.WithUsername("testuser"),
		pgContainer.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Connect(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx))
	// idempotent
	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestPostgres_Integration(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	t.Run("recipes", func(t *testing.T) {
		r := &Recipe{RecipeName: "sweep", Document: json.RawMessage(`{"version": 1}`)}
		require.NoError(t, db.CreateRecipe(ctx, r))
		require.NotEqual(t, uuid.Nil, r.ID)

		got, err := db.GetRecipe(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, "sweep", got.RecipeName)
		assert.JSONEq(t, `{"version": 1}`, string(got.Document))

		r.RecipeName = "sweep 2"
		require.NoError(t, db.UpdateRecipe(ctx, r))
		list, err := db.ListRecipes(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "sweep 2", list[0].RecipeName)

		require.NoError(t, db.DeleteRecipe(ctx, r.ID))
		_, err = db.GetRecipe(ctx, r.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, db.DeleteRecipe(ctx, r.ID), ErrNotFound)
	})

	t.Run("executions", func(t *testing.T) {
		exec := &Execution{
			ID:         uuid.New(),
			RecipeName: "sweep",
			Status:     StatusRunning,
			Devices:    []string{"ATMEGA_GENERAL", "HP4294A"},
			StartedAt:  time.Now().UTC().Truncate(time.Millisecond),
		}
		require.NoError(t, db.CreateExecution(ctx, exec))

		for _, typ := range []string{"execution.started", "task.log", "execution.completed"} {
			require.NoError(t, db.CreateExecutionEvent(ctx, &ExecutionEvent{
				ID: uuid.New(), ExecutionID: exec.ID, EventType: typ,
				Payload: json.RawMessage(`{}`), Timestamp: time.Now(),
			}))
		}
		events, err := db.GetExecutionEvents(ctx, exec.ID)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, "execution.started", events[0].EventType)
		assert.Equal(t, "execution.completed", events[2].EventType)

		handle := uuid.New()
		require.NoError(t, db.SaveSpectra(ctx, []*StoredSpectrum{
			{ExecutionID: exec.ID, Seq: 0, TaskID: 2, TaskName: "HP4294A 100 Hz - 1 kHz", Points: json.RawMessage(`[]`)},
			{ExecutionID: exec.ID, Seq: 1, TaskID: 3, TaskName: "transient", TransientID: &handle, Position: 0, TimeDiff: 0, Points: json.RawMessage(`[]`)},
			{ExecutionID: exec.ID, Seq: 2, TaskID: 3, TaskName: "transient", TransientID: &handle, Position: 1, TimeDiff: 1.5, Points: json.RawMessage(`[]`)},
		}))
		spectra, err := db.ListSpectra(ctx, exec.ID)
		require.NoError(t, err)
		require.Len(t, spectra, 3)
		assert.Nil(t, spectra[0].TransientID)
		assert.Equal(t, handle, *spectra[2].TransientID)
		assert.Equal(t, 1.5, spectra[2].TimeDiff)

		one, err := db.GetSpectrum(ctx, exec.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(3), one.TaskID)
		_, err = db.GetSpectrum(ctx, exec.ID, 9)
		assert.ErrorIs(t, err, ErrNotFound)

		now := time.Now()
		exec.Status = StatusCompleted
		exec.CompletedAt = &now
		exec.ArchiveKeys = []string{"executions/x/imp_spectrum_0.csv"}
		require.NoError(t, db.UpdateExecution(ctx, exec))

		got, err := db.GetExecution(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, []string{"ATMEGA_GENERAL", "HP4294A"}, got.Devices)
		assert.Equal(t, exec.ArchiveKeys, got.ArchiveKeys)
		require.NotNil(t, got.CompletedAt)

		stale := &Execution{ID: uuid.New(), RecipeName: "stale", Status: StatusRunning, StartedAt: time.Now()}
		require.NoError(t, db.CreateExecution(ctx, stale))
		n, err := db.MarkInterrupted(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		list, err := db.ListExecutions(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("users", func(t *testing.T) {
		require.NoError(t, db.EnsureUser(ctx, "lab", "hash-1", "operator"))
		require.NoError(t, db.EnsureUser(ctx, "lab", "hash-2", "technician"))

		u, err := db.GetUserByUsername(ctx, "lab")
		require.NoError(t, err)
		assert.Equal(t, "hash-2", u.PasswordHash)
		assert.Equal(t, "technician", u.Role)

		for i := 0; i < 2; i++ {
			require.NoError(t, db.IncrementFailedLoginAttempts(ctx, u.ID, 2, time.Minute))
		}
		u, err = db.GetUserByUsername(ctx, "lab")
		require.NoError(t, err)
		require.NotNil(t, u.LockedUntil)
		assert.True(t, u.LockedUntil.After(time.Now()))

		require.NoError(t, db.ResetFailedLoginAttempts(ctx, u.ID))
		require.NoError(t, db.StoreRefreshToken(ctx, u.ID, "h", time.Now().Add(time.Hour)))
		owner, err := db.GetRefreshToken(ctx, "h")
		require.NoError(t, err)
		assert.Equal(t, u.ID, *owner)

		require.NoError(t, db.RevokeRefreshToken(ctx, "h"))
		_, err = db.GetRefreshToken(ctx, "h")
		assert.EqualError(t, err, "refresh token revoked")

		_, err = db.GetUserByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, db.LogAuthEvent(ctx, "login", &u.ID, "127.0.0.1", "test", true, ""))
	})
}
