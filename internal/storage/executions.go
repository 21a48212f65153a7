package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (p *PostgresClient) CreateExecution(ctx context.Context, exec *Execution) error {
	devices := exec.Devices
	if devices == nil {
		devices = []string{}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO executions (id, recipe_id, recipe_name, status, error, devices, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, exec.ID, exec.RecipeID, exec.RecipeName, string(exec.Status), exec.Error, devices, exec.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// UpdateExecution writes status, error, archive keys and completion time.
func (p *PostgresClient) UpdateExecution(ctx context.Context, exec *Execution) error {
	keys := exec.ArchiveKeys
	if keys == nil {
		keys = []string{}
	}
	result, err := p.pool.Exec(ctx, `
		UPDATE executions
		SET status = $1, error = $2, archive_keys = $3, completed_at = $4
		WHERE id = $5
	`, string(exec.Status), exec.Error, keys, exec.CompletedAt, exec.ID)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("execution %s: %w", exec.ID, ErrNotFound)
	}
	return nil
}

const executionColumns = `id, recipe_id, recipe_name, status, error, devices, archive_keys, started_at, completed_at`

func scanExecution(row pgx.Row) (*Execution, error) {
	var exec Execution
	var status string
	err := row.Scan(&exec.ID, &exec.RecipeID, &exec.RecipeName, &status, &exec.Error,
		&exec.Devices, &exec.ArchiveKeys, &exec.StartedAt, &exec.CompletedAt)
	if err != nil {
		return nil, err
	}
	exec.Status = ExecutionStatus(status)
	return &exec, nil
}

func (p *PostgresClient) GetExecution(ctx context.Context, executionID uuid.UUID) (*Execution, error) {
	exec, err := scanExecution(p.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, executionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

// ListExecutions returns the most recent executions first.
func (p *PostgresClient) ListExecutions(ctx context.Context, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM executions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	execs := make([]*Execution, 0)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// MarkInterrupted fails executions that were still running when the daemon
// stopped.
func (p *PostgresClient) MarkInterrupted(ctx context.Context) (int64, error) {
	result, err := p.pool.Exec(ctx, `
		UPDATE executions
		SET status = $1, error = 'interrupted by shutdown', completed_at = NOW()
		WHERE status IN ($2, $3)
	`, string(StatusFailed), string(StatusPending), string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted executions: %w", err)
	}
	return result.RowsAffected(), nil
}

func (p *PostgresClient) CreateExecutionEvent(ctx context.Context, event *ExecutionEvent) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO execution_events (id, execution_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, event.ID, event.ExecutionID, event.EventType, []byte(event.Payload), event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// GetExecutionEvents returns the events of an execution in insertion order.
func (p *PostgresClient) GetExecutionEvents(ctx context.Context, executionID uuid.UUID) ([]*ExecutionEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, execution_id, event_type, payload, created_at
		FROM execution_events
		WHERE execution_id = $1
		ORDER BY seq
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	defer rows.Close()

	events := make([]*ExecutionEvent, 0)
	for rows.Next() {
		var e ExecutionEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.EventType, &payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Payload = payload
		events = append(events, &e)
	}
	return events, rows.Err()
}

// SaveSpectra stores the spectra of one execution in a single transaction.
func (p *PostgresClient) SaveSpectra(ctx context.Context, spectra []*StoredSpectrum) error {
	if len(spectra) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, s := range spectra {
		err := tx.QueryRow(ctx, `
			INSERT INTO spectra (execution_id, seq, task_id, task_name, transient_id, position, time_diff, points)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at
		`, s.ExecutionID, s.Seq, s.TaskID, s.TaskName, s.TransientID, s.Position, s.TimeDiff, []byte(s.Points)).
			Scan(&s.ID, &s.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert spectrum %d: %w", s.Seq, err)
		}
	}

	return tx.Commit(ctx)
}

const spectrumColumns = `id, execution_id, seq, task_id, task_name, transient_id, position, time_diff, points, created_at`

func scanSpectrum(row pgx.Row) (*StoredSpectrum, error) {
	var s StoredSpectrum
	var points []byte
	err := row.Scan(&s.ID, &s.ExecutionID, &s.Seq, &s.TaskID, &s.TaskName, &s.TransientID,
		&s.Position, &s.TimeDiff, &points, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Points = points
	return &s, nil
}

func (p *PostgresClient) ListSpectra(ctx context.Context, executionID uuid.UUID) ([]*StoredSpectrum, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+spectrumColumns+` FROM spectra WHERE execution_id = $1 ORDER BY seq`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list spectra: %w", err)
	}
	defer rows.Close()

	spectra := make([]*StoredSpectrum, 0)
	for rows.Next() {
		s, err := scanSpectrum(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan spectrum: %w", err)
		}
		spectra = append(spectra, s)
	}
	return spectra, rows.Err()
}

func (p *PostgresClient) GetSpectrum(ctx context.Context, executionID uuid.UUID, seq int) (*StoredSpectrum, error) {
	s, err := scanSpectrum(p.pool.QueryRow(ctx,
		`SELECT `+spectrumColumns+` FROM spectra WHERE execution_id = $1 AND seq = $2`, executionID, seq))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("spectrum %d of %s: %w", seq, executionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get spectrum: %w", err)
	}
	return s, nil
}
