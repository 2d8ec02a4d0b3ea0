package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/pricealert/internal/store"
)

// RunStore persists job runs in the job_runs table.
type RunStore struct {
	db DB
}

// NewRunStore wraps a pool.
func NewRunStore(db DB) *RunStore {
	return &RunStore{db: db}
}

const runColumns = `id, job, trigger, state, attempts, last_error, scheduled_at, started_at, finished_at, updated_at`

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		r     store.Run
		state string
	)
	err := row.Scan(&r.ID, &r.Job, &r.Trigger, &state, &r.Attempts, &r.LastError,
		&r.ScheduledAt, &r.StartedAt, &r.FinishedAt, &r.UpdatedAt)
	if err != nil {
		return store.Run{}, err
	}
	r.State = store.RunState(state)
	return r, nil
}

// CreateRun inserts a new run.
func (s *RunStore) CreateRun(ctx context.Context, run store.Run) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO job_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.Job, run.Trigger, string(run.State), run.Attempts, run.LastError,
		run.ScheduledAt, run.StartedAt, run.FinishedAt, run.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun overwrites the mutable fields of a run.
func (s *RunStore) UpdateRun(ctx context.Context, run store.Run) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE job_runs SET
			state = $2, attempts = $3, last_error = $4,
			started_at = $5, finished_at = $6, updated_at = $7
		WHERE id = $1`,
		run.ID, string(run.State), run.Attempts, run.LastError,
		run.StartedAt, run.FinishedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", run.ID, store.ErrNotFound)
	}
	return nil
}

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	r, err := scanRun(s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM job_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, filter store.ListFilter) ([]store.Run, error) {
	var (
		where []string
		args  []any
	)
	if filter.Job != "" {
		args = append(args, filter.Job)
		where = append(where, fmt.Sprintf("job = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	query := `SELECT ` + runColumns + ` FROM job_runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY scheduled_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []store.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ store.RunStore = (*RunStore)(nil)
