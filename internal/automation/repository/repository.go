// Package repository provides data access for automation tasks.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("automation task not found")

	// ErrDuplicateTask signals that a pending or executing task with the
	// same dedupe scope already exists for the lead.
	ErrDuplicateTask = errors.New("duplicate automation task")
)

// Task statuses.
const (
	StatusPending   = "pending"
	StatusExecuting = "executing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

const DefaultMaxRetries = 3

type Task struct {
	ID           uuid.UUID
	LeadID       uuid.UUID
	WorkflowType string
	StepName     string
	DedupeKey    string
	ScheduledAt  time.Time
	Status       string
	RetryCount   int
	MaxRetries   int
	Metadata     json.RawMessage
	ErrorMessage *string
	TrackingID   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

type InsertParams struct {
	LeadID       uuid.UUID
	WorkflowType string
	StepName     string
	DedupeKey    string
	ScheduledAt  time.Time
	Metadata     json.RawMessage
	TrackingID   string
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const taskColumns = `id, lead_id, workflow_type, step_name, dedupe_key,
	scheduled_at, status, retry_count, max_retries, metadata, error_message,
	tracking_id, created_at, updated_at, completed_at`

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	err := row.Scan(
		&t.ID, &t.LeadID, &t.WorkflowType, &t.StepName, &t.DedupeKey,
		&t.ScheduledAt, &t.Status, &t.RetryCount, &t.MaxRetries, &t.Metadata,
		&t.ErrorMessage, &t.TrackingID, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	return t, err
}

// insertQuery relies on the partial unique index over
// (lead_id, step_name, dedupe_key) for non-terminal rows, so concurrent
// planners collapse onto a single pending task per scope.
const insertQuery = `
	INSERT INTO automation_tasks
		(lead_id, workflow_type, step_name, dedupe_key, scheduled_at,
		 status, max_retries, metadata, tracking_id)
	VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8)
	ON CONFLICT (lead_id, step_name, dedupe_key)
		WHERE status IN ('pending', 'executing')
		DO NOTHING
	RETURNING id`

// Insert schedules a task. It returns ErrDuplicateTask when an active
// task with the same scope already exists.
func (r *Repository) Insert(ctx context.Context, p InsertParams) (uuid.UUID, error) {
	metadata := p.Metadata
	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, insertQuery,
		p.LeadID, p.WorkflowType, p.StepName, p.DedupeKey, p.ScheduledAt,
		DefaultMaxRetries, metadata, p.TrackingID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrDuplicateTask
	}
	return id, err
}

// claimDueQuery flips due pending tasks to executing in one statement.
// FOR UPDATE SKIP LOCKED partitions the backlog across concurrent
// scheduler instances; the repeated status guard in the UPDATE keeps a
// row from being claimed twice.
const claimDueQuery = `
	WITH due AS (
		SELECT id FROM automation_tasks
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	UPDATE automation_tasks t
	SET status = 'executing', updated_at = now()
	FROM due
	WHERE t.id = due.id AND t.status = 'pending'
	RETURNING t.id, t.lead_id, t.workflow_type, t.step_name, t.dedupe_key,
		t.scheduled_at, t.status, t.retry_count, t.max_retries, t.metadata,
		t.error_message, t.tracking_id, t.created_at, t.updated_at, t.completed_at`

// ClaimDue atomically claims a batch of tasks due at the given time.
func (r *Repository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	rows, err := r.pool.Query(ctx, claimDueQuery, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkCompleted finishes a task and merges the execution result into its
// metadata for later inspection.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE automation_tasks
		SET status = 'completed', completed_at = now(), updated_at = now(),
			metadata = metadata || jsonb_build_object('result', $2::jsonb)
		WHERE id = $1
	`, id, resultJSON)
	return err
}

const markFailedQuery = `
	UPDATE automation_tasks
	SET status = 'failed', error_message = $2, updated_at = now()
	WHERE id = $1
`

// MarkFailed parks the task as failed. Failed steps are terminal; an
// operator re-triggers the workflow rather than the loop replaying a
// business event. Delivery retries live on the outbound message row.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	_, err := r.pool.Exec(ctx, markFailedQuery, id, errorMessage)
	return err
}

// CompleteAndReschedule finishes the current task and inserts its
// successor in one transaction, so a monitoring chain never loses its
// next link to a crash between the two writes.
func (r *Repository) CompleteAndReschedule(ctx context.Context, id uuid.UUID, result map[string]any, successor InsertParams) (uuid.UUID, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return uuid.Nil, err
	}
	metadata := successor.Metadata
	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE automation_tasks
		SET status = 'completed', completed_at = now(), updated_at = now(),
			metadata = metadata || jsonb_build_object('result', $2::jsonb)
		WHERE id = $1
	`, id, resultJSON); err != nil {
		return uuid.Nil, err
	}

	var successorID uuid.UUID
	err = tx.QueryRow(ctx, insertQuery,
		successor.LeadID, successor.WorkflowType, successor.StepName,
		successor.DedupeKey, successor.ScheduledAt, DefaultMaxRetries,
		metadata, successor.TrackingID,
	).Scan(&successorID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	if err != nil {
		return uuid.Nil, err
	}

	return successorID, tx.Commit(ctx)
}

// CancelPending cancels all pending tasks of the given step for a lead
// and returns how many were cancelled.
func (r *Repository) CancelPending(ctx context.Context, leadID uuid.UUID, stepName string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE automation_tasks
		SET status = 'cancelled', updated_at = now()
		WHERE lead_id = $1 AND step_name = $2 AND status = 'pending'
	`, leadID, stepName)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CancelPendingSteps cancels pending tasks across several steps at once.
func (r *Repository) CancelPendingSteps(ctx context.Context, leadID uuid.UUID, stepNames []string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE automation_tasks
		SET status = 'cancelled', updated_at = now()
		WHERE lead_id = $1 AND step_name = ANY($2) AND status = 'pending'
	`, leadID, stepNames)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListByLead returns the lead's tasks, newest first.
func (r *Repository) ListByLead(ctx context.Context, leadID uuid.UUID) ([]Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM automation_tasks
		WHERE lead_id = $1
		ORDER BY created_at DESC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// HasCompleted reports whether the lead already finished the given step.
func (r *Repository) HasCompleted(ctx context.Context, leadID uuid.UUID, stepName string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM automation_tasks
			WHERE lead_id = $1 AND step_name = $2 AND status = 'completed'
		)
	`, leadID, stepName).Scan(&exists)
	return exists, err
}
