// Package repository provides data access for leads.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("lead not found")

// Lead lifecycle statuses.
const (
	StatusNew       = "new"
	StatusAssigned  = "assigned"
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
)

type Lead struct {
	ID               uuid.UUID
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	Source           string
	Status           string
	AssignedAgentID  *uuid.UUID
	MeetingStartTime *time.Time
	AttemptCount     int
	LastError        *string
	TrackingID       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FullName returns the display name used in outbound messages.
func (l Lead) FullName() string {
	if l.FirstName == "" {
		return l.LastName
	}
	if l.LastName == "" {
		return l.FirstName
	}
	return l.FirstName + " " + l.LastName
}

type CreateParams struct {
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	Source     string
	TrackingID string
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const leadColumns = `id, first_name, last_name, email, phone, source, status,
	assigned_agent_id, meeting_start_time, attempt_count, last_error,
	tracking_id, created_at, updated_at`

func scanLead(row pgx.Row) (Lead, error) {
	var l Lead
	err := row.Scan(
		&l.ID, &l.FirstName, &l.LastName, &l.Email, &l.Phone, &l.Source,
		&l.Status, &l.AssignedAgentID, &l.MeetingStartTime, &l.AttemptCount,
		&l.LastError, &l.TrackingID, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return l, err
}

// Create inserts a new lead in status "new".
func (r *Repository) Create(ctx context.Context, p CreateParams) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `
		INSERT INTO leads (first_name, last_name, email, phone, source, status, tracking_id)
		VALUES ($1, $2, $3, $4, $5, 'new', $6)
		RETURNING `+leadColumns,
		p.FirstName, p.LastName, p.Email, p.Phone, p.Source, p.TrackingID,
	))
}

// GetByID loads one lead.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
}

// FindByEmail returns the most recent lead with the given email, if any.
func (r *Repository) FindByEmail(ctx context.Context, email string) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE lower(email) = lower($1)
		 ORDER BY created_at DESC
		 LIMIT 1`, email))
}

// AssignAgent atomically binds the lead to an agent. The conditional WHERE
// makes the claim safe against concurrent assignment: the loser observes
// zero rows affected and should re-read the lead.
func (r *Repository) AssignAgent(ctx context.Context, leadID, agentID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET assigned_agent_id = $2, status = 'assigned', updated_at = now()
		WHERE id = $1 AND assigned_agent_id IS NULL AND status = 'new'
	`, leadID, agentID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateStatus sets the lead lifecycle status.
func (r *Repository) UpdateStatus(ctx context.Context, leadID uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET status = $2, updated_at = now() WHERE id = $1
	`, leadID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMeetingSchedule records the denormalized meeting start time and moves
// the lead to "scheduled".
func (r *Repository) SetMeetingSchedule(ctx context.Context, leadID uuid.UUID, startTime time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET meeting_start_time = $2, status = 'scheduled', updated_at = now()
		WHERE id = $1
	`, leadID, startTime)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordError increments the processing attempt counter and stores the error.
func (r *Repository) RecordError(ctx context.Context, leadID uuid.UUID, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET attempt_count = attempt_count + 1, last_error = $2, updated_at = now()
		WHERE id = $1
	`, leadID, message)
	return err
}
