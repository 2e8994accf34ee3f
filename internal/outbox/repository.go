// Package outbox persists outbound messages and drives their delivery
// lifecycle. Messages are written in the same transaction scope as the
// domain change that caused them and drained by the scheduler process.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("outbound message not found")

// Message statuses. "scheduled" marks a retry waiting for its backoff
// window; the claim query treats it like "pending" once due.
const (
	StatusPending   = "pending"
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusScheduled = "scheduled"
	StatusFailed    = "failed"
)

// Message purposes, used for replay-safe existence checks.
const (
	PurposeInvitation  = "invitation"
	PurposeFollowup24h = "followup_24h"
	PurposeReminder24h = "reminder_24h"
	PurposeReminder1h  = "reminder_1h"
)

const DefaultMaxRetries = 5

type Message struct {
	ID                uuid.UUID
	LeadID            *uuid.UUID
	MeetingID         *uuid.UUID
	Purpose           string
	Channel           string
	Recipient         string
	Subject           string
	Body              string
	Status            string
	ScheduledFor      time.Time
	RetryCount        int
	MaxRetries        int
	ProviderMessageID *string
	SentAt            *time.Time
	LastError         *string
	TrackingID        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type InsertParams struct {
	LeadID       *uuid.UUID
	MeetingID    *uuid.UUID
	Purpose      string
	Channel      string
	Recipient    string
	Subject      string
	Body         string
	ScheduledFor time.Time
	TrackingID   string
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const messageColumns = `id, lead_id, meeting_id, purpose, channel, recipient,
	subject, body, status, scheduled_for, retry_count, max_retries,
	provider_message_id, sent_at, last_error, tracking_id, created_at, updated_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(
		&m.ID, &m.LeadID, &m.MeetingID, &m.Purpose, &m.Channel, &m.Recipient,
		&m.Subject, &m.Body, &m.Status, &m.ScheduledFor, &m.RetryCount,
		&m.MaxRetries, &m.ProviderMessageID, &m.SentAt, &m.LastError,
		&m.TrackingID, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

// Insert queues a message in status "pending".
func (r *Repository) Insert(ctx context.Context, p InsertParams) (uuid.UUID, error) {
	return r.insert(ctx, p, StatusPending)
}

// InsertClaimed queues a message already in status "sending", owned by
// the caller. A synchronous sender uses this so the polling drainer can
// never claim the same row while the inline delivery is in flight; the
// caller must finish with MarkSent or MarkPending.
func (r *Repository) InsertClaimed(ctx context.Context, p InsertParams) (uuid.UUID, error) {
	return r.insert(ctx, p, StatusSending)
}

func (r *Repository) insert(ctx context.Context, p InsertParams, status string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO outbound_messages
			(lead_id, meeting_id, purpose, channel, recipient, subject, body,
			 status, scheduled_for, max_retries, tracking_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, p.LeadID, p.MeetingID, p.Purpose, p.Channel, p.Recipient, p.Subject,
		p.Body, status, p.ScheduledFor, DefaultMaxRetries, p.TrackingID,
	).Scan(&id)
	return id, err
}

// claimDueQuery flips due messages to "sending" inside a single statement.
// FOR UPDATE SKIP LOCKED lets concurrent drainers partition the backlog
// instead of blocking on each other, and the status guard in the outer
// UPDATE keeps a row from being claimed twice.
const claimDueQuery = `
	WITH due AS (
		SELECT id FROM outbound_messages
		WHERE status IN ('pending', 'scheduled')
			AND scheduled_for <= now()
		ORDER BY scheduled_for ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE outbound_messages m
	SET status = 'sending', updated_at = now()
	FROM due
	WHERE m.id = due.id AND m.status IN ('pending', 'scheduled')
	RETURNING m.id, m.lead_id, m.meeting_id, m.purpose, m.channel, m.recipient,
		m.subject, m.body, m.status, m.scheduled_for, m.retry_count, m.max_retries,
		m.provider_message_id, m.sent_at, m.last_error, m.tracking_id,
		m.created_at, m.updated_at`

// ClaimDue atomically claims a batch of messages ready for delivery.
func (r *Repository) ClaimDue(ctx context.Context, limit int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, claimDueQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Message, error) {
	return scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM outbound_messages WHERE id = $1`, id))
}

// MarkSent records a successful delivery.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbound_messages
		SET status = 'sent', provider_message_id = $2, sent_at = now(), updated_at = now()
		WHERE id = $1
	`, id, providerMessageID)
	return err
}

// ScheduleRetry puts a failed send back in line with an increased retry
// count and a later due time.
func (r *Repository) ScheduleRetry(ctx context.Context, id uuid.UUID, scheduledFor time.Time, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbound_messages
		SET status = 'scheduled', retry_count = retry_count + 1,
			scheduled_for = $2, last_error = $3, updated_at = now()
		WHERE id = $1
	`, id, scheduledFor, lastError)
	return err
}

// MarkFailed parks the message in the terminal failed status.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbound_messages
		SET status = 'failed', retry_count = retry_count + 1,
			last_error = $2, updated_at = now()
		WHERE id = $1
	`, id, lastError)
	return err
}

// MarkPending returns a claimed message to the queue, used when handing
// it to the delivery worker fails after the claim.
func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbound_messages
		SET status = 'pending', last_error = $2, updated_at = now()
		WHERE id = $1 AND status = 'sending'
	`, id, lastError)
	return err
}

// ExistsForLeadPurpose reports whether a non-failed message with the
// given purpose was already queued or sent for the lead.
func (r *Repository) ExistsForLeadPurpose(ctx context.Context, leadID uuid.UUID, purpose string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM outbound_messages
			WHERE lead_id = $1 AND purpose = $2 AND status <> 'failed'
		)
	`, leadID, purpose).Scan(&exists)
	return exists, err
}

// NextRetryAt computes the linear backoff due time for the given attempt:
// one extra minute of delay per retry already performed.
func NextRetryAt(now time.Time, retryCount int) time.Time {
	return now.Add(time.Duration(retryCount+1) * time.Minute)
}
