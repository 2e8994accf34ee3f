// Package repository provides data access for scheduled meetings and
// their reminder bookkeeping.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("meeting not found")

// Meeting statuses.
const (
	StatusScheduled = "scheduled"
	StatusCanceled  = "canceled"
	StatusCompleted = "completed"
)

// Reminder channels and offsets. Each (offset, channel) pair maps to a
// dedicated sent flag on the meeting row so a reminder fires at most once.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"

	Offset24h = "24h"
	Offset1h  = "1h"
)

type Meeting struct {
	ID               uuid.UUID
	LeadID           uuid.UUID
	AgentID          *uuid.UUID
	ExternalRef      string
	StartTime        time.Time
	EndTime          *time.Time
	Status           string
	Reminder24hEmail bool
	Reminder24hSMS   bool
	Reminder1hEmail  bool
	Reminder1hSMS    bool
	TrackingID       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type UpsertParams struct {
	LeadID      uuid.UUID
	AgentID     *uuid.UUID
	ExternalRef string
	StartTime   time.Time
	EndTime     *time.Time
	TrackingID  string
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const meetingColumns = `id, lead_id, agent_id, external_ref, start_time, end_time,
	status, reminder_24h_email_sent, reminder_24h_sms_sent,
	reminder_1h_email_sent, reminder_1h_sms_sent, tracking_id,
	created_at, updated_at`

func scanMeeting(row pgx.Row) (Meeting, error) {
	var m Meeting
	err := row.Scan(
		&m.ID, &m.LeadID, &m.AgentID, &m.ExternalRef, &m.StartTime, &m.EndTime,
		&m.Status, &m.Reminder24hEmail, &m.Reminder24hSMS,
		&m.Reminder1hEmail, &m.Reminder1hSMS, &m.TrackingID,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Meeting{}, ErrNotFound
	}
	return m, err
}

// UpsertByExternalRef inserts the meeting keyed by the scheduling tool's
// reference, or refreshes the schedule of an existing row. Replayed
// webhook deliveries therefore converge on a single meeting. The second
// return value reports whether a new row was created.
func (r *Repository) UpsertByExternalRef(ctx context.Context, p UpsertParams) (Meeting, bool, error) {
	m, err := scanMeeting(r.pool.QueryRow(ctx, `
		INSERT INTO meetings (lead_id, agent_id, external_ref, start_time, end_time, status, tracking_id)
		VALUES ($1, $2, $3, $4, $5, 'scheduled', $6)
		ON CONFLICT (external_ref) DO NOTHING
		RETURNING `+meetingColumns,
		p.LeadID, p.AgentID, p.ExternalRef, p.StartTime, p.EndTime, p.TrackingID,
	))
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Meeting{}, false, err
	}

	m, err = scanMeeting(r.pool.QueryRow(ctx, `
		UPDATE meetings
		SET start_time = $2, end_time = $3, status = 'scheduled', updated_at = now()
		WHERE external_ref = $1
		RETURNING `+meetingColumns,
		p.ExternalRef, p.StartTime, p.EndTime,
	))
	return m, false, err
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Meeting, error) {
	return scanMeeting(r.pool.QueryRow(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id))
}

// GetByExternalRef looks a meeting up by the scheduling tool's reference.
func (r *Repository) GetByExternalRef(ctx context.Context, externalRef string) (Meeting, error) {
	return scanMeeting(r.pool.QueryRow(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE external_ref = $1`, externalRef))
}

// GetCurrentByLead returns the lead's most recent scheduled meeting.
func (r *Repository) GetCurrentByLead(ctx context.Context, leadID uuid.UUID) (Meeting, error) {
	return scanMeeting(r.pool.QueryRow(ctx, `
		SELECT `+meetingColumns+` FROM meetings
		WHERE lead_id = $1 AND status = 'scheduled'
		ORDER BY start_time DESC
		LIMIT 1`, leadID))
}

// MarkCanceled moves the meeting to canceled.
func (r *Repository) MarkCanceled(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE meetings SET status = 'canceled', updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// reminderFlagColumn whitelists the flag column for an (offset, channel)
// pair. Column names never come from caller input directly.
func reminderFlagColumn(offset, channel string) (string, error) {
	switch offset + "/" + channel {
	case "24h/email":
		return "reminder_24h_email_sent", nil
	case "24h/sms":
		return "reminder_24h_sms_sent", nil
	case "1h/email":
		return "reminder_1h_email_sent", nil
	case "1h/sms":
		return "reminder_1h_sms_sent", nil
	}
	return "", fmt.Errorf("unknown reminder flag %s/%s", offset, channel)
}

// ClaimReminderFlag flips the sent flag for the given offset and channel.
// It returns true only for the caller that performed the flip, which makes
// the flag the exactly-once gate for reminder delivery.
func (r *Repository) ClaimReminderFlag(ctx context.Context, meetingID uuid.UUID, offset, channel string) (bool, error) {
	col, err := reminderFlagColumn(offset, channel)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE meetings SET `+col+` = true, updated_at = now()
		WHERE id = $1 AND `+col+` = false
	`, meetingID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReminderFlagSet reports whether the reminder for the given offset and
// channel was already sent.
func (r *Repository) ReminderFlagSet(ctx context.Context, meetingID uuid.UUID, offset, channel string) (bool, error) {
	col, err := reminderFlagColumn(offset, channel)
	if err != nil {
		return false, err
	}
	var set bool
	err = r.pool.QueryRow(ctx,
		`SELECT `+col+` FROM meetings WHERE id = $1`, meetingID,
	).Scan(&set)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return set, err
}

// InsertReminderLog appends an audit row for a delivered reminder.
func (r *Repository) InsertReminderLog(ctx context.Context, meetingID uuid.UUID, offset, channel string, messageID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO meeting_reminders (meeting_id, reminder_offset, channel, outbound_message_id)
		VALUES ($1, $2, $3, $4)
	`, meetingID, offset, channel, messageID)
	return err
}

// ListUpcoming returns scheduled meetings starting within the window,
// used by the periodic sweep that repairs missing reminder tasks.
func (r *Repository) ListUpcoming(ctx context.Context, within time.Duration) ([]Meeting, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+meetingColumns+` FROM meetings
		WHERE status = 'scheduled'
			AND start_time > now()
			AND start_time <= now() + $1
		ORDER BY start_time ASC
	`, within)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
