// Package webhook provides the inbound event context: signed webhook
// intake, the durable event inbox and routing into the lead lifecycle.
package webhook

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
	ErrEventNotFound  = errors.New("webhook event not found")
	ErrSecretNotFound = errors.New("webhook signing secret not found")
)

// Inbox event statuses.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

type Event struct {
	ID              uuid.UUID
	Source          string
	ExternalEventID string
	EventType       string
	Payload         json.RawMessage
	Status          string
	ErrorMessage    *string
	// LeadID is the lead a lead.created event materialized, recorded
	// before downstream processing so a redelivery reuses it instead of
	// creating a second lead.
	LeadID      *uuid.UUID
	TrackingID  string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Repository provides data access for the webhook event inbox and the
// per-source signing secrets.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const eventColumns = `id, source, external_event_id, event_type, payload,
	status, error_message, lead_id, tracking_id, created_at, processed_at`

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	err := row.Scan(
		&e.ID, &e.Source, &e.ExternalEventID, &e.EventType, &e.Payload,
		&e.Status, &e.ErrorMessage, &e.LeadID, &e.TrackingID, &e.CreatedAt, &e.ProcessedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Event{}, ErrEventNotFound
	}
	return e, err
}

// InsertEvent stores the raw delivery. The (source, external_event_id)
// unique constraint makes replays converge: the second return value is
// false when the event was seen before, and the stored original row is
// returned instead of a new one.
func (r *Repository) InsertEvent(ctx context.Context, source, externalEventID, eventType string, payload json.RawMessage, trackingID string) (Event, bool, error) {
	e, err := scanEvent(r.pool.QueryRow(ctx, `
		INSERT INTO webhook_events (source, external_event_id, event_type, payload, status, tracking_id)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		ON CONFLICT (source, external_event_id) DO NOTHING
		RETURNING `+eventColumns,
		source, externalEventID, eventType, payload, trackingID,
	))
	if err == nil {
		return e, true, nil
	}
	if !errors.Is(err, ErrEventNotFound) {
		return Event{}, false, err
	}

	e, err = scanEvent(r.pool.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM webhook_events
		WHERE source = $1 AND external_event_id = $2`,
		source, externalEventID,
	))
	return e, false, err
}

// MarkProcessed finishes the event.
func (r *Repository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status = 'processed', processed_at = now(), error_message = NULL
		WHERE id = $1
	`, id)
	return err
}

// MarkFailed records a processing failure. The delivery itself was
// already acknowledged; failed events are retried out of band.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status = 'failed', error_message = $2
		WHERE id = $1
	`, id, errorMessage)
	return err
}

// AttachLead pins the lead an event materialized to the event row.
func (r *Repository) AttachLead(ctx context.Context, id, leadID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_events
		SET lead_id = $2
		WHERE id = $1
	`, id, leadID)
	return err
}

// GetSigningSecret returns the active signing secret registered for a
// source.
func (r *Repository) GetSigningSecret(ctx context.Context, source string) (string, error) {
	var secret string
	err := r.pool.QueryRow(ctx, `
		SELECT signing_secret FROM webhook_api_keys
		WHERE source = $1 AND is_active = true
	`, source).Scan(&secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrSecretNotFound
	}
	return secret, err
}
