package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/automation"
	leadrepo "leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"
	"leadflow_backend/platform/validator"
)

// Supported inbound event types.
const (
	EventLeadCreated      = "lead.created"
	EventMeetingScheduled = "meeting.scheduled"
	EventMeetingCanceled  = "meeting.canceled"
)

// Service ports.
type (
	Inbox interface {
		InsertEvent(ctx context.Context, source, externalEventID, eventType string, payload json.RawMessage, trackingID string) (Event, bool, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
		AttachLead(ctx context.Context, id, leadID uuid.UUID) error
	}

	LeadWriter interface {
		Create(ctx context.Context, p leadrepo.CreateParams) (leadrepo.Lead, error)
		GetByID(ctx context.Context, id uuid.UUID) (leadrepo.Lead, error)
		FindByEmail(ctx context.Context, email string) (leadrepo.Lead, error)
	}

	Lifecycle interface {
		OnLeadCreated(ctx context.Context, lead leadrepo.Lead) error
		OnMeetingScheduled(ctx context.Context, leadID uuid.UUID, info automation.MeetingInfo, trackingID string) error
		OnMeetingCancelled(ctx context.Context, externalRef, trackingID string) error
	}
)

// envelope is the normalized wire shape of an inbound event.
type envelope struct {
	EventID    string          `json:"eventId" validate:"required"`
	Type       string          `json:"type" validate:"required"`
	TrackingID string          `json:"trackingId"`
	Lead       *leadPayload    `json:"lead,omitempty"`
	Meeting    *meetingPayload `json:"meeting,omitempty"`
	OccurredAt *time.Time      `json:"occurredAt,omitempty"`
}

type leadPayload struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone"`
}

type meetingPayload struct {
	ExternalRef string     `json:"externalRef" validate:"required"`
	LeadID      string     `json:"leadId"`
	LeadEmail   string     `json:"leadEmail"`
	StartTime   *time.Time `json:"startTime"`
	EndTime     *time.Time `json:"endTime"`
}

// Receipt statuses returned to the sender.
const (
	ReceiptProcessed = "processed"
	ReceiptDuplicate = "duplicate"
	ReceiptFailed    = "failed"
)

type Receipt struct {
	EventID    uuid.UUID `json:"eventId"`
	Status     string    `json:"status"`
	TrackingID string    `json:"trackingId"`
}

type Service struct {
	inbox     Inbox
	leads     LeadWriter
	lifecycle Lifecycle
	validate  *validator.Validator
	log       *logger.Logger
}

func NewService(inbox Inbox, leads LeadWriter, lifecycle Lifecycle, validate *validator.Validator, log *logger.Logger) *Service {
	return &Service{
		inbox:     inbox,
		leads:     leads,
		lifecycle: lifecycle,
		validate:  validate,
		log:       log,
	}
}

// ProcessEvent ingests one signed delivery. The event is made durable
// first; once the insert succeeds the delivery is acknowledged to the
// sender no matter what processing does, so the provider never replays a
// delivery because our workflow hiccuped. Replayed deliveries collapse
// onto the stored event and processed ones are never run twice.
func (s *Service) ProcessEvent(ctx context.Context, source string, body []byte) (Receipt, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Receipt{}, apperr.BadRequest("malformed event payload")
	}
	if err := s.validate.Struct(env); err != nil {
		return Receipt{}, apperr.Wrap(apperr.KindValidation, "invalid event envelope", err)
	}

	trackingID := env.TrackingID
	if trackingID == "" {
		trackingID = uuid.NewString()
	}
	log := s.log.WithTrackingID(trackingID)

	event, created, err := s.inbox.InsertEvent(ctx, source, env.EventID, env.Type, body, trackingID)
	if err != nil {
		return Receipt{}, apperr.Wrap(apperr.KindInternal, "failed to store event", err)
	}
	if !created {
		if event.Status == StatusProcessed {
			log.Info("duplicate webhook delivery ignored",
				"source", source,
				"external_event_id", env.EventID,
			)
			return Receipt{EventID: event.ID, Status: ReceiptDuplicate, TrackingID: event.TrackingID}, nil
		}
		// Stored earlier but never finished; run it again.
		trackingID = event.TrackingID
	}

	if err := s.route(ctx, event, env, trackingID); err != nil {
		log.Error("webhook processing failed",
			"source", source,
			"event_type", env.Type,
			"error", err,
		)
		if mErr := s.inbox.MarkFailed(ctx, event.ID, err.Error()); mErr != nil {
			log.Error("mark event failed", "event_id", event.ID, "error", mErr)
		}
		return Receipt{EventID: event.ID, Status: ReceiptFailed, TrackingID: trackingID}, nil
	}

	if err := s.inbox.MarkProcessed(ctx, event.ID); err != nil {
		log.Error("mark event processed", "event_id", event.ID, "error", err)
	}
	return Receipt{EventID: event.ID, Status: ReceiptProcessed, TrackingID: trackingID}, nil
}

func (s *Service) route(ctx context.Context, event Event, env envelope, trackingID string) error {
	switch env.Type {
	case EventLeadCreated:
		return s.processLeadCreated(ctx, event, env, trackingID)
	case EventMeetingScheduled:
		return s.processMeetingScheduled(ctx, env, trackingID)
	case EventMeetingCanceled:
		return s.processMeetingCanceled(ctx, env, trackingID)
	}
	return fmt.Errorf("unsupported event type %q", env.Type)
}

func (s *Service) processLeadCreated(ctx context.Context, event Event, env envelope, trackingID string) error {
	if env.Lead == nil {
		return fmt.Errorf("lead.created event without lead payload")
	}
	if err := s.validate.Struct(env.Lead); err != nil {
		return fmt.Errorf("invalid lead payload: %w", err)
	}

	// A redelivery after a partial failure reuses the lead the first
	// attempt already materialized, so one external event can never
	// produce two leads.
	if event.LeadID != nil {
		lead, err := s.leads.GetByID(ctx, *event.LeadID)
		if err != nil {
			return fmt.Errorf("load lead for redelivered event: %w", err)
		}
		return s.lifecycle.OnLeadCreated(ctx, lead)
	}

	phoneNumber := phone.NormalizeE164(env.Lead.Phone)

	lead, err := s.leads.Create(ctx, leadrepo.CreateParams{
		FirstName:  env.Lead.FirstName,
		LastName:   env.Lead.LastName,
		Email:      env.Lead.Email,
		Phone:      phoneNumber,
		Source:     "webhook",
		TrackingID: trackingID,
	})
	if err != nil {
		return fmt.Errorf("create lead: %w", err)
	}
	if err := s.inbox.AttachLead(ctx, event.ID, lead.ID); err != nil {
		return fmt.Errorf("record lead on event: %w", err)
	}

	return s.lifecycle.OnLeadCreated(ctx, lead)
}

func (s *Service) processMeetingScheduled(ctx context.Context, env envelope, trackingID string) error {
	if env.Meeting == nil {
		return fmt.Errorf("meeting.scheduled event without meeting payload")
	}
	if err := s.validate.Struct(env.Meeting); err != nil {
		return fmt.Errorf("invalid meeting payload: %w", err)
	}
	if env.Meeting.StartTime == nil {
		return fmt.Errorf("meeting.scheduled event without start time")
	}

	lead, err := s.resolveLead(ctx, *env.Meeting)
	if err != nil {
		return err
	}

	return s.lifecycle.OnMeetingScheduled(ctx, lead.ID, automation.MeetingInfo{
		ExternalRef: env.Meeting.ExternalRef,
		StartTime:   *env.Meeting.StartTime,
		EndTime:     env.Meeting.EndTime,
	}, trackingID)
}

func (s *Service) processMeetingCanceled(ctx context.Context, env envelope, trackingID string) error {
	if env.Meeting == nil {
		return fmt.Errorf("meeting.canceled event without meeting payload")
	}
	return s.lifecycle.OnMeetingCancelled(ctx, env.Meeting.ExternalRef, trackingID)
}

// resolveLead finds the lead a meeting event refers to: by the lead id
// embedded in the scheduling link when present, by email otherwise.
func (s *Service) resolveLead(ctx context.Context, m meetingPayload) (leadrepo.Lead, error) {
	if m.LeadID != "" {
		id, err := uuid.Parse(m.LeadID)
		if err != nil {
			return leadrepo.Lead{}, fmt.Errorf("invalid lead id %q: %w", m.LeadID, err)
		}
		return s.leads.GetByID(ctx, id)
	}
	if m.LeadEmail != "" {
		return s.leads.FindByEmail(ctx, m.LeadEmail)
	}
	return leadrepo.Lead{}, fmt.Errorf("meeting event carries no lead reference")
}
