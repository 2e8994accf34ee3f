// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"leadflow_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Lead Domain Events
// =============================================================================

// LeadCreated is published when a new lead is durably created from an
// inbound webhook event.
type LeadCreated struct {
	BaseEvent
	LeadID     uuid.UUID `json:"leadId"`
	Source     string    `json:"source"`
	TrackingID string    `json:"trackingId"`
}

func (e LeadCreated) EventName() string { return "leads.created" }

// LeadAssigned is published when the assignment selector binds a lead to an
// agent. Agent is nil when the generic fallback path was taken.
type LeadAssigned struct {
	BaseEvent
	LeadID     uuid.UUID  `json:"leadId"`
	AgentID    *uuid.UUID `json:"agentId,omitempty"`
	Fallback   bool       `json:"fallback"`
	TrackingID string     `json:"trackingId"`
}

func (e LeadAssigned) EventName() string { return "leads.assigned" }

// =============================================================================
// Meeting Domain Events
// =============================================================================

// MeetingScheduled is published after a meeting webhook has been confirmed
// and the meeting row persisted.
type MeetingScheduled struct {
	BaseEvent
	MeetingID  uuid.UUID `json:"meetingId"`
	LeadID     uuid.UUID `json:"leadId"`
	StartTime  time.Time `json:"startTime"`
	TrackingID string    `json:"trackingId"`
}

func (e MeetingScheduled) EventName() string { return "meetings.scheduled" }

// MeetingCancelled is published when a meeting is cancelled by the provider.
type MeetingCancelled struct {
	BaseEvent
	MeetingID  uuid.UUID `json:"meetingId"`
	LeadID     uuid.UUID `json:"leadId"`
	TrackingID string    `json:"trackingId"`
}

func (e MeetingCancelled) EventName() string { return "meetings.cancelled" }

// =============================================================================
// Outbound Messaging Events
// =============================================================================

// OutboundMessageSent is published when the queue drainer confirms a message
// was handed to the provider.
type OutboundMessageSent struct {
	BaseEvent
	MessageID         uuid.UUID  `json:"messageId"`
	LeadID            *uuid.UUID `json:"leadId,omitempty"`
	Channel           string     `json:"channel"`
	ProviderMessageID string     `json:"providerMessageId"`
	TrackingID        string     `json:"trackingId"`
}

func (e OutboundMessageSent) EventName() string { return "outbox.message.sent" }
