// Package timeline turns domain events into a structured audit trail.
// Every lifecycle event is logged with its tracking id so the full
// journey of a lead can be reconstructed from the logs alone.
package timeline

import (
	"context"

	"leadflow_backend/internal/events"
	"leadflow_backend/platform/logger"
)

// Subscriber writes one log entry per domain event. Handlers never fail,
// so publishing is free for the emitting side.
type Subscriber struct {
	log *logger.Logger
}

func NewSubscriber(log *logger.Logger) *Subscriber {
	return &Subscriber{log: log}
}

// RegisterHandlers subscribes to all lifecycle events on the event bus.
func (s *Subscriber) RegisterHandlers(bus *events.InMemoryBus) {
	bus.Subscribe(events.LeadCreated{}.EventName(), s)
	bus.Subscribe(events.LeadAssigned{}.EventName(), s)
	bus.Subscribe(events.MeetingScheduled{}.EventName(), s)
	bus.Subscribe(events.MeetingCancelled{}.EventName(), s)
	bus.Subscribe(events.OutboundMessageSent{}.EventName(), s)
}

// Handle routes events to the matching log entry.
func (s *Subscriber) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.LeadCreated:
		s.log.WithTrackingID(e.TrackingID).Info("timeline: lead created",
			"lead_id", e.LeadID, "source", e.Source)
	case events.LeadAssigned:
		log := s.log.WithTrackingID(e.TrackingID)
		if e.Fallback {
			log.Info("timeline: lead routed to generic pool", "lead_id", e.LeadID)
		} else {
			log.Info("timeline: lead assigned", "lead_id", e.LeadID, "agent_id", e.AgentID)
		}
	case events.MeetingScheduled:
		s.log.WithTrackingID(e.TrackingID).Info("timeline: meeting scheduled",
			"lead_id", e.LeadID, "meeting_id", e.MeetingID, "start_time", e.StartTime)
	case events.MeetingCancelled:
		s.log.WithTrackingID(e.TrackingID).Info("timeline: meeting cancelled",
			"lead_id", e.LeadID, "meeting_id", e.MeetingID)
	case events.OutboundMessageSent:
		s.log.WithTrackingID(e.TrackingID).Info("timeline: message delivered",
			"message_id", e.MessageID, "channel", e.Channel,
			"provider_message_id", e.ProviderMessageID)
	}
	return nil
}

var _ events.Handler = (*Subscriber)(nil)
