package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	taskrepo "leadflow_backend/internal/automation/repository"
	meetrepo "leadflow_backend/internal/meetings/repository"
	"leadflow_backend/platform/logger"
)

// reminderSlot is one (offset, channel) combination of the reminder plan.
type reminderSlot struct {
	offset   time.Duration
	label    string
	channel  string
	stepName string
}

var reminderSlots = []reminderSlot{
	{ReminderOffset24h, "24h", "email", StepMeetingReminder24h},
	{ReminderOffset24h, "24h", "sms", StepMeetingReminder24h},
	{ReminderOffset1h, "1h", "email", StepMeetingReminder1h},
	{ReminderOffset1h, "1h", "sms", StepMeetingReminder1h},
}

// Planner creates reminder tasks for a scheduled meeting. Planning is
// idempotent: sent flags, the pending-task uniqueness constraint and the
// fire-time cutoff each stop a duplicate on their own, so the planner can
// run any number of times for the same meeting.
type Planner struct {
	tasks    TaskStore
	meetings MeetingStore
	log      *logger.Logger
	now      func() time.Time
}

func NewPlanner(tasks TaskStore, meetings MeetingStore, log *logger.Logger) *Planner {
	return &Planner{tasks: tasks, meetings: meetings, log: log, now: time.Now}
}

// PlanForMeeting schedules the missing reminder tasks for the meeting and
// returns how many were created. Slots whose fire time already passed are
// skipped rather than fired late.
func (p *Planner) PlanForMeeting(ctx context.Context, m meetrepo.Meeting, trackingID string) (int, error) {
	if m.Status != meetrepo.StatusScheduled {
		return 0, nil
	}

	now := p.now()
	created := 0
	for _, slot := range reminderSlots {
		fireAt := m.StartTime.Add(-slot.offset)
		if !fireAt.After(now) {
			continue
		}

		sent, err := p.meetings.ReminderFlagSet(ctx, m.ID, slot.label, slot.channel)
		if err != nil {
			return created, fmt.Errorf("check reminder flag %s/%s: %w", slot.label, slot.channel, err)
		}
		if sent {
			continue
		}

		metadata, err := NewReminderMetadata(m.ID, slot.label, slot.channel)
		if err != nil {
			return created, err
		}

		_, err = p.tasks.Insert(ctx, taskrepo.InsertParams{
			LeadID:       m.LeadID,
			WorkflowType: WorkflowLeadLifecycle,
			StepName:     slot.stepName,
			DedupeKey:    ReminderDedupeKey(m.ID, slot.label, slot.channel),
			ScheduledAt:  fireAt,
			Metadata:     metadata,
			TrackingID:   trackingID,
		})
		if errors.Is(err, taskrepo.ErrDuplicateTask) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("insert reminder task %s/%s: %w", slot.label, slot.channel, err)
		}
		created++
	}

	if created > 0 {
		p.log.Info("reminders planned",
			"meeting_id", m.ID,
			"lead_id", m.LeadID,
			"created", created,
		)
	}
	return created, nil
}

var _ MeetingPlanner = (*Planner)(nil)
