// Package automation implements the lead lifecycle workflow: scheduling
// invitations, meeting monitoring, follow-ups and meeting reminders,
// driven by durable tasks polled from the database.
package automation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkflowLeadLifecycle is the only workflow type currently in use.
const WorkflowLeadLifecycle = "lead_lifecycle"

// Workflow step names. A step name selects the executor behavior and,
// for single-shot steps, the dedupe scope.
const (
	StepSchedulingInvitation = "meeting_scheduling_invitation"
	StepMonitorMeetingStatus = "monitor_meeting_status"
	StepFollowupReminder24h  = "followup_reminder_24h"
	StepMeetingReminder24h   = "meeting_reminder_24h"
	StepMeetingReminder1h    = "meeting_reminder_1h"
)

// Scheduling offsets of the lifecycle, relative to lead creation or
// meeting start.
const (
	MonitorFirstCheckDelay = time.Hour
	MonitorRecheckInterval = 6 * time.Hour
	MonitorWindow          = 7 * 24 * time.Hour
	FollowupDelay          = 24 * time.Hour
	ReminderOffset24h      = 24 * time.Hour
	ReminderOffset1h       = time.Hour
)

// MonitorMetadata rides on monitor_meeting_status tasks. Deadline is the
// end of the monitoring window, fixed at task chain creation so
// rescheduled checks inherit it.
type MonitorMetadata struct {
	Deadline time.Time `json:"deadline"`
}

// MessageMetadata rides on invitation and follow-up tasks.
type MessageMetadata struct {
	Channel string `json:"channel"`
}

// ReminderMetadata rides on meeting reminder tasks and pins the task to
// one meeting, offset and channel.
type ReminderMetadata struct {
	MeetingID uuid.UUID `json:"meetingId"`
	Offset    string    `json:"offset"`
	Channel   string    `json:"channel"`
}

func marshalMetadata(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal task metadata: %w", err)
	}
	return b, nil
}

func NewMonitorMetadata(deadline time.Time) (json.RawMessage, error) {
	if deadline.IsZero() {
		return nil, fmt.Errorf("monitor metadata requires a deadline")
	}
	return marshalMetadata(MonitorMetadata{Deadline: deadline})
}

func NewMessageMetadata(channel string) (json.RawMessage, error) {
	if channel == "" {
		return nil, fmt.Errorf("message metadata requires a channel")
	}
	return marshalMetadata(MessageMetadata{Channel: channel})
}

func NewReminderMetadata(meetingID uuid.UUID, offset, channel string) (json.RawMessage, error) {
	if meetingID == uuid.Nil {
		return nil, fmt.Errorf("reminder metadata requires a meeting id")
	}
	if offset != "24h" && offset != "1h" {
		return nil, fmt.Errorf("unknown reminder offset %q", offset)
	}
	if channel != "email" && channel != "sms" {
		return nil, fmt.Errorf("unknown reminder channel %q", channel)
	}
	return marshalMetadata(ReminderMetadata{MeetingID: meetingID, Offset: offset, Channel: channel})
}

func ParseMonitorMetadata(raw json.RawMessage) (MonitorMetadata, error) {
	var m MonitorMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("parse monitor metadata: %w", err)
	}
	if m.Deadline.IsZero() {
		return m, fmt.Errorf("monitor metadata missing deadline")
	}
	return m, nil
}

func ParseMessageMetadata(raw json.RawMessage) (MessageMetadata, error) {
	var m MessageMetadata
	if len(raw) == 0 {
		return MessageMetadata{Channel: "email"}, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("parse message metadata: %w", err)
	}
	if m.Channel == "" {
		m.Channel = "email"
	}
	return m, nil
}

func ParseReminderMetadata(raw json.RawMessage) (ReminderMetadata, error) {
	var m ReminderMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("parse reminder metadata: %w", err)
	}
	if m.MeetingID == uuid.Nil {
		return m, fmt.Errorf("reminder metadata missing meeting id")
	}
	return m, nil
}

// ReminderStep maps an offset label to its step name.
func ReminderStep(offset string) (string, error) {
	switch offset {
	case "24h":
		return StepMeetingReminder24h, nil
	case "1h":
		return StepMeetingReminder1h, nil
	}
	return "", fmt.Errorf("unknown reminder offset %q", offset)
}

// ReminderDedupeKey scopes the pending-task uniqueness of a reminder to
// one meeting, offset and channel. Single-shot steps use the empty key,
// scoping uniqueness to the lead and step alone.
func ReminderDedupeKey(meetingID uuid.UUID, offset, channel string) string {
	return meetingID.String() + ":" + offset + ":" + channel
}
