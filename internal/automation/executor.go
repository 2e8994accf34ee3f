package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	agentrepo "leadflow_backend/internal/agents/repository"
	taskrepo "leadflow_backend/internal/automation/repository"
	leadrepo "leadflow_backend/internal/leads/repository"
	meetrepo "leadflow_backend/internal/meetings/repository"
	"leadflow_backend/internal/notification"
	"leadflow_backend/internal/outbox"
	"leadflow_backend/platform/logger"
)

// Ports of the executor. The concrete repositories satisfy these; tests
// substitute fakes.
type (
	TaskStore interface {
		Insert(ctx context.Context, p taskrepo.InsertParams) (uuid.UUID, error)
		MarkCompleted(ctx context.Context, id uuid.UUID, result map[string]any) error
		MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
		CompleteAndReschedule(ctx context.Context, id uuid.UUID, result map[string]any, successor taskrepo.InsertParams) (uuid.UUID, error)
	}

	LeadReader interface {
		GetByID(ctx context.Context, id uuid.UUID) (leadrepo.Lead, error)
	}

	AgentReader interface {
		GetByID(ctx context.Context, id uuid.UUID) (agentrepo.Agent, error)
	}

	MeetingStore interface {
		GetByID(ctx context.Context, id uuid.UUID) (meetrepo.Meeting, error)
		GetCurrentByLead(ctx context.Context, leadID uuid.UUID) (meetrepo.Meeting, error)
		ReminderFlagSet(ctx context.Context, meetingID uuid.UUID, offset, channel string) (bool, error)
	}

	MessageQueue interface {
		Insert(ctx context.Context, p outbox.InsertParams) (uuid.UUID, error)
		ExistsForLeadPurpose(ctx context.Context, leadID uuid.UUID, purpose string) (bool, error)
	}

	MeetingPlanner interface {
		PlanForMeeting(ctx context.Context, m meetrepo.Meeting, trackingID string) (int, error)
	}
)

// stepOutcome is recorded into the completed task's metadata.
type stepOutcome struct {
	result    map[string]any
	successor *taskrepo.InsertParams
}

func outcome(kind string, extra ...any) stepOutcome {
	res := map[string]any{"outcome": kind}
	for i := 0; i+1 < len(extra); i += 2 {
		if k, ok := extra[i].(string); ok {
			res[k] = extra[i+1]
		}
	}
	return stepOutcome{result: res}
}

// Executor runs one claimed automation task to a terminal transition.
type Executor struct {
	tasks    TaskStore
	leads    LeadReader
	agents   AgentReader
	meetings MeetingStore
	queue    MessageQueue
	planner  MeetingPlanner

	genericSchedulingURL string
	log                  *logger.Logger
	now                  func() time.Time
}

func NewExecutor(
	tasks TaskStore,
	leads LeadReader,
	agents AgentReader,
	meetings MeetingStore,
	queue MessageQueue,
	planner MeetingPlanner,
	genericSchedulingURL string,
	log *logger.Logger,
) *Executor {
	return &Executor{
		tasks:                tasks,
		leads:                leads,
		agents:               agents,
		meetings:             meetings,
		queue:                queue,
		planner:              planner,
		genericSchedulingURL: genericSchedulingURL,
		log:                  log,
		now:                  time.Now,
	}
}

// Execute runs a task that was already claimed into executing. Handler
// errors feed the task's retry transition; panics are contained the same
// way so one bad task cannot take down the polling loop.
func (e *Executor) Execute(ctx context.Context, t taskrepo.Task) {
	log := e.log.WithTrackingID(t.TrackingID)

	var (
		out stepOutcome
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task handler panic: %v", r)
			}
		}()
		out, err = e.run(ctx, t)
	}()

	if err != nil {
		log.Error("task step failed", "task_id", t.ID, "step", t.StepName, "error", err)
		if mErr := e.tasks.MarkFailed(ctx, t.ID, err.Error()); mErr != nil {
			log.Error("mark task failed", "task_id", t.ID, "error", mErr)
		}
		return
	}

	if out.successor != nil {
		if _, mErr := e.tasks.CompleteAndReschedule(ctx, t.ID, out.result, *out.successor); mErr != nil {
			log.Error("complete and reschedule task", "task_id", t.ID, "error", mErr)
		}
		return
	}
	if mErr := e.tasks.MarkCompleted(ctx, t.ID, out.result); mErr != nil {
		log.Error("mark task completed", "task_id", t.ID, "error", mErr)
	}
}

func (e *Executor) run(ctx context.Context, t taskrepo.Task) (stepOutcome, error) {
	switch t.StepName {
	case StepSchedulingInvitation:
		return e.runInvitation(ctx, t)
	case StepMonitorMeetingStatus:
		return e.runMonitor(ctx, t)
	case StepFollowupReminder24h:
		return e.runFollowup(ctx, t)
	case StepMeetingReminder24h, StepMeetingReminder1h:
		return e.runReminder(ctx, t)
	}
	return stepOutcome{}, fmt.Errorf("unknown step %q", t.StepName)
}

// SchedulingURLFor resolves the booking link for a lead: the assigned
// agent's personal link when present, otherwise the generic one.
func SchedulingURLFor(ctx context.Context, agents AgentReader, genericURL string, lead leadrepo.Lead) (string, error) {
	if lead.AssignedAgentID != nil {
		agent, err := agents.GetByID(ctx, *lead.AssignedAgentID)
		if err != nil && !errors.Is(err, agentrepo.ErrNotFound) {
			return "", fmt.Errorf("load agent: %w", err)
		}
		if err == nil && agent.SchedulingLink != nil && *agent.SchedulingLink != "" {
			return *agent.SchedulingLink, nil
		}
	}
	if genericURL == "" {
		return "", fmt.Errorf("no scheduling link available for lead %s", lead.ID)
	}
	return genericURL, nil
}

func recipientFor(lead leadrepo.Lead, channel notification.Channel) string {
	if channel == notification.ChannelSMS {
		return lead.Phone
	}
	return lead.Email
}

func (e *Executor) runInvitation(ctx context.Context, t taskrepo.Task) (stepOutcome, error) {
	lead, err := e.leads.GetByID(ctx, t.LeadID)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("load lead: %w", err)
	}
	if lead.Status == leadrepo.StatusCanceled || lead.Status == leadrepo.StatusCompleted {
		return outcome("skipped", "reason", "lead_inactive"), nil
	}

	exists, err := e.queue.ExistsForLeadPurpose(ctx, lead.ID, outbox.PurposeInvitation)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("check existing invitation: %w", err)
	}
	if exists {
		return outcome("skipped", "reason", "invitation_already_queued"), nil
	}

	meta, err := ParseMessageMetadata(t.Metadata)
	if err != nil {
		return stepOutcome{}, err
	}
	channel := notification.Channel(meta.Channel)

	to := recipientFor(lead, channel)
	if to == "" {
		return outcome("skipped", "reason", "no_recipient"), nil
	}

	url, err := SchedulingURLFor(ctx, e.agents, e.genericSchedulingURL, lead)
	if err != nil {
		return stepOutcome{}, err
	}

	msg, err := notification.RenderInvitation(channel, to, lead.FullName(), url)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("render invitation: %w", err)
	}

	msgID, err := e.queue.Insert(ctx, outbox.InsertParams{
		LeadID:       &lead.ID,
		Purpose:      outbox.PurposeInvitation,
		Channel:      string(channel),
		Recipient:    msg.To,
		Subject:      msg.Subject,
		Body:         msg.Body,
		ScheduledFor: e.now(),
		TrackingID:   t.TrackingID,
	})
	if err != nil {
		return stepOutcome{}, fmt.Errorf("queue invitation: %w", err)
	}
	return outcome("queued", "message_id", msgID.String()), nil
}

func (e *Executor) runMonitor(ctx context.Context, t taskrepo.Task) (stepOutcome, error) {
	meta, err := ParseMonitorMetadata(t.Metadata)
	if err != nil {
		return stepOutcome{}, err
	}

	meeting, err := e.meetings.GetCurrentByLead(ctx, t.LeadID)
	switch {
	case err == nil:
		planned, err := e.planner.PlanForMeeting(ctx, meeting, t.TrackingID)
		if err != nil {
			return stepOutcome{}, fmt.Errorf("plan reminders: %w", err)
		}
		return outcome("meeting_scheduled", "reminders_planned", planned), nil
	case errors.Is(err, meetrepo.ErrNotFound):
		// No meeting yet.
	default:
		return stepOutcome{}, fmt.Errorf("load current meeting: %w", err)
	}

	now := e.now()
	if now.After(meta.Deadline) {
		return outcome("monitoring_expired"), nil
	}

	return stepOutcome{
		result: map[string]any{"outcome": "rescheduled"},
		successor: &taskrepo.InsertParams{
			LeadID:       t.LeadID,
			WorkflowType: t.WorkflowType,
			StepName:     StepMonitorMeetingStatus,
			ScheduledAt:  now.Add(MonitorRecheckInterval),
			Metadata:     t.Metadata,
			TrackingID:   t.TrackingID,
		},
	}, nil
}

func (e *Executor) runFollowup(ctx context.Context, t taskrepo.Task) (stepOutcome, error) {
	lead, err := e.leads.GetByID(ctx, t.LeadID)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("load lead: %w", err)
	}
	if lead.Status == leadrepo.StatusCanceled || lead.Status == leadrepo.StatusCompleted {
		return outcome("skipped", "reason", "lead_inactive"), nil
	}

	if _, err := e.meetings.GetCurrentByLead(ctx, lead.ID); err == nil {
		return outcome("skipped", "reason", "meeting_scheduled"), nil
	} else if !errors.Is(err, meetrepo.ErrNotFound) {
		return stepOutcome{}, fmt.Errorf("load current meeting: %w", err)
	}

	exists, err := e.queue.ExistsForLeadPurpose(ctx, lead.ID, outbox.PurposeFollowup24h)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("check existing followup: %w", err)
	}
	if exists {
		return outcome("skipped", "reason", "followup_already_queued"), nil
	}

	meta, err := ParseMessageMetadata(t.Metadata)
	if err != nil {
		return stepOutcome{}, err
	}
	channel := notification.Channel(meta.Channel)

	to := recipientFor(lead, channel)
	if to == "" {
		return outcome("skipped", "reason", "no_recipient"), nil
	}

	url, err := SchedulingURLFor(ctx, e.agents, e.genericSchedulingURL, lead)
	if err != nil {
		return stepOutcome{}, err
	}

	msg, err := notification.RenderFollowup(channel, to, lead.FullName(), url)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("render followup: %w", err)
	}

	msgID, err := e.queue.Insert(ctx, outbox.InsertParams{
		LeadID:       &lead.ID,
		Purpose:      outbox.PurposeFollowup24h,
		Channel:      string(channel),
		Recipient:    msg.To,
		Subject:      msg.Subject,
		Body:         msg.Body,
		ScheduledFor: e.now(),
		TrackingID:   t.TrackingID,
	})
	if err != nil {
		return stepOutcome{}, fmt.Errorf("queue followup: %w", err)
	}
	return outcome("queued", "message_id", msgID.String()), nil
}

func (e *Executor) runReminder(ctx context.Context, t taskrepo.Task) (stepOutcome, error) {
	meta, err := ParseReminderMetadata(t.Metadata)
	if err != nil {
		return stepOutcome{}, err
	}

	meeting, err := e.meetings.GetByID(ctx, meta.MeetingID)
	if errors.Is(err, meetrepo.ErrNotFound) {
		return outcome("skipped", "reason", "meeting_missing"), nil
	}
	if err != nil {
		return stepOutcome{}, fmt.Errorf("load meeting: %w", err)
	}
	if meeting.Status != meetrepo.StatusScheduled {
		return outcome("skipped", "reason", "meeting_"+meeting.Status), nil
	}
	if !meeting.StartTime.After(e.now()) {
		return outcome("skipped", "reason", "meeting_started"), nil
	}

	sent, err := e.meetings.ReminderFlagSet(ctx, meeting.ID, meta.Offset, meta.Channel)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("check reminder flag: %w", err)
	}
	if sent {
		return outcome("skipped", "reason", "already_sent"), nil
	}

	lead, err := e.leads.GetByID(ctx, meeting.LeadID)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("load lead: %w", err)
	}

	channel := notification.Channel(meta.Channel)
	to := recipientFor(lead, channel)
	if to == "" {
		return outcome("skipped", "reason", "no_recipient"), nil
	}

	offset := ReminderOffset24h
	purpose := outbox.PurposeReminder24h
	if meta.Offset == "1h" {
		offset = ReminderOffset1h
		purpose = outbox.PurposeReminder1h
	}

	msg, err := notification.RenderMeetingReminder(channel, to, lead.FullName(), meeting.StartTime, offset)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("render reminder: %w", err)
	}

	msgID, err := e.queue.Insert(ctx, outbox.InsertParams{
		LeadID:       &lead.ID,
		MeetingID:    &meeting.ID,
		Purpose:      purpose,
		Channel:      meta.Channel,
		Recipient:    msg.To,
		Subject:      msg.Subject,
		Body:         msg.Body,
		ScheduledFor: e.now(),
		TrackingID:   t.TrackingID,
	})
	if err != nil {
		return stepOutcome{}, fmt.Errorf("queue reminder: %w", err)
	}
	return outcome("queued", "message_id", msgID.String()), nil
}
