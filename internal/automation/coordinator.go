package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/assignment"
	taskrepo "leadflow_backend/internal/automation/repository"
	"leadflow_backend/internal/events"
	leadrepo "leadflow_backend/internal/leads/repository"
	meetrepo "leadflow_backend/internal/meetings/repository"
	"leadflow_backend/internal/notification"
	"leadflow_backend/internal/outbox"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// Coordinator ports beyond the executor's. Concrete repositories satisfy
// them; tests substitute fakes.
type (
	Assigner interface {
		Assign(ctx context.Context, leadID uuid.UUID) (assignment.Result, error)
	}

	WorkflowTaskStore interface {
		Insert(ctx context.Context, p taskrepo.InsertParams) (uuid.UUID, error)
		ListByLead(ctx context.Context, leadID uuid.UUID) ([]taskrepo.Task, error)
		CancelPendingSteps(ctx context.Context, leadID uuid.UUID, stepNames []string) (int64, error)
		HasCompleted(ctx context.Context, leadID uuid.UUID, stepName string) (bool, error)
	}

	WorkflowLeadStore interface {
		GetByID(ctx context.Context, id uuid.UUID) (leadrepo.Lead, error)
		SetMeetingSchedule(ctx context.Context, leadID uuid.UUID, startTime time.Time) error
		UpdateStatus(ctx context.Context, leadID uuid.UUID, status string) error
	}

	WorkflowMeetingStore interface {
		UpsertByExternalRef(ctx context.Context, p meetrepo.UpsertParams) (meetrepo.Meeting, bool, error)
		GetByExternalRef(ctx context.Context, externalRef string) (meetrepo.Meeting, error)
		MarkCanceled(ctx context.Context, id uuid.UUID) error
	}

	WorkflowQueue interface {
		Insert(ctx context.Context, p outbox.InsertParams) (uuid.UUID, error)
		InsertClaimed(ctx context.Context, p outbox.InsertParams) (uuid.UUID, error)
		ExistsForLeadPurpose(ctx context.Context, leadID uuid.UUID, purpose string) (bool, error)
		MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error
		MarkPending(ctx context.Context, id uuid.UUID, lastError string) error
	}
)

// MeetingInfo carries the meeting details extracted from a scheduling
// webhook.
type MeetingInfo struct {
	ExternalRef string
	StartTime   time.Time
	EndTime     *time.Time
	AgentID     *uuid.UUID
}

// Coordinator ties lifecycle triggers to the durable task chain. All of
// its entry points are replay safe; webhook retries and manual runs
// converge on the same task and message rows.
type Coordinator struct {
	assigner Assigner
	tasks    WorkflowTaskStore
	leads    WorkflowLeadStore
	meetings WorkflowMeetingStore
	queue    WorkflowQueue
	planner  MeetingPlanner
	agents   AgentReader

	dispatcher           notification.Dispatcher
	genericSchedulingURL string
	bus                  events.Bus
	log                  *logger.Logger
	now                  func() time.Time
}

func NewCoordinator(
	assigner Assigner,
	tasks WorkflowTaskStore,
	leads WorkflowLeadStore,
	meetings WorkflowMeetingStore,
	queue WorkflowQueue,
	planner MeetingPlanner,
	agents AgentReader,
	dispatcher notification.Dispatcher,
	genericSchedulingURL string,
	bus events.Bus,
	log *logger.Logger,
) *Coordinator {
	return &Coordinator{
		assigner:             assigner,
		tasks:                tasks,
		leads:                leads,
		meetings:             meetings,
		queue:                queue,
		planner:              planner,
		agents:               agents,
		dispatcher:           dispatcher,
		genericSchedulingURL: genericSchedulingURL,
		bus:                  bus,
		log:                  log,
		now:                  time.Now,
	}
}

// OnLeadCreated assigns the lead and seeds its task chain: the scheduling
// invitation immediately, the first meeting status check after an hour,
// and the follow-up nudge after a day. Task inserts collapse onto
// existing active tasks, so replays are harmless.
func (c *Coordinator) OnLeadCreated(ctx context.Context, lead leadrepo.Lead) error {
	log := c.log.WithTrackingID(lead.TrackingID)
	now := c.now()

	res, err := c.assigner.Assign(ctx, lead.ID)
	switch {
	case errors.Is(err, assignment.ErrNoEligibleAgent):
		log.Warn("no eligible agent, using generic scheduling link", "lead_id", lead.ID)
		c.bus.Publish(ctx, events.LeadAssigned{
			BaseEvent:  events.NewBaseEvent(),
			LeadID:     lead.ID,
			Fallback:   true,
			TrackingID: lead.TrackingID,
		})
	case err != nil:
		return fmt.Errorf("assign lead: %w", err)
	default:
		if !res.AlreadyAssigned {
			c.bus.Publish(ctx, events.LeadAssigned{
				BaseEvent:  events.NewBaseEvent(),
				LeadID:     lead.ID,
				AgentID:    &res.Agent.ID,
				TrackingID: lead.TrackingID,
			})
		}
	}

	invitationMeta, err := NewMessageMetadata("email")
	if err != nil {
		return err
	}
	monitorMeta, err := NewMonitorMetadata(now.Add(MonitorWindow))
	if err != nil {
		return err
	}
	followupMeta, err := NewMessageMetadata("email")
	if err != nil {
		return err
	}

	chain := []taskrepo.InsertParams{
		{StepName: StepSchedulingInvitation, ScheduledAt: now, Metadata: invitationMeta},
		{StepName: StepMonitorMeetingStatus, ScheduledAt: now.Add(MonitorFirstCheckDelay), Metadata: monitorMeta},
		{StepName: StepFollowupReminder24h, ScheduledAt: now.Add(FollowupDelay), Metadata: followupMeta},
	}
	for _, p := range chain {
		p.LeadID = lead.ID
		p.WorkflowType = WorkflowLeadLifecycle
		p.TrackingID = lead.TrackingID
		if _, err := c.tasks.Insert(ctx, p); err != nil && !errors.Is(err, taskrepo.ErrDuplicateTask) {
			return fmt.Errorf("insert %s task: %w", p.StepName, err)
		}
	}

	log.Info("lifecycle started", "lead_id", lead.ID)
	return nil
}

// OnMeetingScheduled records a confirmed meeting, stops the follow-up
// nudge and plans the reminder tasks.
func (c *Coordinator) OnMeetingScheduled(ctx context.Context, leadID uuid.UUID, info MeetingInfo, trackingID string) error {
	log := c.log.WithTrackingID(trackingID)

	meeting, created, err := c.meetings.UpsertByExternalRef(ctx, meetrepo.UpsertParams{
		LeadID:      leadID,
		AgentID:     info.AgentID,
		ExternalRef: info.ExternalRef,
		StartTime:   info.StartTime,
		EndTime:     info.EndTime,
		TrackingID:  trackingID,
	})
	if err != nil {
		return fmt.Errorf("upsert meeting: %w", err)
	}

	if err := c.leads.SetMeetingSchedule(ctx, leadID, info.StartTime); err != nil {
		return fmt.Errorf("update lead schedule: %w", err)
	}

	cancelled, err := c.tasks.CancelPendingSteps(ctx, leadID, []string{StepFollowupReminder24h})
	if err != nil {
		return fmt.Errorf("cancel followup: %w", err)
	}

	planned, err := c.planner.PlanForMeeting(ctx, meeting, trackingID)
	if err != nil {
		return fmt.Errorf("plan reminders: %w", err)
	}

	c.bus.Publish(ctx, events.MeetingScheduled{
		BaseEvent:  events.NewBaseEvent(),
		MeetingID:  meeting.ID,
		LeadID:     leadID,
		StartTime:  meeting.StartTime,
		TrackingID: trackingID,
	})

	log.Info("meeting confirmed",
		"meeting_id", meeting.ID,
		"lead_id", leadID,
		"created", created,
		"followups_cancelled", cancelled,
		"reminders_planned", planned,
	)
	return nil
}

// OnMeetingCancelled cancels the meeting and withdraws its pending
// reminder tasks. The lead drops back to assigned so follow-up logic may
// pick it up again. Unknown references are ignored; a cancellation for a
// meeting never seen carries no work.
func (c *Coordinator) OnMeetingCancelled(ctx context.Context, externalRef, trackingID string) error {
	log := c.log.WithTrackingID(trackingID)

	meeting, err := c.meetings.GetByExternalRef(ctx, externalRef)
	if errors.Is(err, meetrepo.ErrNotFound) {
		log.Warn("cancellation for unknown meeting", "external_ref", externalRef)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load meeting: %w", err)
	}
	if meeting.Status == meetrepo.StatusCanceled {
		return nil
	}

	if err := c.meetings.MarkCanceled(ctx, meeting.ID); err != nil {
		return fmt.Errorf("cancel meeting: %w", err)
	}

	cancelled, err := c.tasks.CancelPendingSteps(ctx, meeting.LeadID,
		[]string{StepMeetingReminder24h, StepMeetingReminder1h})
	if err != nil {
		return fmt.Errorf("cancel reminders: %w", err)
	}

	if err := c.leads.UpdateStatus(ctx, meeting.LeadID, leadrepo.StatusAssigned); err != nil && !errors.Is(err, leadrepo.ErrNotFound) {
		return fmt.Errorf("update lead status: %w", err)
	}

	c.bus.Publish(ctx, events.MeetingCancelled{
		BaseEvent:  events.NewBaseEvent(),
		MeetingID:  meeting.ID,
		LeadID:     meeting.LeadID,
		TrackingID: trackingID,
	})

	log.Info("meeting cancelled",
		"meeting_id", meeting.ID,
		"lead_id", meeting.LeadID,
		"reminders_cancelled", cancelled,
	)
	return nil
}

// TaskSummary is the API projection of one automation task.
type TaskSummary struct {
	ID          uuid.UUID  `json:"id"`
	StepName    string     `json:"stepName"`
	Status      string     `json:"status"`
	ScheduledAt time.Time  `json:"scheduledAt"`
	RetryCount  int        `json:"retryCount"`
	Error       *string    `json:"error,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Status aggregates the lead's automation state for the API.
type AgentSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

type Status struct {
	LeadID           uuid.UUID      `json:"leadId"`
	LeadStatus       string         `json:"leadStatus"`
	AssignedAgentID  *uuid.UUID     `json:"assignedAgentId,omitempty"`
	AssignedAgent    *AgentSummary  `json:"assignedAgent,omitempty"`
	MeetingStartTime *time.Time     `json:"meetingStartTime,omitempty"`
	TrackingID       string         `json:"trackingId"`
	Tasks            []TaskSummary  `json:"tasks"`
	TaskCounts       map[string]int `json:"taskCounts"`
}

// GetAutomationStatus reports the lead's workflow progress.
func (c *Coordinator) GetAutomationStatus(ctx context.Context, leadID uuid.UUID) (Status, error) {
	lead, err := c.leads.GetByID(ctx, leadID)
	if errors.Is(err, leadrepo.ErrNotFound) {
		return Status{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return Status{}, fmt.Errorf("load lead: %w", err)
	}

	tasks, err := c.tasks.ListByLead(ctx, leadID)
	if err != nil {
		return Status{}, fmt.Errorf("list tasks: %w", err)
	}

	st := Status{
		LeadID:           lead.ID,
		LeadStatus:       lead.Status,
		AssignedAgentID:  lead.AssignedAgentID,
		MeetingStartTime: lead.MeetingStartTime,
		TrackingID:       lead.TrackingID,
		Tasks:            make([]TaskSummary, 0, len(tasks)),
		TaskCounts:       map[string]int{},
	}
	if lead.AssignedAgentID != nil {
		agent, err := c.agents.GetByID(ctx, *lead.AssignedAgentID)
		if err != nil {
			c.log.Warn("load assigned agent for status", "agent_id", *lead.AssignedAgentID, "error", err)
		} else {
			st.AssignedAgent = &AgentSummary{ID: agent.ID, Name: agent.Name, Email: agent.Email}
		}
	}
	for _, t := range tasks {
		st.Tasks = append(st.Tasks, TaskSummary{
			ID:          t.ID,
			StepName:    t.StepName,
			Status:      t.Status,
			ScheduledAt: t.ScheduledAt,
			RetryCount:  t.RetryCount,
			Error:       t.ErrorMessage,
			CompletedAt: t.CompletedAt,
		})
		st.TaskCounts[t.Status]++
	}
	return st, nil
}

// Workflow run step statuses.
const (
	StepCompleted = "completed"
	StepSkipped   = "skipped"
	StepFailed    = "failed"
)

type WorkflowStep struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type WorkflowRun struct {
	LeadID     uuid.UUID      `json:"leadId"`
	TrackingID string         `json:"trackingId"`
	Steps      []WorkflowStep `json:"steps"`
}

// ExecuteCompleteWorkflow drives the whole lifecycle for one lead in a
// single call: assignment, the invitation sent inline, and the monitor
// and follow-up tasks seeded. Every step re-checks its preconditions, so
// running it against a lead that already progressed reports those steps
// as skipped instead of repeating their effects.
func (c *Coordinator) ExecuteCompleteWorkflow(ctx context.Context, leadID uuid.UUID) (WorkflowRun, error) {
	lead, err := c.leads.GetByID(ctx, leadID)
	if errors.Is(err, leadrepo.ErrNotFound) {
		return WorkflowRun{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return WorkflowRun{}, fmt.Errorf("load lead: %w", err)
	}

	run := WorkflowRun{LeadID: lead.ID, TrackingID: lead.TrackingID}
	record := func(name, status, detail string) {
		run.Steps = append(run.Steps, WorkflowStep{Name: name, Status: status, Detail: detail})
	}

	// Step 1: agent assignment.
	res, err := c.assigner.Assign(ctx, lead.ID)
	switch {
	case errors.Is(err, assignment.ErrNoEligibleAgent):
		record("assign_agent", StepSkipped, "no eligible agent, generic link used")
	case err != nil:
		record("assign_agent", StepFailed, err.Error())
		return run, nil
	case res.AlreadyAssigned:
		record("assign_agent", StepSkipped, "already assigned to "+res.Agent.Name)
	default:
		record("assign_agent", StepCompleted, "assigned to "+res.Agent.Name)
	}

	// Re-read so the invitation sees the assignment.
	lead, err = c.leads.GetByID(ctx, leadID)
	if err != nil {
		return run, fmt.Errorf("reload lead: %w", err)
	}

	// Step 2: scheduling invitation, sent inline.
	c.runInlineInvitation(ctx, lead, record)

	// Steps 3 and 4: seed the monitoring and follow-up chain.
	now := c.now()
	monitorMeta, err := NewMonitorMetadata(now.Add(MonitorWindow))
	if err != nil {
		return run, err
	}
	followupMeta, err := NewMessageMetadata("email")
	if err != nil {
		return run, err
	}
	c.ensureTask(ctx, "monitor_meeting", taskrepo.InsertParams{
		LeadID:       lead.ID,
		WorkflowType: WorkflowLeadLifecycle,
		StepName:     StepMonitorMeetingStatus,
		ScheduledAt:  now.Add(MonitorFirstCheckDelay),
		Metadata:     monitorMeta,
		TrackingID:   lead.TrackingID,
	}, record)
	c.ensureTask(ctx, "followup_reminder", taskrepo.InsertParams{
		LeadID:       lead.ID,
		WorkflowType: WorkflowLeadLifecycle,
		StepName:     StepFollowupReminder24h,
		ScheduledAt:  now.Add(FollowupDelay),
		Metadata:     followupMeta,
		TrackingID:   lead.TrackingID,
	}, record)

	return run, nil
}

func (c *Coordinator) runInlineInvitation(ctx context.Context, lead leadrepo.Lead, record func(name, status, detail string)) {
	const step = "send_invitation"

	sent, err := c.queue.ExistsForLeadPurpose(ctx, lead.ID, outbox.PurposeInvitation)
	if err != nil {
		record(step, StepFailed, err.Error())
		return
	}
	if sent {
		record(step, StepSkipped, "invitation already sent")
		return
	}
	if lead.Email == "" {
		record(step, StepSkipped, "lead has no email address")
		return
	}

	url, err := SchedulingURLFor(ctx, c.agents, c.genericSchedulingURL, lead)
	if err != nil {
		record(step, StepFailed, err.Error())
		return
	}

	msg, err := notification.RenderInvitation(notification.ChannelEmail, lead.Email, lead.FullName(), url)
	if err != nil {
		record(step, StepFailed, err.Error())
		return
	}

	// The row is inserted already claimed so the polling drainer cannot
	// pick it up while the inline send is in flight.
	msgID, err := c.queue.InsertClaimed(ctx, outbox.InsertParams{
		LeadID:       &lead.ID,
		Purpose:      outbox.PurposeInvitation,
		Channel:      string(notification.ChannelEmail),
		Recipient:    msg.To,
		Subject:      msg.Subject,
		Body:         msg.Body,
		ScheduledFor: c.now(),
		TrackingID:   lead.TrackingID,
	})
	if err != nil {
		record(step, StepFailed, err.Error())
		return
	}

	providerID, err := c.dispatcher.Send(ctx, msg)
	if err != nil {
		// Release the claim so the drainer retries the queued row.
		if mErr := c.queue.MarkPending(ctx, msgID, err.Error()); mErr != nil {
			c.log.Error("release inline invitation claim", "message_id", msgID, "error", mErr)
		}
		record(step, StepFailed, "direct send failed, queued for retry: "+err.Error())
		return
	}
	if err := c.queue.MarkSent(ctx, msgID, providerID); err != nil {
		c.log.Error("mark inline invitation sent", "message_id", msgID, "error", err)
	}
	record(step, StepCompleted, "invitation sent")
}

func (c *Coordinator) ensureTask(ctx context.Context, name string, p taskrepo.InsertParams, record func(name, status, detail string)) {
	_, err := c.tasks.Insert(ctx, p)
	switch {
	case errors.Is(err, taskrepo.ErrDuplicateTask):
		record(name, StepSkipped, "task already scheduled")
	case err != nil:
		record(name, StepFailed, err.Error())
	default:
		record(name, StepCompleted, "task scheduled")
	}
}
