package automation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	taskrepo "leadflow_backend/internal/automation/repository"
	leadrepo "leadflow_backend/internal/leads/repository"
	meetrepo "leadflow_backend/internal/meetings/repository"
	"leadflow_backend/internal/outbox"
	"leadflow_backend/platform/logger"
)

type executorEnv struct {
	tasks    *fakeTaskStore
	leads    *fakeLeadStore
	meetings *fakeMeetingStore
	queue    *fakeQueue
	planner  *fakePlanner
	exec     *Executor
	now      time.Time
}

func newExecutorEnv(t *testing.T, leads ...leadrepo.Lead) *executorEnv {
	t.Helper()
	env := &executorEnv{
		tasks:    newFakeTaskStore(),
		leads:    newFakeLeadStore(leads...),
		meetings: newFakeMeetingStore(),
		queue:    newFakeQueue(),
		planner:  &fakePlanner{},
		now:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	env.exec = NewExecutor(
		env.tasks, env.leads, &fakeAgentReader{}, env.meetings, env.queue,
		env.planner, "https://cal.example.com/intro", logger.New("test"),
	)
	env.exec.now = func() time.Time { return env.now }
	return env
}

func testLead() leadrepo.Lead {
	return leadrepo.Lead{
		ID:        uuid.New(),
		FirstName: "Jamie",
		LastName:  "Doe",
		Email:     "jamie@example.com",
		Phone:     "+12025550123",
		Status:    leadrepo.StatusAssigned,
	}
}

func makeTask(leadID uuid.UUID, step string, metadata []byte) taskrepo.Task {
	return taskrepo.Task{
		ID:       uuid.New(),
		LeadID:   leadID,
		StepName: step,
		Status:   taskrepo.StatusExecuting,
		Metadata: metadata,
	}
}

func TestInvitationQueuesMessage(t *testing.T) {
	lead := testLead()
	env := newExecutorEnv(t, lead)
	meta, _ := NewMessageMetadata("email")

	task := makeTask(lead.ID, StepSchedulingInvitation, meta)
	env.exec.Execute(context.Background(), task)

	if len(env.queue.inserted) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(env.queue.inserted))
	}
	got := env.queue.inserted[0]
	if got.Purpose != outbox.PurposeInvitation {
		t.Fatalf("purpose = %s", got.Purpose)
	}
	if got.Recipient != lead.Email {
		t.Fatalf("recipient = %s", got.Recipient)
	}
	if env.tasks.completed[task.ID] == nil {
		t.Fatal("task not completed")
	}
	if env.tasks.completed[task.ID]["outcome"] != "queued" {
		t.Fatalf("outcome = %v", env.tasks.completed[task.ID]["outcome"])
	}
}

func TestInvitationSkipsWhenAlreadyQueued(t *testing.T) {
	lead := testLead()
	env := newExecutorEnv(t, lead)
	env.queue.existing[lead.ID.String()+"|"+outbox.PurposeInvitation] = true
	meta, _ := NewMessageMetadata("email")

	task := makeTask(lead.ID, StepSchedulingInvitation, meta)
	env.exec.Execute(context.Background(), task)

	if len(env.queue.inserted) != 0 {
		t.Fatal("expected no new message")
	}
	if env.tasks.completed[task.ID]["outcome"] != "skipped" {
		t.Fatalf("outcome = %v", env.tasks.completed[task.ID]["outcome"])
	}
}

func TestMonitorReschedulesWhileWindowOpen(t *testing.T) {
	lead := testLead()
	env := newExecutorEnv(t, lead)
	meta, _ := NewMonitorMetadata(env.now.Add(3 * 24 * time.Hour))

	task := makeTask(lead.ID, StepMonitorMeetingStatus, meta)
	task.WorkflowType = WorkflowLeadLifecycle
	env.exec.Execute(context.Background(), task)

	if len(env.tasks.successors) != 1 {
		t.Fatalf("expected 1 successor, got %d", len(env.tasks.successors))
	}
	succ := env.tasks.successors[0]
	if succ.StepName != StepMonitorMeetingStatus {
		t.Fatalf("successor step = %s", succ.StepName)
	}
	if want := env.now.Add(MonitorRecheckInterval); !succ.ScheduledAt.Equal(want) {
		t.Fatalf("successor at %v, want %v", succ.ScheduledAt, want)
	}
	if env.tasks.completed[task.ID]["outcome"] != "rescheduled" {
		t.Fatalf("outcome = %v", env.tasks.completed[task.ID]["outcome"])
	}
}

func TestMonitorExpiresAfterDeadline(t *testing.T) {
	lead := testLead()
	env := newExecutorEnv(t, lead)
	meta, _ := NewMonitorMetadata(env.now.Add(-time.Hour))

	task := makeTask(lead.ID, StepMonitorMeetingStatus, meta)
	env.exec.Execute(context.Background(), task)

	if len(env.tasks.successors) != 0 {
		t.Fatal("expected no successor after deadline")
	}
	if env.tasks.completed[task.ID]["outcome"] != "monitoring_expired" {
		t.Fatalf("outcome = %v", env.tasks.completed[task.ID]["outcome"])
	}
}

func TestMonitorPlansRemindersWhenMeetingFound(t *testing.T) {
	lead := testLead()
	env := newExecutorEnv(t, lead)
	env.planner.planned = 4
	env.meetings.meetings[uuid.New()] = meetrepo.Meeting{}
	m := meetrepo.Meeting{
		ID:        uuid.New(),
		LeadID:    lead.ID,
		Status:    meetrepo.StatusScheduled,
		StartTime: env.now.Add(48 * time.Hour),
	}
	env.meetings.meetings[m.ID] = m
	meta, _ := NewMonitorMetadata(env.now.Add(24 * time.Hour))

	task := makeTask(lead.ID, StepMonitorMeetingStatus, meta)
	env.exec.Execute(context.Background(), task)

	if env.planner.calls != 1 {
		t.Fatalf("planner calls = %d", env.planner.calls)
	}
	if env.tasks.completed[task.ID]["outcome"] != "meeting_scheduled" {
		t.Fatalf("outcome = %v", env.tasks.completed[task.ID]["outcome"])
	}
}

func TestFollowupSkipsWhenMeetingScheduled(t *testing.T) {
	lead := testLead()
	env := newExecutorEnv(t, lead)
	m := meetrepo.Meeting{
		ID:        uuid.New(),
		LeadID:    lead.ID,
		Status:    meetrepo.StatusScheduled,
		StartTime: env.now.Add(time.Hour),
	}
	env.meetings.meetings[m.ID] = m

	task := makeTask(lead.ID, StepFollowupReminder24h, nil)
	env.exec.Execute(context.Background(), task)

	if len(env.queue.inserted) != 0 {
		t.Fatal("expected no followup message")
	}
	if env.tasks.completed[task.ID]["reason"] != "meeting_scheduled" {
		t.Fatalf("reason = %v", env.tasks.completed[task.ID]["reason"])
	}
}

func TestFollowupQueuesWhenNoMeeting(t *testing.T) {
	lead := testLead()
	env := newExecutorEnv(t, lead)

	task := makeTask(lead.ID, StepFollowupReminder24h, nil)
	env.exec.Execute(context.Background(), task)

	if len(env.queue.inserted) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(env.queue.inserted))
	}
	if env.queue.inserted[0].Purpose != outbox.PurposeFollowup24h {
		t.Fatalf("purpose = %s", env.queue.inserted[0].Purpose)
	}
}

func TestReminderSkipsCanceledMeeting(t *testing.T) {
	lead := testLead()
	env := newExecutorEnv(t, lead)
	m := meetrepo.Meeting{
		ID:        uuid.New(),
		LeadID:    lead.ID,
		Status:    meetrepo.StatusCanceled,
		StartTime: env.now.Add(24 * time.Hour),
	}
	env.meetings.meetings[m.ID] = m
	meta, _ := NewReminderMetadata(m.ID, "24h", "email")

	task := makeTask(lead.ID, StepMeetingReminder24h, meta)
	env.exec.Execute(context.Background(), task)

	if len(env.queue.inserted) != 0 {
		t.Fatal("expected no reminder for canceled meeting")
	}
	if env.tasks.completed[task.ID]["reason"] != "meeting_canceled" {
		t.Fatalf("reason = %v", env.tasks.completed[task.ID]["reason"])
	}
}

func TestReminderSkipsWhenFlagAlreadySet(t *testing.T) {
	lead := testLead()
	env := newExecutorEnv(t, lead)
	m := meetrepo.Meeting{
		ID:        uuid.New(),
		LeadID:    lead.ID,
		Status:    meetrepo.StatusScheduled,
		StartTime: env.now.Add(24 * time.Hour),
	}
	env.meetings.meetings[m.ID] = m
	env.meetings.setFlag(m.ID, "1h", "sms")
	meta, _ := NewReminderMetadata(m.ID, "1h", "sms")

	task := makeTask(lead.ID, StepMeetingReminder1h, meta)
	env.exec.Execute(context.Background(), task)

	if len(env.queue.inserted) != 0 {
		t.Fatal("expected no duplicate reminder")
	}
	if env.tasks.completed[task.ID]["reason"] != "already_sent" {
		t.Fatalf("reason = %v", env.tasks.completed[task.ID]["reason"])
	}
}

func TestReminderQueuesOnChannel(t *testing.T) {
	lead := testLead()
	env := newExecutorEnv(t, lead)
	m := meetrepo.Meeting{
		ID:        uuid.New(),
		LeadID:    lead.ID,
		Status:    meetrepo.StatusScheduled,
		StartTime: env.now.Add(time.Hour),
	}
	env.meetings.meetings[m.ID] = m
	meta, _ := NewReminderMetadata(m.ID, "1h", "sms")

	task := makeTask(lead.ID, StepMeetingReminder1h, meta)
	env.exec.Execute(context.Background(), task)

	if len(env.queue.inserted) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(env.queue.inserted))
	}
	got := env.queue.inserted[0]
	if got.Channel != "sms" || got.Recipient != lead.Phone {
		t.Fatalf("got channel=%s recipient=%s", got.Channel, got.Recipient)
	}
	if got.MeetingID == nil || *got.MeetingID != m.ID {
		t.Fatal("meeting id not carried on reminder message")
	}
	if got.Purpose != outbox.PurposeReminder1h {
		t.Fatalf("purpose = %s", got.Purpose)
	}
}

func TestUnknownStepFailsTask(t *testing.T) {
	lead := testLead()
	env := newExecutorEnv(t, lead)

	task := makeTask(lead.ID, "bogus_step", nil)
	env.exec.Execute(context.Background(), task)

	if _, ok := env.tasks.failed[task.ID]; !ok {
		t.Fatal("expected task marked failed")
	}
}
