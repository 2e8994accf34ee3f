package automation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	meetrepo "leadflow_backend/internal/meetings/repository"
	"leadflow_backend/platform/logger"
)

func newTestPlanner(tasks *fakeTaskStore, meetings *fakeMeetingStore, now time.Time) *Planner {
	p := NewPlanner(tasks, meetings, logger.New("test"))
	p.now = func() time.Time { return now }
	return p
}

func TestPlannerCreatesAllSlotsForDistantMeeting(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tasks := newFakeTaskStore()
	meetings := newFakeMeetingStore()
	m := meetrepo.Meeting{
		ID:        uuid.New(),
		LeadID:    uuid.New(),
		Status:    meetrepo.StatusScheduled,
		StartTime: now.Add(72 * time.Hour),
	}

	created, err := newTestPlanner(tasks, meetings, now).PlanForMeeting(context.Background(), m, "trk-1")
	if err != nil {
		t.Fatalf("PlanForMeeting: %v", err)
	}
	if created != 4 {
		t.Fatalf("created = %d, want 4", created)
	}
	for _, p := range tasks.inserted {
		if p.DedupeKey == "" {
			t.Fatalf("reminder task %s missing dedupe key", p.StepName)
		}
		if !p.ScheduledAt.Before(m.StartTime) {
			t.Fatalf("reminder scheduled at %v, after meeting start", p.ScheduledAt)
		}
	}
}

func TestPlannerSkipsElapsedOffsets(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tasks := newFakeTaskStore()
	meetings := newFakeMeetingStore()
	// Meeting in 3 hours: the 24h slots already passed, only 1h remains.
	m := meetrepo.Meeting{
		ID:        uuid.New(),
		LeadID:    uuid.New(),
		Status:    meetrepo.StatusScheduled,
		StartTime: now.Add(3 * time.Hour),
	}

	created, err := newTestPlanner(tasks, meetings, now).PlanForMeeting(context.Background(), m, "trk-1")
	if err != nil {
		t.Fatalf("PlanForMeeting: %v", err)
	}
	if created != 2 {
		t.Fatalf("created = %d, want 2", created)
	}
	for _, p := range tasks.inserted {
		if p.StepName != StepMeetingReminder1h {
			t.Fatalf("unexpected step %s", p.StepName)
		}
	}
}

func TestPlannerIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tasks := newFakeTaskStore()
	meetings := newFakeMeetingStore()
	m := meetrepo.Meeting{
		ID:        uuid.New(),
		LeadID:    uuid.New(),
		Status:    meetrepo.StatusScheduled,
		StartTime: now.Add(72 * time.Hour),
	}
	planner := newTestPlanner(tasks, meetings, now)

	first, err := planner.PlanForMeeting(context.Background(), m, "trk-1")
	if err != nil {
		t.Fatalf("first plan: %v", err)
	}
	second, err := planner.PlanForMeeting(context.Background(), m, "trk-1")
	if err != nil {
		t.Fatalf("second plan: %v", err)
	}
	if first != 4 || second != 0 {
		t.Fatalf("plans = %d then %d, want 4 then 0", first, second)
	}
}

func TestPlannerSkipsSentFlags(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tasks := newFakeTaskStore()
	meetings := newFakeMeetingStore()
	m := meetrepo.Meeting{
		ID:        uuid.New(),
		LeadID:    uuid.New(),
		Status:    meetrepo.StatusScheduled,
		StartTime: now.Add(72 * time.Hour),
	}
	meetings.setFlag(m.ID, "24h", "email")
	meetings.setFlag(m.ID, "24h", "sms")

	created, err := newTestPlanner(tasks, meetings, now).PlanForMeeting(context.Background(), m, "trk-1")
	if err != nil {
		t.Fatalf("PlanForMeeting: %v", err)
	}
	if created != 2 {
		t.Fatalf("created = %d, want 2", created)
	}
}

func TestPlannerIgnoresNonScheduledMeeting(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tasks := newFakeTaskStore()
	m := meetrepo.Meeting{
		ID:        uuid.New(),
		LeadID:    uuid.New(),
		Status:    meetrepo.StatusCanceled,
		StartTime: now.Add(72 * time.Hour),
	}

	created, err := newTestPlanner(tasks, newFakeMeetingStore(), now).PlanForMeeting(context.Background(), m, "trk-1")
	if err != nil {
		t.Fatalf("PlanForMeeting: %v", err)
	}
	if created != 0 {
		t.Fatalf("created = %d, want 0", created)
	}
}
