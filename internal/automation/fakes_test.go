package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	agentrepo "leadflow_backend/internal/agents/repository"
	"leadflow_backend/internal/assignment"
	taskrepo "leadflow_backend/internal/automation/repository"
	"leadflow_backend/internal/events"
	leadrepo "leadflow_backend/internal/leads/repository"
	meetrepo "leadflow_backend/internal/meetings/repository"
	"leadflow_backend/internal/notification"
	"leadflow_backend/internal/outbox"
)

// fakeTaskStore keeps tasks in memory and mimics the pending-task
// uniqueness constraint of the real repository.
type fakeTaskStore struct {
	mu         sync.Mutex
	inserted   []taskrepo.InsertParams
	active     map[string]bool
	completedK map[string]bool
	completed  map[uuid.UUID]map[string]any
	failed     map[uuid.UUID]string
	successors []taskrepo.InsertParams
	cancelled  []string
	insertErr  error
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{
		active:     map[string]bool{},
		completedK: map[string]bool{},
		completed:  map[uuid.UUID]map[string]any{},
		failed:     map[uuid.UUID]string{},
	}
}

func taskKey(leadID uuid.UUID, step, dedupe string) string {
	return leadID.String() + "|" + step + "|" + dedupe
}

func (f *fakeTaskStore) Insert(ctx context.Context, p taskrepo.InsertParams) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return uuid.Nil, f.insertErr
	}
	key := taskKey(p.LeadID, p.StepName, p.DedupeKey)
	if f.active[key] {
		return uuid.Nil, taskrepo.ErrDuplicateTask
	}
	f.active[key] = true
	f.inserted = append(f.inserted, p)
	return uuid.New(), nil
}

func (f *fakeTaskStore) MarkCompleted(ctx context.Context, id uuid.UUID, result map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = result
	return nil
}

func (f *fakeTaskStore) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = errorMessage
	return nil
}

func (f *fakeTaskStore) CompleteAndReschedule(ctx context.Context, id uuid.UUID, result map[string]any, successor taskrepo.InsertParams) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = result
	f.successors = append(f.successors, successor)
	return uuid.New(), nil
}

func (f *fakeTaskStore) ListByLead(ctx context.Context, leadID uuid.UUID) ([]taskrepo.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []taskrepo.Task
	for _, p := range f.inserted {
		if p.LeadID == leadID {
			out = append(out, taskrepo.Task{
				ID:          uuid.New(),
				LeadID:      p.LeadID,
				StepName:    p.StepName,
				Status:      taskrepo.StatusPending,
				ScheduledAt: p.ScheduledAt,
			})
		}
	}
	return out, nil
}

func (f *fakeTaskStore) CancelPendingSteps(ctx context.Context, leadID uuid.UUID, stepNames []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, step := range stepNames {
		f.cancelled = append(f.cancelled, step)
		for key := range f.active {
			if key == taskKey(leadID, step, "") {
				delete(f.active, key)
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeTaskStore) HasCompleted(ctx context.Context, leadID uuid.UUID, stepName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completedK[taskKey(leadID, stepName, "")], nil
}

func (f *fakeTaskStore) insertedSteps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.inserted))
	for i, p := range f.inserted {
		out[i] = p.StepName
	}
	return out
}

type fakeLeadStore struct {
	mu    sync.Mutex
	leads map[uuid.UUID]leadrepo.Lead
}

func newFakeLeadStore(leads ...leadrepo.Lead) *fakeLeadStore {
	f := &fakeLeadStore{leads: map[uuid.UUID]leadrepo.Lead{}}
	for _, l := range leads {
		f.leads[l.ID] = l
	}
	return f
}

func (f *fakeLeadStore) GetByID(ctx context.Context, id uuid.UUID) (leadrepo.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return leadrepo.Lead{}, leadrepo.ErrNotFound
	}
	return l, nil
}

func (f *fakeLeadStore) SetMeetingSchedule(ctx context.Context, leadID uuid.UUID, startTime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[leadID]
	if !ok {
		return leadrepo.ErrNotFound
	}
	l.MeetingStartTime = &startTime
	l.Status = leadrepo.StatusScheduled
	f.leads[leadID] = l
	return nil
}

func (f *fakeLeadStore) UpdateStatus(ctx context.Context, leadID uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[leadID]
	if !ok {
		return leadrepo.ErrNotFound
	}
	l.Status = status
	f.leads[leadID] = l
	return nil
}

type fakeAgentReader struct {
	agents map[uuid.UUID]agentrepo.Agent
}

func (f *fakeAgentReader) GetByID(ctx context.Context, id uuid.UUID) (agentrepo.Agent, error) {
	a, ok := f.agents[id]
	if !ok {
		return agentrepo.Agent{}, agentrepo.ErrNotFound
	}
	return a, nil
}

type fakeMeetingStore struct {
	mu       sync.Mutex
	meetings map[uuid.UUID]meetrepo.Meeting
	flags    map[string]bool
}

func newFakeMeetingStore(meetings ...meetrepo.Meeting) *fakeMeetingStore {
	f := &fakeMeetingStore{meetings: map[uuid.UUID]meetrepo.Meeting{}, flags: map[string]bool{}}
	for _, m := range meetings {
		f.meetings[m.ID] = m
	}
	return f
}

func (f *fakeMeetingStore) GetByID(ctx context.Context, id uuid.UUID) (meetrepo.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meetings[id]
	if !ok {
		return meetrepo.Meeting{}, meetrepo.ErrNotFound
	}
	return m, nil
}

func (f *fakeMeetingStore) GetCurrentByLead(ctx context.Context, leadID uuid.UUID) (meetrepo.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.meetings {
		if m.LeadID == leadID && m.Status == meetrepo.StatusScheduled {
			return m, nil
		}
	}
	return meetrepo.Meeting{}, meetrepo.ErrNotFound
}

func (f *fakeMeetingStore) GetByExternalRef(ctx context.Context, ref string) (meetrepo.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.meetings {
		if m.ExternalRef == ref {
			return m, nil
		}
	}
	return meetrepo.Meeting{}, meetrepo.ErrNotFound
}

func (f *fakeMeetingStore) UpsertByExternalRef(ctx context.Context, p meetrepo.UpsertParams) (meetrepo.Meeting, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, m := range f.meetings {
		if m.ExternalRef == p.ExternalRef {
			m.StartTime = p.StartTime
			m.Status = meetrepo.StatusScheduled
			f.meetings[id] = m
			return m, false, nil
		}
	}
	m := meetrepo.Meeting{
		ID:          uuid.New(),
		LeadID:      p.LeadID,
		AgentID:     p.AgentID,
		ExternalRef: p.ExternalRef,
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
		Status:      meetrepo.StatusScheduled,
		TrackingID:  p.TrackingID,
	}
	f.meetings[m.ID] = m
	return m, true, nil
}

func (f *fakeMeetingStore) MarkCanceled(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meetings[id]
	if !ok {
		return meetrepo.ErrNotFound
	}
	m.Status = meetrepo.StatusCanceled
	f.meetings[id] = m
	return nil
}

func flagKey(meetingID uuid.UUID, offset, channel string) string {
	return meetingID.String() + "|" + offset + "|" + channel
}

func (f *fakeMeetingStore) ReminderFlagSet(ctx context.Context, meetingID uuid.UUID, offset, channel string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags[flagKey(meetingID, offset, channel)], nil
}

func (f *fakeMeetingStore) setFlag(meetingID uuid.UUID, offset, channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[flagKey(meetingID, offset, channel)] = true
}

type fakeQueue struct {
	mu             sync.Mutex
	inserted       []outbox.InsertParams
	insertStatuses []string
	statuses       map[uuid.UUID]string
	existing       map[string]bool
	sent           map[uuid.UUID]string
	released       map[uuid.UUID]string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		statuses: map[uuid.UUID]string{},
		existing: map[string]bool{},
		sent:     map[uuid.UUID]string{},
		released: map[uuid.UUID]string{},
	}
}

func (f *fakeQueue) Insert(ctx context.Context, p outbox.InsertParams) (uuid.UUID, error) {
	return f.insert(p, outbox.StatusPending)
}

func (f *fakeQueue) InsertClaimed(ctx context.Context, p outbox.InsertParams) (uuid.UUID, error) {
	return f.insert(p, outbox.StatusSending)
}

func (f *fakeQueue) insert(p outbox.InsertParams, status string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, p)
	f.insertStatuses = append(f.insertStatuses, status)
	id := uuid.New()
	f.statuses[id] = status
	if p.LeadID != nil {
		f.existing[p.LeadID.String()+"|"+p.Purpose] = true
	}
	return id, nil
}

func (f *fakeQueue) ExistsForLeadPurpose(ctx context.Context, leadID uuid.UUID, purpose string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[leadID.String()+"|"+purpose], nil
}

func (f *fakeQueue) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[id] = providerMessageID
	f.statuses[id] = outbox.StatusSent
	return nil
}

func (f *fakeQueue) MarkPending(ctx context.Context, id uuid.UUID, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[id] = lastError
	f.statuses[id] = outbox.StatusPending
	return nil
}

func (f *fakeQueue) status(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

type fakePlanner struct {
	calls   int
	planned int
}

func (f *fakePlanner) PlanForMeeting(ctx context.Context, m meetrepo.Meeting, trackingID string) (int, error) {
	f.calls++
	return f.planned, nil
}

type fakeAssigner struct {
	result assignment.Result
	err    error
	calls  int
}

func (f *fakeAssigner) Assign(ctx context.Context, leadID uuid.UUID) (assignment.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeDispatcher struct {
	sent []notification.Message
	err  error
}

func (f *fakeDispatcher) Send(ctx context.Context, msg notification.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("provider-%d", len(f.sent)), nil
}

// recordingBus captures published events without spawning goroutines.
type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(ctx context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}

func (b *recordingBus) Subscribe(eventName string, h events.Handler) {}
