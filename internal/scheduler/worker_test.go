package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/notification"
	"leadflow_backend/internal/outbox"
	"leadflow_backend/platform/logger"
)

type fakeMessageStore struct {
	msg     outbox.Message
	sent    map[uuid.UUID]string
	retries []time.Time
	failed  map[uuid.UUID]string
	getErr  error
}

func newFakeMessageStore(msg outbox.Message) *fakeMessageStore {
	return &fakeMessageStore{
		msg:    msg,
		sent:   map[uuid.UUID]string{},
		failed: map[uuid.UUID]string{},
	}
}

func (f *fakeMessageStore) GetByID(ctx context.Context, id uuid.UUID) (outbox.Message, error) {
	if f.getErr != nil {
		return outbox.Message{}, f.getErr
	}
	return f.msg, nil
}

func (f *fakeMessageStore) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error {
	f.sent[id] = providerMessageID
	return nil
}

func (f *fakeMessageStore) ScheduleRetry(ctx context.Context, id uuid.UUID, scheduledFor time.Time, lastError string) error {
	f.retries = append(f.retries, scheduledFor)
	return nil
}

func (f *fakeMessageStore) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	f.failed[id] = lastError
	return nil
}

type fakeReminderRecorder struct {
	claims  []string
	logs    []uuid.UUID
	claimed bool
}

func (f *fakeReminderRecorder) ClaimReminderFlag(ctx context.Context, meetingID uuid.UUID, offset, channel string) (bool, error) {
	f.claims = append(f.claims, offset+"/"+channel)
	return f.claimed, nil
}

func (f *fakeReminderRecorder) InsertReminderLog(ctx context.Context, meetingID uuid.UUID, offset, channel string, messageID uuid.UUID) error {
	f.logs = append(f.logs, messageID)
	return nil
}

type stubDispatcher struct {
	providerID string
	err        error
	sends      int
}

func (d *stubDispatcher) Send(ctx context.Context, msg notification.Message) (string, error) {
	d.sends++
	if d.err != nil {
		return "", d.err
	}
	return d.providerID, nil
}

func testMessage(status string) outbox.Message {
	leadID := uuid.New()
	return outbox.Message{
		ID:         uuid.New(),
		LeadID:     &leadID,
		Purpose:    outbox.PurposeFollowup24h,
		Channel:    "email",
		Recipient:  "jamie@example.com",
		Subject:    "hello",
		Body:       "<p>hi</p>",
		Status:     status,
		RetryCount: 0,
		MaxRetries: outbox.DefaultMaxRetries,
		TrackingID: "trk-1",
	}
}

func newTestWorker(messages MessageStore, meetings ReminderRecorder, dispatcher notification.Dispatcher) *Worker {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return &Worker{
		messages:   messages,
		meetings:   meetings,
		dispatcher: dispatcher,
		log:        logger.New("test"),
		now:        func() time.Time { return now },
	}
}

func TestDeliverMarksSentOnSuccess(t *testing.T) {
	msg := testMessage(outbox.StatusSending)
	store := newFakeMessageStore(msg)
	disp := &stubDispatcher{providerID: "prov-123"}
	w := newTestWorker(store, &fakeReminderRecorder{}, disp)

	if err := w.deliver(context.Background(), msg.ID); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if store.sent[msg.ID] != "prov-123" {
		t.Fatalf("sent = %v", store.sent)
	}
}

func TestDeliverSkipsUnclaimedMessage(t *testing.T) {
	msg := testMessage(outbox.StatusPending)
	store := newFakeMessageStore(msg)
	disp := &stubDispatcher{providerID: "prov-123"}
	w := newTestWorker(store, &fakeReminderRecorder{}, disp)

	if err := w.deliver(context.Background(), msg.ID); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if disp.sends != 0 {
		t.Fatal("unclaimed message must not be sent")
	}
}

func TestDeliverSchedulesRetryWithBackoff(t *testing.T) {
	msg := testMessage(outbox.StatusSending)
	msg.RetryCount = 2
	store := newFakeMessageStore(msg)
	disp := &stubDispatcher{err: errors.New("smtp timeout")}
	w := newTestWorker(store, &fakeReminderRecorder{}, disp)

	if err := w.deliver(context.Background(), msg.ID); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(store.retries) != 1 {
		t.Fatalf("retries = %d", len(store.retries))
	}
	want := w.now().Add(3 * time.Minute)
	if !store.retries[0].Equal(want) {
		t.Fatalf("retry at %v, want %v", store.retries[0], want)
	}
}

func TestDeliverFailsTerminallyAtMaxRetries(t *testing.T) {
	msg := testMessage(outbox.StatusSending)
	msg.RetryCount = msg.MaxRetries - 1
	store := newFakeMessageStore(msg)
	disp := &stubDispatcher{err: errors.New("smtp down")}
	w := newTestWorker(store, &fakeReminderRecorder{}, disp)

	if err := w.deliver(context.Background(), msg.ID); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(store.retries) != 0 {
		t.Fatal("expected no further retry")
	}
	if _, ok := store.failed[msg.ID]; !ok {
		t.Fatal("message not marked failed")
	}
}

func TestDeliverClaimsReminderFlagOnce(t *testing.T) {
	meetingID := uuid.New()
	msg := testMessage(outbox.StatusSending)
	msg.Purpose = outbox.PurposeReminder24h
	msg.MeetingID = &meetingID
	store := newFakeMessageStore(msg)
	rec := &fakeReminderRecorder{claimed: true}
	w := newTestWorker(store, rec, &stubDispatcher{providerID: "prov-1"})

	if err := w.deliver(context.Background(), msg.ID); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(rec.claims) != 1 || rec.claims[0] != "24h/email" {
		t.Fatalf("claims = %v", rec.claims)
	}
	if len(rec.logs) != 1 {
		t.Fatal("expected one reminder log row")
	}
}

func TestDeliverSkipsLogWhenFlagAlreadyClaimed(t *testing.T) {
	meetingID := uuid.New()
	msg := testMessage(outbox.StatusSending)
	msg.Purpose = outbox.PurposeReminder1h
	msg.MeetingID = &meetingID
	store := newFakeMessageStore(msg)
	rec := &fakeReminderRecorder{claimed: false}
	w := newTestWorker(store, rec, &stubDispatcher{providerID: "prov-1"})

	if err := w.deliver(context.Background(), msg.ID); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(rec.logs) != 0 {
		t.Fatal("log row must only follow a successful flag claim")
	}
}

type fakeSchedulerConfig struct {
	concurrency int
}

func (f fakeSchedulerConfig) GetRedisURL() string       { return "redis://localhost:6379" }
func (f fakeSchedulerConfig) GetRedisTLSInsecure() bool { return false }
func (f fakeSchedulerConfig) GetAsynqQueueName() string { return "default" }
func (f fakeSchedulerConfig) GetAsynqConcurrency() int  { return f.concurrency }

func TestDeliveryConcurrencyDefaultsToSequential(t *testing.T) {
	cases := []struct {
		configured int
		want       int
	}{
		{configured: 0, want: 1},
		{configured: -3, want: 1},
		{configured: 1, want: 1},
		{configured: 4, want: 4},
	}
	for _, tc := range cases {
		if got := deliveryConcurrency(fakeSchedulerConfig{concurrency: tc.configured}); got != tc.want {
			t.Errorf("deliveryConcurrency(%d) = %d, want %d", tc.configured, got, tc.want)
		}
	}
}
