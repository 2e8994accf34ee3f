package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"leadflow_backend/internal/outbox"
	"leadflow_backend/platform/logger"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, task *asynq.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

type fakeDispatchStore struct {
	due      []outbox.Message
	claimErr error
	released map[uuid.UUID]string
}

func (f *fakeDispatchStore) ClaimDue(ctx context.Context, limit int) ([]outbox.Message, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.due, nil
}

func (f *fakeDispatchStore) MarkPending(ctx context.Context, id uuid.UUID, lastError string) error {
	if f.released == nil {
		f.released = map[uuid.UUID]string{}
	}
	f.released[id] = lastError
	return nil
}

func newTestDispatcher(client TaskEnqueuer, store dispatchStore) *OutboxDispatcher {
	return &OutboxDispatcher{
		client: client,
		repo:   store,
		batch:  50,
		log:    logger.New("test"),
	}
}

func TestDispatchDueEnqueuesClaimedMessages(t *testing.T) {
	msg := testMessage(outbox.StatusSending)
	store := &fakeDispatchStore{due: []outbox.Message{msg}}
	client := &fakeEnqueuer{}
	d := newTestDispatcher(client, store)

	d.dispatchDue(context.Background())

	if len(client.tasks) != 1 {
		t.Fatalf("enqueued %d tasks, want 1", len(client.tasks))
	}
	if got := client.tasks[0].Type(); got != TaskOutboundMessageDue {
		t.Fatalf("task type = %q, want %q", got, TaskOutboundMessageDue)
	}
	var payload OutboundMessageDuePayload
	if err := json.Unmarshal(client.tasks[0].Payload(), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.MessageID != msg.ID.String() {
		t.Fatalf("payload message id = %q, want %q", payload.MessageID, msg.ID)
	}
	if len(store.released) != 0 {
		t.Fatal("successful enqueue must not release the claim")
	}
}

func TestDispatchDueReleasesClaimOnEnqueueFailure(t *testing.T) {
	msg := testMessage(outbox.StatusSending)
	store := &fakeDispatchStore{due: []outbox.Message{msg}}
	client := &fakeEnqueuer{err: errors.New("redis down")}
	d := newTestDispatcher(client, store)

	d.dispatchDue(context.Background())

	if got, ok := store.released[msg.ID]; !ok || got != "redis down" {
		t.Fatalf("released = %v, want claim put back with enqueue error", store.released)
	}
}
