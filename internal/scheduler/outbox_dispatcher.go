package scheduler

import (
	"context"
	"time"

	"leadflow_backend/internal/outbox"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TaskEnqueuer is the producer port. Client satisfies it; tests use fakes.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task) error
}

type dispatchStore interface {
	ClaimDue(ctx context.Context, limit int) ([]outbox.Message, error)
	MarkPending(ctx context.Context, id uuid.UUID, lastError string) error
}

// OutboxDispatcher polls the outbound message table and hands due rows to
// the delivery worker. The claim flips rows to "sending" before they are
// enqueued; rows that cannot be enqueued are put back to "pending" so the
// next tick retries them.
type OutboxDispatcher struct {
	client   TaskEnqueuer
	repo     dispatchStore
	interval time.Duration
	batch    int
	log      *logger.Logger
}

func NewOutboxDispatcher(client *Client, auto config.AutomationConfig, pool *pgxpool.Pool, log *logger.Logger) *OutboxDispatcher {
	interval := auto.GetOutboxPollInterval()
	if interval <= 0 {
		interval = 2 * time.Second
	}
	batch := auto.GetOutboxBatchSize()
	if batch < 1 {
		batch = 50
	}

	return &OutboxDispatcher{
		client:   client,
		repo:     outbox.New(pool),
		interval: interval,
		batch:    batch,
		log:      log,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if d == nil || d.client == nil || d.repo == nil {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d.dispatchDue(ctx)
	}
}

func (d *OutboxDispatcher) dispatchDue(ctx context.Context) {
	records, err := d.repo.ClaimDue(ctx, d.batch)
	if err != nil {
		d.log.Warn("outbox claim failed", "error", err)
		return
	}

	for _, rec := range records {
		task, err := NewOutboundMessageDueTask(OutboundMessageDuePayload{
			MessageID:  rec.ID.String(),
			TrackingID: rec.TrackingID,
		})
		if err != nil {
			_ = d.repo.MarkPending(ctx, rec.ID, err.Error())
			continue
		}

		if err := d.client.Enqueue(ctx, task); err != nil {
			_ = d.repo.MarkPending(ctx, rec.ID, err.Error())
		}
	}
}
