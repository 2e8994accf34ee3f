package scheduler

import (
	"context"
	"fmt"
	"time"

	"leadflow_backend/internal/events"
	meetrepo "leadflow_backend/internal/meetings/repository"
	"leadflow_backend/internal/notification"
	"leadflow_backend/internal/outbox"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Worker ports. Concrete repositories satisfy them; tests use fakes.
type (
	MessageStore interface {
		GetByID(ctx context.Context, id uuid.UUID) (outbox.Message, error)
		MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error
		ScheduleRetry(ctx context.Context, id uuid.UUID, scheduledFor time.Time, lastError string) error
		MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
	}

	ReminderRecorder interface {
		ClaimReminderFlag(ctx context.Context, meetingID uuid.UUID, offset, channel string) (bool, error)
		InsertReminderLog(ctx context.Context, meetingID uuid.UUID, offset, channel string, messageID uuid.UUID) error
	}
)

// Worker delivers claimed outbound messages. Send failures feed the
// message's own retry transition, so handlers always return nil for
// delivery errors; asynq level retries only cover infrastructure faults
// like unparsable payloads.
type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	messages   MessageStore
	meetings   ReminderRecorder
	dispatcher notification.Dispatcher
	bus        events.Bus
	log        *logger.Logger
	now        func() time.Time
}

func NewWorker(
	cfg config.SchedulerConfig,
	pool *pgxpool.Pool,
	dispatcher notification.Dispatcher,
	bus events.Bus,
	log *logger.Logger,
) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: deliveryConcurrency(cfg),
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:     server,
		mux:        mux,
		messages:   outbox.New(pool),
		meetings:   meetrepo.New(pool),
		dispatcher: dispatcher,
		bus:        bus,
		log:        log,
		now:        time.Now,
	}

	mux.HandleFunc(TaskOutboundMessageDue, w.handleOutboundMessageDue)

	return w, nil
}

// deliveryConcurrency resolves the number of parallel deliveries.
// Default is one, so a claimed batch reaches the provider sequentially
// instead of as a burst; raising ASYNQ_CONCURRENCY above 1 trades that
// ordering away.
func deliveryConcurrency(cfg config.SchedulerConfig) int {
	if c := cfg.GetAsynqConcurrency(); c >= 1 {
		return c
	}
	return 1
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleOutboundMessageDue(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseOutboundMessageDuePayload(task)
	if err != nil {
		return err
	}

	msgID, err := uuid.Parse(payload.MessageID)
	if err != nil {
		return err
	}

	return w.deliver(ctx, msgID)
}

func (w *Worker) deliver(ctx context.Context, msgID uuid.UUID) error {
	msg, err := w.messages.GetByID(ctx, msgID)
	if err != nil {
		w.log.Warn("outbound message lookup failed", "message_id", msgID, "error", err)
		return nil
	}
	// Only rows the dispatcher claimed are deliverable; anything else is
	// a stale or duplicate enqueue.
	if msg.Status != outbox.StatusSending {
		return nil
	}

	log := w.log.WithTrackingID(msg.TrackingID)

	providerID, err := w.dispatcher.Send(ctx, notification.Message{
		Channel: notification.Channel(msg.Channel),
		To:      msg.Recipient,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err != nil {
		w.handleSendFailure(ctx, log, msg, err)
		return nil
	}

	if err := w.messages.MarkSent(ctx, msg.ID, providerID); err != nil {
		log.Error("mark message sent", "message_id", msg.ID, "error", err)
		return nil
	}

	w.recordReminderDelivery(ctx, log, msg)

	if w.bus != nil {
		w.bus.Publish(ctx, events.OutboundMessageSent{
			BaseEvent:         events.NewBaseEvent(),
			MessageID:         msg.ID,
			LeadID:            msg.LeadID,
			Channel:           msg.Channel,
			ProviderMessageID: providerID,
			TrackingID:        msg.TrackingID,
		})
	}

	log.Info("outbound message sent",
		"message_id", msg.ID,
		"channel", msg.Channel,
		"purpose", msg.Purpose,
	)
	return nil
}

func (w *Worker) handleSendFailure(ctx context.Context, log *logger.Logger, msg outbox.Message, sendErr error) {
	if msg.RetryCount+1 >= msg.MaxRetries {
		log.Error("outbound message failed permanently",
			"message_id", msg.ID,
			"retries", msg.RetryCount+1,
			"error", sendErr,
		)
		if err := w.messages.MarkFailed(ctx, msg.ID, sendErr.Error()); err != nil {
			log.Error("mark message failed", "message_id", msg.ID, "error", err)
		}
		return
	}

	retryAt := outbox.NextRetryAt(w.now(), msg.RetryCount)
	log.Warn("outbound message send failed, retrying",
		"message_id", msg.ID,
		"retry_at", retryAt,
		"error", sendErr,
	)
	if err := w.messages.ScheduleRetry(ctx, msg.ID, retryAt, sendErr.Error()); err != nil {
		log.Error("schedule message retry", "message_id", msg.ID, "error", err)
	}
}

// recordReminderDelivery flips the meeting's sent flag for reminder
// messages. The flag is claimed after the provider accepted the message,
// so a crash before this point re-sends rather than silently drops; the
// conditional flip keeps the duplicate from going out twice.
func (w *Worker) recordReminderDelivery(ctx context.Context, log *logger.Logger, msg outbox.Message) {
	offset, ok := reminderOffsetForPurpose(msg.Purpose)
	if !ok || msg.MeetingID == nil {
		return
	}

	claimed, err := w.meetings.ClaimReminderFlag(ctx, *msg.MeetingID, offset, msg.Channel)
	if err != nil {
		log.Error("claim reminder flag", "meeting_id", msg.MeetingID, "error", err)
		return
	}
	if !claimed {
		return
	}

	if err := w.meetings.InsertReminderLog(ctx, *msg.MeetingID, offset, msg.Channel, msg.ID); err != nil {
		log.Error("insert reminder log", "meeting_id", msg.MeetingID, "error", err)
	}
}

func reminderOffsetForPurpose(purpose string) (string, bool) {
	switch purpose {
	case outbox.PurposeReminder24h:
		return "24h", true
	case outbox.PurposeReminder1h:
		return "1h", true
	}
	return "", false
}
