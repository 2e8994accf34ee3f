package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"leadflow_backend/internal/automation"
	meetrepo "leadflow_backend/internal/meetings/repository"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// sweepWindow covers both reminder offsets with headroom.
const sweepWindow = 48 * time.Hour

// ReminderSweep periodically re-plans reminders for upcoming meetings.
// It repairs gaps, for example a meeting confirmed while the planner
// write failed, without ever duplicating a reminder: planning itself is
// idempotent.
type ReminderSweep struct {
	meetings *meetrepo.Repository
	planner  *automation.Planner
	interval time.Duration
	log      *logger.Logger
}

func NewReminderSweep(cfg config.AutomationConfig, meetings *meetrepo.Repository, planner *automation.Planner, log *logger.Logger) *ReminderSweep {
	interval := cfg.GetReminderSweepInterval()
	if interval <= 0 {
		interval = time.Hour
	}
	return &ReminderSweep{
		meetings: meetings,
		planner:  planner,
		interval: interval,
		log:      log,
	}
}

func (s *ReminderSweep) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		meetings, err := s.meetings.ListUpcoming(ctx, sweepWindow)
		if err != nil {
			s.log.Warn("reminder sweep list failed", "error", err)
			continue
		}

		var repaired atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for _, m := range meetings {
			m := m
			g.Go(func() error {
				created, err := s.planner.PlanForMeeting(gctx, m, m.TrackingID)
				if err != nil {
					s.log.Warn("reminder sweep plan failed", "meeting_id", m.ID, "error", err)
					return nil
				}
				repaired.Add(int64(created))
				return nil
			})
		}
		_ = g.Wait()
		if n := repaired.Load(); n > 0 {
			s.log.Info("reminder sweep repaired gaps", "created", n)
		}
	}
}
