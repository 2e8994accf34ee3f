package scheduler

import (
	"context"
	"time"

	"leadflow_backend/internal/automation"
	taskrepo "leadflow_backend/internal/automation/repository"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// TaskLoop polls the automation task table and runs due tasks through
// the executor. Claims use SKIP LOCKED, so several instances of the loop
// partition the backlog without coordination.
type TaskLoop struct {
	repo     *taskrepo.Repository
	exec     *automation.Executor
	interval time.Duration
	batch    int
	log      *logger.Logger
}

func NewTaskLoop(cfg config.AutomationConfig, repo *taskrepo.Repository, exec *automation.Executor, log *logger.Logger) *TaskLoop {
	interval := cfg.GetTaskPollInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batch := cfg.GetTaskBatchSize()
	if batch < 1 {
		batch = 25
	}
	return &TaskLoop{
		repo:     repo,
		exec:     exec,
		interval: interval,
		batch:    batch,
		log:      log,
	}
}

func (l *TaskLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tasks, err := l.repo.ClaimDue(ctx, time.Now(), l.batch)
		if err != nil {
			l.log.Warn("task claim failed", "error", err)
			continue
		}

		for _, t := range tasks {
			if ctx.Err() != nil {
				return
			}
			l.exec.Execute(ctx, t)
		}
	}
}
