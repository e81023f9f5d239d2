// internal/trigger/scheduler.go
package trigger

import (
	"context"
	"time"

	"notification-engine/internal/common/logger"
)

// Scheduler starts a pass immediately and then on every tick until ctx is
// done. Ticks that arrive while a pass is running are dropped.
type Scheduler struct {
	invoker   *Invoker
	interval  time.Duration
	batchSize int
	logger    logger.Logger
}

func NewScheduler(invoker *Invoker, interval time.Duration, batchSize int, log logger.Logger) *Scheduler {
	return &Scheduler{
		invoker:   invoker,
		interval:  interval,
		batchSize: batchSize,
		logger:    log.WithFields(map[string]interface{}{"component": "scheduler"}),
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("periodic trigger disabled", nil)
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("periodic trigger started", map[string]interface{}{"intervalMs": s.interval.Milliseconds()})
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("periodic trigger stopped", nil)
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	// errors are already logged by the invoker
	_, _ = s.invoker.Invoke(ctx, SourceSchedule, s.batchSize)
}
