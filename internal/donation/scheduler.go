package donation

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler is the periodic materializer for recurring commitments: it
// generates due installments and marks overdue ones missed. It is safe to
// run more than one instance; the uniqueness constraint on installments and
// the CAS discipline on transitions keep overlapping ticks idempotent.
type Scheduler struct {
	service  *Service
	logger   *slog.Logger
	interval time.Duration
}

func NewScheduler(service *Service, logger *slog.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		service:  service,
		logger:   logger,
		interval: interval,
	}
}

func (sc *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	sc.logger.Info("donation scheduler started", "interval", sc.interval)

	for {
		select {
		case <-ctx.Done():
			sc.logger.Info("donation scheduler stopped")
			return
		case now := <-ticker.C:
			sc.Tick(ctx, now)
		}
	}
}

func (sc *Scheduler) Tick(ctx context.Context, now time.Time) {
	generated, err := sc.service.GenerateInstallments(ctx, now)
	if err != nil {
		sc.logger.Error("installment generation failed", "error", err)
	} else if generated > 0 {
		sc.logger.Info("installments generated", "count", generated)
	}

	missed, err := sc.service.MarkMissedInstallments(ctx, now)
	if err != nil {
		sc.logger.Error("missed marking failed", "error", err)
	} else if missed > 0 {
		sc.logger.Info("installments marked missed", "count", missed)
	}
}
