package payment

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically auto-confirms pending payments whose grace window has
// elapsed without a human transition. It shares the CAS primitive with the
// request path, so a concurrent manual confirm or dispute always produces
// exactly one winner.
type Sweeper struct {
	service  *Service
	logger   *slog.Logger
	interval time.Duration
}

func NewSweeper(service *Service, logger *slog.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{
		service:  service,
		logger:   logger,
		interval: interval,
	}
}

// Run loops until the context is cancelled. Each tick passes the current
// time explicitly so Tick stays deterministic under test.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("auto-confirm sweeper started", "interval", sw.interval)

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("auto-confirm sweeper stopped")
			return
		case now := <-ticker.C:
			sw.Tick(ctx, now)
		}
	}
}

func (sw *Sweeper) Tick(ctx context.Context, now time.Time) {
	swept, err := sw.service.SweepAutoConfirm(ctx, now)
	if err != nil {
		sw.logger.Error("sweep failed", "error", err)
		return
	}
	if swept > 0 {
		sw.logger.Info("sweep completed", "auto_confirmed", swept)
	}
}
