package application

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRefreshInterval is how often the background refresh pass runs when
// not configured otherwise.
const DefaultRefreshInterval = 10 * time.Minute

// RefreshScheduler drives the periodic credential refresh pass. Each pass
// walks the linked accounts sequentially and refreshes the ones whose access
// credential is near expiry.
type RefreshScheduler struct {
	lifecycle *LifecycleService
	interval  time.Duration
}

// NewRefreshScheduler creates a scheduler over the given lifecycle service.
func NewRefreshScheduler(lifecycle *LifecycleService, interval time.Duration) *RefreshScheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &RefreshScheduler{lifecycle: lifecycle, interval: interval}
}

// Start runs an immediate refresh pass, then repeats on the configured
// interval. It blocks until the context is canceled.
func (s *RefreshScheduler) Start(ctx context.Context) {
	s.runPass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("refresh scheduler stopped")
			return
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

func (s *RefreshScheduler) runPass(ctx context.Context) {
	report, err := s.lifecycle.RefreshBatch(ctx)
	if err != nil {
		slog.Error("refresh pass failed", "error", err)
		return
	}
	if report.Total > 0 {
		slog.Info("refresh pass complete",
			"total", report.Total,
			"refreshed", report.Refreshed,
			"skipped", report.Skipped,
			"failed", report.Failed,
		)
	}
}
