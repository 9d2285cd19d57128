package jobs

import (
	"context"
	"log/slog"
	"time"

	"backjob/internal/config"
	"backjob/internal/metrics"
)

// Pruner deletes durable job records. Retention is an external policy:
// the status store itself never deletes anything.
type Pruner interface {
	// DeleteFinishedBefore removes Completed and Failed records whose
	// updated_time is older than cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupExpiredData deletes finished jobs older than the configured
// retention so that the jobs table does not grow without bound.
func CleanupExpiredData(ctx context.Context, cfg *config.Config, p Pruner) (int64, error) {
	days := cfg.Retention.Days
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	n, err := p.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.RecordRetentionJobs(n)
	return n, nil
}

// Janitor periodically runs CleanupExpiredData.
type Janitor struct {
	cfg    *config.Config
	pruner Pruner
	logger *slog.Logger
}

// NewJanitor constructs a Janitor with the given configuration and
// pruner.
func NewJanitor(cfg *config.Config, p Pruner, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{cfg: cfg, pruner: p, logger: logger}
}

// Run cleans up once immediately and then on every interval tick until
// ctx is done. Callers typically run this in its own goroutine.
func (j *Janitor) Run(ctx context.Context) error {
	interval := time.Duration(j.cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		j.cleanup(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (j *Janitor) cleanup(ctx context.Context) {
	n, err := CleanupExpiredData(ctx, j.cfg, j.pruner)
	if err != nil {
		j.logger.Error("retention_cleanup_failed", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("retention_cleanup", "jobs_deleted", n)
	}
}
