package jobs

import (
	"context"
	"time"

	"fleetsim/internal/logger"
	"fleetsim/internal/models"

	"go.uber.org/zap"
)

// Fleet is the part of the fleet service the jobs drive.
type Fleet interface {
	TickAll(ctx context.Context) ([]models.MetricsSnapshot, error)
	CheckAlerts(ctx context.Context) ([]models.Alert, error)
}

// TickJob advances every node once per interval.
type TickJob struct {
	interval time.Duration
	fleet    Fleet
}

func NewTickJob(interval time.Duration, fleet Fleet) *TickJob {
	return &TickJob{interval: interval, fleet: fleet}
}

func (j *TickJob) Name() string            { return "simulate-metrics" }
func (j *TickJob) Interval() time.Duration { return j.interval }

func (j *TickJob) Run(ctx context.Context) error {
	batch, err := j.fleet.TickAll(ctx)
	logger.Debug("tick batch", zap.Int("nodes", len(batch)))
	return err
}

// AlertJob compares the latest readings with the alert thresholds.
type AlertJob struct {
	interval time.Duration
	fleet    Fleet
}

func NewAlertJob(interval time.Duration, fleet Fleet) *AlertJob {
	return &AlertJob{interval: interval, fleet: fleet}
}

func (j *AlertJob) Name() string            { return "check-alerts" }
func (j *AlertJob) Interval() time.Duration { return j.interval }

func (j *AlertJob) Run(ctx context.Context) error {
	alerts, err := j.fleet.CheckAlerts(ctx)
	if len(alerts) > 0 {
		logger.Info("alerts raised", zap.Int("count", len(alerts)))
	}
	return err
}

// PruneJob drops persisted history older than retention.
type PruneJob struct {
	interval  time.Duration
	retention time.Duration
	prune     func(ctx context.Context, before time.Time) (int64, error)
}

func NewPruneJob(interval, retention time.Duration, prune func(ctx context.Context, before time.Time) (int64, error)) *PruneJob {
	return &PruneJob{interval: interval, retention: retention, prune: prune}
}

func (j *PruneJob) Name() string            { return "prune-history" }
func (j *PruneJob) Interval() time.Duration { return j.interval }

func (j *PruneJob) Run(ctx context.Context) error {
	n, err := j.prune(ctx, time.Now().Add(-j.retention))
	if n > 0 {
		logger.Info("pruned metrics history", zap.Int64("rows", n))
	}
	return err
}
