package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/etmpass/notifications-service/pkg/logger"
)

const deadLetterRetentionDays = 30

type deadLetterPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type DeadLetterRetentionJobParams struct {
	Logger     *logger.Logger
	Repository deadLetterPurger
	Retention  int
}

func NewDeadLetterRetentionJob(params DeadLetterRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("dead letter repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = deadLetterRetentionDays
	}
	return &deadLetterRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: retention,
		now:       time.Now,
	}, nil
}

type deadLetterRetentionJob struct {
	logg      *logger.Logger
	repo      deadLetterPurger
	retention int
	now       func() time.Time
}

func (j *deadLetterRetentionJob) Name() string { return "dead-letter-retention" }

func (j *deadLetterRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	deleted, err := j.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("dead letter retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "dead letter retention complete")
	return nil
}
