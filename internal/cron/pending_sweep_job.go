package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/etmpass/notifications-service/pkg/logger"
)

type pendingSweeper interface {
	Sweep(now time.Time) int
}

// NewPendingSweepJob evicts stale real-time deliveries on every cycle.
func NewPendingSweepJob(sweeper pendingSweeper, logg *logger.Logger) (Job, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &pendingSweepJob{sweeper: sweeper, logg: logg, now: time.Now}, nil
}

type pendingSweepJob struct {
	sweeper pendingSweeper
	logg    *logger.Logger
	now     func() time.Time
}

func (j *pendingSweepJob) Name() string { return "pending-delivery-sweep" }

func (j *pendingSweepJob) Run(ctx context.Context) error {
	evicted := j.sweeper.Sweep(j.now())
	if evicted > 0 {
		j.logg.Info(j.logg.WithField(ctx, "evicted", evicted), "evicted expired pending notifications")
	}
	return nil
}
