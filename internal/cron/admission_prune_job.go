package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/etmpass/notifications-service/pkg/logger"
)

type admissionPruner interface {
	Prune(now time.Time) int
}

// NewAdmissionPruneJob drops idle connection buckets.
func NewAdmissionPruneJob(pruner admissionPruner, logg *logger.Logger) (Job, error) {
	if pruner == nil {
		return nil, fmt.Errorf("pruner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &admissionPruneJob{pruner: pruner, logg: logg, now: time.Now}, nil
}

type admissionPruneJob struct {
	pruner admissionPruner
	logg   *logger.Logger
	now    func() time.Time
}

func (j *admissionPruneJob) Name() string { return "admission-prune" }

func (j *admissionPruneJob) Run(ctx context.Context) error {
	if pruned := j.pruner.Prune(j.now()); pruned > 0 {
		j.logg.Debug(j.logg.WithField(ctx, "pruned", pruned), "pruned idle admission buckets")
	}
	return nil
}
