package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/etmpass/notifications-service/pkg/logger"
	"github.com/etmpass/notifications-service/pkg/metrics"
)

const (
	defaultInterval = time.Minute
	releaseTimeout  = 5 * time.Second
)

// ServiceParams configure a scheduler. Lock is optional; without one every
// process runs every cycle.
type ServiceParams struct {
	Name     string
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service runs its registry's jobs back to back once per interval, starting
// with an immediate cycle.
type Service struct {
	name     string
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	s := &Service{
		name:     params.Name,
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: params.Interval,
	}
	if s.name == "" {
		s.name = "cron"
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	return s, nil
}

// Run blocks until ctx is done and returns its error.
func (s *Service) Run(ctx context.Context) error {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"scheduler": s.name,
		"interval":  s.interval.String(),
	})
	s.logg.Info(ctx, "scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.runCycle(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "scheduler cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	if s.lock != nil {
		held, err := s.lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire %s lock: %w", s.name, err)
		}
		if !held {
			s.metrics.IncLockSkipped(s.name)
			s.logg.Debug(ctx, "lock held by another instance, skipping cycle")
			return nil
		}
		defer s.release(ctx)
	}

	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.runJob(ctx, job)
	}
	return nil
}

// release runs on a fresh deadline so shutdown does not strand the lock
// until its TTL.
func (s *Service) release(ctx context.Context) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.lock.Release(relCtx); err != nil {
		s.logg.Error(ctx, "failed to release scheduler lock", err)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) {
	ctx = s.logg.WithField(ctx, "job", job.Name())
	start := time.Now()
	err := safeRun(ctx, job)
	took := time.Since(start)

	s.metrics.ObserveRun(s.name, job.Name(), took, err)
	ctx = s.logg.WithField(ctx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "job failed", err)
		return
	}
	s.logg.Debug(ctx, "job completed")
}

// safeRun keeps one panicking job from taking the scheduler down.
func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), rec)
		}
	}()
	return job.Run(ctx)
}
