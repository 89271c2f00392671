package cron

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSweeper struct {
	calls []time.Time
	n     int
}

func (f *fakeSweeper) Sweep(now time.Time) int {
	f.calls = append(f.calls, now)
	return f.n
}

type fakePruner struct {
	calls int
}

func (f *fakePruner) Prune(time.Time) int {
	f.calls++
	return 2
}

type fakePurger struct {
	cutoff time.Time
	rows   int64
	err    error
}

func (f *fakePurger) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.rows, f.err
}

func TestPendingSweepJobPassesClock(t *testing.T) {
	sweeper := &fakeSweeper{n: 3}
	jobIface, err := NewPendingSweepJob(sweeper, newTestLogger())
	if err != nil {
		t.Fatalf("NewPendingSweepJob: %v", err)
	}
	job := jobIface.(*pendingSweepJob)
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sweeper.calls) != 1 || !sweeper.calls[0].Equal(now) {
		t.Fatalf("unexpected sweep calls %v", sweeper.calls)
	}
	if job.Name() != "pending-delivery-sweep" {
		t.Fatalf("unexpected name %q", job.Name())
	}
}

func TestAdmissionPruneJob(t *testing.T) {
	pruner := &fakePruner{}
	job, err := NewAdmissionPruneJob(pruner, newTestLogger())
	if err != nil {
		t.Fatalf("NewAdmissionPruneJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pruner.calls != 1 {
		t.Fatalf("expected one prune, got %d", pruner.calls)
	}
	if _, err := NewAdmissionPruneJob(nil, newTestLogger()); err == nil {
		t.Fatal("expected error without pruner")
	}
}

func TestDeadLetterRetentionJobUsesCutoff(t *testing.T) {
	purger := &fakePurger{rows: 4}
	jobIface, err := NewDeadLetterRetentionJob(DeadLetterRetentionJobParams{
		Logger:     newTestLogger(),
		Repository: purger,
	})
	if err != nil {
		t.Fatalf("NewDeadLetterRetentionJob: %v", err)
	}
	job := jobIface.(*deadLetterRetentionJob)
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := now.Add(-deadLetterRetentionDays * 24 * time.Hour)
	if !purger.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, purger.cutoff)
	}
}

func TestDeadLetterRetentionJobPropagatesErrors(t *testing.T) {
	job, _ := NewDeadLetterRetentionJob(DeadLetterRetentionJobParams{
		Logger:     newTestLogger(),
		Repository: &fakePurger{err: errors.New("boom")},
	})
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
