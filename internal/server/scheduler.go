package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
	"go.uber.org/zap"
)

type scheduler struct {
	logger     *zap.Logger
	workflow   *booking.Workflow
	reconciler *booking.Reconciler
	nowFn      func() time.Time
	jobs       sync.WaitGroup
}

func newScheduler(logger *zap.Logger, runtime *Runtime) *scheduler {
	return &scheduler{
		logger:     logger,
		workflow:   runtime.Workflow,
		reconciler: runtime.Reconciler,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

// start runs every in its own goroutine; wait blocks until all started jobs
// have returned.
func (scheduler *scheduler) start(ctx context.Context, name string, interval time.Duration, job func(context.Context) error) {
	scheduler.jobs.Add(1)
	go func() {
		defer scheduler.jobs.Done()
		scheduler.every(ctx, name, interval, job)
	}()
}

func (scheduler *scheduler) wait() {
	scheduler.jobs.Wait()
}

// every runs job on a ticker until ctx is done. A zero interval disables the
// job.
func (scheduler *scheduler) every(ctx context.Context, name string, interval time.Duration, job func(context.Context) error) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	scheduler.logger.Info("scheduled job started", zap.String("job", name), zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
				scheduler.logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
			}
		}
	}
}

func (scheduler *scheduler) reconcile(ctx context.Context) error {
	report, err := scheduler.reconciler.Run(ctx)
	if errors.Is(err, booking.ErrReconcileInProgress) {
		scheduler.logger.Info("reconcile skipped, another run holds the lock")
		return nil
	}
	scheduler.logger.Info("reconcile finished", zap.Int("checked", report.Summary.Checked), zap.Int("updated", report.Summary.Updated))
	return err
}

func (scheduler *scheduler) chargeDue(ctx context.Context) error {
	results, err := scheduler.workflow.ChargeDue(ctx, booking.CalendarDateOf(scheduler.nowFn()))
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}
	scheduler.logger.Info("charge due finished", zap.Int("attempted", len(results)), zap.Int("failed", failed))
	return err
}
