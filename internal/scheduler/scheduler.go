package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/calebrhodes/photoflow-backend/internal/settings"
	"github.com/calebrhodes/photoflow-backend/pkg/logger"
	"github.com/calebrhodes/photoflow-backend/pkg/metrics"
)

// jobName labels scheduled batch runs in logs and metrics.
const jobName = "scheduled_batch"

type batchDispatcher interface {
	DispatchBatch(ctx context.Context) error
}

type settingsSource interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
}

// ServiceParams configure the scheduler service.
type ServiceParams struct {
	Logger     *logger.Logger
	Lock       Lock
	Dispatcher batchDispatcher
	Settings   settingsSource
	Metrics    *metrics.SchedulerJobMetrics
}

// Service fires one batch dispatch per day at the configured time. The
// schedule is re-read before every fire so admin edits apply without a
// restart.
type Service struct {
	logg       *logger.Logger
	lock       Lock
	dispatcher batchDispatcher
	source     settingsSource
	metrics    *metrics.SchedulerJobMetrics

	now func() time.Time
}

// NewService builds a scheduler service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	if params.Settings == nil {
		return nil, fmt.Errorf("settings source required")
	}
	return &Service{
		logg:       params.Logger,
		lock:       params.Lock,
		dispatcher: params.Dispatcher,
		source:     params.Settings,
		metrics:    params.Metrics,
		now:        time.Now,
	}, nil
}

// Run blocks until the context is canceled, sleeping between fire times.
func (s *Service) Run(ctx context.Context) error {
	ctx = s.logg.WithJob(ctx, jobName)
	for {
		snap, err := s.source.Snapshot(ctx)
		if err != nil {
			s.logg.Error(ctx, "read schedule settings", err)
			snap = settings.Snapshot{ScheduleHour: 2}
		}

		next := nextRun(s.now(), snap.ScheduleHour, snap.ScheduleMinute)
		s.logg.Info(s.logg.WithField(ctx, "next_run", next.Format(time.RFC3339)), "scheduler sleeping until next fire")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logg.Info(ctx, "scheduler context canceled")
			return ctx.Err()
		case <-timer.C:
		}

		s.RunOnce(ctx)
	}
}

// RunOnce executes one scheduled cycle: re-read settings, take the lock,
// dispatch the batch.
func (s *Service) RunOnce(ctx context.Context) {
	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		s.logg.Error(ctx, "read settings before fire", err)
		s.recordFailure()
		return
	}
	if !snap.ScheduledEnabled {
		s.logg.Info(ctx, "scheduled processing disabled; skipping run")
		return
	}

	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		s.logg.Error(ctx, "acquire scheduler lock", err)
		s.recordFailure()
		return
	}
	if !locked {
		s.logg.Info(ctx, "another scheduler instance fired; skipping run")
		return
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "release scheduler lock", relErr)
		}
	}()

	start := s.now()
	err = s.dispatcher.DispatchBatch(ctx)
	duration := s.now().Sub(start)
	s.observeDuration(duration)

	if err != nil {
		s.logg.Error(ctx, "scheduled batch dispatch failed", err)
		s.recordFailure()
		return
	}
	s.logg.Info(s.logg.WithField(ctx, "duration_ms", duration.Milliseconds()), "scheduled batch dispatched")
	s.recordSuccess()
}

// nextRun returns the next occurrence of hour:minute strictly after now.
func nextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Service) observeDuration(duration time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveDuration(jobName, duration)
}

func (s *Service) recordSuccess() {
	if s.metrics == nil {
		return
	}
	s.metrics.IncSuccess(jobName)
}

func (s *Service) recordFailure() {
	if s.metrics == nil {
		return
	}
	s.metrics.IncFailure(jobName)
}
