package adsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/robfig/cron"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/model"
	"github.com/sells-group/funnel-sync/internal/monitoring"
)

// Runner runs one sync cycle. *Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, trigger model.Trigger) (*CycleResult, error)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithAlerter posts webhook alerts for failed scheduled cycles.
func WithAlerter(a *monitoring.Alerter) SchedulerOption {
	return func(s *Scheduler) {
		s.alerter = a
	}
}

// WithRunOnStart triggers one cycle as soon as the scheduler starts.
func WithRunOnStart(on bool) SchedulerOption {
	return func(s *Scheduler) {
		s.runOnStart = on
	}
}

// Scheduler triggers a sync cycle once a day at a fixed wall-clock time in an
// explicit timezone.
type Scheduler struct {
	runner     Runner
	alerter    *monitoring.Alerter
	spec       string
	schedule   cron.Schedule
	loc        *time.Location
	runOnStart bool
	log        *zap.Logger
}

// NewScheduler creates a daily scheduler firing at hour:minute in loc.
func NewScheduler(runner Runner, hour, minute int, loc *time.Location, opts ...SchedulerOption) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	spec := fmt.Sprintf("0 %d %d * * *", minute, hour)
	sched, err := cron.Parse(spec)
	if err != nil {
		return nil, eris.Wrapf(err, "adsync: parse schedule %q", spec)
	}

	s := &Scheduler{
		runner:   runner,
		spec:     spec,
		schedule: sched,
		loc:      loc,
		log: zap.L().With(
			zap.String("component", "adsync.scheduler"),
			zap.String("spec", spec),
			zap.String("timezone", loc.String()),
		),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Spec returns the cron expression (with seconds) of the daily trigger.
func (s *Scheduler) Spec() string { return s.spec }

// Location returns the scheduler timezone.
func (s *Scheduler) Location() *time.Location { return s.loc }

// NextRun returns the first trigger time after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	return s.schedule.Next(now.In(s.loc))
}

// Run starts the cron loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.NewWithLocation(s.loc)
	if err := c.AddFunc(s.spec, func() { s.Trigger(ctx) }); err != nil {
		return eris.Wrap(err, "adsync: add schedule")
	}
	c.Start()
	defer c.Stop()

	s.log.Info("scheduler started", zap.Time("next_run", s.NextRun(time.Now())))

	if s.runOnStart {
		go s.Trigger(ctx)
	}

	<-ctx.Done()
	s.log.Info("scheduler stopping")
	return nil
}

// Trigger runs one scheduled cycle. An overlapping cycle is skipped. Failures
// are logged and, when an alerter is configured, posted as alerts.
func (s *Scheduler) Trigger(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	res, err := s.runner.Run(ctx, model.TriggerSchedule)
	if errors.Is(err, ErrCycleInProgress) {
		s.log.Info("skipping scheduled cycle, another cycle is running")
		return
	}
	if err != nil {
		s.log.Error("scheduled cycle failed", zap.Error(err))
	}

	if s.alerter == nil || res == nil {
		return
	}
	if alerts := s.alerter.Evaluate(res.Run); len(alerts) > 0 {
		s.alerter.SendAlerts(ctx, alerts)
	}
}
