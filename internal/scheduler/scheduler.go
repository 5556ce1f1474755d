// Package scheduler drives the sync engine from a persisted periodic alarm
// and from explicit refresh requests.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/supersky/supersky/internal/service"
	"github.com/supersky/supersky/internal/state"
	"github.com/supersky/supersky/pkg/logger"
)

// AlarmName is the registration key of the sync alarm.
const AlarmName = "unread-sync"

// Syncer runs one sync cycle.
type Syncer interface {
	Sync(ctx context.Context, force bool) service.Outcome
}

// Scheduler owns the sync alarm.
type Scheduler struct {
	syncer  Syncer
	repo    *state.Repository
	period  time.Duration
	log     *logger.Logger
	now     func() time.Time
	trigger chan struct{}
}

// New creates a scheduler firing every period.
func New(syncer Syncer, repo *state.Repository, period time.Duration, log *logger.Logger) *Scheduler {
	if period <= 0 {
		period = 15 * time.Second
	}
	return &Scheduler{
		syncer:  syncer,
		repo:    repo,
		period:  period,
		log:     log.Named("scheduler"),
		now:     time.Now,
		trigger: make(chan struct{}, 1),
	}
}

// EnsureAlarm re-registers the alarm when it is missing or its period
// changed. It returns the active registration.
func (s *Scheduler) EnsureAlarm(ctx context.Context) (state.Alarm, error) {
	alarm, ok, err := s.repo.Alarm(ctx, AlarmName)
	if err != nil {
		return state.Alarm{}, err
	}
	if ok && alarm.Period == s.period {
		return alarm, nil
	}
	if !ok {
		s.log.Info("alarm missing, registering", zap.Duration("period", s.period))
	}
	alarm = state.Alarm{Name: AlarmName, Period: s.period, NextFire: s.now().Add(s.period)}
	if err := s.repo.SetAlarm(ctx, alarm); err != nil {
		return state.Alarm{}, err
	}
	return alarm, nil
}

// Run syncs once at start, then on every alarm fire and every TriggerNow,
// until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	alarm, err := s.EnsureAlarm(ctx)
	if err != nil {
		return err
	}
	s.log.Info("scheduler started", zap.Duration("period", s.period), zap.Time("next_fire", alarm.NextFire))

	s.run(ctx, false)

	timer := time.NewTimer(s.delay(alarm))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-s.trigger:
			s.run(ctx, true)
		case <-timer.C:
			alarm, err = s.fire(ctx)
			if err != nil {
				s.log.Error("alarm bookkeeping failed", zap.Error(err))
				alarm = state.Alarm{NextFire: s.now().Add(s.period)}
			}
			timer.Reset(s.delay(alarm))
		}
	}
}

// fire handles one alarm wake: it verifies the registration, syncs, and
// schedules the next fire.
func (s *Scheduler) fire(ctx context.Context) (state.Alarm, error) {
	alarm, err := s.EnsureAlarm(ctx)
	if err != nil {
		return state.Alarm{}, err
	}
	s.run(ctx, false)

	alarm.NextFire = s.now().Add(s.period)
	if err := s.repo.SetAlarm(ctx, alarm); err != nil {
		return state.Alarm{}, err
	}
	return alarm, nil
}

func (s *Scheduler) delay(alarm state.Alarm) time.Duration {
	d := alarm.NextFire.Sub(s.now())
	if d < 0 {
		// Fires missed while suspended collapse into one.
		return 0
	}
	if d > s.period {
		return s.period
	}
	return d
}

// TriggerNow requests an immediate forced sync without waiting for it.
// Requests made while one is pending coalesce.
func (s *Scheduler) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// CheckNow runs a forced sync and waits for its outcome.
func (s *Scheduler) CheckNow(ctx context.Context) service.Outcome {
	return s.syncer.Sync(ctx, true)
}

func (s *Scheduler) run(ctx context.Context, force bool) {
	out := s.syncer.Sync(ctx, force)
	if out.Err != nil && out.Status == service.StatusFailed {
		s.log.Debug("sync cycle failed", zap.Bool("forced", force), zap.Error(out.Err))
	}
}
