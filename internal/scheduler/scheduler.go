// Package scheduler fires the periodic price sweep and the weekly retrain
// sweep on wall-clock slots.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-tracker/internal/clock/system"
	"github.com/JakeFAU/realtime-price-tracker/internal/lock"
	"github.com/JakeFAU/realtime-price-tracker/internal/telemetry"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// Job names.
const (
	JobSweep   = "price_sweep"
	JobRetrain = "retrain_sweep"
)

// Target receives the scheduled work.
type Target interface {
	EnqueueSweep(ctx context.Context) (int, error)
	RetrainSweep(ctx context.Context) (int, error)
}

// Config sets the slot grid of both jobs. Slots are multiples of the interval
// counted from the Unix epoch and shifted by the offset; the epoch fell on a
// Thursday, so a 168h interval with a 75h offset fires Sundays at 03:00 UTC.
type Config struct {
	SweepInterval   time.Duration
	SweepOffset     time.Duration
	RetrainInterval time.Duration
	RetrainOffset   time.Duration
	RunOnStart      bool
}

// DefaultConfig returns the production schedule.
func DefaultConfig() Config {
	return Config{
		SweepInterval:   6 * time.Hour,
		RetrainInterval: 7 * 24 * time.Hour,
		RetrainOffset:   75 * time.Hour,
	}
}

type job struct {
	name     string
	interval time.Duration
	offset   time.Duration
	run      func(ctx context.Context) (int, error)
}

// Scheduler runs the jobs until its context ends.
type Scheduler struct {
	jobs       []job
	locker     lock.Locker
	clock      tracker.Clock
	logger     *zap.Logger
	runOnStart bool
}

// New builds a Scheduler. A nil locker lets every replica fire every slot.
func New(cfg Config, target Target, locker lock.Locker, clock tracker.Clock, logger *zap.Logger) (*Scheduler, error) {
	if target == nil {
		return nil, errors.New("scheduler requires a target")
	}
	if cfg.SweepInterval <= 0 || cfg.RetrainInterval <= 0 {
		return nil, fmt.Errorf("scheduler intervals must be positive (sweep=%s retrain=%s)", cfg.SweepInterval, cfg.RetrainInterval)
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		jobs: []job{
			{name: JobSweep, interval: cfg.SweepInterval, offset: cfg.SweepOffset, run: target.EnqueueSweep},
			{name: JobRetrain, interval: cfg.RetrainInterval, offset: cfg.RetrainOffset, run: target.RetrainSweep},
		},
		locker:     locker,
		clock:      clock,
		logger:     logger,
		runOnStart: cfg.RunOnStart,
	}, nil
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	if s.runOnStart && j.name == JobSweep {
		s.fire(ctx, j, s.clock.Now())
	}
	for {
		now := s.clock.Now()
		next := NextSlot(now, j.interval, j.offset)
		s.logger.Debug("next scheduled run", zap.String("job", j.name), zap.Time("at", next))
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.fire(ctx, j, next)
	}
}

// fire runs the job for one slot unless another replica already claimed it.
func (s *Scheduler) fire(ctx context.Context, j job, slot time.Time) {
	logger := s.logger.With(zap.String("job", j.name), zap.Time("slot", slot))
	if s.locker != nil {
		key := fmt.Sprintf("%s:%d", j.name, slot.Unix())
		ok, err := s.locker.TryLock(ctx, key, j.interval/2)
		if err != nil {
			logger.Warn("slot lock unavailable; skipping run", zap.Error(err))
			telemetry.ObserveSchedulerRun(j.name, "lock_error")
			return
		}
		if !ok {
			logger.Debug("slot already claimed by another replica")
			telemetry.ObserveSchedulerRun(j.name, "skipped")
			return
		}
	}
	n, err := j.run(ctx)
	if err != nil {
		logger.Error("scheduled run failed", zap.Int("queued", n), zap.Error(err))
		telemetry.ObserveSchedulerRun(j.name, "error")
		return
	}
	logger.Info("scheduled run finished", zap.Int("queued", n))
	telemetry.ObserveSchedulerRun(j.name, "success")
}

// NextSlot returns the first slot strictly after now.
func NextSlot(now time.Time, interval, offset time.Duration) time.Time {
	since := now.Sub(time.Unix(0, 0)) - offset
	k := since / interval
	if since < 0 && since%interval != 0 {
		k--
	}
	return time.Unix(0, 0).Add(offset + (k+1)*interval).In(now.Location())
}
