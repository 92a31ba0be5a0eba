// Package scheduler runs background maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"sokoni/internal/middleware"
	"sokoni/internal/service"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = 2 * time.Minute

// Sweeper deactivates expired stories.
type Sweeper interface {
	SweepExpired(ctx context.Context, trigger string) (int64, error)
}

// Scheduler owns the cron runner for the story sweep.
type Scheduler struct {
	ctx     context.Context
	cron    *cron.Cron
	spec    string
	sweeper Sweeper
	log     *slog.Logger
}

// New returns a Scheduler that sweeps on spec, a standard five-field cron
// expression or a descriptor such as "@every 5m". Jobs run in UTC.
func New(ctx context.Context, spec string, sweeper Sweeper) *Scheduler {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{
		ctx:     ctx,
		cron:    c,
		spec:    spec,
		sweeper: sweeper,
		log:     middleware.Logger,
	}
}

// Start registers the sweep job and starts the runner.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("story sweep scheduled", slog.String("schedule", s.spec))
	return nil
}

// Stop halts the runner and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, sweepTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "scheduler context is done", slog.Any("error", ctx.Err()))
		return
	default:
	}

	if _, err := s.sweeper.SweepExpired(ctx, service.SweepTriggerCron); err != nil {
		s.log.ErrorContext(ctx, "scheduled story sweep failed", slog.String("error", err.Error()))
	}
}
