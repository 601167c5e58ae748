// Package scheduler runs the periodic pollers on robfig/cron.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one unit of periodic work. It receives a context bounded by the
// job timeout and cancelled when the scheduler is forced down.
type Job func(ctx context.Context)

// Scheduler wraps a cron engine. Runs of the same job never overlap: a tick
// that arrives while the previous run is busy is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	base   context.Context
	cancel context.CancelFunc
}

func New(logger *zap.Logger) *Scheduler {
	cl := cronLogger{logger.Sugar()}
	base, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		base:   base,
		cancel: cancel,
	}
}

// Add registers job under a cron schedule such as "@every 30s". timeout <= 0
// means the run is bounded only by shutdown.
func (s *Scheduler) Add(schedule, name string, timeout time.Duration, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := s.jobContext(timeout)
		defer cancel()

		start := time.Now()
		job(ctx)
		s.logger.Debug("job finished",
			zap.String("job", name),
			zap.Duration("took", time.Since(start)),
		)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, schedule, err)
	}

	s.logger.Info("job scheduled", zap.String("job", name), zap.String("schedule", schedule))
	return nil
}

func (s *Scheduler) jobContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(s.base)
	}
	return context.WithTimeout(s.base, timeout)
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop stops new runs and waits for running jobs. If ctx ends first the
// running jobs are cancelled and ctx's error is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("stopping scheduler")
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done.Done()
		return ctx.Err()
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
