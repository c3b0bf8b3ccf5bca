package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type TaskRunner interface {
	RunOnce(ctx context.Context) (int, error)
}

type UsageSweeper interface {
	SweepStale(ctx context.Context, timeout time.Duration) (int, error)
}

type RateLimitCollector interface {
	GC(ctx context.Context) (int64, error)
}

type Config struct {
	TaskPollSpec string
	SweepSpec    string
	GCSpec       string
	UsageTimeout time.Duration
}

// Scheduler runs the periodic background jobs. Runs of the same job never
// overlap.
type Scheduler struct {
	cron    *cron.Cron
	cfg     Config
	tasks   TaskRunner
	sweeper UsageSweeper
	gc      RateLimitCollector
	logger  *zap.Logger
}

// NewScheduler builds the scheduler. gc may be nil when counters live in process.
func NewScheduler(cfg Config, tasks TaskRunner, sweeper UsageSweeper, gc RateLimitCollector, logger *zap.Logger) *Scheduler {
	if cfg.GCSpec == "" {
		cfg.GCSpec = "@hourly"
	}
	logger = logger.Named("cron")
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(
			cron.Recover(cronLogger{logger}),
			cron.SkipIfStillRunning(cronLogger{logger}),
		),
	)
	return &Scheduler{
		cron:    c,
		cfg:     cfg,
		tasks:   tasks,
		sweeper: sweeper,
		gc:      gc,
		logger:  logger,
	}
}

// Start registers the jobs and starts the cron loop. ctx is handed to every run.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.TaskPollSpec, func() { s.runTasks(ctx) }); err != nil {
		return fmt.Errorf("schedule task poll %q: %w", s.cfg.TaskPollSpec, err)
	}
	if _, err := s.cron.AddFunc(s.cfg.SweepSpec, func() { s.sweepUsage(ctx) }); err != nil {
		return fmt.Errorf("schedule usage sweep %q: %w", s.cfg.SweepSpec, err)
	}
	if s.gc != nil {
		if _, err := s.cron.AddFunc(s.cfg.GCSpec, func() { s.collectRateLimits(ctx) }); err != nil {
			return fmt.Errorf("schedule rate limit gc %q: %w", s.cfg.GCSpec, err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.String("task_poll", s.cfg.TaskPollSpec),
		zap.String("sweep", s.cfg.SweepSpec))
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runTasks(ctx context.Context) {
	n, err := s.tasks.RunOnce(ctx)
	if err != nil {
		s.logger.Error("task poll failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Debug("tasks processed", zap.Int("count", n))
	}
}

func (s *Scheduler) sweepUsage(ctx context.Context) {
	n, err := s.sweeper.SweepStale(ctx, s.cfg.UsageTimeout)
	if err != nil {
		s.logger.Error("usage sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("stale usage refunded", zap.Int("count", n))
	}
}

func (s *Scheduler) collectRateLimits(ctx context.Context) {
	n, err := s.gc.GC(ctx)
	if err != nil {
		s.logger.Error("rate limit gc failed", zap.Error(err))
		return
	}
	s.logger.Debug("rate limit entries purged", zap.Int64("count", n))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
