package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/internal/repository"
	"go.uber.org/zap"
)

// ErrPermanent marks a failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent task failure")

type Processor func(ctx context.Context, task models.Task) error

type Config struct {
	BatchSize   int
	MaxAttempts int
	Lease       time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Now         func() time.Time
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.Lease <= 0 {
		c.Lease = 2 * time.Minute
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 30 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 6 * time.Hour
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Worker drains the outbox. Delivery is at least once: a task whose lease
// runs out before it is completed is claimed again.
type Worker struct {
	store      repository.Store
	cfg        Config
	processors map[models.TaskKind]Processor
	logger     *zap.Logger
}

func NewWorker(store repository.Store, cfg Config, logger *zap.Logger) *Worker {
	return &Worker{
		store:      store,
		cfg:        cfg.withDefaults(),
		processors: make(map[models.TaskKind]Processor),
		logger:     logger.Named("tasks"),
	}
}

func (w *Worker) Register(kind models.TaskKind, p Processor) {
	w.processors[kind] = p
}

// RunOnce claims one batch and processes it. It returns how many tasks
// completed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	now := w.cfg.Now().UTC()
	claimed, err := w.store.ClaimTasks(ctx, now, w.cfg.BatchSize, w.cfg.Lease)
	if err != nil {
		return 0, fmt.Errorf("claim tasks: %w", err)
	}

	done := 0
	for _, task := range claimed {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if w.process(ctx, task) {
			done++
		}
	}
	return done, nil
}

func (w *Worker) process(ctx context.Context, task models.Task) bool {
	log := w.logger.With(
		zap.String("task_id", task.ID),
		zap.String("kind", string(task.Kind)),
		zap.Int("attempt", task.Attempts))

	p, ok := w.processors[task.Kind]
	if !ok {
		w.fail(ctx, log, task, fmt.Errorf("%w: no processor for %s", ErrPermanent, task.Kind))
		return false
	}

	if err := p(ctx, task); err != nil {
		w.fail(ctx, log, task, err)
		return false
	}

	if err := w.store.CompleteTask(ctx, task.ID, w.cfg.Now().UTC()); err != nil {
		log.Error("complete task", zap.Error(err))
		return false
	}
	log.Debug("task done")
	return true
}

func (w *Worker) fail(ctx context.Context, log *zap.Logger, task models.Task, cause error) {
	dead := errors.Is(cause, ErrPermanent) || task.Attempts >= w.cfg.MaxAttempts
	runAt := w.cfg.Now().UTC().Add(Backoff(task.Attempts, w.cfg.BaseBackoff, w.cfg.MaxBackoff))

	if err := w.store.RetryTask(ctx, task.ID, cause.Error(), runAt, dead); err != nil {
		log.Error("reschedule task", zap.Error(err))
		return
	}
	if dead {
		log.Error("task dead", zap.Error(cause))
		return
	}
	log.Warn("task failed, will retry", zap.Time("run_at", runAt), zap.Error(cause))
}

// Backoff doubles base for every attempt after the first, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
