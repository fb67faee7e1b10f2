package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Scheduler управляет запуском периодических задач
type Scheduler struct {
	cron   gocron.Scheduler
	logger *zap.Logger
	jobs   int
}

// Job интерфейс для периодических задач
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc позволяет использовать функцию как Job
type JobFunc func(ctx context.Context) error

// Run вызывает f
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// NewScheduler создает новый планировщик задач
func NewScheduler(logger *zap.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания планировщика: %w", err)
	}
	return &Scheduler{
		cron:   cron,
		logger: logger,
	}, nil
}

// AddJob добавляет задачу с интервалом запуска. Первый запуск происходит сразу после Start,
// пересекающиеся запуски одной задачи пропускаются.
func (s *Scheduler) AddJob(ctx context.Context, name string, interval time.Duration, job Job) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.run(ctx, name, job) }),
		gocron.WithName(name),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("ошибка добавления задачи %s: %w", name, err)
	}
	s.jobs++
	return nil
}

// Start запускает планировщик
func (s *Scheduler) Start() {
	s.logger.Info("запуск планировщика задач", zap.Int("jobs_count", s.jobs))
	s.cron.Start()
}

// Shutdown останавливает планировщик и дожидается выполняющихся задач
func (s *Scheduler) Shutdown() error {
	s.logger.Info("остановка планировщика задач")
	return s.cron.Shutdown()
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	s.logger.Debug("запуск задачи", zap.String("job", name))

	if err := job.Run(ctx); err != nil {
		s.logger.Error("ошибка выполнения задачи",
			zap.String("job", name),
			zap.Error(err))
		return
	}

	s.logger.Debug("задача выполнена",
		zap.String("job", name),
		zap.Duration("duration", time.Since(start)))
}
