package scheduler

import (
	"context"
	"fmt"
	"time"

	"write-paid/internal/metrics"
	"write-paid/internal/store"

	"go.uber.org/zap"
)

// LedgerStatsInterval период обновления статистики баллов
const LedgerStatsInterval = 5 * time.Minute

// LedgerStatsJob обновляет метрики невыплаченных баллов и числа пользователей
type LedgerStatsJob struct {
	users   store.UserRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewLedgerStatsJob создает задачу обновления статистики
func NewLedgerStatsJob(users store.UserRepository, m *metrics.Metrics, logger *zap.Logger) *LedgerStatsJob {
	return &LedgerStatsJob{
		users:   users,
		metrics: m,
		logger:  logger,
	}
}

// Run пересчитывает статистику
func (j *LedgerStatsJob) Run(ctx context.Context) error {
	outstanding, err := j.users.SumRewardPoints(ctx)
	if err != nil {
		return fmt.Errorf("ошибка подсчета баллов: %w", err)
	}

	total, err := j.users.Count(ctx)
	if err != nil {
		return fmt.Errorf("ошибка подсчета пользователей: %w", err)
	}

	j.metrics.SetGauge("outstanding_reward_points", float64(outstanding))
	j.metrics.SetGauge("users_total", float64(total))

	j.logger.Debug("статистика баллов обновлена",
		zap.Int("outstanding_points", outstanding),
		zap.Int("users", total))
	return nil
}
