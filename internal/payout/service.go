// Package payout выплаты накопленных баллов и списки для администратора
package payout

import (
	"context"
	"errors"
	"fmt"

	"write-paid/internal/ledger"
	"write-paid/internal/metrics"
	"write-paid/internal/notify"
	"write-paid/internal/store"
	"write-paid/pkg/models"

	"go.uber.org/zap"
)

const defaultListLimit = 100

// Service сервис выплат
type Service struct {
	store   store.Store
	ledger  *ledger.Ledger
	alerts  notify.Notifier
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService создает сервис выплат
func NewService(st store.Store, ldg *ledger.Ledger, alerts notify.Notifier, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		store:   st,
		ledger:  ldg,
		alerts:  alerts,
		metrics: m,
		logger:  logger,
	}
}

// Payout выплачивает пользователю весь баланс. amount должен совпадать с текущим балансом.
func (s *Service) Payout(ctx context.Context, uid string, amount int) (*models.Payout, error) {
	var payout *models.Payout
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Repositories) error {
		var err error
		payout, err = s.ledger.CashOut(ctx, tx, uid, amount)
		return err
	})
	if err != nil {
		s.metrics.RecordPayout(rejectReason(err), 0)
		s.logger.Warn("выплата отклонена",
			zap.String("user_id", uid),
			zap.Int("amount", amount),
			zap.Error(err))
		return nil, fmt.Errorf("ошибка выплаты: %w", err)
	}

	s.metrics.RecordPayout(string(payout.Status), payout.Amount)
	s.logger.Info("выплата выполнена",
		zap.String("user_id", uid),
		zap.String("payout_id", payout.ID),
		zap.Int("amount", payout.Amount))
	s.alerts.Alert(ctx, "Payout completed", fmt.Sprintf("user=%s amount=%d payout=%s", uid, payout.Amount, payout.ID))

	return payout, nil
}

// PayoutAll выплачивает весь текущий баланс пользователя
func (s *Service) PayoutAll(ctx context.Context, uid string) (*models.Payout, error) {
	user, err := s.store.User().Get(ctx, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ledger.ErrUserNotFound, uid)
		}
		return nil, fmt.Errorf("ошибка чтения баланса: %w", err)
	}
	return s.Payout(ctx, uid, user.RewardPoints)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrPartialPayout):
		return "partial"
	case errors.Is(err, ledger.ErrUserNotFound):
		return "user_not_found"
	default:
		return "failed"
	}
}

// PendingRewards возвращает пользователей с ненулевым балансом, начиная с наибольшего
func (s *Service) PendingRewards(ctx context.Context, limit int) ([]*models.UserProfile, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	users, err := s.store.User().ListWithRewards(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения балансов: %w", err)
	}
	return users, nil
}

// History возвращает последние выплаты
func (s *Service) History(ctx context.Context, limit int) ([]*models.Payout, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	payouts, err := s.store.Payout().List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения выплат: %w", err)
	}
	return payouts, nil
}

// UserPayouts возвращает выплаты пользователя
func (s *Service) UserPayouts(ctx context.Context, uid string) ([]*models.Payout, error) {
	payouts, err := s.store.Payout().ListByUser(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения выплат пользователя: %w", err)
	}
	return payouts, nil
}
