// Package ledger изменяет счетчики приглашений и баланс баллов.
// Все операции выполняются внутри транзакции хранилища и перечитывают
// текущее состояние перед записью.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"write-paid/internal/referral"
	"write-paid/internal/store"
	"write-paid/pkg/models"

	"go.uber.org/zap"
)

// ReferralReward баллы за одного приглашенного пользователя
const ReferralReward = 100

var (
	// ErrInsufficientBalance сумма не положительна или больше текущего баланса
	ErrInsufficientBalance = errors.New("недостаточно баллов для выплаты")
	// ErrPartialPayout сумма меньше баланса, частичные выплаты не поддерживаются
	ErrPartialPayout = errors.New("частичная выплата не поддерживается")
	// ErrUserNotFound пользователь не найден
	ErrUserNotFound = errors.New("пользователь не найден")
)

// CreditResult результат начисления за приглашение
type CreditResult string

const (
	CreditApplied         CreditResult = "applied"
	CreditCodeNotFound    CreditResult = "code_not_found"
	CreditSelfReferral    CreditResult = "self_referral"
	CreditAlreadyCredited CreditResult = "already_credited"
)

// Ledger журнал начислений и списаний баллов
type Ledger struct {
	registry *referral.Registry
	logger   *zap.Logger
}

// New создает журнал
func New(registry *referral.Registry, logger *zap.Logger) *Ledger {
	return &Ledger{
		registry: registry,
		logger:   logger,
	}
}

// CreditReferral начисляет владельцу inboundCode одно приглашение и ReferralReward баллов
// за регистрацию refereeUID. Неизвестный код и приглашение самого себя ничего не меняют.
func (l *Ledger) CreditReferral(ctx context.Context, tx store.Repositories, inboundCode, refereeUID string, source models.ReferralSource) (CreditResult, error) {
	referrerUID, found, err := l.registry.Resolve(ctx, tx.ReferralCode(), inboundCode)
	if err != nil {
		return "", err
	}
	if !found {
		l.logger.Info("реферальный код не найден, начисление пропущено", zap.String("code", inboundCode))
		return CreditCodeNotFound, nil
	}
	if referrerUID == refereeUID {
		l.logger.Warn("попытка пригласить самого себя", zap.String("user_id", refereeUID))
		return CreditSelfReferral, nil
	}

	if _, err := tx.Referral().GetByReferee(ctx, refereeUID); err == nil {
		l.logger.Warn("приглашенный уже учтен, повторное начисление пропущено",
			zap.String("referee_id", refereeUID))
		return CreditAlreadyCredited, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("ошибка проверки реферала: %w", err)
	}

	referrer, err := tx.User().GetForUpdate(ctx, referrerUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Запись реестра без профиля: код считается недействительным.
			l.logger.Warn("владелец кода не найден", zap.String("referrer_id", referrerUID))
			return CreditCodeNotFound, nil
		}
		return "", fmt.Errorf("ошибка чтения пригласившего: %w", err)
	}

	if err := tx.User().UpdateRewards(ctx, referrerUID, referrer.ReferralCount+1, referrer.RewardPoints+ReferralReward); err != nil {
		return "", fmt.Errorf("ошибка начисления баллов: %w", err)
	}

	record := &models.Referral{
		ReferrerUID: referrerUID,
		RefereeUID:  refereeUID,
		Source:      source,
	}
	if err := tx.Referral().Create(ctx, record); err != nil {
		return "", fmt.Errorf("ошибка записи реферала: %w", err)
	}

	l.logger.Info("начислены баллы за приглашение",
		zap.String("referrer_id", referrerUID),
		zap.String("referee_id", refereeUID),
		zap.Int("points", ReferralReward))
	return CreditApplied, nil
}

// CashOut списывает весь баланс пользователя и создает выплату со статусом completed.
// Сумма должна совпадать с балансом на момент транзакции.
func (l *Ledger) CashOut(ctx context.Context, tx store.Repositories, uid string, amount int) (*models.Payout, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: сумма %d", ErrInsufficientBalance, amount)
	}

	user, err := tx.User().GetForUpdate(ctx, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, uid)
		}
		return nil, fmt.Errorf("ошибка чтения баланса: %w", err)
	}

	switch {
	case amount > user.RewardPoints:
		return nil, fmt.Errorf("%w: запрошено %d, доступно %d", ErrInsufficientBalance, amount, user.RewardPoints)
	case amount < user.RewardPoints:
		return nil, fmt.Errorf("%w: запрошено %d, баланс %d", ErrPartialPayout, amount, user.RewardPoints)
	}

	payout := &models.Payout{
		UserID: uid,
		Amount: amount,
		Status: models.PayoutStatusCompleted,
	}
	if err := tx.Payout().Create(ctx, payout); err != nil {
		return nil, fmt.Errorf("ошибка создания выплаты: %w", err)
	}

	if err := tx.User().UpdateRewards(ctx, uid, user.ReferralCount, 0); err != nil {
		return nil, fmt.Errorf("ошибка обнуления баланса: %w", err)
	}

	return payout, nil
}
