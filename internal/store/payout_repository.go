package store

import (
	"context"
	"fmt"
	"time"

	"write-paid/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PayoutRepository интерфейс для работы с выплатами
type PayoutRepository interface {
	Create(ctx context.Context, payout *models.Payout) error
	List(ctx context.Context, limit int) ([]*models.Payout, error)
	ListByUser(ctx context.Context, uid string) ([]*models.Payout, error)
}

// PostgresPayoutRepository реализует PayoutRepository для PostgreSQL
type PostgresPayoutRepository struct {
	db     querier
	logger *zap.Logger
}

// NewPayoutRepository создает новый репозиторий выплат
func NewPayoutRepository(db querier, logger *zap.Logger) PayoutRepository {
	return &PostgresPayoutRepository{
		db:     db,
		logger: logger,
	}
}

// Create создает запись о выплате
func (r *PostgresPayoutRepository) Create(ctx context.Context, payout *models.Payout) error {
	if payout.ID == "" {
		payout.ID = uuid.NewString()
	}
	if payout.CreatedAt.IsZero() {
		payout.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO payouts (id, user_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		payout.ID, payout.UserID, payout.Amount, payout.Status, payout.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания выплаты: %w", mapError(err))
	}

	r.logger.Info("выплата создана в БД",
		zap.String("payout_id", payout.ID),
		zap.String("user_id", payout.UserID),
		zap.Int("amount", payout.Amount))
	return nil
}

// List возвращает выплаты, новые первыми
func (r *PostgresPayoutRepository) List(ctx context.Context, limit int) ([]*models.Payout, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, amount, status, created_at
		FROM payouts
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения выплат: %w", err)
	}
	return collectPayouts(rows)
}

// ListByUser возвращает выплаты пользователя, новые первыми
func (r *PostgresPayoutRepository) ListByUser(ctx context.Context, uid string) ([]*models.Payout, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, amount, status, created_at
		FROM payouts
		WHERE user_id = $1
		ORDER BY created_at DESC`, uid)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения выплат пользователя: %w", err)
	}
	return collectPayouts(rows)
}

func collectPayouts(rows pgx.Rows) ([]*models.Payout, error) {
	defer rows.Close()

	var payouts []*models.Payout
	for rows.Next() {
		p := &models.Payout{}
		if err := rows.Scan(&p.ID, &p.UserID, &p.Amount, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования выплаты: %w", err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}
