package store

import (
	"context"
	"fmt"
	"time"

	"write-paid/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReferralCodeRepository определяет интерфейс реестра реферальных кодов
type ReferralCodeRepository interface {
	Create(ctx context.Context, code *models.ReferralCode) error
	Get(ctx context.Context, code string) (*models.ReferralCode, error)
	Exists(ctx context.Context, code string) (bool, error)
}

// ReferralRepository определяет интерфейс для журнала рефералов
type ReferralRepository interface {
	Create(ctx context.Context, referral *models.Referral) error
	GetByReferee(ctx context.Context, refereeUID string) (*models.Referral, error)
	ListByReferrer(ctx context.Context, referrerUID string, limit int) ([]*models.Referral, error)
}

// PostgresReferralCodeRepository реализует ReferralCodeRepository для PostgreSQL
type PostgresReferralCodeRepository struct {
	db     querier
	logger *zap.Logger
}

// NewReferralCodeRepository создает новый репозиторий реестра кодов
func NewReferralCodeRepository(db querier, logger *zap.Logger) ReferralCodeRepository {
	return &PostgresReferralCodeRepository{
		db:     db,
		logger: logger,
	}
}

// Create записывает код в реестр
func (r *PostgresReferralCodeRepository) Create(ctx context.Context, code *models.ReferralCode) error {
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO referral_codes (code, uid, created_at) VALUES ($1, $2, $3)`,
		code.Code, code.UID, code.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи реферального кода: %w", mapError(err))
	}
	return nil
}

// Get получает запись реестра по коду
func (r *PostgresReferralCodeRepository) Get(ctx context.Context, code string) (*models.ReferralCode, error) {
	rc := &models.ReferralCode{}
	err := r.db.QueryRow(ctx,
		`SELECT code, uid, created_at FROM referral_codes WHERE code = $1`, code,
	).Scan(&rc.Code, &rc.UID, &rc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения реферального кода: %w", mapError(err))
	}
	rc.CreatedAt = rc.CreatedAt.UTC()
	return rc, nil
}

// Exists проверяет, занят ли код
func (r *PostgresReferralCodeRepository) Exists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM referral_codes WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки реферального кода: %w", err)
	}
	return exists, nil
}

// PostgresReferralRepository реализует ReferralRepository для PostgreSQL
type PostgresReferralRepository struct {
	db     querier
	logger *zap.Logger
}

// NewReferralRepository создает новый репозиторий рефералов
func NewReferralRepository(db querier, logger *zap.Logger) ReferralRepository {
	return &PostgresReferralRepository{
		db:     db,
		logger: logger,
	}
}

// Create добавляет запись о реферале. Один приглашенный имеет не более одной записи.
func (r *PostgresReferralRepository) Create(ctx context.Context, referral *models.Referral) error {
	if referral.ID == "" {
		referral.ID = uuid.NewString()
	}
	if referral.CreatedAt.IsZero() {
		referral.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO referrals (id, referrer_uid, referee_uid, source, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		referral.ID, referral.ReferrerUID, referral.RefereeUID, referral.Source, referral.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания реферала: %w", mapError(err))
	}
	return nil
}

// GetByReferee получает реферал по приглашенному пользователю
func (r *PostgresReferralRepository) GetByReferee(ctx context.Context, refereeUID string) (*models.Referral, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, referrer_uid, referee_uid, source, created_at
		FROM referrals
		WHERE referee_uid = $1`, refereeUID)

	referral, err := scanReferral(row)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения реферала: %w", mapError(err))
	}
	return referral, nil
}

// ListByReferrer получает последние рефералы пригласившего пользователя
func (r *PostgresReferralRepository) ListByReferrer(ctx context.Context, referrerUID string, limit int) ([]*models.Referral, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, referrer_uid, referee_uid, source, created_at
		FROM referrals
		WHERE referrer_uid = $1
		ORDER BY created_at DESC
		LIMIT $2`, referrerUID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения рефералов: %w", err)
	}
	defer rows.Close()

	var referrals []*models.Referral
	for rows.Next() {
		referral, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования реферала: %w", err)
		}
		referrals = append(referrals, referral)
	}
	return referrals, rows.Err()
}

func scanReferral(row scanner) (*models.Referral, error) {
	referral := &models.Referral{}
	if err := row.Scan(&referral.ID, &referral.ReferrerUID, &referral.RefereeUID, &referral.Source, &referral.CreatedAt); err != nil {
		return nil, err
	}
	referral.CreatedAt = referral.CreatedAt.UTC()
	return referral, nil
}
