package store

import (
	"context"
	"fmt"
	"time"

	"write-paid/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LeadRepository интерфейс для работы с лидами
type LeadRepository interface {
	Create(ctx context.Context, lead *models.Lead) error
	List(ctx context.Context, limit int) ([]*models.Lead, error)
	Count(ctx context.Context) (int, error)
}

// AdminGrantRepository интерфейс для ожидающих выдачи ролей администратора
type AdminGrantRepository interface {
	Put(ctx context.Context, grant *models.AdminGrant) error
	// Take удаляет выданную роль и сообщает, существовала ли она
	Take(ctx context.Context, email string) (bool, error)
}

// PostgresLeadRepository реализует LeadRepository для PostgreSQL
type PostgresLeadRepository struct {
	db     querier
	logger *zap.Logger
}

// NewLeadRepository создает новый репозиторий лидов
func NewLeadRepository(db querier, logger *zap.Logger) LeadRepository {
	return &PostgresLeadRepository{db: db, logger: logger}
}

// Create сохраняет лид
func (r *PostgresLeadRepository) Create(ctx context.Context, lead *models.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	lead.CreatedAt = time.Now().UTC()

	_, err := r.db.Exec(ctx, `
		INSERT INTO leads (id, first_name, email, phone, ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		lead.ID, lead.FirstName, lead.Email, lead.Phone, lead.Ref, lead.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения лида: %w", mapError(err))
	}
	return nil
}

// List возвращает последние лиды
func (r *PostgresLeadRepository) List(ctx context.Context, limit int) ([]*models.Lead, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, first_name, email, phone, ref, created_at
		FROM leads
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения лидов: %w", err)
	}
	defer rows.Close()

	var leads []*models.Lead
	for rows.Next() {
		l := &models.Lead{}
		if err := rows.Scan(&l.ID, &l.FirstName, &l.Email, &l.Phone, &l.Ref, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования лида: %w", err)
		}
		l.CreatedAt = l.CreatedAt.UTC()
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// Count возвращает количество лидов
func (r *PostgresLeadRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM leads`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета лидов: %w", err)
	}
	return count, nil
}

// PostgresAdminGrantRepository реализует AdminGrantRepository для PostgreSQL
type PostgresAdminGrantRepository struct {
	db     querier
	logger *zap.Logger
}

// NewAdminGrantRepository создает новый репозиторий выданных ролей
func NewAdminGrantRepository(db querier, logger *zap.Logger) AdminGrantRepository {
	return &PostgresAdminGrantRepository{db: db, logger: logger}
}

// Put сохраняет выданную роль для email
func (r *PostgresAdminGrantRepository) Put(ctx context.Context, grant *models.AdminGrant) error {
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO admin_grants (email, granted_by, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET granted_by = EXCLUDED.granted_by, created_at = EXCLUDED.created_at`,
		grant.Email, grant.GrantedBy, grant.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения роли администратора: %w", err)
	}
	return nil
}

// Take удаляет выданную роль для email
func (r *PostgresAdminGrantRepository) Take(ctx context.Context, email string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM admin_grants WHERE email = $1`, email)
	if err != nil {
		return false, fmt.Errorf("ошибка получения роли администратора: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
