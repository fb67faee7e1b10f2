package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"write-paid/internal/config"
	"write-paid/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// maxTxAttempts максимальное количество попыток транзакции при конфликте сериализации
const maxTxAttempts = 5

// Repositories набор репозиториев, работающих либо с пулом, либо внутри транзакции
type Repositories interface {
	User() UserRepository
	ReferralCode() ReferralCodeRepository
	Referral() ReferralRepository
	Payout() PayoutRepository
	Course() CourseRepository
	Enrollment() EnrollmentRepository
	Lead() LeadRepository
	AdminGrant() AdminGrantRepository
}

// TxFunc функция, выполняемая внутри транзакции
type TxFunc func(ctx context.Context, tx Repositories) error

// Store представляет интерфейс для работы с хранилищем документов
type Store interface {
	Repositories
	// RunInTx выполняет fn атомарно: фиксируются все записи или ни одной.
	// Чтения внутри fn видят актуальное состояние.
	RunInTx(ctx context.Context, fn TxFunc) error
	Ping(ctx context.Context) error
	Close() error
}

// UserRepository интерфейс для работы с профилями пользователей
type UserRepository interface {
	Create(ctx context.Context, user *models.UserProfile) error
	Get(ctx context.Context, uid string) (*models.UserProfile, error)
	// GetForUpdate читает профиль с блокировкой строки до конца транзакции
	GetForUpdate(ctx context.Context, uid string) (*models.UserProfile, error)
	GetByEmail(ctx context.Context, email string) (*models.UserProfile, error)
	UpdateRewards(ctx context.Context, uid string, referralCount, rewardPoints int) error
	SetAdmin(ctx context.Context, uid string, isAdmin bool) error
	ListWithRewards(ctx context.Context, limit int) ([]*models.UserProfile, error)
	ListRecent(ctx context.Context, limit int) ([]*models.UserProfile, error)
	Count(ctx context.Context) (int, error)
	CountByPackage(ctx context.Context) (map[models.PackageTier]int, error)
	DailySignups(ctx context.Context, since time.Time) ([]models.DailyCount, error)
	SumRewardPoints(ctx context.Context) (int, error)
}

// querier общий интерфейс пула и транзакции pgx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// scanner общий интерфейс pgx.Row и pgx.Rows
type scanner interface {
	Scan(dest ...any) error
}

// store реализует интерфейс Store
type store struct {
	*repositories
	db     *pgxpool.Pool
	logger *zap.Logger
}

// repositories реализует Repositories поверх querier
type repositories struct {
	user         UserRepository
	referralCode ReferralCodeRepository
	referral     ReferralRepository
	payout       PayoutRepository
	course       CourseRepository
	enrollment   EnrollmentRepository
	lead         LeadRepository
	adminGrant   AdminGrantRepository
}

func newRepositories(q querier, logger *zap.Logger) *repositories {
	return &repositories{
		user:         NewUserRepository(q, logger),
		referralCode: NewReferralCodeRepository(q, logger),
		referral:     NewReferralRepository(q, logger),
		payout:       NewPayoutRepository(q, logger),
		course:       NewCourseRepository(q, logger),
		enrollment:   NewEnrollmentRepository(q, logger),
		lead:         NewLeadRepository(q, logger),
		adminGrant:   NewAdminGrantRepository(q, logger),
	}
}

// NewStore создает новое подключение к базе данных
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка проверки подключения к базе данных: %w", err)
	}

	logger.Info("успешное подключение к базе данных PostgreSQL")

	return &store{
		repositories: newRepositories(db, logger),
		db:           db,
		logger:       logger,
	}, nil
}

func (r *repositories) User() UserRepository                 { return r.user }
func (r *repositories) ReferralCode() ReferralCodeRepository { return r.referralCode }
func (r *repositories) Referral() ReferralRepository         { return r.referral }
func (r *repositories) Payout() PayoutRepository             { return r.payout }
func (r *repositories) Course() CourseRepository             { return r.course }
func (r *repositories) Enrollment() EnrollmentRepository     { return r.enrollment }
func (r *repositories) Lead() LeadRepository                 { return r.lead }
func (r *repositories) AdminGrant() AdminGrantRepository     { return r.adminGrant }

// RunInTx выполняет fn в SERIALIZABLE транзакции. При конфликте сериализации
// или взаимной блокировке fn выполняется заново целиком.
func (s *store) RunInTx(ctx context.Context, fn TxFunc) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runOnce(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}

		s.logger.Warn("конфликт сериализации, повтор транзакции",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return fmt.Errorf("транзакция не выполнена после %d попыток: %w", maxTxAttempts, err)
}

func (s *store) runOnce(ctx context.Context, fn TxFunc) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("ошибка отката транзакции", zap.Error(rbErr))
		}
	}()

	if err := fn(ctx, newRepositories(tx, s.logger)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// Ping проверяет доступность базы данных
func (s *store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close закрывает подключение к базе данных
func (s *store) Close() error {
	s.logger.Info("закрытие подключения к базе данных")
	s.db.Close()
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// userRepository реализует UserRepository
type userRepository struct {
	db     querier
	logger *zap.Logger
}

// NewUserRepository создает новый репозиторий пользователей
func NewUserRepository(db querier, logger *zap.Logger) UserRepository {
	return &userRepository{
		db:     db,
		logger: logger,
	}
}

const userColumns = `uid, first_name, last_name, email, phone, username, country, state,
	referral_code, referred_by, referral_count, reward_points, is_admin, package, created_at, updated_at`

func scanUser(row scanner) (*models.UserProfile, error) {
	user := &models.UserProfile{}
	err := row.Scan(
		&user.UID, &user.FirstName, &user.LastName, &user.Email, &user.Phone, &user.Username, &user.Country, &user.State,
		&user.ReferralCode, &user.ReferredBy, &user.ReferralCount, &user.RewardPoints, &user.IsAdmin, &user.Package,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

func collectUsers(rows pgx.Rows) ([]*models.UserProfile, error) {
	defer rows.Close()

	var users []*models.UserProfile
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// Create создает профиль пользователя
func (r *userRepository) Create(ctx context.Context, user *models.UserProfile) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Package == "" {
		user.Package = models.PackageBronze
	}

	_, err := r.db.Exec(ctx, query,
		user.UID, user.FirstName, user.LastName, user.Email, user.Phone, user.Username, user.Country, user.State,
		user.ReferralCode, user.ReferredBy, user.ReferralCount, user.RewardPoints, user.IsAdmin, user.Package,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания профиля: %w", mapError(err))
	}

	r.logger.Info("профиль создан",
		zap.String("user_id", user.UID),
		zap.String("username", user.Username))
	return nil
}

// Get получает профиль по UID
func (r *userRepository) Get(ctx context.Context, uid string) (*models.UserProfile, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE uid = $1`, uid))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения профиля: %w", mapError(err))
	}
	return user, nil
}

// GetForUpdate получает профиль с блокировкой строки
func (r *userRepository) GetForUpdate(ctx context.Context, uid string) (*models.UserProfile, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE uid = $1 FOR UPDATE`, uid))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения профиля для обновления: %w", mapError(err))
	}
	return user, nil
}

// GetByEmail получает профиль по email
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения профиля по email: %w", mapError(err))
	}
	return user, nil
}

// UpdateRewards записывает счетчик приглашений и баланс баллов
func (r *userRepository) UpdateRewards(ctx context.Context, uid string, referralCount, rewardPoints int) error {
	query := `UPDATE users SET referral_count = $2, reward_points = $3, updated_at = $4 WHERE uid = $1`

	result, err := r.db.Exec(ctx, query, uid, referralCount, rewardPoints, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ошибка обновления баланса: %w", mapError(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("пользователь %s: %w", uid, ErrNotFound)
	}
	return nil
}

// SetAdmin устанавливает роль администратора
func (r *userRepository) SetAdmin(ctx context.Context, uid string, isAdmin bool) error {
	result, err := r.db.Exec(ctx, `UPDATE users SET is_admin = $2, updated_at = $3 WHERE uid = $1`, uid, isAdmin, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ошибка изменения роли: %w", mapError(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("пользователь %s: %w", uid, ErrNotFound)
	}

	r.logger.Info("роль администратора изменена", zap.String("user_id", uid), zap.Bool("is_admin", isAdmin))
	return nil
}

// ListWithRewards возвращает пользователей с ненулевым балансом, по убыванию баланса
func (r *userRepository) ListWithRewards(ctx context.Context, limit int) ([]*models.UserProfile, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE reward_points > 0
		ORDER BY reward_points DESC, uid
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пользователей с баллами: %w", err)
	}
	return collectUsers(rows)
}

// ListRecent возвращает последних зарегистрированных пользователей
func (r *userRepository) ListRecent(ctx context.Context, limit int) ([]*models.UserProfile, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, uid LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения последних пользователей: %w", err)
	}
	return collectUsers(rows)
}

// Count возвращает количество пользователей
func (r *userRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета пользователей: %w", err)
	}
	return count, nil
}

// CountByPackage возвращает количество пользователей по пакетам
func (r *userRepository) CountByPackage(ctx context.Context) (map[models.PackageTier]int, error) {
	rows, err := r.db.Query(ctx, `SELECT package, COUNT(*) FROM users GROUP BY package`)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчета пакетов: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.PackageTier]int)
	for rows.Next() {
		var tier models.PackageTier
		var count int
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования пакета: %w", err)
		}
		counts[tier] = count
	}
	return counts, rows.Err()
}

// DailySignups возвращает количество регистраций по дням (UTC) начиная с since
func (r *userRepository) DailySignups(ctx context.Context, since time.Time) ([]models.DailyCount, error) {
	rows, err := r.db.Query(ctx, `
		SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*)
		FROM users
		WHERE created_at >= $1
		GROUP BY day
		ORDER BY day`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("ошибка получения регистраций по дням: %w", err)
	}
	defer rows.Close()

	var result []models.DailyCount
	for rows.Next() {
		var dc models.DailyCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования регистраций: %w", err)
		}
		result = append(result, dc)
	}
	return result, rows.Err()
}

// SumRewardPoints возвращает сумму невыплаченных баллов
func (r *userRepository) SumRewardPoints(ctx context.Context) (int, error) {
	var sum int
	if err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(reward_points), 0) FROM users`).Scan(&sum); err != nil {
		return 0, fmt.Errorf("ошибка подсчета баллов: %w", err)
	}
	return sum, nil
}
