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

// CourseRepository интерфейс для работы с каталогом курсов
type CourseRepository interface {
	Create(ctx context.Context, course *models.Course) error
	Get(ctx context.Context, id string) (*models.Course, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	List(ctx context.Context) ([]*models.Course, error)
	Count(ctx context.Context) (int, error)
}

// EnrollmentRepository интерфейс для работы с зачислениями
type EnrollmentRepository interface {
	// CreateIfAbsent создает зачисление, если зачисления с таким ID еще нет.
	// Возвращает false, если запись уже существовала.
	CreateIfAbsent(ctx context.Context, enrollment *models.Enrollment) (bool, error)
	Exists(ctx context.Context, uid, courseID string) (bool, error)
	ListByUser(ctx context.Context, uid string) ([]*models.Enrollment, error)
}

// PostgresCourseRepository реализует CourseRepository для PostgreSQL
type PostgresCourseRepository struct {
	db     querier
	logger *zap.Logger
}

// NewCourseRepository создает новый репозиторий курсов
func NewCourseRepository(db querier, logger *zap.Logger) CourseRepository {
	return &PostgresCourseRepository{db: db, logger: logger}
}

const courseColumns = `id, slug, title, description, video_url, module, sort_order, price, created_at`

func scanCourse(row scanner) (*models.Course, error) {
	c := &models.Course{}
	if err := row.Scan(&c.ID, &c.Slug, &c.Title, &c.Description, &c.VideoURL, &c.Module, &c.Order, &c.Price, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// Create добавляет курс в каталог
func (r *PostgresCourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	course.CreatedAt = time.Now().UTC()

	_, err := r.db.Exec(ctx, `
		INSERT INTO courses (`+courseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		course.ID, course.Slug, course.Title, course.Description, course.VideoURL,
		course.Module, course.Order, course.Price, course.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания курса: %w", mapError(err))
	}

	r.logger.Info("курс создан", zap.String("course_id", course.ID), zap.String("slug", course.Slug))
	return nil
}

// Get получает курс по ID
func (r *PostgresCourseRepository) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := scanCourse(r.db.QueryRow(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения курса: %w", mapError(err))
	}
	return course, nil
}

// SlugExists проверяет, занят ли slug
func (r *PostgresCourseRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM courses WHERE slug = $1)`, slug).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки slug: %w", err)
	}
	return exists, nil
}

// List возвращает курсы по модулю и порядку
func (r *PostgresCourseRepository) List(ctx context.Context) ([]*models.Course, error) {
	rows, err := r.db.Query(ctx, `SELECT `+courseColumns+` FROM courses ORDER BY module, sort_order, created_at`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения курсов: %w", err)
	}
	defer rows.Close()

	var courses []*models.Course
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования курса: %w", err)
		}
		courses = append(courses, course)
	}
	return courses, rows.Err()
}

// Count возвращает количество курсов
func (r *PostgresCourseRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM courses`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета курсов: %w", err)
	}
	return count, nil
}

// PostgresEnrollmentRepository реализует EnrollmentRepository для PostgreSQL
type PostgresEnrollmentRepository struct {
	db     querier
	logger *zap.Logger
}

// NewEnrollmentRepository создает новый репозиторий зачислений
func NewEnrollmentRepository(db querier, logger *zap.Logger) EnrollmentRepository {
	return &PostgresEnrollmentRepository{db: db, logger: logger}
}

// CreateIfAbsent создает зачисление. Повтор с тем же order_id ничего не меняет.
func (r *PostgresEnrollmentRepository) CreateIfAbsent(ctx context.Context, e *models.Enrollment) (bool, error) {
	if e.ID == "" {
		e.ID = e.OrderID
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO enrollments (id, user_id, course_id, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO NOTHING`,
		e.ID, e.UserID, e.CourseID, e.OrderID, e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("ошибка создания зачисления: %w", mapError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// Exists проверяет, зачислен ли пользователь на курс
func (r *PostgresEnrollmentRepository) Exists(ctx context.Context, uid, courseID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id = $2)`, uid, courseID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки зачисления: %w", err)
	}
	return exists, nil
}

// ListByUser возвращает зачисления пользователя
func (r *PostgresEnrollmentRepository) ListByUser(ctx context.Context, uid string) ([]*models.Enrollment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, course_id, order_id, created_at
		FROM enrollments
		WHERE user_id = $1
		ORDER BY created_at DESC`, uid)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения зачислений: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Enrollment, error) {
		e := &models.Enrollment{}
		if err := row.Scan(&e.ID, &e.UserID, &e.CourseID, &e.OrderID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		return e, nil
	})
}
