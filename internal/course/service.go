// Package course каталог курсов: добавление администратором и просмотр
package course

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"write-paid/internal/store"
	"write-paid/pkg/models"

	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

const maxSlugAttempts = 50

var (
	// ErrNotFound курс не найден
	ErrNotFound = errors.New("курс не найден")
	// ErrInvalidCourse данные курса не прошли валидацию
	ErrInvalidCourse = errors.New("некорректные данные курса")
)

// CreateRequest данные нового курса
type CreateRequest struct {
	Title       string `json:"title" validate:"required,min=3,max=200"`
	Description string `json:"description" validate:"required,min=10"`
	VideoURL    string `json:"videoUrl" validate:"required,url"`
	Module      string `json:"module" validate:"required,max=100"`
	Order       int    `json:"order" validate:"gte=0"`
	Price       int64  `json:"price" validate:"gte=0"` // в центах
}

// Service сервис каталога курсов
type Service struct {
	store    store.Store
	validate *validator.Validate
	logger   *zap.Logger
}

// NewService создает сервис каталога
func NewService(st store.Store, logger *zap.Logger) *Service {
	return &Service{
		store:    st,
		validate: validator.New(),
		logger:   logger,
	}
}

// Add добавляет курс. Slug строится из названия и дополняется суффиксом при совпадении.
func (s *Service) Add(ctx context.Context, req CreateRequest) (*models.Course, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.Module = strings.TrimSpace(req.Module)

	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCourse, err)
	}

	course := &models.Course{
		Title:       req.Title,
		Description: req.Description,
		VideoURL:    req.VideoURL,
		Module:      req.Module,
		Order:       req.Order,
		Price:       req.Price,
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Repositories) error {
		courseSlug, err := uniqueSlug(ctx, tx.Course(), req.Title)
		if err != nil {
			return err
		}
		course.Slug = courseSlug
		return tx.Course().Create(ctx, course)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка добавления курса: %w", err)
	}

	s.logger.Info("курс добавлен",
		zap.String("course_id", course.ID),
		zap.String("slug", course.Slug),
		zap.Int64("price", course.Price))

	return course, nil
}

func uniqueSlug(ctx context.Context, courses store.CourseRepository, title string) (string, error) {
	base := slug.Make(title)
	if base == "" {
		base = "course"
	}

	candidate := base
	for i := 2; i <= maxSlugAttempts; i++ {
		exists, err := courses.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", fmt.Errorf("не удалось подобрать свободный slug для %q", title)
}

// Get возвращает курс по идентификатору
func (s *Service) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.store.Course().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения курса: %w", err)
	}
	return course, nil
}

// List возвращает каталог, упорядоченный по модулю и порядку
func (s *Service) List(ctx context.Context) ([]*models.Course, error) {
	courses, err := s.store.Course().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения каталога: %w", err)
	}
	return courses, nil
}
