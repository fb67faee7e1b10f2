// Package lead сохраняет контакты с посадочной страницы
package lead

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"write-paid/internal/referral"
	"write-paid/internal/store"
	"write-paid/pkg/models"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const defaultListLimit = 100

// ErrInvalidLead данные лида не прошли валидацию
var ErrInvalidLead = errors.New("некорректные данные контакта")

// CaptureRequest данные формы посадочной страницы
type CaptureRequest struct {
	FirstName string `json:"firstName" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Phone     string `json:"phone" validate:"omitempty,max=32"`
	Ref       string `json:"ref" validate:"omitempty,max=64"`
}

// Service сервис лидов
type Service struct {
	store    store.Store
	validate *validator.Validate
	logger   *zap.Logger
}

// NewService создает сервис лидов
func NewService(st store.Store, logger *zap.Logger) *Service {
	return &Service{
		store:    st,
		validate: validator.New(),
		logger:   logger,
	}
}

// Capture сохраняет контакт
func (s *Service) Capture(ctx context.Context, req CaptureRequest) (*models.Lead, error) {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Phone = strings.TrimSpace(req.Phone)
	req.Ref = strings.TrimSpace(req.Ref)

	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLead, err)
	}

	lead := &models.Lead{
		FirstName: req.FirstName,
		Email:     req.Email,
		Phone:     req.Phone,
	}
	if req.Ref != "" {
		ref := req.Ref
		if code, ok := referral.Normalize(ref); ok {
			ref = code
		}
		lead.Ref = &ref
	}

	if err := s.store.Lead().Create(ctx, lead); err != nil {
		return nil, fmt.Errorf("ошибка сохранения контакта: %w", err)
	}

	s.logger.Info("получен контакт с посадочной страницы",
		zap.String("lead_id", lead.ID),
		zap.Bool("has_ref", lead.Ref != nil))

	return lead, nil
}

// List возвращает последние контакты
func (s *Service) List(ctx context.Context, limit int) ([]*models.Lead, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	leads, err := s.store.Lead().List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения контактов: %w", err)
	}
	return leads, nil
}
