package referral

import (
	"context"
	"errors"
	"fmt"

	"write-paid/internal/store"
	"write-paid/pkg/models"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const (
	recentReferralsLimit = 10
	defaultQRSize        = 256
	maxQRSize            = 1024
)

// Service представляет сервис реферальной страницы пользователя
type Service struct {
	store    store.Store
	registry *Registry
	siteURL  string
	logger   *zap.Logger
}

// NewService создает новый сервис рефералов
func NewService(st store.Store, registry *Registry, siteURL string, logger *zap.Logger) *Service {
	return &Service{
		store:    st,
		registry: registry,
		siteURL:  siteURL,
		logger:   logger,
	}
}

// Link формирует реферальную ссылку для кода
func (s *Service) Link(code string) string {
	return fmt.Sprintf("%s/?ref=%s", s.siteURL, code)
}

// ReferrerName возвращает имя владельца кода для приветствия на странице регистрации.
// Для неизвестного кода возвращает пустую строку.
func (s *Service) ReferrerName(ctx context.Context, code string) (string, error) {
	uid, found, err := s.registry.Resolve(ctx, s.store.ReferralCode(), code)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}

	user, err := s.store.User().Get(ctx, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("ошибка получения пригласившего: %w", err)
	}
	return user.FirstName, nil
}

// Summary возвращает код, ссылку, счетчики и последние приглашения пользователя
func (s *Service) Summary(ctx context.Context, uid string) (*models.ReferralSummary, error) {
	user, err := s.store.User().Get(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}

	recent, err := s.store.Referral().ListByReferrer(ctx, uid, recentReferralsLimit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения рефералов: %w", err)
	}

	return &models.ReferralSummary{
		Code:          user.ReferralCode,
		Link:          s.Link(user.ReferralCode),
		ReferralCount: user.ReferralCount,
		RewardPoints:  user.RewardPoints,
		Recent:        recent,
	}, nil
}

// QRCode возвращает PNG с QR-кодом реферальной ссылки пользователя
func (s *Service) QRCode(ctx context.Context, uid string, size int) ([]byte, error) {
	if size <= 0 {
		size = defaultQRSize
	}
	if size > maxQRSize {
		size = maxQRSize
	}

	user, err := s.store.User().Get(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}

	png, err := qrcode.Encode(s.Link(user.ReferralCode), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации QR-кода: %w", err)
	}
	return png, nil
}
