package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"write-paid/internal/identity"
	"write-paid/internal/store"
	"write-paid/pkg/models"

	"go.uber.org/zap"
)

const (
	recentUsersLimit = 5
	overviewDays     = 7
)

// ErrProfileNotFound профиль пользователя не найден
var ErrProfileNotFound = errors.New("профиль не найден")

// GrantResult итог изменения роли администратора
type GrantResult string

const (
	// GrantApplied роль изменена у существующего профиля
	GrantApplied GrantResult = "applied"
	// GrantPending роль будет применена при регистрации
	GrantPending GrantResult = "pending"
)

// Service представляет сервис для работы с пользователями
type Service struct {
	store    store.Store
	identity identity.Provider
	now      func() time.Time
	logger   *zap.Logger
}

// NewService создает новый сервис пользователей
func NewService(store store.Store, provider identity.Provider, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		identity: provider,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Profile получает профиль пользователя
func (s *Service) Profile(ctx context.Context, uid string) (*models.UserProfile, error) {
	profile, err := s.store.User().Get(ctx, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("ошибка получения профиля: %w", err)
	}
	return profile, nil
}

// IsAdmin проверяет роль администратора по профилю
func (s *Service) IsAdmin(ctx context.Context, uid string) (bool, error) {
	profile, err := s.Profile(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return false, nil
		}
		return false, err
	}
	return profile.IsAdmin, nil
}

// GrantAdmin выдает роль администратора. Если профиля еще нет, роль
// сохраняется и применяется при регистрации с этим email.
func (s *Service) GrantAdmin(ctx context.Context, email, grantedBy string) (GrantResult, error) {
	return s.setAdmin(ctx, email, grantedBy, true)
}

// RevokeAdmin снимает роль администратора или отменяет невыданную роль
func (s *Service) RevokeAdmin(ctx context.Context, email string) (GrantResult, error) {
	return s.setAdmin(ctx, email, "", false)
}

func (s *Service) setAdmin(ctx context.Context, email, grantedBy string, admin bool) (GrantResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("email не указан")
	}

	var (
		result GrantResult
		uid    string
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Repositories) error {
		profile, err := tx.User().GetByEmail(ctx, email)
		switch {
		case err == nil:
			result, uid = GrantApplied, profile.UID
			return tx.User().SetAdmin(ctx, profile.UID, admin)
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		result = GrantPending
		if admin {
			return tx.AdminGrant().Put(ctx, &models.AdminGrant{Email: email, GrantedBy: grantedBy})
		}
		_, err = tx.AdminGrant().Take(ctx, email)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("ошибка изменения роли администратора: %w", err)
	}

	if result == GrantApplied {
		if err := s.identity.SetAdmin(ctx, uid, admin); err != nil {
			return result, fmt.Errorf("роль сохранена в профиле, но не у провайдера: %w", err)
		}
	}

	s.logger.Info("роль администратора изменена",
		zap.String("email", email),
		zap.Bool("admin", admin),
		zap.String("result", string(result)))

	return result, nil
}

// Overview собирает статистику для панели администратора
func (s *Service) Overview(ctx context.Context) (*models.Overview, error) {
	users := s.store.User()

	total, err := users.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчета пользователей: %w", err)
	}

	recent, err := users.ListRecent(ctx, recentUsersLimit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения новых пользователей: %w", err)
	}

	byPackage, err := users.CountByPackage(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчета пакетов: %w", err)
	}
	packages := map[models.PackageTier]int{
		models.PackageBronze:   byPackage[models.PackageBronze],
		models.PackageGold:     byPackage[models.PackageGold],
		models.PackagePlatinum: byPackage[models.PackagePlatinum],
	}

	today := s.now().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(overviewDays - 1))
	daily, err := users.DailySignups(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения регистраций по дням: %w", err)
	}

	courses, err := s.store.Course().Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчета курсов: %w", err)
	}

	leads, err := s.store.Lead().Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчета лидов: %w", err)
	}

	outstanding, err := users.SumRewardPoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчета баллов: %w", err)
	}

	return &models.Overview{
		TotalUsers:    total,
		RecentUsers:   recent,
		Packages:      packages,
		DailySignups:  fillDays(daily, since, overviewDays),
		TotalCourses:  courses,
		TotalLeads:    leads,
		OutstandingRP: outstanding,
	}, nil
}

// fillDays дополняет статистику днями без регистраций
func fillDays(counts []models.DailyCount, since time.Time, days int) []models.DailyCount {
	byDate := make(map[string]int, len(counts))
	for _, c := range counts {
		byDate[c.Date] = c.Count
	}

	out := make([]models.DailyCount, 0, days)
	for i := 0; i < days; i++ {
		date := since.AddDate(0, 0, i).Format("2006-01-02")
		out = append(out, models.DailyCount{Date: date, Count: byDate[date]})
	}
	return out
}
