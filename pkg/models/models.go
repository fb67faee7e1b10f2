package models

import (
	"time"
)

// UserProfile представляет профиль пользователя, связанный с учетной записью провайдера идентификации
type UserProfile struct {
	UID           string      `json:"uid" db:"uid"`
	FirstName     string      `json:"firstName" db:"first_name"`
	LastName      string      `json:"lastName" db:"last_name"`
	Email         string      `json:"email" db:"email"`
	Phone         string      `json:"phone" db:"phone"`
	Username      string      `json:"username" db:"username"`
	Country       string      `json:"country" db:"country"`
	State         string      `json:"state" db:"state"`
	ReferralCode  string      `json:"referralCode" db:"referral_code"` // неизменяем после создания
	ReferredBy    *string     `json:"referredBy" db:"referred_by"`     // код пригласившего, как был передан
	ReferralCount int         `json:"referralCount" db:"referral_count"`
	RewardPoints  int         `json:"rewardPoints" db:"reward_points"`
	IsAdmin       bool        `json:"isAdmin" db:"is_admin"`
	Package       PackageTier `json:"package" db:"package"`
	CreatedAt     time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time   `json:"updatedAt" db:"updated_at"`
}

// DisplayName возвращает имя для отображения в учетной записи
func (u *UserProfile) DisplayName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// PackageTier представляет тарифный пакет пользователя
type PackageTier string

const (
	PackageBronze   PackageTier = "bronze"
	PackageGold     PackageTier = "gold"
	PackagePlatinum PackageTier = "platinum"
)

// IsValid проверяет валидность пакета
func (p PackageTier) IsValid() bool {
	switch p {
	case PackageBronze, PackageGold, PackagePlatinum:
		return true
	default:
		return false
	}
}

// AdminGrant представляет выданную администратором роль, еще не примененную к профилю
type AdminGrant struct {
	Email     string    `json:"email" db:"email"`
	GrantedBy string    `json:"grantedBy" db:"granted_by"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Lead представляет контакт, оставленный на посадочной странице
type Lead struct {
	ID        string    `json:"id" db:"id"`
	FirstName string    `json:"firstName" db:"first_name"`
	Email     string    `json:"email" db:"email"`
	Phone     string    `json:"phone" db:"phone"`
	Ref       *string   `json:"ref" db:"ref"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// DailyCount количество событий за день (дата в UTC, формат 2006-01-02)
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Overview сводная статистика для панели администратора
type Overview struct {
	TotalUsers    int                 `json:"totalUsers"`
	RecentUsers   []*UserProfile      `json:"recentUsers"`
	Packages      map[PackageTier]int `json:"packages"`
	DailySignups  []DailyCount        `json:"dailySignups"`
	TotalCourses  int                 `json:"totalCourses"`
	TotalLeads    int                 `json:"totalLeads"`
	OutstandingRP int                 `json:"outstandingRewardPoints"`
}
