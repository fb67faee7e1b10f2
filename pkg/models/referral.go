package models

import (
	"time"
)

// ReferralCode запись реестра: код и владелец
type ReferralCode struct {
	Code      string    `json:"code" db:"code"`
	UID       string    `json:"uid" db:"uid"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// ReferralSource источник реферального события
type ReferralSource string

const (
	ReferralSourceWeb ReferralSource = "web"
)

// Referral представляет факт начисления за приглашение (только добавление)
type Referral struct {
	ID          string         `json:"id" db:"id"`
	ReferrerUID string         `json:"referrerUid" db:"referrer_uid"`
	RefereeUID  string         `json:"refereeUid" db:"referee_uid"`
	Source      ReferralSource `json:"source" db:"source"`
	CreatedAt   time.Time      `json:"createdAt" db:"created_at"`
}

// ReferralSummary представляет данные реферальной страницы пользователя
type ReferralSummary struct {
	Code          string      `json:"code"`
	Link          string      `json:"link"`
	ReferralCount int         `json:"referralCount"`
	RewardPoints  int         `json:"rewardPoints"`
	Recent        []*Referral `json:"recent"`
}

// PayoutStatus представляет статус выплаты
type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusCompleted PayoutStatus = "completed"
)

// IsValid проверяет валидность статуса выплаты
func (s PayoutStatus) IsValid() bool {
	switch s {
	case PayoutStatusPending, PayoutStatusCompleted:
		return true
	default:
		return false
	}
}

// Payout представляет конвертацию баллов в выплату
type Payout struct {
	ID        string       `json:"id" db:"id"`
	UserID    string       `json:"userId" db:"user_id"`
	Amount    int          `json:"amount" db:"amount"` // в баллах
	Status    PayoutStatus `json:"status" db:"status"`
	CreatedAt time.Time    `json:"createdAt" db:"created_at"`
}
