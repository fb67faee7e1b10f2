// Package identity содержит адаптеры провайдера идентификации: Firebase Auth
// для продакшна и реализацию в памяти для тестов и локального запуска.
package identity

import (
	"context"
	"errors"
)

var (
	// ErrDuplicateIdentity email уже зарегистрирован у провайдера
	ErrDuplicateIdentity = errors.New("email уже зарегистрирован")
	// ErrAccountNotFound учетная запись не найдена
	ErrAccountNotFound = errors.New("учетная запись не найдена")
	// ErrInvalidToken токен не прошел проверку
	ErrInvalidToken = errors.New("недействительный токен")
)

// Account учетная запись у провайдера идентификации
type Account struct {
	UID           string
	Email         string
	DisplayName   string
	EmailVerified bool
	Admin         bool
}

// Token проверенный токен сессии
type Token struct {
	UID           string
	Email         string
	EmailVerified bool
	Admin         bool
}

// Provider операции провайдера идентификации, нужные бизнес-логике
type Provider interface {
	CreateAccount(ctx context.Context, email, password string) (*Account, error)
	SendVerification(ctx context.Context, email string) error
	UpdateDisplayName(ctx context.Context, uid, name string) error
	// SignOut завершает все сессии пользователя
	SignOut(ctx context.Context, uid string) error
	DeleteAccount(ctx context.Context, uid string) error
	SetAdmin(ctx context.Context, uid string, admin bool) error
	VerifyToken(ctx context.Context, idToken string) (*Token, error)
	LookupByEmail(ctx context.Context, email string) (*Account, error)
}
