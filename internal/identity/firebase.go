package identity

import (
	"context"
	"encoding/base64"
	"fmt"

	"write-paid/internal/config"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const adminClaim = "admin"

// FirebaseProvider реализует Provider поверх Firebase Auth
type FirebaseProvider struct {
	client *auth.Client
	mailer Mailer
	logger *zap.Logger
}

// NewFirebaseProvider создает клиент Firebase Auth по учетным данным сервисного аккаунта
func NewFirebaseProvider(ctx context.Context, cfg config.IdentityConfig, mailer Mailer, logger *zap.Logger) (*FirebaseProvider, error) {
	var opt option.ClientOption
	if cfg.CredentialsBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(cfg.CredentialsBase64)
		if err != nil {
			return nil, fmt.Errorf("ошибка декодирования учетных данных Firebase: %w", err)
		}
		opt = option.WithCredentialsJSON(decoded)
	} else {
		opt = option.WithCredentialsFile(cfg.CredentialsFile)
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opt)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Firebase: %w", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента Firebase Auth: %w", err)
	}

	logger.Info("Firebase Auth инициализирован", zap.String("project_id", cfg.ProjectID))

	return &FirebaseProvider{
		client: client,
		mailer: mailer,
		logger: logger,
	}, nil
}

// CreateAccount создает учетную запись по email и паролю
func (p *FirebaseProvider) CreateAccount(ctx context.Context, email, password string) (*Account, error) {
	params := (&auth.UserToCreate{}).
		Email(email).
		Password(password).
		EmailVerified(false)

	record, err := p.client.CreateUser(ctx, params)
	if err != nil {
		if auth.IsEmailAlreadyExists(err) {
			return nil, ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("ошибка создания учетной записи: %w", err)
	}

	return accountFromRecord(record), nil
}

// SendVerification формирует ссылку подтверждения и отправляет ее письмом
func (p *FirebaseProvider) SendVerification(ctx context.Context, email string) error {
	link, err := p.client.EmailVerificationLink(ctx, email)
	if err != nil {
		return fmt.Errorf("ошибка генерации ссылки подтверждения: %w", err)
	}

	if err := p.mailer.Send(ctx, email, verificationSubject, VerificationBody(link)); err != nil {
		return fmt.Errorf("ошибка отправки письма подтверждения: %w", err)
	}
	return nil
}

// UpdateDisplayName задает отображаемое имя
func (p *FirebaseProvider) UpdateDisplayName(ctx context.Context, uid, name string) error {
	if _, err := p.client.UpdateUser(ctx, uid, (&auth.UserToUpdate{}).DisplayName(name)); err != nil {
		return fmt.Errorf("ошибка обновления имени: %w", err)
	}
	return nil
}

// SignOut отзывает refresh-токены пользователя
func (p *FirebaseProvider) SignOut(ctx context.Context, uid string) error {
	if err := p.client.RevokeRefreshTokens(ctx, uid); err != nil {
		return fmt.Errorf("ошибка отзыва сессий: %w", err)
	}
	return nil
}

// DeleteAccount удаляет учетную запись
func (p *FirebaseProvider) DeleteAccount(ctx context.Context, uid string) error {
	if err := p.client.DeleteUser(ctx, uid); err != nil {
		if auth.IsUserNotFound(err) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("ошибка удаления учетной записи: %w", err)
	}
	return nil
}

// SetAdmin устанавливает custom claim admin
func (p *FirebaseProvider) SetAdmin(ctx context.Context, uid string, admin bool) error {
	claims := map[string]interface{}{adminClaim: admin}
	if err := p.client.SetCustomUserClaims(ctx, uid, claims); err != nil {
		return fmt.Errorf("ошибка установки роли: %w", err)
	}
	return nil
}

// VerifyToken проверяет ID-токен
func (p *FirebaseProvider) VerifyToken(ctx context.Context, idToken string) (*Token, error) {
	tok, err := p.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		p.logger.Debug("токен не прошел проверку", zap.Error(err))
		return nil, ErrInvalidToken
	}

	result := &Token{UID: tok.UID}
	if email, ok := tok.Claims["email"].(string); ok {
		result.Email = email
	}
	if verified, ok := tok.Claims["email_verified"].(bool); ok {
		result.EmailVerified = verified
	}
	if admin, ok := tok.Claims[adminClaim].(bool); ok {
		result.Admin = admin
	}
	return result, nil
}

// LookupByEmail находит учетную запись по email
func (p *FirebaseProvider) LookupByEmail(ctx context.Context, email string) (*Account, error) {
	record, err := p.client.GetUserByEmail(ctx, email)
	if err != nil {
		if auth.IsUserNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("ошибка поиска учетной записи: %w", err)
	}
	return accountFromRecord(record), nil
}

func accountFromRecord(record *auth.UserRecord) *Account {
	acc := &Account{
		UID:           record.UID,
		Email:         record.Email,
		DisplayName:   record.DisplayName,
		EmailVerified: record.EmailVerified,
	}
	if admin, ok := record.CustomClaims[adminClaim].(bool); ok {
		acc.Admin = admin
	}
	return acc
}

var _ Provider = (*FirebaseProvider)(nil)
