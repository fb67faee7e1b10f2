package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryProvider реализует Provider в памяти. Ошибки отдельных операций
// задаются через поля Fail*.
type MemoryProvider struct {
	mu       sync.Mutex
	accounts map[string]*Account // по uid
	tokens   map[string]string   // токен -> uid
	revoked  map[string]int      // uid -> количество SignOut
	verified []string            // email, которым отправлено подтверждение

	FailCreate       error
	FailVerification error
	FailDisplayName  error
	FailSignOut      error
	FailDelete       error
	FailSetAdmin     error
}

// NewMemoryProvider создает пустой провайдер
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		accounts: make(map[string]*Account),
		tokens:   make(map[string]string),
		revoked:  make(map[string]int),
	}
}

// CreateAccount создает учетную запись
func (p *MemoryProvider) CreateAccount(ctx context.Context, email, password string) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailCreate != nil {
		return nil, p.FailCreate
	}
	for _, acc := range p.accounts {
		if strings.EqualFold(acc.Email, email) {
			return nil, ErrDuplicateIdentity
		}
	}

	acc := &Account{UID: uuid.NewString(), Email: email}
	p.accounts[acc.UID] = acc
	copied := *acc
	return &copied, nil
}

// SendVerification запоминает отправку подтверждения
func (p *MemoryProvider) SendVerification(ctx context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailVerification != nil {
		return p.FailVerification
	}
	p.verified = append(p.verified, email)
	return nil
}

// UpdateDisplayName задает отображаемое имя
func (p *MemoryProvider) UpdateDisplayName(ctx context.Context, uid, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailDisplayName != nil {
		return p.FailDisplayName
	}
	acc, ok := p.accounts[uid]
	if !ok {
		return ErrAccountNotFound
	}
	acc.DisplayName = name
	return nil
}

// SignOut аннулирует выданные токены пользователя
func (p *MemoryProvider) SignOut(ctx context.Context, uid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailSignOut != nil {
		return p.FailSignOut
	}
	for tok, owner := range p.tokens {
		if owner == uid {
			delete(p.tokens, tok)
		}
	}
	p.revoked[uid]++
	return nil
}

// DeleteAccount удаляет учетную запись
func (p *MemoryProvider) DeleteAccount(ctx context.Context, uid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailDelete != nil {
		return p.FailDelete
	}
	if _, ok := p.accounts[uid]; !ok {
		return ErrAccountNotFound
	}
	delete(p.accounts, uid)
	return nil
}

// SetAdmin устанавливает признак администратора
func (p *MemoryProvider) SetAdmin(ctx context.Context, uid string, admin bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailSetAdmin != nil {
		return p.FailSetAdmin
	}
	acc, ok := p.accounts[uid]
	if !ok {
		return ErrAccountNotFound
	}
	acc.Admin = admin
	return nil
}

// VerifyToken проверяет токен, выданный IssueToken
func (p *MemoryProvider) VerifyToken(ctx context.Context, idToken string) (*Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	uid, ok := p.tokens[idToken]
	if !ok {
		return nil, ErrInvalidToken
	}
	acc, ok := p.accounts[uid]
	if !ok {
		return nil, ErrInvalidToken
	}
	return &Token{UID: acc.UID, Email: acc.Email, EmailVerified: acc.EmailVerified, Admin: acc.Admin}, nil
}

// LookupByEmail находит учетную запись по email
func (p *MemoryProvider) LookupByEmail(ctx context.Context, email string) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, acc := range p.accounts {
		if strings.EqualFold(acc.Email, email) {
			copied := *acc
			return &copied, nil
		}
	}
	return nil, ErrAccountNotFound
}

// IssueToken выдает токен сессии для учетной записи
func (p *MemoryProvider) IssueToken(uid string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.accounts[uid]; !ok {
		return "", fmt.Errorf("учетная запись %s: %w", uid, ErrAccountNotFound)
	}
	tok := uuid.NewString()
	p.tokens[tok] = uid
	return tok, nil
}

// MarkVerified отмечает email учетной записи подтвержденным
func (p *MemoryProvider) MarkVerified(uid string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if acc, ok := p.accounts[uid]; ok {
		acc.EmailVerified = true
	}
}

// Account возвращает копию учетной записи
func (p *MemoryProvider) Account(uid string) (*Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accounts[uid]
	if !ok {
		return nil, false
	}
	copied := *acc
	return &copied, true
}

// SignOuts возвращает количество завершений сессий пользователя
func (p *MemoryProvider) SignOuts(uid string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revoked[uid]
}

// VerificationsSent возвращает email, которым отправлено подтверждение
func (p *MemoryProvider) VerificationsSent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.verified...)
}

var _ Provider = (*MemoryProvider)(nil)
