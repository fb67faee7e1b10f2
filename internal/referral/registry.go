package referral

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"write-paid/internal/store"
	"write-paid/pkg/models"

	"go.uber.org/zap"
)

const (
	// CodeAlphabet алфавит реферальных кодов
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// CodeLength длина реферального кода. 36^8 ≈ 2.8e12 вариантов, вероятность
	// хотя бы одного совпадения среди n кодов ≈ n²/(2·36^8), около 1.8e-3 при n = 100000.
	CodeLength = 8

	maxMintAttempts = 10
	// rejectAbove граница отбрасывания байтов для равномерного распределения (36*7)
	rejectAbove = 252
)

// ErrCodeSpaceExhausted не удалось подобрать свободный код
var ErrCodeSpaceExhausted = errors.New("не удалось сгенерировать уникальный реферальный код")

// Generator возвращает новый код-кандидат
type Generator func() (string, error)

// Registry реестр реферальных кодов: выпуск и разрешение кодов
type Registry struct {
	generate Generator
	logger   *zap.Logger
}

// NewRegistry создает реестр с криптографическим генератором кодов
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		generate: GenerateCode,
		logger:   logger,
	}
}

// WithGenerator возвращает копию реестра с другим генератором кодов
func (r *Registry) WithGenerator(gen Generator) *Registry {
	return &Registry{generate: gen, logger: r.logger}
}

// GenerateCode генерирует случайный код из CodeAlphabet длиной CodeLength
func GenerateCode() (string, error) {
	var sb strings.Builder
	sb.Grow(CodeLength)

	buf := make([]byte, CodeLength*2)
	for sb.Len() < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("ошибка генерации случайных байтов: %w", err)
		}
		for _, b := range buf {
			if b >= rejectAbove {
				continue
			}
			sb.WriteByte(CodeAlphabet[int(b)%len(CodeAlphabet)])
			if sb.Len() == CodeLength {
				break
			}
		}
	}
	return sb.String(), nil
}

// Normalize приводит код к каноническому виду. Возвращает false для кода
// неверной длины или с символами вне алфавита.
func Normalize(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != CodeLength {
		return "", false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(CodeAlphabet, code[i]) < 0 {
			return "", false
		}
	}
	return code, true
}

// Mint выпускает новый код для владельца внутри транзакции tx.
// Перед записью проверяется, что код свободен.
func (r *Registry) Mint(ctx context.Context, tx store.Repositories, ownerUID string) (string, error) {
	for attempt := 1; attempt <= maxMintAttempts; attempt++ {
		code, err := r.generate()
		if err != nil {
			return "", err
		}

		exists, err := tx.ReferralCode().Exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("ошибка проверки кода: %w", err)
		}
		if exists {
			r.logger.Warn("сгенерированный код уже существует, пробуем снова",
				zap.String("code", code),
				zap.Int("attempt", attempt))
			continue
		}

		entry := &models.ReferralCode{Code: code, UID: ownerUID}
		if err := tx.ReferralCode().Create(ctx, entry); err != nil {
			return "", fmt.Errorf("ошибка записи кода в реестр: %w", err)
		}
		return code, nil
	}

	return "", fmt.Errorf("%w после %d попыток", ErrCodeSpaceExhausted, maxMintAttempts)
}

// Resolve находит владельца кода. Неизвестный или некорректный код
// дает found == false без ошибки.
func (r *Registry) Resolve(ctx context.Context, codes store.ReferralCodeRepository, code string) (string, bool, error) {
	normalized, ok := Normalize(code)
	if !ok {
		return "", false, nil
	}

	entry, err := codes.Get(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("ошибка разрешения кода: %w", err)
	}
	return entry.UID, true, nil
}
