// Package captcha выдает и проверяет одноразовые проверки "я не робот".
package captcha

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	alphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	textLength = 6
	keyPrefix  = "captcha:"
)

// ErrChallengeFailed проверка не найдена, истекла или ответ неверный
var ErrChallengeFailed = errors.New("проверка не пройдена")

// Challenge выданная проверка
type Challenge struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ChallengeStore хранит ответы проверок до первого использования
type ChallengeStore interface {
	Save(ctx context.Context, id, answer string, ttl time.Duration) error
	// Take возвращает и удаляет ответ. found == false для неизвестной или истекшей проверки.
	Take(ctx context.Context, id string) (answer string, found bool, err error)
}

// Service выдает и проверяет проверки
type Service struct {
	store  ChallengeStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewService создает сервис проверок
func NewService(store ChallengeStore, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{store: store, ttl: ttl, logger: logger}
}

// Issue создает новую проверку
func (s *Service) Issue(ctx context.Context) (*Challenge, error) {
	text, err := randomText(textLength)
	if err != nil {
		return nil, err
	}

	ch := &Challenge{
		ID:        uuid.NewString(),
		Text:      text,
		ExpiresAt: time.Now().UTC().Add(s.ttl),
	}
	if err := s.store.Save(ctx, ch.ID, text, s.ttl); err != nil {
		return nil, fmt.Errorf("ошибка сохранения проверки: %w", err)
	}
	return ch, nil
}

// Verify проверяет ответ без учета регистра. Проверка одноразовая.
func (s *Service) Verify(ctx context.Context, id, answer string) error {
	if id == "" || answer == "" {
		return ErrChallengeFailed
	}

	expected, found, err := s.store.Take(ctx, id)
	if err != nil {
		return fmt.Errorf("ошибка чтения проверки: %w", err)
	}
	if !found || !strings.EqualFold(expected, strings.TrimSpace(answer)) {
		s.logger.Info("проверка не пройдена", zap.String("challenge_id", id), zap.Bool("found", found))
		return ErrChallengeFailed
	}
	return nil
}

func randomText(n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("ошибка генерации проверки: %w", err)
		}
		for _, b := range buf {
			if b < 252 && len(out) < n {
				out = append(out, alphabet[int(b)%len(alphabet)])
			}
		}
	}
	return string(out), nil
}

// RedisStore хранит проверки в Redis с TTL
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore создает хранилище проверок в Redis
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Save сохраняет ответ с TTL
func (r *RedisStore) Save(ctx context.Context, id, answer string, ttl time.Duration) error {
	return r.client.Set(ctx, keyPrefix+id, answer, ttl).Err()
}

// Take атомарно читает и удаляет ответ
func (r *RedisStore) Take(ctx context.Context, id string) (string, bool, error) {
	value, err := r.client.GetDel(ctx, keyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// MemoryStore хранит проверки в памяти процесса
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	answer  string
	expires time.Time
}

// NewMemoryStore создает хранилище проверок в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// Save сохраняет ответ с TTL
func (m *MemoryStore) Save(ctx context.Context, id, answer string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = memoryEntry{answer: answer, expires: m.now().Add(ttl)}
	return nil
}

// Take читает и удаляет ответ
func (m *MemoryStore) Take(ctx context.Context, id string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	delete(m.entries, id)
	if !ok || !m.now().Before(e.expires) {
		return "", false, nil
	}
	return e.answer, true, nil
}
