package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config содержит все конфигурационные параметры приложения
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Identity  IdentityConfig
	SMTP      SMTPConfig
	Stripe    StripeConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Telegram  TelegramConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Env      string
	LogLevel string
	Port     int
	// SiteURL публичный адрес сайта для реферальных ссылок и возврата из оплаты
	SiteURL string
	// TrustProxy разрешает брать адрес клиента из X-Forwarded-For
	TrustProxy bool
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MigrationPath string
}

// IdentityConfig содержит настройки провайдера идентификации
type IdentityConfig struct {
	Provider          string // firebase, memory
	ProjectID         string
	CredentialsBase64 string
	CredentialsFile   string
}

// SMTPConfig содержит настройки отправки писем подтверждения
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// StripeConfig содержит настройки платежного провайдера
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

// RedisConfig содержит настройки хранилища проверок CAPTCHA
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	CaptchaTTL int // секунды
}

// StorageConfig содержит настройки S3-совместимого хранилища медиа
type StorageConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
}

// TelegramConfig содержит настройки уведомлений администратора
type TelegramConfig struct {
	BotToken    string
	AdminChatID int64
}

type RateLimitConfig struct {
	SignupPerMinute int
	SignupBurst     int
}

// Load загружает конфигурацию из переменных окружения и .env
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// App
	cfg.App.Env = getEnvDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvDefault("LOG_LEVEL", "info")
	cfg.App.Port = getEnvIntDefault("APP_PORT", 8080)
	cfg.App.SiteURL = strings.TrimRight(getEnvDefault("SITE_URL", "http://localhost:3000"), "/")
	cfg.App.TrustProxy = getEnvBoolDefault("TRUST_PROXY", false)

	// Database
	cfg.Database.Host = getEnvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getEnvIntDefault("DB_PORT", 5432)
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = os.Getenv("DB_NAME")
	cfg.Database.SSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	cfg.Database.MigrationPath = getEnvDefault("MIGRATION_PATH", "scripts/migrations")

	// Identity
	cfg.Identity.Provider = getEnvDefault("IDENTITY_PROVIDER", "firebase")
	cfg.Identity.ProjectID = os.Getenv("FIREBASE_PROJECT_ID")
	cfg.Identity.CredentialsBase64 = os.Getenv("FIREBASE_CREDENTIALS_BASE64")
	cfg.Identity.CredentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")

	// SMTP
	cfg.SMTP.Host = os.Getenv("SMTP_HOST")
	cfg.SMTP.Port = getEnvIntDefault("SMTP_PORT", 587)
	cfg.SMTP.User = os.Getenv("SMTP_USER")
	cfg.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	cfg.SMTP.From = getEnvDefault("SMTP_FROM", "no-reply@writeandpaid.com")

	// Stripe
	cfg.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.Stripe.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.Stripe.Currency = getEnvDefault("STRIPE_CURRENCY", "usd")

	// Redis
	cfg.Redis.Addr = getEnvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = getEnvIntDefault("REDIS_DB", 0)
	cfg.Redis.CaptchaTTL = getEnvIntDefault("CAPTCHA_TTL_SECONDS", 300)

	// Storage
	cfg.Storage.Endpoint = os.Getenv("STORAGE_ENDPOINT")
	cfg.Storage.Region = getEnvDefault("STORAGE_REGION", "auto")
	cfg.Storage.Bucket = os.Getenv("STORAGE_BUCKET")
	cfg.Storage.AccessKeyID = os.Getenv("STORAGE_ACCESS_KEY_ID")
	cfg.Storage.SecretAccessKey = os.Getenv("STORAGE_SECRET_ACCESS_KEY")
	cfg.Storage.PublicBaseURL = strings.TrimRight(os.Getenv("STORAGE_PUBLIC_BASE_URL"), "/")

	// Telegram
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.AdminChatID = getEnvInt64Default("TELEGRAM_ADMIN_CHAT_ID", 0)

	// Rate limit
	cfg.RateLimit.SignupPerMinute = getEnvIntDefault("SIGNUP_RATE_PER_MINUTE", 10)
	cfg.RateLimit.SignupBurst = getEnvIntDefault("SIGNUP_RATE_BURST", 5)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt64Default(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return i
}

// validateConfig проверяет корректность конфигурации
func validateConfig(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("DB_HOST не установлен")
	}
	if config.Database.User == "" {
		return fmt.Errorf("DB_USER не установлен")
	}
	if config.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD не установлен")
	}
	if config.Database.Name == "" {
		return fmt.Errorf("DB_NAME не установлен")
	}
	if config.Stripe.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY не установлен")
	}
	if config.Stripe.WebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET не установлен")
	}
	switch config.Identity.Provider {
	case "firebase":
		if config.Identity.ProjectID == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID не установлен")
		}
		if config.Identity.CredentialsBase64 == "" && config.Identity.CredentialsFile == "" {
			return fmt.Errorf("FIREBASE_CREDENTIALS_BASE64 или GOOGLE_APPLICATION_CREDENTIALS не установлен")
		}
	case "memory":
		if config.App.Env == "production" {
			return fmt.Errorf("IDENTITY_PROVIDER=memory недопустим в продакшне")
		}
	default:
		return fmt.Errorf("поддерживаются только IDENTITY_PROVIDER: firebase, memory")
	}
	if config.Telegram.BotToken != "" && config.Telegram.AdminChatID == 0 {
		return fmt.Errorf("TELEGRAM_ADMIN_CHAT_ID не установлен")
	}

	return nil
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetURL возвращает строку подключения в формате URL для миграций
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// Enabled сообщает, настроено ли хранилище медиа
func (c *StorageConfig) Enabled() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Enabled сообщает, настроена ли отправка писем
func (c *SMTPConfig) Enabled() bool {
	return c.Host != ""
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction проверяет, запущено ли приложение в продакшн режиме
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// GetLogLevel возвращает уровень логирования в формате zap
func (c *AppConfig) GetLogLevel() zap.AtomicLevel {
	switch c.LogLevel {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
