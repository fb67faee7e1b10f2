package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"write-paid/internal/captcha"
	"write-paid/internal/config"
	"write-paid/internal/course"
	"write-paid/internal/enrollment"
	"write-paid/internal/httpapi"
	"write-paid/internal/identity"
	"write-paid/internal/lead"
	"write-paid/internal/ledger"
	"write-paid/internal/media"
	"write-paid/internal/metrics"
	"write-paid/internal/migrations"
	"write-paid/internal/notify"
	"write-paid/internal/payment"
	"write-paid/internal/payout"
	"write-paid/internal/referral"
	"write-paid/internal/scheduler"
	"write-paid/internal/signup"
	"write-paid/internal/store"
	"write-paid/internal/user"
	"write-paid/internal/webhook"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	limiterCleanupInterval = 10 * time.Minute
	shutdownTimeout        = 30 * time.Second
)

func main() {
	// Инициализация логгера
	logger, err := initLogger()
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("запуск приложения Write & Paid")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("ошибка загрузки конфигурации", zap.Error(err))
	}

	// Инициализация базы данных
	db, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации базы данных", zap.Error(err))
	}
	defer db.Close()

	if err := migrations.RunMigrations(cfg, logger); err != nil {
		logger.Fatal("ошибка применения миграций", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := initIdentity(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации провайдера идентификации", zap.Error(err))
	}

	// Redis хранит выданные проверки CAPTCHA
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis недоступен, проверки CAPTCHA будут завершаться ошибкой", zap.Error(err))
	}
	captchaService := captcha.NewService(
		captcha.NewRedisStore(redisClient),
		time.Duration(cfg.Redis.CaptchaTTL)*time.Second,
		logger,
	)

	alerts := initNotifier(cfg, logger)
	metricsSystem := metrics.New(logger)
	metricsHandler := metrics.NewHandler(metricsSystem, db, logger)

	stripeClient := payment.NewStripeClient(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.Currency, logger)
	logger.Info("Stripe клиент инициализирован", zap.String("currency", cfg.Stripe.Currency))

	// Инициализация сервисов
	registry := referral.NewRegistry(logger)
	referralLedger := ledger.New(registry, logger)
	signupWorkflow := signup.NewWorkflow(db, provider, registry, referralLedger, captchaService, alerts, metricsSystem, logger)
	enrollmentService := enrollment.NewService(db, stripeClient, cfg.App.SiteURL, alerts, metricsSystem, logger)

	services := httpapi.Services{
		Signup:      signupWorkflow,
		Captcha:     captchaService,
		Referrals:   referral.NewService(db, registry, cfg.App.SiteURL, logger),
		Users:       user.NewService(db, provider, logger),
		Courses:     course.NewService(db, logger),
		Leads:       lead.NewService(db, logger),
		Payouts:     payout.NewService(db, referralLedger, alerts, metricsSystem, logger),
		Enrollments: enrollmentService,
		Identity:    provider,
		Webhook:     webhook.NewStripeHandler(stripeClient, enrollmentService, metricsSystem, logger),
		Health:      metricsHandler,
	}

	if cfg.Storage.Enabled() {
		signer, err := media.NewSigner(ctx, cfg.Storage, logger)
		if err != nil {
			logger.Fatal("ошибка инициализации хранилища медиа", zap.Error(err))
		}
		services.Media = signer
	} else {
		logger.Info("хранилище медиа не настроено, загрузка файлов отключена")
	}

	api := httpapi.NewServer(*cfg, services, nil, logger)

	// Инициализация планировщика задач
	taskScheduler, err := scheduler.NewScheduler(logger)
	if err != nil {
		logger.Fatal("ошибка создания планировщика", zap.Error(err))
	}
	if err := taskScheduler.AddJob(ctx, "ledger_stats", scheduler.LedgerStatsInterval,
		scheduler.NewLedgerStatsJob(db.User(), metricsSystem, logger)); err != nil {
		logger.Fatal("ошибка регистрации задачи", zap.Error(err))
	}
	if err := taskScheduler.AddJob(ctx, "rate_limiter_cleanup", limiterCleanupInterval, api.Limiter()); err != nil {
		logger.Fatal("ошибка регистрации задачи", zap.Error(err))
	}
	taskScheduler.Start()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("HTTP сервер запущен", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("ошибка HTTP сервера", zap.Error(err))
		}
	}()

	logger.Info("приложение запущено и готово к работе",
		zap.String("env", cfg.App.Env),
		zap.String("site_url", cfg.App.SiteURL))

	// Ожидание сигнала завершения
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("получен сигнал завершения, начинаем graceful shutdown")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ошибка остановки HTTP сервера", zap.Error(err))
	}
	if err := taskScheduler.Shutdown(); err != nil {
		logger.Error("ошибка остановки планировщика", zap.Error(err))
	}

	logger.Info("приложение завершено")
}

// initLogger инициализирует логгер
func initLogger() (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.OutputPaths = []string{"stdout", "logs/app.log"}
	config.ErrorOutputPaths = []string{"stderr", "logs/error.log"}

	// Создаем директорию для логов если её нет
	if err := os.MkdirAll("logs", 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории логов: %w", err)
	}

	return config.Build()
}

func initIdentity(ctx context.Context, cfg *config.Config, logger *zap.Logger) (identity.Provider, error) {
	if cfg.Identity.Provider == "memory" {
		logger.Warn("используется провайдер идентификации в памяти, только для локального запуска")
		return identity.NewMemoryProvider(), nil
	}

	var mailer identity.Mailer
	if cfg.SMTP.Enabled() {
		mailer = identity.NewSMTPMailer(cfg.SMTP, logger)
	} else {
		logger.Warn("SMTP не настроен, письма подтверждения пишутся в лог")
		mailer = identity.NewLogMailer(logger)
	}
	return identity.NewFirebaseProvider(ctx, cfg.Identity, mailer, logger)
}

func initNotifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	if cfg.Telegram.BotToken == "" {
		return notify.NewLogNotifier(logger)
	}

	tg, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.AdminChatID, logger)
	if err != nil {
		logger.Error("ошибка инициализации Telegram уведомлений, используется лог", zap.Error(err))
		return notify.NewLogNotifier(logger)
	}
	return tg
}
