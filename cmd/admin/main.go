package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"write-paid/internal/config"
	"write-paid/internal/identity"
	"write-paid/internal/ledger"
	"write-paid/internal/migrations"
	"write-paid/internal/notify"
	"write-paid/internal/payout"
	"write-paid/internal/referral"
	"write-paid/internal/store"
	"write-paid/internal/user"

	"go.uber.org/zap"
)

func main() {
	var (
		grantAdmin       = flag.String("grant-admin", "", "Email, которому выдать права администратора")
		revokeAdmin      = flag.String("revoke-admin", "", "Email, у которого отозвать права администратора")
		payoutUser       = flag.String("payout", "", "UID пользователя для выплаты всего баланса")
		migrationsStatus = flag.Bool("migrations-status", false, "Показать статус миграций")
		migrationsDown   = flag.Bool("migrations-down", false, "Откатить последнюю примененную миграцию")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Ошибка инициализации логгера:", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	if *migrationsStatus {
		if err := migrations.GetMigrationStatus(cfg, logger); err != nil {
			logger.Fatal("Ошибка получения статуса миграций", zap.Error(err))
		}
		return
	}

	if *migrationsDown {
		if err := migrations.RollbackLast(cfg, logger); err != nil {
			logger.Fatal("Ошибка отката миграции", zap.Error(err))
		}
		return
	}

	if *grantAdmin == "" && *revokeAdmin == "" && *payoutUser == "" {
		flag.Usage()
		os.Exit(2)
	}

	db, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("Ошибка подключения к базе данных", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()

	switch {
	case *grantAdmin != "" || *revokeAdmin != "":
		err = changeAdmin(ctx, cfg, db, *grantAdmin, *revokeAdmin, logger)
	case *payoutUser != "":
		err = payoutBalance(ctx, db, *payoutUser, logger)
	}
	if err != nil {
		logger.Fatal("Команда завершилась ошибкой", zap.Error(err))
	}
}

func changeAdmin(ctx context.Context, cfg *config.Config, db store.Store, grant, revoke string, logger *zap.Logger) error {
	var provider identity.Provider
	if cfg.Identity.Provider == "memory" {
		logger.Warn("провайдер идентификации в памяти: claim администратора не будет синхронизирован")
		provider = identity.NewMemoryProvider()
	} else {
		fb, err := identity.NewFirebaseProvider(ctx, cfg.Identity, identity.NewLogMailer(logger), logger)
		if err != nil {
			return fmt.Errorf("ошибка подключения к провайдеру идентификации: %w", err)
		}
		provider = fb
	}
	users := user.NewService(db, provider, logger)

	operator := os.Getenv("USER")
	if operator == "" {
		operator = "cli"
	}

	if grant != "" {
		email := strings.ToLower(strings.TrimSpace(grant))
		res, err := users.GrantAdmin(ctx, email, operator)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", email, res)
	}
	if revoke != "" {
		email := strings.ToLower(strings.TrimSpace(revoke))
		res, err := users.RevokeAdmin(ctx, email)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", email, res)
	}
	return nil
}

func payoutBalance(ctx context.Context, db store.Store, uid string, logger *zap.Logger) error {
	registry := referral.NewRegistry(logger)
	svc := payout.NewService(db, ledger.New(registry, logger), notify.NewLogNotifier(logger), nil, logger)

	p, err := svc.PayoutAll(ctx, uid)
	if err != nil {
		return err
	}
	fmt.Printf("выплата %s: пользователь %s, %d баллов\n", p.ID, p.UserID, p.Amount)
	return nil
}
