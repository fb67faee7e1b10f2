package migrations

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"write-paid/internal/config"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// maxParentLookup сколько родительских директорий просматривается при поиске миграций
const maxParentLookup = 4

// RunMigrations применяет все новые миграции
func RunMigrations(cfg *config.Config, logger *zap.Logger) error {
	return run(cfg, logger, "применение", goose.Up)
}

// GetMigrationStatus выводит статус миграций
func GetMigrationStatus(cfg *config.Config, logger *zap.Logger) error {
	return run(cfg, logger, "статус", goose.Status)
}

// RollbackLast откатывает последнюю примененную миграцию
func RollbackLast(cfg *config.Config, logger *zap.Logger) error {
	return run(cfg, logger, "откат", goose.Down)
}

type gooseCommand func(db *sql.DB, dir string, opts ...goose.OptionsFunc) error

func run(cfg *config.Config, logger *zap.Logger, action string, cmd gooseCommand) error {
	logger.Info("миграции: начало", zap.String("action", action))

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("ошибка установки диалекта: %w", err)
	}

	db, err := sql.Open("postgres", cfg.Database.GetURL())
	if err != nil {
		return fmt.Errorf("ошибка подключения к базе данных для миграций: %w", err)
	}
	defer db.Close()

	dir := resolveMigrationDir(cfg.Database.MigrationPath, logger)
	if err := cmd(db, dir); err != nil {
		return fmt.Errorf("миграции (%s): %w", action, err)
	}

	logger.Info("миграции: готово", zap.String("action", action), zap.String("dir", dir))
	return nil
}

// resolveMigrationDir находит директорию миграций: путь из конфигурации,
// затем scripts/migrations в текущей директории и выше, затем путь в контейнере.
func resolveMigrationDir(configPath string, logger *zap.Logger) string {
	if isDir(configPath) {
		return configPath
	}

	if dir, err := os.Getwd(); err == nil {
		for i := 0; i <= maxParentLookup; i++ {
			candidate := filepath.Join(dir, "scripts", "migrations")
			if isDir(candidate) {
				logger.Info("найден путь к миграциям", zap.String("path", candidate))
				return candidate
			}
			dir = filepath.Dir(dir)
		}
	}

	if isDir("/app/scripts/migrations") {
		return "/app/scripts/migrations"
	}

	logger.Warn("директория миграций не найдена, используем путь из конфигурации", zap.String("path", configPath))
	return configPath
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
