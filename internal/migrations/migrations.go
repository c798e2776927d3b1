package migrations

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"compensation-engine/internal/config"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// RunMigrations применяет миграции схемы начислений к базе данных
func RunMigrations(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("начало применения миграций")

	return withDB(cfg, logger, func(db *sql.DB, path string) error {
		if err := goose.Up(db, path); err != nil {
			return fmt.Errorf("ошибка применения миграций: %w", err)
		}
		version, err := goose.GetDBVersion(db)
		if err != nil {
			return fmt.Errorf("ошибка получения версии схемы: %w", err)
		}
		logger.Info("миграции успешно применены", zap.Int64("version", version))
		return nil
	})
}

// GetMigrationStatus выводит статус миграций
func GetMigrationStatus(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("проверка статуса миграций")

	return withDB(cfg, logger, func(db *sql.DB, path string) error {
		if err := goose.Status(db, path); err != nil {
			return fmt.Errorf("ошибка получения статуса миграций: %w", err)
		}
		return nil
	})
}

// RollbackLast откатывает последнюю примененную миграцию
func RollbackLast(cfg *config.Config, logger *zap.Logger) error {
	logger.Warn("откат последней миграции")

	return withDB(cfg, logger, func(db *sql.DB, path string) error {
		if err := goose.Down(db, path); err != nil {
			return fmt.Errorf("ошибка отката миграции: %w", err)
		}
		return nil
	})
}

func withDB(cfg *config.Config, logger *zap.Logger, fn func(db *sql.DB, path string) error) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("ошибка установки диалекта: %w", err)
	}

	db, err := sql.Open("postgres", migrationDSN(&cfg.Database))
	if err != nil {
		return fmt.Errorf("ошибка подключения к базе данных для миграций: %w", err)
	}
	defer db.Close()

	return fn(db, getMigrationPath(cfg.Database.MigrationPath, logger))
}

// migrationDSN возвращает URL подключения для lib/pq
func migrationDSN(c *config.DatabaseConfig) string {
	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// getMigrationPath определяет путь к каталогу миграций
func getMigrationPath(configPath string, logger *zap.Logger) string {
	if _, err := os.Stat(configPath); err == nil {
		logger.Debug("используем путь к миграциям из конфигурации", zap.String("path", configPath))
		return configPath
	}

	currentDir, err := os.Getwd()
	if err != nil {
		logger.Warn("не удалось получить текущую директорию, используем путь из конфигурации", zap.Error(err))
		return configPath
	}

	possiblePaths := []string{
		filepath.Join(currentDir, "scripts", "migrations"),
		filepath.Join(currentDir, "..", "scripts", "migrations"),
		filepath.Join(currentDir, "..", "..", "scripts", "migrations"),
		"/app/scripts/migrations", // Docker
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			logger.Info("найден путь к миграциям", zap.String("path", path))
			return path
		}
	}

	logger.Warn("не удалось найти директорию с миграциями, используем путь из конфигурации", zap.String("path", configPath))
	return configPath
}
