package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Config содержит все конфигурационные параметры приложения
type Config struct {
	Database  DatabaseConfig
	App       AppConfig
	Redis     RedisConfig
	Alert     AlertConfig
	Scheduler SchedulerConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MigrationPath string
	MaxConns      int32
	MinConns      int32
}

type AppConfig struct {
	Env      string
	LogLevel string
	Port     int
}

// RedisConfig содержит настройки Redis для распределенных блокировок
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	// LockTTLSeconds время жизни блокировки пользователя
	LockTTLSeconds int
}

// AlertConfig содержит настройки оповещений администратора в Telegram
type AlertConfig struct {
	Enabled     bool
	BotToken    string
	AdminChatID int64
}

// SchedulerConfig содержит cron-расписания циклов начислений
type SchedulerConfig struct {
	Enabled    bool
	ROISpec    string
	BinarySpec string
	WeeklySpec string
	RankSpec   string
}

// Load загружает конфигурацию из переменных окружения и .env
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Database
	cfg.Database.Host = getEnvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getEnvIntDefault("DB_PORT", 5432)
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = os.Getenv("DB_NAME")
	cfg.Database.SSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	cfg.Database.MigrationPath = getEnvDefault("MIGRATION_PATH", "scripts/migrations")
	cfg.Database.MaxConns = int32(getEnvIntDefault("DB_MAX_CONNS", 10))
	cfg.Database.MinConns = int32(getEnvIntDefault("DB_MIN_CONNS", 2))

	// Redis
	cfg.Redis.Enabled = getEnvBoolDefault("REDIS_ENABLED", false)
	cfg.Redis.Addr = getEnvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = getEnvIntDefault("REDIS_DB", 0)
	cfg.Redis.LockTTLSeconds = getEnvIntDefault("REDIS_LOCK_TTL_SECONDS", 60)

	// Alert
	cfg.Alert.Enabled = getEnvBoolDefault("ALERT_TELEGRAM_ENABLED", false)
	cfg.Alert.BotToken = os.Getenv("ALERT_TELEGRAM_BOT_TOKEN")
	cfg.Alert.AdminChatID = getEnvInt64Default("ALERT_TELEGRAM_CHAT_ID", 0)

	// Scheduler
	cfg.Scheduler.Enabled = getEnvBoolDefault("SCHEDULER_ENABLED", true)
	cfg.Scheduler.ROISpec = getEnvDefault("SCHEDULE_ROI", "0 0 * * *")
	cfg.Scheduler.BinarySpec = getEnvDefault("SCHEDULE_BINARY", "0 12 * * *")
	cfg.Scheduler.WeeklySpec = getEnvDefault("SCHEDULE_WEEKLY", "0 0 * * 0")
	cfg.Scheduler.RankSpec = getEnvDefault("SCHEDULE_RANK", "0 6 * * *")

	// App
	cfg.App.Env = getEnvDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvDefault("LOG_LEVEL", "info")
	cfg.App.Port = getEnvIntDefault("APP_PORT", 8080)

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
	if config.Database.MaxConns < 1 || config.Database.MinConns < 0 || config.Database.MinConns > config.Database.MaxConns {
		return fmt.Errorf("некорректный размер пула: min=%d max=%d", config.Database.MinConns, config.Database.MaxConns)
	}
	if config.Alert.Enabled {
		if config.Alert.BotToken == "" {
			return fmt.Errorf("ALERT_TELEGRAM_BOT_TOKEN не установлен")
		}
		if config.Alert.AdminChatID == 0 {
			return fmt.Errorf("ALERT_TELEGRAM_CHAT_ID не установлен")
		}
	}
	if config.Redis.Enabled && config.Redis.LockTTLSeconds <= 0 {
		return fmt.Errorf("REDIS_LOCK_TTL_SECONDS должен быть положительным")
	}

	specs := map[string]string{
		"SCHEDULE_ROI":    config.Scheduler.ROISpec,
		"SCHEDULE_BINARY": config.Scheduler.BinarySpec,
		"SCHEDULE_WEEKLY": config.Scheduler.WeeklySpec,
		"SCHEDULE_RANK":   config.Scheduler.RankSpec,
	}
	for key, spec := range specs {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("некорректное расписание %s=%q: %w", key, spec, err)
		}
	}

	return nil
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
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

// LockTTL возвращает время жизни блокировки пользователя
func (c *RedisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}
