package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadConfig(t *testing.T) {
	// Устанавливаем переменные окружения для теста
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "test_user")
	t.Setenv("DB_PASSWORD", "test_password")
	t.Setenv("DB_NAME", "test_db")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "test_user", cfg.Database.User)
	assert.Equal(t, "test_password", cfg.Database.Password)
	assert.Equal(t, "test_db", cfg.Database.Name)

	// Проверяем значения по умолчанию
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.Equal(t, int32(2), cfg.Database.MinConns)
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "0 0 * * *", cfg.Scheduler.ROISpec)
	assert.Equal(t, "0 12 * * *", cfg.Scheduler.BinarySpec)
	assert.Equal(t, "0 0 * * 0", cfg.Scheduler.WeeklySpec)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Alert.Enabled)
}

func TestLoadConfigInvalidSchedule(t *testing.T) {
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "test_user")
	t.Setenv("DB_PASSWORD", "test_password")
	t.Setenv("DB_NAME", "test_db")
	t.Setenv("SCHEDULE_ROI", "каждый день")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "test_user",
		Password: "test_password",
		Name:     "test_db",
		SSLMode:  "disable",
	}

	dsn := cfg.GetDSN()
	expected := "host=localhost port=5432 user=test_user password=test_password dbname=test_db sslmode=disable"
	assert.Equal(t, expected, dsn)
}

func TestAppConfigMethods(t *testing.T) {
	cfg := &AppConfig{
		Env:      "development",
		LogLevel: "debug",
	}

	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, zap.DebugLevel, cfg.GetLogLevel().Level())

	cfg.Env = "production"
	cfg.LogLevel = "unknown"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, zap.InfoLevel, cfg.GetLogLevel().Level())
}

func validBase() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			User:     "test_user",
			Password: "test_password",
			Name:     "test_db",
			MaxConns: 10,
			MinConns: 2,
		},
		Scheduler: SchedulerConfig{
			ROISpec:    "0 0 * * *",
			BinarySpec: "0 12 * * *",
			WeeklySpec: "0 0 * * 0",
			RankSpec:   "0 6 * * *",
		},
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "корректная конфигурация", mutate: func(c *Config) {}},
		{name: "нет хоста", mutate: func(c *Config) { c.Database.Host = "" }, wantErr: true},
		{name: "min больше max", mutate: func(c *Config) { c.Database.MinConns = 20 }, wantErr: true},
		{name: "алерты без токена", mutate: func(c *Config) { c.Alert.Enabled = true; c.Alert.AdminChatID = 1 }, wantErr: true},
		{name: "алерты без чата", mutate: func(c *Config) { c.Alert.Enabled = true; c.Alert.BotToken = "t" }, wantErr: true},
		{name: "алерты настроены", mutate: func(c *Config) {
			c.Alert = AlertConfig{Enabled: true, BotToken: "t", AdminChatID: 42}
		}},
		{name: "redis без ttl", mutate: func(c *Config) { c.Redis.Enabled = true }, wantErr: true},
		{name: "неверный cron", mutate: func(c *Config) { c.Scheduler.BinarySpec = "* *" }, wantErr: true},
	}

	assert.Error(t, validateConfig(&Config{}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBase()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
