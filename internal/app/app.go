// Package app собирает хранилище, блокировки, оповещения и движки начислений в одно целое.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"compensation-engine/internal/alert"
	"compensation-engine/internal/autopool"
	"compensation-engine/internal/binary"
	"compensation-engine/internal/config"
	"compensation-engine/internal/engine"
	"compensation-engine/internal/ledger"
	"compensation-engine/internal/level"
	"compensation-engine/internal/lock"
	"compensation-engine/internal/metrics"
	"compensation-engine/internal/oracle"
	"compensation-engine/internal/purchase"
	"compensation-engine/internal/rank"
	"compensation-engine/internal/referral"
	"compensation-engine/internal/reward"
	"compensation-engine/internal/roi"
	"compensation-engine/internal/scheduler"
	"compensation-engine/internal/settings"
	"compensation-engine/internal/store"
	"compensation-engine/internal/user"
	"compensation-engine/internal/withdrawal"
	"compensation-engine/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App содержит все сервисы движка начислений
type App struct {
	Store    store.Store
	Metrics  *metrics.Metrics
	Settings *settings.Service
	Oracle   *oracle.Oracle
	Locker   lock.Locker
	Alerts   *alert.Reporter

	Referrals   *referral.Service
	Binary      *binary.Engine
	Autopool    *autopool.Engine
	ROI         *roi.Engine
	Level       *level.Engine
	Rank        *rank.Engine
	Reward      *reward.Engine
	Users       *user.Service
	Purchases   *purchase.Service
	Withdrawals *withdrawal.Service

	redis  *redis.Client
	logger *zap.Logger
}

// New собирает приложение поверх готового хранилища
func New(cfg *config.Config, st store.Store, reg prometheus.Registerer, logger *zap.Logger) (*App, error) {
	a := &App{Store: st, logger: logger}

	a.Metrics = metrics.New(logger, reg)
	a.Settings = settings.NewService(st.Setting(), logger)
	a.Oracle = oracle.New(a.Settings, logger)

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Alerts = alert.NewReporter(notifier, a.Metrics, logger)

	a.Locker = lock.NewMemory()
	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.Locker = lock.NewRedis(a.redis, cfg.Redis.LockTTL(), logger)
		logger.Info("распределенные блокировки через Redis", zap.String("addr", cfg.Redis.Addr))
	}

	deps := engine.Deps{
		Store:    st,
		Settings: a.Settings,
		Prices:   a.Oracle,
		Ledger:   ledger.New(a.Metrics, logger, time.Now),
		Locker:   a.Locker,
		Alerts:   a.Alerts,
		Metrics:  a.Metrics,
		Logger:   logger,
		Now:      time.Now,
	}

	a.Referrals = referral.NewService(st, a.Alerts, logger)
	a.Binary = binary.NewEngine(deps)
	a.Autopool = autopool.NewEngine(deps)
	a.ROI = roi.NewEngine(deps)
	a.Level = level.NewEngine(deps, a.Referrals)
	a.Rank = rank.NewEngine(deps)
	a.Reward = reward.NewEngine(deps)
	a.Users = user.NewService(deps, a.Binary)
	a.Purchases = purchase.NewService(deps, a.Binary, a.Level)
	a.Withdrawals = withdrawal.NewService(deps)

	return a, nil
}

func newNotifier(cfg *config.Config, logger *zap.Logger) (alert.Notifier, error) {
	if !cfg.Alert.Enabled {
		return alert.NewLogNotifier(logger), nil
	}
	n, err := alert.NewTelegramNotifier(cfg.Alert.BotToken, cfg.Alert.AdminChatID, logger)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации оповещений Telegram: %w", err)
	}
	return n, nil
}

// Cycles возвращает пакетные циклы по именам задач
func (a *App) Cycles() map[string]scheduler.Cycle {
	return map[string]scheduler.Cycle{
		roi.Task:    a.ROI,
		binary.Task: a.Binary,
		reward.Task: a.Reward,
		rank.Task:   a.Rank,
	}
}

// HealthChecks возвращает проверки зависимостей для /health
func (a *App) HealthChecks() map[string]metrics.HealthChecker {
	checks := map[string]metrics.HealthChecker{
		"database": func(ctx context.Context) error {
			_, err := a.Store.Setting().Get(ctx, settings.KeyTokenPrice)
			if err != nil && !errors.Is(err, models.ErrNotFound) {
				return err
			}
			return nil
		},
		"oracle": func(ctx context.Context) error {
			q, err := a.Oracle.Quote(ctx)
			if err != nil {
				return err
			}
			a.Metrics.SetGauge("token_price_usd", q.Price())
			return nil
		},
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Close освобождает соединения
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}
