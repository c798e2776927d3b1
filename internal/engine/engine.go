// Package engine содержит общие зависимости движков начислений и пакетный обход пользователей.
package engine

import (
	"context"
	"errors"
	"time"

	"compensation-engine/internal/alert"
	"compensation-engine/internal/ledger"
	"compensation-engine/internal/lock"
	"compensation-engine/internal/metrics"
	"compensation-engine/internal/oracle"
	"compensation-engine/internal/settings"
	"compensation-engine/internal/store"
	"compensation-engine/pkg/models"

	"go.uber.org/zap"
)

// Deps зависимости, общие для всех движков
type Deps struct {
	Store    store.Store
	Settings *settings.Service
	Prices   oracle.PriceSource
	Ledger   *ledger.Ledger
	Locker   lock.Locker
	Alerts   *alert.Reporter
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Now      func() time.Time
}

// WithDefaults заполняет необязательные зависимости
func (d Deps) WithDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Locker == nil {
		d.Locker = lock.NewMemory()
	}
	if d.Ledger == nil {
		d.Ledger = ledger.New(d.Metrics, d.Logger, d.Now)
	}
	return d
}

// UserFunc обрабатывает одного пользователя и возвращает его результат
type UserFunc func(ctx context.Context, userID int64) models.UserCycleResult

// RunBatch обходит пользователей по одному. Ошибка пользователя попадает в результат
// и не прерывает обход. keys задает блокировки, которые берутся на время обработки
// без ожидания.
func RunBatch(ctx context.Context, d Deps, task string, userIDs []int64,
	keys func(userID int64) []string, fn UserFunc) *models.CycleResult {

	result := &models.CycleResult{Task: task, StartedAt: d.Now()}
	start := time.Now()

	for _, id := range userIDs {
		if err := ctx.Err(); err != nil {
			d.Logger.Warn("цикл прерван",
				zap.String("task", task),
				zap.Int("processed", result.Processed),
				zap.Error(err))
			break
		}

		result.Add(runOne(ctx, d, task, id, keys, fn))
	}

	result.FinishedAt = d.Now()
	d.Metrics.RecordCycle(task, result.Succeeded, result.Skipped, result.Failed, time.Since(start))
	d.Logger.Info("цикл завершен",
		zap.String("task", task),
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Float64("total", result.Total))

	return result
}

func runOne(ctx context.Context, d Deps, task string, userID int64,
	keys func(userID int64) []string, fn UserFunc) models.UserCycleResult {

	lockKeys := []string{lock.UserKey(userID)}
	if keys != nil {
		lockKeys = keys(userID)
	}

	// занятый пользователь пропускается и будет обработан в следующем цикле
	unlock, err := lock.TryLockAll(ctx, d.Locker, lockKeys...)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			d.Metrics.RecordLockContention(task)
			return models.Skip(userID, models.ReasonLocked)
		}
		d.Logger.Error("не удалось получить блокировку",
			zap.String("task", task), zap.Int64("user_id", userID), zap.Error(err))
		return models.Failure(userID, err)
	}
	defer unlock()

	res := fn(ctx, userID)
	if res.Status == models.CycleError {
		d.Logger.Error("ошибка обработки пользователя",
			zap.String("task", task),
			zap.Int64("user_id", userID),
			zap.String("error", res.Error))
	}
	return res
}

// ActiveUserIDs возвращает ID активных пользователей в порядке возрастания
func ActiveUserIDs(ctx context.Context, st store.Store) ([]int64, error) {
	users, err := st.User().ListActive(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

// Load возвращает снимок параметров и курса для одного прохода
func Load(ctx context.Context, d Deps) (*settings.Params, *oracle.Quote, error) {
	params, err := d.Settings.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	quote, err := d.Prices.Quote(ctx)
	if err != nil {
		return nil, nil, err
	}
	return params, quote, nil
}
