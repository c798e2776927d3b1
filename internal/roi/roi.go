// Package roi начисляет ежедневный доход на активные пакеты пользователя.
package roi

import (
	"context"

	"compensation-engine/internal/engine"
	"compensation-engine/internal/ledger"
	"compensation-engine/internal/lock"
	"compensation-engine/internal/settings"
	"compensation-engine/internal/store"
	"compensation-engine/pkg/models"

	"go.uber.org/zap"
)

// Task имя цикла ROI
const Task = "roi"

// Engine движок ежедневного дохода
type Engine struct {
	deps engine.Deps
}

// NewEngine создает движок ROI
func NewEngine(deps engine.Deps) *Engine {
	return &Engine{deps: deps.WithDefaults()}
}

// Amount возвращает ROI за период: rate промилле от активного объема
func Amount(rate, activeVolume float64) float64 {
	return rate * activeVolume / 1000
}

// RunCycle начисляет ROI всем активным пользователям
func (e *Engine) RunCycle(ctx context.Context) (*models.CycleResult, error) {
	params, err := e.deps.Settings.Load(ctx)
	if err != nil {
		e.deps.Metrics.RecordCycleFailure(Task, "settings")
		return nil, err
	}
	ids, err := engine.ActiveUserIDs(ctx, e.deps.Store)
	if err != nil {
		e.deps.Metrics.RecordCycleFailure(Task, "store")
		return nil, err
	}

	return engine.RunBatch(ctx, e.deps, Task, ids, nil, func(ctx context.Context, userID int64) models.UserCycleResult {
		return e.process(ctx, userID, params)
	}), nil
}

// ProcessUser начисляет ROI одному пользователю
func (e *Engine) ProcessUser(ctx context.Context, userID int64) (models.UserCycleResult, error) {
	params, err := e.deps.Settings.Load(ctx)
	if err != nil {
		return models.UserCycleResult{}, err
	}
	unlock, err := e.deps.Locker.Lock(ctx, lock.UserKey(userID))
	if err != nil {
		return models.UserCycleResult{}, err
	}
	defer unlock()

	return e.process(ctx, userID, params), nil
}

func (e *Engine) process(ctx context.Context, userID int64, p *settings.Params) models.UserCycleResult {
	var result models.UserCycleResult

	err := e.deps.Store.InTx(ctx, func(tx store.Store) error {
		now := e.deps.Now()

		user, err := tx.User().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if now.Sub(user.RegisteredAt) >= p.MaxROIWindow() {
			result = models.Skip(userID, models.ReasonROIWindowExpired)
			return nil
		}
		if !user.LastROIDistributed.IsZero() && now.Sub(user.LastROIDistributed) < p.IncomeInterval {
			result = models.Skip(userID, models.ReasonIntervalNotElapsed)
			return nil
		}

		packages, err := tx.Package().ListUserPackages(ctx, userID, true)
		if err != nil {
			return err
		}
		if len(packages) == 0 {
			result = models.Skip(userID, models.ReasonNoActivePackages)
			return nil
		}

		var activeVolume float64
		for _, pkg := range packages {
			activeVolume += pkg.TokenAmount
		}
		amount := Amount(p.DailyROIRate, activeVolume)

		// старые пакеты заполняются первыми, остаток сверх потолков теряется
		remaining := amount
		var credited float64
		var completed int
		for _, pkg := range packages {
			if remaining <= 0 {
				break
			}
			part := pkg.Credit(remaining, now)
			if part <= 0 {
				continue
			}
			remaining -= part
			credited += part
			if !pkg.IsActive {
				completed++
			}
			if err := tx.Package().UpdateUserPackage(ctx, pkg); err != nil {
				return err
			}
		}

		if credited > 0 {
			_, err := e.deps.Ledger.Credit(ctx, tx, user, ledger.Entry{
				Type:        models.IncomeROI,
				Amount:      credited,
				Description: "Daily ROI",
				Metadata: map[string]any{
					"active_volume":      activeVolume,
					"rate":               p.DailyROIRate,
					"packages":           len(packages),
					"completed_packages": completed,
				},
			})
			if err != nil {
				return err
			}
		}

		user.LastROIDistributed = now
		if err := tx.User().Update(ctx, user); err != nil {
			return err
		}

		if completed > 0 {
			e.deps.Logger.Info("пакеты достигли потолка",
				zap.Int64("user_id", userID),
				zap.Int("completed", completed))
		}

		result = models.Success(userID, credited)
		return nil
	})
	if err != nil {
		return models.Failure(userID, err)
	}
	return result
}
