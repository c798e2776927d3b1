// Package reward распределяет еженедельный пул наград между держателями рангов.
package reward

import (
	"context"
	"errors"
	"time"

	"compensation-engine/internal/engine"
	"compensation-engine/internal/ledger"
	"compensation-engine/internal/lock"
	"compensation-engine/internal/settings"
	"compensation-engine/internal/store"
	"compensation-engine/pkg/models"

	"go.uber.org/zap"
)

// Task имя еженедельного цикла
const Task = "weekly"

// cycleKey исключает параллельное распределение одного периода
const cycleKey = "cycle:weekly"

// ReasonAlreadyRewarded пользователь уже получил награду за период
const ReasonAlreadyRewarded = "already rewarded"

// Engine движок еженедельных наград
type Engine struct {
	deps engine.Deps
}

// NewEngine создает движок еженедельных наград
func NewEngine(deps engine.Deps) *Engine {
	return &Engine{deps: deps.WithDefaults()}
}

// Pool доля оборота для одного ранга
type Pool struct {
	Rank    models.Rank `json:"rank"`
	Percent float64     `json:"percent"`
	Amount  float64     `json:"amount"`
	Members int         `json:"members"`
	Share   float64     `json:"share"`
}

// Pools делит оборот между рангами
func Pools(turnover float64, p *settings.Params, members map[models.Rank]int) []Pool {
	pools := make([]Pool, 0, models.RankCount-1)
	for r := models.RankSilver; r <= models.RankDiamond; r++ {
		pool := Pool{Rank: r, Percent: p.WeeklyRewardPercent(r), Members: members[r]}
		pool.Amount = turnover * pool.Percent / 100
		if pool.Members > 0 {
			pool.Share = pool.Amount / float64(pool.Members)
		}
		pools = append(pools, pool)
	}
	return pools
}

// RunCycle распределяет награды, если с прошлого распределения прошел интервал
func (e *Engine) RunCycle(ctx context.Context) (*models.CycleResult, error) {
	unlock, err := e.deps.Locker.TryLock(ctx, cycleKey)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			e.deps.Metrics.RecordLockContention(Task)
			return &models.CycleResult{Task: Task, Reason: models.ReasonLocked}, nil
		}
		return nil, err
	}
	defer unlock()

	params, err := e.deps.Settings.Load(ctx)
	if err != nil {
		e.deps.Metrics.RecordCycleFailure(Task, "settings")
		return nil, err
	}

	now := e.deps.Now()
	last, err := e.deps.Settings.Time(ctx, settings.KeyLastWeeklyRewardDist, time.Time{})
	if err != nil {
		return nil, err
	}
	if !last.IsZero() && last.Add(params.WeeklyRewardInterval).After(now) {
		e.deps.Logger.Debug("интервал еженедельных наград не прошел", zap.Time("last", last))
		return &models.CycleResult{Task: Task, Reason: models.ReasonIntervalNotElapsed, StartedAt: now, FinishedAt: now}, nil
	}

	since := last
	if since.IsZero() {
		since = now.Add(-params.WeeklyRewardInterval)
	}

	turnover, err := e.deps.Store.Transaction().SumCompleted(ctx, models.TransactionPurchase, since)
	if err != nil {
		e.deps.Metrics.RecordCycleFailure(Task, "store")
		return nil, err
	}
	if turnover <= 0 {
		if err := e.deps.Settings.Set(ctx, settings.KeyLastWeeklyRewardDist, now); err != nil {
			return nil, err
		}
		e.deps.Logger.Info("оборота за период нет, награды не распределяются", zap.Time("since", since))
		return &models.CycleResult{Task: Task, Reason: models.ReasonNoTurnover, StartedAt: now, FinishedAt: now}, nil
	}

	holders := make(map[models.Rank][]int64)
	members := make(map[models.Rank]int)
	for r := models.RankSilver; r <= models.RankDiamond; r++ {
		users, err := e.deps.Store.User().ListActiveByRank(ctx, r)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			holders[r] = append(holders[r], u.ID)
		}
		members[r] = len(users)
	}

	pools := Pools(turnover, params, members)
	shares := make(map[int64]float64)
	var ids []int64
	for _, pool := range pools {
		if pool.Share <= 0 {
			continue
		}
		for _, id := range holders[pool.Rank] {
			shares[id] = pool.Share
			ids = append(ids, id)
		}
		e.deps.Logger.Info("пул ранга рассчитан",
			zap.String("rank", pool.Rank.String()),
			zap.Float64("amount", pool.Amount),
			zap.Int("members", pool.Members))
	}

	result := engine.RunBatch(ctx, e.deps, Task, ids, nil, func(ctx context.Context, userID int64) models.UserCycleResult {
		return e.process(ctx, userID, shares[userID], since, turnover)
	})

	if err := e.deps.Settings.Set(ctx, settings.KeyLastWeeklyRewardDist, now); err != nil {
		return result, err
	}
	return result, nil
}

// process начисляет долю пользователю. Пользователь, получивший награду после since,
// пропускается, поэтому повтор прерванного цикла не дублирует выплаты.
func (e *Engine) process(ctx context.Context, userID int64, share float64, since time.Time, turnover float64) models.UserCycleResult {
	var result models.UserCycleResult

	err := e.deps.Store.InTx(ctx, func(tx store.Store) error {
		now := e.deps.Now()

		user, err := tx.User().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if user.LastRewardDistributed.After(since) {
			result = models.Skip(userID, ReasonAlreadyRewarded)
			return nil
		}

		_, err = e.deps.Ledger.Credit(ctx, tx, user, ledger.Entry{
			Type:        models.IncomeReward,
			Amount:      share,
			Description: "Weekly " + user.Rank.String() + " reward",
			Metadata: map[string]any{
				"rank":     user.Rank.String(),
				"turnover": turnover,
				"since":    since,
			},
		})
		if err != nil {
			return err
		}

		user.LastRewardDistributed = now
		if err := tx.User().Update(ctx, user); err != nil {
			return err
		}

		result = models.Success(userID, share)
		return nil
	})
	if err != nil {
		return models.Failure(userID, err)
	}
	return result
}
