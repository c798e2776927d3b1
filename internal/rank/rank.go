// Package rank пересчитывает квалификационные ранги пользователей.
package rank

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"compensation-engine/internal/engine"
	"compensation-engine/internal/oracle"
	"compensation-engine/internal/referral"
	"compensation-engine/internal/settings"
	"compensation-engine/internal/store"
	"compensation-engine/pkg/models"

	"go.uber.org/zap"
)

// Task имя цикла пересчета рангов
const Task = "rank"

// Engine движок рангов
type Engine struct {
	deps engine.Deps
}

// NewEngine создает движок рангов
func NewEngine(deps engine.Deps) *Engine {
	return &Engine{deps: deps.WithDefaults()}
}

// Snapshot показатели пользователя для оценки ранга
type Snapshot struct {
	SelfVolumeUSD   float64 `json:"self_volume_usd"`
	DirectReferrals int     `json:"direct_referrals"`
	DirectVolumeUSD float64 `json:"direct_volume_usd"`
	// RankCounts количество участников команды по рангам
	RankCounts [models.RankCount]int `json:"rank_counts"`
}

// Evaluate возвращает наивысший ранг, все пороги которого выполнены
func Evaluate(s Snapshot, requirements []settings.RankRequirement) models.Rank {
	reqs := make([]settings.RankRequirement, len(requirements))
	copy(reqs, requirements)
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Rank > reqs[j].Rank })

	team := models.TeamStructure{RankCounts: s.RankCounts}
	for _, req := range reqs {
		if s.SelfVolumeUSD < req.SelfVolumeUSD ||
			s.DirectReferrals < req.DirectReferrals ||
			s.DirectVolumeUSD < req.DirectVolumeUSD {
			continue
		}
		if req.LowerRankMembers > 0 && team.MembersAt(req.Rank-1) < req.LowerRankMembers {
			continue
		}
		return req.Rank
	}
	return models.RankNone
}

// snapshot собирает показатели пользователя в долларах по курсу quote
func snapshot(user *models.User, team *models.TeamStructure, quote *oracle.Quote) (Snapshot, error) {
	selfUSD, err := quote.ToUSD(user.SelfVolume)
	if err != nil {
		return Snapshot{}, err
	}
	directUSD, err := quote.ToUSD(team.DirectBusiness)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		SelfVolumeUSD:   selfUSD,
		DirectReferrals: user.DirectReferrals,
		DirectVolumeUSD: directUSD,
		RankCounts:      team.RankCounts,
	}, nil
}

// RunCycle пересчитывает ранги всех активных пользователей
func (e *Engine) RunCycle(ctx context.Context) (*models.CycleResult, error) {
	params, quote, err := engine.Load(ctx, e.deps)
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
		return e.process(ctx, userID, params, quote)
	}), nil
}

// Preview возвращает ранг, который получит пользователь при пересчете
func (e *Engine) Preview(ctx context.Context, userID int64) (models.Rank, error) {
	params, quote, err := engine.Load(ctx, e.deps)
	if err != nil {
		return models.RankNone, err
	}
	user, err := e.deps.Store.User().GetByID(ctx, userID)
	if err != nil {
		return models.RankNone, err
	}
	team, err := referral.LoadTeam(ctx, e.deps.Store, userID)
	if err != nil {
		return models.RankNone, err
	}
	s, err := snapshot(user, team, quote)
	if err != nil {
		return models.RankNone, err
	}
	return Evaluate(s, params.RankRequirements), nil
}

func (e *Engine) process(ctx context.Context, userID int64, p *settings.Params, quote *oracle.Quote) models.UserCycleResult {
	var result models.UserCycleResult

	err := e.deps.Store.InTx(ctx, func(tx store.Store) error {
		user, err := tx.User().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		team, err := referral.LoadTeam(ctx, tx, userID)
		if err != nil {
			return err
		}

		s, err := snapshot(user, team, quote)
		if err != nil {
			return err
		}
		newRank := Evaluate(s, p.RankRequirements)
		if newRank == user.Rank {
			result = models.Skip(userID, models.ReasonUnchanged)
			return nil
		}

		oldRank := user.Rank
		user.Rank = newRank
		if err := tx.User().Update(ctx, user); err != nil {
			return err
		}

		if err := e.shiftReferrer(ctx, tx, user, oldRank, newRank, p.DefaultReferralID); err != nil {
			return err
		}

		e.deps.Logger.Info("ранг пользователя изменен",
			zap.Int64("user_id", userID),
			zap.String("from", oldRank.String()),
			zap.String("to", newRank.String()))

		result = models.Success(userID, 0)
		result.Reason = fmt.Sprintf("%s -> %s", oldRank, newRank)
		return nil
	})
	if err != nil {
		return models.Failure(userID, err)
	}
	return result
}

// shiftReferrer переносит пользователя между счетчиками рангов в команде реферера
func (e *Engine) shiftReferrer(ctx context.Context, tx store.Store, user *models.User, oldRank, newRank models.Rank, rootID int64) error {
	if user.ReferrerID == 0 || user.ReferrerID == rootID {
		return nil
	}
	if _, err := tx.User().GetByID(ctx, user.ReferrerID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}

	team, err := referral.LoadTeam(ctx, tx, user.ReferrerID)
	if err != nil {
		return err
	}
	team.ShiftRank(oldRank, newRank)
	return referral.SaveTeam(ctx, tx, team)
}
