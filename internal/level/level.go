// Package level распределяет доход по реферальной цепочке при покупке пакета.
package level

import (
	"context"
	"fmt"

	"compensation-engine/internal/engine"
	"compensation-engine/internal/ledger"
	"compensation-engine/internal/referral"
	"compensation-engine/internal/settings"
	"compensation-engine/internal/store"
	"compensation-engine/pkg/models"

	"go.uber.org/zap"
)

// Engine движок уровневого дохода
type Engine struct {
	deps      engine.Deps
	referrals *referral.Service
}

// NewEngine создает движок уровневого дохода
func NewEngine(deps engine.Deps, referrals *referral.Service) *Engine {
	return &Engine{deps: deps.WithDefaults(), referrals: referrals}
}

// Qualifies проверяет, открыт ли реферету уровень hop (начиная с 1)
func Qualifies(directReferrals, hop int) bool {
	return directReferrals >= hop
}

// Distribute начисляет процент от amount каждому квалифицированному рефереру
// вверх по цепочке и обновляет командные структуры. Выполняется внутри транзакции покупки.
func (e *Engine) Distribute(ctx context.Context, tx store.Store, buyer *models.User, amount float64, p *settings.Params) ([]*models.Income, error) {
	// команда учитывается на всю глубину, даже если таблица ставок короче
	upline, err := e.referrals.Upline(ctx, tx, buyer, models.TeamDepth, p.DefaultReferralID)
	if err != nil {
		return nil, err
	}

	var incomes []*models.Income
	for i, referrer := range upline {
		if i >= len(p.LevelIncomeFees) {
			break
		}
		hop := i + 1
		fee := p.LevelIncomeFees[i]
		if fee <= 0 || !Qualifies(referrer.DirectReferrals, hop) {
			continue
		}

		income, err := e.deps.Ledger.Credit(ctx, tx, referrer, ledger.Entry{
			Type:         models.IncomeLevel,
			Amount:       amount * fee / 100,
			SourceUserID: ledger.Int64(buyer.ID),
			Level:        ledger.Int(hop),
			Description:  fmt.Sprintf("Level %d income", hop),
			Metadata: map[string]any{
				"purchase_amount": amount,
				"fee_percent":     fee,
			},
		})
		if err != nil {
			return nil, err
		}
		if err := tx.User().Update(ctx, referrer); err != nil {
			return nil, err
		}
		incomes = append(incomes, income)
	}

	if err := e.referrals.RecordPurchase(ctx, tx, buyer.ID, upline, amount); err != nil {
		return nil, err
	}

	e.deps.Logger.Debug("уровневый доход распределен",
		zap.Int64("buyer_id", buyer.ID),
		zap.Float64("amount", amount),
		zap.Int("upline", len(upline)),
		zap.Int("credited", len(incomes)))

	return incomes, nil
}
