// Package autopool управляет глобальным четверичным деревом автопула.
// Позиции заполняются в порядке ширины, родитель вычисляется из номера позиции.
package autopool

import (
	"context"
	"errors"
	"fmt"

	"compensation-engine/internal/alert"
	"compensation-engine/internal/engine"
	"compensation-engine/internal/ledger"
	"compensation-engine/internal/lock"
	"compensation-engine/internal/store"
	"compensation-engine/pkg/models"

	"go.uber.org/zap"
)

// Width количество детей у каждой позиции
const Width = 4

const treeName = "autopool"

// LevelCapacity количество позиций на уровне
func LevelCapacity(level int) int64 {
	c := int64(1)
	for i := 0; i < level; i++ {
		c *= Width
	}
	return c
}

// LevelStart первая позиция уровня: (4^level - 1)/3 + 1
func LevelStart(level int) int64 {
	return (LevelCapacity(level)-1)/(Width-1) + 1
}

// FindLevel возвращает уровень позиции (корень на уровне 0)
func FindLevel(position int64) int {
	if position < 1 {
		return -1
	}
	level := 0
	for LevelStart(level+1) <= position {
		level++
	}
	return level
}

// ParentPosition возвращает позицию родителя, 0 для корня
func ParentPosition(position int64) int64 {
	level := FindLevel(position)
	if level <= 0 {
		return 0
	}
	return LevelStart(level-1) + (position-LevelStart(level))/Width
}

// Engine движок автопула
type Engine struct {
	deps engine.Deps
}

// NewEngine создает движок автопула
func NewEngine(deps engine.Deps) *Engine {
	return &Engine{deps: deps.WithDefaults()}
}

// Enrollment итог вступления в автопул
type Enrollment struct {
	Node    *models.AutopoolNode    `json:"node"`
	Payouts []models.AutopoolPayout `json:"payouts"`
}

// Enroll занимает следующую свободную позицию и выплачивает предкам
// фиксированные суммы по относительной глубине.
func (e *Engine) Enroll(ctx context.Context, userID int64) (*Enrollment, error) {
	unlock, err := lock.LockAll(ctx, e.deps.Locker, lock.AutopoolKey, lock.UserKey(userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	params, err := e.deps.Settings.Load(ctx)
	if err != nil {
		return nil, err
	}

	var result *Enrollment
	err = e.deps.Store.InTx(ctx, func(tx store.Store) error {
		if _, err := tx.User().GetByID(ctx, userID); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("пользователь %d: %w", userID, models.ErrUserNotFound)
			}
			return err
		}

		if _, err := tx.Autopool().GetByUserID(ctx, userID); err == nil {
			return fmt.Errorf("пользователь %d: %w", userID, models.ErrAlreadyEnrolled)
		} else if !errors.Is(err, models.ErrNotFound) {
			return err
		}

		position, err := tx.Autopool().NextPosition(ctx)
		if err != nil {
			return err
		}

		node := &models.AutopoolNode{
			UserID:         userID,
			Position:       position,
			ParentPosition: ParentPosition(position),
			Level:          FindLevel(position),
			IsEligible:     true,
			JoinedAt:       e.deps.Now(),
		}
		if err := tx.Autopool().Create(ctx, node); err != nil {
			return err
		}

		if err := e.linkToParent(ctx, tx, node); err != nil {
			return err
		}

		payouts, err := e.payAncestors(ctx, tx, node, params.AutopoolFees)
		if err != nil {
			return err
		}

		result = &Enrollment{Node: node, Payouts: payouts}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.deps.Logger.Info("участник вступил в автопул",
		zap.Int64("user_id", userID),
		zap.Int64("position", result.Node.Position),
		zap.Int("level", result.Node.Level),
		zap.Int("payouts", len(result.Payouts)))

	return result, nil
}

// linkToParent добавляет позицию в список детей родителя
func (e *Engine) linkToParent(ctx context.Context, tx store.Store, node *models.AutopoolNode) error {
	if node.ParentPosition == 0 {
		return nil
	}

	parent, err := tx.Autopool().GetByPosition(ctx, node.ParentPosition)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			details := fmt.Sprintf("позиция %d ссылается на отсутствующую позицию %d", node.Position, node.ParentPosition)
			e.deps.Alerts.Structural(ctx, treeName, alert.KindMissingParent, node.UserID, details)
			return fmt.Errorf("%s: %w", details, models.ErrStructuralInconsistency)
		}
		return err
	}
	if len(parent.Children) >= Width {
		details := fmt.Sprintf("у позиции %d уже %d детей", parent.Position, len(parent.Children))
		e.deps.Alerts.Structural(ctx, treeName, alert.KindAutopoolChain, parent.UserID, details)
		return fmt.Errorf("%s: %w", details, models.ErrStructuralInconsistency)
	}

	parent.Children = append(parent.Children, node.Position)
	return tx.Autopool().Update(ctx, parent)
}

// payAncestors начисляет доход предкам вверх по цепочке
func (e *Engine) payAncestors(ctx context.Context, tx store.Store, node *models.AutopoolNode, fees []float64) ([]models.AutopoolPayout, error) {
	if node.ParentPosition == 0 {
		return nil, nil
	}

	var payouts []models.AutopoolPayout
	current := node
	for depth := 0; current.ParentPosition != 0 && depth < len(fees); depth++ {
		ancestor, err := tx.Autopool().GetByPosition(ctx, current.ParentPosition)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				details := fmt.Sprintf("позиция %d ссылается на отсутствующую позицию %d", current.Position, current.ParentPosition)
				e.deps.Alerts.Structural(ctx, treeName, alert.KindMissingParent, current.UserID, details)
				return nil, fmt.Errorf("%s: %w", details, models.ErrStructuralInconsistency)
			}
			return nil, err
		}
		if ancestor.ParentPosition != ParentPosition(ancestor.Position) {
			details := fmt.Sprintf("позиция %d хранит родителя %d вместо %d",
				ancestor.Position, ancestor.ParentPosition, ParentPosition(ancestor.Position))
			e.deps.Alerts.Structural(ctx, treeName, alert.KindAutopoolChain, ancestor.UserID, details)
			return nil, fmt.Errorf("%s: %w", details, models.ErrStructuralInconsistency)
		}

		fee := fees[depth]
		if ancestor.IsEligible && fee > 0 {
			user, err := tx.User().GetByID(ctx, ancestor.UserID)
			if err != nil {
				return nil, err
			}
			_, err = e.deps.Ledger.Credit(ctx, tx, user, ledger.Entry{
				Type:         models.IncomeAutopool,
				Amount:       fee,
				SourceUserID: ledger.Int64(node.UserID),
				Level:        ledger.Int(depth + 1),
				Description:  fmt.Sprintf("Autopool level %d income", depth+1),
				Metadata: map[string]any{
					"position":        ancestor.Position,
					"source_position": node.Position,
				},
			})
			if err != nil {
				return nil, err
			}
			if err := tx.User().Update(ctx, user); err != nil {
				return nil, err
			}
			ancestor.TotalEarned += fee
			payouts = append(payouts, models.AutopoolPayout{
				UserID:   ancestor.UserID,
				Position: ancestor.Position,
				Level:    depth + 1,
				Amount:   fee,
			})
		}

		if err := tx.Autopool().Update(ctx, ancestor); err != nil {
			return nil, err
		}
		current = ancestor
	}
	return payouts, nil
}

// Position возвращает позицию пользователя в автопуле
func (e *Engine) Position(ctx context.Context, userID int64) (*models.AutopoolNode, error) {
	return e.deps.Store.Autopool().GetByUserID(ctx, userID)
}

// Overview возвращает заполненность уровней, на которые распространяются выплаты
func (e *Engine) Overview(ctx context.Context) ([]models.AutopoolLevelStats, error) {
	params, err := e.deps.Settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := e.deps.Store.Autopool().CountByLevel(ctx)
	if err != nil {
		return nil, err
	}

	levels := len(params.AutopoolFees) + 1
	stats := make([]models.AutopoolLevelStats, 0, levels)
	var total int64
	for level := 0; level < levels; level++ {
		capacity := LevelCapacity(level)
		members := counts[level]
		total += members

		var fee float64
		if level > 0 {
			fee = params.AutopoolFees[level-1]
		}
		stats = append(stats, models.AutopoolLevelStats{
			Level:      level,
			Members:    members,
			MaxMembers: capacity,
			Fee:        fee,
			Progress:   float64(members) / float64(capacity) * 100,
		})
	}

	e.deps.Metrics.SetGauge("autopool_members", float64(total))
	return stats, nil
}
