// Package binary управляет бинарным деревом размещения: позиция участника,
// подъем объема к предкам и периодическое сопоставление ног.
package binary

import (
	"context"
	"errors"
	"fmt"

	"compensation-engine/internal/alert"
	"compensation-engine/internal/engine"
	"compensation-engine/internal/ledger"
	"compensation-engine/internal/lock"
	"compensation-engine/internal/oracle"
	"compensation-engine/internal/settings"
	"compensation-engine/internal/store"
	"compensation-engine/pkg/models"

	"go.uber.org/zap"
)

const (
	// Task имя цикла бинарного дохода
	Task = "binary"

	treeName = "binary"
)

// Engine движок бинарного дерева
type Engine struct {
	deps engine.Deps
}

// NewEngine создает движок бинарного дерева
func NewEngine(deps engine.Deps) *Engine {
	return &Engine{deps: deps.WithDefaults()}
}

// Match итог сопоставления ног
type Match struct {
	MatchingVolume float64 `json:"matching_volume"`
	RawIncome      float64 `json:"raw_income"`
	Ceiling        float64 `json:"ceiling"`
	Income         float64 `json:"income"`
	CeilingApplied bool    `json:"ceiling_applied"`
	NewLeft        float64 `json:"new_left"`
	NewRight       float64 `json:"new_right"`
}

// Compute сопоставляет ноги. Слабая нога обнуляется (при равенстве левая),
// сильная сохраняет остаток. Доход ограничен потолком.
func Compute(left, right, feePercent, ceiling float64) Match {
	m := Match{Ceiling: ceiling}
	if left <= 0 || right <= 0 {
		m.NewLeft, m.NewRight = left, right
		return m
	}

	m.MatchingVolume = min(left, right)
	m.RawIncome = m.MatchingVolume * feePercent / 100
	m.Income = m.RawIncome
	if m.Income > ceiling {
		m.Income = ceiling
		m.CeilingApplied = true
	}

	if left <= right {
		m.NewLeft = 0
		m.NewRight = right - m.MatchingVolume
	} else {
		m.NewLeft = left - m.MatchingVolume
		m.NewRight = 0
	}
	return m
}

// Place размещает узел пользователя в крайний свободный слот на стороне side
// под его реферером. Пользователь без реального реферера становится корнем.
// Повторный вызов для размещенного узла ничего не меняет.
func (e *Engine) Place(ctx context.Context, tx store.Store, user *models.User, side models.Side, rootID int64) (*models.BinaryNode, error) {
	if !side.IsValid() {
		return nil, fmt.Errorf("сторона %d: %w", side, models.ErrInvalidState)
	}

	node, err := tx.Binary().Get(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения узла %d: %w", user.ID, err)
	}
	if node.Placed {
		return node, nil
	}

	if user.ReferrerID == 0 || user.ReferrerID == rootID {
		node.Placed = true
		node.ParentID = 0
		if err := tx.Binary().Update(ctx, node); err != nil {
			return nil, err
		}
		return node, nil
	}

	parent, err := e.extremeSlot(ctx, tx, user.ReferrerID, side)
	if err != nil {
		return nil, err
	}

	parent.SetChild(side, user.ID)
	parent.AddCount(side)
	if err := tx.Binary().Update(ctx, parent); err != nil {
		return nil, err
	}

	node.ParentID = parent.UserID
	node.Position = side
	node.Placed = true
	if err := tx.Binary().Update(ctx, node); err != nil {
		return nil, err
	}

	// счетчики выше непосредственного родителя
	if err := e.walkUp(ctx, tx, parent, func(ancestor *models.BinaryNode, from models.Side) error {
		ancestor.AddCount(from)
		return tx.Binary().Update(ctx, ancestor)
	}); err != nil {
		return nil, err
	}

	e.deps.Logger.Info("участник размещен в бинарном дереве",
		zap.Int64("user_id", user.ID),
		zap.Int64("parent_id", parent.UserID),
		zap.String("side", side.String()))

	return node, nil
}

// extremeSlot спускается от sponsorID по указателям стороны side до свободного слота
func (e *Engine) extremeSlot(ctx context.Context, tx store.Store, sponsorID int64, side models.Side) (*models.BinaryNode, error) {
	current, err := tx.Binary().Get(ctx, sponsorID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("узел спонсора %d: %w", sponsorID, models.ErrNodeNotFound)
		}
		return nil, err
	}

	visited := map[int64]bool{current.UserID: true}
	for {
		childID := current.Child(side)
		if childID == 0 {
			return current, nil
		}
		if visited[childID] {
			details := fmt.Sprintf("повтор узла %d при поиске слота под %d", childID, sponsorID)
			e.deps.Alerts.Structural(ctx, treeName, alert.KindCycle, childID, details)
			return nil, fmt.Errorf("%s: %w", details, models.ErrStructuralInconsistency)
		}
		visited[childID] = true

		next, err := tx.Binary().Get(ctx, childID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				details := fmt.Sprintf("узел %d ссылается на отсутствующего ребенка %d", current.UserID, childID)
				e.deps.Alerts.Structural(ctx, treeName, alert.KindMissingParent, current.UserID, details)
				return nil, fmt.Errorf("%s: %w", details, models.ErrStructuralInconsistency)
			}
			return nil, err
		}
		current = next
	}
}

// walkUp вызывает fn для каждого предка start, передавая сторону, с которой пришел подъем.
// Повтор узла, ссылка на себя или отсутствующий родитель регистрируются как нарушение
// и завершают подъем. Уже примененные изменения сохраняются.
func (e *Engine) walkUp(ctx context.Context, tx store.Store, start *models.BinaryNode,
	fn func(ancestor *models.BinaryNode, side models.Side) error) error {

	visited := map[int64]bool{start.UserID: true}
	current := start

	for current.Placed && current.ParentID != 0 {
		parentID := current.ParentID
		if parentID == current.UserID {
			e.deps.Alerts.Structural(ctx, treeName, alert.KindSelfParent, current.UserID,
				fmt.Sprintf("узел %d является родителем самого себя", current.UserID))
			return nil
		}
		if visited[parentID] {
			e.deps.Alerts.Structural(ctx, treeName, alert.KindCycle, start.UserID,
				fmt.Sprintf("повтор узла %d при подъеме от %d", parentID, start.UserID))
			return nil
		}
		visited[parentID] = true

		parent, err := tx.Binary().Get(ctx, parentID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				e.deps.Alerts.Structural(ctx, treeName, alert.KindMissingParent, current.UserID,
					fmt.Sprintf("родитель %d узла %d не найден", parentID, current.UserID))
				return nil
			}
			return err
		}

		if err := fn(parent, current.Position); err != nil {
			return err
		}
		current = parent
	}
	return nil
}

// PropagateVolume добавляет объем на соответствующую ногу каждого предка пользователя
func (e *Engine) PropagateVolume(ctx context.Context, tx store.Store, userID int64, amount float64) (int, error) {
	if amount <= 0 {
		return 0, nil
	}

	node, err := tx.Binary().Get(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения узла %d: %w", userID, err)
	}

	var updated int
	err = e.walkUp(ctx, tx, node, func(ancestor *models.BinaryNode, from models.Side) error {
		ancestor.AddVolume(from, amount)
		if err := tx.Binary().Update(ctx, ancestor); err != nil {
			return err
		}
		updated++
		return nil
	})
	if err != nil {
		return updated, err
	}

	e.deps.Logger.Debug("объем поднят по дереву",
		zap.Int64("user_id", userID),
		zap.Float64("amount", amount),
		zap.Int("ancestors", updated))

	return updated, nil
}

// RunCycle выполняет сопоставление ног для всех активных пользователей
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

	return engine.RunBatch(ctx, e.deps, Task, ids, lockKeys, func(ctx context.Context, userID int64) models.UserCycleResult {
		return e.process(ctx, userID, params, quote)
	}), nil
}

// ProcessUser выполняет сопоставление для одного пользователя
func (e *Engine) ProcessUser(ctx context.Context, userID int64) (models.UserCycleResult, error) {
	params, quote, err := engine.Load(ctx, e.deps)
	if err != nil {
		return models.UserCycleResult{}, err
	}
	unlock, err := lock.LockAll(ctx, e.deps.Locker, lockKeys(userID)...)
	if err != nil {
		return models.UserCycleResult{}, err
	}
	defer unlock()

	return e.process(ctx, userID, params, quote), nil
}

func lockKeys(userID int64) []string {
	return []string{lock.TreeKey, lock.UserKey(userID)}
}

func (e *Engine) process(ctx context.Context, userID int64, p *settings.Params, quote *oracle.Quote) models.UserCycleResult {
	var result models.UserCycleResult

	err := e.deps.Store.InTx(ctx, func(tx store.Store) error {
		now := e.deps.Now()

		node, err := tx.Binary().Get(ctx, userID)
		if err != nil {
			return err
		}
		if node.LastBinaryProcess != nil && now.Sub(*node.LastBinaryProcess) < p.IncomeInterval {
			result = models.Skip(userID, models.ReasonIntervalNotElapsed)
			return nil
		}
		if node.LeftVolume <= 0 || node.RightVolume <= 0 {
			result = models.Skip(userID, models.ReasonNoMatchingVolume)
			return nil
		}

		ceiling, ok, err := e.ceiling(ctx, tx, userID, quote)
		if err != nil {
			return err
		}
		if !ok {
			result = models.Skip(userID, models.ReasonNoActivePackages)
			return nil
		}

		m := Compute(node.LeftVolume, node.RightVolume, p.BinaryFee, ceiling)

		node.LeftVolume, node.RightVolume = m.NewLeft, m.NewRight
		node.LeftCarryForward, node.RightCarryForward = m.NewLeft, m.NewRight
		node.LastBinaryProcess = &now
		if err := tx.Binary().Update(ctx, node); err != nil {
			return err
		}

		if m.Income > 0 {
			user, err := tx.User().GetByID(ctx, userID)
			if err != nil {
				return err
			}
			_, err = e.deps.Ledger.Credit(ctx, tx, user, ledger.Entry{
				Type:        models.IncomeBinary,
				Amount:      m.Income,
				Description: "Binary matching income",
				Metadata: map[string]any{
					"matching_volume": m.MatchingVolume,
					"raw_income":      m.RawIncome,
					"ceiling":         m.Ceiling,
					"ceiling_applied": m.CeilingApplied,
					"binary_fee":      p.BinaryFee,
				},
			})
			if err != nil {
				return err
			}
			user.LastBinaryDistributed = now
			if err := tx.User().Update(ctx, user); err != nil {
				return err
			}
		}

		result = models.Success(userID, m.Income)
		return nil
	})
	if err != nil {
		return models.Failure(userID, err)
	}
	return result
}

// ceiling возвращает стоимость самого дорогого активного пакета в токенах
func (e *Engine) ceiling(ctx context.Context, tx store.Store, userID int64, quote *oracle.Quote) (float64, bool, error) {
	packages, err := tx.Package().ListUserPackages(ctx, userID, true)
	if err != nil {
		return 0, false, err
	}
	if len(packages) == 0 {
		return 0, false, nil
	}

	var maxUSD float64
	for _, pkg := range packages {
		maxUSD = max(maxUSD, pkg.AmountPaid)
	}
	tokens, err := quote.ToTokens(maxUSD)
	if err != nil {
		return 0, false, err
	}
	return tokens, true, nil
}

// Preview рассчитывает сопоставление без записи
func (e *Engine) Preview(ctx context.Context, userID int64) (*Match, error) {
	params, quote, err := engine.Load(ctx, e.deps)
	if err != nil {
		return nil, err
	}
	node, err := e.deps.Store.Binary().Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	ceiling, _, err := e.ceiling(ctx, e.deps.Store, userID, quote)
	if err != nil {
		return nil, err
	}
	m := Compute(node.LeftVolume, node.RightVolume, params.BinaryFee, ceiling)
	return &m, nil
}

// Legs возвращает сведения о ногах пользователя
func (e *Engine) Legs(ctx context.Context, userID int64) (*models.BinaryLegs, error) {
	node, err := e.deps.Store.Binary().Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.BinaryLegs{
		UserID:            node.UserID,
		LeftChildID:       node.LeftChildID,
		RightChildID:      node.RightChildID,
		LeftVolume:        node.LeftVolume,
		RightVolume:       node.RightVolume,
		LeftCarryForward:  node.LeftCarryForward,
		RightCarryForward: node.RightCarryForward,
		TotalLeftVolume:   node.TotalLeftVolume,
		TotalRightVolume:  node.TotalRightVolume,
		LeftCount:         node.LeftCount,
		RightCount:        node.RightCount,
		WeakerLeg:         node.WeakerLeg(),
		StrongerLeg:       node.StrongerLeg(),
		LastBinaryProcess: node.LastBinaryProcess,
	}, nil
}

// Tree возвращает поддерево пользователя глубиной depth
func (e *Engine) Tree(ctx context.Context, userID int64, depth int) (*models.BinaryTreeNode, error) {
	return e.subtree(ctx, userID, models.SideLeft, depth, map[int64]bool{})
}

func (e *Engine) subtree(ctx context.Context, userID int64, position models.Side, depth int, seen map[int64]bool) (*models.BinaryTreeNode, error) {
	if userID == 0 || seen[userID] {
		return &models.BinaryTreeNode{Position: position, IsEmpty: true}, nil
	}
	seen[userID] = true

	node, err := e.deps.Store.Binary().Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	user, err := e.deps.Store.User().GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := &models.BinaryTreeNode{
		UserID:           userID,
		Name:             user.Name,
		Position:         node.Position,
		LeftVolume:       node.LeftVolume,
		RightVolume:      node.RightVolume,
		TotalLeftVolume:  node.TotalLeftVolume,
		TotalRightVolume: node.TotalRightVolume,
	}
	if depth <= 0 {
		return view, nil
	}

	if view.Left, err = e.subtree(ctx, node.LeftChildID, models.SideLeft, depth-1, seen); err != nil {
		return nil, err
	}
	if view.Right, err = e.subtree(ctx, node.RightChildID, models.SideRight, depth-1, seen); err != nil {
		return nil, err
	}
	return view, nil
}
