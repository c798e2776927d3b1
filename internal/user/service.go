package user

import (
	"context"
	"errors"
	"fmt"

	"compensation-engine/internal/binary"
	"compensation-engine/internal/engine"
	"compensation-engine/internal/lock"
	"compensation-engine/internal/referral"
	"compensation-engine/internal/store"
	"compensation-engine/pkg/models"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// DefaultListLimit количество записей истории по умолчанию
const DefaultListLimit = 50

// Service представляет сервис для работы с участниками
type Service struct {
	deps     engine.Deps
	binary   *binary.Engine
	validate *validator.Validate
}

// NewService создает новый сервис участников
func NewService(deps engine.Deps, binaryEngine *binary.Engine) *Service {
	return &Service{
		deps:     deps.WithDefaults(),
		binary:   binaryEngine,
		validate: validator.New(),
	}
}

// Register регистрирует участника под реферером. Нулевой реферер заменяется служебным корнем.
// Если сторона указана и реферер реальный, узел сразу размещается в бинарном дереве.
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("некорректный запрос регистрации: %w: %w", models.ErrInvalidState, err)
	}
	if req.Side != nil && !req.Side.IsValid() {
		return nil, fmt.Errorf("сторона %d: %w", *req.Side, models.ErrInvalidState)
	}

	params, err := s.deps.Settings.Load(ctx)
	if err != nil {
		return nil, err
	}

	unlock, err := s.deps.Locker.Lock(ctx, lock.TreeKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	referrerID := req.ReferrerID
	if referrerID == 0 {
		referrerID = params.DefaultReferralID
	}
	rootReferrer := referrerID == params.DefaultReferralID

	var user *models.User
	err = s.deps.Store.InTx(ctx, func(tx store.Store) error {
		var referrer *models.User
		if !rootReferrer {
			r, err := tx.User().GetByID(ctx, referrerID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					return fmt.Errorf("реферер %d: %w", referrerID, models.ErrReferrerNotFound)
				}
				return err
			}
			referrer = r
		}

		side := models.SideLeft
		if req.Side != nil {
			side = *req.Side
		}

		user = &models.User{
			ReferrerID:    referrerID,
			Name:          req.Name,
			WalletAddress: req.WalletAddress,
			Side:          side,
			Rank:          models.RankNone,
			IsActive:      true,
			RegisteredAt:  s.deps.Now(),
		}
		if err := tx.User().Create(ctx, user); err != nil {
			return fmt.Errorf("ошибка создания пользователя: %w", err)
		}

		// без реального реферера узел сразу становится корнем
		if err := tx.Binary().Create(ctx, &models.BinaryNode{UserID: user.ID, Placed: rootReferrer}); err != nil {
			return fmt.Errorf("ошибка создания узла дерева: %w", err)
		}
		if err := tx.Team().Create(ctx, &models.TeamStructure{UserID: user.ID}); err != nil {
			return fmt.Errorf("ошибка создания команды: %w", err)
		}

		if referrer == nil {
			return nil
		}

		referrer.DirectReferrals++
		if err := tx.User().Update(ctx, referrer); err != nil {
			return err
		}
		team, err := referral.LoadTeam(ctx, tx, referrer.ID)
		if err != nil {
			return err
		}
		team.AddMember(1, user.ID)
		if err := referral.SaveTeam(ctx, tx, team); err != nil {
			return err
		}

		if req.Side != nil {
			if _, err := s.binary.Place(ctx, tx, user, side, params.DefaultReferralID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("зарегистрирован новый участник",
		zap.Int64("user_id", user.ID),
		zap.Int64("referrer_id", user.ReferrerID))

	return user, nil
}

// GetUser получает участника по ID
func (s *Service) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.deps.Store.User().GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("пользователь %d: %w", userID, models.ErrUserNotFound)
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return user, nil
}

// SetActive включает или исключает участника из циклов начислений
func (s *Service) SetActive(ctx context.Context, userID int64, active bool) error {
	unlock, err := s.deps.Locker.Lock(ctx, lock.UserKey(userID))
	if err != nil {
		return err
	}
	defer unlock()

	return s.deps.Store.InTx(ctx, func(tx store.Store) error {
		user, err := tx.User().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if user.IsActive == active {
			return nil
		}
		user.IsActive = active
		if err := tx.User().Update(ctx, user); err != nil {
			return err
		}
		s.deps.Logger.Info("статус участника изменен",
			zap.Int64("user_id", userID),
			zap.Bool("active", active))
		return nil
	})
}

// IncomeSummary возвращает начисленный и доступный к выводу доход по типам
func (s *Service) IncomeSummary(ctx context.Context, userID int64) (*models.IncomeSummary, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &models.IncomeSummary{UserID: user.ID, Earned: user.Earned}
	for _, t := range models.AllIncomeTypes {
		summary.Pending.Add(t, user.Pending(t))
	}
	return summary, nil
}

// Incomes возвращает последние начисления участника
func (s *Service) Incomes(ctx context.Context, userID int64, limit int) ([]*models.Income, error) {
	return s.deps.Store.Income().ListByUser(ctx, userID, normalizeLimit(limit))
}

// Activities возвращает журнал активности участника
func (s *Service) Activities(ctx context.Context, userID int64, limit int) ([]*models.Activity, error) {
	return s.deps.Store.Activity().ListByUser(ctx, userID, normalizeLimit(limit))
}

// Transactions возвращает транзакции участника
func (s *Service) Transactions(ctx context.Context, userID int64, limit int) ([]*models.Transaction, error) {
	return s.deps.Store.Transaction().ListByUser(ctx, userID, normalizeLimit(limit))
}

// Packages возвращает пакеты участника
func (s *Service) Packages(ctx context.Context, userID int64, activeOnly bool) ([]*models.UserPackage, error) {
	return s.deps.Store.Package().ListUserPackages(ctx, userID, activeOnly)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
