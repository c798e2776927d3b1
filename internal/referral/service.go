package referral

import (
	"context"
	"errors"
	"fmt"

	"compensation-engine/internal/alert"
	"compensation-engine/internal/store"
	"compensation-engine/pkg/models"

	"go.uber.org/zap"
)

const treeName = "referral"

// Service представляет сервис для работы с реферальной цепочкой и командой
type Service struct {
	store  store.Store
	alerts *alert.Reporter
	logger *zap.Logger
}

// NewService создает новый сервис рефералов
func NewService(st store.Store, alerts *alert.Reporter, logger *zap.Logger) *Service {
	return &Service{
		store:  st,
		alerts: alerts,
		logger: logger,
	}
}

// Upline возвращает вышестоящих рефереров пользователя, начиная с прямого, не более depth.
// Обход останавливается на нулевом ID, на служебном rootID и на отсутствующем реферере.
// Повтор пользователя в цепочке регистрируется как нарушение и завершает обход.
func (s *Service) Upline(ctx context.Context, tx store.Store, user *models.User, depth int, rootID int64) ([]*models.User, error) {
	upline := make([]*models.User, 0, depth)
	visited := map[int64]bool{user.ID: true}
	referrerID := user.ReferrerID

	for len(upline) < depth {
		if referrerID == 0 || referrerID == rootID {
			break
		}
		if visited[referrerID] {
			s.alerts.Structural(ctx, treeName, alert.KindCycle, user.ID,
				fmt.Sprintf("реферер %d повторяется в цепочке пользователя %d", referrerID, user.ID))
			break
		}
		visited[referrerID] = true

		referrer, err := tx.User().GetByID(ctx, referrerID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				s.logger.Warn("реферер не найден, цепочка оборвана",
					zap.Int64("user_id", user.ID),
					zap.Int64("referrer_id", referrerID))
				break
			}
			return nil, fmt.Errorf("ошибка получения реферера: %w", err)
		}

		upline = append(upline, referrer)
		referrerID = referrer.ReferrerID
	}

	return upline, nil
}

// Directs возвращает лично приглашенных пользователей
func (s *Service) Directs(ctx context.Context, userID int64) ([]*models.User, error) {
	users, err := s.store.User().ListByReferrer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения рефералов: %w", err)
	}
	return users, nil
}

// Team возвращает командную структуру пользователя. Отсутствующая структура считается пустой.
func (s *Service) Team(ctx context.Context, userID int64) (*models.TeamStructure, error) {
	return LoadTeam(ctx, s.store, userID)
}

// LoadTeam читает командную структуру, возвращая пустую при ее отсутствии
func LoadTeam(ctx context.Context, tx store.Store, userID int64) (*models.TeamStructure, error) {
	team, err := tx.Team().Get(ctx, userID)
	if err == nil {
		return team, nil
	}
	if errors.Is(err, models.ErrNotFound) {
		return &models.TeamStructure{UserID: userID}, nil
	}
	return nil, fmt.Errorf("ошибка получения команды %d: %w", userID, err)
}

// SaveTeam сохраняет командную структуру, создавая ее при первом сохранении
func SaveTeam(ctx context.Context, tx store.Store, team *models.TeamStructure) error {
	err := tx.Team().Update(ctx, team)
	if errors.Is(err, models.ErrNotFound) {
		return tx.Team().Create(ctx, team)
	}
	return err
}

// RecordPurchase добавляет покупателя и объем в команды вышестоящих по уровням
func (s *Service) RecordPurchase(ctx context.Context, tx store.Store, buyerID int64, upline []*models.User, amount float64) error {
	for i, ancestor := range upline {
		level := i + 1
		if level > models.TeamDepth {
			break
		}
		team, err := LoadTeam(ctx, tx, ancestor.ID)
		if err != nil {
			return err
		}
		team.AddMember(level, buyerID)
		team.AddVolume(level, amount)
		if err := SaveTeam(ctx, tx, team); err != nil {
			return err
		}
	}
	return nil
}
