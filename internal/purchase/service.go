// Package purchase проводит покупку пакета: запись владения, размещение в дереве,
// подъем объема и уровневый доход в одной транзакции.
package purchase

import (
	"context"
	"errors"
	"fmt"

	"compensation-engine/internal/binary"
	"compensation-engine/internal/engine"
	"compensation-engine/internal/level"
	"compensation-engine/internal/lock"
	"compensation-engine/internal/settings"
	"compensation-engine/internal/store"
	"compensation-engine/pkg/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCatalog названия пакетов каталога по умолчанию, по индексу
var DefaultCatalog = []string{"Starter", "Basic", "Bronze", "Silver", "Gold", "Platinum", "Diamond", "Crown", "Royal"}

// Result итог покупки
type Result struct {
	Package      *models.UserPackage `json:"package"`
	Transaction  *models.Transaction `json:"transaction"`
	LevelIncomes []*models.Income    `json:"level_incomes"`
	Ancestors    int                 `json:"ancestors"` // сколько предков получили объем
}

// Service сервис покупок
type Service struct {
	deps     engine.Deps
	binary   *binary.Engine
	level    *level.Engine
	validate *validator.Validate
}

// NewService создает сервис покупок
func NewService(deps engine.Deps, binaryEngine *binary.Engine, levelEngine *level.Engine) *Service {
	return &Service{
		deps:     deps.WithDefaults(),
		binary:   binaryEngine,
		level:    levelEngine,
		validate: validator.New(),
	}
}

// Purchase покупает пакет каталога. Объем поднимается по бинарному дереву
// до распределения уровневого дохода.
func (s *Service) Purchase(ctx context.Context, req *models.PurchaseRequest) (*Result, error) {
	result, err := s.purchase(ctx, req)
	if err != nil {
		s.deps.Metrics.RecordPurchase(false, 0)
		return nil, err
	}
	s.deps.Metrics.RecordPurchase(true, result.Package.TokenAmount)
	return result, nil
}

func (s *Service) purchase(ctx context.Context, req *models.PurchaseRequest) (*Result, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("некорректный запрос покупки: %w: %w", models.ErrInvalidState, err)
	}
	if req.Side != nil && !req.Side.IsValid() {
		return nil, fmt.Errorf("сторона %d: %w", *req.Side, models.ErrInvalidState)
	}

	params, quote, err := engine.Load(ctx, s.deps)
	if err != nil {
		return nil, err
	}

	catalog, err := s.deps.Store.Package().GetCatalog(ctx, req.PackageIndex)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("пакет %d: %w", req.PackageIndex, models.ErrInvalidPackage)
		}
		return nil, err
	}
	if !catalog.IsActive {
		return nil, fmt.Errorf("пакет %d недоступен: %w", req.PackageIndex, models.ErrInvalidPackage)
	}

	unlock, err := lock.LockAll(ctx, s.deps.Locker, lock.TreeKey, lock.UserKey(req.UserID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &Result{}
	err = s.deps.Store.InTx(ctx, func(tx store.Store) error {
		now := s.deps.Now()

		buyer, err := tx.User().GetByID(ctx, req.UserID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("пользователь %d: %w", req.UserID, models.ErrUserNotFound)
			}
			return err
		}
		if !buyer.IsActive {
			return fmt.Errorf("пользователь %d неактивен: %w", buyer.ID, models.ErrInvalidState)
		}

		tokens, err := quote.ToTokens(catalog.PriceUSD)
		if err != nil {
			return err
		}
		multiplier := catalog.CeilingMultiplier
		if multiplier <= 0 {
			multiplier = params.PackageCeilingMultiplier
		}

		owned := &models.UserPackage{
			UserID:       buyer.ID,
			PackageIndex: catalog.Index,
			AmountPaid:   catalog.PriceUSD,
			TokenAmount:  tokens,
			CeilingLimit: tokens * multiplier,
			IsActive:     true,
			PurchasedAt:  now,
		}
		if err := tx.Package().CreateUserPackage(ctx, owned); err != nil {
			return err
		}

		transaction := &models.Transaction{
			Reference:     uuid.NewString(),
			UserID:        buyer.ID,
			Type:          models.TransactionPurchase,
			Amount:        tokens,
			AmountUSD:     catalog.PriceUSD,
			Status:        models.TransactionCompleted,
			WalletAddress: buyer.WalletAddress,
			Description:   fmt.Sprintf("%s package purchase", catalog.Name),
			Metadata: map[string]any{
				"package_index":   catalog.Index,
				"user_package_id": owned.ID,
				"token_price":     quote.String(),
			},
			CreatedAt: now,
		}
		if err := tx.Transaction().Create(ctx, transaction); err != nil {
			return err
		}

		if err := s.deps.Ledger.Record(ctx, tx, &models.Activity{
			UserID:      buyer.ID,
			Type:        models.ActivityPurchase,
			Amount:      tokens,
			Description: transaction.Description,
			ReferenceID: &owned.ID,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		buyer.SelfVolume += tokens
		if err := tx.User().Update(ctx, buyer); err != nil {
			return err
		}

		side := buyer.Side
		if req.Side != nil {
			side = *req.Side
		}
		if _, err := s.binary.Place(ctx, tx, buyer, side, params.DefaultReferralID); err != nil {
			return err
		}

		ancestors, err := s.binary.PropagateVolume(ctx, tx, buyer.ID, tokens)
		if err != nil {
			return err
		}

		incomes, err := s.level.Distribute(ctx, tx, buyer, tokens, params)
		if err != nil {
			return err
		}

		result.Package = owned
		result.Transaction = transaction
		result.LevelIncomes = incomes
		result.Ancestors = ancestors
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("пакет куплен",
		zap.Int64("user_id", req.UserID),
		zap.Int("package_index", req.PackageIndex),
		zap.Float64("tokens", result.Package.TokenAmount),
		zap.Int("level_incomes", len(result.LevelIncomes)))

	return result, nil
}

// ListPackages возвращает активные пакеты каталога с эквивалентом в токенах
func (s *Service) ListPackages(ctx context.Context) ([]models.PackageOffer, error) {
	params, quote, err := engine.Load(ctx, s.deps)
	if err != nil {
		return nil, err
	}
	catalog, err := s.deps.Store.Package().ListCatalog(ctx)
	if err != nil {
		return nil, err
	}

	offers := make([]models.PackageOffer, 0, len(catalog))
	for _, pkg := range catalog {
		if !pkg.IsActive {
			continue
		}
		multiplier := pkg.CeilingMultiplier
		if multiplier <= 0 {
			multiplier = params.PackageCeilingMultiplier
		}
		tokens, err := quote.ToTokens(pkg.PriceUSD)
		if err != nil {
			return nil, err
		}
		offers = append(offers, models.PackageOffer{
			Package:      *pkg,
			TokenAmount:  tokens,
			CeilingLimit: tokens * multiplier,
		})
	}
	return offers, nil
}

// SeedCatalog заполняет пустой каталог пакетами по умолчанию
func (s *Service) SeedCatalog(ctx context.Context) error {
	existing, err := s.deps.Store.Package().ListCatalog(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	for i, price := range settings.DefaultPackagePrices {
		name := fmt.Sprintf("Package %d", i)
		if i < len(DefaultCatalog) {
			name = DefaultCatalog[i]
		}
		if err := s.deps.Store.Package().UpsertCatalog(ctx, &models.Package{
			Index:             i,
			Name:              name,
			PriceUSD:          price,
			CeilingMultiplier: settings.DefaultPackageCeilingMultiplier,
			IsActive:          true,
			CreatedAt:         s.deps.Now(),
		}); err != nil {
			return err
		}
	}

	s.deps.Logger.Info("каталог пакетов заполнен", zap.Int("packages", len(settings.DefaultPackagePrices)))
	return nil
}
