// Package withdrawal списывает доход по приоритету типов и фиксирует вывод.
package withdrawal

import (
	"context"
	"errors"
	"fmt"

	"compensation-engine/internal/engine"
	"compensation-engine/internal/lock"
	"compensation-engine/internal/store"
	"compensation-engine/pkg/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// paidEpsilon допуск при сравнении сумм с плавающей точкой
const paidEpsilon = 1e-9

// Service сервис вывода
type Service struct {
	deps     engine.Deps
	validate *validator.Validate
}

// NewService создает сервис вывода
func NewService(deps engine.Deps) *Service {
	return &Service{deps: deps.WithDefaults(), validate: validator.New()}
}

// Plan распределяет сумму по типам дохода в порядке models.WithdrawalPriority
func Plan(user *models.User, amount float64) map[models.IncomeType]float64 {
	deductions := make(map[models.IncomeType]float64)
	remaining := amount
	for _, t := range models.WithdrawalPriority {
		if remaining <= 0 {
			break
		}
		take := min(user.Pending(t), remaining)
		if take <= 0 {
			continue
		}
		deductions[t] = take
		remaining -= take
	}
	return deductions
}

// Withdraw выводит amount токенов. Комиссия удерживается из суммы,
// половина комиссии зачисляется в кошелек покупок.
func (s *Service) Withdraw(ctx context.Context, req *models.WithdrawalRequest) (*models.Transaction, error) {
	tx, err := s.withdraw(ctx, req)
	s.deps.Metrics.RecordWithdrawal(err == nil)
	return tx, err
}

func (s *Service) withdraw(ctx context.Context, req *models.WithdrawalRequest) (*models.Transaction, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("некорректный запрос вывода: %w: %w", models.ErrInvalidAmount, err)
	}

	params, quote, err := engine.Load(ctx, s.deps)
	if err != nil {
		return nil, err
	}
	if req.Amount < params.MinWithdrawal {
		return nil, fmt.Errorf("сумма %v меньше минимальной %v: %w", req.Amount, params.MinWithdrawal, models.ErrInvalidAmount)
	}

	unlock, err := s.deps.Locker.Lock(ctx, lock.UserKey(req.UserID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var transaction *models.Transaction
	err = s.deps.Store.InTx(ctx, func(tx store.Store) error {
		now := s.deps.Now()

		user, err := tx.User().GetByID(ctx, req.UserID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("пользователь %d: %w", req.UserID, models.ErrUserNotFound)
			}
			return err
		}
		if pending := user.PendingTotal(); pending+paidEpsilon < req.Amount {
			return fmt.Errorf("доступно %v, запрошено %v: %w", pending, req.Amount, models.ErrInsufficientBalance)
		}

		deductions := Plan(user, req.Amount)
		breakdown := make(map[string]float64, len(deductions))
		for t, take := range deductions {
			user.Withdrawn.Add(t, take)
			breakdown[string(t)] = take
			if err := s.markPaid(ctx, tx, user, t); err != nil {
				return err
			}
		}

		amountUSD, err := quote.ToUSD(req.Amount)
		if err != nil {
			return err
		}

		fee := req.Amount * params.WithdrawalFee / 100
		user.TotalWithdrawn += req.Amount
		user.PurchaseWallet += fee / 2
		if err := tx.User().Update(ctx, user); err != nil {
			return err
		}

		transaction = &models.Transaction{
			Reference:     uuid.NewString(),
			UserID:        user.ID,
			Type:          models.TransactionWithdrawal,
			Amount:        req.Amount,
			AmountUSD:     amountUSD,
			Fee:           fee,
			Status:        models.TransactionCompleted,
			WalletAddress: user.WalletAddress,
			Description:   "Income withdrawal",
			Metadata: map[string]any{
				"deductions":             breakdown,
				"net_amount":             req.Amount - fee,
				"purchase_wallet_credit": fee / 2,
				"token_price":            quote.String(),
			},
			CreatedAt: now,
		}
		if err := tx.Transaction().Create(ctx, transaction); err != nil {
			return err
		}

		return s.deps.Ledger.Record(ctx, tx, &models.Activity{
			UserID:      user.ID,
			Type:        models.ActivityWithdrawal,
			Amount:      req.Amount,
			Description: transaction.Description,
			ReferenceID: &transaction.ID,
			Metadata:    map[string]any{"reference": transaction.Reference},
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("вывод выполнен",
		zap.Int64("user_id", req.UserID),
		zap.Float64("amount", req.Amount),
		zap.Float64("fee", transaction.Fee),
		zap.String("reference", transaction.Reference))

	return transaction, nil
}

// markPaid отмечает оплаченными самые старые начисления типа t,
// полностью покрытые выведенной суммой
func (s *Service) markPaid(ctx context.Context, tx store.Store, user *models.User, t models.IncomeType) error {
	unpaid, err := tx.Income().ListUnpaid(ctx, user.ID, t)
	if err != nil {
		return err
	}

	var unpaidTotal float64
	for _, inc := range unpaid {
		unpaidTotal += inc.Amount
	}
	// выведено сверх уже оплаченных записей
	budget := user.Withdrawn.Get(t) - (user.Earned.Get(t) - unpaidTotal)

	var ids []int64
	for _, inc := range unpaid {
		if inc.Amount > budget+paidEpsilon {
			break
		}
		budget -= inc.Amount
		ids = append(ids, inc.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	return tx.Income().MarkPaid(ctx, ids)
}
