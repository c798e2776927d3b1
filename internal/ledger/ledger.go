// Package ledger записывает начисления: доход, активность и накопитель пользователя.
package ledger

import (
	"context"
	"fmt"
	"time"

	"compensation-engine/internal/metrics"
	"compensation-engine/internal/store"
	"compensation-engine/pkg/models"

	"go.uber.org/zap"
)

// Entry описание начисления
type Entry struct {
	Type         models.IncomeType
	Amount       float64
	SourceUserID *int64
	Level        *int
	Description  string
	Metadata     map[string]any
}

// Ledger записывает начисления в журнал
type Ledger struct {
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New создает журнал начислений
func New(m *metrics.Metrics, logger *zap.Logger, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{metrics: m, logger: logger, now: now}
}

// Credit добавляет Income и Activity и увеличивает накопитель user.
// Сохранение user остается за вызывающим.
func (l *Ledger) Credit(ctx context.Context, tx store.Store, user *models.User, e Entry) (*models.Income, error) {
	if !e.Type.IsValid() {
		return nil, fmt.Errorf("неизвестный тип дохода %q: %w", e.Type, models.ErrInvalidState)
	}
	if e.Amount <= 0 {
		return nil, fmt.Errorf("сумма начисления %v: %w", e.Amount, models.ErrInvalidAmount)
	}

	now := l.now()
	income := &models.Income{
		UserID:        user.ID,
		Type:          e.Type,
		Amount:        e.Amount,
		SourceUserID:  e.SourceUserID,
		Level:         e.Level,
		Description:   e.Description,
		IsDistributed: true,
		Metadata:      e.Metadata,
		CreatedAt:     now,
	}
	if err := tx.Income().Create(ctx, income); err != nil {
		return nil, err
	}

	activity := &models.Activity{
		UserID:      user.ID,
		Type:        e.Type.ActivityType(),
		Amount:      e.Amount,
		Level:       e.Level,
		Description: e.Description,
		ReferenceID: &income.ID,
		Metadata:    e.Metadata,
		CreatedAt:   now,
	}
	if err := tx.Activity().Create(ctx, activity); err != nil {
		return nil, err
	}

	user.Earned.Add(e.Type, e.Amount)

	l.metrics.RecordIncome(string(e.Type), e.Amount)
	l.logger.Debug("доход начислен",
		zap.Int64("user_id", user.ID),
		zap.String("type", string(e.Type)),
		zap.Float64("amount", e.Amount))

	return income, nil
}

// Record добавляет запись активности без дохода
func (l *Ledger) Record(ctx context.Context, tx store.Store, activity *models.Activity) error {
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = l.now()
	}
	return tx.Activity().Create(ctx, activity)
}

// Int64 возвращает указатель на значение
func Int64(v int64) *int64 { return &v }

// Int возвращает указатель на значение
func Int(v int) *int { return &v }
