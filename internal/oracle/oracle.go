// Package oracle предоставляет курс токена к доллару и пересчет сумм.
package oracle

import (
	"context"
	"fmt"

	"compensation-engine/internal/settings"
	"compensation-engine/pkg/models"

	"github.com/cockroachdb/apd/v3"
	"go.uber.org/zap"
)

// decimalContext точность пересчета
var decimalContext = apd.BaseContext.WithPrecision(34)

// PriceSource источник текущего курса
type PriceSource interface {
	Quote(ctx context.Context) (*Quote, error)
}

// Quote курс токена, зафиксированный на момент чтения
type Quote struct {
	price apd.Decimal
}

// NewQuote разбирает курс из десятичной строки
func NewQuote(price string) (*Quote, error) {
	d, _, err := apd.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("некорректный курс токена %q: %w", price, err)
	}
	if d.Sign() <= 0 {
		return nil, fmt.Errorf("курс токена должен быть положительным: %s", price)
	}
	return &Quote{price: *d}, nil
}

// Price возвращает курс в долларах за токен
func (q *Quote) Price() float64 {
	f, _ := q.price.Float64()
	return f
}

// String возвращает курс в десятичной записи
func (q *Quote) String() string {
	return q.price.String()
}

// ToTokens переводит доллары в токены
func (q *Quote) ToTokens(usd float64) (float64, error) {
	return q.convert(usd, decimalContext.Quo)
}

// ToUSD переводит токены в доллары
func (q *Quote) ToUSD(tokens float64) (float64, error) {
	return q.convert(tokens, decimalContext.Mul)
}

func (q *Quote) convert(value float64, op func(d, x, y *apd.Decimal) (apd.Condition, error)) (float64, error) {
	var amount, res apd.Decimal
	if _, err := amount.SetFloat64(value); err != nil {
		return 0, fmt.Errorf("пересчет суммы %v по курсу %s: %w: %w", value, q, models.ErrInvalidAmount, err)
	}
	if _, err := op(&res, &amount, &q.price); err != nil {
		return 0, fmt.Errorf("пересчет суммы %v по курсу %s: %w: %w", value, q, models.ErrInvalidAmount, err)
	}
	f, err := res.Float64()
	if err != nil {
		return 0, fmt.Errorf("пересчет суммы %v по курсу %s: %w: %w", value, q, models.ErrInvalidAmount, err)
	}
	return f, nil
}

// Oracle читает курс из настроек
type Oracle struct {
	settings *settings.Service
	logger   *zap.Logger
}

// New создает оракул курса
func New(s *settings.Service, logger *zap.Logger) *Oracle {
	return &Oracle{settings: s, logger: logger}
}

// Quote возвращает текущий курс токена
func (o *Oracle) Quote(ctx context.Context) (*Quote, error) {
	raw, err := o.settings.String(ctx, settings.KeyTokenPrice, settings.DefaultTokenPrice)
	if err != nil {
		return nil, err
	}
	q, err := NewQuote(raw)
	if err != nil {
		o.logger.Error("некорректный курс токена в настройках", zap.String("price", raw), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", models.ErrExternalDependency, err)
	}
	return q, nil
}

// SetPrice сохраняет новый курс токена
func (o *Oracle) SetPrice(ctx context.Context, price string) error {
	q, err := NewQuote(price)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidAmount, err)
	}
	if err := o.settings.Set(ctx, settings.KeyTokenPrice, q.String()); err != nil {
		return err
	}
	o.logger.Info("курс токена обновлен", zap.String("price", q.String()))
	return nil
}

// Fixed источник с постоянным курсом
type Fixed string

// Quote возвращает постоянный курс
func (f Fixed) Quote(context.Context) (*Quote, error) {
	return NewQuote(string(f))
}
