package models

import (
	"time"
)

// Package описание инвестиционного пакета из каталога
type Package struct {
	Index             int       `json:"index" db:"index"`
	Name              string    `json:"name" db:"name"`
	PriceUSD          float64   `json:"price_usd" db:"price_usd"`
	CeilingMultiplier float64   `json:"ceiling_multiplier" db:"ceiling_multiplier"`
	IsActive          bool      `json:"is_active" db:"is_active"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// PackageOffer пакет с эквивалентом в токенах по текущей цене
type PackageOffer struct {
	Package
	TokenAmount  float64 `json:"token_amount"`
	CeilingLimit float64 `json:"ceiling_limit"`
}

// UserPackage купленный пользователем пакет
type UserPackage struct {
	ID           int64      `json:"id" db:"id"`
	UserID       int64      `json:"user_id" db:"user_id"`
	PackageIndex int        `json:"package_index" db:"package_index"`
	AmountPaid   float64    `json:"amount_paid" db:"amount_paid"`   // в долларах
	TokenAmount  float64    `json:"token_amount" db:"token_amount"` // в токенах по цене покупки
	CeilingLimit float64    `json:"ceiling_limit" db:"ceiling_limit"`
	Earned       float64    `json:"earned" db:"earned"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	PurchasedAt  time.Time  `json:"purchased_at" db:"purchased_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Remaining возвращает оставшуюся емкость пакета до потолка
func (p *UserPackage) Remaining() float64 {
	if !p.IsActive {
		return 0
	}
	r := p.CeilingLimit - p.Earned
	if r < 0 {
		return 0
	}
	return r
}

// Credit зачисляет не более оставшейся емкости и возвращает фактически зачисленную сумму.
// При достижении потолка пакет деактивируется навсегда.
func (p *UserPackage) Credit(amount float64, now time.Time) float64 {
	if amount <= 0 || !p.IsActive {
		return 0
	}
	capacity := p.Remaining()
	if amount >= capacity {
		p.Earned = p.CeilingLimit
		p.IsActive = false
		completed := now
		p.CompletedAt = &completed
		return capacity
	}
	p.Earned += amount
	return amount
}
