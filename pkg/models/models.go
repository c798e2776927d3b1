package models

import (
	"time"
)

// Глубина реферальной цепочки, на которую распространяются доход и командная структура
const TeamDepth = 7

// Rank представляет квалификационный ранг пользователя
type Rank int

const (
	RankNone     Rank = 0
	RankSilver   Rank = 1
	RankGold     Rank = 2
	RankPlatinum Rank = 3
	RankDiamond  Rank = 4
)

// RankCount количество состояний ранга (включая RankNone)
const RankCount = 5

// IsValid проверяет, что ранг входит в допустимый диапазон
func (r Rank) IsValid() bool {
	return r >= RankNone && r <= RankDiamond
}

func (r Rank) String() string {
	switch r {
	case RankNone:
		return "none"
	case RankSilver:
		return "silver"
	case RankGold:
		return "gold"
	case RankPlatinum:
		return "platinum"
	case RankDiamond:
		return "diamond"
	default:
		return "unknown"
	}
}

// Side сторона размещения в бинарном дереве
type Side int

const (
	SideLeft  Side = 0
	SideRight Side = 1
)

// IsValid проверяет корректность стороны
func (s Side) IsValid() bool {
	return s == SideLeft || s == SideRight
}

func (s Side) String() string {
	if s == SideRight {
		return "right"
	}
	return "left"
}

// IncomeBuckets хранит суммы по каждому типу дохода
type IncomeBuckets struct {
	ROI      float64 `json:"roi"`
	Level    float64 `json:"level"`
	Binary   float64 `json:"binary"`
	Autopool float64 `json:"autopool"`
	Reward   float64 `json:"reward"`
}

// Get возвращает сумму для типа дохода
func (b IncomeBuckets) Get(t IncomeType) float64 {
	if p := b.ptr(t); p != nil {
		return *p
	}
	return 0
}

// Add увеличивает сумму для типа дохода
func (b *IncomeBuckets) Add(t IncomeType, amount float64) {
	if p := b.ptr(t); p != nil {
		*p += amount
	}
}

// Total возвращает сумму по всем типам
func (b IncomeBuckets) Total() float64 {
	return b.ROI + b.Level + b.Binary + b.Autopool + b.Reward
}

func (b *IncomeBuckets) ptr(t IncomeType) *float64 {
	switch t {
	case IncomeROI:
		return &b.ROI
	case IncomeLevel:
		return &b.Level
	case IncomeBinary:
		return &b.Binary
	case IncomeAutopool:
		return &b.Autopool
	case IncomeReward:
		return &b.Reward
	default:
		return nil
	}
}

// User представляет участника компенсационного плана
type User struct {
	ID              int64   `json:"id" db:"id"`
	ReferrerID      int64   `json:"referrer_id" db:"referrer_id"`
	Name            string  `json:"name" db:"name"`
	WalletAddress   string  `json:"wallet_address" db:"wallet_address"`
	Side            Side    `json:"side" db:"side"`                         // сторона размещения по умолчанию
	DirectReferrals int     `json:"direct_referrals" db:"direct_referrals"` // количество личных приглашений
	Rank            Rank    `json:"rank" db:"rank"`
	SelfVolume      float64 `json:"self_volume" db:"self_volume"` // сумма собственных покупок в токенах

	Earned         IncomeBuckets `json:"earned"`    // накопленный доход по типам
	Withdrawn      IncomeBuckets `json:"withdrawn"` // выведено по типам
	TotalWithdrawn float64       `json:"total_withdrawn" db:"total_withdrawn"`
	PurchaseWallet float64       `json:"purchase_wallet" db:"purchase_wallet"`

	LastROIDistributed    time.Time `json:"last_roi_distributed" db:"last_roi_distributed"`
	LastBinaryDistributed time.Time `json:"last_binary_distributed" db:"last_binary_distributed"`
	LastRewardDistributed time.Time `json:"last_reward_distributed" db:"last_reward_distributed"`

	IsActive     bool      `json:"is_active" db:"is_active"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Pending возвращает невыведенный остаток по типу дохода
func (u *User) Pending(t IncomeType) float64 {
	p := u.Earned.Get(t) - u.Withdrawn.Get(t)
	if p < 0 {
		return 0
	}
	return p
}

// PendingTotal возвращает общий невыведенный остаток
func (u *User) PendingTotal() float64 {
	var total float64
	for _, t := range AllIncomeTypes {
		total += u.Pending(t)
	}
	return total
}

// RegisterRequest представляет запрос на регистрацию участника
type RegisterRequest struct {
	ReferrerID    int64  `json:"referrer_id" validate:"gte=0"`
	Name          string `json:"name" validate:"max=30"`
	WalletAddress string `json:"wallet_address" validate:"max=128"`
	Side          *Side  `json:"side,omitempty"`
}

// PurchaseRequest представляет запрос на покупку пакета
type PurchaseRequest struct {
	UserID       int64 `json:"user_id" validate:"required,gt=0"`
	PackageIndex int   `json:"package_index" validate:"gte=0"`
	Side         *Side `json:"side,omitempty"`
}

// WithdrawalRequest представляет запрос на вывод дохода
type WithdrawalRequest struct {
	UserID int64   `json:"user_id" validate:"required,gt=0"`
	Amount float64 `json:"amount" validate:"required,gt=0"`
}
