package models

import (
	"time"
)

// IncomeType тип дохода
type IncomeType string

const (
	IncomeROI      IncomeType = "roi"
	IncomeLevel    IncomeType = "level"
	IncomeBinary   IncomeType = "binary"
	IncomeAutopool IncomeType = "autopool"
	IncomeReward   IncomeType = "reward"
)

// AllIncomeTypes перечисляет все типы дохода
var AllIncomeTypes = []IncomeType{IncomeROI, IncomeLevel, IncomeBinary, IncomeAutopool, IncomeReward}

// WithdrawalPriority порядок списания при выводе
var WithdrawalPriority = []IncomeType{IncomeLevel, IncomeBinary, IncomeAutopool, IncomeReward, IncomeROI}

// IsValid проверяет валидность типа дохода
func (t IncomeType) IsValid() bool {
	switch t {
	case IncomeROI, IncomeLevel, IncomeBinary, IncomeAutopool, IncomeReward:
		return true
	default:
		return false
	}
}

// ActivityType возвращает тип активности, соответствующий доходу
func (t IncomeType) ActivityType() ActivityType {
	switch t {
	case IncomeROI:
		return ActivityROI
	case IncomeLevel:
		return ActivityLevelIncome
	case IncomeBinary:
		return ActivityBinaryIncome
	case IncomeAutopool:
		return ActivityAutopool
	case IncomeReward:
		return ActivityWeeklyReward
	default:
		return ActivityUnknown
	}
}

// Income запись о начисленном доходе (только добавление)
type Income struct {
	ID            int64          `json:"id" db:"id"`
	UserID        int64          `json:"user_id" db:"user_id"`
	Type          IncomeType     `json:"type" db:"type"`
	Amount        float64        `json:"amount" db:"amount"`
	SourceUserID  *int64         `json:"source_user_id,omitempty" db:"source_user_id"`
	Level         *int           `json:"level,omitempty" db:"level"`
	Description   string         `json:"description" db:"description"`
	IsPaid        bool           `json:"is_paid" db:"is_paid"`
	IsDistributed bool           `json:"is_distributed" db:"is_distributed"`
	Metadata      map[string]any `json:"metadata" db:"metadata"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// ActivityType тип записи в журнале активности
type ActivityType int

const (
	ActivityUnknown      ActivityType = -1
	ActivityPurchase     ActivityType = 0
	ActivityLevelIncome  ActivityType = 1
	ActivityROI          ActivityType = 2
	ActivityAutopool     ActivityType = 3
	ActivityWeeklyReward ActivityType = 4
	ActivityBinaryIncome ActivityType = 5
	ActivityWithdrawal   ActivityType = 6
)

func (t ActivityType) String() string {
	switch t {
	case ActivityPurchase:
		return "purchase"
	case ActivityLevelIncome:
		return "level_income"
	case ActivityROI:
		return "roi"
	case ActivityAutopool:
		return "autopool"
	case ActivityWeeklyReward:
		return "weekly_reward"
	case ActivityBinaryIncome:
		return "binary_income"
	case ActivityWithdrawal:
		return "withdrawal"
	default:
		return "unknown"
	}
}

// Activity запись журнала активности пользователя
type Activity struct {
	ID          int64          `json:"id" db:"id"`
	UserID      int64          `json:"user_id" db:"user_id"`
	Type        ActivityType   `json:"type" db:"type"`
	Amount      float64        `json:"amount" db:"amount"`
	Level       *int           `json:"level,omitempty" db:"level"`
	Description string         `json:"description" db:"description"`
	ReferenceID *int64         `json:"reference_id,omitempty" db:"reference_id"`
	Metadata    map[string]any `json:"metadata" db:"metadata"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// TransactionType тип финансовой транзакции
type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionPurchase   TransactionType = "purchase"
	TransactionTransfer   TransactionType = "transfer"
	TransactionFee        TransactionType = "fee"
	TransactionAdmin      TransactionType = "admin"
)

// IsValid проверяет валидность типа транзакции
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionDeposit, TransactionWithdrawal, TransactionPurchase,
		TransactionTransfer, TransactionFee, TransactionAdmin:
		return true
	default:
		return false
	}
}

// TransactionStatus статус транзакции
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionCancelled TransactionStatus = "cancelled"
)

// IsValid проверяет валидность статуса транзакции
func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionPending, TransactionCompleted, TransactionFailed, TransactionCancelled:
		return true
	default:
		return false
	}
}

// Transaction финансовая транзакция (только добавление)
type Transaction struct {
	ID            int64             `json:"id" db:"id"`
	Reference     string            `json:"reference" db:"reference"`
	UserID        int64             `json:"user_id" db:"user_id"`
	Type          TransactionType   `json:"type" db:"type"`
	Amount        float64           `json:"amount" db:"amount"`         // в токенах
	AmountUSD     float64           `json:"amount_usd" db:"amount_usd"` // в долларах
	Fee           float64           `json:"fee" db:"fee"`
	Status        TransactionStatus `json:"status" db:"status"`
	WalletAddress string            `json:"wallet_address" db:"wallet_address"`
	Description   string            `json:"description" db:"description"`
	Metadata      map[string]any    `json:"metadata" db:"metadata"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// IncomeSummary сводка дохода пользователя
type IncomeSummary struct {
	UserID  int64         `json:"user_id"`
	Earned  IncomeBuckets `json:"earned"`
	Pending IncomeBuckets `json:"pending"`
}
