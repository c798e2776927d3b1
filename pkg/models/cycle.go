package models

import (
	"encoding/json"
	"time"
)

// Setting запись хранилища настроек (значение в JSON)
type Setting struct {
	Key       string          `json:"key" db:"key"`
	Value     json.RawMessage `json:"value" db:"value"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// CycleStatus результат обработки пользователя в цикле
type CycleStatus string

const (
	CycleSuccess CycleStatus = "success"
	CycleSkipped CycleStatus = "skipped"
	CycleError   CycleStatus = "error"
)

// Причины пропуска пользователя
const (
	ReasonIntervalNotElapsed = "interval not elapsed"
	ReasonROIWindowExpired   = "roi window expired"
	ReasonNoActivePackages   = "no active packages"
	ReasonNoMatchingVolume   = "no matching volume"
	ReasonNoTurnover         = "no turnover"
	ReasonUnchanged          = "unchanged"
	ReasonLocked             = "locked"
)

// UserCycleResult результат обработки одного пользователя
type UserCycleResult struct {
	UserID int64       `json:"user_id"`
	Status CycleStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
	Amount float64     `json:"amount"`
	Error  string      `json:"error,omitempty"`
}

// CycleResult сводка пакетной обработки
type CycleResult struct {
	Task       string            `json:"task"`
	Processed  int               `json:"processed"`
	Succeeded  int               `json:"succeeded"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	Total      float64           `json:"total"`
	Reason     string            `json:"reason,omitempty"` // причина пропуска всего цикла
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Results    []UserCycleResult `json:"results"`
}

// Add учитывает результат пользователя в сводке
func (r *CycleResult) Add(res UserCycleResult) {
	r.Processed++
	switch res.Status {
	case CycleSuccess:
		r.Succeeded++
		r.Total += res.Amount
	case CycleSkipped:
		r.Skipped++
	case CycleError:
		r.Failed++
	}
	r.Results = append(r.Results, res)
}

// Skip формирует результат пропуска
func Skip(userID int64, reason string) UserCycleResult {
	return UserCycleResult{UserID: userID, Status: CycleSkipped, Reason: reason}
}

// Success формирует успешный результат
func Success(userID int64, amount float64) UserCycleResult {
	return UserCycleResult{UserID: userID, Status: CycleSuccess, Amount: amount}
}

// Failure формирует результат с ошибкой
func Failure(userID int64, err error) UserCycleResult {
	return UserCycleResult{UserID: userID, Status: CycleError, Error: err.Error()}
}
