package store

import (
	"context"
	"fmt"
	"time"

	"compensation-engine/pkg/models"
)

// incomeRepository реализует IncomeRepository
type incomeRepository struct {
	db querier
}

const incomeColumns = `user_id, type, amount, source_user_id, level, description, is_paid, is_distributed, metadata, created_at`

// Create добавляет запись о доходе
func (r *incomeRepository) Create(ctx context.Context, income *models.Income) error {
	if income.CreatedAt.IsZero() {
		income.CreatedAt = time.Now()
	}
	query := `INSERT INTO incomes (` + incomeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		income.UserID, income.Type, income.Amount, income.SourceUserID, income.Level, income.Description,
		income.IsPaid, income.IsDistributed, income.Metadata, income.CreatedAt,
	).Scan(&income.ID)
	if err != nil {
		return fmt.Errorf("ошибка создания записи дохода: %w", err)
	}
	return nil
}

func (r *incomeRepository) list(ctx context.Context, query string, args ...any) ([]*models.Income, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения доходов: %w", err)
	}
	defer rows.Close()

	var incomes []*models.Income
	for rows.Next() {
		income := &models.Income{}
		err := rows.Scan(&income.ID, &income.UserID, &income.Type, &income.Amount, &income.SourceUserID, &income.Level,
			&income.Description, &income.IsPaid, &income.IsDistributed, &income.Metadata, &income.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования дохода: %w", err)
		}
		incomes = append(incomes, income)
	}
	return incomes, rows.Err()
}

// ListUnpaid возвращает невыплаченные доходы типа от старых к новым
func (r *incomeRepository) ListUnpaid(ctx context.Context, userID int64, incomeType models.IncomeType) ([]*models.Income, error) {
	query := `SELECT id, ` + incomeColumns + ` FROM incomes
		WHERE user_id = $1 AND type = $2 AND NOT is_paid
		ORDER BY created_at, id`
	return r.list(ctx, query, userID, incomeType)
}

// ListByUser возвращает последние доходы пользователя
func (r *incomeRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Income, error) {
	query := `SELECT id, ` + incomeColumns + ` FROM incomes
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
	return r.list(ctx, query, userID, limit)
}

// MarkPaid помечает доходы выплаченными
func (r *incomeRepository) MarkPaid(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.Exec(ctx, `UPDATE incomes SET is_paid = TRUE WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("ошибка отметки выплаченных доходов: %w", err)
	}
	return nil
}

// activityRepository реализует ActivityRepository
type activityRepository struct {
	db querier
}

// Create добавляет запись активности
func (r *activityRepository) Create(ctx context.Context, activity *models.Activity) error {
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO activities (user_id, type, amount, level, description, reference_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		activity.UserID, activity.Type, activity.Amount, activity.Level, activity.Description,
		activity.ReferenceID, activity.Metadata, activity.CreatedAt,
	).Scan(&activity.ID)
	if err != nil {
		return fmt.Errorf("ошибка создания записи активности: %w", err)
	}
	return nil
}

// ListByUser возвращает последние записи активности пользователя
func (r *activityRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Activity, error) {
	query := `
		SELECT id, user_id, type, amount, level, description, reference_id, metadata, created_at
		FROM activities
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения активности: %w", err)
	}
	defer rows.Close()

	var activities []*models.Activity
	for rows.Next() {
		a := &models.Activity{}
		if err := rows.Scan(&a.ID, &a.UserID, &a.Type, &a.Amount, &a.Level, &a.Description, &a.ReferenceID, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования активности: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// transactionRepository реализует TransactionRepository
type transactionRepository struct {
	db querier
}

const transactionColumns = `reference, user_id, type, amount, amount_usd, fee, status, wallet_address, description, metadata, created_at`

// Create добавляет транзакцию
func (r *transactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		tx.Reference, tx.UserID, tx.Type, tx.Amount, tx.AmountUSD, tx.Fee, tx.Status,
		tx.WalletAddress, tx.Description, tx.Metadata, tx.CreatedAt,
	).Scan(&tx.ID)
	if err != nil {
		return fmt.Errorf("ошибка создания транзакции: %w", err)
	}
	return nil
}

// ListByUser возвращает последние транзакции пользователя
func (r *transactionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Transaction, error) {
	query := `SELECT id, ` + transactionColumns + ` FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения транзакций: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx := &models.Transaction{}
		err := rows.Scan(&tx.ID, &tx.Reference, &tx.UserID, &tx.Type, &tx.Amount, &tx.AmountUSD, &tx.Fee, &tx.Status,
			&tx.WalletAddress, &tx.Description, &tx.Metadata, &tx.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования транзакции: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// SumCompleted суммирует завершенные транзакции типа начиная с момента since
func (r *transactionRepository) SumCompleted(ctx context.Context, txType models.TransactionType, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE type = $1 AND status = $2 AND created_at >= $3`

	var total float64
	if err := r.db.QueryRow(ctx, query, txType, models.TransactionCompleted, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("ошибка подсчета оборота: %w", err)
	}
	return total, nil
}
