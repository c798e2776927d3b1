package store

import (
	"context"
	"fmt"
	"time"

	"compensation-engine/pkg/models"

	"go.uber.org/zap"
)

// userRepository реализует UserRepository
type userRepository struct {
	db     querier
	lock   string
	logger *zap.Logger
}

const userColumns = `id, referrer_id, name, wallet_address, side, direct_referrals, rank, self_volume,
	earned, withdrawn, total_withdrawn, purchase_wallet,
	last_roi_distributed, last_binary_distributed, last_reward_distributed,
	is_active, registered_at, updated_at`

func scanUser(row interface{ Scan(dest ...any) error }) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.ReferrerID, &user.Name, &user.WalletAddress, &user.Side, &user.DirectReferrals, &user.Rank, &user.SelfVolume,
		&user.Earned, &user.Withdrawn, &user.TotalWithdrawn, &user.PurchaseWallet,
		&user.LastROIDistributed, &user.LastBinaryDistributed, &user.LastRewardDistributed,
		&user.IsActive, &user.RegisteredAt, &user.UpdatedAt,
	)
	return user, err
}

// Create создает нового пользователя. Нулевой ID выдается из последовательности.
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == 0 {
		if err := r.db.QueryRow(ctx, `SELECT nextval('user_id_seq')`).Scan(&user.ID); err != nil {
			return fmt.Errorf("ошибка выдачи ID пользователя: %w", err)
		}
	}

	now := time.Now()
	if user.RegisteredAt.IsZero() {
		user.RegisteredAt = now
	}
	user.UpdatedAt = now

	query := `INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := r.db.Exec(ctx, query,
		user.ID, user.ReferrerID, user.Name, user.WalletAddress, user.Side, user.DirectReferrals, user.Rank, user.SelfVolume,
		user.Earned, user.Withdrawn, user.TotalWithdrawn, user.PurchaseWallet,
		user.LastROIDistributed, user.LastBinaryDistributed, user.LastRewardDistributed,
		user.IsActive, user.RegisteredAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}

	r.logger.Info("пользователь создан",
		zap.Int64("user_id", user.ID),
		zap.Int64("referrer_id", user.ReferrerID))
	return nil
}

// GetByID получает пользователя по ID
func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1` + r.lock

	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("пользователь %d", id))
	}
	return user, nil
}

// Update обновляет пользователя
func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET referrer_id = $2, name = $3, wallet_address = $4, side = $5, direct_referrals = $6, rank = $7, self_volume = $8,
		    earned = $9, withdrawn = $10, total_withdrawn = $11, purchase_wallet = $12,
		    last_roi_distributed = $13, last_binary_distributed = $14, last_reward_distributed = $15,
		    is_active = $16, updated_at = $17
		WHERE id = $1`

	user.UpdatedAt = time.Now()

	result, err := r.db.Exec(ctx, query,
		user.ID, user.ReferrerID, user.Name, user.WalletAddress, user.Side, user.DirectReferrals, user.Rank, user.SelfVolume,
		user.Earned, user.Withdrawn, user.TotalWithdrawn, user.PurchaseWallet,
		user.LastROIDistributed, user.LastBinaryDistributed, user.LastRewardDistributed,
		user.IsActive, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления пользователя: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("пользователь с ID %d: %w", user.ID, models.ErrNotFound)
	}
	return nil
}

// ListActive получает всех активных пользователей
func (r *userRepository) ListActive(ctx context.Context) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE is_active ORDER BY id`
	return r.list(ctx, query)
}

// ListActiveByRank получает активных пользователей с указанным рангом
func (r *userRepository) ListActiveByRank(ctx context.Context, rank models.Rank) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE is_active AND rank = $1 ORDER BY id`
	return r.list(ctx, query, rank)
}

// ListByReferrer получает личных приглашенных пользователя
func (r *userRepository) ListByReferrer(ctx context.Context, referrerID int64) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE referrer_id = $1 ORDER BY id`
	return r.list(ctx, query, referrerID)
}

func (r *userRepository) list(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("ошибка получения пользователей", zap.Error(err))
		return nil, fmt.Errorf("ошибка получения пользователей: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения пользователей: %w", err)
	}

	return users, nil
}
