package store

import (
	"context"
	"fmt"

	"compensation-engine/pkg/models"
)

// packageRepository реализует PackageRepository
type packageRepository struct {
	db querier
}

// ListCatalog возвращает каталог пакетов по возрастанию индекса
func (r *packageRepository) ListCatalog(ctx context.Context) ([]*models.Package, error) {
	query := `SELECT index, name, price_usd, ceiling_multiplier, is_active, created_at FROM packages ORDER BY index`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения каталога пакетов: %w", err)
	}
	defer rows.Close()

	var packages []*models.Package
	for rows.Next() {
		pkg := &models.Package{}
		if err := rows.Scan(&pkg.Index, &pkg.Name, &pkg.PriceUSD, &pkg.CeilingMultiplier, &pkg.IsActive, &pkg.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования пакета: %w", err)
		}
		packages = append(packages, pkg)
	}
	return packages, rows.Err()
}

// GetCatalog получает пакет каталога по индексу
func (r *packageRepository) GetCatalog(ctx context.Context, index int) (*models.Package, error) {
	query := `SELECT index, name, price_usd, ceiling_multiplier, is_active, created_at FROM packages WHERE index = $1`

	pkg := &models.Package{}
	err := r.db.QueryRow(ctx, query, index).Scan(&pkg.Index, &pkg.Name, &pkg.PriceUSD, &pkg.CeilingMultiplier, &pkg.IsActive, &pkg.CreatedAt)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("пакет %d", index))
	}
	return pkg, nil
}

// UpsertCatalog создает или обновляет пакет каталога
func (r *packageRepository) UpsertCatalog(ctx context.Context, pkg *models.Package) error {
	query := `
		INSERT INTO packages (index, name, price_usd, ceiling_multiplier, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (index) DO UPDATE
		SET name = EXCLUDED.name, price_usd = EXCLUDED.price_usd,
		    ceiling_multiplier = EXCLUDED.ceiling_multiplier, is_active = EXCLUDED.is_active
		RETURNING created_at`

	if err := r.db.QueryRow(ctx, query, pkg.Index, pkg.Name, pkg.PriceUSD, pkg.CeilingMultiplier, pkg.IsActive).Scan(&pkg.CreatedAt); err != nil {
		return fmt.Errorf("ошибка сохранения пакета: %w", err)
	}
	return nil
}

const userPackageColumns = `user_id, package_index, amount_paid, token_amount, ceiling_limit, earned, is_active, purchased_at, completed_at`

// CreateUserPackage сохраняет купленный пакет
func (r *packageRepository) CreateUserPackage(ctx context.Context, pkg *models.UserPackage) error {
	query := `INSERT INTO user_packages (` + userPackageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		pkg.UserID, pkg.PackageIndex, pkg.AmountPaid, pkg.TokenAmount, pkg.CeilingLimit,
		pkg.Earned, pkg.IsActive, pkg.PurchasedAt, pkg.CompletedAt,
	).Scan(&pkg.ID)
	if err != nil {
		return fmt.Errorf("ошибка создания пакета пользователя: %w", err)
	}
	return nil
}

// UpdateUserPackage обновляет начисленную сумму и статус пакета
func (r *packageRepository) UpdateUserPackage(ctx context.Context, pkg *models.UserPackage) error {
	query := `UPDATE user_packages SET earned = $2, is_active = $3, completed_at = $4 WHERE id = $1`

	result, err := r.db.Exec(ctx, query, pkg.ID, pkg.Earned, pkg.IsActive, pkg.CompletedAt)
	if err != nil {
		return fmt.Errorf("ошибка обновления пакета пользователя: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("пакет пользователя %d: %w", pkg.ID, models.ErrNotFound)
	}
	return nil
}

// ListUserPackages возвращает пакеты пользователя от старых к новым
func (r *packageRepository) ListUserPackages(ctx context.Context, userID int64, activeOnly bool) ([]*models.UserPackage, error) {
	query := `SELECT id, ` + userPackageColumns + ` FROM user_packages
		WHERE user_id = $1 AND (NOT $2 OR is_active)
		ORDER BY purchased_at, id`

	rows, err := r.db.Query(ctx, query, userID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пакетов пользователя: %w", err)
	}
	defer rows.Close()

	var packages []*models.UserPackage
	for rows.Next() {
		pkg := &models.UserPackage{}
		err := rows.Scan(&pkg.ID, &pkg.UserID, &pkg.PackageIndex, &pkg.AmountPaid, &pkg.TokenAmount, &pkg.CeilingLimit,
			&pkg.Earned, &pkg.IsActive, &pkg.PurchasedAt, &pkg.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования пакета пользователя: %w", err)
		}
		packages = append(packages, pkg)
	}
	return packages, rows.Err()
}
