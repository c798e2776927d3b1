package store

import (
	"context"
	"encoding/json"
	"fmt"

	"compensation-engine/pkg/models"
)

// settingRepository реализует SettingRepository
type settingRepository struct {
	db querier
}

// Get получает настройку по ключу
func (r *settingRepository) Get(ctx context.Context, key string) (*models.Setting, error) {
	setting := &models.Setting{}
	err := r.db.QueryRow(ctx, `SELECT key, value, updated_at FROM settings WHERE key = $1`, key).
		Scan(&setting.Key, &setting.Value, &setting.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "настройка "+key)
	}
	return setting, nil
}

// Set сохраняет настройку
func (r *settingRepository) Set(ctx context.Context, key string, value json.RawMessage) error {
	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	if _, err := r.db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("ошибка сохранения настройки %s: %w", key, err)
	}
	return nil
}
