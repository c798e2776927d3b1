package store

import (
	"context"
	"fmt"
	"time"

	"compensation-engine/pkg/models"
)

// binaryRepository реализует BinaryRepository
type binaryRepository struct {
	db   querier
	lock string
}

const binaryColumns = `user_id, parent_id, position, placed, left_child_id, right_child_id,
	left_volume, right_volume, left_carry_forward, right_carry_forward,
	total_left_volume, total_right_volume, left_count, right_count,
	last_binary_process, created_at, updated_at`

// Create создает узел бинарного дерева
func (r *binaryRepository) Create(ctx context.Context, node *models.BinaryNode) error {
	now := time.Now()
	node.CreatedAt = now
	node.UpdatedAt = now

	query := `INSERT INTO binary_nodes (` + binaryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.db.Exec(ctx, query,
		node.UserID, node.ParentID, node.Position, node.Placed, node.LeftChildID, node.RightChildID,
		node.LeftVolume, node.RightVolume, node.LeftCarryForward, node.RightCarryForward,
		node.TotalLeftVolume, node.TotalRightVolume, node.LeftCount, node.RightCount,
		node.LastBinaryProcess, node.CreatedAt, node.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания узла дерева: %w", err)
	}
	return nil
}

// Get получает узел дерева пользователя
func (r *binaryRepository) Get(ctx context.Context, userID int64) (*models.BinaryNode, error) {
	query := `SELECT ` + binaryColumns + ` FROM binary_nodes WHERE user_id = $1` + r.lock

	node := &models.BinaryNode{}
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&node.UserID, &node.ParentID, &node.Position, &node.Placed, &node.LeftChildID, &node.RightChildID,
		&node.LeftVolume, &node.RightVolume, &node.LeftCarryForward, &node.RightCarryForward,
		&node.TotalLeftVolume, &node.TotalRightVolume, &node.LeftCount, &node.RightCount,
		&node.LastBinaryProcess, &node.CreatedAt, &node.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("узел дерева %d", userID))
	}
	return node, nil
}

// Update обновляет узел дерева
func (r *binaryRepository) Update(ctx context.Context, node *models.BinaryNode) error {
	query := `
		UPDATE binary_nodes
		SET parent_id = $2, position = $3, placed = $4, left_child_id = $5, right_child_id = $6,
		    left_volume = $7, right_volume = $8, left_carry_forward = $9, right_carry_forward = $10,
		    total_left_volume = $11, total_right_volume = $12, left_count = $13, right_count = $14,
		    last_binary_process = $15, updated_at = $16
		WHERE user_id = $1`

	node.UpdatedAt = time.Now()

	result, err := r.db.Exec(ctx, query,
		node.UserID, node.ParentID, node.Position, node.Placed, node.LeftChildID, node.RightChildID,
		node.LeftVolume, node.RightVolume, node.LeftCarryForward, node.RightCarryForward,
		node.TotalLeftVolume, node.TotalRightVolume, node.LeftCount, node.RightCount,
		node.LastBinaryProcess, node.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления узла дерева: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("узел дерева %d: %w", node.UserID, models.ErrNotFound)
	}
	return nil
}

// autopoolRepository реализует AutopoolRepository
type autopoolRepository struct {
	db   querier
	lock string
}

const autopoolColumns = `user_id, position, parent_position, level, children, is_eligible, total_earned, joined_at`

// NextPosition выдает следующую позицию из счетчика. Откат транзакции возвращает позицию.
func (r *autopoolRepository) NextPosition(ctx context.Context) (int64, error) {
	query := `UPDATE counters SET value = value + 1 WHERE name = 'autopool_position' RETURNING value`

	var position int64
	if err := r.db.QueryRow(ctx, query).Scan(&position); err != nil {
		return 0, fmt.Errorf("ошибка выдачи позиции автопула: %w", err)
	}
	return position, nil
}

// Create создает узел автопула
func (r *autopoolRepository) Create(ctx context.Context, node *models.AutopoolNode) error {
	if node.Children == nil {
		node.Children = []int64{}
	}
	query := `INSERT INTO autopool_nodes (` + autopoolColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		node.UserID, node.Position, node.ParentPosition, node.Level, node.Children,
		node.IsEligible, node.TotalEarned, node.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания узла автопула: %w", err)
	}
	return nil
}

func (r *autopoolRepository) get(ctx context.Context, where string, arg any) (*models.AutopoolNode, error) {
	query := `SELECT ` + autopoolColumns + ` FROM autopool_nodes WHERE ` + where + r.lock

	node := &models.AutopoolNode{}
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&node.UserID, &node.Position, &node.ParentPosition, &node.Level, &node.Children,
		&node.IsEligible, &node.TotalEarned, &node.JoinedAt,
	)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// GetByPosition получает узел автопула по позиции
func (r *autopoolRepository) GetByPosition(ctx context.Context, position int64) (*models.AutopoolNode, error) {
	node, err := r.get(ctx, "position = $1", position)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("позиция автопула %d", position))
	}
	return node, nil
}

// GetByUserID получает узел автопула пользователя
func (r *autopoolRepository) GetByUserID(ctx context.Context, userID int64) (*models.AutopoolNode, error) {
	node, err := r.get(ctx, "user_id = $1", userID)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("узел автопула пользователя %d", userID))
	}
	return node, nil
}

// Update обновляет узел автопула
func (r *autopoolRepository) Update(ctx context.Context, node *models.AutopoolNode) error {
	query := `
		UPDATE autopool_nodes
		SET children = $2, is_eligible = $3, total_earned = $4
		WHERE position = $1`

	result, err := r.db.Exec(ctx, query, node.Position, node.Children, node.IsEligible, node.TotalEarned)
	if err != nil {
		return fmt.Errorf("ошибка обновления узла автопула: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("позиция автопула %d: %w", node.Position, models.ErrNotFound)
	}
	return nil
}

// CountByLevel считает участников автопула по уровням
func (r *autopoolRepository) CountByLevel(ctx context.Context) (map[int]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT level, COUNT(*) FROM autopool_nodes GROUP BY level`)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчета уровней автопула: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var level int
		var count int64
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования уровня автопула: %w", err)
		}
		counts[level] = count
	}
	return counts, rows.Err()
}

// teamRepository реализует TeamRepository
type teamRepository struct {
	db   querier
	lock string
}

// Create создает командную структуру
func (r *teamRepository) Create(ctx context.Context, team *models.TeamStructure) error {
	team.UpdatedAt = time.Now()
	query := `
		INSERT INTO team_structures (user_id, members, level_volume, rank_counts, direct_team, total_team, direct_business, total_business, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		team.UserID, team.Members, team.LevelVolume, team.RankCounts,
		team.DirectTeam, team.TotalTeam, team.DirectBusiness, team.TotalBusiness, team.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания командной структуры: %w", err)
	}
	return nil
}

// Get получает командную структуру пользователя
func (r *teamRepository) Get(ctx context.Context, userID int64) (*models.TeamStructure, error) {
	query := `
		SELECT user_id, members, level_volume, rank_counts, direct_team, total_team, direct_business, total_business, updated_at
		FROM team_structures WHERE user_id = $1` + r.lock

	team := &models.TeamStructure{}
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&team.UserID, &team.Members, &team.LevelVolume, &team.RankCounts,
		&team.DirectTeam, &team.TotalTeam, &team.DirectBusiness, &team.TotalBusiness, &team.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("командная структура %d", userID))
	}
	return team, nil
}

// Update обновляет командную структуру
func (r *teamRepository) Update(ctx context.Context, team *models.TeamStructure) error {
	team.UpdatedAt = time.Now()
	query := `
		UPDATE team_structures
		SET members = $2, level_volume = $3, rank_counts = $4, direct_team = $5, total_team = $6,
		    direct_business = $7, total_business = $8, updated_at = $9
		WHERE user_id = $1`

	result, err := r.db.Exec(ctx, query,
		team.UserID, team.Members, team.LevelVolume, team.RankCounts,
		team.DirectTeam, team.TotalTeam, team.DirectBusiness, team.TotalBusiness, team.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления командной структуры: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("командная структура %d: %w", team.UserID, models.ErrNotFound)
	}
	return nil
}
