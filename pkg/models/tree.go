package models

import (
	"time"
)

// BinaryNode узел бинарного дерева размещения (один на пользователя)
type BinaryNode struct {
	UserID       int64 `json:"user_id" db:"user_id"`
	ParentID     int64 `json:"parent_id" db:"parent_id"` // 0 - корень
	Position     Side  `json:"position" db:"position"`   // сторона относительно родителя
	Placed       bool  `json:"placed" db:"placed"`
	LeftChildID  int64 `json:"left_child_id" db:"left_child_id"`
	RightChildID int64 `json:"right_child_id" db:"right_child_id"`

	// Текущий объем, участвующий в следующем сопоставлении
	LeftVolume  float64 `json:"left_volume" db:"left_volume"`
	RightVolume float64 `json:"right_volume" db:"right_volume"`

	LeftCarryForward  float64 `json:"left_carry_forward" db:"left_carry_forward"`
	RightCarryForward float64 `json:"right_carry_forward" db:"right_carry_forward"`

	// Объем за все время
	TotalLeftVolume  float64 `json:"total_left_volume" db:"total_left_volume"`
	TotalRightVolume float64 `json:"total_right_volume" db:"total_right_volume"`

	LeftCount  int `json:"left_count" db:"left_count"`
	RightCount int `json:"right_count" db:"right_count"`

	LastBinaryProcess *time.Time `json:"last_binary_process,omitempty" db:"last_binary_process"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Child возвращает ID ребенка с указанной стороны
func (n *BinaryNode) Child(side Side) int64 {
	if side == SideRight {
		return n.RightChildID
	}
	return n.LeftChildID
}

// SetChild устанавливает ребенка с указанной стороны
func (n *BinaryNode) SetChild(side Side, childID int64) {
	if side == SideRight {
		n.RightChildID = childID
		return
	}
	n.LeftChildID = childID
}

// AddVolume добавляет объем на сторону
func (n *BinaryNode) AddVolume(side Side, amount float64) {
	if side == SideRight {
		n.RightVolume += amount
		n.TotalRightVolume += amount
		return
	}
	n.LeftVolume += amount
	n.TotalLeftVolume += amount
}

// AddCount увеличивает счетчик участников на стороне
func (n *BinaryNode) AddCount(side Side) {
	if side == SideRight {
		n.RightCount++
		return
	}
	n.LeftCount++
}

// WeakerLeg возвращает объем слабой ноги
func (n *BinaryNode) WeakerLeg() float64 {
	if n.LeftVolume < n.RightVolume {
		return n.LeftVolume
	}
	return n.RightVolume
}

// StrongerLeg возвращает объем сильной ноги
func (n *BinaryNode) StrongerLeg() float64 {
	if n.LeftVolume > n.RightVolume {
		return n.LeftVolume
	}
	return n.RightVolume
}

// BinaryTreeNode представление поддерева для просмотра
type BinaryTreeNode struct {
	UserID           int64           `json:"user_id"`
	Name             string          `json:"name"`
	Position         Side            `json:"position"`
	LeftVolume       float64         `json:"left_volume"`
	RightVolume      float64         `json:"right_volume"`
	TotalLeftVolume  float64         `json:"total_left_volume"`
	TotalRightVolume float64         `json:"total_right_volume"`
	IsEmpty          bool            `json:"is_empty"`
	Left             *BinaryTreeNode `json:"left,omitempty"`
	Right            *BinaryTreeNode `json:"right,omitempty"`
}

// BinaryLegs сведения о ногах пользователя
type BinaryLegs struct {
	UserID            int64      `json:"user_id"`
	LeftChildID       int64      `json:"left_child_id"`
	RightChildID      int64      `json:"right_child_id"`
	LeftVolume        float64    `json:"left_volume"`
	RightVolume       float64    `json:"right_volume"`
	LeftCarryForward  float64    `json:"left_carry_forward"`
	RightCarryForward float64    `json:"right_carry_forward"`
	TotalLeftVolume   float64    `json:"total_left_volume"`
	TotalRightVolume  float64    `json:"total_right_volume"`
	LeftCount         int        `json:"left_count"`
	RightCount        int        `json:"right_count"`
	WeakerLeg         float64    `json:"weaker_leg"`
	StrongerLeg       float64    `json:"stronger_leg"`
	LastBinaryProcess *time.Time `json:"last_binary_process,omitempty"`
}

// AutopoolNode позиция пользователя в глобальном четверичном дереве
type AutopoolNode struct {
	UserID         int64     `json:"user_id" db:"user_id"`
	Position       int64     `json:"position" db:"position"`               // глобальная позиция, начиная с 1
	ParentPosition int64     `json:"parent_position" db:"parent_position"` // 0 у корня
	Level          int       `json:"level" db:"level"`                     // глубина, начиная с 0
	Children       []int64   `json:"children" db:"children"`
	IsEligible     bool      `json:"is_eligible" db:"is_eligible"`
	TotalEarned    float64   `json:"total_earned" db:"total_earned"`
	JoinedAt       time.Time `json:"joined_at" db:"joined_at"`
}

// AutopoolLevelStats статистика уровня автопула
type AutopoolLevelStats struct {
	Level      int     `json:"level"`
	Members    int64   `json:"members"`
	MaxMembers int64   `json:"max_members"`
	Fee        float64 `json:"fee"`
	Progress   float64 `json:"progress"`
}

// AutopoolPayout выплата предку при вступлении нового участника
type AutopoolPayout struct {
	UserID   int64   `json:"user_id"`
	Position int64   `json:"position"`
	Level    int     `json:"level"` // относительная глубина, начиная с 1
	Amount   float64 `json:"amount"`
}

// TeamStructure агрегат команды пользователя по уровням
type TeamStructure struct {
	UserID int64 `json:"user_id" db:"user_id"`

	// Индекс 0 соответствует уровню 1
	Members     [TeamDepth][]int64 `json:"members" db:"members"`
	LevelVolume [TeamDepth]float64 `json:"level_volume" db:"level_volume"`

	// Количество участников команды с каждым рангом (индекс = ранг)
	RankCounts [RankCount]int `json:"rank_counts" db:"rank_counts"`

	DirectTeam     int       `json:"direct_team" db:"direct_team"`
	TotalTeam      int       `json:"total_team" db:"total_team"`
	DirectBusiness float64   `json:"direct_business" db:"direct_business"`
	TotalBusiness  float64   `json:"total_business" db:"total_business"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// AddMember добавляет участника на уровень 1..7, возвращает false если он уже есть
func (t *TeamStructure) AddMember(level int, memberID int64) bool {
	if level < 1 || level > TeamDepth {
		return false
	}
	for _, id := range t.Members[level-1] {
		if id == memberID {
			return false
		}
	}
	t.Members[level-1] = append(t.Members[level-1], memberID)
	t.TotalTeam++
	if level == 1 {
		t.DirectTeam++
	}
	return true
}

// AddVolume добавляет объем на уровень 1..7
func (t *TeamStructure) AddVolume(level int, amount float64) {
	if level < 1 || level > TeamDepth {
		return
	}
	t.LevelVolume[level-1] += amount
	t.TotalBusiness += amount
	if level == 1 {
		t.DirectBusiness += amount
	}
}

// ShiftRank переносит участника из старого ранга в новый
func (t *TeamStructure) ShiftRank(oldRank, newRank Rank) {
	if oldRank == newRank {
		return
	}
	if oldRank.IsValid() && t.RankCounts[oldRank] > 0 {
		t.RankCounts[oldRank]--
	}
	if newRank.IsValid() {
		t.RankCounts[newRank]++
	}
}

// MembersAt количество участников команды с указанным рангом
func (t *TeamStructure) MembersAt(rank Rank) int {
	if !rank.IsValid() {
		return 0
	}
	return t.RankCounts[rank]
}

// LevelSize количество участников на уровне 1..7
func (t *TeamStructure) LevelSize(level int) int {
	if level < 1 || level > TeamDepth {
		return 0
	}
	return len(t.Members[level-1])
}

// HasMember проверяет наличие участника на уровне
func (t *TeamStructure) HasMember(level int, memberID int64) bool {
	if level < 1 || level > TeamDepth {
		return false
	}
	for _, id := range t.Members[level-1] {
		if id == memberID {
			return true
		}
	}
	return false
}
