// Package memory содержит хранилище в памяти для тестов и локального запуска.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"compensation-engine/internal/store"
	"compensation-engine/pkg/models"
)

// Store хранит все сущности в памяти. Безопасен для конкурентного использования.
// InTx сериализует транзакции и откатывает изменения при ошибке.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data *state
}

type state struct {
	nextUserID   int64
	nextPosition int64
	nextID       int64

	users          map[int64]models.User
	nodes          map[int64]models.BinaryNode
	autopool       map[int64]models.AutopoolNode
	autopoolByUser map[int64]int64
	catalog        map[int]models.Package
	userPackages   map[int64]models.UserPackage
	incomes        map[int64]models.Income
	activities     []models.Activity
	transactions   []models.Transaction
	teams          map[int64]models.TeamStructure
	settings       map[string]models.Setting
}

var _ store.Store = (*Store)(nil)

// New создает пустое хранилище
func New() *Store {
	return &Store{data: &state{
		nextUserID:     1,
		nextPosition:   1,
		nextID:         1,
		users:          make(map[int64]models.User),
		nodes:          make(map[int64]models.BinaryNode),
		autopool:       make(map[int64]models.AutopoolNode),
		autopoolByUser: make(map[int64]int64),
		catalog:        make(map[int]models.Package),
		userPackages:   make(map[int64]models.UserPackage),
		incomes:        make(map[int64]models.Income),
		teams:          make(map[int64]models.TeamStructure),
		settings:       make(map[string]models.Setting),
	}}
}

func (s *Store) User() store.UserRepository               { return userRepo{s} }
func (s *Store) Binary() store.BinaryRepository           { return binaryRepo{s} }
func (s *Store) Autopool() store.AutopoolRepository       { return autopoolRepo{s} }
func (s *Store) Package() store.PackageRepository         { return packageRepo{s} }
func (s *Store) Income() store.IncomeRepository           { return incomeRepo{s} }
func (s *Store) Activity() store.ActivityRepository       { return activityRepo{s} }
func (s *Store) Transaction() store.TransactionRepository { return transactionRepo{s} }
func (s *Store) Team() store.TeamRepository               { return teamRepo{s} }
func (s *Store) Setting() store.SettingRepository         { return settingRepo{s} }

// InTx выполняет fn эксклюзивно относительно других транзакций
func (s *Store) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(txStore{s}); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Close ничего не делает
func (s *Store) Close() error { return nil }

// txStore выполняет вложенные InTx в текущей транзакции
type txStore struct {
	*Store
}

func (t txStore) InTx(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func (s *Store) id() int64 {
	id := s.data.nextID
	s.data.nextID++
	return id
}

func (d *state) clone() *state {
	c := &state{
		nextUserID:     d.nextUserID,
		nextPosition:   d.nextPosition,
		nextID:         d.nextID,
		users:          make(map[int64]models.User, len(d.users)),
		nodes:          make(map[int64]models.BinaryNode, len(d.nodes)),
		autopool:       make(map[int64]models.AutopoolNode, len(d.autopool)),
		autopoolByUser: make(map[int64]int64, len(d.autopoolByUser)),
		catalog:        make(map[int]models.Package, len(d.catalog)),
		userPackages:   make(map[int64]models.UserPackage, len(d.userPackages)),
		incomes:        make(map[int64]models.Income, len(d.incomes)),
		activities:     append([]models.Activity(nil), d.activities...),
		transactions:   append([]models.Transaction(nil), d.transactions...),
		teams:          make(map[int64]models.TeamStructure, len(d.teams)),
		settings:       make(map[string]models.Setting, len(d.settings)),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.nodes {
		c.nodes[k] = copyNode(v)
	}
	for k, v := range d.autopool {
		c.autopool[k] = copyAutopool(v)
	}
	for k, v := range d.autopoolByUser {
		c.autopoolByUser[k] = v
	}
	for k, v := range d.catalog {
		c.catalog[k] = v
	}
	for k, v := range d.userPackages {
		c.userPackages[k] = copyUserPackage(v)
	}
	for k, v := range d.incomes {
		c.incomes[k] = v
	}
	for k, v := range d.teams {
		c.teams[k] = copyTeam(v)
	}
	for k, v := range d.settings {
		c.settings[k] = v
	}
	return c
}

func copyNode(n models.BinaryNode) models.BinaryNode {
	if n.LastBinaryProcess != nil {
		t := *n.LastBinaryProcess
		n.LastBinaryProcess = &t
	}
	return n
}

func copyAutopool(n models.AutopoolNode) models.AutopoolNode {
	n.Children = append([]int64(nil), n.Children...)
	return n
}

func copyUserPackage(p models.UserPackage) models.UserPackage {
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		p.CompletedAt = &t
	}
	return p
}

func copyTeam(t models.TeamStructure) models.TeamStructure {
	for i := range t.Members {
		t.Members[i] = append([]int64(nil), t.Members[i]...)
	}
	return t
}

// userRepo -------------------------------------------------------------------

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d := r.s.data
	if user.ID == 0 {
		user.ID = d.nextUserID
	} else if _, exists := d.users[user.ID]; exists {
		return fmt.Errorf("пользователь %d уже существует: %w", user.ID, models.ErrInvalidState)
	}
	if user.ID >= d.nextUserID {
		d.nextUserID = user.ID + 1
	}

	now := time.Now()
	if user.RegisteredAt.IsZero() {
		user.RegisteredAt = now
	}
	user.UpdatedAt = now
	d.users[user.ID] = *user
	return nil
}

func (r userRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	user, ok := r.s.data.users[id]
	if !ok {
		return nil, fmt.Errorf("пользователь %d: %w", id, models.ErrNotFound)
	}
	return &user, nil
}

func (r userRepo) Update(_ context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.users[user.ID]; !ok {
		return fmt.Errorf("пользователь с ID %d: %w", user.ID, models.ErrNotFound)
	}
	user.UpdatedAt = time.Now()
	r.s.data.users[user.ID] = *user
	return nil
}

func (r userRepo) filter(keep func(models.User) bool) []*models.User {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var users []*models.User
	for _, u := range r.s.data.users {
		if keep(u) {
			u := u
			users = append(users, &u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

func (r userRepo) ListActive(_ context.Context) ([]*models.User, error) {
	return r.filter(func(u models.User) bool { return u.IsActive }), nil
}

func (r userRepo) ListActiveByRank(_ context.Context, rank models.Rank) ([]*models.User, error) {
	return r.filter(func(u models.User) bool { return u.IsActive && u.Rank == rank }), nil
}

func (r userRepo) ListByReferrer(_ context.Context, referrerID int64) ([]*models.User, error) {
	return r.filter(func(u models.User) bool { return u.ReferrerID == referrerID }), nil
}

// binaryRepo -----------------------------------------------------------------

type binaryRepo struct{ s *Store }

func (r binaryRepo) Create(_ context.Context, node *models.BinaryNode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.data.nodes[node.UserID]; exists {
		return fmt.Errorf("узел дерева %d уже существует: %w", node.UserID, models.ErrInvalidState)
	}
	now := time.Now()
	node.CreatedAt = now
	node.UpdatedAt = now
	r.s.data.nodes[node.UserID] = copyNode(*node)
	return nil
}

func (r binaryRepo) Get(_ context.Context, userID int64) (*models.BinaryNode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	node, ok := r.s.data.nodes[userID]
	if !ok {
		return nil, fmt.Errorf("узел дерева %d: %w", userID, models.ErrNotFound)
	}
	node = copyNode(node)
	return &node, nil
}

func (r binaryRepo) Update(_ context.Context, node *models.BinaryNode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.nodes[node.UserID]; !ok {
		return fmt.Errorf("узел дерева %d: %w", node.UserID, models.ErrNotFound)
	}
	node.UpdatedAt = time.Now()
	r.s.data.nodes[node.UserID] = copyNode(*node)
	return nil
}

// autopoolRepo ---------------------------------------------------------------

type autopoolRepo struct{ s *Store }

func (r autopoolRepo) NextPosition(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	position := r.s.data.nextPosition
	r.s.data.nextPosition++
	return position, nil
}

func (r autopoolRepo) Create(_ context.Context, node *models.AutopoolNode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d := r.s.data
	if _, exists := d.autopool[node.Position]; exists {
		return fmt.Errorf("позиция автопула %d занята: %w", node.Position, models.ErrInvalidState)
	}
	if _, exists := d.autopoolByUser[node.UserID]; exists {
		return models.ErrAlreadyEnrolled
	}
	d.autopool[node.Position] = copyAutopool(*node)
	d.autopoolByUser[node.UserID] = node.Position
	return nil
}

func (r autopoolRepo) GetByPosition(_ context.Context, position int64) (*models.AutopoolNode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	node, ok := r.s.data.autopool[position]
	if !ok {
		return nil, fmt.Errorf("позиция автопула %d: %w", position, models.ErrNotFound)
	}
	node = copyAutopool(node)
	return &node, nil
}

func (r autopoolRepo) GetByUserID(ctx context.Context, userID int64) (*models.AutopoolNode, error) {
	r.s.mu.RLock()
	position, ok := r.s.data.autopoolByUser[userID]
	r.s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("узел автопула пользователя %d: %w", userID, models.ErrNotFound)
	}
	return r.GetByPosition(ctx, position)
}

func (r autopoolRepo) Update(_ context.Context, node *models.AutopoolNode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.autopool[node.Position]; !ok {
		return fmt.Errorf("позиция автопула %d: %w", node.Position, models.ErrNotFound)
	}
	r.s.data.autopool[node.Position] = copyAutopool(*node)
	return nil
}

func (r autopoolRepo) CountByLevel(_ context.Context) (map[int]int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	counts := make(map[int]int64)
	for _, n := range r.s.data.autopool {
		counts[n.Level]++
	}
	return counts, nil
}

// packageRepo ----------------------------------------------------------------

type packageRepo struct{ s *Store }

func (r packageRepo) ListCatalog(_ context.Context) ([]*models.Package, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	packages := make([]*models.Package, 0, len(r.s.data.catalog))
	for _, p := range r.s.data.catalog {
		p := p
		packages = append(packages, &p)
	}
	sort.Slice(packages, func(i, j int) bool { return packages[i].Index < packages[j].Index })
	return packages, nil
}

func (r packageRepo) GetCatalog(_ context.Context, index int) (*models.Package, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.data.catalog[index]
	if !ok {
		return nil, fmt.Errorf("пакет %d: %w", index, models.ErrNotFound)
	}
	return &p, nil
}

func (r packageRepo) UpsertCatalog(_ context.Context, pkg *models.Package) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if existing, ok := r.s.data.catalog[pkg.Index]; ok {
		pkg.CreatedAt = existing.CreatedAt
	} else if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = time.Now()
	}
	r.s.data.catalog[pkg.Index] = *pkg
	return nil
}

func (r packageRepo) CreateUserPackage(_ context.Context, pkg *models.UserPackage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	pkg.ID = r.s.id()
	r.s.data.userPackages[pkg.ID] = copyUserPackage(*pkg)
	return nil
}

func (r packageRepo) UpdateUserPackage(_ context.Context, pkg *models.UserPackage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.userPackages[pkg.ID]; !ok {
		return fmt.Errorf("пакет пользователя %d: %w", pkg.ID, models.ErrNotFound)
	}
	r.s.data.userPackages[pkg.ID] = copyUserPackage(*pkg)
	return nil
}

func (r packageRepo) ListUserPackages(_ context.Context, userID int64, activeOnly bool) ([]*models.UserPackage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var packages []*models.UserPackage
	for _, p := range r.s.data.userPackages {
		if p.UserID != userID || (activeOnly && !p.IsActive) {
			continue
		}
		p = copyUserPackage(p)
		packages = append(packages, &p)
	}
	sort.Slice(packages, func(i, j int) bool {
		if !packages[i].PurchasedAt.Equal(packages[j].PurchasedAt) {
			return packages[i].PurchasedAt.Before(packages[j].PurchasedAt)
		}
		return packages[i].ID < packages[j].ID
	})
	return packages, nil
}

// incomeRepo -----------------------------------------------------------------

type incomeRepo struct{ s *Store }

func (r incomeRepo) Create(_ context.Context, income *models.Income) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	income.ID = r.s.id()
	if income.CreatedAt.IsZero() {
		income.CreatedAt = time.Now()
	}
	r.s.data.incomes[income.ID] = *income
	return nil
}

func (r incomeRepo) sorted(keep func(models.Income) bool) []*models.Income {
	var incomes []*models.Income
	for _, in := range r.s.data.incomes {
		if keep(in) {
			in := in
			incomes = append(incomes, &in)
		}
	}
	sort.Slice(incomes, func(i, j int) bool {
		if !incomes[i].CreatedAt.Equal(incomes[j].CreatedAt) {
			return incomes[i].CreatedAt.Before(incomes[j].CreatedAt)
		}
		return incomes[i].ID < incomes[j].ID
	})
	return incomes
}

func (r incomeRepo) ListUnpaid(_ context.Context, userID int64, incomeType models.IncomeType) ([]*models.Income, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.sorted(func(in models.Income) bool {
		return in.UserID == userID && in.Type == incomeType && !in.IsPaid
	}), nil
}

func (r incomeRepo) ListByUser(_ context.Context, userID int64, limit int) ([]*models.Income, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	incomes := r.sorted(func(in models.Income) bool { return in.UserID == userID })
	reverse(incomes)
	return truncate(incomes, limit), nil
}

func (r incomeRepo) MarkPaid(_ context.Context, ids []int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, id := range ids {
		if in, ok := r.s.data.incomes[id]; ok {
			in.IsPaid = true
			r.s.data.incomes[id] = in
		}
	}
	return nil
}

// activityRepo ---------------------------------------------------------------

type activityRepo struct{ s *Store }

func (r activityRepo) Create(_ context.Context, activity *models.Activity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	activity.ID = r.s.id()
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now()
	}
	r.s.data.activities = append(r.s.data.activities, *activity)
	return nil
}

func (r activityRepo) ListByUser(_ context.Context, userID int64, limit int) ([]*models.Activity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var activities []*models.Activity
	for i := len(r.s.data.activities) - 1; i >= 0; i-- {
		if a := r.s.data.activities[i]; a.UserID == userID {
			activities = append(activities, &a)
		}
	}
	return truncate(activities, limit), nil
}

// transactionRepo ------------------------------------------------------------

type transactionRepo struct{ s *Store }

func (r transactionRepo) Create(_ context.Context, tx *models.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx.ID = r.s.id()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	r.s.data.transactions = append(r.s.data.transactions, *tx)
	return nil
}

func (r transactionRepo) ListByUser(_ context.Context, userID int64, limit int) ([]*models.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var txs []*models.Transaction
	for i := len(r.s.data.transactions) - 1; i >= 0; i-- {
		if tx := r.s.data.transactions[i]; tx.UserID == userID {
			txs = append(txs, &tx)
		}
	}
	return truncate(txs, limit), nil
}

func (r transactionRepo) SumCompleted(_ context.Context, txType models.TransactionType, since time.Time) (float64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var total float64
	for _, tx := range r.s.data.transactions {
		if tx.Type == txType && tx.Status == models.TransactionCompleted && !tx.CreatedAt.Before(since) {
			total += tx.Amount
		}
	}
	return total, nil
}

// teamRepo -------------------------------------------------------------------

type teamRepo struct{ s *Store }

func (r teamRepo) Create(_ context.Context, team *models.TeamStructure) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.data.teams[team.UserID]; exists {
		return fmt.Errorf("командная структура %d уже существует: %w", team.UserID, models.ErrInvalidState)
	}
	team.UpdatedAt = time.Now()
	r.s.data.teams[team.UserID] = copyTeam(*team)
	return nil
}

func (r teamRepo) Get(_ context.Context, userID int64) (*models.TeamStructure, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	team, ok := r.s.data.teams[userID]
	if !ok {
		return nil, fmt.Errorf("командная структура %d: %w", userID, models.ErrNotFound)
	}
	team = copyTeam(team)
	return &team, nil
}

func (r teamRepo) Update(_ context.Context, team *models.TeamStructure) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.teams[team.UserID]; !ok {
		return fmt.Errorf("командная структура %d: %w", team.UserID, models.ErrNotFound)
	}
	team.UpdatedAt = time.Now()
	r.s.data.teams[team.UserID] = copyTeam(*team)
	return nil
}

// settingRepo ----------------------------------------------------------------

type settingRepo struct{ s *Store }

func (r settingRepo) Get(_ context.Context, key string) (*models.Setting, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	setting, ok := r.s.data.settings[key]
	if !ok {
		return nil, fmt.Errorf("настройка %s: %w", key, models.ErrNotFound)
	}
	return &setting, nil
}

func (r settingRepo) Set(_ context.Context, key string, value json.RawMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.data.settings[key] = models.Setting{
		Key:       key,
		Value:     append(json.RawMessage(nil), value...),
		UpdatedAt: time.Now(),
	}
	return nil
}

func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
