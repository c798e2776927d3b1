package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"compensation-engine/internal/config"
	"compensation-engine/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store представляет интерфейс для работы с хранилищем начислений
type Store interface {
	User() UserRepository
	Binary() BinaryRepository
	Autopool() AutopoolRepository
	Package() PackageRepository
	Income() IncomeRepository
	Activity() ActivityRepository
	Transaction() TransactionRepository
	Team() TeamRepository
	Setting() SettingRepository
	// InTx выполняет fn в одной транзакции. Вложенный вызов использует текущую транзакцию.
	InTx(ctx context.Context, fn func(tx Store) error) error
	Close() error
}

// UserRepository интерфейс для работы с пользователями
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	ListActive(ctx context.Context) ([]*models.User, error)
	ListActiveByRank(ctx context.Context, rank models.Rank) ([]*models.User, error)
	ListByReferrer(ctx context.Context, referrerID int64) ([]*models.User, error)
}

// BinaryRepository интерфейс для работы с бинарным деревом
type BinaryRepository interface {
	Create(ctx context.Context, node *models.BinaryNode) error
	Get(ctx context.Context, userID int64) (*models.BinaryNode, error)
	Update(ctx context.Context, node *models.BinaryNode) error
}

// AutopoolRepository интерфейс для работы с автопулом
type AutopoolRepository interface {
	// NextPosition выдает следующую глобальную позицию из монотонного счетчика
	NextPosition(ctx context.Context) (int64, error)
	Create(ctx context.Context, node *models.AutopoolNode) error
	GetByPosition(ctx context.Context, position int64) (*models.AutopoolNode, error)
	GetByUserID(ctx context.Context, userID int64) (*models.AutopoolNode, error)
	Update(ctx context.Context, node *models.AutopoolNode) error
	CountByLevel(ctx context.Context) (map[int]int64, error)
}

// PackageRepository интерфейс для каталога и купленных пакетов
type PackageRepository interface {
	ListCatalog(ctx context.Context) ([]*models.Package, error)
	GetCatalog(ctx context.Context, index int) (*models.Package, error)
	UpsertCatalog(ctx context.Context, pkg *models.Package) error
	CreateUserPackage(ctx context.Context, pkg *models.UserPackage) error
	UpdateUserPackage(ctx context.Context, pkg *models.UserPackage) error
	// ListUserPackages возвращает пакеты пользователя от старых к новым
	ListUserPackages(ctx context.Context, userID int64, activeOnly bool) ([]*models.UserPackage, error)
}

// IncomeRepository интерфейс для журнала доходов
type IncomeRepository interface {
	Create(ctx context.Context, income *models.Income) error
	// ListUnpaid возвращает невыплаченные доходы типа от старых к новым
	ListUnpaid(ctx context.Context, userID int64, incomeType models.IncomeType) ([]*models.Income, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Income, error)
	MarkPaid(ctx context.Context, ids []int64) error
}

// ActivityRepository интерфейс для журнала активности
type ActivityRepository interface {
	Create(ctx context.Context, activity *models.Activity) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Activity, error)
}

// TransactionRepository интерфейс для финансовых транзакций
type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Transaction, error)
	// SumCompleted суммирует завершенные транзакции типа начиная с момента since
	SumCompleted(ctx context.Context, txType models.TransactionType, since time.Time) (float64, error)
}

// TeamRepository интерфейс для командной структуры
type TeamRepository interface {
	Create(ctx context.Context, team *models.TeamStructure) error
	Get(ctx context.Context, userID int64) (*models.TeamStructure, error)
	Update(ctx context.Context, team *models.TeamStructure) error
}

// SettingRepository интерфейс для хранилища настроек
type SettingRepository interface {
	Get(ctx context.Context, key string) (*models.Setting, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
}

// querier общий набор методов pgxpool.Pool и pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// store реализует интерфейс Store поверх PostgreSQL
type store struct {
	pool   *pgxpool.Pool
	db     querier
	inTx   bool
	logger *zap.Logger

	user     UserRepository
	binary   BinaryRepository
	autopool AutopoolRepository
	pkg      PackageRepository
	income   IncomeRepository
	activity ActivityRepository
	tx       TransactionRepository
	team     TeamRepository
	setting  SettingRepository
}

// NewStore создает новое подключение к базе данных
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Создание пула подключений
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	// Настройка пула
	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w: %w", models.ErrExternalDependency, err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка проверки подключения к базе данных: %w: %w", models.ErrExternalDependency, err)
	}

	logger.Info("успешное подключение к базе данных PostgreSQL")

	return newStore(db, db, false, logger), nil
}

func newStore(pool *pgxpool.Pool, db querier, inTx bool, logger *zap.Logger) *store {
	s := &store{
		pool:   pool,
		db:     db,
		inTx:   inTx,
		logger: logger,
	}

	// Инициализация репозиториев
	// Внутри транзакции чтения агрегатов блокируют строки до фиксации
	lock := ""
	if inTx {
		lock = " FOR UPDATE"
	}

	s.user = &userRepository{db: db, lock: lock, logger: logger}
	s.binary = &binaryRepository{db: db, lock: lock}
	s.autopool = &autopoolRepository{db: db, lock: lock}
	s.pkg = &packageRepository{db: db}
	s.income = &incomeRepository{db: db}
	s.activity = &activityRepository{db: db}
	s.tx = &transactionRepository{db: db}
	s.team = &teamRepository{db: db, lock: lock}
	s.setting = &settingRepository{db: db}
	return s
}

func (s *store) User() UserRepository               { return s.user }
func (s *store) Binary() BinaryRepository           { return s.binary }
func (s *store) Autopool() AutopoolRepository       { return s.autopool }
func (s *store) Package() PackageRepository         { return s.pkg }
func (s *store) Income() IncomeRepository           { return s.income }
func (s *store) Activity() ActivityRepository       { return s.activity }
func (s *store) Transaction() TransactionRepository { return s.tx }
func (s *store) Team() TeamRepository               { return s.team }
func (s *store) Setting() SettingRepository         { return s.setting }

// InTx выполняет fn в транзакции PostgreSQL
func (s *store) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w: %w", models.ErrExternalDependency, err)
	}

	if err := fn(newStore(s.pool, tx, true, s.logger)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("ошибка отката транзакции", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w: %w", models.ErrExternalDependency, err)
	}
	return nil
}

// Close закрывает подключение к базе данных
func (s *store) Close() error {
	if s.inTx {
		return nil
	}
	s.logger.Info("закрытие подключения к базе данных")
	s.pool.Close()
	return nil
}

// notFound переводит pgx.ErrNoRows в models.ErrNotFound
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return fmt.Errorf("ошибка получения %s: %w", what, err)
}
