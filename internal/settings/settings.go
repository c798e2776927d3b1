// Package settings читает настраиваемые параметры плана начислений из хранилища.
// Каждое значение хранится в JSON и имеет значение по умолчанию.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"compensation-engine/internal/store"
	"compensation-engine/pkg/models"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Ключи настроек
const (
	KeyTokenPrice               = "token_price"
	KeyDailyROIRate             = "daily_roi_rate"
	KeyMaxROIDays               = "max_roi_days"
	KeyIncomeInterval           = "income_distribution_interval"
	KeyBinaryFee                = "binary_fee"
	KeyLevelIncomeFees          = "level_income_fees"
	KeyAutopoolFees             = "autopool_fees"
	KeyWeeklyRewardInterval     = "weekly_reward_interval"
	KeyWeeklyRewardPercentages  = "weekly_reward_percentages"
	KeyLastWeeklyRewardDist     = "last_weekly_reward_dist"
	KeyWithdrawalFee            = "withdrawal_fee"
	KeyMinWithdrawal            = "min_withdrawal"
	KeyDefaultReferralID        = "default_referral_id"
	KeyRankRequirements         = "rank_requirements"
	KeyPackageCeilingMultiplier = "package_ceiling_multiplier"
)

// Значения по умолчанию
const (
	DefaultTokenPrice               = "0.00011"
	DefaultDailyROIRate             = 5.0
	DefaultMaxROIDays               = 400
	DefaultIncomeInterval           = 24 * time.Hour
	DefaultBinaryFee                = 10.0
	DefaultWeeklyRewardInterval     = 7 * 24 * time.Hour
	DefaultWithdrawalFee            = 10.0
	DefaultMinWithdrawal            = 10.0
	DefaultReferralID               = int64(103115)
	DefaultPackageCeilingMultiplier = 4.0
)

var (
	DefaultLevelIncomeFees         = []float64{5, 1, 1, 1, 1, 1, 5}
	DefaultAutopoolFees            = []float64{0.05, 0.05, 0.075, 0.0375, 0.01875, 0.01875, 0.00625, 0.00625, 0.00625, 0.00625, 0.00625, 0.0125}
	DefaultWeeklyRewardPercentages = []float64{1, 1, 1.5, 2}
	DefaultPackagePrices           = []float64{2.5, 5, 10, 25, 50, 100, 250, 500, 1000}
	DefaultRankRequirements        = []RankRequirement{
		{Rank: models.RankDiamond, SelfVolumeUSD: 1000, DirectReferrals: 10, DirectVolumeUSD: 5000, LowerRankMembers: 2},
		{Rank: models.RankPlatinum, SelfVolumeUSD: 500, DirectReferrals: 8, DirectVolumeUSD: 2500, LowerRankMembers: 2},
		{Rank: models.RankGold, SelfVolumeUSD: 250, DirectReferrals: 6, DirectVolumeUSD: 1000, LowerRankMembers: 2},
		{Rank: models.RankSilver, SelfVolumeUSD: 100, DirectReferrals: 5, DirectVolumeUSD: 300, LowerRankMembers: 0},
	}
)

// RankRequirement пороги квалификации ранга
type RankRequirement struct {
	Rank             models.Rank `json:"rank" validate:"min=1,max=4"`
	SelfVolumeUSD    float64     `json:"self_volume_usd" validate:"gte=0"`
	DirectReferrals  int         `json:"direct_referrals" validate:"gte=0"`
	DirectVolumeUSD  float64     `json:"direct_volume_usd" validate:"gte=0"`
	LowerRankMembers int         `json:"lower_rank_members" validate:"gte=0"`
}

// Params снимок параметров плана на момент чтения
type Params struct {
	DailyROIRate             float64
	MaxROIDays               int
	IncomeInterval           time.Duration
	BinaryFee                float64
	LevelIncomeFees          []float64
	AutopoolFees             []float64
	WeeklyRewardInterval     time.Duration
	WeeklyRewardPercentages  []float64 // индекс 0 соответствует Silver
	WithdrawalFee            float64
	MinWithdrawal            float64
	DefaultReferralID        int64
	PackageCeilingMultiplier float64
	RankRequirements         []RankRequirement
}

// MaxROIWindow возвращает длительность окна начисления ROI
func (p *Params) MaxROIWindow() time.Duration {
	return time.Duration(p.MaxROIDays) * 24 * time.Hour
}

// WeeklyRewardPercent возвращает процент еженедельной награды для ранга
func (p *Params) WeeklyRewardPercent(rank models.Rank) float64 {
	idx := int(rank) - 1
	if idx < 0 || idx >= len(p.WeeklyRewardPercentages) {
		return 0
	}
	return p.WeeklyRewardPercentages[idx]
}

// Service читает и записывает настройки
type Service struct {
	repo     store.SettingRepository
	validate *validator.Validate
	logger   *zap.Logger
}

// NewService создает сервис настроек
func NewService(repo store.SettingRepository, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(),
		logger:   logger,
	}
}

// Load возвращает снимок всех параметров плана
func (s *Service) Load(ctx context.Context) (*Params, error) {
	p := &Params{}
	var err error

	if p.DailyROIRate, err = s.Float(ctx, KeyDailyROIRate, DefaultDailyROIRate); err != nil {
		return nil, err
	}
	maxDays, err := s.Float(ctx, KeyMaxROIDays, DefaultMaxROIDays)
	if err != nil {
		return nil, err
	}
	p.MaxROIDays = int(maxDays)
	if p.IncomeInterval, err = s.Duration(ctx, KeyIncomeInterval, DefaultIncomeInterval); err != nil {
		return nil, err
	}
	if p.BinaryFee, err = s.Float(ctx, KeyBinaryFee, DefaultBinaryFee); err != nil {
		return nil, err
	}
	if p.LevelIncomeFees, err = s.Floats(ctx, KeyLevelIncomeFees, DefaultLevelIncomeFees); err != nil {
		return nil, err
	}
	if p.AutopoolFees, err = s.Floats(ctx, KeyAutopoolFees, DefaultAutopoolFees); err != nil {
		return nil, err
	}
	if p.WeeklyRewardInterval, err = s.Duration(ctx, KeyWeeklyRewardInterval, DefaultWeeklyRewardInterval); err != nil {
		return nil, err
	}
	if p.WeeklyRewardPercentages, err = s.Floats(ctx, KeyWeeklyRewardPercentages, DefaultWeeklyRewardPercentages); err != nil {
		return nil, err
	}
	if p.WithdrawalFee, err = s.Float(ctx, KeyWithdrawalFee, DefaultWithdrawalFee); err != nil {
		return nil, err
	}
	if p.MinWithdrawal, err = s.Float(ctx, KeyMinWithdrawal, DefaultMinWithdrawal); err != nil {
		return nil, err
	}
	refID, err := s.Float(ctx, KeyDefaultReferralID, float64(DefaultReferralID))
	if err != nil {
		return nil, err
	}
	p.DefaultReferralID = int64(refID)
	if p.PackageCeilingMultiplier, err = s.Float(ctx, KeyPackageCeilingMultiplier, DefaultPackageCeilingMultiplier); err != nil {
		return nil, err
	}
	if p.RankRequirements, err = s.RankRequirements(ctx); err != nil {
		return nil, err
	}

	return p, nil
}

// Float читает числовую настройку
func (s *Service) Float(ctx context.Context, key string, def float64) (float64, error) {
	return read(ctx, s, key, def)
}

// Floats читает массив чисел
func (s *Service) Floats(ctx context.Context, key string, def []float64) ([]float64, error) {
	return read(ctx, s, key, append([]float64(nil), def...))
}

// String читает строковую настройку
func (s *Service) String(ctx context.Context, key, def string) (string, error) {
	return read(ctx, s, key, def)
}

// Duration читает интервал, заданный в миллисекундах
func (s *Service) Duration(ctx context.Context, key string, def time.Duration) (time.Duration, error) {
	ms, err := read(ctx, s, key, float64(def.Milliseconds()))
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Time читает момент времени в формате RFC3339
func (s *Service) Time(ctx context.Context, key string, def time.Time) (time.Time, error) {
	return read(ctx, s, key, def)
}

// RankRequirements читает пороги рангов и проверяет их корректность
func (s *Service) RankRequirements(ctx context.Context) ([]RankRequirement, error) {
	defaults := append([]RankRequirement(nil), DefaultRankRequirements...)
	reqs, err := read(ctx, s, KeyRankRequirements, defaults)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		if err := s.validate.Struct(reqs[i]); err != nil {
			s.logger.Warn("некорректные пороги рангов, используем значения по умолчанию", zap.Error(err))
			return defaults, nil
		}
	}
	return reqs, nil
}

// Set сохраняет значение настройки
func (s *Service) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("ошибка сериализации настройки %s: %w", key, err)
	}
	if err := s.repo.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("%w: %w", models.ErrExternalDependency, err)
	}
	return nil
}

// read декодирует значение настройки. Отсутствующая или некорректная настройка дает def.
func read[T any](ctx context.Context, s *Service, key string, def T) (T, error) {
	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return def, nil
		}
		var zero T
		return zero, fmt.Errorf("ошибка чтения настройки %s: %w: %w", key, models.ErrExternalDependency, err)
	}

	var v T
	if err := json.Unmarshal(setting.Value, &v); err != nil {
		s.logger.Warn("некорректное значение настройки, используем значение по умолчанию",
			zap.String("key", key),
			zap.ByteString("value", setting.Value),
			zap.Error(err))
		return def, nil
	}
	return v, nil
}
