package reward

import (
	"context"
	"testing"
	"time"

	"compensation-engine/internal/engine"
	"compensation-engine/internal/lock"
	"compensation-engine/internal/oracle"
	"compensation-engine/internal/settings"
	"compensation-engine/internal/store/memory"
	"compensation-engine/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	ctx      context.Context
	store    *memory.Store
	settings *settings.Service
	locker   *lock.Memory
	engine   *Engine
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := zap.NewNop()
	st := memory.New()
	f := &fixture{
		ctx:      context.Background(),
		store:    st,
		settings: settings.NewService(st.Setting(), logger),
		locker:   lock.NewMemory(),
		now:      time.Date(2024, 7, 7, 0, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(engine.Deps{
		Store:    st,
		Settings: f.settings,
		Prices:   oracle.Fixed("0.0001"),
		Locker:   f.locker,
		Logger:   logger,
		Now:      func() time.Time { return f.now },
	})

	ranks := map[int64]models.Rank{1: models.RankSilver, 2: models.RankSilver, 3: models.RankGold, 4: models.RankNone}
	for id := int64(1); id <= 4; id++ {
		require.NoError(t, st.User().Create(f.ctx, &models.User{ID: id, Rank: ranks[id], IsActive: true}))
	}
	return f
}

func (f *fixture) purchase(t *testing.T, amount float64, at time.Time) {
	t.Helper()
	require.NoError(t, f.store.Transaction().Create(f.ctx, &models.Transaction{
		UserID: 4, Type: models.TransactionPurchase, Status: models.TransactionCompleted, Amount: amount, CreatedAt: at,
	}))
}

func (f *fixture) earned(t *testing.T, id int64) float64 {
	t.Helper()
	u, err := f.store.User().GetByID(f.ctx, id)
	require.NoError(t, err)
	return u.Earned.Reward
}

func TestPools(t *testing.T) {
	params := &settings.Params{WeeklyRewardPercentages: settings.DefaultWeeklyRewardPercentages}
	pools := Pools(10000, params, map[models.Rank]int{models.RankSilver: 4, models.RankDiamond: 1})

	require.Len(t, pools, 4)
	assert.Equal(t, 100.0, pools[0].Amount)
	assert.Equal(t, 25.0, pools[0].Share)
	assert.Equal(t, 150.0, pools[2].Amount)
	assert.Zero(t, pools[2].Share)
	assert.Equal(t, 200.0, pools[3].Share)
}

func TestRunCycleDistributesByRank(t *testing.T) {
	f := newFixture(t)
	f.purchase(t, 10000, f.now.Add(-time.Hour))
	f.purchase(t, 5000, f.now.AddDate(0, 0, -30))

	result, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Reason)
	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 200.0, result.Total)

	assert.Equal(t, 50.0, f.earned(t, 1))
	assert.Equal(t, 50.0, f.earned(t, 2))
	assert.Equal(t, 100.0, f.earned(t, 3))
	assert.Zero(t, f.earned(t, 4))

	last, err := f.settings.Time(f.ctx, settings.KeyLastWeeklyRewardDist, time.Time{})
	require.NoError(t, err)
	assert.True(t, last.Equal(f.now))

	// до конца интервала цикл пропускается
	f.now = f.now.Add(24 * time.Hour)
	result, err = f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonIntervalNotElapsed, result.Reason)
	assert.Equal(t, 50.0, f.earned(t, 1))
}

func TestRunCycleWithoutTurnoverAdvancesMarker(t *testing.T) {
	f := newFixture(t)

	result, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonNoTurnover, result.Reason)

	last, err := f.settings.Time(f.ctx, settings.KeyLastWeeklyRewardDist, time.Time{})
	require.NoError(t, err)
	assert.True(t, last.Equal(f.now))
}

func TestRewardedUserIsNotPaidTwice(t *testing.T) {
	f := newFixture(t)
	f.purchase(t, 10000, f.now.Add(-time.Hour))

	// пользователь 1 уже получил награду в прерванном запуске
	u, err := f.store.User().GetByID(f.ctx, 1)
	require.NoError(t, err)
	u.LastRewardDistributed = f.now.Add(-time.Minute)
	require.NoError(t, f.store.User().Update(f.ctx, u))

	result, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, f.earned(t, 1))
	assert.Equal(t, 50.0, f.earned(t, 2))
}

func TestRunCycleIsExclusive(t *testing.T) {
	f := newFixture(t)
	unlock, err := f.locker.TryLock(f.ctx, cycleKey)
	require.NoError(t, err)
	defer unlock()

	result, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonLocked, result.Reason)
}
