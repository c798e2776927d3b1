package roi

import (
	"context"
	"testing"
	"time"

	"compensation-engine/internal/engine"
	"compensation-engine/internal/oracle"
	"compensation-engine/internal/settings"
	"compensation-engine/internal/store/memory"
	"compensation-engine/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	ctx    context.Context
	store  *memory.Store
	engine *Engine
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := zap.NewNop()
	st := memory.New()
	f := &fixture{
		ctx:   context.Background(),
		store: st,
		now:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(engine.Deps{
		Store:    st,
		Settings: settings.NewService(st.Setting(), logger),
		Prices:   oracle.Fixed("0.0001"),
		Logger:   logger,
		Now:      func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) addUser(t *testing.T, id int64, registered time.Time, packages ...*models.UserPackage) {
	t.Helper()
	require.NoError(t, f.store.User().Create(f.ctx, &models.User{ID: id, IsActive: true, RegisteredAt: registered}))
	for _, p := range packages {
		p.UserID = id
		p.IsActive = true
		require.NoError(t, f.store.Package().CreateUserPackage(f.ctx, p))
	}
}

func (f *fixture) user(t *testing.T, id int64) *models.User {
	t.Helper()
	u, err := f.store.User().GetByID(f.ctx, id)
	require.NoError(t, err)
	return u
}

func TestAmount(t *testing.T) {
	assert.Equal(t, 5000.0, Amount(5, 1_000_000))
	assert.Zero(t, Amount(5, 0))
}

func TestRunCycleCreditsROI(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1, f.now.AddDate(0, 0, -10), &models.UserPackage{
		TokenAmount: 1_000_000, CeilingLimit: 4_000_000, PurchasedAt: f.now.AddDate(0, 0, -10),
	})

	result, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 5000.0, result.Total)

	user := f.user(t, 1)
	assert.Equal(t, 5000.0, user.Earned.ROI)
	assert.Equal(t, f.now, user.LastROIDistributed)

	packages, err := f.store.Package().ListUserPackages(f.ctx, 1, false)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, packages[0].Earned)

	activities, err := f.store.Activity().ListByUser(f.ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, models.ActivityROI, activities[0].Type)
}

func TestSecondRunInSameIntervalIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1, f.now.AddDate(0, 0, -10), &models.UserPackage{
		TokenAmount: 1_000_000, CeilingLimit: 4_000_000,
	})

	_, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	res, err := f.engine.ProcessUser(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.CycleSkipped, res.Status)
	assert.Equal(t, models.ReasonIntervalNotElapsed, res.Reason)
	assert.Equal(t, 5000.0, f.user(t, 1).Earned.ROI)

	f.now = f.now.Add(23 * time.Hour)
	res, err = f.engine.ProcessUser(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.CycleSuccess, res.Status)
	assert.Equal(t, 10000.0, f.user(t, 1).Earned.ROI)
}

func TestCeilingIsNeverExceeded(t *testing.T) {
	f := newFixture(t)
	// первый пакет почти заполнен, излишек уходит во второй
	f.addUser(t, 1, f.now.AddDate(0, 0, -30),
		&models.UserPackage{TokenAmount: 1000, CeilingLimit: 4000, Earned: 3998, PurchasedAt: f.now.AddDate(0, 0, -30)},
		&models.UserPackage{TokenAmount: 1000, CeilingLimit: 4000, PurchasedAt: f.now.AddDate(0, 0, -1)},
	)

	res, err := f.engine.ProcessUser(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.Amount)

	packages, err := f.store.Package().ListUserPackages(f.ctx, 1, false)
	require.NoError(t, err)
	require.Len(t, packages, 2)
	assert.Equal(t, 4000.0, packages[0].Earned)
	assert.False(t, packages[0].IsActive)
	assert.NotNil(t, packages[0].CompletedAt)
	assert.Equal(t, 8.0, packages[1].Earned)
	for _, p := range packages {
		assert.LessOrEqual(t, p.Earned, p.CeilingLimit)
	}
}

func TestLastPackageOverflowIsDropped(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1, f.now.AddDate(0, 0, -30),
		&models.UserPackage{TokenAmount: 1000, CeilingLimit: 4000, Earned: 3999},
	)

	res, err := f.engine.ProcessUser(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Amount)
	assert.Equal(t, 1.0, f.user(t, 1).Earned.ROI)

	// пакет завершен: следующий период пропускается
	f.now = f.now.Add(25 * time.Hour)
	res, err = f.engine.ProcessUser(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonNoActivePackages, res.Reason)
}

func TestSkipReasons(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, 1, f.now.AddDate(0, 0, -settings.DefaultMaxROIDays), &models.UserPackage{TokenAmount: 1000, CeilingLimit: 4000})
	f.addUser(t, 2, f.now.AddDate(0, 0, -1))

	result, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	require.Len(t, result.Results, 2)
	assert.Equal(t, models.ReasonROIWindowExpired, result.Results[0].Reason)
	assert.Equal(t, models.ReasonNoActivePackages, result.Results[1].Reason)
	assert.Equal(t, 2, result.Skipped)
	assert.True(t, f.user(t, 2).LastROIDistributed.IsZero())
}
