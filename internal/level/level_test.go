package level

import (
	"context"
	"testing"

	"compensation-engine/internal/engine"
	"compensation-engine/internal/referral"
	"compensation-engine/internal/settings"
	"compensation-engine/internal/store"
	"compensation-engine/internal/store/memory"
	"compensation-engine/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQualifies(t *testing.T) {
	assert.True(t, Qualifies(1, 1))
	assert.False(t, Qualifies(4, 5))
	assert.True(t, Qualifies(5, 5))
	assert.False(t, Qualifies(0, 1))
}

func TestDistribute(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	st := memory.New()
	svc := settings.NewService(st.Setting(), logger)

	// цепочка 7 -> 6 -> 5 -> 4 -> 3 -> 2 -> 1 -> служебный корень
	directs := map[int64]int{6: 1, 5: 2, 4: 3, 3: 3, 2: 4, 1: 6}
	for id := int64(1); id <= 7; id++ {
		referrerID := id - 1
		if referrerID == 0 {
			referrerID = settings.DefaultReferralID
		}
		require.NoError(t, st.User().Create(ctx, &models.User{
			ID: id, ReferrerID: referrerID, DirectReferrals: directs[id], IsActive: true,
		}))
	}
	buyer, err := st.User().GetByID(ctx, 7)
	require.NoError(t, err)

	deps := engine.Deps{Store: st, Settings: svc, Logger: logger}
	e := NewEngine(deps, referral.NewService(st, nil, logger))

	params, err := svc.Load(ctx)
	require.NoError(t, err)

	var incomes []*models.Income
	err = st.InTx(ctx, func(tx store.Store) error {
		var err error
		incomes, err = e.Distribute(ctx, tx, buyer, 1000, params)
		return err
	})
	require.NoError(t, err)

	got := make(map[int64]float64)
	for _, inc := range incomes {
		got[inc.UserID] = inc.Amount
	}
	// уровни 4 и 5 закрыты: у 3 и 2 недостаточно личных приглашений
	assert.Equal(t, map[int64]float64{6: 50, 5: 10, 4: 10, 1: 10}, got)

	u1, err := st.User().GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10.0, u1.Earned.Level)

	team, err := st.Team().Get(ctx, 2)
	require.NoError(t, err)
	assert.True(t, team.HasMember(5, 7))
	assert.Equal(t, 1000.0, team.LevelVolume[4])
	assert.Equal(t, 1000.0, team.TotalBusiness)

	direct, err := st.Team().Get(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, direct.DirectBusiness)
	assert.Equal(t, 1, direct.DirectTeam)
}

func TestDistributeWithoutUpline(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	st := memory.New()
	svc := settings.NewService(st.Setting(), logger)

	buyer := &models.User{ID: 1, ReferrerID: settings.DefaultReferralID, IsActive: true}
	require.NoError(t, st.User().Create(ctx, buyer))

	e := NewEngine(engine.Deps{Store: st, Settings: svc, Logger: logger}, referral.NewService(st, nil, logger))
	params, err := svc.Load(ctx)
	require.NoError(t, err)

	incomes, err := e.Distribute(ctx, st, buyer, 500, params)
	require.NoError(t, err)
	assert.Empty(t, incomes)
}

func TestShortFeeTableStillRecordsFullTeam(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	st := memory.New()
	svc := settings.NewService(st.Setting(), logger)

	// цепочка 8 -> 7 -> ... -> 1 -> служебный корень
	for id := int64(1); id <= 8; id++ {
		referrerID := id - 1
		if referrerID == 0 {
			referrerID = settings.DefaultReferralID
		}
		require.NoError(t, st.User().Create(ctx, &models.User{
			ID: id, ReferrerID: referrerID, DirectReferrals: 10, IsActive: true,
		}))
	}
	buyer, err := st.User().GetByID(ctx, 8)
	require.NoError(t, err)

	e := NewEngine(engine.Deps{Store: st, Settings: svc, Logger: logger}, referral.NewService(st, nil, logger))
	params, err := svc.Load(ctx)
	require.NoError(t, err)
	params.LevelIncomeFees = []float64{5, 1, 1}

	var incomes []*models.Income
	err = st.InTx(ctx, func(tx store.Store) error {
		var err error
		incomes, err = e.Distribute(ctx, tx, buyer, 1000, params)
		return err
	})
	require.NoError(t, err)

	paid := make([]int64, 0, len(incomes))
	for _, inc := range incomes {
		paid = append(paid, inc.UserID)
	}
	assert.Equal(t, []int64{7, 6, 5}, paid)

	top, err := st.Team().Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, top.HasMember(models.TeamDepth, 8))
	assert.Equal(t, 1000.0, top.LevelVolume[models.TeamDepth-1])
}
