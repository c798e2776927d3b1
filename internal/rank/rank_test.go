package rank

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

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		in   Snapshot
		want models.Rank
	}{
		{
			name: "нет показателей",
			want: models.RankNone,
		},
		{
			name: "silver без требований к команде",
			in:   Snapshot{SelfVolumeUSD: 100, DirectReferrals: 5, DirectVolumeUSD: 300},
			want: models.RankSilver,
		},
		{
			name: "gold требует двух участников с рангом silver",
			in:   Snapshot{SelfVolumeUSD: 250, DirectReferrals: 6, DirectVolumeUSD: 1000, RankCounts: [models.RankCount]int{0, 1, 0, 0, 0}},
			want: models.RankSilver,
		},
		{
			name: "gold",
			in:   Snapshot{SelfVolumeUSD: 250, DirectReferrals: 6, DirectVolumeUSD: 1000, RankCounts: [models.RankCount]int{3, 2, 0, 0, 0}},
			want: models.RankGold,
		},
		{
			name: "участники с рангом выше нижнего не засчитываются",
			in:   Snapshot{SelfVolumeUSD: 250, DirectReferrals: 6, DirectVolumeUSD: 1000, RankCounts: [models.RankCount]int{3, 1, 1, 0, 0}},
			want: models.RankSilver,
		},
		{
			name: "diamond",
			in:   Snapshot{SelfVolumeUSD: 1000, DirectReferrals: 10, DirectVolumeUSD: 5000, RankCounts: [models.RankCount]int{0, 0, 0, 2, 0}},
			want: models.RankDiamond,
		},
		{
			name: "diamond без двух platinum",
			in:   Snapshot{SelfVolumeUSD: 1000, DirectReferrals: 10, DirectVolumeUSD: 5000, RankCounts: [models.RankCount]int{0, 0, 0, 0, 2}},
			want: models.RankSilver,
		},
		{
			name: "недостаточно приглашений",
			in:   Snapshot{SelfVolumeUSD: 1000, DirectReferrals: 4, DirectVolumeUSD: 5000},
			want: models.RankNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.in, settings.DefaultRankRequirements))
		})
	}
}

func TestRunCyclePromotesAndShiftsReferrerCounts(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	st := memory.New()

	require.NoError(t, st.User().Create(ctx, &models.User{ID: 10, ReferrerID: settings.DefaultReferralID, IsActive: true}))
	require.NoError(t, st.User().Create(ctx, &models.User{
		ID: 11, ReferrerID: 10, DirectReferrals: 5, SelfVolume: 100, IsActive: true,
	}))
	require.NoError(t, st.Team().Create(ctx, &models.TeamStructure{UserID: 11, DirectBusiness: 300}))

	e := NewEngine(engine.Deps{
		Store:    st,
		Settings: settings.NewService(st.Setting(), logger),
		Prices:   oracle.Fixed("1"),
		Logger:   logger,
		Now:      func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	})

	preview, err := e.Preview(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, models.RankSilver, preview)

	result, err := e.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, result.Results, 2)
	assert.Equal(t, models.ReasonUnchanged, result.Results[0].Reason)
	assert.Equal(t, models.CycleSuccess, result.Results[1].Status)
	assert.Equal(t, "none -> silver", result.Results[1].Reason)

	user, err := st.User().GetByID(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, models.RankSilver, user.Rank)

	team, err := st.Team().Get(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, team.RankCounts[models.RankSilver])

	// повторный пересчет ничего не меняет
	result, err = e.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Skipped)

	// падение объема понижает ранг и возвращает счетчик
	require.NoError(t, st.Team().Update(ctx, &models.TeamStructure{UserID: 11, DirectBusiness: 10}))
	_, err = e.RunCycle(ctx)
	require.NoError(t, err)

	team, err = st.Team().Get(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, team.RankCounts[models.RankSilver])
	assert.Equal(t, 1, team.RankCounts[models.RankNone])
}
